package gateway

import "strings"

// MaskEmail hides most of an email's local part, keeping the first and
// last character when long enough
func MaskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return email
	}
	local, domain := email[:at], email[at:]
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + domain
}

// MaskPhone hides all but the last two digits of a phone number
func MaskPhone(phone string) string {
	if len(phone) <= 2 {
		return phone
	}
	visible := phone[len(phone)-2:]
	masked := make([]byte, 0, len(phone))
	for i := 0; i < len(phone)-2; i++ {
		if phone[i] == '+' {
			masked = append(masked, '+')
		} else {
			masked = append(masked, '*')
		}
	}
	return string(masked) + visible
}
