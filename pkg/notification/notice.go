package notification

// NoticeType identifies a kind of notice the system sends
type NoticeType string

const (
	// NoticeOTPCode carries a verification code to the user
	NoticeOTPCode NoticeType = "otp_code"
	// NoticeBlocked warns the user their account is temporarily locked
	NoticeBlocked NoticeType = "blocked"
)

// NoticeTemplate holds the renderable parts of a notice. Text is required;
// Subject and Html apply to channels that support them.
type NoticeTemplate struct {
	Subject string
	Text    string
	Html    string
}

// Notice is a rendered notice ready for a channel to send
type Notice struct {
	Subject string
	Text    string
	Html    string
}
