package gateway

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/tendant/simple-otp/pkg/notification"
)

// TwilioConfig holds Twilio credentials and sender settings
type TwilioConfig struct {
	AccountSid string `env:"TWILIO_ACCOUNT_SID"`
	AuthToken  string `env:"TWILIO_AUTH_TOKEN"`
	From       string `env:"TWILIO_FROM" env-default:"+15005550006"`
	// CountryPrefix replaces a leading "0" in national numbers, e.g. "+1"
	CountryPrefix string `env:"OTP_COUNTRY_PREFIX" env-default:"+1"`
}

var phonePattern = regexp.MustCompile(`^\+[1-9][0-9]{7,14}$`)

// PhoneChannel delivers codes by SMS through Twilio
type PhoneChannel struct {
	client  *twilio.RestClient
	config  TwilioConfig
	notices *notification.Manager
	logger  *slog.Logger
}

// NewPhoneChannel creates an SMS channel from Twilio settings. A nil
// notices manager falls back to the built-in templates.
func NewPhoneChannel(config TwilioConfig, notices *notification.Manager, logger *slog.Logger) *PhoneChannel {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSid,
		Password: config.AuthToken,
	})
	if notices == nil {
		notices = notification.NewDefaultManager()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &PhoneChannel{client: client, config: config, notices: notices, logger: logger}
}

// ID returns "phone"
func (c *PhoneChannel) ID() string {
	return "phone"
}

// Sanitize normalizes a phone number toward E.164: separators are
// stripped, a "00" international prefix becomes "+", and a national
// leading "0" is replaced by the configured country prefix. Sanitizing
// an already sanitized number returns it unchanged.
func (c *PhoneChannel) Sanitize(raw string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		} else if r == '+' && i == 0 {
			b.WriteRune(r)
		}
	}
	number := b.String()

	switch {
	case number == "":
		return ""
	case strings.HasPrefix(number, "+"):
		return number
	case strings.HasPrefix(number, "00"):
		return "+" + number[2:]
	case strings.HasPrefix(number, "0"):
		return c.config.CountryPrefix + number[1:]
	default:
		return c.config.CountryPrefix + number
	}
}

// IsValid reports whether the identifier is an E.164 phone number
func (c *PhoneChannel) IsValid(identifier string) bool {
	return phonePattern.MatchString(identifier)
}

// BuildMessage renders the code SMS from the registered template
func (c *PhoneChannel) BuildMessage(code string, expiresAt time.Time) Message {
	notice, err := c.notices.Render(notification.NoticeOTPCode, c.ID(), map[string]string{
		"Code":   code,
		"Expiry": expiresAt.Format("15:04 MST"),
	})
	if err != nil {
		c.logger.Error("failed to render code notice", "err", err)
		return Message{Body: fmt.Sprintf("Your verification code is %s", code)}
	}
	return Message{Body: notice.Text}
}

// Dispatch sends the code SMS
func (c *PhoneChannel) Dispatch(ctx context.Context, identifier string, msg Message) error {
	params := &twilioApi.CreateMessageParams{}
	params.SetTo(identifier)
	params.SetFrom(c.config.From)
	params.SetBody(msg.Body)

	resp, err := c.client.Api.CreateMessage(params)
	if err != nil {
		return fmt.Errorf("failed to send sms: %w", err)
	}

	c.logger.Info("sms dispatched", "to", MaskPhone(identifier), "response", resp)
	return nil
}
