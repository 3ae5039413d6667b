package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"

	"github.com/tendant/simple-otp/pkg/notification"
)

// SMTPConfig holds the SMTP connection settings for the email channel
type SMTPConfig struct {
	Host     string
	Port     int
	TLS      bool
	Username string
	Password string
	From     string
}

// EmailChannel delivers codes by email over SMTP
type EmailChannel struct {
	config  SMTPConfig
	client  *gomail.Client
	notices *notification.Manager
	logger  *slog.Logger
}

// NewEmailChannel creates an email channel from SMTP settings. A nil
// notices manager falls back to the built-in templates.
func NewEmailChannel(config SMTPConfig, notices *notification.Manager, logger *slog.Logger) (*EmailChannel, error) {
	opts := []gomail.Option{
		gomail.WithPort(config.Port),
		gomail.WithTimeout(30 * time.Second),
	}

	if config.Username != "" && config.Password != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthLogin),
			gomail.WithUsername(config.Username),
			gomail.WithPassword(config.Password),
		)
	}

	if config.TLS {
		opts = append(opts,
			gomail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			gomail.WithTLSPolicy(gomail.TLSMandatory),
		)
	} else {
		opts = append(opts,
			gomail.WithTLSConfig(&tls.Config{InsecureSkipVerify: true}),
			gomail.WithTLSPolicy(gomail.NoTLS),
		)
	}

	client, err := gomail.NewClient(config.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create mail client: %w", err)
	}

	if notices == nil {
		notices = notification.NewDefaultManager()
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &EmailChannel{config: config, client: client, notices: notices, logger: logger}, nil
}

// ID returns "email"
func (c *EmailChannel) ID() string {
	return "email"
}

// Sanitize trims whitespace and lowercases the address
func (c *EmailChannel) Sanitize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// IsValid reports whether the identifier parses as an email address
func (c *EmailChannel) IsValid(identifier string) bool {
	if identifier == "" {
		return false
	}
	addr, err := mail.ParseAddress(identifier)
	return err == nil && addr.Address == identifier
}

// BuildMessage renders the code email from the registered template
func (c *EmailChannel) BuildMessage(code string, expiresAt time.Time) Message {
	notice, err := c.notices.Render(notification.NoticeOTPCode, c.ID(), map[string]string{
		"Code":   code,
		"Expiry": expiresAt.Format("15:04 MST"),
	})
	if err != nil {
		c.logger.Error("failed to render code notice", "err", err)
		return Message{
			Subject: "Your verification code",
			Body:    fmt.Sprintf("Your verification code is %s", code),
		}
	}
	return Message{Subject: notice.Subject, Body: notice.Text, HTMLBody: notice.Html}
}

// Dispatch sends the code email
func (c *EmailChannel) Dispatch(ctx context.Context, identifier string, msg Message) error {
	m := gomail.NewMsg()
	if err := m.From(c.config.From); err != nil {
		return fmt.Errorf("failed to set from address: %w", err)
	}
	if err := m.To(identifier); err != nil {
		return fmt.Errorf("failed to set to address: %w", err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextPlain, msg.Body)
	if msg.HTMLBody != "" {
		m.AddAlternativeString(gomail.TypeTextHTML, msg.HTMLBody)
	}

	if err := c.client.DialAndSendWithContext(ctx, m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	c.logger.Info("email dispatched", "to", MaskEmail(identifier), "host", c.config.Host)
	return nil
}
