package gateway

import (
	"context"
	"log/slog"
	"time"
)

// SandboxChannel wraps a channel and logs messages instead of sending
// them. Identifier handling is delegated to the wrapped channel so
// sanitization and validation behave exactly as in production.
type SandboxChannel struct {
	inner  Channel
	logger *slog.Logger
}

// NewSandboxChannel wraps a channel for sandbox operation
func NewSandboxChannel(inner Channel, logger *slog.Logger) *SandboxChannel {
	if logger == nil {
		logger = slog.Default()
	}
	return &SandboxChannel{inner: inner, logger: logger}
}

// ID returns the wrapped channel's ID
func (c *SandboxChannel) ID() string {
	return c.inner.ID()
}

// Sanitize delegates to the wrapped channel
func (c *SandboxChannel) Sanitize(raw string) string {
	return c.inner.Sanitize(raw)
}

// IsValid delegates to the wrapped channel
func (c *SandboxChannel) IsValid(identifier string) bool {
	return c.inner.IsValid(identifier)
}

// BuildMessage delegates to the wrapped channel
func (c *SandboxChannel) BuildMessage(code string, expiresAt time.Time) Message {
	return c.inner.BuildMessage(code, expiresAt)
}

// Dispatch logs the message and reports success without sending
func (c *SandboxChannel) Dispatch(ctx context.Context, identifier string, msg Message) error {
	c.logger.Info("sandbox dispatch",
		"channel", c.inner.ID(),
		"to", identifier,
		"subject", msg.Subject,
		"body", msg.Body)
	return nil
}
