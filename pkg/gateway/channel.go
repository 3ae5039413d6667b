package gateway

import (
	"context"
	"time"
)

// Message is a rendered code notification ready for dispatch
type Message struct {
	Subject  string
	Body     string
	HTMLBody string
}

// Channel delivers codes over one transport. Implementations own their
// identifier format: how a raw input is normalized, what counts as valid,
// and how a code message reads on that transport.
type Channel interface {
	// ID returns the channel's stable identifier, e.g. "email" or "phone"
	ID() string

	// Sanitize normalizes a raw identifier. It is idempotent: sanitizing
	// an already sanitized identifier returns it unchanged.
	Sanitize(raw string) string

	// IsValid reports whether a sanitized identifier is deliverable
	IsValid(identifier string) bool

	// BuildMessage renders the notification for a code and its expiry
	BuildMessage(code string, expiresAt time.Time) Message

	// Dispatch sends the message to the identifier
	Dispatch(ctx context.Context, identifier string, msg Message) error
}
