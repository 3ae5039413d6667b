package gate

import (
	"time"

	"github.com/google/uuid"
)

// Mode identifies a gating mode. The set is closed: the gate dispatches
// on these values only.
type Mode string

const (
	ModeTwoFactor    Mode = "twofactor"
	ModeValidation   Mode = "validation"
	ModePasswordless Mode = "passwordless"
)

// known reports whether the mode is one the gate dispatches on
func (m Mode) known() bool {
	switch m {
	case ModeTwoFactor, ModeValidation, ModePasswordless:
		return true
	}
	return false
}

// Decision says which mode currently gates a caller, if any
type Decision struct {
	Mode        Mode
	RedirectURL string
}

// CodeRequest asks for a code to be issued and dispatched
type CodeRequest struct {
	Mode Mode
	// UserID identifies an authenticated caller. Zero for passwordless.
	UserID uuid.UUID
	// Identifier is the submitted identifier, used by passwordless to
	// resolve the user
	Identifier string
	// Channel selects the delivery channel; empty means the default
	Channel string
}

// RequestResult reports a dispatched code
type RequestResult struct {
	Mode Mode
	// Channel the code went out on
	Channel string
	// Identifier is the masked destination
	Identifier string
	// ExpiresAt is when the code stops being accepted
	ExpiresAt time.Time
}

// VerifyRequest submits a code for checking
type VerifyRequest struct {
	Mode       Mode
	UserID     uuid.UUID
	Identifier string
	Channel    string
	Code       string
}

// VerifyResult reports a passed check
type VerifyResult struct {
	Mode        Mode
	UserID      uuid.UUID
	RedirectURL string
}

// SetIdentifierRequest stores an identifier for a user
type SetIdentifierRequest struct {
	UserID     uuid.UUID
	Channel    string
	Identifier string
}

// SetIdentifierResult reports the stored identifier and the mode that now
// gates the user, if any
type SetIdentifierResult struct {
	Identifier string
	Decision   *Decision
}
