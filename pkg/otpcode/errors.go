package otpcode

import "errors"

var (
	// ErrCodeNotFound is returned when no pending code exists for a user
	ErrCodeNotFound = errors.New("no pending code")
	// ErrCodeExpired is returned when the pending code has expired
	ErrCodeExpired = errors.New("code expired")
	// ErrCodeMismatch is returned when the submitted code does not match
	ErrCodeMismatch = errors.New("code mismatch")
)
