package gateway

import "errors"

var (
	// ErrUnknownChannel is returned when no channel is registered under the
	// requested ID
	ErrUnknownChannel = errors.New("unknown gateway channel")
	// ErrInvalidIdentifier is returned when an identifier fails validation
	ErrInvalidIdentifier = errors.New("invalid identifier")
	// ErrDuplicateIdentifier is returned when an identifier already belongs
	// to another user
	ErrDuplicateIdentifier = errors.New("identifier already in use")
)
