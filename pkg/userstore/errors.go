package userstore

import "errors"

var (
	// ErrUserNotFound is returned when a user cannot be resolved
	ErrUserNotFound = errors.New("user not found")
	// ErrMetaNotFound is returned when a meta key has no value for a user
	ErrMetaNotFound = errors.New("meta key not found")
	// ErrDuplicateOwner is returned when a meta value resolves to more than one user
	ErrDuplicateOwner = errors.New("meta value owned by multiple users")
)
