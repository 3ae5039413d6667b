package userstore

import (
	"context"

	"github.com/google/uuid"
)

// User represents an account known to the gating system
type User struct {
	ID    uuid.UUID `json:"id"`
	Login string    `json:"login"`
	Email string    `json:"email"`
	Roles []string  `json:"roles"`
}

// UserStore provides per-user metadata persistence and user resolution.
// All OTP state (pending codes, attempt counters, mode flags, identifiers)
// is stored as user meta so any backing store can serve the gate.
type UserStore interface {
	// GetUser retrieves a user by ID
	GetUser(ctx context.Context, userID uuid.UUID) (User, error)

	// FindUserByLogin retrieves a user by login name
	FindUserByLogin(ctx context.Context, login string) (User, error)

	// GetMeta retrieves a meta value for a user. Returns ErrMetaNotFound
	// if the key has no value.
	GetMeta(ctx context.Context, userID uuid.UUID, key string) (string, error)

	// SetMeta stores a meta value for a user, replacing any previous value
	SetMeta(ctx context.Context, userID uuid.UUID, key, value string) error

	// DeleteMeta removes a meta value for a user. Deleting an absent key
	// is not an error.
	DeleteMeta(ctx context.Context, userID uuid.UUID, key string) error

	// FindUserByMeta resolves the single user owning the given meta value.
	// Returns ErrUserNotFound when no user matches and ErrDuplicateOwner
	// when more than one does.
	FindUserByMeta(ctx context.Context, key, value string) (User, error)

	// GetRoles returns the role slugs assigned to a user
	GetRoles(ctx context.Context, userID uuid.UUID) ([]string, error)
}
