package auditlog

import (
	"context"
)

// Repository persists audit entries
type Repository interface {
	// Insert stores an entry
	Insert(ctx context.Context, entry Entry) error

	// List returns the newest entries, up to limit, newest first
	List(ctx context.Context, limit int) ([]Entry, error)

	// Count returns the number of stored entries
	Count(ctx context.Context) (int64, error)

	// Trim deletes all but the newest keep entries
	Trim(ctx context.Context, keep int) error
}
