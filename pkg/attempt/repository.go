package attempt

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// UpdateFunc transforms a user's counters. It must be side-effect free:
// a repository may call it more than once when the update races.
type UpdateFunc func(Counters) Counters

// Repository persists per-user attempt counters. Update applies the
// transform atomically with respect to concurrent updates for the same
// user.
type Repository interface {
	// Get returns the stored counters, zero-valued if none exist
	Get(ctx context.Context, userID uuid.UUID) (Counters, error)

	// Update atomically transforms the stored counters and returns the
	// result
	Update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (Counters, error)

	// Delete removes the stored counters
	Delete(ctx context.Context, userID uuid.UUID) error
}

// InMemRepository implements Repository with in-memory storage
type InMemRepository struct {
	counters map[uuid.UUID]Counters
	mutex    sync.Mutex
}

// NewInMemRepository creates a new in-memory attempt repository
func NewInMemRepository() *InMemRepository {
	return &InMemRepository{
		counters: make(map[uuid.UUID]Counters),
	}
}

// Get returns the stored counters, zero-valued if none exist
func (r *InMemRepository) Get(ctx context.Context, userID uuid.UUID) (Counters, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.counters[userID], nil
}

// Update atomically transforms the stored counters
func (r *InMemRepository) Update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (Counters, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	updated := fn(r.counters[userID])
	r.counters[userID] = updated
	return updated, nil
}

// Delete removes the stored counters
func (r *InMemRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.counters, userID)
	return nil
}
