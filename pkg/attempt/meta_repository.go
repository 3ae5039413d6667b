package attempt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/tendant/simple-otp/pkg/userstore"
)

// MetaKeyCounters is the user meta key holding the serialized counters
const MetaKeyCounters = "otp_attempt_counters"

// MetaRepository implements Repository on top of user meta storage.
// Update atomicity is process-local; deployments with multiple instances
// should use RedisRepository instead.
type MetaRepository struct {
	store userstore.UserStore
	mutex sync.Mutex
}

// NewMetaRepository creates an attempt repository backed by user meta
func NewMetaRepository(store userstore.UserStore) *MetaRepository {
	return &MetaRepository{store: store}
}

// Get returns the stored counters, zero-valued if none exist
func (r *MetaRepository) Get(ctx context.Context, userID uuid.UUID) (Counters, error) {
	raw, err := r.store.GetMeta(ctx, userID, MetaKeyCounters)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			return Counters{}, nil
		}
		return Counters{}, fmt.Errorf("failed to get counters: %w", err)
	}

	var counters Counters
	if err := json.Unmarshal([]byte(raw), &counters); err != nil {
		return Counters{}, fmt.Errorf("failed to unmarshal counters: %w", err)
	}
	return counters, nil
}

// Update atomically transforms the stored counters
func (r *MetaRepository) Update(ctx context.Context, userID uuid.UUID, fn UpdateFunc) (Counters, error) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	counters, err := r.Get(ctx, userID)
	if err != nil {
		return Counters{}, err
	}

	updated := fn(counters)

	data, err := json.Marshal(updated)
	if err != nil {
		return Counters{}, fmt.Errorf("failed to marshal counters: %w", err)
	}
	if err := r.store.SetMeta(ctx, userID, MetaKeyCounters, string(data)); err != nil {
		return Counters{}, fmt.Errorf("failed to save counters: %w", err)
	}
	return updated, nil
}

// Delete removes the stored counters
func (r *MetaRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	return r.store.DeleteMeta(ctx, userID, MetaKeyCounters)
}
