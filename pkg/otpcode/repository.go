package otpcode

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-otp/pkg/userstore"
)

// MetaKeyPendingCode is the user meta key holding the pending code record
const MetaKeyPendingCode = "otp_pending_code"

// PendingCode is the single outstanding code for a user
type PendingCode struct {
	Code      string    `json:"code"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CodeRepository persists at most one pending code per user
type CodeRepository interface {
	// Save stores the pending code, replacing any previous one
	Save(ctx context.Context, userID uuid.UUID, code PendingCode) error

	// Get returns the pending code, or ErrCodeNotFound
	Get(ctx context.Context, userID uuid.UUID) (PendingCode, error)

	// Delete removes the pending code. Deleting an absent code is not an
	// error.
	Delete(ctx context.Context, userID uuid.UUID) error
}

// MetaCodeRepository stores pending codes as user meta
type MetaCodeRepository struct {
	store userstore.UserStore
}

// NewMetaCodeRepository creates a code repository backed by user meta
func NewMetaCodeRepository(store userstore.UserStore) *MetaCodeRepository {
	return &MetaCodeRepository{store: store}
}

// Save stores the pending code
func (r *MetaCodeRepository) Save(ctx context.Context, userID uuid.UUID, code PendingCode) error {
	data, err := json.Marshal(code)
	if err != nil {
		return fmt.Errorf("failed to marshal pending code: %w", err)
	}
	if err := r.store.SetMeta(ctx, userID, MetaKeyPendingCode, string(data)); err != nil {
		return fmt.Errorf("failed to store pending code: %w", err)
	}
	return nil
}

// Get returns the pending code
func (r *MetaCodeRepository) Get(ctx context.Context, userID uuid.UUID) (PendingCode, error) {
	raw, err := r.store.GetMeta(ctx, userID, MetaKeyPendingCode)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			return PendingCode{}, ErrCodeNotFound
		}
		return PendingCode{}, fmt.Errorf("failed to load pending code: %w", err)
	}

	var code PendingCode
	if err := json.Unmarshal([]byte(raw), &code); err != nil {
		return PendingCode{}, fmt.Errorf("failed to unmarshal pending code: %w", err)
	}
	return code, nil
}

// Delete removes the pending code
func (r *MetaCodeRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	return r.store.DeleteMeta(ctx, userID, MetaKeyPendingCode)
}

// InMemCodeRepository stores pending codes in memory, for tests
type InMemCodeRepository struct {
	codes map[uuid.UUID]PendingCode
	mutex sync.RWMutex
}

// NewInMemCodeRepository creates a new in-memory code repository
func NewInMemCodeRepository() *InMemCodeRepository {
	return &InMemCodeRepository{
		codes: make(map[uuid.UUID]PendingCode),
	}
}

// Save stores the pending code
func (r *InMemCodeRepository) Save(ctx context.Context, userID uuid.UUID, code PendingCode) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.codes[userID] = code
	return nil
}

// Get returns the pending code
func (r *InMemCodeRepository) Get(ctx context.Context, userID uuid.UUID) (PendingCode, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	code, exists := r.codes[userID]
	if !exists {
		return PendingCode{}, ErrCodeNotFound
	}
	return code, nil
}

// Delete removes the pending code
func (r *InMemCodeRepository) Delete(ctx context.Context, userID uuid.UUID) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.codes, userID)
	return nil
}
