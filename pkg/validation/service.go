package validation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/tendant/simple-otp/pkg/userstore"
)

// User meta keys holding the validation state
const (
	MetaKeyRecord   = "otp_validated"
	MetaKeyNeed     = "otp_need_account_validation"
	MetaKeyForce    = "otp_force_account_validation"
	MetaKeySession  = "otp_session_validated"
	MetaKeyRedirect = "otp_validation_redirect"
)

// ErrNotValidated is returned when no validation record exists
var ErrNotValidated = errors.New("account not validated")

// Expiry policy values for Config.Expiry
const (
	// ExpiryNever keeps a validation valid forever
	ExpiryNever = -1
	// ExpiryPerSession invalidates a validation when the session ends
	ExpiryPerSession = 0
)

// Record is the stored proof of a completed validation. A zero ExpiresAt
// means the validation never expires.
type Record struct {
	ValidatedAt time.Time `json:"validated_at"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// Config controls the account validation mode
type Config struct {
	// Enabled turns the mode on globally
	Enabled bool
	// Expiry is ExpiryNever, ExpiryPerSession, or a positive number of
	// hours a validation stays valid
	Expiry int
	// ExcludeRoles lists role slugs never asked to validate
	ExcludeRoles []string
}

// Service is the account validation mode controller
type Service struct {
	store  userstore.UserStore
	config Config
	logger *slog.Logger
	now    func() time.Time
}

// Option configures the service
type Option func(*Service)

// WithClock sets the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates an account validation controller
func NewService(store userstore.UserStore, config Config, logger *slog.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{
		store:  store,
		config: config,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enabled reports whether the mode is on globally
func (s *Service) Enabled() bool {
	return s.config.Enabled
}

func (s *Service) getFlag(ctx context.Context, userID uuid.UUID, key string) (bool, error) {
	value, err := s.store.GetMeta(ctx, userID, key)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read flag %s: %w", key, err)
	}
	return value == "1", nil
}

func (s *Service) setFlag(ctx context.Context, userID uuid.UUID, key string, on bool) error {
	if !on {
		return s.store.DeleteMeta(ctx, userID, key)
	}
	return s.store.SetMeta(ctx, userID, key, "1")
}

// record loads the stored validation record
func (s *Service) record(ctx context.Context, userID uuid.UUID) (Record, error) {
	raw, err := s.store.GetMeta(ctx, userID, MetaKeyRecord)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			return Record{}, ErrNotValidated
		}
		return Record{}, fmt.Errorf("failed to read validation record: %w", err)
	}

	var record Record
	if err := json.Unmarshal([]byte(raw), &record); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal validation record: %w", err)
	}
	return record, nil
}

// excluded reports whether any of the user's roles is exempt from
// validation
func (s *Service) excluded(ctx context.Context, userID uuid.UUID) (bool, error) {
	if len(s.config.ExcludeRoles) == 0 {
		return false, nil
	}
	roles, err := s.store.GetRoles(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to read roles: %w", err)
	}
	for _, role := range roles {
		if slices.Contains(s.config.ExcludeRoles, role) {
			return true, nil
		}
	}
	return false, nil
}

// Validated reports whether the user currently holds a valid validation.
// Under the per-session policy the record only counts inside the session
// that produced it; the session marker decides, the record stays put.
func (s *Service) Validated(ctx context.Context, userID uuid.UUID) (bool, error) {
	record, err := s.record(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrNotValidated) {
			return false, nil
		}
		return false, err
	}
	if s.config.Expiry == ExpiryPerSession {
		return s.getFlag(ctx, userID, MetaKeySession)
	}
	if record.ExpiresAt.IsZero() {
		return true, nil
	}
	return s.now().Before(record.ExpiresAt), nil
}

// ValidationExpiry returns when the current validation lapses. A zero
// time means it never does. Returns ErrNotValidated when there is none.
func (s *Service) ValidationExpiry(ctx context.Context, userID uuid.UUID) (time.Time, error) {
	record, err := s.record(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	return record.ExpiresAt, nil
}

// Required decides whether the user must validate now. Excluded roles are
// exempt, but a pending force overrides the exemption for that one check.
func (s *Service) Required(ctx context.Context, userID uuid.UUID) (bool, error) {
	if !s.config.Enabled {
		return false, nil
	}

	forced, err := s.getFlag(ctx, userID, MetaKeyForce)
	if err != nil {
		return false, err
	}

	excluded, err := s.excluded(ctx, userID)
	if err != nil {
		return false, err
	}
	if excluded && !forced {
		return false, nil
	}
	if forced {
		return true, nil
	}

	validated, err := s.Validated(ctx, userID)
	if err != nil {
		return false, err
	}
	return !validated, nil
}

// OnLogin arms or clears the gate for the new session. A session marker
// left behind by a session that never closed cleanly is dropped first, so
// a per-session validation can never carry over.
func (s *Service) OnLogin(ctx context.Context, userID uuid.UUID) error {
	if !s.config.Enabled {
		return nil
	}
	if s.config.Expiry == ExpiryPerSession {
		if err := s.setFlag(ctx, userID, MetaKeySession, false); err != nil {
			return err
		}
	}
	required, err := s.Required(ctx, userID)
	if err != nil {
		return err
	}
	return s.setFlag(ctx, userID, MetaKeyNeed, required)
}

// OnSessionEnd retires a per-session validation when the session closes.
// The record itself is kept; only the session marker goes.
func (s *Service) OnSessionEnd(ctx context.Context, userID uuid.UUID) error {
	if s.config.Expiry != ExpiryPerSession {
		return nil
	}
	return s.setFlag(ctx, userID, MetaKeySession, false)
}

// Gated reports whether the current session is held behind validation
func (s *Service) Gated(ctx context.Context, userID uuid.UUID) (bool, error) {
	if !s.config.Enabled {
		return false, nil
	}
	return s.getFlag(ctx, userID, MetaKeyNeed)
}

// ForceValidation demands a fresh validation regardless of any existing
// record. Wired as an identifier-changed listener: a new identifier must
// be proven before it is trusted.
func (s *Service) ForceValidation(ctx context.Context, userID uuid.UUID) error {
	if err := s.setFlag(ctx, userID, MetaKeyForce, true); err != nil {
		return err
	}
	if err := s.setFlag(ctx, userID, MetaKeyNeed, true); err != nil {
		return err
	}

	s.logger.Info("validation forced", "user_id", userID)
	return nil
}

// Complete records a passed validation with the configured expiry and
// clears the need and force flags, returning the stored redirect
func (s *Service) Complete(ctx context.Context, userID uuid.UUID) (string, error) {
	record := Record{ValidatedAt: s.now()}
	if s.config.Expiry > 0 {
		record.ExpiresAt = record.ValidatedAt.Add(time.Duration(s.config.Expiry) * time.Hour)
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("failed to marshal validation record: %w", err)
	}
	if err := s.store.SetMeta(ctx, userID, MetaKeyRecord, string(data)); err != nil {
		return "", fmt.Errorf("failed to store validation record: %w", err)
	}
	if s.config.Expiry == ExpiryPerSession {
		if err := s.setFlag(ctx, userID, MetaKeySession, true); err != nil {
			return "", err
		}
	}

	if err := s.setFlag(ctx, userID, MetaKeyNeed, false); err != nil {
		return "", err
	}
	if err := s.setFlag(ctx, userID, MetaKeyForce, false); err != nil {
		return "", err
	}

	redirect, err := s.store.GetMeta(ctx, userID, MetaKeyRedirect)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			redirect = ""
		} else {
			return "", fmt.Errorf("failed to read redirect: %w", err)
		}
	} else if err := s.store.DeleteMeta(ctx, userID, MetaKeyRedirect); err != nil {
		return "", fmt.Errorf("failed to clear redirect: %w", err)
	}

	s.logger.Info("account validated", "user_id", userID, "expires_at", record.ExpiresAt)
	return redirect, nil
}

// SetRedirect stores where the user should land after validating
func (s *Service) SetRedirect(ctx context.Context, userID uuid.UUID, url string) error {
	if url == "" {
		return s.store.DeleteMeta(ctx, userID, MetaKeyRedirect)
	}
	return s.store.SetMeta(ctx, userID, MetaKeyRedirect, url)
}
