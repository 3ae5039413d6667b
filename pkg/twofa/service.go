package twofa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tendant/simple-otp/pkg/userstore"
)

// User meta keys holding the 2FA flags
const (
	MetaKeyActive    = "otp_2fa_active"
	MetaKeyNeedCheck = "otp_need_2fa_check"
	MetaKeyChecked   = "otp_2fa_checked"
	MetaKeyRedirect  = "otp_2fa_redirect"
)

// ErrForced is returned when a toggle is refused because 2FA is enforced
// for everyone
var ErrForced = errors.New("two-factor is enforced and cannot be switched")

// Config controls the two-factor mode
type Config struct {
	// Enabled turns the mode on globally
	Enabled bool
	// Force enforces 2FA for every user and refuses toggles
	Force bool
	// Default arms 2FA for users who have never chosen
	Default bool
}

// Service is the two-factor mode controller. A user whose 2FA is active
// is gated after login until the current session's check completes.
type Service struct {
	store  userstore.UserStore
	config Config
	logger *slog.Logger
}

// NewService creates a two-factor controller
func NewService(store userstore.UserStore, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, config: config, logger: logger}
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

// Active reports whether 2FA is armed for the user. Force wins over the
// user's own choice; Default applies when the user never chose.
func (s *Service) Active(ctx context.Context, userID uuid.UUID) (bool, error) {
	if !s.config.Enabled {
		return false, nil
	}
	if s.config.Force {
		return true, nil
	}

	value, err := s.store.GetMeta(ctx, userID, MetaKeyActive)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			return s.config.Default, nil
		}
		return false, fmt.Errorf("failed to read 2fa flag: %w", err)
	}
	return value == "1", nil
}

// SetActive toggles 2FA for the user. Refused when 2FA is enforced.
func (s *Service) SetActive(ctx context.Context, userID uuid.UUID, active bool) error {
	if s.config.Force {
		return ErrForced
	}

	value := "0"
	if active {
		value = "1"
	}
	if err := s.store.SetMeta(ctx, userID, MetaKeyActive, value); err != nil {
		return fmt.Errorf("failed to set 2fa flag: %w", err)
	}

	s.logger.Info("2fa toggled", "user_id", userID, "active", active)
	return nil
}

// OnLogin arms the session gate at the start of a new session. A stale
// checked flag from the previous session is cleared, and need-check is set
// whenever 2FA is active for the user.
func (s *Service) OnLogin(ctx context.Context, userID uuid.UUID) error {
	if !s.config.Enabled {
		return nil
	}

	if err := s.setFlag(ctx, userID, MetaKeyChecked, false); err != nil {
		return err
	}

	active, err := s.Active(ctx, userID)
	if err != nil {
		return err
	}
	return s.setFlag(ctx, userID, MetaKeyNeedCheck, active)
}

// Gated reports whether the user must pass a code check before the
// session proceeds
func (s *Service) Gated(ctx context.Context, userID uuid.UUID) (bool, error) {
	if !s.config.Enabled {
		return false, nil
	}

	checked, err := s.getFlag(ctx, userID, MetaKeyChecked)
	if err != nil {
		return false, err
	}
	if checked {
		return false, nil
	}

	need, err := s.getFlag(ctx, userID, MetaKeyNeedCheck)
	if err != nil {
		return false, err
	}
	return need, nil
}

// Complete marks the current session's check as passed and returns the
// stored redirect, clearing it
func (s *Service) Complete(ctx context.Context, userID uuid.UUID) (string, error) {
	if err := s.setFlag(ctx, userID, MetaKeyChecked, true); err != nil {
		return "", err
	}
	if err := s.setFlag(ctx, userID, MetaKeyNeedCheck, false); err != nil {
		return "", err
	}

	redirect, err := s.store.GetMeta(ctx, userID, MetaKeyRedirect)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read redirect: %w", err)
	}
	if err := s.store.DeleteMeta(ctx, userID, MetaKeyRedirect); err != nil {
		return "", fmt.Errorf("failed to clear redirect: %w", err)
	}

	s.logger.Info("2fa check completed", "user_id", userID)
	return redirect, nil
}

// SetRedirect stores where the user should land after the check passes
func (s *Service) SetRedirect(ctx context.Context, userID uuid.UUID, url string) error {
	if url == "" {
		return s.store.DeleteMeta(ctx, userID, MetaKeyRedirect)
	}
	return s.store.SetMeta(ctx, userID, MetaKeyRedirect, url)
}
