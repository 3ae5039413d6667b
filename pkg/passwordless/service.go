package passwordless

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tendant/simple-otp/pkg/gateway"
	"github.com/tendant/simple-otp/pkg/userstore"
)

// ErrDisabled is returned when passwordless login is switched off
var ErrDisabled = errors.New("passwordless login is disabled")

// Authenticator establishes a session for a user once their code checks
// out
type Authenticator interface {
	Authenticate(ctx context.Context, userID uuid.UUID) error
}

// AuthenticatorFunc adapts a function to the Authenticator interface
type AuthenticatorFunc func(ctx context.Context, userID uuid.UUID) error

// Authenticate calls the function
func (f AuthenticatorFunc) Authenticate(ctx context.Context, userID uuid.UUID) error {
	return f(ctx, userID)
}

// Config controls the passwordless mode
type Config struct {
	// Enabled turns the mode on globally
	Enabled bool
	// RedirectURL is where a user lands after logging in
	RedirectURL string
}

// Service is the passwordless mode controller. It holds no per-user
// state: an anonymous caller submits an identifier, the owning user is
// resolved, and a successful code check authenticates them.
type Service struct {
	gateway *gateway.Service
	auth    Authenticator
	config  Config
	logger  *slog.Logger
}

// NewService creates a passwordless controller
func NewService(gw *gateway.Service, auth Authenticator, config Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gateway: gw, auth: auth, config: config, logger: logger}
}

// Enabled reports whether the mode is on globally
func (s *Service) Enabled() bool {
	return s.config.Enabled
}

// ResolveUser finds the user owning the submitted identifier on the given
// channel
func (s *Service) ResolveUser(ctx context.Context, channelID, identifier string) (userstore.User, error) {
	if !s.config.Enabled {
		return userstore.User{}, ErrDisabled
	}
	return s.gateway.FindUserByIdentifier(ctx, channelID, identifier)
}

// Complete authenticates the user and returns the login redirect
func (s *Service) Complete(ctx context.Context, userID uuid.UUID) (string, error) {
	if !s.config.Enabled {
		return "", ErrDisabled
	}
	if err := s.auth.Authenticate(ctx, userID); err != nil {
		return "", fmt.Errorf("failed to authenticate: %w", err)
	}

	s.logger.Info("passwordless login completed", "user_id", userID)
	return s.config.RedirectURL, nil
}
