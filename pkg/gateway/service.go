package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tendant/simple-otp/pkg/userstore"
)

// MetaKeyIdentifierPrefix prefixes the user meta key holding a channel's
// identifier, followed by the channel ID
const MetaKeyIdentifierPrefix = "otp_identifier_"

// IdentifierListener is notified after a user's identifier changes.
// Listener errors are logged, not propagated.
type IdentifierListener func(ctx context.Context, userID uuid.UUID, channelID, identifier string) error

// Service manages the channel registry and per-user identifiers
type Service struct {
	store     userstore.UserStore
	channels  map[string]Channel
	syncKeys  map[string]string
	listeners []IdentifierListener
	logger    *slog.Logger
}

// ServiceOption configures the gateway service
type ServiceOption func(*Service)

// WithSyncKey mirrors a channel's identifier into an external meta key,
// and adopts a value found there when the channel has none of its own
func WithSyncKey(channelID, metaKey string) ServiceOption {
	return func(s *Service) {
		s.syncKeys[channelID] = metaKey
	}
}

// WithServiceLogger sets a custom logger
func WithServiceLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a gateway service over the given channels
func NewService(store userstore.UserStore, channels []Channel, opts ...ServiceOption) *Service {
	s := &Service{
		store:    store,
		channels: make(map[string]Channel),
		syncKeys: make(map[string]string),
		logger:   slog.Default(),
	}
	for _, ch := range channels {
		s.channels[ch.ID()] = ch
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Channel returns the channel registered under the given ID
func (s *Service) Channel(id string) (Channel, error) {
	ch, exists := s.channels[id]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChannel, id)
	}
	return ch, nil
}

// ChannelIDs returns the registered channel IDs
func (s *Service) ChannelIDs() []string {
	ids := make([]string, 0, len(s.channels))
	for id := range s.channels {
		ids = append(ids, id)
	}
	return ids
}

// OnIdentifierChanged registers a listener fired after a user's
// identifier is set or replaced
func (s *Service) OnIdentifierChanged(listener IdentifierListener) {
	s.listeners = append(s.listeners, listener)
}

func identifierMetaKey(channelID string) string {
	return MetaKeyIdentifierPrefix + channelID
}

// SetUserIdentifier sanitizes, validates, and stores an identifier for a
// user on the given channel. An identifier already owned by a different
// user is rejected. Returns the stored (sanitized) identifier.
func (s *Service) SetUserIdentifier(ctx context.Context, userID uuid.UUID, channelID, raw string) (string, error) {
	ch, err := s.Channel(channelID)
	if err != nil {
		return "", err
	}

	identifier := ch.Sanitize(raw)
	if !ch.IsValid(identifier) {
		return "", fmt.Errorf("%w: %q", ErrInvalidIdentifier, raw)
	}

	owner, err := s.store.FindUserByMeta(ctx, identifierMetaKey(channelID), identifier)
	switch {
	case err == nil && owner.ID != userID:
		return "", fmt.Errorf("%w: %s", ErrDuplicateIdentifier, identifier)
	case err != nil && !errors.Is(err, userstore.ErrUserNotFound):
		return "", fmt.Errorf("failed to check identifier ownership: %w", err)
	}

	previous, err := s.store.GetMeta(ctx, userID, identifierMetaKey(channelID))
	if err != nil && !errors.Is(err, userstore.ErrMetaNotFound) {
		return "", fmt.Errorf("failed to load current identifier: %w", err)
	}
	if previous == identifier {
		return identifier, nil
	}

	if err := s.store.SetMeta(ctx, userID, identifierMetaKey(channelID), identifier); err != nil {
		return "", fmt.Errorf("failed to store identifier: %w", err)
	}
	if syncKey, exists := s.syncKeys[channelID]; exists {
		if err := s.store.SetMeta(ctx, userID, syncKey, identifier); err != nil {
			return "", fmt.Errorf("failed to sync identifier: %w", err)
		}
	}

	s.logger.Info("identifier updated", "user_id", userID, "channel", channelID)
	for _, listener := range s.listeners {
		if err := listener(ctx, userID, channelID, identifier); err != nil {
			s.logger.Error("identifier listener failed",
				"user_id", userID, "channel", channelID, "err", err)
		}
	}

	return identifier, nil
}

// GetUserIdentifier returns the user's identifier for a channel. When the
// channel has no identifier of its own but a sync key holds a usable
// value, that value is adopted and returned.
func (s *Service) GetUserIdentifier(ctx context.Context, userID uuid.UUID, channelID string) (string, error) {
	ch, err := s.Channel(channelID)
	if err != nil {
		return "", err
	}

	identifier, err := s.store.GetMeta(ctx, userID, identifierMetaKey(channelID))
	if err == nil {
		return identifier, nil
	}
	if !errors.Is(err, userstore.ErrMetaNotFound) {
		return "", fmt.Errorf("failed to load identifier: %w", err)
	}

	syncKey, exists := s.syncKeys[channelID]
	if !exists {
		return "", userstore.ErrMetaNotFound
	}
	external, err := s.store.GetMeta(ctx, userID, syncKey)
	if err != nil {
		return "", err
	}

	adopted := ch.Sanitize(external)
	if !ch.IsValid(adopted) {
		return "", userstore.ErrMetaNotFound
	}
	if err := s.store.SetMeta(ctx, userID, identifierMetaKey(channelID), adopted); err != nil {
		return "", fmt.Errorf("failed to adopt synced identifier: %w", err)
	}
	return adopted, nil
}

// SyncMeta routes a write to a channel's synced profile field through the
// identifier flow, so validation, the ownership rule, and change listeners
// all apply. When the value is owned by another user the synced field is
// cleared instead of written.
func (s *Service) SyncMeta(ctx context.Context, userID uuid.UUID, channelID, value string) error {
	syncKey, exists := s.syncKeys[channelID]
	if !exists {
		return fmt.Errorf("%w: no sync key for channel %s", ErrUnknownChannel, channelID)
	}

	_, err := s.SetUserIdentifier(ctx, userID, channelID, value)
	if errors.Is(err, ErrDuplicateIdentifier) {
		if delErr := s.store.DeleteMeta(ctx, userID, syncKey); delErr != nil {
			return fmt.Errorf("failed to clear synced field: %w", delErr)
		}
		return err
	}
	return err
}

// FindUserByIdentifier resolves the user owning an identifier on a
// channel. The raw input is sanitized before lookup.
func (s *Service) FindUserByIdentifier(ctx context.Context, channelID, raw string) (userstore.User, error) {
	ch, err := s.Channel(channelID)
	if err != nil {
		return userstore.User{}, err
	}
	return s.store.FindUserByMeta(ctx, identifierMetaKey(channelID), ch.Sanitize(raw))
}
