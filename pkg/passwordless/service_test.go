package passwordless

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-otp/pkg/gateway"
	"github.com/tendant/simple-otp/pkg/userstore"
)

// nullChannel accepts any lowercase identifier containing "@"
type nullChannel struct{}

func (nullChannel) ID() string { return "email" }

func (nullChannel) Sanitize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (nullChannel) IsValid(identifier string) bool {
	return strings.Contains(identifier, "@")
}

func (nullChannel) BuildMessage(code string, expiresAt time.Time) gateway.Message {
	return gateway.Message{Body: code}
}

func (nullChannel) Dispatch(ctx context.Context, identifier string, msg gateway.Message) error {
	return nil
}

func setupService(t *testing.T, enabled bool) (*Service, *userstore.InMemUserStore, *gateway.Service, *[]uuid.UUID) {
	store := userstore.NewInMemUserStore()
	gw := gateway.NewService(store, []gateway.Channel{nullChannel{}})

	var authenticated []uuid.UUID
	auth := AuthenticatorFunc(func(ctx context.Context, userID uuid.UUID) error {
		authenticated = append(authenticated, userID)
		return nil
	})

	svc := NewService(gw, auth, Config{Enabled: enabled, RedirectURL: "/home"}, nil)
	return svc, store, gw, &authenticated
}

func TestService_ResolveUser(t *testing.T) {
	svc, store, gw, _ := setupService(t, true)
	ctx := context.Background()

	user := userstore.User{ID: uuid.New(), Login: "alice"}
	store.AddUser(user)
	_, err := gw.SetUserIdentifier(ctx, user.ID, "email", "alice@example.com")
	require.NoError(t, err)

	resolved, err := svc.ResolveUser(ctx, "email", " ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, user.ID, resolved.ID)

	_, err = svc.ResolveUser(ctx, "email", "nobody@example.com")
	assert.ErrorIs(t, err, userstore.ErrUserNotFound)
}

func TestService_Complete(t *testing.T) {
	svc, _, _, authenticated := setupService(t, true)
	ctx := context.Background()

	userID := uuid.New()
	redirect, err := svc.Complete(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "/home", redirect)
	assert.Equal(t, []uuid.UUID{userID}, *authenticated)
}

func TestService_Disabled(t *testing.T) {
	svc, _, _, authenticated := setupService(t, false)
	ctx := context.Background()

	_, err := svc.ResolveUser(ctx, "email", "alice@example.com")
	assert.ErrorIs(t, err, ErrDisabled)

	_, err = svc.Complete(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrDisabled)
	assert.Empty(t, *authenticated)
}
