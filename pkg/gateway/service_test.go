package gateway

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-otp/pkg/userstore"
)

// memoChannel is a test channel that records dispatches
type memoChannel struct {
	id         string
	mutex      sync.Mutex
	dispatched []string
	failWith   error
}

func (c *memoChannel) ID() string {
	return c.id
}

func (c *memoChannel) Sanitize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (c *memoChannel) IsValid(identifier string) bool {
	return strings.Contains(identifier, "@")
}

func (c *memoChannel) BuildMessage(code string, expiresAt time.Time) Message {
	return Message{Subject: "code", Body: fmt.Sprintf("code %s", code)}
}

func (c *memoChannel) Dispatch(ctx context.Context, identifier string, msg Message) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.dispatched = append(c.dispatched, identifier+": "+msg.Body)
	return nil
}

func setupGateway(t *testing.T, opts ...ServiceOption) (*Service, *userstore.InMemUserStore, *memoChannel) {
	store := userstore.NewInMemUserStore()
	channel := &memoChannel{id: "email"}
	svc := NewService(store, []Channel{channel}, opts...)
	return svc, store, channel
}

func TestService_Channel(t *testing.T) {
	svc, _, _ := setupGateway(t)

	ch, err := svc.Channel("email")
	require.NoError(t, err)
	assert.Equal(t, "email", ch.ID())

	_, err = svc.Channel("carrier-pigeon")
	assert.ErrorIs(t, err, ErrUnknownChannel)
}

func TestService_SetUserIdentifier(t *testing.T) {
	svc, store, _ := setupGateway(t)
	ctx := context.Background()

	user := userstore.User{ID: uuid.New(), Login: "alice"}
	store.AddUser(user)

	t.Run("SanitizesAndStores", func(t *testing.T) {
		stored, err := svc.SetUserIdentifier(ctx, user.ID, "email", "  Alice@Example.COM ")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", stored)

		got, err := svc.GetUserIdentifier(ctx, user.ID, "email")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", got)
	})

	t.Run("RejectsInvalid", func(t *testing.T) {
		_, err := svc.SetUserIdentifier(ctx, user.ID, "email", "not-an-address")
		assert.ErrorIs(t, err, ErrInvalidIdentifier)
	})

	t.Run("RejectsUnknownChannel", func(t *testing.T) {
		_, err := svc.SetUserIdentifier(ctx, user.ID, "fax", "alice@example.com")
		assert.ErrorIs(t, err, ErrUnknownChannel)
	})

	t.Run("RejectsDuplicateOwner", func(t *testing.T) {
		bob := userstore.User{ID: uuid.New(), Login: "bob"}
		store.AddUser(bob)

		_, err := svc.SetUserIdentifier(ctx, bob.ID, "email", "alice@example.com")
		assert.ErrorIs(t, err, ErrDuplicateIdentifier)
	})

	t.Run("OwnerMayReassert", func(t *testing.T) {
		stored, err := svc.SetUserIdentifier(ctx, user.ID, "email", "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", stored)
	})
}

func TestService_IdentifierListeners(t *testing.T) {
	svc, store, _ := setupGateway(t)
	ctx := context.Background()

	user := userstore.User{ID: uuid.New(), Login: "alice"}
	store.AddUser(user)

	var fired []string
	svc.OnIdentifierChanged(func(ctx context.Context, userID uuid.UUID, channelID, identifier string) error {
		fired = append(fired, channelID+":"+identifier)
		return nil
	})

	_, err := svc.SetUserIdentifier(ctx, user.ID, "email", "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"email:alice@example.com"}, fired)

	// Unchanged value does not fire
	_, err = svc.SetUserIdentifier(ctx, user.ID, "email", "ALICE@example.com")
	require.NoError(t, err)
	assert.Len(t, fired, 1)

	// New value fires again
	_, err = svc.SetUserIdentifier(ctx, user.ID, "email", "alice2@example.com")
	require.NoError(t, err)
	assert.Len(t, fired, 2)
}

func TestService_SyncKey(t *testing.T) {
	svc, store, _ := setupGateway(t, WithSyncKey("email", "billing_email"))
	ctx := context.Background()

	user := userstore.User{ID: uuid.New(), Login: "alice"}
	store.AddUser(user)

	t.Run("SetMirrorsToSyncKey", func(t *testing.T) {
		_, err := svc.SetUserIdentifier(ctx, user.ID, "email", "alice@example.com")
		require.NoError(t, err)

		mirrored, err := store.GetMeta(ctx, user.ID, "billing_email")
		require.NoError(t, err)
		assert.Equal(t, "alice@example.com", mirrored)
	})

	t.Run("GetAdoptsFromSyncKey", func(t *testing.T) {
		carol := userstore.User{ID: uuid.New(), Login: "carol"}
		store.AddUser(carol)
		require.NoError(t, store.SetMeta(ctx, carol.ID, "billing_email", "Carol@Example.com"))

		got, err := svc.GetUserIdentifier(ctx, carol.ID, "email")
		require.NoError(t, err)
		assert.Equal(t, "carol@example.com", got)

		// Adopted value is now owned
		found, err := svc.FindUserByIdentifier(ctx, "email", "carol@example.com")
		require.NoError(t, err)
		assert.Equal(t, carol.ID, found.ID)
	})
}

func TestService_SyncMeta(t *testing.T) {
	svc, store, _ := setupGateway(t, WithSyncKey("email", "billing_email"))
	ctx := context.Background()

	alice := userstore.User{ID: uuid.New(), Login: "alice"}
	bob := userstore.User{ID: uuid.New(), Login: "bob"}
	store.AddUser(alice)
	store.AddUser(bob)

	require.NoError(t, svc.SyncMeta(ctx, alice.ID, "email", "alice@example.com"))

	got, err := svc.GetUserIdentifier(ctx, alice.ID, "email")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got)

	// Duplicate write clears bob's synced field instead of stealing
	require.NoError(t, store.SetMeta(ctx, bob.ID, "billing_email", "alice@example.com"))
	err = svc.SyncMeta(ctx, bob.ID, "email", "alice@example.com")
	assert.ErrorIs(t, err, ErrDuplicateIdentifier)

	_, err = store.GetMeta(ctx, bob.ID, "billing_email")
	assert.ErrorIs(t, err, userstore.ErrMetaNotFound)
}

func TestService_FindUserByIdentifier(t *testing.T) {
	svc, store, _ := setupGateway(t)
	ctx := context.Background()

	user := userstore.User{ID: uuid.New(), Login: "alice"}
	store.AddUser(user)
	_, err := svc.SetUserIdentifier(ctx, user.ID, "email", "alice@example.com")
	require.NoError(t, err)

	found, err := svc.FindUserByIdentifier(ctx, "email", " ALICE@example.com ")
	require.NoError(t, err)
	assert.Equal(t, user.ID, found.ID)

	_, err = svc.FindUserByIdentifier(ctx, "email", "nobody@example.com")
	assert.ErrorIs(t, err, userstore.ErrUserNotFound)
}
