package twofa

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-otp/pkg/userstore"
)

func setupService(t *testing.T, config Config) (*Service, uuid.UUID) {
	store := userstore.NewInMemUserStore()
	user := userstore.User{ID: uuid.New(), Login: "alice"}
	store.AddUser(user)
	return NewService(store, config, nil), user.ID
}

func TestService_Active(t *testing.T) {
	ctx := context.Background()

	t.Run("DisabledMode", func(t *testing.T) {
		svc, userID := setupService(t, Config{Enabled: false})
		active, err := svc.Active(ctx, userID)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("DefaultAppliesWhenNeverChosen", func(t *testing.T) {
		svc, userID := setupService(t, Config{Enabled: true, Default: true})
		active, err := svc.Active(ctx, userID)
		require.NoError(t, err)
		assert.True(t, active)
	})

	t.Run("UserChoiceBeatsDefault", func(t *testing.T) {
		svc, userID := setupService(t, Config{Enabled: true, Default: true})
		require.NoError(t, svc.SetActive(ctx, userID, false))

		active, err := svc.Active(ctx, userID)
		require.NoError(t, err)
		assert.False(t, active)
	})

	t.Run("ForceWins", func(t *testing.T) {
		svc, userID := setupService(t, Config{Enabled: true, Force: true})
		active, err := svc.Active(ctx, userID)
		require.NoError(t, err)
		assert.True(t, active)
	})
}

func TestService_SetActive_RefusedWhenForced(t *testing.T) {
	svc, userID := setupService(t, Config{Enabled: true, Force: true})

	err := svc.SetActive(context.Background(), userID, false)
	assert.ErrorIs(t, err, ErrForced)
}

func TestService_LoginGateCycle(t *testing.T) {
	svc, userID := setupService(t, Config{Enabled: true})
	ctx := context.Background()

	require.NoError(t, svc.SetActive(ctx, userID, true))
	require.NoError(t, svc.OnLogin(ctx, userID))

	gated, err := svc.Gated(ctx, userID)
	require.NoError(t, err)
	assert.True(t, gated)

	_, err = svc.Complete(ctx, userID)
	require.NoError(t, err)

	gated, err = svc.Gated(ctx, userID)
	require.NoError(t, err)
	assert.False(t, gated)
}

func TestService_CheckedIsSessionScoped(t *testing.T) {
	svc, userID := setupService(t, Config{Enabled: true})
	ctx := context.Background()

	require.NoError(t, svc.SetActive(ctx, userID, true))
	require.NoError(t, svc.OnLogin(ctx, userID))
	_, err := svc.Complete(ctx, userID)
	require.NoError(t, err)

	// A new login re-arms the gate
	require.NoError(t, svc.OnLogin(ctx, userID))
	gated, err := svc.Gated(ctx, userID)
	require.NoError(t, err)
	assert.True(t, gated)
}

func TestService_InactiveUserNotGated(t *testing.T) {
	svc, userID := setupService(t, Config{Enabled: true})
	ctx := context.Background()

	require.NoError(t, svc.OnLogin(ctx, userID))

	gated, err := svc.Gated(ctx, userID)
	require.NoError(t, err)
	assert.False(t, gated)
}

func TestService_CompleteReturnsRedirect(t *testing.T) {
	svc, userID := setupService(t, Config{Enabled: true})
	ctx := context.Background()

	require.NoError(t, svc.SetRedirect(ctx, userID, "/dashboard"))

	redirect, err := svc.Complete(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, "/dashboard", redirect)

	// Redirect is consumed
	redirect, err = svc.Complete(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, redirect)
}
