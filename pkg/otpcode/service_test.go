package otpcode

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-otp/pkg/userstore"
)

func setupTestService(t *testing.T, opts ...Option) (*Service, uuid.UUID) {
	return NewService(NewInMemCodeRepository(), opts...), uuid.New()
}

func TestGenerate(t *testing.T) {
	t.Run("LengthAndAlphabet", func(t *testing.T) {
		code, err := Generate(6, DefaultAlphabet)
		require.NoError(t, err)
		assert.Len(t, code, 6)
		for _, c := range code {
			assert.Contains(t, DefaultAlphabet, string(c))
		}
	})

	t.Run("CustomAlphabet", func(t *testing.T) {
		code, err := Generate(8, "0123456789")
		require.NoError(t, err)
		assert.Len(t, code, 8)
		for _, c := range code {
			assert.True(t, c >= '0' && c <= '9')
		}
	})

	t.Run("DefaultsApplied", func(t *testing.T) {
		code, err := Generate(0, "")
		require.NoError(t, err)
		assert.Len(t, code, DefaultLength)
	})

	t.Run("RejectsNonASCIIAlphabet", func(t *testing.T) {
		_, err := Generate(6, "äöü012345")
		assert.Error(t, err)
	})

	t.Run("RejectsOversizedAlphabet", func(t *testing.T) {
		_, err := Generate(6, strings.Repeat("ABCDEFGH", 33))
		assert.Error(t, err)
	})

	t.Run("CodesVary", func(t *testing.T) {
		seen := make(map[string]bool)
		for i := 0; i < 20; i++ {
			code, err := Generate(6, DefaultAlphabet)
			require.NoError(t, err)
			seen[code] = true
		}
		assert.Greater(t, len(seen), 1)
	})
}

func TestService_IssueAndVerify(t *testing.T) {
	svc, userID := setupTestService(t)
	ctx := context.Background()

	pending, err := svc.Issue(ctx, userID)
	require.NoError(t, err)
	assert.Len(t, pending.Code, DefaultLength)
	assert.True(t, pending.ExpiresAt.After(pending.IssuedAt))

	outcome, err := svc.Verify(ctx, userID, pending.Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
}

func TestService_SingleUse(t *testing.T) {
	svc, userID := setupTestService(t)
	ctx := context.Background()

	pending, err := svc.Issue(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.Verify(ctx, userID, pending.Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)

	// Same code again: nothing pending anymore
	outcome, err = svc.Verify(ctx, userID, pending.Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestService_MismatchConsumesCode(t *testing.T) {
	svc, userID := setupTestService(t)
	ctx := context.Background()

	pending, err := svc.Issue(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.Verify(ctx, userID, "WRONG0")
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, outcome)

	// The correct code was consumed by the failed attempt
	outcome, err = svc.Verify(ctx, userID, pending.Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestService_ExpiredCode(t *testing.T) {
	svc, userID := setupTestService(t, WithExpiry(-1*time.Minute))
	ctx := context.Background()

	pending, err := svc.Issue(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.Verify(ctx, userID, pending.Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, outcome)

	// Expired match still consumed the code
	outcome, err = svc.Verify(ctx, userID, pending.Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestService_ExpiredCodeWrongGuess(t *testing.T) {
	svc, userID := setupTestService(t, WithExpiry(-1*time.Minute))
	ctx := context.Background()

	_, err := svc.Issue(ctx, userID)
	require.NoError(t, err)

	// Expiry wins over the comparison, whatever was submitted
	outcome, err := svc.Verify(ctx, userID, "WRONG0")
	require.NoError(t, err)
	assert.Equal(t, OutcomeExpired, outcome)
}

func TestService_CaseInsensitiveAndTrimmed(t *testing.T) {
	svc, userID := setupTestService(t)
	ctx := context.Background()

	pending, err := svc.Issue(ctx, userID)
	require.NoError(t, err)

	outcome, err := svc.Verify(ctx, userID, "  "+strings.ToLower(pending.Code)+" ")
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuccess, outcome)
}

func TestService_IssueReplacesPending(t *testing.T) {
	svc, userID := setupTestService(t)
	ctx := context.Background()

	first, err := svc.Issue(ctx, userID)
	require.NoError(t, err)
	second, err := svc.Issue(ctx, userID)
	require.NoError(t, err)

	if first.Code == second.Code {
		t.Skip("generated identical codes, cannot distinguish")
	}

	outcome, err := svc.Verify(ctx, userID, first.Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeMismatch, outcome)

	// Mismatch consumed the replacement too
	outcome, err = svc.Verify(ctx, userID, second.Code)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestService_Clear(t *testing.T) {
	svc, userID := setupTestService(t)
	ctx := context.Background()

	_, err := svc.Issue(ctx, userID)
	require.NoError(t, err)
	require.NoError(t, svc.Clear(ctx, userID))

	outcome, err := svc.Verify(ctx, userID, "ANY")
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotFound, outcome)
}

func TestMetaCodeRepository(t *testing.T) {
	store := userstore.NewInMemUserStore()
	user := userstore.User{ID: uuid.New(), Login: "alice"}
	store.AddUser(user)

	repo := NewMetaCodeRepository(store)
	ctx := context.Background()

	_, err := repo.Get(ctx, user.ID)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	pending := PendingCode{Code: "ABC123", IssuedAt: now, ExpiresAt: now.Add(5 * time.Minute)}
	require.NoError(t, repo.Save(ctx, user.ID, pending))

	loaded, err := repo.Get(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "ABC123", loaded.Code)
	assert.True(t, loaded.ExpiresAt.Equal(pending.ExpiresAt))

	require.NoError(t, repo.Delete(ctx, user.ID))
	_, err = repo.Get(ctx, user.ID)
	assert.ErrorIs(t, err, ErrCodeNotFound)

	// Idempotent delete
	require.NoError(t, repo.Delete(ctx, user.ID))
}
