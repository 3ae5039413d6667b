package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestService_IssueAndValidate(t *testing.T) {
	svc := NewService([]byte("test-secret"), "simple-otp", time.Minute)

	tok, err := svc.Issue(ScopeOTP)
	require.NoError(t, err)
	assert.NotEmpty(t, tok)

	assert.NoError(t, svc.Validate(tok, ScopeOTP))
}

func TestService_WrongScope(t *testing.T) {
	svc := NewService([]byte("test-secret"), "simple-otp", time.Minute)

	tok, err := svc.Issue(ScopeOTP)
	require.NoError(t, err)

	err = svc.Validate(tok, ScopeSwitch)
	assert.ErrorIs(t, err, ErrWrongScope)
}

func TestService_Expired(t *testing.T) {
	svc := NewService([]byte("test-secret"), "simple-otp", -time.Minute)

	tok, err := svc.Issue(ScopeOTP)
	require.NoError(t, err)

	err = svc.Validate(tok, ScopeOTP)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_WrongSecret(t *testing.T) {
	issuer := NewService([]byte("secret-a"), "simple-otp", time.Minute)
	checker := NewService([]byte("secret-b"), "simple-otp", time.Minute)

	tok, err := issuer.Issue(ScopeOTP)
	require.NoError(t, err)

	err = checker.Validate(tok, ScopeOTP)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestService_Garbage(t *testing.T) {
	svc := NewService([]byte("test-secret"), "simple-otp", time.Minute)
	assert.ErrorIs(t, svc.Validate("not-a-token", ScopeOTP), ErrInvalidToken)
}
