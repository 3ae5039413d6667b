package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Known scopes for gate operations
const (
	ScopeOTP    = "otp"
	ScopeTwoFA  = "2fa"
	ScopeSwitch = "2fa_switch"
)

var (
	// ErrInvalidToken is returned when a token fails parsing or signature
	// checks
	ErrInvalidToken = errors.New("invalid token")
	// ErrWrongScope is returned when a token was issued for another
	// operation
	ErrWrongScope = errors.New("token scope mismatch")
)

// Claims are the claims carried by an anti-replay token
type Claims struct {
	Scope string `json:"scope"`
	jwt.RegisteredClaims
}

// Service issues and validates short-lived, single-purpose HMAC tokens.
// A form renders with a token for its operation; the handler accepts the
// submission only with a live token of the matching scope.
type Service struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewService creates a token service. ttl bounds how long a rendered form
// stays submittable.
func NewService(secret []byte, issuer string, ttl time.Duration) *Service {
	return &Service{secret: secret, issuer: issuer, ttl: ttl}
}

// Issue creates a token for the given scope
func (s *Service) Issue(scope string) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Validate checks a token's signature, expiry, and scope
func (s *Service) Validate(tokenString, scope string) error {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return ErrInvalidToken
	}
	if claims.Scope != scope {
		return fmt.Errorf("%w: got %q, want %q", ErrWrongScope, claims.Scope, scope)
	}
	return nil
}
