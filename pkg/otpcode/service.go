package otpcode

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Outcome is the result of a verification attempt
type Outcome int

const (
	// OutcomeSuccess means the code matched and was consumed
	OutcomeSuccess Outcome = iota
	// OutcomeNotFound means no pending code existed
	OutcomeNotFound
	// OutcomeExpired means the submitted code matched but had expired
	OutcomeExpired
	// OutcomeMismatch means the submitted code did not match
	OutcomeMismatch
)

// String returns the outcome name
func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeExpired:
		return "expired"
	case OutcomeMismatch:
		return "mismatch"
	default:
		return "unknown"
	}
}

// Service issues and verifies single-use codes, one pending code per user
type Service struct {
	repo     CodeRepository
	length   int
	alphabet string
	expiry   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// Option configures the code service
type Option func(*Service)

// WithLength sets the generated code length
func WithLength(length int) Option {
	return func(s *Service) {
		s.length = length
	}
}

// WithAlphabet sets the character set codes are drawn from
func WithAlphabet(alphabet string) Option {
	return func(s *Service) {
		s.alphabet = alphabet
	}
}

// WithExpiry sets how long an issued code stays valid
func WithExpiry(expiry time.Duration) Option {
	return func(s *Service) {
		s.expiry = expiry
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithClock sets the time source, for tests
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// NewService creates a new code service over the given repository
func NewService(repo CodeRepository, opts ...Option) *Service {
	s := &Service{
		repo:     repo,
		length:   DefaultLength,
		alphabet: DefaultAlphabet,
		expiry:   5 * time.Minute,
		logger:   slog.Default(),
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Mint generates a fresh code with timestamps but does not persist it.
// Callers that dispatch before persisting use Mint and Persist separately
// so a failed dispatch leaves no stored code.
func (s *Service) Mint() (PendingCode, error) {
	code, err := Generate(s.length, s.alphabet)
	if err != nil {
		return PendingCode{}, fmt.Errorf("failed to generate code: %w", err)
	}

	now := s.now()
	return PendingCode{
		Code:      code,
		IssuedAt:  now,
		ExpiresAt: now.Add(s.expiry),
	}, nil
}

// Persist stores a minted code for the user, replacing any previous
// pending code
func (s *Service) Persist(ctx context.Context, userID uuid.UUID, pending PendingCode) error {
	if err := s.repo.Save(ctx, userID, pending); err != nil {
		return fmt.Errorf("failed to persist code: %w", err)
	}

	s.logger.Info("issued code", "user_id", userID, "expires_at", pending.ExpiresAt)
	return nil
}

// Issue generates a fresh code for the user and persists it, replacing any
// previous pending code. The code is returned for dispatch along with its
// expiry.
func (s *Service) Issue(ctx context.Context, userID uuid.UUID) (PendingCode, error) {
	pending, err := s.Mint()
	if err != nil {
		return PendingCode{}, err
	}
	if err := s.Persist(ctx, userID, pending); err != nil {
		return PendingCode{}, err
	}
	return pending, nil
}

// Peek returns the pending code without consuming it
func (s *Service) Peek(ctx context.Context, userID uuid.UUID) (PendingCode, error) {
	return s.repo.Get(ctx, userID)
}

// Verify checks the submitted code against the user's pending code. The
// pending code is deleted on every outcome except NotFound, so a code can
// be tried exactly once. Comparison is case-insensitive and constant-time.
func (s *Service) Verify(ctx context.Context, userID uuid.UUID, input string) (Outcome, error) {
	pending, err := s.repo.Get(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrCodeNotFound) {
			return OutcomeNotFound, nil
		}
		return OutcomeNotFound, err
	}

	// Single use: the stored code is consumed whatever happens next
	if err := s.repo.Delete(ctx, userID); err != nil {
		return OutcomeNotFound, fmt.Errorf("failed to consume code: %w", err)
	}

	// An expired code is expired no matter what was submitted
	if s.now().After(pending.ExpiresAt) {
		return OutcomeExpired, nil
	}

	stored := strings.ToUpper(pending.Code)
	submitted := strings.ToUpper(strings.TrimSpace(input))
	match := len(stored) == len(submitted) &&
		subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1

	if !match {
		return OutcomeMismatch, nil
	}
	return OutcomeSuccess, nil
}

// Clear removes the pending code for a user, if any
func (s *Service) Clear(ctx context.Context, userID uuid.UUID) error {
	return s.repo.Delete(ctx, userID)
}
