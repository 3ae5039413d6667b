package attempt

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Default limits, matching the shipped configuration
const (
	DefaultMaxRequest    = 10
	DefaultMaxVerify     = 10
	DefaultTrackWindow   = 24 * time.Hour
	DefaultBlockDuration = 5 * time.Minute
	DefaultRequestWait   = 30 * time.Second
)

// Tracker applies the attempt policy to per-user counters
type Tracker struct {
	repo   Repository
	policy Policy
	logger *slog.Logger
	now    func() time.Time
}

// TrackerOption configures the tracker
type TrackerOption func(*Tracker)

// WithPolicy overrides the default limits
func WithPolicy(policy Policy) TrackerOption {
	return func(t *Tracker) {
		t.policy = policy
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) TrackerOption {
	return func(t *Tracker) {
		t.logger = logger
	}
}

// WithClock sets the time source, for tests
func WithClock(now func() time.Time) TrackerOption {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a new attempt tracker
func NewTracker(repo Repository, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		repo: repo,
		policy: Policy{
			MaxRequest:    DefaultMaxRequest,
			MaxVerify:     DefaultMaxVerify,
			TrackWindow:   DefaultTrackWindow,
			BlockDuration: DefaultBlockDuration,
			RequestWait:   DefaultRequestWait,
		},
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Policy returns the limits the tracker enforces
func (t *Tracker) Policy() Policy {
	return t.policy
}

// Status returns the user's counters with the lazy window reset applied
func (t *Tracker) Status(ctx context.Context, userID uuid.UUID) (Counters, error) {
	counters, err := t.repo.Get(ctx, userID)
	if err != nil {
		return Counters{}, err
	}
	return counters.settle(t.now(), t.policy), nil
}

// IsBlocked reports whether the user is currently locked out, and until
// when
func (t *Tracker) IsBlocked(ctx context.Context, userID uuid.UUID) (bool, time.Time, error) {
	counters, err := t.Status(ctx, userID)
	if err != nil {
		return false, time.Time{}, err
	}
	return counters.IsBlocked(t.now()), counters.BlockedUntil, nil
}

// IsThrottled reports whether a new code request comes inside the
// mandatory wait after the previous one
func (t *Tracker) IsThrottled(ctx context.Context, userID uuid.UUID) (bool, error) {
	counters, err := t.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return counters.IsThrottled(t.now(), t.policy.RequestWait), nil
}

// OnRequest records a code request. The returned counters reflect the
// increment; a block may have been set if the request cap was reached.
func (t *Tracker) OnRequest(ctx context.Context, userID uuid.UUID) (Counters, error) {
	now := t.now()
	counters, err := t.repo.Update(ctx, userID, func(c Counters) Counters {
		return c.onRequest(now, t.policy)
	})
	if err != nil {
		return Counters{}, err
	}
	if counters.IsBlocked(now) {
		t.logger.Warn("request cap reached, user blocked",
			"user_id", userID,
			"request_count", counters.RequestCount,
			"blocked_until", counters.BlockedUntil)
	}
	return counters, nil
}

// OnVerifyFail records a failed verification. The returned counters
// reflect the increment; blocked reports whether this failure left the
// user locked out, evaluated against the tracker's clock.
func (t *Tracker) OnVerifyFail(ctx context.Context, userID uuid.UUID) (Counters, bool, error) {
	now := t.now()
	counters, err := t.repo.Update(ctx, userID, func(c Counters) Counters {
		return c.onVerifyFail(now, t.policy)
	})
	if err != nil {
		return Counters{}, false, err
	}
	blocked := counters.IsBlocked(now)
	if blocked {
		t.logger.Warn("verify failure cap reached, user blocked",
			"user_id", userID,
			"verify_fail_count", counters.VerifyFailCount,
			"blocked_until", counters.BlockedUntil)
	}
	return counters, blocked, nil
}

// OnVerifySuccess wipes the user's counters after a successful
// verification
func (t *Tracker) OnVerifySuccess(ctx context.Context, userID uuid.UUID) error {
	return t.repo.Delete(ctx, userID)
}
