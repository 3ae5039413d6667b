package auditlog

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// DefaultRetainCount is how many entries a retention sweep keeps
const DefaultRetainCount = 10000

// DefaultSweepInterval is how often the retention sweeper runs
const DefaultSweepInterval = time.Hour

// Service records audit entries. When disabled, only alerts are written;
// an alert is never dropped.
type Service struct {
	repo          Repository
	enabled       bool
	retainCount   int
	sweepInterval time.Duration
	logger        *slog.Logger
	now           func() time.Time
}

// Option configures the audit service
type Option func(*Service)

// WithEnabled turns routine logging on or off. Alerts are written
// regardless.
func WithEnabled(enabled bool) Option {
	return func(s *Service) {
		s.enabled = enabled
	}
}

// WithRetainCount sets how many entries retention sweeps keep
func WithRetainCount(count int) Option {
	return func(s *Service) {
		s.retainCount = count
	}
}

// WithSweepInterval sets how often the retention sweeper runs
func WithSweepInterval(interval time.Duration) Option {
	return func(s *Service) {
		s.sweepInterval = interval
	}
}

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates a new audit service
func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:          repo,
		enabled:       true,
		retainCount:   DefaultRetainCount,
		sweepInterval: DefaultSweepInterval,
		logger:        slog.Default(),
		now:           func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Log records an entry. Non-alert entries are dropped when the service is
// disabled.
func (s *Service) Log(ctx context.Context, severity Severity, event, message string, data map[string]interface{}) error {
	if !s.enabled && severity != SeverityAlert {
		return nil
	}

	entry := Entry{
		ID:        uuid.New(),
		Timestamp: s.now(),
		Severity:  severity,
		Event:     event,
		Message:   message,
		Data:      data,
	}

	if err := s.repo.Insert(ctx, entry); err != nil {
		// Audit failures never break the calling flow
		s.logger.Error("failed to write audit entry", "event", event, "err", err)
		return err
	}
	return nil
}

// Info records an informational entry
func (s *Service) Info(ctx context.Context, event, message string, data map[string]interface{}) {
	_ = s.Log(ctx, SeverityInfo, event, message, data)
}

// Success records a success entry
func (s *Service) Success(ctx context.Context, event, message string, data map[string]interface{}) {
	_ = s.Log(ctx, SeveritySuccess, event, message, data)
}

// Warning records a warning entry
func (s *Service) Warning(ctx context.Context, event, message string, data map[string]interface{}) {
	_ = s.Log(ctx, SeverityWarning, event, message, data)
}

// Alert records an alert entry, bypassing the enabled switch
func (s *Service) Alert(ctx context.Context, event, message string, data map[string]interface{}) {
	_ = s.Log(ctx, SeverityAlert, event, message, data)
}

// List returns the newest entries, up to limit
func (s *Service) List(ctx context.Context, limit int) ([]Entry, error) {
	return s.repo.List(ctx, limit)
}

// Sweep trims the log down to the retention count
func (s *Service) Sweep(ctx context.Context) error {
	return s.repo.Trim(ctx, s.retainCount)
}

// StartSweeper runs periodic retention sweeps until the context is
// canceled
func (s *Service) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := s.Sweep(ctx); err != nil {
					s.logger.Error("audit retention sweep failed", "err", err)
				}
			}
		}
	}()
}
