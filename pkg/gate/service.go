package gate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/tendant/simple-otp/pkg/attempt"
	"github.com/tendant/simple-otp/pkg/auditlog"
	"github.com/tendant/simple-otp/pkg/gateway"
	"github.com/tendant/simple-otp/pkg/otpcode"
	"github.com/tendant/simple-otp/pkg/otperror"
	"github.com/tendant/simple-otp/pkg/passwordless"
	"github.com/tendant/simple-otp/pkg/twofa"
	"github.com/tendant/simple-otp/pkg/userstore"
	"github.com/tendant/simple-otp/pkg/validation"
)

// Audit event names emitted by the gate
const (
	EventCodeRequested  = "code_requested"
	EventCodeVerified   = "code_verified"
	EventVerifyFailed   = "verify_failed"
	EventUserBlocked    = "user_blocked"
	EventIdentifierSet  = "identifier_set"
	EventRequestRefused = "request_refused"
)

// Config holds gate-level settings
type Config struct {
	// DefaultChannel is used when a request names no channel
	DefaultChannel string
}

// Service orchestrates the gating flow across the mode controllers
type Service struct {
	store        userstore.UserStore
	gateway      *gateway.Service
	codes        *otpcode.Service
	tracker      *attempt.Tracker
	twoFactor    *twofa.Service
	validation   *validation.Service
	passwordless *passwordless.Service
	audit        *auditlog.Service
	config       Config
	logger       *slog.Logger
}

// NewService creates the gate orchestrator
func NewService(
	store userstore.UserStore,
	gw *gateway.Service,
	codes *otpcode.Service,
	tracker *attempt.Tracker,
	twoFactor *twofa.Service,
	validationSvc *validation.Service,
	passwordlessSvc *passwordless.Service,
	audit *auditlog.Service,
	config Config,
	logger *slog.Logger,
) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        store,
		gateway:      gw,
		codes:        codes,
		tracker:      tracker,
		twoFactor:    twoFactor,
		validation:   validationSvc,
		passwordless: passwordlessSvc,
		audit:        audit,
		config:       config,
		logger:       logger,
	}
}

func (s *Service) channelID(requested string) string {
	if requested != "" {
		return requested
	}
	return s.config.DefaultChannel
}

// Decide resolves which mode currently gates the caller. Two-factor wins
// over validation for authenticated callers; passwordless applies only to
// anonymous ones.
func (s *Service) Decide(ctx context.Context, userID uuid.UUID, authenticated bool) (*Decision, error) {
	if !authenticated {
		if s.passwordless.Enabled() {
			return &Decision{Mode: ModePasswordless}, nil
		}
		return nil, nil
	}

	gated, err := s.twoFactor.Gated(ctx, userID)
	if err != nil {
		return nil, err
	}
	if gated {
		return &Decision{Mode: ModeTwoFactor}, nil
	}

	gated, err = s.validation.Gated(ctx, userID)
	if err != nil {
		return nil, err
	}
	if gated {
		return &Decision{Mode: ModeValidation}, nil
	}
	return nil, nil
}

// OnLogin arms the session gates for a freshly authenticated user
func (s *Service) OnLogin(ctx context.Context, userID uuid.UUID) error {
	if err := s.twoFactor.OnLogin(ctx, userID); err != nil {
		return err
	}
	return s.validation.OnLogin(ctx, userID)
}

// OnSessionEnd releases per-session validation state
func (s *Service) OnSessionEnd(ctx context.Context, userID uuid.UUID) error {
	return s.validation.OnSessionEnd(ctx, userID)
}

// IdentifierRequired reports whether a gated user still has to register a
// delivery identifier before a code can reach them
func (s *Service) IdentifierRequired(ctx context.Context, userID uuid.UUID) (bool, error) {
	decision, err := s.Decide(ctx, userID, true)
	if err != nil {
		return false, err
	}
	if decision == nil {
		return false, nil
	}

	_, err = s.gateway.GetUserIdentifier(ctx, userID, s.config.DefaultChannel)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			return true, nil
		}
		return false, err
	}
	return false, nil
}

// resolveTarget resolves the user and destination identifier for a
// request
func (s *Service) resolveTarget(ctx context.Context, mode Mode, userID uuid.UUID, submitted, channelID string) (uuid.UUID, string, error) {
	if mode == ModePasswordless {
		if submitted == "" {
			return uuid.Nil, "", otperror.New(otperror.CodeMissingIdentifier, "an identifier is required").
				WithDetail("method", string(mode))
		}
		user, err := s.passwordless.ResolveUser(ctx, channelID, submitted)
		if err != nil {
			if errors.Is(err, userstore.ErrUserNotFound) || errors.Is(err, userstore.ErrDuplicateOwner) {
				return uuid.Nil, "", otperror.InvalidUser(string(mode)).
					WithDetail("identifier", submitted)
			}
			return uuid.Nil, "", err
		}
		ch, err := s.gateway.Channel(channelID)
		if err != nil {
			return uuid.Nil, "", otperror.Wrap(err, otperror.CodeInvalidGateway, "unknown delivery channel")
		}
		return user.ID, ch.Sanitize(submitted), nil
	}

	if userID == uuid.Nil {
		return uuid.Nil, "", otperror.InvalidUser(string(mode))
	}
	identifier, err := s.gateway.GetUserIdentifier(ctx, userID, channelID)
	if err != nil {
		if errors.Is(err, userstore.ErrMetaNotFound) {
			return uuid.Nil, "", otperror.New(otperror.CodeMissingIdentifier, "no identifier registered").
				WithDetail("method", string(mode))
		}
		if errors.Is(err, gateway.ErrUnknownChannel) {
			return uuid.Nil, "", otperror.Wrap(err, otperror.CodeInvalidGateway, "unknown delivery channel")
		}
		return uuid.Nil, "", err
	}
	return userID, identifier, nil
}

// mask hides an identifier for user-facing results
func mask(channelID, identifier string) string {
	if channelID == "phone" {
		return gateway.MaskPhone(identifier)
	}
	return gateway.MaskEmail(identifier)
}

// RequestCode issues a code and dispatches it to the caller's identifier.
// A failed dispatch or persist leaves no stored code and does not count
// against the request cap.
func (s *Service) RequestCode(ctx context.Context, req CodeRequest) (*RequestResult, error) {
	if !req.Mode.known() {
		return nil, otperror.Newf(otperror.CodeInvalidGateway, "unknown mode %q", string(req.Mode))
	}
	channelID := s.channelID(req.Channel)

	userID, identifier, err := s.resolveTarget(ctx, req.Mode, req.UserID, req.Identifier, channelID)
	if err != nil {
		return nil, err
	}

	throttled, err := s.tracker.IsThrottled(ctx, userID)
	if err != nil {
		return nil, err
	}
	if throttled {
		s.audit.Warning(ctx, EventRequestRefused, "code request throttled", map[string]interface{}{
			"user_id": userID.String(),
			"method":  string(req.Mode),
		})
		return nil, otperror.Throttled(string(req.Mode))
	}

	if err := s.checkBlocked(ctx, userID, req.Mode); err != nil {
		return nil, err
	}

	ch, err := s.gateway.Channel(channelID)
	if err != nil {
		return nil, otperror.Wrap(err, otperror.CodeInvalidGateway, "unknown delivery channel")
	}

	pending, err := s.codes.Mint()
	if err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	msg := ch.BuildMessage(pending.Code, pending.ExpiresAt)
	if err := ch.Dispatch(ctx, identifier, msg); err != nil {
		s.audit.Warning(ctx, EventRequestRefused, "code dispatch failed", map[string]interface{}{
			"user_id": userID.String(),
			"channel": channelID,
			"error":   err.Error(),
		})
		return nil, otperror.Wrap(err, otperror.CodeInvalidGateway, "failed to deliver code")
	}

	if err := s.codes.Persist(ctx, userID, pending); err != nil {
		return nil, otperror.Wrap(err, otperror.CodePersistFailure, "failed to store code")
	}

	counters, err := s.tracker.OnRequest(ctx, userID)
	if err != nil {
		return nil, err
	}

	s.audit.Info(ctx, EventCodeRequested, "code dispatched", map[string]interface{}{
		"user_id":       userID.String(),
		"method":        string(req.Mode),
		"channel":       channelID,
		"identifier":    mask(channelID, identifier),
		"request_count": counters.RequestCount,
		"expiry":        pending.ExpiresAt.Unix(),
	})

	return &RequestResult{
		Mode:       req.Mode,
		Channel:    channelID,
		Identifier: mask(channelID, identifier),
		ExpiresAt:  pending.ExpiresAt,
	}, nil
}

func (s *Service) checkBlocked(ctx context.Context, userID uuid.UUID, mode Mode) error {
	blocked, until, err := s.tracker.IsBlocked(ctx, userID)
	if err != nil {
		return err
	}
	if !blocked {
		return nil
	}
	return otperror.Blocked(string(mode), until.Unix()).
		WithDetail("user_id", userID.String())
}

// complete runs the owning controller's success path and returns its
// redirect
func (s *Service) complete(ctx context.Context, mode Mode, userID uuid.UUID) (string, error) {
	switch mode {
	case ModeTwoFactor:
		return s.twoFactor.Complete(ctx, userID)
	case ModeValidation:
		return s.validation.Complete(ctx, userID)
	case ModePasswordless:
		return s.passwordless.Complete(ctx, userID)
	default:
		return "", otperror.Newf(otperror.CodeInvalidGateway, "unknown mode %q", string(mode))
	}
}

// VerifyCode checks a submitted code. Failures count toward the lockout
// cap; success resets the counters and completes the owning mode.
func (s *Service) VerifyCode(ctx context.Context, req VerifyRequest) (*VerifyResult, error) {
	if !req.Mode.known() {
		return nil, otperror.Newf(otperror.CodeInvalidGateway, "unknown mode %q", string(req.Mode))
	}
	if req.Code == "" {
		return nil, otperror.New(otperror.CodeMissingCode, "a code is required").
			WithDetail("method", string(req.Mode))
	}
	channelID := s.channelID(req.Channel)

	userID, _, err := s.resolveTarget(ctx, req.Mode, req.UserID, req.Identifier, channelID)
	if err != nil {
		return nil, err
	}

	if err := s.checkBlocked(ctx, userID, req.Mode); err != nil {
		return nil, err
	}

	outcome, err := s.codes.Verify(ctx, userID, req.Code)
	if err != nil {
		return nil, err
	}

	if outcome != otpcode.OutcomeSuccess {
		counters, nowBlocked, failErr := s.tracker.OnVerifyFail(ctx, userID)
		if failErr != nil {
			return nil, failErr
		}

		data := map[string]interface{}{
			"user_id":      userID.String(),
			"method":       string(req.Mode),
			"outcome":      outcome.String(),
			"verify_count": counters.VerifyFailCount,
			"input_code":   req.Code,
		}
		s.audit.Warning(ctx, EventVerifyFailed, "code verification failed", data)
		if nowBlocked {
			s.audit.Alert(ctx, EventUserBlocked, "verification failure cap reached", data)
		}

		var verifyErr *otperror.Error
		switch outcome {
		case otpcode.OutcomeNotFound:
			verifyErr = otperror.New(otperror.CodeNotFound, "no code is pending")
		case otpcode.OutcomeExpired:
			verifyErr = otperror.New(otperror.CodeExpiredCode, "the code has expired")
		default:
			verifyErr = otperror.New(otperror.CodeInvalidCode, "the code does not match")
		}
		return nil, verifyErr.
			WithDetail("method", string(req.Mode)).
			WithDetail("verify_count", counters.VerifyFailCount).
			WithDetail("input_code", req.Code)
	}

	if err := s.tracker.OnVerifySuccess(ctx, userID); err != nil {
		return nil, err
	}

	redirect, err := s.complete(ctx, req.Mode, userID)
	if err != nil {
		return nil, err
	}

	s.audit.Success(ctx, EventCodeVerified, "code verified", map[string]interface{}{
		"user_id": userID.String(),
		"method":  string(req.Mode),
	})

	return &VerifyResult{
		Mode:        req.Mode,
		UserID:      userID,
		RedirectURL: redirect,
	}, nil
}

// SetIdentifier validates and stores an identifier for a user, then
// reports which mode still gates them
func (s *Service) SetIdentifier(ctx context.Context, req SetIdentifierRequest) (*SetIdentifierResult, error) {
	if req.UserID == uuid.Nil {
		return nil, otperror.InvalidUser("identifier")
	}
	if req.Identifier == "" {
		return nil, otperror.New(otperror.CodeMissingIdentifier, "an identifier is required")
	}
	channelID := s.channelID(req.Channel)

	stored, err := s.gateway.SetUserIdentifier(ctx, req.UserID, channelID, req.Identifier)
	if err != nil {
		switch {
		case errors.Is(err, gateway.ErrInvalidIdentifier):
			return nil, otperror.Wrap(err, otperror.CodeInvalidIdentifier, "the identifier is not valid").
				WithDetail("identifier", req.Identifier)
		case errors.Is(err, gateway.ErrDuplicateIdentifier):
			return nil, otperror.Wrap(err, otperror.CodeDuplicateIdentifier, "the identifier is already in use").
				WithDetail("identifier", req.Identifier)
		case errors.Is(err, gateway.ErrUnknownChannel):
			return nil, otperror.Wrap(err, otperror.CodeInvalidGateway, "unknown delivery channel")
		}
		return nil, err
	}

	s.audit.Info(ctx, EventIdentifierSet, "identifier updated", map[string]interface{}{
		"user_id":    req.UserID.String(),
		"channel":    channelID,
		"identifier": mask(channelID, stored),
	})

	decision, err := s.Decide(ctx, req.UserID, true)
	if err != nil {
		return nil, err
	}
	return &SetIdentifierResult{Identifier: stored, Decision: decision}, nil
}

// SwitchTwoFactor toggles 2FA for a user and reports the new state
func (s *Service) SwitchTwoFactor(ctx context.Context, userID uuid.UUID, active bool) error {
	if userID == uuid.Nil {
		return otperror.InvalidUser("twofactor")
	}
	return s.twoFactor.SetActive(ctx, userID, active)
}
