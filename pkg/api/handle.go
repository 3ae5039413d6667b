package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/google/uuid"

	"github.com/tendant/simple-otp/pkg/gate"
	"github.com/tendant/simple-otp/pkg/otperror"
	"github.com/tendant/simple-otp/pkg/token"
	"github.com/tendant/simple-otp/pkg/twofa"
)

// Error codes raised by the handlers themselves, outside the service layer
const (
	codeBadRequest   = "OTP_BAD_REQUEST"
	codeInvalidToken = "OTP_INVALID_TOKEN"
	codeForced       = "OTP_2FA_FORCED"
)

// Handle serves the OTP gating HTTP API
type Handle struct {
	gate   *gate.Service
	tokens *token.Service
	logger *slog.Logger
}

// Option configures a Handle
type Option func(*Handle)

// WithLogger sets the handler logger
func WithLogger(logger *slog.Logger) Option {
	return func(h *Handle) {
		h.logger = logger
	}
}

// NewHandle creates a new OTP API handler
func NewHandle(gateService *gate.Service, tokens *token.Service, opts ...Option) *Handle {
	h := &Handle{
		gate:   gateService,
		tokens: tokens,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Handler returns a http.Handler for the OTP gating API
func Handler(h *Handle) http.Handler {
	r := chi.NewRouter()

	r.Get("/otp/decision", h.GetDecision)
	r.Post("/otp/request", h.RequestCode)
	r.Post("/otp/verify", h.VerifyCode)
	r.Post("/otp/identifier", h.SetIdentifier)
	r.Post("/2fa/switch", h.SwitchTwoFactor)

	return r
}

// GetDecision handles GET /otp/decision. It reports the mode currently
// gating the caller and issues a token for the code flow.
func (h *Handle) GetDecision(w http.ResponseWriter, r *http.Request) {
	userID := uuid.Nil
	authenticated := false
	if raw := r.URL.Query().Get("user_id"); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			renderBadRequest(w, r, "invalid user_id")
			return
		}
		userID = parsed
		authenticated = true
	}

	decision, err := h.gate.Decide(r.Context(), userID, authenticated)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	if decision == nil {
		render.Status(r, http.StatusOK)
		render.JSON(w, r, DecisionResponse{})
		return
	}

	tok, err := h.tokens.Issue(token.ScopeOTP)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, DecisionResponse{
		Mode:        string(decision.Mode),
		RedirectUrl: decision.RedirectURL,
		Token:       tok,
	})
}

// RequestCode handles POST /otp/request
func (h *Handle) RequestCode(w http.ResponseWriter, r *http.Request) {
	var req RequestCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderBadRequest(w, r, "invalid request body")
		return
	}
	if !h.checkToken(w, r, req.Token, token.ScopeOTP) {
		return
	}
	userID, ok := parseUserID(w, r, req.UserId)
	if !ok {
		return
	}

	result, err := h.gate.RequestCode(r.Context(), gate.CodeRequest{
		Mode:       gate.Mode(req.Mode),
		UserID:     userID,
		Identifier: req.Identifier,
		Channel:    req.Channel,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	// The request token is spent, hand out a fresh one for the verify call
	tok, err := h.tokens.Issue(token.ScopeOTP)
	if err != nil {
		h.renderError(w, r, err)
		return
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, RequestCodeResponse{
		Mode:       string(result.Mode),
		Channel:    result.Channel,
		Identifier: result.Identifier,
		ExpiresAt:  result.ExpiresAt.UTC().Format(time.RFC3339),
		Token:      tok,
	})
}

// VerifyCode handles POST /otp/verify
func (h *Handle) VerifyCode(w http.ResponseWriter, r *http.Request) {
	var req VerifyCodeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderBadRequest(w, r, "invalid request body")
		return
	}
	if !h.checkToken(w, r, req.Token, token.ScopeOTP) {
		return
	}
	userID, ok := parseUserID(w, r, req.UserId)
	if !ok {
		return
	}

	result, err := h.gate.VerifyCode(r.Context(), gate.VerifyRequest{
		Mode:       gate.Mode(req.Mode),
		UserID:     userID,
		Identifier: req.Identifier,
		Channel:    req.Channel,
		Code:       req.Code,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, VerifyCodeResponse{
		Mode:        string(result.Mode),
		UserId:      result.UserID.String(),
		RedirectUrl: result.RedirectURL,
	})
}

// SetIdentifier handles POST /otp/identifier
func (h *Handle) SetIdentifier(w http.ResponseWriter, r *http.Request) {
	var req SetIdentifierRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderBadRequest(w, r, "invalid request body")
		return
	}
	if !h.checkToken(w, r, req.Token, token.ScopeOTP) {
		return
	}
	userID, ok := parseUserID(w, r, req.UserId)
	if !ok {
		return
	}
	if userID == uuid.Nil {
		renderBadRequest(w, r, "user_id is required")
		return
	}

	result, err := h.gate.SetIdentifier(r.Context(), gate.SetIdentifierRequest{
		UserID:     userID,
		Channel:    req.Channel,
		Identifier: req.Identifier,
	})
	if err != nil {
		h.renderError(w, r, err)
		return
	}

	resp := SetIdentifierResponse{Identifier: result.Identifier}
	if result.Decision != nil {
		tok, err := h.tokens.Issue(token.ScopeOTP)
		if err != nil {
			h.renderError(w, r, err)
			return
		}
		resp.Mode = string(result.Decision.Mode)
		resp.Token = tok
	}
	render.Status(r, http.StatusOK)
	render.JSON(w, r, resp)
}

// SwitchTwoFactor handles POST /2fa/switch
func (h *Handle) SwitchTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req SwitchTwoFactorRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		renderBadRequest(w, r, "invalid request body")
		return
	}
	if !h.checkToken(w, r, req.Token, token.ScopeSwitch) {
		return
	}
	userID, ok := parseUserID(w, r, req.UserId)
	if !ok {
		return
	}
	if userID == uuid.Nil {
		renderBadRequest(w, r, "user_id is required")
		return
	}

	if err := h.gate.SwitchTwoFactor(r.Context(), userID, req.Active); err != nil {
		if errors.Is(err, twofa.ErrForced) {
			render.Status(r, http.StatusForbidden)
			render.JSON(w, r, ErrorResponse{
				Code:    codeForced,
				Message: "Two-factor is enforced and cannot be switched off",
			})
			return
		}
		h.renderError(w, r, err)
		return
	}

	render.Status(r, http.StatusOK)
	render.JSON(w, r, SwitchTwoFactorResponse{Active: req.Active})
}

// checkToken validates the anti-replay token and renders 401 on failure
func (h *Handle) checkToken(w http.ResponseWriter, r *http.Request, tok, scope string) bool {
	if err := h.tokens.Validate(tok, scope); err != nil {
		h.logger.Warn("rejected request token", "scope", scope, "error", err)
		render.Status(r, http.StatusUnauthorized)
		render.JSON(w, r, ErrorResponse{
			Code:    codeInvalidToken,
			Message: "Invalid or expired request token",
		})
		return false
	}
	return true
}

// renderError maps a service error to the error envelope
func (h *Handle) renderError(w http.ResponseWriter, r *http.Request, err error) {
	var otpErr *otperror.Error
	if errors.As(err, &otpErr) {
		render.Status(r, otpErr.HTTPStatusCode())
		render.JSON(w, r, ErrorResponse{
			Code:    string(otpErr.Code),
			Message: otpErr.Message,
			Data:    otperror.PublicDetails(otpErr),
		})
		return
	}

	h.logger.Error("request failed", "error", err)
	render.Status(r, http.StatusInternalServerError)
	render.JSON(w, r, ErrorResponse{
		Code:    string(otperror.CodeInternal),
		Message: "An internal error occurred",
	})
}

func renderBadRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Code: codeBadRequest, Message: message})
}

// parseUserID parses the optional user_id field. Empty means anonymous.
func parseUserID(w http.ResponseWriter, r *http.Request, raw string) (uuid.UUID, bool) {
	if raw == "" {
		return uuid.Nil, true
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		renderBadRequest(w, r, "invalid user_id")
		return uuid.Nil, false
	}
	return userID, true
}
