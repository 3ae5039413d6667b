package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendant/simple-otp/pkg/attempt"
	"github.com/tendant/simple-otp/pkg/auditlog"
	"github.com/tendant/simple-otp/pkg/gate"
	"github.com/tendant/simple-otp/pkg/gateway"
	"github.com/tendant/simple-otp/pkg/otpcode"
	"github.com/tendant/simple-otp/pkg/passwordless"
	"github.com/tendant/simple-otp/pkg/token"
	"github.com/tendant/simple-otp/pkg/twofa"
	"github.com/tendant/simple-otp/pkg/userstore"
	"github.com/tendant/simple-otp/pkg/validation"
)

// memoChannel records the last dispatched code for assertions
type memoChannel struct {
	lastCode string
	lastTo   string
}

func (c *memoChannel) ID() string { return "email" }

func (c *memoChannel) Sanitize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (c *memoChannel) IsValid(identifier string) bool {
	return strings.Contains(identifier, "@")
}

func (c *memoChannel) BuildMessage(code string, expiresAt time.Time) gateway.Message {
	return gateway.Message{Subject: "code", Body: code}
}

func (c *memoChannel) Dispatch(ctx context.Context, identifier string, msg gateway.Message) error {
	c.lastCode = msg.Body
	c.lastTo = identifier
	return nil
}

type testAPI struct {
	server  http.Handler
	tokens  *token.Service
	store   *userstore.InMemUserStore
	gateway *gateway.Service
	gate    *gate.Service
	channel *memoChannel
}

func setupTestAPI(t *testing.T, twoFAConfig twofa.Config) *testAPI {
	a := &testAPI{
		tokens:  token.NewService([]byte("test-secret"), "otp-test", time.Minute),
		store:   userstore.NewInMemUserStore(),
		channel: &memoChannel{},
	}
	a.gateway = gateway.NewService(a.store, []gateway.Channel{a.channel})

	codes := otpcode.NewService(otpcode.NewInMemCodeRepository(), otpcode.WithExpiry(5*time.Minute))
	tracker := attempt.NewTracker(attempt.NewInMemRepository(), attempt.WithPolicy(attempt.Policy{
		MaxRequest:    10,
		MaxVerify:     3,
		TrackWindow:   24 * time.Hour,
		BlockDuration: 5 * time.Minute,
	}))
	twoFA := twofa.NewService(a.store, twoFAConfig, nil)
	valid := validation.NewService(a.store, validation.Config{Enabled: true, Expiry: validation.ExpiryNever}, nil)
	pwless := passwordless.NewService(a.gateway,
		passwordless.AuthenticatorFunc(func(ctx context.Context, userID uuid.UUID) error { return nil }),
		passwordless.Config{Enabled: false}, nil)

	auditRepo, err := auditlog.NewFileRepository(t.TempDir())
	require.NoError(t, err)
	audit := auditlog.NewService(auditRepo)

	a.gate = gate.NewService(a.store, a.gateway, codes, tracker, twoFA, valid, pwless, audit,
		gate.Config{DefaultChannel: "email"}, nil)

	a.server = Handler(NewHandle(a.gate, a.tokens))
	return a
}

func (a *testAPI) addUser(t *testing.T, email string) uuid.UUID {
	user := userstore.User{ID: uuid.New(), Login: email}
	a.store.AddUser(user)
	_, err := a.gateway.SetUserIdentifier(context.Background(), user.ID, "email", email)
	require.NoError(t, err)
	return user.ID
}

func (a *testAPI) post(t *testing.T, path string, body interface{}) *httptest.ResponseRecorder {
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRequestAndVerifyFlow(t *testing.T) {
	a := setupTestAPI(t, twofa.Config{Enabled: true})
	userID := a.addUser(t, "alice@example.com")

	tok, err := a.tokens.Issue(token.ScopeOTP)
	require.NoError(t, err)

	rec := a.post(t, "/otp/request", RequestCodeRequest{
		Token:  tok,
		Mode:   "validation",
		UserId: userID.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	requested := decode[RequestCodeResponse](t, rec)
	assert.Equal(t, "email", requested.Channel)
	assert.NotEqual(t, "alice@example.com", requested.Identifier, "identifier must be masked")
	assert.NotEmpty(t, requested.Token)
	require.NotEmpty(t, a.channel.lastCode)

	rec = a.post(t, "/otp/verify", VerifyCodeRequest{
		Token:  requested.Token,
		Mode:   "validation",
		UserId: userID.String(),
		Code:   a.channel.lastCode,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	verified := decode[VerifyCodeResponse](t, rec)
	assert.Equal(t, userID.String(), verified.UserId)
}

func TestRejectsMissingOrWrongScopeToken(t *testing.T) {
	a := setupTestAPI(t, twofa.Config{Enabled: true})
	userID := a.addUser(t, "alice@example.com")

	rec := a.post(t, "/otp/request", RequestCodeRequest{
		Mode:   "validation",
		UserId: userID.String(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "OTP_INVALID_TOKEN", decode[ErrorResponse](t, rec).Code)

	switchToken, err := a.tokens.Issue(token.ScopeSwitch)
	require.NoError(t, err)
	rec = a.post(t, "/otp/request", RequestCodeRequest{
		Token:  switchToken,
		Mode:   "validation",
		UserId: userID.String(),
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestWrongCodeEnvelope(t *testing.T) {
	a := setupTestAPI(t, twofa.Config{Enabled: true})
	userID := a.addUser(t, "alice@example.com")

	tok, err := a.tokens.Issue(token.ScopeOTP)
	require.NoError(t, err)
	rec := a.post(t, "/otp/request", RequestCodeRequest{
		Token:  tok,
		Mode:   "validation",
		UserId: userID.String(),
	})
	require.Equal(t, http.StatusOK, rec.Code)

	tok, err = a.tokens.Issue(token.ScopeOTP)
	require.NoError(t, err)
	rec = a.post(t, "/otp/verify", VerifyCodeRequest{
		Token:  tok,
		Mode:   "validation",
		UserId: userID.String(),
		Code:   "WRONG1",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	envelope := decode[ErrorResponse](t, rec)
	assert.Equal(t, "OTP_INVALID_CODE", envelope.Code)
	assert.EqualValues(t, 1, envelope.Data["verify_count"])
}

func TestSetIdentifier(t *testing.T) {
	a := setupTestAPI(t, twofa.Config{Enabled: true})
	userID := a.addUser(t, "alice@example.com")
	otherID := a.addUser(t, "bob@example.com")

	tok, err := a.tokens.Issue(token.ScopeOTP)
	require.NoError(t, err)
	rec := a.post(t, "/otp/identifier", SetIdentifierRequest{
		Token:      tok,
		UserId:     userID.String(),
		Identifier: "Alice.New@Example.com",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "alice.new@example.com", decode[SetIdentifierResponse](t, rec).Identifier)

	tok, err = a.tokens.Issue(token.ScopeOTP)
	require.NoError(t, err)
	rec = a.post(t, "/otp/identifier", SetIdentifierRequest{
		Token:      tok,
		UserId:     otherID.String(),
		Identifier: "alice.new@example.com",
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "OTP_DUPLICATE_IDENTIFIER", decode[ErrorResponse](t, rec).Code)
}

func TestSwitchTwoFactor(t *testing.T) {
	a := setupTestAPI(t, twofa.Config{Enabled: true})
	userID := a.addUser(t, "alice@example.com")

	tok, err := a.tokens.Issue(token.ScopeSwitch)
	require.NoError(t, err)
	rec := a.post(t, "/2fa/switch", SwitchTwoFactorRequest{
		Token:  tok,
		UserId: userID.String(),
		Active: true,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, decode[SwitchTwoFactorResponse](t, rec).Active)
}

func TestSwitchTwoFactorForced(t *testing.T) {
	a := setupTestAPI(t, twofa.Config{Enabled: true, Force: true})
	userID := a.addUser(t, "alice@example.com")

	tok, err := a.tokens.Issue(token.ScopeSwitch)
	require.NoError(t, err)
	rec := a.post(t, "/2fa/switch", SwitchTwoFactorRequest{
		Token:  tok,
		UserId: userID.String(),
		Active: false,
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "OTP_2FA_FORCED", decode[ErrorResponse](t, rec).Code)
}

func TestDecision(t *testing.T) {
	a := setupTestAPI(t, twofa.Config{Enabled: true, Default: true})
	userID := a.addUser(t, "alice@example.com")
	require.NoError(t, a.gate.OnLogin(context.Background(), userID))

	req := httptest.NewRequest(http.MethodGet, "/otp/decision?user_id="+userID.String(), nil)
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decision := decode[DecisionResponse](t, rec)
	assert.Equal(t, "twofactor", decision.Mode)
	assert.NotEmpty(t, decision.Token)
}

func TestBadRequestBody(t *testing.T) {
	a := setupTestAPI(t, twofa.Config{Enabled: true})

	req := httptest.NewRequest(http.MethodPost, "/otp/request", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	a.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OTP_BAD_REQUEST", decode[ErrorResponse](t, rec).Code)
}
