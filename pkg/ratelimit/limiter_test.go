package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLimiter_BurstThenRefuse(t *testing.T) {
	l := NewLimiter(3, 0, 0)

	for i := 0; i < 3; i++ {
		assert.True(t, l.Allow("k"), "request %d within burst", i+1)
	}
	assert.False(t, l.Allow("k"))
}

func TestLimiter_Refills(t *testing.T) {
	now := time.Now()
	l := NewLimiter(1, 1.0, 0)
	l.clock = func() time.Time { return now }

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))

	now = now.Add(1500 * time.Millisecond)
	assert.True(t, l.Allow("k"), "a token should have refilled")
	assert.False(t, l.Allow("k"))
}

func TestLimiter_KeysAreIndependent(t *testing.T) {
	l := NewLimiter(1, 0, 0)

	require.True(t, l.Allow("a"))
	require.False(t, l.Allow("a"))
	assert.True(t, l.Allow("b"))
	assert.Equal(t, 2, l.Len())
}

func TestLimiter_Reset(t *testing.T) {
	l := NewLimiter(1, 0, 0)

	require.True(t, l.Allow("k"))
	require.False(t, l.Allow("k"))
	l.Reset("k")
	assert.True(t, l.Allow("k"))
}

func TestMiddleware_PerIP(t *testing.T) {
	m := NewMiddleware(&Config{
		PerIPEnabled:    true,
		PerIPCapacity:   2,
		PerIPRefillRate: 0,
	})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	assert.Equal(t, http.StatusOK, send("10.0.0.1").Code)
	refused := send("10.0.0.1")
	assert.Equal(t, http.StatusTooManyRequests, refused.Code)
	assert.Contains(t, refused.Body.String(), "OTP_TOO_MANY_REQUESTS")

	assert.Equal(t, http.StatusOK, send("10.0.0.2").Code, "other addresses are unaffected")
}

func TestMiddleware_EndpointLimit(t *testing.T) {
	m := NewMiddleware(&Config{
		EndpointLimits: map[string]EndpointLimit{
			"POST /otp/request": {Capacity: 1, RefillRate: 0},
		},
	})
	handler := m.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(method, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = "10.0.0.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, send(http.MethodPost, "/otp/request").Code)
	assert.Equal(t, http.StatusTooManyRequests, send(http.MethodPost, "/otp/request").Code)
	assert.Equal(t, http.StatusOK, send(http.MethodGet, "/otp/decision").Code, "other routes are unaffected")
}

func TestMiddleware_ProxyHeaders(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
	assert.Equal(t, "203.0.113.7", clientIP(req))

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.8")
	assert.Equal(t, "203.0.113.8", clientIP(req))

	req.Header.Del("X-Real-IP")
	assert.Equal(t, "127.0.0.1", clientIP(req))
}
