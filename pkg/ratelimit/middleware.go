package ratelimit

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/render"
)

// Config holds HTTP-level rate limiting settings. This sits in front of
// the per-user attempt tracking and caps raw request volume per client.
type Config struct {
	// Global caps the whole instance
	GlobalEnabled    bool
	GlobalCapacity   int
	GlobalRefillRate float64

	// PerIP caps each client address
	PerIPEnabled    bool
	PerIPCapacity   int
	PerIPRefillRate float64

	// EndpointLimits caps specific routes, keyed "METHOD /path",
	// counted per client address
	EndpointLimits map[string]EndpointLimit

	// BucketTTL is how long idle buckets stay in memory
	BucketTTL time.Duration
}

// EndpointLimit is the per-route cap
type EndpointLimit struct {
	Capacity   int
	RefillRate float64
}

// DefaultConfig allows 100 requests per minute per address and 1000 per
// minute overall. Route limits are left to the caller.
func DefaultConfig() *Config {
	return &Config{
		GlobalEnabled:    true,
		GlobalCapacity:   1000,
		GlobalRefillRate: 1000.0 / 60.0,

		PerIPEnabled:    true,
		PerIPCapacity:   100,
		PerIPRefillRate: 100.0 / 60.0,

		BucketTTL:      time.Hour,
		EndpointLimits: make(map[string]EndpointLimit),
	}
}

// Middleware applies the configured limits to incoming requests
type Middleware struct {
	config           *Config
	global           *Limiter
	perIP            *Limiter
	endpointLimiters map[string]*Limiter
	logger           *slog.Logger
}

// NewMiddleware creates the rate limiting middleware
func NewMiddleware(config *Config) *Middleware {
	if config == nil {
		config = DefaultConfig()
	}

	m := &Middleware{
		config:           config,
		endpointLimiters: make(map[string]*Limiter),
		logger:           slog.Default(),
	}
	if config.GlobalEnabled {
		m.global = NewLimiter(config.GlobalCapacity, config.GlobalRefillRate, 0)
	}
	if config.PerIPEnabled {
		m.perIP = NewLimiter(config.PerIPCapacity, config.PerIPRefillRate, config.BucketTTL)
	}
	for endpoint, limit := range config.EndpointLimits {
		m.endpointLimiters[endpoint] = NewLimiter(limit.Capacity, limit.RefillRate, config.BucketTTL)
	}
	return m
}

// rateLimitBody matches the API error envelope
type rateLimitBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Handler returns the middleware handler
func (m *Middleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.global != nil && !m.global.Allow("global") {
			m.refuse(w, r, "global")
			return
		}

		ip := clientIP(r)
		if m.perIP != nil && ip != "" && !m.perIP.Allow(ip) {
			m.refuse(w, r, "ip")
			return
		}

		endpointKey := r.Method + " " + r.URL.Path
		if limiter, exists := m.endpointLimiters[endpointKey]; exists {
			if !limiter.Allow(ip + ":" + endpointKey) {
				m.refuse(w, r, "endpoint")
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func (m *Middleware) refuse(w http.ResponseWriter, r *http.Request, limitType string) {
	m.logger.Warn("rate limit exceeded",
		"type", limitType,
		"ip", clientIP(r),
		"method", r.Method,
		"path", r.URL.Path,
	)

	w.Header().Set("Retry-After", "60")
	render.Status(r, http.StatusTooManyRequests)
	render.JSON(w, r, rateLimitBody{
		Code:    "OTP_TOO_MANY_REQUESTS",
		Message: "Too many requests, try again later",
	})
}

// clientIP resolves the client address, honoring proxy headers
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		return strings.TrimSpace(parts[0])
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	addr := r.RemoteAddr
	if idx := strings.LastIndex(addr, ":"); idx != -1 {
		return addr[:idx]
	}
	return addr
}
