package attempt

import "time"

// Counters is the per-user attempt state. A rolling tracking window caps
// how long request and verify-failure counts accumulate; hitting either
// cap sets a block.
type Counters struct {
	RequestCount    int       `json:"request_count"`
	VerifyFailCount int       `json:"verify_fail_count"`
	WindowExpiresAt time.Time `json:"window_expires_at"`
	BlockedUntil    time.Time `json:"blocked_until"`
	LastRequestAt   time.Time `json:"last_request_at"`
}

// Policy holds the limits applied to attempt counters. A zero cap
// disables that cap.
type Policy struct {
	MaxRequest    int           // code requests allowed per window
	MaxVerify     int           // failed verifications allowed per window
	TrackWindow   time.Duration // how long counters accumulate
	BlockDuration time.Duration // how long a block lasts once triggered
	RequestWait   time.Duration // minimum gap between code requests
}

// IsBlocked reports whether the counters carry an active block
func (c Counters) IsBlocked(now time.Time) bool {
	return now.Before(c.BlockedUntil)
}

// IsThrottled reports whether a new code request comes too soon after the
// previous one
func (c Counters) IsThrottled(now time.Time, wait time.Duration) bool {
	if wait <= 0 || c.LastRequestAt.IsZero() {
		return false
	}
	return now.Before(c.LastRequestAt.Add(wait))
}

// settle applies the lazy window reset: once the tracking window has
// elapsed the counters start over. An elapsed block is also dropped so a
// stale BlockedUntil never outlives its usefulness.
func (c Counters) settle(now time.Time, p Policy) Counters {
	if !c.WindowExpiresAt.IsZero() && now.After(c.WindowExpiresAt) {
		c.RequestCount = 0
		c.VerifyFailCount = 0
		c.WindowExpiresAt = time.Time{}
	}
	if !c.BlockedUntil.IsZero() && !now.Before(c.BlockedUntil) {
		c.BlockedUntil = time.Time{}
	}
	return c
}

// onRequest records a code request against the counters
func (c Counters) onRequest(now time.Time, p Policy) Counters {
	c = c.settle(now, p)
	if c.WindowExpiresAt.IsZero() {
		c.WindowExpiresAt = now.Add(p.TrackWindow)
	}
	c.LastRequestAt = now
	if p.MaxRequest <= 0 {
		return c
	}
	if c.RequestCount < p.MaxRequest {
		c.RequestCount++
	}
	if c.RequestCount >= p.MaxRequest {
		c.BlockedUntil = now.Add(p.BlockDuration)
	}
	return c
}

// onVerifyFail records a failed verification against the counters
func (c Counters) onVerifyFail(now time.Time, p Policy) Counters {
	c = c.settle(now, p)
	if c.WindowExpiresAt.IsZero() {
		c.WindowExpiresAt = now.Add(p.TrackWindow)
	}
	if p.MaxVerify <= 0 {
		return c
	}
	if c.VerifyFailCount < p.MaxVerify {
		c.VerifyFailCount++
	}
	if c.VerifyFailCount >= p.MaxVerify {
		c.BlockedUntil = now.Add(p.BlockDuration)
	}
	return c
}
