package ratelimit

import (
	"sync"
	"time"
)

// bucket is a single token bucket. Tokens refill continuously at
// refillRate per second up to capacity.
type bucket struct {
	mu         sync.Mutex
	capacity   int
	tokens     float64
	refillRate float64
	lastRefill time.Time
}

func newBucket(capacity int, refillRate float64, now time.Time) *bucket {
	return &bucket{
		capacity:   capacity,
		tokens:     float64(capacity),
		refillRate: refillRate,
		lastRefill: now,
	}
}

func (b *bucket) take(now time.Time) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	elapsed := now.Sub(b.lastRefill).Seconds()
	b.tokens += elapsed * b.refillRate
	if b.tokens > float64(b.capacity) {
		b.tokens = float64(b.capacity)
	}
	b.lastRefill = now

	if b.tokens < 1.0 {
		return false
	}
	b.tokens -= 1.0
	return true
}

// Limiter tracks one token bucket per key. Inactive buckets are swept
// out after the TTL.
type Limiter struct {
	mu         sync.Mutex
	buckets    map[string]*bucket
	capacity   int
	refillRate float64
	ttl        time.Duration
	clock      func() time.Time
}

// NewLimiter creates a keyed rate limiter. capacity bounds the burst per
// key, refillRate is requests per second per key, ttl is how long an
// idle bucket is kept (0 keeps them forever).
func NewLimiter(capacity int, refillRate float64, ttl time.Duration) *Limiter {
	l := &Limiter{
		buckets:    make(map[string]*bucket),
		capacity:   capacity,
		refillRate: refillRate,
		ttl:        ttl,
		clock:      time.Now,
	}
	if ttl > 0 {
		go l.sweep()
	}
	return l
}

// Allow reports whether a request under the given key may proceed
func (l *Limiter) Allow(key string) bool {
	now := l.clock()

	l.mu.Lock()
	b, exists := l.buckets[key]
	if !exists {
		b = newBucket(l.capacity, l.refillRate, now)
		l.buckets[key] = b
	}
	l.mu.Unlock()

	return b.take(now)
}

// Reset refills the bucket for a key
func (l *Limiter) Reset(key string) {
	now := l.clock()
	l.mu.Lock()
	defer l.mu.Unlock()
	if b, exists := l.buckets[key]; exists {
		b.mu.Lock()
		b.tokens = float64(b.capacity)
		b.lastRefill = now
		b.mu.Unlock()
	}
}

// Len returns the number of live buckets
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}

func (l *Limiter) sweep() {
	ticker := time.NewTicker(l.ttl)
	defer ticker.Stop()

	for range ticker.C {
		now := l.clock()
		l.mu.Lock()
		for key, b := range l.buckets {
			b.mu.Lock()
			idle := now.Sub(b.lastRefill) > l.ttl
			b.mu.Unlock()
			if idle {
				delete(l.buckets, key)
			}
		}
		l.mu.Unlock()
	}
}
