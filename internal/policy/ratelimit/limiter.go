// Package ratelimit implements a per-caller token bucket used to throttle
// write requests.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// defaultMaxKeys caps how many caller buckets are tracked before idle ones are evicted.
const defaultMaxKeys = 10000

// Config holds rate limiter configuration. A non-positive RPS disables limiting.
type Config struct {
	RPS     float64
	Burst   int
	MaxKeys int
	IdleTTL time.Duration
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages per-key rate limits.
type Limiter struct {
	mu       sync.Mutex
	buckets  map[string]*bucket
	rate     rate.Limit
	burst    int
	maxKeys  int
	idleTTL  time.Duration
	now      func() time.Time
	disabled bool
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	maxKeys := cfg.MaxKeys
	if maxKeys <= 0 {
		maxKeys = defaultMaxKeys
	}
	idle := cfg.IdleTTL
	if idle <= 0 {
		idle = 10 * time.Minute
	}
	return &Limiter{
		buckets:  make(map[string]*bucket),
		rate:     rate.Limit(cfg.RPS),
		burst:    burst,
		maxKeys:  maxKeys,
		idleTTL:  idle,
		now:      time.Now,
		disabled: cfg.RPS <= 0,
	}
}

// Enabled reports whether the limiter ever rejects.
func (l *Limiter) Enabled() bool {
	return l != nil && !l.disabled
}

// Allow takes a token for key, reporting false when the caller is over its rate.
func (l *Limiter) Allow(key string) bool {
	if !l.Enabled() {
		return true
	}
	now := l.now()
	l.mu.Lock()
	b, ok := l.buckets[key]
	if !ok {
		if len(l.buckets) >= l.maxKeys {
			l.evictIdle(now)
		}
		b = &bucket{limiter: rate.NewLimiter(l.rate, l.burst)}
		l.buckets[key] = b
	}
	b.lastSeen = now
	l.mu.Unlock()
	return b.limiter.AllowN(now, 1)
}

// evictIdle drops buckets unused for idleTTL. If none are idle the whole map
// is reset, which at worst hands every caller a fresh burst.
func (l *Limiter) evictIdle(now time.Time) {
	for k, b := range l.buckets {
		if now.Sub(b.lastSeen) >= l.idleTTL {
			delete(l.buckets, k)
		}
	}
	if len(l.buckets) >= l.maxKeys {
		l.buckets = make(map[string]*bucket)
	}
}

// Len returns the number of tracked callers.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.buckets)
}
