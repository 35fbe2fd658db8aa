// Package ratelimit limits turns per user.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultMaxKeys = 10000
	defaultIdle    = 10 * time.Minute
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Limiter manages a token bucket per key. A zero RPS disables limiting.
type Limiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	rps     float64
	burst   int
	maxKeys int
	idle    time.Duration
	now     func() time.Time
}

func New(rps float64, burst int) *Limiter {
	if burst <= 0 {
		burst = max(1, int(rps*2))
	}
	return &Limiter{
		entries: make(map[string]*entry),
		rps:     rps,
		burst:   burst,
		maxKeys: defaultMaxKeys,
		idle:    defaultIdle,
		now:     time.Now,
	}
}

// Allow reports whether a request for key may proceed now, consuming a
// token if so.
func (l *Limiter) Allow(key string) bool {
	if l == nil || l.rps <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	e, ok := l.entries[key]
	if !ok {
		if len(l.entries) >= l.maxKeys {
			l.pruneLocked(now)
		}
		e = &entry{limiter: rate.NewLimiter(rate.Limit(l.rps), l.burst)}
		l.entries[key] = e
	}
	e.lastSeen = now
	l.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// Len returns the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// pruneLocked drops keys idle for longer than l.idle.
func (l *Limiter) pruneLocked(now time.Time) {
	for k, e := range l.entries {
		if now.Sub(e.lastSeen) > l.idle {
			delete(l.entries, k)
		}
	}
}
