package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Limiter hands out one token bucket per key (client address, stream, ...).
// Buckets idle longer than the sweep age are dropped.
type Limiter struct {
	mu       sync.Mutex
	m        map[string]*entry
	limit    rate.Limit
	burst    int
	maxIdle  time.Duration
	lastScan time.Time
	now      func() time.Time
}

type entry struct {
	lim  *rate.Limiter
	seen time.Time
}

// New allows perSecond requests per key with the given burst.
func New(perSecond float64, burst int) *Limiter {
	if burst < 1 {
		burst = 1
	}
	return &Limiter{
		m:       make(map[string]*entry),
		limit:   rate.Limit(perSecond),
		burst:   burst,
		maxIdle: 10 * time.Minute,
		now:     time.Now,
	}
}

// Allow reports whether one request for key may proceed now.
func (l *Limiter) Allow(key string) bool {
	now := l.now()
	l.mu.Lock()
	e, ok := l.m[key]
	if !ok {
		e = &entry{lim: rate.NewLimiter(l.limit, l.burst)}
		l.m[key] = e
	}
	e.seen = now
	l.sweep(now)
	l.mu.Unlock()
	return e.lim.AllowN(now, 1)
}

func (l *Limiter) sweep(now time.Time) {
	if now.Sub(l.lastScan) < l.maxIdle {
		return
	}
	l.lastScan = now
	for k, e := range l.m {
		if now.Sub(e.seen) > l.maxIdle {
			delete(l.m, k)
		}
	}
}

// Len reports the number of tracked keys.
func (l *Limiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.m)
}
