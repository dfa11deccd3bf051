package ipc

import (
	"sync"

	"golang.org/x/time/rate"
)

const (
	defaultMaxPushClients = 64
	maxWSReadBytesPush    = 4 << 10
	defaultRunListLimit   = 50
	maxRunListLimit       = 500
)

// startLimiter applies a token bucket per action so one noisy action cannot
// starve the others.
type startLimiter struct {
	limit rate.Limit
	burst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// newStartLimiter returns nil, meaning unlimited, when perSecond is not
// positive.
func newStartLimiter(perSecond float64, burst int) *startLimiter {
	if perSecond <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return &startLimiter{
		limit:    rate.Limit(perSecond),
		burst:    burst,
		limiters: make(map[string]*rate.Limiter),
	}
}

func (l *startLimiter) Allow(name string) bool {
	if l == nil {
		return true
	}
	l.mu.Lock()
	lim, ok := l.limiters[name]
	if !ok {
		lim = rate.NewLimiter(l.limit, l.burst)
		l.limiters[name] = lim
	}
	l.mu.Unlock()
	return lim.Allow()
}
