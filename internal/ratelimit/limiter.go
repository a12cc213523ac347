// Package ratelimit paces probe attempts.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter paces requests across a run. A zero rate disables pacing.
type Limiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
	rate    float64
	burst   int
}

// NewLimiter creates a limiter allowing requestsPerSecond with the given
// burst. requestsPerSecond <= 0 means unlimited.
func NewLimiter(requestsPerSecond float64, burst int) *Limiter {
	l := &Limiter{}
	l.SetRate(requestsPerSecond, burst)
	return l
}

// Wait blocks until a request is allowed or ctx is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	lim := l.limiter
	l.mu.RUnlock()

	if lim == nil {
		return ctx.Err()
	}
	return lim.Wait(ctx)
}

// SetRate updates the rate. requestsPerSecond <= 0 disables pacing.
func (l *Limiter) SetRate(requestsPerSecond float64, burst int) {
	if burst < 1 {
		burst = 1
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.rate = requestsPerSecond
	l.burst = burst
	if requestsPerSecond <= 0 {
		l.limiter = nil
		return
	}
	l.limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), burst)
}

// Enabled reports whether pacing is active.
func (l *Limiter) Enabled() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.limiter != nil
}

// Stats returns limiter settings.
func (l *Limiter) Stats() LimiterStats {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return LimiterStats{
		Rate:    l.rate,
		Burst:   l.burst,
		Enabled: l.limiter != nil,
	}
}

// LimiterStats contains limiter settings.
type LimiterStats struct {
	Rate    float64 `json:"rate"`
	Burst   int     `json:"burst"`
	Enabled bool    `json:"enabled"`
}
