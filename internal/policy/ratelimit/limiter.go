// Package ratelimit implements a per-host token bucket that gates captures.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/pdf-capture-service/internal/metrics"
)

// ErrLimited is returned when a host's bucket would make the caller wait
// longer than MaxWait.
var ErrLimited = errors.New("capture rate limit exceeded")

// Limiter manages per-host rate limits.
type Limiter struct {
	mu           sync.Mutex
	limiters     map[string]*rate.Limiter
	defaultRate  rate.Limit
	defaultBurst int
	maxWait      time.Duration
}

// Config holds rate limiter configuration.
type Config struct {
	PerHostRPS float64
	Burst      int
	// MaxWait bounds how long a caller queues for a token. Zero rejects any
	// request that cannot proceed immediately.
	MaxWait time.Duration
}

// New creates a new Limiter. A non-positive PerHostRPS disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.PerHostRPS)
	if cfg.PerHostRPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{
		limiters:     make(map[string]*rate.Limiter),
		defaultRate:  r,
		defaultBurst: burst,
		maxWait:      cfg.MaxWait,
	}
}

// Wait blocks until a token is available for rawURL's host, respecting the
// context. It fails fast with ErrLimited when the wait would exceed MaxWait.
func (l *Limiter) Wait(ctx context.Context, rawURL string) error {
	host := hostOf(rawURL)
	limiter := l.forHost(host)

	r := limiter.Reserve()
	delay := r.Delay()
	if delay > l.maxWait {
		r.Cancel()
		return fmt.Errorf("%w for %s", ErrLimited, host)
	}
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		metrics.ObserveRateLimitDelay(host, delay)
		return nil
	case <-ctx.Done():
		r.Cancel()
		return fmt.Errorf("rate limit wait: %w", ctx.Err())
	}
}

func (l *Limiter) forHost(host string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	limiter, exists := l.limiters[host]
	if !exists {
		limiter = rate.NewLimiter(l.defaultRate, l.defaultBurst)
		l.limiters[host] = limiter
	}
	return limiter
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return u.Hostname()
}
