package main

import (
	"context"
	"sync"
	"time"
)

// RateLimiter implements a token bucket rate limiter.
// Allows bursts up to maxTokens, refilling at refillRate tokens per second.
type RateLimiter struct {
	tokens     float64
	maxTokens  float64
	refillRate float64 // tokens per second
	lastRefill time.Time
	mu         sync.Mutex
}

func newRateLimiter(burst, perSecond float64, now time.Time) *RateLimiter {
	return &RateLimiter{
		tokens:     burst,
		maxTokens:  burst,
		refillRate: perSecond,
		lastRefill: now,
	}
}

// allowAt takes a token if one is available at now
func (rl *RateLimiter) allowAt(now time.Time) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rl.tokens += now.Sub(rl.lastRefill).Seconds() * rl.refillRate
	if rl.tokens > rl.maxTokens {
		rl.tokens = rl.maxTokens
	}
	rl.lastRefill = now

	if rl.tokens >= 1.0 {
		rl.tokens -= 1.0
		return true
	}
	return false
}

func (rl *RateLimiter) idleSince(now time.Time) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return now.Sub(rl.lastRefill)
}

// IPRateLimiter limits requests per source IP to rate per minute, with a
// burst of rate. A rate of zero or less disables limiting.
type IPRateLimiter struct {
	limiters map[string]*RateLimiter
	rate     int
	idle     time.Duration
	now      func() time.Time
	mu       sync.Mutex
}

// NewIPRateLimiter creates a limiter allowing perMinute requests per IP
func NewIPRateLimiter(perMinute int) *IPRateLimiter {
	return &IPRateLimiter{
		limiters: make(map[string]*RateLimiter),
		rate:     perMinute,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Allow reports whether ip may make another request
func (l *IPRateLimiter) Allow(ip string) bool {
	if l == nil || l.rate <= 0 {
		return true
	}
	now := l.now()

	l.mu.Lock()
	limiter, ok := l.limiters[ip]
	if !ok {
		limiter = newRateLimiter(float64(l.rate), float64(l.rate)/60.0, now)
		l.limiters[ip] = limiter
	}
	l.mu.Unlock()

	return limiter.allowAt(now)
}

// Cleanup forgets IPs that have been idle for ten minutes
func (l *IPRateLimiter) Cleanup() {
	if l == nil {
		return
	}
	now := l.now()
	l.mu.Lock()
	defer l.mu.Unlock()
	for ip, limiter := range l.limiters {
		if limiter.idleSince(now) > l.idle {
			delete(l.limiters, ip)
		}
	}
}

// Len returns the number of tracked IPs
func (l *IPRateLimiter) Len() int {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// Run calls Cleanup every minute until ctx is done
func (l *IPRateLimiter) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Cleanup()
		}
	}
}
