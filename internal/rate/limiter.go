package rate

import (
	"context"
	"sync"
	"time"
)

// Config defines pacing parameters for an agent's outbound requests.
type Config struct {
	RequestsPerSecond int
	Burst             int
	// Cooldown, when set, pauses refill entirely after a blocked attempt.
	Cooldown time.Duration
}

// Limiter is a token bucket. Takers use one to pace RFQ initiation so a
// single agent cannot flood the venue.
type Limiter struct {
	mu        sync.Mutex
	tokens    float64
	last      time.Time
	rate      float64
	burst     float64
	cooldown  time.Duration
	lastBlock time.Time
}

func New(cfg Config) *Limiter {
	return &Limiter{
		tokens:   float64(cfg.Burst),
		last:     time.Now(),
		rate:     float64(cfg.RequestsPerSecond),
		burst:    float64(cfg.Burst),
		cooldown: cfg.Cooldown,
	}
}

// Allow consumes a token if one is available.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if l.cooldown > 0 && now.Sub(l.lastBlock) < l.cooldown {
		return false
	}
	elapsed := now.Sub(l.last).Seconds()
	l.last = now

	l.tokens += elapsed * l.rate
	if l.tokens > l.burst {
		l.tokens = l.burst
	}

	if l.tokens >= 1 {
		l.tokens -= 1
		return true
	}
	l.lastBlock = now
	return false
}

// Wait blocks until a token becomes available or ctx is canceled.
func (l *Limiter) Wait(ctx context.Context) error {
	for {
		if l.Allow() {
			return nil
		}
		select {
		case <-time.After(50 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
