// Package ratelimit paces transaction submissions at a strict minimum
// interval, used as the global submission-rate cap in parallel mode.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Limiter issues permits no faster than the configured interval by
// tracking the next available permit time. Unlike a token bucket this
// enforces a strict minimum gap between permits, preventing bursts.
type Limiter struct {
	mu             sync.Mutex
	nextPermitTime time.Time
	interval       time.Duration
}

// New creates a Limiter with the given minimum interval between permits.
// A non-positive interval yields a limiter whose Wait never blocks.
func New(interval time.Duration) *Limiter {
	return &Limiter{
		nextPermitTime: time.Now(),
		interval:       interval,
	}
}

// NewRate creates a Limiter from a permits-per-second rate.
func NewRate(perSec float64) *Limiter {
	if perSec <= 0 {
		return New(0)
	}
	return New(time.Duration(float64(time.Second) / perSec))
}

// Wait blocks until a permit is available or the context is cancelled.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.Lock()
	if l.interval <= 0 {
		l.mu.Unlock()
		return ctx.Err()
	}

	permitTime := l.nextPermitTime
	l.nextPermitTime = permitTime.Add(l.interval)
	l.mu.Unlock()

	waitDuration := time.Until(permitTime)
	// Behind schedule: proceed immediately and catch up.
	if waitDuration <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(waitDuration)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// SetInterval updates the minimum permit spacing. Takes effect for
// subsequent permits.
func (l *Limiter) SetInterval(interval time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.interval = interval
	// Reset the schedule so a decrease does not stall and an increase
	// does not burst.
	if now := time.Now(); l.nextPermitTime.Before(now) {
		l.nextPermitTime = now
	}
}

// Interval returns the current minimum permit spacing.
func (l *Limiter) Interval() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.interval
}
