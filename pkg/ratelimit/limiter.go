// Package ratelimit throttles operator commands per identity.
// It keeps the timestamps of accepted calls inside a trailing window, so no
// identity gets more than Limit accepted calls in any Window-long interval.
package ratelimit

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrRateLimitExceeded = errors.New("rate limit exceeded")

// ExceededError is returned when a call is rejected. It matches
// ErrRateLimitExceeded with errors.Is.
type ExceededError struct {
	Identity   string
	Limit      int
	Window     time.Duration
	RetryAfter time.Duration
}

func (e *ExceededError) Error() string {
	return fmt.Sprintf("%v: %d calls per %s, retry in %s",
		ErrRateLimitExceeded, e.Limit, e.Window, e.RetryAfter.Round(time.Second))
}

func (e *ExceededError) Unwrap() error { return ErrRateLimitExceeded }

// Config holds rate limiter configuration.
type Config struct {
	Limit  int
	Window time.Duration
}

// DefaultConfig returns the default rate limiting configuration.
func DefaultConfig() Config {
	return Config{
		Limit:  10,
		Window: time.Minute,
	}
}

// Limiter implements a per-identity sliding window.
type Limiter struct {
	config  Config
	mu      sync.Mutex
	windows map[string][]time.Time
	nowFunc func() time.Time
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now. Used by tests to drive the window.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) {
		if now != nil {
			l.nowFunc = now
		}
	}
}

// NewLimiter creates a new rate limiter with the given configuration.
// Non-positive fields fall back to DefaultConfig.
func NewLimiter(config Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if config.Limit <= 0 {
		config.Limit = def.Limit
	}
	if config.Window <= 0 {
		config.Window = def.Window
	}
	l := &Limiter{
		config:  config,
		windows: make(map[string][]time.Time),
		nowFunc: time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// CheckAndRecord prunes the identity's window and records the call if it is
// still under the limit. Rejected calls are not recorded.
func (l *Limiter) CheckAndRecord(identity string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	calls := l.prune(identity, now)

	if len(calls) >= l.config.Limit {
		return &ExceededError{
			Identity:   identity,
			Limit:      l.config.Limit,
			Window:     l.config.Window,
			RetryAfter: calls[0].Add(l.config.Window).Sub(now),
		}
	}

	l.windows[identity] = append(calls, now)
	return nil
}

// prune drops timestamps at or before now-Window. Caller holds l.mu.
func (l *Limiter) prune(identity string, now time.Time) []time.Time {
	calls := l.windows[identity]
	cutoff := now.Add(-l.config.Window)

	valid := 0
	for _, t := range calls {
		if t.After(cutoff) {
			calls[valid] = t
			valid++
		}
	}
	calls = calls[:valid]
	l.windows[identity] = calls
	return calls
}

// Status is a snapshot of one identity's window.
type Status struct {
	Identity string
	Used     int
	Limit    int
	ResetIn  time.Duration
}

// GetStatus returns the current rate limit status for an identity without
// recording a call.
func (l *Limiter) GetStatus(identity string) Status {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	calls := l.prune(identity, now)
	if len(calls) == 0 {
		delete(l.windows, identity)
	}

	status := Status{
		Identity: identity,
		Used:     len(calls),
		Limit:    l.config.Limit,
	}
	if len(calls) > 0 {
		status.ResetIn = calls[0].Add(l.config.Window).Sub(now)
	}
	return status
}

// Reset forgets all windows.
func (l *Limiter) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.windows = make(map[string][]time.Time)
}

// Cleanup removes identities whose windows have fully expired and returns
// how many were dropped.
func (l *Limiter) Cleanup() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.nowFunc()
	removed := 0
	for id := range l.windows {
		if len(l.prune(id, now)) == 0 {
			delete(l.windows, id)
			removed++
		}
	}
	return removed
}

// Tracked returns how many identities currently hold a window.
func (l *Limiter) Tracked() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.windows)
}
