// Package breaker implements the process-wide circuit breaker that guards
// the relay's file-touching commands.
//
// After Threshold counted failures the breaker opens and every call fails
// with ErrOpen without running. Once Timeout has elapsed the next call is
// let through as a probe: success closes the breaker, failure re-opens it
// with a fresh cooldown.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit breaker open")

// State is the breaker's position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// OpenError is returned while the breaker rejects calls. It matches ErrOpen.
type OpenError struct {
	Name       string
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s: %v, retry in %s", e.Name, ErrOpen, e.RetryAfter.Round(time.Second))
	}
	return fmt.Sprintf("%s: %v", e.Name, ErrOpen)
}

func (e *OpenError) Unwrap() error { return ErrOpen }

// Config holds breaker thresholds.
type Config struct {
	Name      string
	Threshold int
	Timeout   time.Duration
}

func DefaultConfig() Config {
	return Config{
		Name:      "file-ops",
		Threshold: 5,
		Timeout:   5 * time.Minute,
	}
}

// Transition describes a state change delivered to listeners.
type Transition struct {
	Name     string
	From     State
	To       State
	Failures int
	Err      error // failure that caused the transition, if any
	At       time.Time
}

type Breaker struct {
	config Config

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time

	nowFunc   func() time.Time
	counts    func(error) bool
	listeners []func(Transition)
}

type Option func(*Breaker)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(b *Breaker) {
		if now != nil {
			b.nowFunc = now
		}
	}
}

// WithFailureClassifier decides which errors count as failures. Errors for
// which fn returns false are treated as successes.
func WithFailureClassifier(fn func(error) bool) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.counts = fn
		}
	}
}

// WithStateListener registers fn for state transitions. Listeners run
// synchronously after the breaker's lock is released.
func WithStateListener(fn func(Transition)) Option {
	return func(b *Breaker) {
		if fn != nil {
			b.listeners = append(b.listeners, fn)
		}
	}
}

func New(config Config, opts ...Option) *Breaker {
	def := DefaultConfig()
	if config.Name == "" {
		config.Name = def.Name
	}
	if config.Threshold <= 0 {
		config.Threshold = def.Threshold
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	b := &Breaker{
		config:  config,
		nowFunc: time.Now,
		counts:  func(err error) bool { return err != nil },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Allow admits a call or returns an *OpenError. Every admitted call must be
// followed by exactly one Record or Release.
func (b *Breaker) Allow() error {
	b.mu.Lock()

	switch b.state {
	case Closed:
		b.mu.Unlock()
		return nil

	case Open:
		now := b.nowFunc()
		elapsed := now.Sub(b.openedAt)
		if elapsed < b.config.Timeout {
			b.mu.Unlock()
			return &OpenError{Name: b.config.Name, RetryAfter: b.config.Timeout - elapsed}
		}
		t := b.transitionLocked(HalfOpen, nil, now)
		b.mu.Unlock()
		b.notify(t)
		return nil

	default:
		// a probe is already in flight
		b.mu.Unlock()
		return &OpenError{Name: b.config.Name}
	}
}

// Release returns an admitted call that never reached the protected
// resource, so it says nothing about its health. A half-open breaker goes
// back to open with its cooldown already spent, and the next call probes.
func (b *Breaker) Release() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.state = Open
	}
}

// Record reports the outcome of an admitted call.
func (b *Breaker) Record(err error) {
	b.mu.Lock()

	failed := b.counts(err)
	now := b.nowFunc()
	var t *Transition

	switch b.state {
	case HalfOpen:
		if failed {
			b.failures++
			t = b.transitionLocked(Open, err, now)
		} else {
			b.failures = 0
			t = b.transitionLocked(Closed, nil, now)
		}

	case Closed:
		if !failed {
			b.failures = 0
			break
		}
		b.failures++
		if b.failures >= b.config.Threshold {
			t = b.transitionLocked(Open, err, now)
		}

	case Open:
		// Late result from a call admitted before the breaker opened.
		if failed {
			b.failures++
		}
	}

	b.mu.Unlock()
	b.notify(t)
}

// Execute runs fn if the breaker admits it and records the result.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}
	err := fn(ctx)
	b.Record(err)
	return err
}

// State returns the current state. An open breaker whose cooldown has passed
// still reports Open until the next call probes it.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Failures returns the current failure count.
func (b *Breaker) Failures() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures
}

// Snapshot is a read-only view for status output.
type Snapshot struct {
	Name     string
	State    State
	Failures int
	OpenedAt time.Time
	RetryIn  time.Duration
}

func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	s := Snapshot{
		Name:     b.config.Name,
		State:    b.state,
		Failures: b.failures,
		OpenedAt: b.openedAt,
	}
	if b.state == Open {
		if left := b.config.Timeout - b.nowFunc().Sub(b.openedAt); left > 0 {
			s.RetryIn = left
		}
	}
	return s
}

// Reset closes the breaker and clears the failure count.
func (b *Breaker) Reset() {
	b.mu.Lock()
	var t *Transition
	if b.state != Closed {
		t = b.transitionLocked(Closed, nil, b.nowFunc())
	}
	b.failures = 0
	b.mu.Unlock()
	b.notify(t)
}

func (b *Breaker) transitionLocked(to State, cause error, now time.Time) *Transition {
	from := b.state
	b.state = to
	if to == Open {
		b.openedAt = now
	}
	if to == Closed {
		b.openedAt = time.Time{}
	}
	return &Transition{
		Name:     b.config.Name,
		From:     from,
		To:       to,
		Failures: b.failures,
		Err:      cause,
		At:       now,
	}
}

func (b *Breaker) notify(t *Transition) {
	if t == nil {
		return
	}
	for _, fn := range b.listeners {
		fn(*t)
	}
}
