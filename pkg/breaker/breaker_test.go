package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDisk = errors.New("disk on fire")

type testClock struct{ now time.Time }

func (c *testClock) Now() time.Time          { return c.now }
func (c *testClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestBreaker(opts ...Option) (*Breaker, *testClock) {
	clock := &testClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return New(Config{Name: "test", Threshold: 3, Timeout: time.Minute}, opts...), clock
}

func failing(context.Context) error { return errDisk }
func succeeding(context.Context) error { return nil }

func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		assert.ErrorIs(t, b.Execute(ctx, failing), errDisk)
	}
	assert.Equal(t, Open, b.State())

	calls := 0
	err := b.Execute(ctx, func(context.Context) error {
		calls++
		return nil
	})
	assert.True(t, errors.Is(err, ErrOpen), "got %v", err)
	assert.Zero(t, calls, "open breaker must not invoke the operation")

	var oe *OpenError
	require.True(t, errors.As(err, &oe))
	assert.Equal(t, time.Minute, oe.RetryAfter)
}

func TestBreaker_SuccessResetsCounter(t *testing.T) {
	b, _ := newTestBreaker()
	ctx := context.Background()

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	require.NoError(t, b.Execute(ctx, succeeding))
	assert.Equal(t, 0, b.Failures())

	_ = b.Execute(ctx, failing)
	_ = b.Execute(ctx, failing)
	assert.Equal(t, Closed, b.State())
}

func TestBreaker_ProbeAfterTimeout(t *testing.T) {
	b, clock := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}

	clock.Advance(59 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeeding), ErrOpen)

	clock.Advance(time.Second)
	calls := 0
	err := b.Execute(ctx, func(context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreaker_FailedProbeReopens(t *testing.T) {
	b, clock := newTestBreaker()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	clock.Advance(time.Minute)

	assert.ErrorIs(t, b.Execute(ctx, failing), errDisk)
	assert.Equal(t, Open, b.State())

	// fresh cooldown starts at the failed probe
	clock.Advance(30 * time.Second)
	assert.ErrorIs(t, b.Execute(ctx, succeeding), ErrOpen)
	clock.Advance(30 * time.Second)
	assert.NoError(t, b.Execute(ctx, succeeding))
}

func TestBreaker_OnlyOneProbe(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errDisk)
	}
	clock.Advance(time.Minute)

	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
	assert.ErrorIs(t, b.Allow(), ErrOpen)

	b.Record(nil)
	assert.NoError(t, b.Allow())
}

func TestBreaker_ReleaseKeepsProbeOpen(t *testing.T) {
	var transitions []Transition
	b, clock := newTestBreaker(WithStateListener(func(tr Transition) {
		transitions = append(transitions, tr)
	}))
	for i := 0; i < 3; i++ {
		require.NoError(t, b.Allow())
		b.Record(errDisk)
	}
	clock.Advance(time.Minute)

	require.NoError(t, b.Allow())
	b.Release()
	assert.Equal(t, Open, b.State())
	assert.Equal(t, 3, b.Failures())

	// no new cooldown: the next call probes right away
	require.NoError(t, b.Allow())
	assert.Equal(t, HalfOpen, b.State())
	b.Record(nil)
	assert.Equal(t, Closed, b.State())

	var to []State
	for _, tr := range transitions {
		to = append(to, tr.To)
	}
	assert.Equal(t, []State{Open, HalfOpen, HalfOpen, Closed}, to)
}

func TestBreaker_ReleaseWhileClosed(t *testing.T) {
	b, _ := newTestBreaker()
	require.NoError(t, b.Allow())
	b.Record(errDisk)
	require.NoError(t, b.Allow())
	b.Release()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 1, b.Failures())
}

func TestBreaker_FailureClassifier(t *testing.T) {
	errUser := errors.New("bad input")
	b, _ := newTestBreaker(WithFailureClassifier(func(err error) bool {
		return err != nil && !errors.Is(err, errUser)
	}))
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_ = b.Execute(ctx, func(context.Context) error { return errUser })
	}
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestBreaker_StateListener(t *testing.T) {
	var seen []Transition
	b, clock := newTestBreaker(WithStateListener(func(tr Transition) {
		seen = append(seen, tr)
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_ = b.Execute(ctx, failing)
	}
	clock.Advance(time.Minute)
	_ = b.Execute(ctx, succeeding)

	require.Len(t, seen, 3)
	assert.Equal(t, Closed, seen[0].From)
	assert.Equal(t, Open, seen[0].To)
	assert.Equal(t, 3, seen[0].Failures)
	assert.ErrorIs(t, seen[0].Err, errDisk)
	assert.Equal(t, HalfOpen, seen[1].To)
	assert.Equal(t, Closed, seen[2].To)
}

func TestBreaker_SnapshotAndReset(t *testing.T) {
	b, clock := newTestBreaker()
	for i := 0; i < 3; i++ {
		_ = b.Execute(context.Background(), failing)
	}
	clock.Advance(20 * time.Second)

	s := b.Snapshot()
	assert.Equal(t, Open, s.State)
	assert.Equal(t, 40*time.Second, s.RetryIn)
	assert.Equal(t, "open", s.State.String())

	b.Reset()
	assert.Equal(t, Closed, b.State())
	assert.Equal(t, 0, b.Failures())
}

func TestNew_Defaults(t *testing.T) {
	b := New(Config{})
	assert.Equal(t, 5, b.config.Threshold)
	assert.Equal(t, 5*time.Minute, b.config.Timeout)
	assert.Equal(t, "file-ops", b.config.Name)
}
