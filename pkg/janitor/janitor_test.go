package janitor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sipeed/picorelay/pkg/ratelimit"
)

type countingCleaner struct{ calls int }

func (c *countingCleaner) Cleanup() int {
	c.calls++
	return 1
}

func TestNew_RejectsBadSchedule(t *testing.T) {
	_, err := New("every now and then")
	assert.Error(t, err)

	_, err = New("@every 10m")
	assert.NoError(t, err)

	_, err = New("*/5 * * * *")
	assert.NoError(t, err)
}

func TestJanitor_RunNowPrunesLimiter(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l := ratelimit.NewLimiter(ratelimit.Config{Limit: 5, Window: time.Minute},
		ratelimit.WithClock(func() time.Time { return now }))
	require.NoError(t, l.CheckAndRecord("42"))
	require.NoError(t, l.CheckAndRecord("7"))

	j, err := New("@every 10m")
	require.NoError(t, err)
	j.Register("ratelimit", l)

	assert.Equal(t, map[string]int{"ratelimit": 0}, j.RunNow())

	now = now.Add(2 * time.Minute)
	assert.Equal(t, map[string]int{"ratelimit": 2}, j.RunNow())
	assert.Equal(t, 0, l.Tracked())
}

func TestJanitor_StartStop(t *testing.T) {
	j, err := New("@every 1h")
	require.NoError(t, err)
	c := &countingCleaner{}
	j.Register("counter", c)

	assert.True(t, j.NextRun().IsZero())
	require.NoError(t, j.Start())
	require.NoError(t, j.Start())
	assert.False(t, j.NextRun().IsZero())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	j.Stop(ctx)
	j.Stop(ctx)

	assert.True(t, j.NextRun().IsZero())
	assert.Zero(t, c.calls)
}
