// Package janitor runs periodic housekeeping for the relay's in-memory
// state on a cron schedule.
package janitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/sipeed/picorelay/pkg/logger"
)

// Cleaner drops idle state and reports how many entries it removed.
type Cleaner interface {
	Cleanup() int
}

// Janitor calls each registered Cleaner on a schedule.
type Janitor struct {
	schedule string
	cleaners map[string]Cleaner
	cron     *cron.Cron
	mu       sync.Mutex
	running  bool
	entryID  cron.EntryID
}

// New validates schedule (standard five-field cron or a descriptor such as
// "@every 10m") and returns a stopped Janitor.
func New(schedule string) (*Janitor, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return &Janitor{
		schedule: schedule,
		cleaners: make(map[string]Cleaner),
		cron:     cron.New(),
	}, nil
}

// Register adds c under name. Registering after Start is allowed.
func (j *Janitor) Register(name string, c Cleaner) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.cleaners[name] = c
}

// Start begins the schedule. It is a no-op when already running.
func (j *Janitor) Start() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.running {
		return nil
	}

	entryID, err := j.cron.AddFunc(j.schedule, func() { j.RunNow() })
	if err != nil {
		return err
	}
	j.entryID = entryID
	j.cron.Start()
	j.running = true

	logger.InfoCF("janitor", "Janitor started", map[string]any{
		"schedule": j.schedule,
		"next_run": j.cron.Entry(j.entryID).Next.Format(time.RFC3339),
	})
	return nil
}

// Stop halts the schedule and waits for a running sweep to finish or ctx
// to end.
func (j *Janitor) Stop(ctx context.Context) {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	j.running = false
	done := j.cron.Stop()
	j.mu.Unlock()

	select {
	case <-done.Done():
	case <-ctx.Done():
	}
	logger.InfoCF("janitor", "Janitor stopped", nil)
}

// RunNow sweeps every cleaner once and returns the number of entries
// removed per cleaner.
func (j *Janitor) RunNow() map[string]int {
	j.mu.Lock()
	cleaners := make(map[string]Cleaner, len(j.cleaners))
	for name, c := range j.cleaners {
		cleaners[name] = c
	}
	j.mu.Unlock()

	removed := make(map[string]int, len(cleaners))
	for name, c := range cleaners {
		n := c.Cleanup()
		removed[name] = n
		if n > 0 {
			logger.DebugCF("janitor", "Pruned idle entries", map[string]any{
				"cleaner": name,
				"removed": n,
			})
		}
	}
	return removed
}

// NextRun returns the next scheduled sweep, or the zero time when stopped.
func (j *Janitor) NextRun() time.Time {
	j.mu.Lock()
	defer j.mu.Unlock()
	if !j.running {
		return time.Time{}
	}
	return j.cron.Entry(j.entryID).Next
}
