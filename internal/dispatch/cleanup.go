package dispatch

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"mangadexzip/internal/queue"
)

// CleanupConfig carries the two TTLs the cleanup loop enforces.
type CleanupConfig struct {
	TaskTTL      time.Duration
	TaskEmptyTTL time.Duration
	Interval     time.Duration
}

// StartCleanup schedules RunCleanupOnce on a "@every <interval>" cron spec,
// following the teacher's scheduler.go use of robfig/cron for interval jobs.
// It returns the running *cron.Cron so callers can Stop it.
func (l *Loop) StartCleanup(cfg CleanupConfig) (*cron.Cron, error) {
	c := cron.New()
	l.cleanupAlive.Store(true)

	spec := fmt.Sprintf("@every %s", cfg.Interval.String())
	_, err := c.AddFunc(spec, func() {
		l.RunCleanupOnce(cfg)
	})
	if err != nil {
		l.cleanupAlive.Store(false)
		return nil, fmt.Errorf("scheduling cleanup: %w", err)
	}
	c.Start()
	return c, nil
}

// RunCleanupOnce is one cleanup iteration: for every task past its TTL, run
// its cleanup action and delete it; then prune any group left with no tasks.
func (l *Loop) RunCleanupOnce(cfg CleanupConfig) {
	l.sched.Lock()
	groups := l.sched.Groups()
	l.sched.Unlock()

	now := time.Now()
	reg := l.sched.Registry()

	for _, g := range groups {
		l.sched.Lock()
		tasks := g.Tasks()
		l.sched.Unlock()

		for _, t := range tasks {
			age := now.Sub(t.CreatedAt)
			expired := (len(t.Actions()) > 0 && age > cfg.TaskTTL) ||
				(len(t.Actions()) == 0 && age > cfg.TaskEmptyTTL)
			if !expired {
				continue
			}

			cleanup := t.CleanupAction()
			if err := cleanup.Run(reg, t); err != nil {
				l.logger.Error("cleanup action failed", "task", t.UID, "error", err)
			}

			l.sched.Lock()
			l.sched.DeleteTask(t.UID)
			l.sched.Unlock()
		}

		l.sched.Lock()
		if g.IsEmpty() {
			l.sched.DeleteGroup(g.UID)
		}
		l.sched.Unlock()
	}
}
