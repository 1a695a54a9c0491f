// Package dispatch runs the worker's two long-lived background workers —
// the single-threaded action dispatch loop and the TTL cleanup loop — plus
// the admission-control check the job-ingress endpoint consults.
package dispatch

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"mangadexzip/internal/queue"
)

// Loop owns the scheduler and drives both background workers.
type Loop struct {
	logger *slog.Logger
	sched  *queue.Scheduler

	emptyWait time.Duration

	dispatchAlive atomic.Bool
	cleanupAlive  atomic.Bool

	stop chan struct{}
}

// New builds a Loop bound to sched, polling an idle scheduler every
// emptyWait.
func New(logger *slog.Logger, sched *queue.Scheduler, emptyWait time.Duration) *Loop {
	return &Loop{
		logger:    logger,
		sched:     sched,
		emptyWait: emptyWait,
		stop:      make(chan struct{}),
	}
}

// Stop signals the dispatch loop to exit after its current iteration. The
// cleanup job is stopped separately, through the *cron.Cron StartCleanup
// returns.
func (l *Loop) Stop() {
	close(l.stop)
}

// RunDispatch is the dispatch loop's body: forever, update membership, pop
// one (group, task, action) triple, and run it. Exactly one action executes
// at a time across the whole process.
func (l *Loop) RunDispatch() {
	l.dispatchAlive.Store(true)
	defer l.dispatchAlive.Store(false)

	for {
		select {
		case <-l.stop:
			return
		default:
		}

		l.sched.Lock()
		l.sched.UpdateGroups()
		hasQueue := l.sched.HasQueue()
		if !hasQueue {
			l.sched.Unlock()
			time.Sleep(l.emptyWait)
			continue
		}

		g, err := l.sched.NextGroup()
		if err != nil {
			l.sched.Unlock()
			continue
		}
		t, ok := g.NextTask()
		if !ok {
			l.sched.Unlock()
			continue
		}
		a, ok := t.NextAction()
		l.sched.Unlock()
		if !ok {
			continue
		}

		l.runAction(a, t)
	}
}

// runAction executes one action, converting any panic or error into a task
// failure rather than letting it crash the loop.
func (l *Loop) runAction(a queue.Action, t *queue.Task) {
	defer func() {
		if r := recover(); r != nil {
			l.sched.Lock()
			t.Failed = true
			t.Status = fmt.Sprintf("A critical error occurred while processing the task (%v)", r)
			l.sched.Unlock()
			l.logger.Error("action panicked", "task", t.UID, "panic", r)
		}
	}()

	if err := a.Run(l.sched.Registry(), t); err != nil {
		l.sched.Lock()
		t.Failed = true
		t.Status = fmt.Sprintf("A critical error occurred while processing the task (%v)", err)
		l.sched.Unlock()
		l.logger.Error("action failed", "task", t.UID, "error", err)
	}
}

// DispatchAlive reports whether RunDispatch is currently executing its loop.
func (l *Loop) DispatchAlive() bool {
	return l.dispatchAlive.Load()
}

// CleanupAlive reports whether StartCleanup has scheduled the cleanup job.
func (l *Loop) CleanupAlive() bool {
	return l.cleanupAlive.Load()
}
