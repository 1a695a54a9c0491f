package dispatch_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"mangadexzip/internal/dispatch"
	"mangadexzip/internal/queue"
)

func backdate(task *queue.Task, age time.Duration) {
	task.CreatedAt = time.Now().Add(-age)
}

func TestRunCleanupOnceRemovesExpiredTaskAndPrunesEmptyGroup(t *testing.T) {
	reg := queue.NewRegistry()
	reg.SetTempPath(t.TempDir())

	sched := queue.NewScheduler(reg)
	g := reg.GetGroup("g1")
	sched.AddGroup(g)

	task := queue.NewTask(reg, "expired", "test")
	task.Completed = true
	g.AddTask(task)
	backdate(task, time.Hour)

	require.NoError(t, os.MkdirAll(queue.TaskDir(reg, task), 0755))

	l := dispatch.New(testLogger(), sched, time.Millisecond)
	l.RunCleanupOnce(dispatch.CleanupConfig{
		TaskTTL:      time.Minute,
		TaskEmptyTTL: time.Minute,
		Interval:     time.Minute,
	})

	_, ok := reg.GetTask("expired")
	require.False(t, ok)
	require.Empty(t, sched.Groups(), "group with no remaining tasks should be pruned")

	_, err := os.Stat(queue.TaskDir(reg, task))
	require.True(t, os.IsNotExist(err), "default cleanup action should remove the task directory")
}

func TestRunCleanupOnceSparesFreshTask(t *testing.T) {
	reg := queue.NewRegistry()
	reg.SetTempPath(t.TempDir())
	sched := queue.NewScheduler(reg)
	g := reg.GetGroup("g1")
	sched.AddGroup(g)

	task := queue.NewTask(reg, "fresh", "test")
	task.AddAction(&fakeDispatchAction{})
	g.AddTask(task)

	l := dispatch.New(testLogger(), sched, time.Millisecond)
	l.RunCleanupOnce(dispatch.CleanupConfig{
		TaskTTL:      time.Hour,
		TaskEmptyTTL: time.Minute,
		Interval:     time.Minute,
	})

	_, ok := reg.GetTask("fresh")
	require.True(t, ok)
	require.Len(t, sched.Groups(), 1)
}

func TestRunCleanupOnceUsesShorterTTLForQueuelessTask(t *testing.T) {
	reg := queue.NewRegistry()
	reg.SetTempPath(t.TempDir())
	sched := queue.NewScheduler(reg)
	g := reg.GetGroup("g1")
	sched.AddGroup(g)

	task := queue.NewTask(reg, "empty-but-young", "test") // no actions at all
	g.AddTask(task)
	backdate(task, 2*time.Minute)

	l := dispatch.New(testLogger(), sched, time.Millisecond)
	l.RunCleanupOnce(dispatch.CleanupConfig{
		TaskTTL:      time.Hour,
		TaskEmptyTTL: time.Minute, // shorter TTL for empty-action tasks
		Interval:     time.Minute,
	})

	_, ok := reg.GetTask("empty-but-young")
	require.False(t, ok, "a task with no actions past TaskEmptyTTL should be cleaned up even though TaskTTL hasn't elapsed")
}

func TestRunCleanupOnceRespectsCustomCleanupAction(t *testing.T) {
	reg := queue.NewRegistry()
	reg.SetTempPath(t.TempDir())
	sched := queue.NewScheduler(reg)
	g := reg.GetGroup("g1")
	sched.AddGroup(g)

	task := queue.NewTask(reg, "custom", "test")
	task.Completed = true
	g.AddTask(task)
	backdate(task, time.Hour)

	ran := make(chan struct{})
	task.SetCleanupAction(&fakeDispatchAction{onRun: func() { close(ran) }})

	l := dispatch.New(testLogger(), sched, time.Millisecond)
	l.RunCleanupOnce(dispatch.CleanupConfig{
		TaskTTL:      time.Minute,
		TaskEmptyTTL: time.Minute,
		Interval:     time.Minute,
	})

	select {
	case <-ran:
	default:
		t.Fatal("overridden cleanup action never ran")
	}
}

type fakeDispatchAction struct{ onRun func() }

func (a *fakeDispatchAction) Run(reg *queue.Registry, task *queue.Task) error {
	if a.onRun != nil {
		a.onRun()
	}
	return nil
}
func (a *fakeDispatchAction) Describe() (map[string]any, map[string]string) { return nil, nil }
