package queue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mangadexzip/internal/queue"
)

type fakeAction struct{ name string }

func (f *fakeAction) Run(reg *queue.Registry, task *queue.Task) error { return nil }
func (f *fakeAction) Describe() (map[string]any, map[string]string) {
	return map[string]any{"name": f.name}, nil
}

func TestTaskAddActionFIFOAndDedup(t *testing.T) {
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "test")

	a1 := &fakeAction{name: "a1"}
	a2 := &fakeAction{name: "a2"}

	task.AddAction(a1)
	task.AddAction(a2)
	task.AddAction(a1) // duplicate instance: no-op

	require.Len(t, task.Actions(), 2)
	require.Len(t, task.QueuedActions(), 2)

	got, ok := task.NextAction()
	require.True(t, ok)
	require.Same(t, a1, got)

	got, ok = task.NextAction()
	require.True(t, ok)
	require.Same(t, a2, got)

	_, ok = task.NextAction()
	require.False(t, ok)
}

func TestTaskProgressNeverDecreases(t *testing.T) {
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "test")
	require.Equal(t, 0, task.Progress())

	task.AddAction(&fakeAction{})
	task.AddAction(&fakeAction{})
	require.Equal(t, 0, task.Progress())

	last := task.Progress()
	task.NextAction()
	require.GreaterOrEqual(t, task.Progress(), last)
	last = task.Progress()

	task.NextAction()
	require.GreaterOrEqual(t, task.Progress(), last)
	require.Equal(t, 100, task.Progress())
}

func TestTaskDisplayStatusOverride(t *testing.T) {
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "test")
	task.Status = "Downloading"
	require.Equal(t, "Downloading", task.DisplayStatus())

	task.Cancel()
	require.True(t, task.Failed)
	require.Equal(t, "Task execution cancelled", task.DisplayStatus())
}

func TestTaskCleanupActionDefaultsToDefaultCleanup(t *testing.T) {
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "test")
	_, ok := task.CleanupAction().(*queue.DefaultCleanup)
	require.True(t, ok)

	override := &fakeAction{name: "custom"}
	task.SetCleanupAction(override)
	require.Same(t, override, task.CleanupAction())
}

func TestTaskCompletedImpliesEmptyQueueAndNotFailed(t *testing.T) {
	reg := queue.NewRegistry()
	task := queue.NewTask(reg, "t1", "test")
	task.AddAction(&fakeAction{})
	task.NextAction()
	task.Completed = true

	require.Empty(t, task.QueuedActions())
	require.False(t, task.Failed)
}
