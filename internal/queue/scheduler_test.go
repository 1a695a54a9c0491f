package queue_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"mangadexzip/internal/queue"
)

// noopAction is a test-only Action that records when it runs, standing in
// for the scenario's "Noop" actions (spec.md §8, scenario 2).
type noopAction struct{ ran *[]string }

func (n *noopAction) Run(reg *queue.Registry, task *queue.Task) error {
	*n.ran = append(*n.ran, task.UID)
	return nil
}

func (n *noopAction) Describe() (map[string]any, map[string]string) { return nil, nil }

func TestSchedulerFairInterleaving(t *testing.T) {
	reg := queue.NewRegistry()
	sched := queue.NewScheduler(reg)

	var order []string

	g1 := reg.GetGroup("g1")
	g2 := reg.GetGroup("g2")
	sched.AddGroup(g1)
	sched.AddGroup(g2)

	t1 := queue.NewTask(reg, "t1", "test")
	t2 := queue.NewTask(reg, "t2", "test")
	g1.AddTask(t1)
	g2.AddTask(t2)

	for i := 0; i < 3; i++ {
		t1.AddAction(&noopAction{ran: &order})
		t2.AddAction(&noopAction{ran: &order})
	}

	var observed []string
	for i := 0; i < 6; i++ {
		sched.UpdateGroups()
		require.True(t, sched.HasQueue())

		g, err := sched.NextGroup()
		require.NoError(t, err)
		task, ok := g.NextTask()
		require.True(t, ok)
		action, ok := task.NextAction()
		require.True(t, ok)
		require.NoError(t, action.Run(reg, task))
		observed = append(observed, g.UID+"-"+task.UID)
	}

	require.Equal(t, []string{
		"g1-t1", "g2-t2", "g1-t1", "g2-t2", "g1-t1", "g2-t2",
	}, observed)

	sched.UpdateGroups()
	require.False(t, sched.HasQueue())
}

func TestSchedulerNextGroupRefillsOnDrain(t *testing.T) {
	reg := queue.NewRegistry()
	sched := queue.NewScheduler(reg)

	g1 := reg.GetGroup("g1")
	g2 := reg.GetGroup("g2")
	sched.AddGroup(g1)
	sched.AddGroup(g2)

	seen := map[string]int{}
	for i := 0; i < 4; i++ {
		g, err := sched.NextGroup()
		require.NoError(t, err)
		seen[g.UID]++
	}
	require.Equal(t, 2, seen["g1"])
	require.Equal(t, 2, seen["g2"])
}

func TestSchedulerEmptyQueueReturnsError(t *testing.T) {
	reg := queue.NewRegistry()
	sched := queue.NewScheduler(reg)

	_, err := sched.NextGroup()
	require.ErrorIs(t, err, queue.ErrEmptyQueue)
}

func TestUpdateGroupsIdempotentOnSchedulerState(t *testing.T) {
	// UpdateGroups must not mutate groups/tasks beyond membership
	// bookkeeping; calling it repeatedly is idempotent.
	reg := queue.NewRegistry()
	sched := queue.NewScheduler(reg)
	g := reg.GetGroup("g1")
	sched.AddGroup(g)
	task := queue.NewTask(reg, "t1", "test")
	g.AddTask(task)
	task.AddAction(&noopAction{ran: &[]string{}})

	sched.UpdateGroups()
	before := len(sched.ActiveGroups())
	sched.UpdateGroups()
	sched.UpdateGroups()
	require.Equal(t, before, len(sched.ActiveGroups()))
}
