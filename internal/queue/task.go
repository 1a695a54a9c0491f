// Package queue implements the worker scheduler core: a two-level
// round-robin over groups and tasks, each task holding an ordered, append-only
// action history plus an unexecuted suffix.
package queue

import (
	"math"
	"time"
)

// Action is the polymorphic unit of work a Task executes one at a time.
// Variants carry their own configuration; all mutation happens through Run.
type Action interface {
	Run(reg *Registry, task *Task) error
	// Describe splits the action's fields into a JSON-serializable map and
	// a map of fields that aren't, keyed by field name, matching the
	// worker HTTP surface's deep-dump contract.
	Describe() (data map[string]any, unserializable map[string]string)
}

// Task is a user-facing job: a unique id, an ordered action history, the
// unexecuted suffix of that history, lifecycle flags, and a status string.
type Task struct {
	UID  string
	Kind string

	actions       []Action
	queuedActions []Action
	cleanupAction Action

	Started   bool
	Completed bool
	Failed    bool

	Status         string
	StatusOverride string
	Result         string

	CreatedAt time.Time

	GroupUID string
}

// NewTask creates a task with no actions, registering it in reg.
func NewTask(reg *Registry, uid, kind string) *Task {
	t := &Task{
		UID:       uid,
		Kind:      kind,
		CreatedAt: time.Now(),
	}
	reg.putTask(t)
	return t
}

// Progress is round((|actions| - |queued|)/|actions| * 100), zero when empty.
func (t *Task) Progress() int {
	if len(t.actions) == 0 {
		return 0
	}
	done := len(t.actions) - len(t.queuedActions)
	return int(math.Round(float64(done) / float64(len(t.actions)) * 100.0))
}

// Actions returns the full append-only action history.
func (t *Task) Actions() []Action {
	return t.actions
}

// QueuedActions returns the unexecuted suffix.
func (t *Task) QueuedActions() []Action {
	return t.queuedActions
}

// AddAction appends action to both the history and the queue. Adding the
// same action instance twice is a no-op, matching the set semantics of the
// original's action list.
func (t *Task) AddAction(a Action) {
	for _, existing := range t.actions {
		if existing == a {
			return
		}
	}
	t.actions = append(t.actions, a)
	t.queuedActions = append(t.queuedActions, a)
}

// NextAction pops the head of the queued-action suffix.
func (t *Task) NextAction() (Action, bool) {
	if len(t.queuedActions) == 0 {
		return nil, false
	}
	a := t.queuedActions[0]
	t.queuedActions = t.queuedActions[1:]
	return a, true
}

// SetCleanupAction overrides the cleanup action run at task destruction.
func (t *Task) SetCleanupAction(a Action) {
	t.cleanupAction = a
}

// CleanupAction returns the overridden cleanup action, else a default that
// removes the task's working directory.
func (t *Task) CleanupAction() Action {
	if t.cleanupAction != nil {
		return t.cleanupAction
	}
	return &DefaultCleanup{}
}

// DisplayStatus returns StatusOverride when set (admin cancel), else Status.
func (t *Task) DisplayStatus() string {
	if t.StatusOverride != "" {
		return t.StatusOverride
	}
	return t.Status
}

// Cancel flips the task to failed with a status override, matching the
// admin cancel endpoint's contract. The currently-running action (if any)
// finishes on its own; UpdateTasks drops the task from active/queued on the
// next dispatch iteration since failed tasks are never active.
func (t *Task) Cancel() {
	t.Failed = true
	t.StatusOverride = "Task execution cancelled"
}

// hasQueue reports whether the task has unexecuted, non-failed work.
func (t *Task) hasQueue() bool {
	return len(t.queuedActions) > 0 && !t.Failed
}
