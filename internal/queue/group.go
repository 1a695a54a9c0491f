package queue

// Group is a fairness bucket of tasks sharing a key (typically the
// requesting client's address). Round-robin across its tasks mirrors the
// scheduler's round-robin across groups.
type Group struct {
	UID string

	tasks       []*Task
	activeTasks []*Task
	queuedTasks []*Task

	SchedulerUID string
}

func newGroup(uid string) *Group {
	return &Group{UID: uid}
}

// AddTask adds task to the group if not already present, and sets its
// back-reference. Matches TaskGroup.add_task's set semantics.
func (g *Group) AddTask(t *Task) {
	if !containsTask(g.tasks, t) {
		g.tasks = append(g.tasks, t)
		g.activeTasks = append(g.activeTasks, t)
		g.queuedTasks = append(g.queuedTasks, t)
	}
	t.GroupUID = g.UID
}

// RemoveTask drops task from all three membership lists.
func (g *Group) RemoveTask(t *Task) {
	g.tasks = removeTask(g.tasks, t)
	g.activeTasks = removeTask(g.activeTasks, t)
	g.queuedTasks = removeTask(g.queuedTasks, t)
	t.GroupUID = ""
}

// NextTask pops the head of queued_tasks, refilling from active_tasks when
// the buffer empties.
func (g *Group) NextTask() (*Task, bool) {
	if len(g.queuedTasks) == 0 {
		return nil, false
	}
	t := g.queuedTasks[0]
	g.queuedTasks = g.queuedTasks[1:]
	if len(g.queuedTasks) == 0 {
		g.queuedTasks = append([]*Task(nil), g.activeTasks...)
	}
	return t, true
}

// HasQueue reports whether any active task still has non-failed work.
func (g *Group) HasQueue() bool {
	for _, t := range g.activeTasks {
		if !t.Completed && !t.Failed {
			return true
		}
	}
	return false
}

// UpdateTasks recomputes active/queued membership from each task's current
// queued-actions/failed state.
func (g *Group) UpdateTasks() {
	for _, t := range g.tasks {
		if !t.hasQueue() {
			g.activeTasks = removeTask(g.activeTasks, t)
			g.queuedTasks = removeTask(g.queuedTasks, t)
		} else {
			if !containsTask(g.activeTasks, t) {
				g.activeTasks = append(g.activeTasks, t)
			}
			if !containsTask(g.queuedTasks, t) {
				g.queuedTasks = append(g.queuedTasks, t)
			}
		}
	}
}

// Tasks returns a snapshot of every task owned by the group.
func (g *Group) Tasks() []*Task {
	return append([]*Task(nil), g.tasks...)
}

// ActiveTasks returns a snapshot of the active-task view.
func (g *Group) ActiveTasks() []*Task {
	return append([]*Task(nil), g.activeTasks...)
}

// QueuedTasks returns a snapshot of the current rotation window.
func (g *Group) QueuedTasks() []*Task {
	return append([]*Task(nil), g.queuedTasks...)
}

// IsEmpty reports whether the group owns no tasks, making it eligible for
// cleanup-loop pruning.
func (g *Group) IsEmpty() bool {
	return len(g.tasks) == 0
}

// DeleteGroup tears down every owned task, then removes itself from the
// registry and its parent scheduler.
func (g *Group) DeleteGroup(reg *Registry, sched *Scheduler) {
	for _, t := range append([]*Task(nil), g.tasks...) {
		g.RemoveTask(t)
		reg.removeTask(t.UID)
	}
	reg.removeGroup(g.UID)
	if sched != nil {
		sched.RemoveGroup(g)
	}
}

func containsTask(list []*Task, t *Task) bool {
	for _, x := range list {
		if x == t {
			return true
		}
	}
	return false
}

func removeTask(list []*Task, t *Task) []*Task {
	for i, x := range list {
		if x == t {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
