package queue

import (
	"errors"
	"sync"
)

// ErrEmptyQueue is returned by NextGroup instead of the original's EOFError,
// for a caller that ignores HasQueue first. NextTask and NextAction report an
// empty queue through their boolean result instead.
var ErrEmptyQueue = errors.New("queue: nothing queued")

// Scheduler is the top-level container of groups for one worker process.
// Its mutex serializes every mutation so HTTP handlers reading membership
// lists never race with the dispatch loop.
type Scheduler struct {
	mu sync.Mutex

	reg *Registry

	groups       []*Group
	activeGroups []*Group
	queuedGroups []*Group
}

// NewScheduler builds an empty scheduler bound to reg.
func NewScheduler(reg *Registry) *Scheduler {
	return &Scheduler{reg: reg}
}

// Registry returns the scheduler's bound registry.
func (s *Scheduler) Registry() *Registry {
	return s.reg
}

// Lock/Unlock expose the scheduler's single mutex to callers that need to
// perform several operations atomically (the dispatch loop's one iteration).
func (s *Scheduler) Lock()   { s.mu.Lock() }
func (s *Scheduler) Unlock() { s.mu.Unlock() }

// AddGroup adds group to membership if absent.
func (s *Scheduler) AddGroup(g *Group) {
	if !containsGroup(s.groups, g) {
		s.groups = append(s.groups, g)
		s.activeGroups = append(s.activeGroups, g)
		s.queuedGroups = append(s.queuedGroups, g)
	}
	s.reg.putGroup(g)
}

// RemoveGroup drops group from all three membership lists.
func (s *Scheduler) RemoveGroup(g *Group) {
	s.groups = removeGroup(s.groups, g)
	s.activeGroups = removeGroup(s.activeGroups, g)
	s.queuedGroups = removeGroup(s.queuedGroups, g)
}

// NextGroup pops the head of queued_groups, refilling from active_groups
// when the buffer empties. Strict round-robin: each active group is served
// exactly once per rotation.
func (s *Scheduler) NextGroup() (*Group, error) {
	if len(s.queuedGroups) == 0 {
		return nil, ErrEmptyQueue
	}
	g := s.queuedGroups[0]
	s.queuedGroups = s.queuedGroups[1:]
	if len(s.queuedGroups) == 0 {
		s.queuedGroups = append([]*Group(nil), s.activeGroups...)
	}
	return g, nil
}

// HasQueue reports whether any active group still has queued work.
func (s *Scheduler) HasQueue() bool {
	for _, g := range s.activeGroups {
		if g.HasQueue() {
			return true
		}
	}
	return false
}

// UpdateGroups recomputes each group's task membership, then reconciles the
// scheduler's own active/queued sets. Called at the top of every dispatch
// iteration; this is how a freshly-expanded task (e.g. AddMangaChapters
// appending DownloadChapter actions) wakes its group back up.
func (s *Scheduler) UpdateGroups() {
	for _, g := range s.groups {
		g.UpdateTasks()
		if g.HasQueue() {
			if !containsGroup(s.activeGroups, g) {
				s.activeGroups = append(s.activeGroups, g)
			}
			if !containsGroup(s.queuedGroups, g) {
				s.queuedGroups = append(s.queuedGroups, g)
			}
		} else {
			s.activeGroups = removeGroup(s.activeGroups, g)
			s.queuedGroups = removeGroup(s.queuedGroups, g)
		}
	}
}

// Groups returns a snapshot of scheduler membership.
func (s *Scheduler) Groups() []*Group {
	return append([]*Group(nil), s.groups...)
}

// ActiveGroups returns a snapshot of the active-group view.
func (s *Scheduler) ActiveGroups() []*Group {
	return append([]*Group(nil), s.activeGroups...)
}

// QueuedGroups returns a snapshot of the current rotation window.
func (s *Scheduler) QueuedGroups() []*Group {
	return append([]*Group(nil), s.queuedGroups...)
}

// DeleteTask removes a task from its owning group and the registry. It is a
// no-op if the task is already gone.
func (s *Scheduler) DeleteTask(uid string) {
	t, ok := s.reg.GetTask(uid)
	if !ok {
		return
	}
	if t.GroupUID != "" {
		if g, ok := s.reg.LookupGroup(t.GroupUID); ok {
			g.RemoveTask(t)
		}
	}
	s.reg.removeTask(uid)
}

// CancelTask marks a task failed with the admin-cancel status override. It
// is a no-op if the task is unknown.
func (s *Scheduler) CancelTask(uid string) bool {
	t, ok := s.reg.GetTask(uid)
	if !ok {
		return false
	}
	t.Cancel()
	return true
}

// DeleteGroup tears down a group and every task it owns.
func (s *Scheduler) DeleteGroup(uid string) {
	g, ok := s.reg.LookupGroup(uid)
	if !ok {
		return
	}
	g.DeleteGroup(s.reg, s)
}

func containsGroup(list []*Group, g *Group) bool {
	for _, x := range list {
		if x == g {
			return true
		}
	}
	return false
}

func removeGroup(list []*Group, g *Group) []*Group {
	for i, x := range list {
		if x == g {
			return append(list[:i], list[i+1:]...)
		}
	}
	return list
}
