package queue

import "os"

// DefaultCleanup removes a task's working directory. It is the fallback
// cleanup action used whenever a task has no overridden one.
type DefaultCleanup struct{}

func (a *DefaultCleanup) Run(reg *Registry, task *Task) error {
	return os.RemoveAll(TaskDir(reg, task))
}

func (a *DefaultCleanup) Describe() (map[string]any, map[string]string) {
	return map[string]any{}, nil
}
