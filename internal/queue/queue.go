package queue

import "path/filepath"

// TaskDir returns the working directory owned exclusively by task, rooted
// under reg's configured temp path: <reg.TempPath()>/<task_uid>/...
func TaskDir(reg *Registry, task *Task) string {
	return filepath.Join(reg.TempPath(), task.UID)
}
