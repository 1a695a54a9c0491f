package dispatch

import (
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v3/disk"

	"mangadexzip/internal/config"
)

// CheckStatus evaluates worker health against the configured limits, purely
// (no mutation of scheduler state). It also fails if either background
// worker has died.
func (l *Loop) CheckStatus(limits config.Limits, tempPath string) bool {
	if !l.DispatchAlive() || !l.CleanupAlive() {
		return false
	}

	l.sched.Lock()
	groups := l.sched.Groups()
	activeGroups := l.sched.ActiveGroups()
	l.sched.Unlock()

	if limits.MaxGroups > 0 && len(groups) >= limits.MaxGroups {
		return false
	}
	if limits.MaxActiveGroups > 0 && len(activeGroups) >= limits.MaxActiveGroups {
		return false
	}

	totalTasks, activeTasks := 0, 0
	for _, g := range groups {
		l.sched.Lock()
		totalTasks += len(g.Tasks())
		activeTasks += len(g.ActiveTasks())
		l.sched.Unlock()
	}
	if limits.MaxTasks > 0 && totalTasks >= limits.MaxTasks {
		return false
	}
	if limits.MaxActiveTasks > 0 && activeTasks >= limits.MaxActiveTasks {
		return false
	}

	if limits.MaxWorkerSpaceMB > 0 || limits.MaxWorkerSpacePct > 0 {
		workerBytes := dirSize(tempPath)
		workerMB := float64(workerBytes) / (1024 * 1024)
		if limits.MaxWorkerSpaceMB > 0 && workerMB >= limits.MaxWorkerSpaceMB {
			return false
		}
		if limits.MaxWorkerSpacePct > 0 {
			if usage, err := disk.Usage(tempPath); err == nil {
				pct := float64(workerBytes) / float64(usage.Total) * 100.0
				if pct >= limits.MaxWorkerSpacePct {
					return false
				}
			}
		}
	}

	if limits.MaxUsedSpaceMB > 0 || limits.MaxUsedSpacePct > 0 || limits.MinFreeSpaceMB > 0 || limits.MinFreeSpacePct > 0 {
		usage, err := disk.Usage(tempPath)
		if err == nil {
			usedMB := float64(usage.Used) / (1024 * 1024)
			freeMB := float64(usage.Free) / (1024 * 1024)
			if limits.MaxUsedSpaceMB > 0 && usedMB >= limits.MaxUsedSpaceMB {
				return false
			}
			if limits.MaxUsedSpacePct > 0 && usage.UsedPercent >= limits.MaxUsedSpacePct {
				return false
			}
			if limits.MinFreeSpaceMB > 0 && freeMB <= limits.MinFreeSpaceMB {
				return false
			}
			if limits.MinFreeSpacePct > 0 {
				freePct := 100.0 - usage.UsedPercent
				if freePct <= limits.MinFreeSpacePct {
					return false
				}
			}
		}
	}

	return true
}

// dirSize recursively sums file sizes under path, matching the original's
// _get_dir_size used for worker-space admission checks.
func dirSize(path string) int64 {
	var total int64
	_ = filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		info, ierr := d.Info()
		if ierr != nil {
			return nil
		}
		total += info.Size()
		return nil
	})
	return total
}
