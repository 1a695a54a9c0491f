package backend

import (
	"mangadexzip/internal/queue"
)

// NewTaskRequest is the body of POST /queue/back/new.
type NewTaskRequest struct {
	Type    string         `json:"type"` // "manga" | "chapter"
	Data    string         `json:"data"`
	OptData map[string]any `json:"opt_data"`
	Group   string         `json:"group"`
}

// MangaOptions mirrors AddMangaChapters' configurable inputs (spec §4.4).
type MangaOptions struct {
	Light            bool     `json:"light"`
	Language         string   `json:"language"`
	AppendTitles     bool     `json:"append_titles"`
	PreferredGroups  []string `json:"preferred_groups"`
	GroupsSubstitute bool     `json:"groups_substitute"`
	Start            *float64 `json:"start"`
	End              *float64 `json:"end"`
}

// ChapterOptions mirrors DownloadChapter's top-level inputs.
type ChapterOptions struct {
	Light bool `json:"light"`
}

// NewTaskResponse is the response of POST /queue/back/new.
type NewTaskResponse struct {
	TaskID string `json:"task_id"`
}

// Counts is the body of GET /queue/back.
type Counts struct {
	Groups        int `json:"groups"`
	Active        int `json:"active"`
	Queued        int `json:"queued"`
	Tasks         int `json:"tasks"`
	ActiveTasks   int `json:"active_tasks"`
	QueuedTasks   int `json:"queued_tasks"`
	Actions       int `json:"actions"`
	QueuedActions int `json:"queued_actions"`
}

// TaskInfo is the per-task payload returned by GET /queue/back/{id} and
// embedded in the deep dump.
type TaskInfo struct {
	UID           string `json:"uid"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	Started       bool   `json:"started"`
	Completed     bool   `json:"completed"`
	Failed        bool   `json:"failed"`
	Progress      int    `json:"progress"`
	Actions       int    `json:"actions"`
	QueuedActions int    `json:"queued_actions"`
	CreatedAt     string `json:"created_at"`
	GroupUID      string `json:"group"`
}

func taskInfo(t *queue.Task) TaskInfo {
	return TaskInfo{
		UID:           t.UID,
		Kind:          t.Kind,
		Status:        t.DisplayStatus(),
		Started:       t.Started,
		Completed:     t.Completed,
		Failed:        t.Failed,
		Progress:      t.Progress(),
		Actions:       len(t.Actions()),
		QueuedActions: len(t.QueuedActions()),
		CreatedAt:     t.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
		GroupUID:      t.GroupUID,
	}
}

// ActionDump is one action's entry in the deep dump's action list.
type ActionDump struct {
	Type           string            `json:"type"`
	Data           map[string]any    `json:"data"`
	Unserializable map[string]string `json:"unserializable,omitempty"`
}

// TaskDump is one task's entry in the deep dump.
type TaskDump struct {
	TaskInfo
	Result  string       `json:"result,omitempty"`
	Actions []ActionDump `json:"action_list"`
}

// GroupDump is one group's entry in the deep dump.
type GroupDump struct {
	UID   string     `json:"uid"`
	Tasks []TaskDump `json:"tasks"`
}

// AllDump is the response of GET /queue/back/all.
type AllDump struct {
	Counts Counts      `json:"counts"`
	Groups []GroupDump `json:"groups"`
}
