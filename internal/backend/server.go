// Package backend implements the worker's HTTP surface: the job-ingress
// endpoint, queue introspection, and archive retrieval described in
// spec.md §6. It is a thin wrapper around internal/queue and
// internal/dispatch — all scheduling logic lives there.
package backend

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"mangadexzip/internal/catalog"
	"mangadexzip/internal/config"
	"mangadexzip/internal/dispatch"
	"mangadexzip/internal/queue"
	"mangadexzip/internal/security"
	"log/slog"
)

// Server is the worker backend's HTTP surface.
type Server struct {
	sched   *queue.Scheduler
	loop    *dispatch.Loop
	catalog *catalog.Client
	cfg     config.BackendConfig
	logger  *slog.Logger
	audit   *security.AuditLogger
	stats   queue.Stats

	Router *chi.Mux
}

// New wires a backend Server around an already-running scheduler and
// dispatch loop. stats is optional (nil disables daily byte/file counters).
func New(sched *queue.Scheduler, loop *dispatch.Loop, client *catalog.Client, cfg config.BackendConfig, logger *slog.Logger, audit *security.AuditLogger, stats queue.Stats) *Server {
	s := &Server{
		sched:   sched,
		loop:    loop,
		catalog: client,
		cfg:     cfg,
		logger:  logger,
		audit:   audit,
		stats:   stats,
		Router:  chi.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Use(middleware.Logger)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(security.RequireBearer(s.cfg.AuthToken, s.audit))

	s.Router.Get("/queue/back", s.handleCounts)
	s.Router.Get("/queue/back/ready", s.handleReady)
	s.Router.Get("/queue/back/all", s.handleAll)
	s.Router.Post("/queue/back/new", s.handleNew)
	s.Router.Get("/queue/back/{id}", s.handleGet)
	s.Router.Delete("/queue/back/{id}", s.handleCancel)
	s.Router.Get("/queue/back/{id}/data", s.handleData)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	s.sched.Lock()
	c, _ := s.snapshot()
	s.sched.Unlock()
	writeJSON(w, http.StatusOK, c)
}

// snapshot computes counts and per-group task dumps under the scheduler's
// lock. Callers must hold s.sched's lock.
func (s *Server) snapshot() (Counts, []*groupSnapshot) {
	c := Counts{
		Groups: len(s.sched.Groups()),
		Active: len(s.sched.ActiveGroups()),
		Queued: len(s.sched.QueuedGroups()),
	}
	var groups []*groupSnapshot
	for _, g := range s.sched.Groups() {
		c.Tasks += len(g.Tasks())
		c.ActiveTasks += len(g.ActiveTasks())
		c.QueuedTasks += len(g.QueuedTasks())
		gs := &groupSnapshot{uid: g.UID}
		for _, t := range g.Tasks() {
			c.Actions += len(t.Actions())
			c.QueuedActions += len(t.QueuedActions())
			gs.tasks = append(gs.tasks, t)
		}
		groups = append(groups, gs)
	}
	return c, groups
}

type groupSnapshot struct {
	uid   string
	tasks []*queue.Task
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ready := s.loop.CheckStatus(s.cfg.Limits, s.cfg.TempPath)
	writeJSON(w, http.StatusOK, map[string]bool{"ready": ready})
}

func (s *Server) handleAll(w http.ResponseWriter, r *http.Request) {
	s.sched.Lock()
	counts, groups := s.snapshot()
	s.sched.Unlock()

	dump := AllDump{Counts: counts}
	for _, gs := range groups {
		gd := GroupDump{UID: gs.uid}
		for _, t := range gs.tasks {
			td := TaskDump{TaskInfo: taskInfo(t), Result: t.Result}
			for _, a := range t.Actions() {
				data, unserializable := a.Describe()
				td.Actions = append(td.Actions, ActionDump{
					Type:           actionTypeName(a),
					Data:           data,
					Unserializable: unserializable,
				})
			}
			gd.Tasks = append(gd.Tasks, td)
		}
		dump.Groups = append(dump.Groups, gd)
	}

	writeJSON(w, http.StatusOK, dump)
}

func (s *Server) handleNew(w http.ResponseWriter, r *http.Request) {
	var req NewTaskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if s.cfg.EnforceLimits && !s.loop.CheckStatus(s.cfg.Limits, s.cfg.TempPath) {
		http.Error(w, "worker at capacity", http.StatusServiceUnavailable)
		return
	}

	task := queue.NewTask(s.sched.Registry(), newUID(), "download_archive")

	switch req.Type {
	case "manga":
		var opt MangaOptions
		decodeOpt(req.OptData, &opt)
		task.AddAction(&queue.AddMangaChapters{
			Client:           s.catalog,
			Stats:            s.stats,
			MangaID:          req.Data,
			Light:            opt.Light,
			Language:         opt.Language,
			AppendTitles:     opt.AppendTitles,
			PreferredGroups:  opt.PreferredGroups,
			GroupsSubstitute: opt.GroupsSubstitute,
			Start:            opt.Start,
			End:              opt.End,
		})
	case "chapter":
		var opt ChapterOptions
		decodeOpt(req.OptData, &opt)
		task.AddAction(&queue.DownloadChapter{
			Client:    s.catalog,
			Stats:     s.stats,
			ChapterID: req.Data,
			Light:     opt.Light,
		})
		task.AddAction(&queue.ArchiveContents{Stats: s.stats})
	default:
		http.Error(w, "unknown type: "+req.Type, http.StatusBadRequest)
		return
	}

	s.sched.Lock()
	group := s.sched.Registry().GetGroup(req.Group)
	group.AddTask(task)
	s.sched.AddGroup(group)
	s.sched.Unlock()

	writeJSON(w, http.StatusOK, NewTaskResponse{TaskID: task.UID})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := s.sched.Registry().GetTask(id)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	info := taskInfo(t)
	writeJSON(w, http.StatusOK, struct {
		TaskInfo
		Result string `json:"result,omitempty"`
	}{TaskInfo: info, Result: t.Result})
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.sched.CancelTask(id) {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	t, ok := s.sched.Registry().GetTask(id)
	if !ok {
		http.Error(w, "task not found", http.StatusNotFound)
		return
	}
	if t.Kind != "download_archive" {
		http.Error(w, "unknown task kind", http.StatusServiceUnavailable)
		return
	}
	if !t.Completed && !s.cfg.AlwaysAllowRetrieve {
		http.Error(w, "task is not ready for download", http.StatusForbidden)
		return
	}
	if t.Result == "" {
		http.Error(w, "archive not available", http.StatusServiceUnavailable)
		return
	}
	http.ServeFile(w, r, t.Result)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeOpt(raw map[string]any, out any) {
	if raw == nil {
		return
	}
	b, err := json.Marshal(raw)
	if err != nil {
		return
	}
	_ = json.Unmarshal(b, out)
}

func newUID() string {
	return uuid.New().String()
}

func actionTypeName(a queue.Action) string {
	switch a.(type) {
	case *queue.AddMangaChapters:
		return "add_manga_chapters"
	case *queue.DownloadChapter:
		return "download_chapter"
	case *queue.ArchiveContents:
		return "archive_contents"
	case *queue.DefaultCleanup:
		return "default_cleanup"
	default:
		return fmt.Sprintf("%T", a)
	}
}
