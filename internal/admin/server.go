// Package admin implements the admin HTTP surface described in spec.md §6:
// aggregate queue inspection across workers and CRUD over the frontend's
// backend pool, persisted through internal/storage.
package admin

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mangadexzip/internal/config"
	"mangadexzip/internal/frontend"
	"mangadexzip/internal/security"
	"mangadexzip/internal/storage"
)

// Server is the admin HTTP surface.
type Server struct {
	store          *storage.Storage
	dispatcher     *frontend.Dispatcher
	staticBackends map[string]config.Backend
	cfg            config.AdminConfig
	logger         *slog.Logger
	audit          *security.AuditLogger
	client         *http.Client

	Router *chi.Mux
}

// New wires the admin surface. staticBackends is the JSON config file's
// base backend list; it is never rewritten, only overlaid by sqlite-backed
// runtime edits (SPEC_FULL.md §3's resolution of the persistence open
// question).
func New(store *storage.Storage, dispatcher *frontend.Dispatcher, staticBackends map[string]config.Backend, cfg config.AdminConfig, logger *slog.Logger, audit *security.AuditLogger) *Server {
	s := &Server{
		store:          store,
		dispatcher:     dispatcher,
		staticBackends: staticBackends,
		cfg:            cfg,
		logger:         logger,
		audit:          audit,
		client:         &http.Client{},
	}
	s.Router = chi.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Use(middleware.Logger)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(security.RequireBearer(s.cfg.AuthToken, s.audit))

	s.Router.Get("/admin/queue", s.handleAggregateQueue)
	s.Router.Get("/admin/queue/{worker}", s.handleWorkerQueue)
	s.Router.Get("/admin/workers", s.handleListWorkers)
	s.Router.Post("/admin/workers/{id}", s.handleUpsertWorker)
	s.Router.Delete("/admin/workers/{id}", s.handleDeleteWorker)
	s.Router.Get("/admin/stats", s.handleStats)
}

// handleStats reports lifetime and recent daily download totals, backed by
// internal/storage's DailyStat rows (populated by DownloadChapter/
// ArchiveContents as tasks complete).
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	totalBytes, err := s.store.GetTotalLifetime()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	totalFiles, err := s.store.GetTotalFiles()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	daily, err := s.store.GetDailyHistory(30)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, map[string]any{
		"total_bytes": totalBytes,
		"total_files": totalFiles,
		"daily":       daily,
	})
}

// handleAggregateQueue fans GET /queue/back/all out to every configured
// backend and returns each one's deep dump keyed by backend id.
func (s *Server) handleAggregateQueue(w http.ResponseWriter, r *http.Request) {
	out := make(map[string]any)
	for id, bk := range s.dispatcher.Backends() {
		dump, err := s.fetchAll(bk)
		if err != nil {
			out[id] = map[string]string{"error": err.Error()}
			continue
		}
		out[id] = dump
	}
	writeJSON(w, out)
}

func (s *Server) handleWorkerQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "worker")
	backends := s.dispatcher.Backends()
	bk, ok := backends[id]
	if !ok {
		http.Error(w, "unknown worker", http.StatusNotFound)
		return
	}
	dump, err := s.fetchAll(bk)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	writeJSON(w, dump)
}

func (s *Server) fetchAll(bk config.Backend) (any, error) {
	req, err := http.NewRequest(http.MethodGet, bk.URL+"/queue/back/all", nil)
	if err != nil {
		return nil, err
	}
	if bk.Token != "" {
		req.Header.Set("Authorization", "Bearer "+bk.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("worker returned status %d", resp.StatusCode)
	}
	var out any
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Server) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.dispatcher.Backends())
}

func (s *Server) handleUpsertWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var b config.Backend
	if err := json.NewDecoder(r.Body).Decode(&b); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.store.UpsertBackend(id, b); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.reload()
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleDeleteWorker(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteBackend(id); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	s.reload()
	w.WriteHeader(http.StatusOK)
}

// reload re-reads the persisted backend overlay, merges it on top of the
// static JSON-file backends, and pushes the result into the frontend
// dispatcher — replacing the original's explicit reload_workers() poll
// with a direct call.
func (s *Server) reload() {
	overlay, err := s.store.ListBackends()
	if err != nil {
		s.logger.Error("reloading backend overlay", "error", err)
		return
	}
	merged := make(map[string]config.Backend, len(s.staticBackends)+len(overlay))
	for id, b := range s.staticBackends {
		merged[id] = b
	}
	for id, b := range overlay {
		merged[id] = b
	}
	s.dispatcher.SetBackends(merged)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
