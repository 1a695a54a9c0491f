// Command mangadexzip runs the worker scheduler, and optionally the
// frontend dispatcher and admin surface, behind a single process, mirroring
// the original app.py monolith's enabled-flag toggles.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"mangadexzip/internal/admin"
	"mangadexzip/internal/backend"
	"mangadexzip/internal/catalog"
	"mangadexzip/internal/config"
	"mangadexzip/internal/dispatch"
	"mangadexzip/internal/frontend"
	"mangadexzip/internal/logger"
	"mangadexzip/internal/queue"
	"mangadexzip/internal/security"
	"mangadexzip/internal/storage"
)

func main() {
	configPath := flag.String("config", "./config.json", "path to the JSON configuration file")
	catalogURL := flag.String("catalog-url", "https://api.mangadex.org", "base URL of the catalog API")
	addr := flag.String("addr", ":8080", "address to listen on")
	dataDir := flag.String("data-dir", "./data", "directory for logs, temp files, and the sqlite database")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "loading configuration:", err)
		os.Exit(1)
	}

	log, err := logger.New(*dataDir, os.Stdout)
	if err != nil {
		fmt.Fprintln(os.Stderr, "building logger:", err)
		os.Exit(1)
	}

	if err := run(cfg, *catalogURL, *addr, *dataDir, log); err != nil {
		log.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, catalogURL, addr, dataDir string, log *slog.Logger) error {
	store, err := storage.Open(cfg.StorageDSN)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer store.Close()

	audit := security.NewAuditLogger(log, dataDir)
	router := http.NewServeMux()

	if cfg.Backend.Enabled {
		if err := mountBackend(router, store, cfg, catalogURL, log, audit); err != nil {
			return err
		}
	}

	var dispatcher *frontend.Dispatcher
	if cfg.Frontend.Enabled || cfg.Admin.Enabled {
		merged, err := mergedBackends(store, cfg.Frontend.Backends)
		if err != nil {
			return fmt.Errorf("loading backend overlay: %w", err)
		}
		dispatcher = frontend.NewDispatcher(merged, cfg.Frontend.TaskCacheTTL)

		if cfg.Frontend.Enabled {
			mountFrontend(router, dispatcher, cfg, log)
			log.Info("frontend dispatcher enabled", "backends", len(merged))
		}
		if cfg.Admin.Enabled {
			mountAdmin(router, store, dispatcher, cfg, log, audit)
			log.Info("admin surface enabled")
		}
	}

	log.Info("listening", "addr", addr)
	return http.ListenAndServe(addr, router)
}

func mountBackend(router *http.ServeMux, store *storage.Storage, cfg *config.Config, catalogURL string, log *slog.Logger, audit *security.AuditLogger) error {
	reg := queue.NewRegistry()
	reg.SetTempPath(cfg.Backend.TempPath)
	sched := queue.NewScheduler(reg)

	client := catalog.New(catalogURL)
	loop := dispatch.New(log, sched, cfg.SchedulerEmptyWait)

	go loop.RunDispatch()
	if _, err := loop.StartCleanup(dispatch.CleanupConfig{
		TaskTTL:      cfg.TaskTTL,
		TaskEmptyTTL: cfg.TaskEmptyTTL,
		Interval:     cfg.CleanupInterval,
	}); err != nil {
		return fmt.Errorf("starting cleanup loop: %w", err)
	}

	srv := backend.New(sched, loop, client, cfg.Backend, log, audit, store)
	router.Handle("/queue/back", srv.Router)
	router.Handle("/queue/back/", srv.Router)

	log.Info("backend worker enabled", "temp_path", cfg.Backend.TempPath)
	return nil
}

// mergedBackends overlays the backends stored in the database (edited at
// runtime through the admin surface) on top of the statically configured
// ones, database entries winning on id collision.
func mergedBackends(store *storage.Storage, configured map[string]config.Backend) (map[string]config.Backend, error) {
	overlay, err := store.ListBackends()
	if err != nil {
		return nil, err
	}
	merged := make(map[string]config.Backend, len(configured)+len(overlay))
	for id, b := range configured {
		merged[id] = b
	}
	for id, b := range overlay {
		merged[id] = b
	}
	return merged, nil
}

func mountFrontend(router *http.ServeMux, dispatcher *frontend.Dispatcher, cfg *config.Config, log *slog.Logger) {
	front := frontend.NewServer(dispatcher, cfg.Frontend, log)
	router.Handle("/title/", front.Router)
	router.Handle("/chapter/", front.Router)
	router.Handle("/api/", front.Router)
	router.Handle("/queue/front", front.Router)
	router.Handle("/queue/front/", front.Router)
}

// mountAdmin mounts the admin surface on its own, independent of whether
// this process also dispatches frontend traffic: it still needs the
// dispatcher's worker bookkeeping to aggregate queue/back/all and CRUD the
// backends map, even when nothing else on this process proxies requests to
// them.
func mountAdmin(router *http.ServeMux, store *storage.Storage, dispatcher *frontend.Dispatcher, cfg *config.Config, log *slog.Logger, audit *security.AuditLogger) {
	admSrv := admin.New(store, dispatcher, cfg.Frontend.Backends, cfg.Admin, log, audit)
	router.Handle("/admin/", admSrv.Router)
}
