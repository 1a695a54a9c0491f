package frontend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mangadexzip/internal/config"
)

// Server is the frontend's user-facing HTTP surface: title/chapter
// redirects, the JSON API mirror, queue aggregation, and the data proxy.
type Server struct {
	dispatcher *Dispatcher
	cfg        config.FrontendConfig
	logger     *slog.Logger
	client     *http.Client

	Router *chi.Mux
}

func NewServer(dispatcher *Dispatcher, cfg config.FrontendConfig, logger *slog.Logger) *Server {
	s := &Server{
		dispatcher: dispatcher,
		cfg:        cfg,
		logger:     logger,
		client:     &http.Client{},
	}
	s.Router = chi.NewRouter()
	s.routes()
	return s
}

func (s *Server) routes() {
	s.Router.Use(middleware.Logger)
	s.Router.Use(middleware.Recoverer)

	s.Router.Get("/title/{id}", s.handleTitleRedirect)
	s.Router.Get("/chapter/{id}", s.handleChapterRedirect)
	s.Router.Get("/api/manga/{id}", s.handleAPIManga)
	s.Router.Get("/api/chapter/{id}", s.handleAPIChapter)
	s.Router.Get("/queue/front", s.handleAggregate)
	s.Router.Get("/queue/front/{id}", s.handleTaskInfo)
	s.Router.Get("/queue/front/{id}/wait", s.handleWaitPage)
	s.Router.Get("/queue/front/{id}/data", s.handleProxyData)
}

func (s *Server) dispatchNew(kind, id string, group string) (taskID, workerID string, err error) {
	workerID, bk, err := s.dispatcher.SelectWorker()
	if err != nil {
		return "", "", err
	}

	body, _ := json.Marshal(map[string]any{
		"type":  kind,
		"data":  id,
		"group": group,
	})

	req, err := http.NewRequest(http.MethodPost, bk.URL+"/queue/back/new", bytes.NewReader(body))
	if err != nil {
		return "", "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if bk.Token != "" {
		req.Header.Set("Authorization", "Bearer "+bk.Token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return "", "", fmt.Errorf("backend %s returned status %d", workerID, resp.StatusCode)
	}

	var out struct {
		TaskID string `json:"task_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "", err
	}

	s.dispatcher.RememberTask(out.TaskID, workerID)
	return out.TaskID, workerID, nil
}

func (s *Server) handleTitleRedirect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	taskID, _, err := s.dispatchNew("manga", id, clientGroup(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/queue/front/%s/wait", taskID), http.StatusFound)
}

func (s *Server) handleChapterRedirect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	taskID, _, err := s.dispatchNew("chapter", id, clientGroup(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	http.Redirect(w, r, fmt.Sprintf("/queue/front/%s/wait", taskID), http.StatusFound)
}

func (s *Server) handleAPIManga(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	taskID, _, err := s.dispatchNew("manga", id, clientGroup(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"task_id": taskID})
}

func (s *Server) handleAPIChapter(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	taskID, _, err := s.dispatchNew("chapter", id, clientGroup(r))
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"task_id": taskID})
}

func (s *Server) handleAggregate(w http.ResponseWriter, r *http.Request) {
	total := map[string]int{}
	for _, bk := range s.dispatcher.Backends() {
		if bk.Maintenance {
			continue
		}
		counts, err := fetchCounts(s.client, bk)
		if err != nil {
			continue
		}
		for k, v := range counts {
			total[k] += v
		}
	}
	writeJSON(w, total)
}

func fetchCounts(client *http.Client, bk config.Backend) (map[string]int, error) {
	req, err := http.NewRequest(http.MethodGet, bk.URL+"/queue/back", nil)
	if err != nil {
		return nil, err
	}
	if bk.Token != "" {
		req.Header.Set("Authorization", "Bearer "+bk.Token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	var out map[string]int
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// handleTaskInfo proxies GET /queue/back/{id} from the owning worker,
// synthesizing redirect_uri as either the worker's external URL or a
// frontend proxy URL, matching the worker's ProxyData setting.
func (s *Server) handleTaskInfo(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, bk, ok := s.dispatcher.ResolveTask(id)
	if !ok {
		http.Error(w, "task not found or expired from cache", http.StatusNotFound)
		return
	}

	req, err := http.NewRequest(http.MethodGet, bk.URL+"/queue/back/"+id, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if bk.Token != "" {
		req.Header.Set("Authorization", "Bearer "+bk.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	var info map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	if bk.ProxyData {
		info["redirect_uri"] = fmt.Sprintf("/queue/front/%s/data", id)
	} else {
		info["redirect_uri"] = bk.ExternalURL + "/queue/back/" + id + "/data"
	}
	writeJSON(w, info)
}

func (s *Server) handleWaitPage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprintf(w, waitPageHTML, id, id)
}

const waitPageHTML = `<!doctype html>
<html><head><title>Preparing your download</title></head>
<body>
<p id="status">Preparing task %s&hellip;</p>
<script>
async function poll() {
  const res = await fetch('/queue/front/%s');
  const info = await res.json();
  document.getElementById('status').textContent = info.status || '';
  if (info.completed) { window.location = info.redirect_uri; return; }
  if (info.failed) { return; }
  setTimeout(poll, 2000);
}
poll();
</script>
</body></html>`

// handleProxyData streams the archive bytes from the owning worker.
// handleTaskInfo points redirect_uri here when that worker's ProxyData is
// set; this handler itself serves the request whatever ProxyData says.
func (s *Server) handleProxyData(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	_, bk, ok := s.dispatcher.ResolveTask(id)
	if !ok {
		http.Error(w, "task not found or expired from cache", http.StatusNotFound)
		return
	}

	req, err := http.NewRequest(http.MethodGet, bk.URL+"/queue/back/"+id+"/data", nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	if bk.Token != "" {
		req.Header.Set("Authorization", "Bearer "+bk.Token)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	w.Header().Set("Content-Type", "application/zip")
	w.WriteHeader(resp.StatusCode)
	_, _ = io.Copy(w, resp.Body)
}

// clientGroup keys fairness by the requesting client's network address,
// matching spec.md §2's default grouping.
func clientGroup(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
