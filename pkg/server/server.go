// Package server exposes the engine over HTTP: submit a task, watch a
// collaboration, stop it, and scrape metrics.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/concertohq/concerto/pkg/audit"
	"github.com/concertohq/concerto/pkg/collab"
	"github.com/concertohq/concerto/pkg/engine"
	"github.com/concertohq/concerto/pkg/observability"
)

// Server is the HTTP API over an engine.
type Server struct {
	engine     *engine.Engine
	metrics    *observability.Metrics
	store      audit.Store
	logger     *slog.Logger
	httpServer *http.Server
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// WithMetrics mounts the /metrics scrape endpoint.
func WithMetrics(m *observability.Metrics) ServerOption {
	return func(s *Server) { s.metrics = m }
}

// WithAuditStore exposes the collaboration audit trail.
func WithAuditStore(store audit.Store) ServerOption {
	return func(s *Server) { s.store = store }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.logger = l }
}

// New creates the HTTP API server listening on addr.
func New(eng *engine.Engine, addr string, opts ...ServerOption) *Server {
	s := &Server{
		engine: eng,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if s.metrics != nil {
		r.Get("/metrics", s.metrics.Handler().ServeHTTP)
	}

	r.Route("/v1/collaborations", func(r chi.Router) {
		r.Post("/", s.handleCreate)
		r.Get("/", s.handleList)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGet)
			r.Post("/stop", s.handleStop)
			r.Get("/records", s.handleRecords)
		})
	})

	r.Get("/v1/workers", s.handleWorkers)

	return r
}

// Start begins serving. It blocks until the listener fails or Shutdown is
// called.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "address", s.httpServer.Addr)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler returns the routed handler, used by tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

type createRequest struct {
	Workspace string         `json:"workspace,omitempty"`
	Task      string         `json:"task"`
	Topology  string         `json:"topology,omitempty"`
	Workers   []string       `json:"workers,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
}

type stepView struct {
	ID        string   `json:"id"`
	Worker    string   `json:"worker"`
	Status    string   `json:"status"`
	DependsOn []string `json:"depends_on,omitempty"`
	Output    string   `json:"output,omitempty"`
	Error     string   `json:"error,omitempty"`
}

type collaborationView struct {
	ID       string     `json:"id"`
	Task     string     `json:"task"`
	Topology string     `json:"topology"`
	Status   string     `json:"status"`
	Steps    []stepView `json:"steps"`
	Result   *resultView `json:"result,omitempty"`
	Error    string     `json:"error,omitempty"`
}

type resultView struct {
	Output string `json:"output"`
	Method string `json:"method"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		writeError(w, http.StatusBadRequest, "task is required")
		return
	}

	c, err := s.engine.Create(r.Context(), engine.CreateRequest{
		Workspace: req.Workspace,
		Task:      req.Task,
		Topology:  collab.Topology(req.Topology),
		Workers:   req.Workers,
		Params:    req.Params,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.engine.Start(c.ID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": c.ID})
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"collaborations": s.engine.List()})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Snapshot(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, viewOf(snap))
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Stop(id); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "stopping"})
}

func (s *Server) handleRecords(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusNotFound, "audit trail is not enabled")
		return
	}
	id := chi.URLParam(r, "id")
	if _, err := s.engine.Snapshot(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	records, err := s.store.List(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workers": s.engine.Workers().Names()})
}

func viewOf(snap *engine.Snapshot) collaborationView {
	view := collaborationView{
		ID:       snap.ID,
		Task:     snap.Task,
		Topology: string(snap.Topology),
		Status:   string(snap.Status),
		Error:    snap.Err,
	}
	for _, step := range snap.Steps {
		view.Steps = append(view.Steps, stepView{
			ID:        step.ID,
			Worker:    step.Worker,
			Status:    string(step.Status),
			DependsOn: step.DependsOn,
			Output:    step.Output,
			Error:     step.Err,
		})
	}
	if snap.Result != nil {
		view.Result = &resultView{Output: snap.Result.Output, Method: snap.Result.Method}
	}
	return view
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
