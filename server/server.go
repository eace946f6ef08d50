// Package server exposes job status and health over HTTP. It is a
// read-only surface: jobs are submitted through the client API or the
// CLI, never through the server.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quarrydata/pgexport/command"
)

// JobStore is the view of the async runner the server needs.
type JobStore interface {
	Get(id string) (*command.Job, bool)
	List() []command.Info
}

// Pinger reports database reachability for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP server.
type Options struct {
	// Addr is the listen address. Default: :8080
	Addr string

	// ReadTimeout bounds request reads. Default: 10s
	ReadTimeout time.Duration

	// WriteTimeout bounds response writes. Default: 30s
	WriteTimeout time.Duration

	// Logger receives request and lifecycle logging. If nil, logging is
	// discarded.
	Logger command.Logger
}

// DefaultOptions returns Options with default values.
func DefaultOptions() Options {
	return Options{
		Addr:         ":8080",
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Server serves job status, health, and metrics endpoints.
type Server struct {
	jobs     JobStore
	pinger   Pinger
	gatherer prometheus.Gatherer
	logger   command.Logger
	httpSrv  *http.Server
	router   *mux.Router
}

// New creates a server over the given job store and pinger. gatherer may
// be nil to disable the /metrics endpoint.
func New(jobs JobStore, pinger Pinger, gatherer prometheus.Gatherer, opts Options) *Server {
	if opts.Addr == "" {
		opts.Addr = DefaultOptions().Addr
	}
	if opts.ReadTimeout <= 0 {
		opts.ReadTimeout = DefaultOptions().ReadTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = DefaultOptions().WriteTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = command.NewNoopLogger()
	}

	s := &Server{
		jobs:     jobs,
		pinger:   pinger,
		gatherer: gatherer,
		logger:   logger,
	}

	router := mux.NewRouter()
	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/jobs", s.handleListJobs).Methods(http.MethodGet)
	router.HandleFunc("/jobs/{id}", s.handleGetJob).Methods(http.MethodGet)
	if gatherer != nil {
		router.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	s.router = router

	s.httpSrv = &http.Server{
		Addr:         opts.Addr,
		Handler:      router,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	}

	return s
}

// Handler returns the route handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks serving requests until Shutdown is called or the
// listener fails.
func (s *Server) ListenAndServe() error {
	s.logger.Info("http server listening", command.String("addr", s.httpSrv.Addr))
	err := s.httpSrv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the server, waiting for in-flight requests
// up to the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	code := http.StatusOK

	if s.pinger != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := s.pinger.Ping(ctx); err != nil {
			status = "degraded"
			code = http.StatusServiceUnavailable
			s.logger.Warn("health check failed", command.Error("error", err))
		}
	}

	s.writeJSON(w, code, map[string]string{"status": status})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	infos := s.jobs.List()
	if infos == nil {
		infos = []command.Info{}
	}
	s.writeJSON(w, http.StatusOK, infos)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	job, ok := s.jobs.Get(id)
	if !ok {
		s.writeJSON(w, http.StatusNotFound, map[string]string{
			"error": "job not found",
			"id":    id,
		})
		return
	}

	s.writeJSON(w, http.StatusOK, job.Snapshot())
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", command.Error("error", err))
	}
}
