// Package server exposes the aggregated schedule over HTTP: a JSON events
// endpoint backed by a cached coordinator run, a manual refresh hook,
// health, and Prometheus metrics.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ballardtrucks/roundup/internal/schedule"
	"github.com/ballardtrucks/roundup/internal/scrape"
	"github.com/ballardtrucks/roundup/internal/web"
)

// Runner executes one coordinator run over the configured sources.
type Runner interface {
	Run(ctx context.Context) scrape.Result
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context) scrape.Result

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context) scrape.Result { return f(ctx) }

// Config controls the HTTP surface.
type Config struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string
	// Refresh is how stale the cached result may grow before a request
	// triggers a new run.
	Refresh time.Duration
	// WindowDays bounds the served schedule window.
	WindowDays int
	// Location is the display timezone for payload timestamps.
	Location *time.Location
}

// Server caches the latest run result and serves it.
type Server struct {
	cfg    Config
	runner Runner
	logger *zap.Logger

	mu      sync.Mutex
	latest  scrape.Result
	fetched time.Time

	http *http.Server
}

// New builds the server. registry may be nil to skip the metrics endpoint.
func New(cfg Config, runner Runner, registry *prometheus.Registry, logger *zap.Logger) *Server {
	if cfg.Refresh <= 0 {
		cfg.Refresh = 15 * time.Minute
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{cfg: cfg, runner: runner, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(2 * time.Minute))

	r.Get("/healthz", s.handleHealth)
	r.Get("/v1/events", s.handleEvents)
	r.Post("/v1/refresh", s.handleRefresh)
	if registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	}

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Handler exposes the router, primarily for tests.
func (s *Server) Handler() http.Handler { return s.http.Handler }

// ListenAndServe runs the server until ctx is canceled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errc <- s.http.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	result, fetched := s.current(r.Context(), false)
	payload := s.payload(result, fetched)
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	result, fetched := s.current(r.Context(), true)
	payload := s.payload(result, fetched)
	writeJSON(w, http.StatusOK, payload)
}

// current returns the cached result, re-running the coordinator when the
// cache is stale or force is set. The mutex spans the run so concurrent
// requests share one refresh instead of stampeding.
func (s *Server) current(ctx context.Context, force bool) (scrape.Result, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if force || s.fetched.IsZero() || time.Since(s.fetched) > s.cfg.Refresh {
		s.latest = s.runner.Run(ctx)
		s.fetched = time.Now()
		s.logger.Info("schedule refreshed",
			zap.String("status", s.latest.Status.String()),
			zap.Int("events", len(s.latest.Events)),
		)
	}
	return s.latest, s.fetched
}

func (s *Server) payload(result scrape.Result, fetched time.Time) web.Payload {
	now := time.Now().In(s.cfg.Location)
	result.Events = schedule.Window(result.Events, now, s.cfg.WindowDays)
	return web.Build(result, fetched.In(s.cfg.Location))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
