package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/openfroyo/healthgraph/pkg/advisor"
	"github.com/openfroyo/healthgraph/pkg/stores"
	"github.com/openfroyo/healthgraph/pkg/tasks"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// Config configures the HTTP API.
type Config struct {
	Listen          string        `mapstructure:"listen" yaml:"listen" validate:"required"`
	MaxBodyBytes    int64         `mapstructure:"max_body_bytes" yaml:"max_body_bytes" validate:"gt=0"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" yaml:"read_timeout" validate:"gte=0"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" validate:"gte=0"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" yaml:"shutdown_timeout" validate:"gte=0"`

	// RateLimit bounds accepted analyze requests per second. Zero disables it.
	RateLimit float64 `mapstructure:"rate_limit" yaml:"rate_limit" validate:"gte=0"`
	Burst     int     `mapstructure:"burst" yaml:"burst" validate:"gte=0"`
}

// DefaultConfig returns the default server configuration.
func DefaultConfig() Config {
	return Config{
		Listen:          ":8080",
		MaxBodyBytes:    1 << 20,
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    90 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimit:       20,
		Burst:           40,
	}
}

// Analyzer runs one analysis.
type Analyzer interface {
	AnalyzeWithID(ctx context.Context, runID string, req advisor.Request) (*advisor.Result, error)
}

// History is the run history the API reads and audits into.
type History interface {
	GetRun(ctx context.Context, id string) (*stores.Run, error)
	ListRuns(ctx context.Context, filter stores.RunFilter) ([]*stores.Run, error)
	ListNodeRuns(ctx context.Context, runID string) ([]*stores.NodeRun, error)
	CreateAuditEntry(ctx context.Context, entry *stores.AuditEntry) error
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP API.
type Server struct {
	cfg      Config
	analyzer Analyzer
	history  History
	metrics  *telemetry.Metrics
	limiter  *rate.Limiter
	logger   zerolog.Logger
	handler  http.Handler
}

// New creates a server. history and metrics may be nil.
func New(cfg Config, analyzer Analyzer, history History, metrics *telemetry.Metrics, logger zerolog.Logger) (*Server, error) {
	if analyzer == nil {
		return nil, fmt.Errorf("analyzer is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultConfig().MaxBodyBytes
	}

	s := &Server{
		cfg:      cfg,
		analyzer: analyzer,
		history:  history,
		metrics:  metrics,
		limiter:  tasks.NewLimiter(cfg.RateLimit, cfg.Burst),
		logger:   logger.With().Str("component", "server").Logger(),
	}

	mux := http.NewServeMux()
	s.route(mux, "POST /v1/analyze", s.handleAnalyze)
	s.route(mux, "GET /v1/runs", s.handleListRuns)
	s.route(mux, "GET /v1/runs/{id}", s.handleGetRun)
	s.route(mux, "GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", metrics.Handler())
	s.handler = mux

	return s, nil
}

// Handler returns the API handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve serves on ln until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadTimeout:       s.cfg.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      s.cfg.WriteTimeout,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", ln.Addr().String()).Msg("Starting API server")
		errCh <- srv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		timeout := s.cfg.ShutdownTimeout
		if timeout <= 0 {
			timeout = DefaultConfig().ShutdownTimeout
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		s.logger.Info().Msg("Shutting down API server")
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// route registers h under pattern with request metrics and logging.
func (s *Server) route(mux *http.ServeMux, pattern string, h http.HandlerFunc) {
	mux.Handle(pattern, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		timer := telemetry.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		h(rec, r)

		s.metrics.RecordHTTPRequest(pattern, rec.status, timer.Duration())
		s.logger.Debug().
			Str("route", pattern).
			Int("status", rec.status).
			Dur("duration", timer.Duration()).
			Msg("Request served")
	}))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}
