package telemetry

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for graph runs, nodes and the API.
// A nil *Metrics, or one built with metrics disabled, records nothing.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	shortCircuits prometheus.Counter
	runTimeouts   prometheus.Counter
	activeRuns    prometheus.Gauge

	// Node metrics
	nodeExecutions *prometheus.CounterVec
	nodeDuration   *prometheus.HistogramVec
	taskErrors     *prometheus.CounterVec

	// Cache metrics
	cacheLookups *prometheus.CounterVec

	// HTTP metrics
	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_started_total",
			Help:      "Total number of graph runs started",
		}),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of graph runs completed by report status",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of graph runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),
		shortCircuits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "short_circuits_total",
			Help:      "Total number of runs halted by the entry node",
		}),
		runTimeouts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "run_timeouts_total",
			Help:      "Total number of runs that hit their deadline",
		}),
		activeRuns: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_runs",
			Help:      "Number of graph runs currently executing",
		}),

		nodeExecutions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node patches merged by status",
			},
			[]string{"node", "status"},
		),
		nodeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Duration of node execution in seconds",
				Buckets:   buckets,
			},
			[]string{"node"},
		),
		taskErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_errors_total",
				Help:      "Total number of task failures by class and code",
			},
			[]string{"class", "code"},
		),

		cacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cache_lookups_total",
				Help:      "Total number of result cache lookups",
			},
			[]string{"result"},
		),

		httpRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of API requests",
			},
			[]string{"route", "code"},
		),
		httpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Duration of API requests in seconds",
				Buckets:   buckets,
			},
			[]string{"route"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.shortCircuits,
		m.runTimeouts,
		m.activeRuns,
		m.nodeExecutions,
		m.nodeDuration,
		m.taskErrors,
		m.cacheLookups,
		m.httpRequests,
		m.httpDuration,
	)

	return m, nil
}

func (m *Metrics) enabled() bool {
	return m != nil && m.registry != nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted() {
	if !m.enabled() {
		return
	}
	m.runsStarted.Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// RecordShortCircuit records a run halted by its entry node.
func (m *Metrics) RecordShortCircuit() {
	if !m.enabled() {
		return
	}
	m.shortCircuits.Inc()
}

// RecordRunTimeout records a run that hit its deadline.
func (m *Metrics) RecordRunTimeout() {
	if !m.enabled() {
		return
	}
	m.runTimeouts.Inc()
}

// Node Metrics

// RecordNodeExecution records a merged node patch.
func (m *Metrics) RecordNodeExecution(node, status string, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.nodeExecutions.WithLabelValues(node, status).Inc()
	m.nodeDuration.WithLabelValues(node).Observe(duration.Seconds())
}

// RecordTaskError records a task failure by class and code.
func (m *Metrics) RecordTaskError(class, code string) {
	if !m.enabled() {
		return
	}
	m.taskErrors.WithLabelValues(class, code).Inc()
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if !m.enabled() {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

// HTTP Metrics

// RecordHTTPRequest records an API request.
func (m *Metrics) RecordHTTPRequest(route string, code int, duration time.Duration) {
	if !m.enabled() {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if !m.enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Registry exposes the private registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ServeMetrics runs a standalone metrics HTTP server until ctx is cancelled.
func (m *Metrics) ServeMetrics(ctx context.Context) error {
	if !m.enabled() || m.config.ListenAddress == "" {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
