package telemetry

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "default", mutate: func(*Config) {}},
		{name: "production with endpoint", mutate: func(c *Config) {
			*c = *ProductionConfig()
			c.Tracing.Endpoint = "collector:4317"
		}},
		{name: "missing service name", mutate: func(c *Config) { c.ServiceName = "" }, wantErr: "service name"},
		{name: "bad level", mutate: func(c *Config) { c.Logging.Level = "loud" }, wantErr: "invalid log level"},
		{name: "bad format", mutate: func(c *Config) { c.Logging.Format = "xml" }, wantErr: "invalid log format"},
		{name: "bad event level", mutate: func(c *Config) { c.Events.MinLevel = "debug" }, wantErr: "invalid event level"},
		{name: "otlp without endpoint", mutate: func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, wantErr: "endpoint"},
		{name: "sampling out of range", mutate: func(c *Config) { c.Tracing.SamplingRate = 2 }, wantErr: "sampling rate"},
		{name: "zero event buffer", mutate: func(c *Config) { c.Events.BufferSize = 0 }, wantErr: "buffer size"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLogger_WithRunAndNode(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "debug", Format: "json"}, &buf)

	logger.NewComponentLogger("scheduler").WithRunID("run-1").WithNodeID("entry").Info("node started")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "scheduler", entry["component"])
	assert.Equal(t, "run-1", entry["run_id"])
	assert.Equal(t, "entry", entry["node_id"])
	assert.Equal(t, "node started", entry["message"])
}

func TestLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "warn", Format: "json"}, &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogger_FromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerWithWriter(LoggingConfig{Level: "info", Format: "json"}, &buf)

	ctx := logger.WithContext(context.Background())
	FromContext(ctx).Info("from context")
	assert.Contains(t, buf.String(), "from context")

	// Missing logger falls back to a silent one.
	FromContext(context.Background()).Info("dropped")
}

func TestMetrics_RecordRunLifecycle(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordRunStarted()
	assert.Equal(t, 1.0, testutil.ToFloat64(m.activeRuns))

	m.RecordNodeExecution("entry", "ok", 10*time.Millisecond)
	m.RecordNodeExecution("benefits", "degraded", 20*time.Millisecond)
	m.RecordTaskError("transient", "TASK_FAILED")
	m.RecordShortCircuit()
	m.RecordRunTimeout()
	m.RecordRunCompleted("degraded", 50*time.Millisecond)

	assert.Equal(t, 0.0, testutil.ToFloat64(m.activeRuns))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runsCompleted.WithLabelValues("degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.nodeExecutions.WithLabelValues("benefits", "degraded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.shortCircuits))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.runTimeouts))
}

func TestMetrics_Handler(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)
	m.RecordRunStarted()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthgraph_runs_started_total")
}

func TestMetrics_DisabledAndNil(t *testing.T) {
	cfg := DefaultConfig().Metrics
	cfg.Enabled = false
	disabled, err := NewMetrics(cfg)
	require.NoError(t, err)

	var nilMetrics *Metrics
	for _, m := range []*Metrics{disabled, nilMetrics} {
		assert.NotPanics(t, func() {
			m.RecordRunStarted()
			m.RecordNodeExecution("n", "ok", time.Millisecond)
			m.RecordCacheLookup(true)
			m.RecordHTTPRequest("/healthz", 200, time.Millisecond)
			m.RecordRunCompleted("complete", time.Millisecond)
		})
		rec := httptest.NewRecorder()
		m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		assert.Equal(t, http.StatusNotFound, rec.Code)
	}
}

func TestEventPublisher_SyncDelivery(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10})
	require.NoError(t, err)

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, func(e Event) bool { return e.RunID == "run-1" })

	require.NoError(t, ep.PublishRunStarted("run-1", 6))
	require.NoError(t, ep.PublishNodeCompleted("run-1", "benefits", "degraded", "boom", time.Millisecond))
	require.NoError(t, ep.PublishNodeCompleted("run-1", "diseases", "skipped", "", time.Millisecond))
	require.NoError(t, ep.PublishRunStarted("run-2", 6))

	require.Len(t, got, 3)
	assert.Equal(t, EventTypeRunStarted, got[0].Type)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, EventTypeNodeDegraded, got[1].Type)
	assert.Equal(t, EventLevelWarning, got[1].Level)
	assert.Equal(t, "boom", got[1].Data["reason"])
	assert.Equal(t, EventTypeNodeSkipped, got[2].Type)
}

func TestEventPublisher_AsyncShutdownFlushes(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 100, MaxBatchSize: 10, EnableAsync: true})
	require.NoError(t, err)

	received := make(chan Event, 100)
	ep.Subscribe(func(e Event) { received <- e }, func(e Event) bool { return e.Type == EventTypeNodeStarted })

	for i := 0; i < 5; i++ {
		require.NoError(t, ep.PublishNodeStarted("run", "node"))
	}
	require.NoError(t, ep.PublishRunCompleted("run", "complete", time.Second))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, ep.Shutdown(ctx))

	assert.Len(t, received, 5)
}

func TestEventPublisher_MinLevel(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, BufferSize: 10, MinLevel: EventLevelWarning})
	require.NoError(t, err)

	var got []string
	ep.Subscribe(func(e Event) { got = append(got, e.Type) }, nil)

	require.NoError(t, ep.PublishNodeStarted("run", "node"))
	require.NoError(t, ep.PublishRunTimedOut("run", []string{"slow"}))

	assert.Equal(t, []string{EventTypeRunTimedOut}, got)
}

func TestTracer_DisabledIsNoop(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: false}, "healthgraph", "test", "test")
	require.NoError(t, err)

	ctx, span := tr.StartNodeSpan(context.Background(), "run", "entry")
	RecordError(span, errors.New("boom"))
	span.End()

	assert.Empty(t, TraceID(ctx))
	assert.NoError(t, tr.Shutdown(context.Background()))
}

func TestTracer_RecordingWithoutExporter(t *testing.T) {
	tr, err := NewTracer(TracingConfig{Enabled: true, Exporter: "none", SamplingRate: 1}, "healthgraph", "test", "test")
	require.NoError(t, err)
	defer func() { _ = tr.Shutdown(context.Background()) }()

	ctx, span := tr.StartRunSpan(context.Background(), "run-1")
	defer span.End()

	assert.Len(t, TraceID(ctx), 32)
}

func TestNop_IsSafe(t *testing.T) {
	tel := Nop()
	ctx := tel.Logger.WithContext(context.Background())
	assert.Same(t, tel.Logger, FromContext(ctx))

	assert.NotPanics(t, func() {
		tel.Metrics.RecordRunStarted()
		_ = tel.Events.PublishRunStarted("run", 1)
		_, span := tel.Tracer.StartRunSpan(ctx, "run")
		span.End()
	})
	assert.NoError(t, tel.Shutdown(context.Background()))
	assert.True(t, strings.HasPrefix(tel.Config.ServiceName, "health"))
}
