package stores

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// setupTestStore creates a migrated in-memory store.
func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	store, err := NewSQLiteStore(Config{Path: ":memory:"}, zerolog.Nop())
	require.NoError(t, err)
	require.NoError(t, store.Open(context.Background()))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func sampleResult(id string, status engine.RunStatus, started time.Time) *engine.RunResult {
	completed := started.Add(120 * time.Millisecond)
	return &engine.RunResult{
		RunID:       id,
		Status:      status,
		StartedAt:   started,
		CompletedAt: completed,
		Duration:    120 * time.Millisecond,
		Nodes: map[string]engine.NodeResult{
			"extract": {
				NodeID:      "extract",
				State:       engine.NodeStateDone,
				Status:      engine.PatchStatusOK,
				Invoked:     true,
				StartedAt:   started,
				CompletedAt: started.Add(10 * time.Millisecond),
				Duration:    10 * time.Millisecond,
			},
			"analyze": {
				NodeID:      "analyze",
				State:       engine.NodeStateDone,
				Status:      engine.PatchStatusDegraded,
				Reason:      "timeout",
				Error:       engine.NewTimeoutError("node timed out", nil),
				Invoked:     true,
				StartedAt:   started.Add(10 * time.Millisecond),
				CompletedAt: started.Add(100 * time.Millisecond),
				Duration:    90 * time.Millisecond,
			},
			"report": {
				NodeID:      "report",
				State:       engine.NodeStateDone,
				Status:      engine.PatchStatusOK,
				Invoked:     true,
				StartedAt:   started.Add(100 * time.Millisecond),
				CompletedAt: completed,
				Duration:    20 * time.Millisecond,
			},
		},
		State: engine.Snapshot{
			Values: map[string]any{
				"analysis": nil,
				"report":   map[string]any{"status": string(status), "summary": "ok"},
			},
			Writers:  map[string]string{"analysis": "analyze", "report": "report"},
			Statuses: map[string]engine.PatchStatus{"analysis": engine.PatchStatusDegraded, "report": engine.PatchStatusOK},
			Reasons:  map[string]string{"analysis": "timeout"},
		},
	}
}

func TestStoreLifecycle(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: ":memory:"}, zerolog.Nop())
	require.NoError(t, err)

	ctx := context.Background()
	assert.Error(t, store.HealthCheck(ctx))
	assert.Error(t, store.Migrate(ctx))

	require.NoError(t, store.Init(ctx))
	require.NoError(t, store.HealthCheck(ctx))
	require.NoError(t, store.Migrate(ctx))
	require.NoError(t, store.Migrate(ctx), "migrations are idempotent")
	require.NoError(t, store.Close())
}

func TestNewSQLiteStore_RequiresPath(t *testing.T) {
	_, err := NewSQLiteStore(Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestStoreMigrations(t *testing.T) {
	store := setupTestStore(t)

	for _, table := range []string{"runs", "node_runs", "events", "audit"} {
		var count int
		err := store.db.QueryRowContext(context.Background(), "SELECT COUNT(*) FROM "+table).Scan(&count)
		assert.NoError(t, err, "table %s", table)
	}
}

func TestRecordRun_RoundTrip(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute).Truncate(time.Millisecond)

	result := sampleResult("run-001", engine.RunStatusDegraded, started)
	require.NoError(t, store.RecordRun(ctx, result))

	run, err := store.GetRun(ctx, "run-001")
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusDegraded, run.Status)
	assert.False(t, run.ShortCircuited)
	assert.Nil(t, run.HaltReason)
	assert.Equal(t, 120*time.Millisecond, run.Duration)
	assert.True(t, run.StartedAt.Equal(started))

	require.NotNil(t, run.Report)
	var report map[string]any
	require.NoError(t, json.Unmarshal([]byte(*run.Report), &report))
	assert.Equal(t, "degraded", report["status"])

	canonical, err := result.State.Canonical()
	require.NoError(t, err)
	assert.JSONEq(t, string(canonical), run.State)

	nodes, err := store.ListNodeRuns(ctx, "run-001")
	require.NoError(t, err)
	require.Len(t, nodes, 3)
	assert.Equal(t, "analyze", nodes[0].NodeID)
	assert.Equal(t, engine.PatchStatusDegraded, nodes[0].Status)
	require.NotNil(t, nodes[0].Reason)
	assert.Equal(t, "timeout", *nodes[0].Reason)
	require.NotNil(t, nodes[0].ErrorCode)
	assert.Equal(t, engine.ErrCodeTimeout, *nodes[0].ErrorCode)
	assert.Equal(t, 90*time.Millisecond, nodes[0].Duration)
	assert.True(t, nodes[0].Invoked)
	require.NotNil(t, nodes[0].StartedAt)

	assert.Nil(t, nodes[1].ErrorCode)
}

func TestRecordRun_DuplicateIsRejected(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	result := sampleResult("run-dup", engine.RunStatusComplete, time.Now())
	require.NoError(t, store.RecordRun(ctx, result))
	assert.Error(t, store.RecordRun(ctx, result))

	nodes, err := store.ListNodeRuns(ctx, "run-dup")
	require.NoError(t, err)
	assert.Len(t, nodes, 3)
}

func TestRecordRun_ShortCircuited(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	result := sampleResult("run-sc", engine.RunStatusShortCircuited, time.Now())
	result.ShortCircuited = true
	result.HaltReason = "Image validation failed."
	require.NoError(t, store.RecordRun(ctx, result))

	run, err := store.GetRun(ctx, "run-sc")
	require.NoError(t, err)
	assert.True(t, run.ShortCircuited)
	require.NotNil(t, run.HaltReason)
	assert.Equal(t, "Image validation failed.", *run.HaltReason)
}

func TestListRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	base := time.Now().Add(-time.Hour)

	require.NoError(t, store.RecordRun(ctx, sampleResult("a", engine.RunStatusComplete, base)))
	require.NoError(t, store.RecordRun(ctx, sampleResult("b", engine.RunStatusDegraded, base.Add(time.Minute))))
	require.NoError(t, store.RecordRun(ctx, sampleResult("c", engine.RunStatusComplete, base.Add(2*time.Minute))))

	runs, err := store.ListRuns(ctx, RunFilter{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, []string{"c", "b", "a"}, []string{runs[0].ID, runs[1].ID, runs[2].ID})

	runs, err = store.ListRuns(ctx, RunFilter{Status: engine.RunStatusComplete})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = store.ListRuns(ctx, RunFilter{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)
}

func TestDeleteAndPruneRuns(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, store.RecordRun(ctx, sampleResult("old", engine.RunStatusComplete, now.Add(-48*time.Hour))))
	require.NoError(t, store.RecordRun(ctx, sampleResult("new", engine.RunStatusComplete, now)))

	pruned, err := store.PruneRuns(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, pruned)

	_, err = store.GetRun(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	nodes, err := store.ListNodeRuns(ctx, "old")
	require.NoError(t, err)
	assert.Empty(t, nodes, "node runs cascade with their run")

	require.NoError(t, store.DeleteRun(ctx, "new"))
	assert.ErrorIs(t, store.DeleteRun(ctx, "new"), ErrNotFound)
}

func TestPruneExpired_NoRetention(t *testing.T) {
	store := setupTestStore(t)
	n, err := store.PruneExpired(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEvents(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	runID := "run-ev"
	node := "extract"

	for _, e := range []*Event{
		{RunID: &runID, Type: telemetry.EventTypeRunStarted, Level: "info", Message: "started", Timestamp: time.Now()},
		{RunID: &runID, NodeID: &node, Type: telemetry.EventTypeNodeDegraded, Level: "warning", Message: "degraded", Timestamp: time.Now()},
		{Type: telemetry.EventTypePolicyDenied, Level: "warning", Message: "denied", Timestamp: time.Now()},
	} {
		require.NoError(t, store.AppendEvent(ctx, e))
		assert.NotZero(t, e.ID)
	}

	events, err := store.GetEvents(ctx, EventFilter{RunID: &runID})
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Message)

	warning := "warning"
	events, err = store.GetEvents(ctx, EventFilter{Level: &warning})
	require.NoError(t, err)
	assert.Len(t, events, 2)

	events, err = store.GetEvents(ctx, EventFilter{NodeID: &node})
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, telemetry.EventTypeNodeDegraded, events[0].Type)
}

func TestEventSink(t *testing.T) {
	store := setupTestStore(t)

	sink := store.EventSink()
	sink(telemetry.Event{
		Type:      telemetry.EventTypeNodeCompleted,
		RunID:     "run-sink",
		NodeID:    "analyze",
		Message:   "done",
		Level:     telemetry.EventLevelInfo,
		Timestamp: time.Now(),
		Data:      map[string]interface{}{"status": "ok"},
	})

	runID := "run-sink"
	events, err := store.GetEvents(context.Background(), EventFilter{RunID: &runID})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.NotNil(t, events[0].NodeID)
	assert.Equal(t, "analyze", *events[0].NodeID)
	require.NotNil(t, events[0].Details)
	assert.JSONEq(t, `{"status":"ok"}`, *events[0].Details)
}

func TestAuditEntries(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	target := "run-1"

	require.NoError(t, store.CreateAuditEntry(ctx, &AuditEntry{Action: "analysis.requested", Actor: "api", TargetID: &target}))
	require.NoError(t, store.CreateAuditEntry(ctx, &AuditEntry{Action: "history.pruned", Actor: "cli"}))

	entries, err := store.ListAuditEntries(ctx, nil, nil, 0, 0)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	action := "analysis.requested"
	entries, err = store.ListAuditEntries(ctx, &action, nil, 10, 0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "api", entries[0].Actor)
	require.NotNil(t, entries[0].TargetID)
	assert.Equal(t, target, *entries[0].TargetID)
}

func TestRecordRunFromScheduler(t *testing.T) {
	store := setupTestStore(t)

	out := engine.NewKey[string]("out")
	g, err := engine.NewGraphBuilder().
		Node(engine.NodeSpec{
			ID:      "entry",
			Outputs: engine.Fields(engine.ShortCircuit, engine.HaltReason),
			Task: engine.TaskFunc(func(ctx context.Context, in engine.View) (*engine.Output, error) {
				o := engine.NewOutput()
				engine.Continue(o)
				return o, nil
			}),
		}).
		Node(engine.NodeSpec{
			ID:      "report",
			Inputs:  engine.Fields(engine.ShortCircuit),
			Outputs: engine.Fields(out),
			Task: engine.TaskFunc(func(ctx context.Context, in engine.View) (*engine.Output, error) {
				o := engine.NewOutput()
				out.Set(o, "done")
				return o, nil
			}),
		}).
		Build()
	require.NoError(t, err)

	result, err := engine.NewScheduler(g, engine.SchedulerConfig{Recorder: store}).Run(context.Background(), nil)
	require.NoError(t, err)

	run, err := store.GetRun(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, engine.RunStatusComplete, run.Status)
	assert.Nil(t, run.Report)
}
