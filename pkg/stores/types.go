package stores

import (
	"context"
	"time"

	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/telemetry"
)

// Run is a persisted pipeline run.
type Run struct {
	ID             string           `json:"id"`
	Status         engine.RunStatus `json:"status"`
	ShortCircuited bool             `json:"short_circuited"`
	HaltReason     *string          `json:"halt_reason,omitempty"`
	TimedOut       bool             `json:"timed_out"`
	Report         *string          `json:"report,omitempty"` // JSON blob
	State          string           `json:"state"`            // JSON blob
	Metadata       string           `json:"metadata"`         // JSON blob
	StartedAt      time.Time        `json:"started_at"`
	CompletedAt    time.Time        `json:"completed_at"`
	Duration       time.Duration    `json:"duration"`
	CreatedAt      time.Time        `json:"created_at"`
}

// NodeRun is the persisted outcome of one node within a run.
type NodeRun struct {
	RunID       string             `json:"run_id"`
	NodeID      string             `json:"node_id"`
	Status      engine.PatchStatus `json:"status"`
	Reason      *string            `json:"reason,omitempty"`
	ErrorClass  *string            `json:"error_class,omitempty"`
	ErrorCode   *string            `json:"error_code,omitempty"`
	Invoked     bool               `json:"invoked"`
	StartedAt   *time.Time         `json:"started_at,omitempty"`
	CompletedAt time.Time          `json:"completed_at"`
	Duration    time.Duration      `json:"duration"`
}

// Event is an append-only log entry mirrored from the telemetry event stream.
type Event struct {
	ID        int64     `json:"id"`
	RunID     *string   `json:"run_id,omitempty"`
	NodeID    *string   `json:"node_id,omitempty"`
	Type      string    `json:"type"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Details   *string   `json:"details,omitempty"` // JSON blob
	Timestamp time.Time `json:"timestamp"`
}

// AuditEntry represents an audit trail entry.
type AuditEntry struct {
	ID        int64     `json:"id"`
	Action    string    `json:"action"`              // e.g. "analysis.requested"
	Actor     string    `json:"actor"`               // user or system identifier
	TargetID  *string   `json:"target_id,omitempty"` // run ID
	Details   *string   `json:"details,omitempty"`   // JSON blob
	IPAddress *string   `json:"ip_address,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// RunFilter selects runs for listing. Zero fields match everything.
type RunFilter struct {
	Status engine.RunStatus
	Since  time.Time
	Limit  int
	Offset int
}

// EventFilter selects events for listing. Nil fields match everything.
type EventFilter struct {
	RunID  *string
	NodeID *string
	Level  *string
	Limit  int
	Offset int
}

// Store is the run history persistence layer.
type Store interface {
	engine.RunRecorder

	// Lifecycle
	Init(ctx context.Context) error
	Close() error
	Migrate(ctx context.Context) error

	// Run operations
	GetRun(ctx context.Context, id string) (*Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error)
	ListNodeRuns(ctx context.Context, runID string) ([]*NodeRun, error)
	DeleteRun(ctx context.Context, id string) error
	PruneRuns(ctx context.Context, olderThan time.Time) (int64, error)

	// Event operations
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error)
	EventSink() telemetry.EventSubscriber

	// Audit operations
	CreateAuditEntry(ctx context.Context, entry *AuditEntry) error
	ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error)

	// Utility
	HealthCheck(ctx context.Context) error
}

// DefaultListLimit caps list queries that do not set a limit.
const DefaultListLimit = 50
