package stores

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/rs/zerolog"

	"github.com/openfroyo/healthgraph/pkg/engine"
	"github.com/openfroyo/healthgraph/pkg/telemetry"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// SQLiteStore implements the Store interface using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	cfg    Config
	logger zerolog.Logger
}

var _ Store = (*SQLiteStore)(nil)

// Config holds SQLite store configuration.
type Config struct {
	// Path is the database file, or ":memory:".
	Path string `mapstructure:"path" yaml:"path" validate:"required"`

	// ReportField is the state field recorded as the run's report.
	ReportField string `mapstructure:"report_field" yaml:"report_field"`

	// Retention prunes runs older than this on PruneExpired. Zero keeps everything.
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`

	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`
}

// NewSQLiteStore creates a new SQLite store instance.
func NewSQLiteStore(cfg Config, logger zerolog.Logger) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}

	if cfg.ReportField == "" {
		cfg.ReportField = "report"
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	// Every connection to :memory: opens its own database.
	if cfg.Path == ":memory:" {
		cfg.MaxOpenConns = 1
		cfg.MaxIdleConns = 1
		cfg.ConnMaxLifetime = 0
	}

	return &SQLiteStore{
		cfg:    cfg,
		logger: logger.With().Str("component", "store").Logger(),
	}, nil
}

// Init opens the database and enables WAL mode and foreign keys.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	s.db = db
	return nil
}

// Open is Init followed by Migrate.
func (s *SQLiteStore) Open(ctx context.Context) error {
	if err := s.Init(ctx); err != nil {
		return err
	}
	if err := s.Migrate(ctx); err != nil {
		_ = s.Close()
		return err
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite.WithInstance(s.db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// RecordRun implements engine.RunRecorder. The run and its node outcomes
// are written in one transaction.
func (s *SQLiteStore) RecordRun(ctx context.Context, result *engine.RunResult) error {
	run, nodes, err := s.fromResult(result)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO runs (
			id, status, short_circuited, halt_reason, timed_out, report, state, metadata,
			started_at, completed_at, duration_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID,
		run.Status,
		run.ShortCircuited,
		run.HaltReason,
		run.TimedOut,
		run.Report,
		run.State,
		run.Metadata,
		run.StartedAt,
		run.CompletedAt,
		run.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for _, n := range nodes {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO node_runs (
				run_id, node_id, status, reason, error_class, error_code, invoked,
				started_at, completed_at, duration_ms
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			n.RunID,
			n.NodeID,
			n.Status,
			n.Reason,
			n.ErrorClass,
			n.ErrorCode,
			n.Invoked,
			n.StartedAt,
			n.CompletedAt,
			n.Duration.Milliseconds(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert node run %s: %w", n.NodeID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit run: %w", err)
	}

	s.logger.Debug().
		Str("run_id", run.ID).
		Str("status", string(run.Status)).
		Int("nodes", len(nodes)).
		Msg("Run recorded")
	return nil
}

func (s *SQLiteStore) fromResult(result *engine.RunResult) (*Run, []*NodeRun, error) {
	state, err := result.State.Canonical()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode state: %w", err)
	}

	run := &Run{
		ID:             result.RunID,
		Status:         result.Status,
		ShortCircuited: result.ShortCircuited,
		HaltReason:     optional(result.HaltReason),
		TimedOut:       result.TimedOut,
		State:          string(state),
		Metadata:       "{}",
		StartedAt:      result.StartedAt,
		CompletedAt:    result.CompletedAt,
		Duration:       result.Duration,
	}

	if report, ok := result.State.Values[s.cfg.ReportField]; ok && report != nil {
		data, err := json.Marshal(report)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to encode report: %w", err)
		}
		encoded := string(data)
		run.Report = &encoded
	}

	nodes := make([]*NodeRun, 0, len(result.Nodes))
	for _, id := range sortedKeys(result.Nodes) {
		nr := result.Nodes[id]
		n := &NodeRun{
			RunID:       result.RunID,
			NodeID:      id,
			Status:      nr.Status,
			Reason:      optional(nr.Reason),
			Invoked:     nr.Invoked,
			CompletedAt: nr.CompletedAt,
			Duration:    nr.Duration,
		}
		if !nr.StartedAt.IsZero() {
			started := nr.StartedAt
			n.StartedAt = &started
		}
		if nr.Error != nil {
			n.ErrorClass = optional(string(nr.Error.Class))
			n.ErrorCode = optional(nr.Error.Code)
		}
		nodes = append(nodes, n)
	}

	return run, nodes, nil
}

const runColumns = `id, status, short_circuited, halt_reason, timed_out, report, state, metadata,
	started_at, completed_at, duration_ms, created_at`

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	run := &Run{}
	var durationMS int64
	err := row.Scan(
		&run.ID,
		&run.Status,
		&run.ShortCircuited,
		&run.HaltReason,
		&run.TimedOut,
		&run.Report,
		&run.State,
		&run.Metadata,
		&run.StartedAt,
		&run.CompletedAt,
		&durationMS,
		&run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Duration = time.Duration(durationMS) * time.Millisecond
	return run, nil
}

// GetRun retrieves a run by ID.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run, err := scanRun(s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs, newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if !filter.Since.IsZero() {
		where = append(where, "started_at >= ?")
		args = append(args, filter.Since)
	}

	query := `SELECT ` + runColumns + ` FROM runs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY started_at DESC, id LIMIT ? OFFSET ?`
	args = append(args, limitOrDefault(filter.Limit), filter.Offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := []*Run{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating runs: %w", err)
	}

	return runs, nil
}

// ListNodeRuns lists the node outcomes of a run ordered by node ID.
func (s *SQLiteStore) ListNodeRuns(ctx context.Context, runID string) ([]*NodeRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, node_id, status, reason, error_class, error_code, invoked,
			   started_at, completed_at, duration_ms
		FROM node_runs
		WHERE run_id = ?
		ORDER BY node_id ASC
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to list node runs: %w", err)
	}
	defer rows.Close()

	nodes := []*NodeRun{}
	for rows.Next() {
		n := &NodeRun{}
		var durationMS int64
		err := rows.Scan(
			&n.RunID,
			&n.NodeID,
			&n.Status,
			&n.Reason,
			&n.ErrorClass,
			&n.ErrorCode,
			&n.Invoked,
			&n.StartedAt,
			&n.CompletedAt,
			&durationMS,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan node run: %w", err)
		}
		n.Duration = time.Duration(durationMS) * time.Millisecond
		nodes = append(nodes, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating node runs: %w", err)
	}

	return nodes, nil
}

// DeleteRun deletes a run and its node outcomes.
func (s *SQLiteStore) DeleteRun(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}

	return nil
}

// PruneRuns deletes runs that started before olderThan and returns how many
// were removed.
func (s *SQLiteStore) PruneRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM runs WHERE started_at < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rows > 0 {
		s.logger.Info().Int64("runs", rows).Msg("Pruned run history")
	}
	return rows, nil
}

// PruneExpired applies the configured retention.
func (s *SQLiteStore) PruneExpired(ctx context.Context) (int64, error) {
	if s.cfg.Retention <= 0 {
		return 0, nil
	}
	return s.PruneRuns(ctx, time.Now().Add(-s.cfg.Retention))
}

// AppendEvent appends a new event to the log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, event *Event) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO events (run_id, node_id, type, level, message, details, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		event.RunID,
		event.NodeID,
		event.Type,
		event.Level,
		event.Message,
		event.Details,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get event ID: %w", err)
	}

	event.ID = id
	return nil
}

// GetEvents retrieves events in the order they were appended.
func (s *SQLiteStore) GetEvents(ctx context.Context, filter EventFilter) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, node_id, type, level, message, details, timestamp
		FROM events
		WHERE (? IS NULL OR run_id = ?)
		  AND (? IS NULL OR node_id = ?)
		  AND (? IS NULL OR level = ?)
		ORDER BY id ASC
		LIMIT ? OFFSET ?
	`,
		filter.RunID, filter.RunID,
		filter.NodeID, filter.NodeID,
		filter.Level, filter.Level,
		limitOrDefault(filter.Limit), filter.Offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	events := []*Event{}
	for rows.Next() {
		event := &Event{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.NodeID,
			&event.Type,
			&event.Level,
			&event.Message,
			&event.Details,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}

	return events, nil
}

// EventSink returns a telemetry subscriber that appends every event to the
// log. Write failures are logged.
func (s *SQLiteStore) EventSink() telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		event := &Event{
			RunID:     optional(e.RunID),
			NodeID:    optional(e.NodeID),
			Type:      e.Type,
			Level:     e.Level,
			Message:   e.Message,
			Timestamp: e.Timestamp,
		}
		if len(e.Data) > 0 {
			if data, err := json.Marshal(e.Data); err == nil {
				details := string(data)
				event.Details = &details
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.AppendEvent(ctx, event); err != nil {
			s.logger.Warn().Err(err).Str("type", e.Type).Msg("Failed to persist event")
		}
	}
}

// CreateAuditEntry creates a new audit log entry.
func (s *SQLiteStore) CreateAuditEntry(ctx context.Context, entry *AuditEntry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	result, err := s.db.ExecContext(ctx, `
		INSERT INTO audit (action, actor, target_id, details, ip_address, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.Action,
		entry.Actor,
		entry.TargetID,
		entry.Details,
		entry.IPAddress,
		entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to create audit entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get audit entry ID: %w", err)
	}

	entry.ID = id
	return nil
}

// ListAuditEntries lists audit entries with optional filters, newest first.
func (s *SQLiteStore) ListAuditEntries(ctx context.Context, action *string, actor *string, limit, offset int) ([]*AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, action, actor, target_id, details, ip_address, timestamp
		FROM audit
		WHERE (? IS NULL OR action = ?)
		  AND (? IS NULL OR actor = ?)
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`, action, action, actor, actor, limitOrDefault(limit), offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	defer rows.Close()

	entries := []*AuditEntry{}
	for rows.Next() {
		entry := &AuditEntry{}
		err := rows.Scan(
			&entry.ID,
			&entry.Action,
			&entry.Actor,
			&entry.TargetID,
			&entry.Details,
			&entry.IPAddress,
			&entry.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan audit entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating audit entries: %w", err)
	}

	return entries, nil
}

// HealthCheck verifies the database connection is healthy.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func limitOrDefault(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
