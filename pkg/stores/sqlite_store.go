package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists run history in a local SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
	cfg  Config
}

// Config holds SQLite store configuration.
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a store instance. Init opens the connection.
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns == 0 {
		cfg.MaxOpenConns = 10
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = 2
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{path: cfg.Path, cfg: cfg}, nil
}

// Init opens the database with WAL mode and foreign keys enabled.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", s.path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("ping database: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate applies the embedded schema migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("create migration source: %w", err)
	}
	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("create database driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("create migration instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}
	return nil
}

// CreateRun inserts a run record in its initial state.
func (s *SQLiteStore) CreateRun(ctx context.Context, run *RunRecord) error {
	query := `
		INSERT INTO runs (id, mode, status, document_path, schema_version, started_at,
		                  creates, updates, deletes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		run.ID,
		run.Mode,
		run.Status,
		run.DocumentPath,
		run.SchemaVersion,
		run.StartedAt,
		run.Creates,
		run.Updates,
		run.Deletes,
	)
	if err != nil {
		return fmt.Errorf("create run: %w", err)
	}
	return nil
}

// CompleteRun writes the final status and outcome counts of a run.
func (s *SQLiteStore) CompleteRun(ctx context.Context, run *RunRecord) error {
	query := `
		UPDATE runs
		SET status = ?, completed_at = ?, succeeded = ?, failed = ?, skipped = ?, error = ?
		WHERE id = ?
	`
	result, err := s.db.ExecContext(ctx, query,
		run.Status,
		run.CompletedAt,
		run.Succeeded,
		run.Failed,
		run.Skipped,
		run.Error,
		run.ID,
	)
	if err != nil {
		return fmt.Errorf("complete run: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("run not found: %s", run.ID)
	}
	return nil
}

const runColumns = `id, mode, status, document_path, schema_version, started_at, completed_at,
	creates, updates, deletes, succeeded, failed, skipped, error`

func scanRun(scan func(...any) error) (*RunRecord, error) {
	run := &RunRecord{}
	err := scan(
		&run.ID,
		&run.Mode,
		&run.Status,
		&run.DocumentPath,
		&run.SchemaVersion,
		&run.StartedAt,
		&run.CompletedAt,
		&run.Creates,
		&run.Updates,
		&run.Deletes,
		&run.Succeeded,
		&run.Failed,
		&run.Skipped,
		&run.Error,
	)
	return run, err
}

// GetRun retrieves one run by id.
func (s *SQLiteStore) GetRun(ctx context.Context, id string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row.Scan)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("run not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}

// ListRuns lists runs newest first.
func (s *SQLiteStore) ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	runs := []*RunRecord{}
	for rows.Next() {
		run, err := scanRun(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return runs, nil
}

// RecordOperation appends one operation outcome to a run.
func (s *SQLiteStore) RecordOperation(ctx context.Context, op *OperationRecord) error {
	query := `
		INSERT INTO operations (run_id, collection, name, kind, status, device_id, attempts, duration_ms, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := s.db.ExecContext(ctx, query,
		op.RunID,
		op.Collection,
		op.Name,
		op.Kind,
		op.Status,
		op.DeviceID,
		op.Attempts,
		op.DurationMs,
		op.Error,
	)
	if err != nil {
		return fmt.Errorf("record operation: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("operation id: %w", err)
	}
	op.ID = id
	return nil
}

// ListOperationsByRun lists a run's operations in insertion order.
func (s *SQLiteStore) ListOperationsByRun(ctx context.Context, runID string) ([]*OperationRecord, error) {
	query := `
		SELECT id, run_id, collection, name, kind, status, device_id, attempts, duration_ms, error
		FROM operations
		WHERE run_id = ?
		ORDER BY id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("list operations: %w", err)
	}
	defer rows.Close()

	ops := []*OperationRecord{}
	for rows.Next() {
		op := &OperationRecord{}
		err := rows.Scan(
			&op.ID,
			&op.RunID,
			&op.Collection,
			&op.Name,
			&op.Kind,
			&op.Status,
			&op.DeviceID,
			&op.Attempts,
			&op.DurationMs,
			&op.Error,
		)
		if err != nil {
			return nil, fmt.Errorf("scan operation: %w", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate operations: %w", err)
	}
	return ops, nil
}

// RecordEvent appends one lifecycle event.
func (s *SQLiteStore) RecordEvent(ctx context.Context, event *EventRecord) error {
	query := `INSERT INTO events (run_id, level, message, timestamp) VALUES (?, ?, ?, ?)`
	result, err := s.db.ExecContext(ctx, query,
		event.RunID,
		event.Level,
		event.Message,
		event.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("event id: %w", err)
	}
	event.ID = id
	return nil
}

// ListEventsByRun lists a run's events newest first.
func (s *SQLiteStore) ListEventsByRun(ctx context.Context, runID string, limit, offset int) ([]*EventRecord, error) {
	query := `
		SELECT id, run_id, level, message, timestamp
		FROM events
		WHERE run_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ? OFFSET ?
	`
	rows, err := s.db.QueryContext(ctx, query, runID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	events := []*EventRecord{}
	for rows.Next() {
		event := &EventRecord{}
		err := rows.Scan(
			&event.ID,
			&event.RunID,
			&event.Level,
			&event.Message,
			&event.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// HealthCheck verifies the database connection.
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
