package stores

import (
	"context"
	"time"
)

// RunStatus is the final status of a recorded reconciliation run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusPartial   RunStatus = "partial"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
	RunStatusPlanned   RunStatus = "planned"
)

// RunRecord is one reconciliation run in the history database. The history
// is an audit log only: nothing in it feeds back into diffing, and deleting
// the database loses no reconciliation state.
type RunRecord struct {
	ID            string     `json:"id"`
	Mode          string     `json:"mode"` // apply or dry-run
	Status        RunStatus  `json:"status"`
	DocumentPath  string     `json:"document_path"`
	SchemaVersion string     `json:"schema_version"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`

	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`

	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`

	Error *string `json:"error,omitempty"`
}

// OperationRecord is one applied operation within a run.
type OperationRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	Collection string  `json:"collection"`
	Name       string  `json:"name"`
	Kind       string  `json:"kind"`
	Status     string  `json:"status"`
	DeviceID   *string `json:"device_id,omitempty"`
	Attempts   int     `json:"attempts"`
	DurationMs int64   `json:"duration_ms"`
	Error      *string `json:"error,omitempty"`
}

// EventRecord is one run lifecycle event.
type EventRecord struct {
	ID        int64     `json:"id"`
	RunID     *string   `json:"run_id,omitempty"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Store is the run-history persistence interface.
type Store interface {
	Init(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	CreateRun(ctx context.Context, run *RunRecord) error
	CompleteRun(ctx context.Context, run *RunRecord) error
	GetRun(ctx context.Context, id string) (*RunRecord, error)
	ListRuns(ctx context.Context, limit, offset int) ([]*RunRecord, error)

	RecordOperation(ctx context.Context, op *OperationRecord) error
	ListOperationsByRun(ctx context.Context, runID string) ([]*OperationRecord, error)

	RecordEvent(ctx context.Context, event *EventRecord) error
	ListEventsByRun(ctx context.Context, runID string, limit, offset int) ([]*EventRecord, error)

	HealthCheck(ctx context.Context) error
}
