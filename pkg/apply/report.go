package apply

import (
	"time"

	"github.com/openconverge/converge/pkg/diff"
	"github.com/openconverge/converge/pkg/state"
)

// Status is the terminal state of one applied operation.
type Status string

const (
	// StatusSucceeded means the controller accepted the operation.
	StatusSucceeded Status = "succeeded"

	// StatusFailed means the operation failed after exhausting retries.
	StatusFailed Status = "failed"

	// StatusSkipped means a dependency of the operation failed in this run.
	StatusSkipped Status = "skipped"

	// StatusPlanned means the run was a dry-run and nothing was sent.
	StatusPlanned Status = "planned"

	// StatusCancelled means the run was cancelled before the operation ran.
	StatusCancelled Status = "cancelled"
)

// Result is the outcome of one changeset operation.
type Result struct {
	Collection state.Collection `json:"collection"`
	Kind       diff.Kind        `json:"kind"`
	Name       string           `json:"name"`

	// DeviceID is the device-assigned id, filled in for creates once the
	// controller returns one.
	DeviceID string `json:"device_id,omitempty"`

	Status   Status        `json:"status"`
	Attempts int           `json:"attempts,omitempty"`
	Duration time.Duration `json:"duration,omitempty"`

	// Error is the final failure message, or the skip reason.
	Error string `json:"error,omitempty"`
}

// RunSummary counts results by status.
type RunSummary struct {
	Total     int `json:"total"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Planned   int `json:"planned"`
	Cancelled int `json:"cancelled"`
}

// Report is the full outcome of one apply run. Results keep the changeset's
// operation order regardless of execution concurrency.
type Report struct {
	RunID       string        `json:"run_id"`
	DryRun      bool          `json:"dry_run"`
	StartedAt   time.Time     `json:"started_at"`
	CompletedAt time.Time     `json:"completed_at"`
	Duration    time.Duration `json:"duration"`
	Results     []Result      `json:"results"`
	Summary     RunSummary    `json:"summary"`
}

// Converged reports whether every operation was applied (or, for a dry-run,
// planned) with nothing failed, skipped or cancelled.
func (r *Report) Converged() bool {
	return r.Summary.Failed == 0 && r.Summary.Skipped == 0 && r.Summary.Cancelled == 0
}

func (r *Report) summarize() {
	s := RunSummary{Total: len(r.Results)}
	for _, res := range r.Results {
		switch res.Status {
		case StatusSucceeded:
			s.Succeeded++
		case StatusFailed:
			s.Failed++
		case StatusSkipped:
			s.Skipped++
		case StatusPlanned:
			s.Planned++
		case StatusCancelled:
			s.Cancelled++
		}
	}
	r.Summary = s
}
