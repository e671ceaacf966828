// Package apply executes a changeset against the controller API. Operations
// run stage by stage; within a stage a bounded worker pool applies
// independent operations concurrently. Device-assigned ids live only in an
// in-run cache rebuilt from the live fetch, never on disk.
package apply

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/openconverge/converge/pkg/apierror"
	"github.com/openconverge/converge/pkg/diff"
	"github.com/openconverge/converge/pkg/state"
)

// API is the mutation surface of the controller.
type API interface {
	// Create posts a new document and returns its device-assigned id.
	Create(ctx context.Context, c state.Collection, fields map[string]any) (string, error)

	// Update patches the changed fields of an existing document.
	Update(ctx context.Context, c state.Collection, id string, fields map[string]any) error

	// Delete removes a document by id.
	Delete(ctx context.Context, c state.Collection, id string) error
}

// MetricsRecorder receives per-operation outcomes. Satisfied by
// telemetry.Metrics; nil disables recording.
type MetricsRecorder interface {
	RecordOperation(kind, outcome string, d time.Duration)
}

// Options tune one apply run.
type Options struct {
	// RunID identifies the run in logs and the report. Generated when
	// empty; callers set it to correlate with external records.
	RunID string

	// DryRun renders every operation as planned without calling the API.
	DryRun bool

	// Concurrency bounds the worker pool per stage. Defaults to 4.
	Concurrency int

	// MaxAttempts caps attempts per operation, retries included.
	// Defaults to 4. Only transient and throttled failures are retried.
	MaxAttempts int

	// BaseDelay is the first retry delay, doubled per attempt.
	// Defaults to 500ms; throttled failures start at 4x.
	BaseDelay time.Duration

	// MaxDelay caps the backoff. Defaults to 30s.
	MaxDelay time.Duration
}

func (o Options) withDefaults() Options {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 4
	}
	if o.BaseDelay <= 0 {
		o.BaseDelay = 500 * time.Millisecond
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 30 * time.Second
	}
	return o
}

// Engine applies changesets.
type Engine struct {
	log     zerolog.Logger
	metrics MetricsRecorder
}

// NewEngine builds an apply engine. metrics may be nil.
func NewEngine(log zerolog.Logger, metrics MetricsRecorder) *Engine {
	return &Engine{
		log:     log.With().Str("component", "apply").Logger(),
		metrics: metrics,
	}
}

// run is the mutable state of one apply: the in-run identity cache and the
// set of desired entities whose operation did not succeed, used for skip
// propagation.
type run struct {
	mu     sync.Mutex
	ids    map[state.Collection]map[string]string
	broken map[string]Status
}

func newRun(liveIDs map[state.Collection]map[string]string) *run {
	r := &run{
		ids:    make(map[state.Collection]map[string]string, len(liveIDs)),
		broken: make(map[string]Status),
	}
	for c, byName := range liveIDs {
		m := make(map[string]string, len(byName))
		for name, id := range byName {
			m[name] = id
		}
		r.ids[c] = m
	}
	return r
}

func key(c state.Collection, name string) string {
	return string(c) + "/" + name
}

func (r *run) lookupID(c state.Collection, name string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.ids[c][name]
	return id, ok
}

func (r *run) storeID(c state.Collection, name, id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ids[c] == nil {
		r.ids[c] = make(map[string]string)
	}
	r.ids[c][name] = id
}

// markBroken records a non-succeeded create/update so dependents skip.
func (r *run) markBroken(c state.Collection, name string, s Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.broken[key(c, name)] = s
}

// brokenDependency returns the first dependency whose operation failed or
// was skipped earlier in this run.
func (r *run) brokenDependency(deps []state.Reference) (state.Reference, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, dep := range deps {
		if _, ok := r.broken[key(dep.Collection, dep.Name)]; ok {
			return dep, true
		}
	}
	return state.Reference{}, false
}

// Apply executes the changeset and returns the per-operation report.
// A dry-run makes no API calls at all.
func (e *Engine) Apply(ctx context.Context, cs *diff.Changeset, api API, opts Options) *Report {
	opts = opts.withDefaults()
	runID := opts.RunID
	if runID == "" {
		runID = uuid.New().String()
	}
	report := &Report{
		RunID:     runID,
		DryRun:    opts.DryRun,
		StartedAt: time.Now(),
		Results:   make([]Result, len(cs.Operations)),
	}
	log := e.log.With().Str("run_id", report.RunID).Logger()

	if opts.DryRun {
		for i, op := range cs.Operations {
			report.Results[i] = Result{
				Collection: op.Collection,
				Kind:       op.Kind,
				Name:       op.Name,
				DeviceID:   op.DeviceID,
				Status:     StatusPlanned,
			}
		}
		report.finish()
		log.Info().Int("operations", len(cs.Operations)).Msg("dry-run, nothing sent")
		return report
	}

	st := newRun(cs.LiveIDs)
	stages := stageIndices(cs.Operations)

	cancelled := false
	for _, stage := range stages {
		if cancelled || ctx.Err() != nil {
			cancelled = true
			for _, i := range stage {
				e.markCancelled(report, cs.Operations[i], i, st)
			}
			continue
		}
		e.runStage(ctx, cs.Operations, stage, api, opts, st, report, log)
		if ctx.Err() != nil {
			cancelled = true
		}
	}

	report.finish()
	log.Info().
		Int("succeeded", report.Summary.Succeeded).
		Int("failed", report.Summary.Failed).
		Int("skipped", report.Summary.Skipped).
		Int("cancelled", report.Summary.Cancelled).
		Dur("duration", report.Duration).
		Msg("apply finished")
	return report
}

// stageIndices groups operation indices by stage, stages ascending. The
// changeset is already stage-ordered; grouping keeps that contract explicit.
func stageIndices(ops []diff.Operation) [][]int {
	byStage := make(map[int][]int)
	for i, op := range ops {
		byStage[op.Stage] = append(byStage[op.Stage], i)
	}
	stages := make([]int, 0, len(byStage))
	for s := range byStage {
		stages = append(stages, s)
	}
	sort.Ints(stages)
	out := make([][]int, 0, len(stages))
	for _, s := range stages {
		out = append(out, byStage[s])
	}
	return out
}

// runStage applies one stage's operations through a bounded worker pool.
func (e *Engine) runStage(
	ctx context.Context,
	ops []diff.Operation,
	indices []int,
	api API,
	opts Options,
	st *run,
	report *Report,
	log zerolog.Logger,
) {
	workers := opts.Concurrency
	if len(indices) < workers {
		workers = len(indices)
	}

	queue := make(chan int, len(indices))
	for _, i := range indices {
		queue <- i
	}
	close(queue)

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range queue {
				if ctx.Err() != nil {
					e.markCancelled(report, ops[i], i, st)
					continue
				}
				report.Results[i] = e.applyOne(ctx, ops[i], api, opts, st, log)
			}
		}()
	}
	wg.Wait()
}

func (e *Engine) markCancelled(report *Report, op diff.Operation, i int, st *run) {
	report.Results[i] = Result{
		Collection: op.Collection,
		Kind:       op.Kind,
		Name:       op.Name,
		Status:     StatusCancelled,
	}
	if op.Kind != diff.KindDelete {
		st.markBroken(op.Collection, op.Name, StatusCancelled)
	}
}

// applyOne executes a single operation with retry and skip handling.
func (e *Engine) applyOne(
	ctx context.Context,
	op diff.Operation,
	api API,
	opts Options,
	st *run,
	log zerolog.Logger,
) Result {
	res := Result{
		Collection: op.Collection,
		Kind:       op.Kind,
		Name:       op.Name,
		DeviceID:   op.DeviceID,
	}

	if dep, broken := st.brokenDependency(op.DependsOn); broken {
		res.Status = StatusSkipped
		res.Error = fmt.Sprintf("dependency %s/%s did not converge", dep.Collection, dep.Name)
		st.markBroken(op.Collection, op.Name, StatusSkipped)
		log.Warn().
			Str("collection", string(op.Collection)).
			Str("name", op.Name).
			Str("dependency", key(dep.Collection, dep.Name)).
			Msg("operation skipped")
		e.record(op, "skipped", 0)
		return res
	}

	fields := e.resolveReferences(op, st, log)

	start := time.Now()
	var err error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		res.Attempts = attempt
		err = e.call(ctx, op, api, fields, st)
		if err == nil || !apierror.IsRetryable(err) || attempt == opts.MaxAttempts {
			break
		}
		delay := backoff(attempt, err, opts)
		log.Warn().
			Str("collection", string(op.Collection)).
			Str("name", op.Name).
			Int("attempt", attempt).
			Dur("backoff", delay).
			Err(err).
			Msg("retrying operation")
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			err = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
	}
	res.Duration = time.Since(start)

	if err != nil {
		res.Status = StatusFailed
		res.Error = err.Error()
		if op.Kind != diff.KindDelete {
			// Delete failures leave a stale managed entity behind but do
			// not invalidate any desired entity, so nothing is skipped.
			st.markBroken(op.Collection, op.Name, StatusFailed)
		}
		log.Error().
			Str("collection", string(op.Collection)).
			Str("name", op.Name).
			Str("kind", string(op.Kind)).
			Int("attempts", res.Attempts).
			Err(err).
			Msg("operation failed")
		e.record(op, "failed", res.Duration)
		return res
	}

	if op.Kind == diff.KindCreate {
		if id, ok := st.lookupID(op.Collection, op.Name); ok {
			res.DeviceID = id
		}
	}
	res.Status = StatusSucceeded
	log.Info().
		Str("collection", string(op.Collection)).
		Str("name", op.Name).
		Str("kind", string(op.Kind)).
		Msg("operation applied")
	e.record(op, "succeeded", res.Duration)
	return res
}

// call dispatches one API call and stores created ids in the run cache.
func (e *Engine) call(ctx context.Context, op diff.Operation, api API, fields map[string]any, st *run) error {
	switch op.Kind {
	case diff.KindCreate:
		id, err := api.Create(ctx, op.Collection, fields)
		if err != nil {
			return err
		}
		st.storeID(op.Collection, op.Name, id)
		return nil
	case diff.KindUpdate:
		return api.Update(ctx, op.Collection, op.DeviceID, fields)
	case diff.KindDelete:
		return api.Delete(ctx, op.Collection, op.DeviceID)
	default:
		return apierror.Terminal(fmt.Sprintf("unknown operation kind %q", op.Kind), nil)
	}
}

// resolveReferences rewrites by-name reference fields to device ids using
// the run cache. Dependencies in earlier stages have resolved by the time
// their dependents run, so a miss means the live entity predates this run
// and was fetched with its id, or the payload keeps the logical name and
// the controller rejects it with a terminal error.
func (e *Engine) resolveReferences(op diff.Operation, st *run, log zerolog.Logger) map[string]any {
	if len(op.DependsOn) == 0 || len(op.Fields) == 0 {
		return op.Fields
	}
	fields := make(map[string]any, len(op.Fields))
	for k, v := range op.Fields {
		fields[k] = v
	}
	for _, ref := range op.DependsOn {
		value, present := fields[ref.Field]
		if !present {
			continue
		}
		id, ok := st.lookupID(ref.Collection, ref.Name)
		if !ok {
			log.Warn().
				Str("collection", string(op.Collection)).
				Str("name", op.Name).
				Str("field", ref.Field).
				Str("target", key(ref.Collection, ref.Name)).
				Msg("no device id for reference, sending logical name")
			continue
		}
		fields[ref.Field] = substituteID(value, ref.Name, id)
	}
	return fields
}

// substituteID rewrites one logical name to its device id inside a
// reference field. List-valued fields such as a zone's networks carry one
// reference per element, so only the matching element is replaced.
func substituteID(value any, name, id string) any {
	switch v := value.(type) {
	case string:
		if v == name {
			return id
		}
	case []string:
		out := make([]string, len(v))
		for i, item := range v {
			out[i] = item
			if item == name {
				out[i] = id
			}
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = item
			if s, ok := item.(string); ok && s == name {
				out[i] = id
			}
		}
		return out
	}
	return value
}

// backoff doubles per attempt from the base delay, with throttled failures
// starting higher, capped at MaxDelay.
func backoff(attempt int, err error, opts Options) time.Duration {
	base := opts.BaseDelay
	if apierror.IsThrottled(err) {
		base *= 4
	}
	delay := time.Duration(float64(base) * math.Pow(2, float64(attempt-1)))
	if delay > opts.MaxDelay {
		delay = opts.MaxDelay
	}
	return delay
}

func (e *Engine) record(op diff.Operation, outcome string, d time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.RecordOperation(string(op.Kind), outcome, d)
}

func (r *Report) finish() {
	r.CompletedAt = time.Now()
	r.Duration = r.CompletedAt.Sub(r.StartedAt)
	r.summarize()
}
