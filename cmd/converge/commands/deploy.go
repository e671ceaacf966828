package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openconverge/converge/pkg/apply"
	"github.com/openconverge/converge/pkg/controller"
	"github.com/openconverge/converge/pkg/diff"
	"github.com/openconverge/converge/pkg/stores"
	"github.com/openconverge/converge/pkg/telemetry"
)

func newDeployCommand() *cobra.Command {
	var (
		dryRun        bool
		concurrency   int
		metricsListen string
	)

	cmd := &cobra.Command{
		Use:   "deploy <document>",
		Short: "Apply a configuration document to the controller",
		Long: `Validate a configuration document, diff it against the live controller
state and apply the resulting changeset.

Operations run stage by stage: networks before the WiFi networks and
firewall rules that reference them, deletes after all creates. Transient
controller errors are retried with backoff; when an operation fails for
good, everything depending on it is skipped and reported.

The run is recorded in the local history database (see "converge runs").`,
		Example: `  # Show what would change without touching the controller
  converge deploy --dry-run network.yaml

  # Apply with a wider worker pool
  converge deploy --concurrency 8 network.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			if metricsListen != "" {
				tel.Config.Metrics.Enabled = true
				tel.Config.Metrics.ListenAddress = metricsListen
				m, err := telemetry.NewMetrics(tel.Config.Metrics)
				if err != nil {
					return err
				}
				tel.Metrics = m
				tel.Metrics.StartServer(tel.Logger.Component("metrics"))
			}
			defer tel.Shutdown(cmd.Context())
			return runDeploy(cmd.Context(), tel, args[0], dryRun, concurrency)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "plan only, send nothing to the controller")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "workers per stage (defaults to tool config, then 4)")
	cmd.Flags().StringVar(&metricsListen, "metrics", "", "serve Prometheus metrics on this address during the run")
	return cmd
}

func runDeploy(ctx context.Context, tel *telemetry.Telemetry, docPath string, dryRun bool, concurrency int) error {
	log := tel.Logger.Component("deploy")

	cfg, err := LoadToolConfig(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.ResolveAPIKey(ctx); err != nil {
		return err
	}
	if concurrency == 0 {
		concurrency = cfg.Concurrency
	}

	client, err := controller.New(cfg.Controller, tel.Logger.Zerolog(), tel.Metrics)
	if err != nil {
		return err
	}

	// History failures never block a deploy.
	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Warn().Err(err).Msg("Run history unavailable")
		store = nil
	}
	if store != nil {
		defer store.Close()
	}

	runID := uuid.New().String()
	mode := "apply"
	if dryRun {
		mode = "dry-run"
	}
	ctx, runSpan := tel.Tracer.StartRunSpan(ctx, runID, dryRun)
	defer runSpan.End()

	// Dry runs tolerate unresolved secrets the same way diff does; a real
	// apply needs every value before payloads leave the process.
	cs, err := runDiff(ctx, tel, cfg, client, docPath, !dryRun)
	if err != nil {
		telemetry.RecordError(runSpan, err)
		return err
	}
	if cs.Empty() {
		log.Info().Msg("Already in sync, nothing to do")
		if jsonOutput {
			return printJSON(map[string]any{"changes": 0, "converged": true})
		}
		fmt.Println("no changes")
		return nil
	}
	fmt.Println(cs.String())

	recordRunStart(store, runID, mode, docPath, cfg.SchemaVersion, cs, log)
	if store != nil {
		tel.Events.Subscribe(eventRecorder(store, log))
	}
	tel.Metrics.RecordRunStarted(mode)
	tel.Events.PublishRunStarted(runID, dryRun)

	applyCtx, applySpan := tel.Tracer.StartPhaseSpan(ctx, "apply")
	report := apply.NewEngine(tel.Logger.Zerolog(), tel.Metrics).Apply(applyCtx, cs, client, apply.Options{
		RunID:       runID,
		DryRun:      dryRun,
		Concurrency: concurrency,
	})
	telemetry.RecordSuccess(applySpan)
	applySpan.End()

	status := runStatus(report)
	tel.Metrics.RecordRunCompleted(string(status), report.Duration)
	publishResults(tel, report)
	recordRunEnd(store, runID, report, status, log)
	tel.Events.PublishRunCompleted(runID, string(status), report.Duration)

	if err := printReport(report); err != nil {
		return err
	}
	if !report.Converged() {
		telemetry.RecordError(runSpan, fmt.Errorf("run not converged"))
		return fmt.Errorf("run %s: %d failed, %d skipped, %d cancelled",
			report.RunID, report.Summary.Failed, report.Summary.Skipped, report.Summary.Cancelled)
	}
	telemetry.RecordSuccess(runSpan)
	return nil
}

// eventRecorder persists published run events. Uses a background context so
// a cancelled run still gets its final events recorded.
func eventRecorder(store stores.Store, log zerolog.Logger) telemetry.EventSubscriber {
	return func(ev telemetry.Event) {
		rec := &stores.EventRecord{
			Level:     ev.Level,
			Message:   ev.Message,
			Timestamp: ev.Timestamp,
		}
		if ev.RunID != "" {
			runID := ev.RunID
			rec.RunID = &runID
		}
		if err := store.RecordEvent(context.Background(), rec); err != nil {
			log.Warn().Err(err).Msg("Record event")
		}
	}
}

func recordRunStart(store stores.Store, runID, mode, docPath, schemaVersion string, cs *diff.Changeset, log zerolog.Logger) {
	if store == nil {
		return
	}
	err := store.CreateRun(context.Background(), &stores.RunRecord{
		ID:            runID,
		Mode:          mode,
		Status:        stores.RunStatusRunning,
		DocumentPath:  docPath,
		SchemaVersion: schemaVersion,
		StartedAt:     time.Now(),
		Creates:       cs.Summary.Creates,
		Updates:       cs.Summary.Updates,
		Deletes:       cs.Summary.Deletes,
	})
	if err != nil {
		log.Warn().Err(err).Msg("Record run start")
	}
}

func recordRunEnd(store stores.Store, runID string, report *apply.Report, status stores.RunStatus, log zerolog.Logger) {
	if store == nil {
		return
	}
	ctx := context.Background()
	for _, res := range report.Results {
		rec := &stores.OperationRecord{
			RunID:      runID,
			Collection: string(res.Collection),
			Name:       res.Name,
			Kind:       string(res.Kind),
			Status:     string(res.Status),
			Attempts:   res.Attempts,
			DurationMs: res.Duration.Milliseconds(),
		}
		if res.DeviceID != "" {
			id := res.DeviceID
			rec.DeviceID = &id
		}
		if res.Error != "" {
			msg := res.Error
			rec.Error = &msg
		}
		if err := store.RecordOperation(ctx, rec); err != nil {
			log.Warn().Err(err).Msg("Record operation")
		}
	}

	run := &stores.RunRecord{
		ID:        runID,
		Status:    status,
		Succeeded: report.Summary.Succeeded,
		Failed:    report.Summary.Failed,
		Skipped:   report.Summary.Skipped,
	}
	completed := report.CompletedAt
	run.CompletedAt = &completed
	if !report.Converged() {
		msg := fmt.Sprintf("%d failed, %d skipped, %d cancelled",
			report.Summary.Failed, report.Summary.Skipped, report.Summary.Cancelled)
		run.Error = &msg
	}
	if err := store.CompleteRun(ctx, run); err != nil {
		log.Warn().Err(err).Msg("Record run end")
	}
}

func publishResults(tel *telemetry.Telemetry, report *apply.Report) {
	if report.DryRun {
		return
	}
	for _, res := range report.Results {
		tel.Events.PublishOperation(report.RunID,
			string(res.Collection), res.Name, string(res.Kind), string(res.Status), res.Error)
	}
}

func printReport(report *apply.Report) error {
	if jsonOutput {
		return printJSON(report)
	}
	for _, res := range report.Results {
		line := fmt.Sprintf("%-9s %s %s/%s", res.Status, res.Kind, res.Collection, res.Name)
		if res.Error != "" {
			line += ": " + res.Error
		}
		fmt.Println(line)
	}
	fmt.Printf("run %s: %d succeeded, %d failed, %d skipped, %d planned, %d cancelled (%s)\n",
		report.RunID,
		report.Summary.Succeeded, report.Summary.Failed, report.Summary.Skipped,
		report.Summary.Planned, report.Summary.Cancelled,
		report.Duration.Round(time.Millisecond))
	return nil
}
