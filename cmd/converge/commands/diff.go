package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openconverge/converge/pkg/controller"
	"github.com/openconverge/converge/pkg/diff"
	"github.com/openconverge/converge/pkg/telemetry"
)

func newDiffCommand() *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "diff <document>",
		Short: "Show what deploy would change",
		Long: `Compute the changeset between a configuration document and the live
controller state without applying anything.

Exits 0 when the controller already matches the document. With --watch the
command keeps running, re-diffing whenever the document changes on disk.`,
		Example: `  # One-shot drift check, exit status reflects pending changes
  converge diff network.yaml

  # Keep watching the document for edits
  converge diff --watch network.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			if watch {
				// Watch mode is long-lived, so the scrape endpoint is useful.
				tel.Config.Metrics.Enabled = true
				m, err := telemetry.NewMetrics(tel.Config.Metrics)
				if err != nil {
					return err
				}
				tel.Metrics = m
				tel.Metrics.StartServer(tel.Logger.Component("metrics"))
			}
			defer tel.Shutdown(cmd.Context())
			log := tel.Logger.Component("diff")

			cfg, err := LoadToolConfig(cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.ResolveAPIKey(cmd.Context()); err != nil {
				return err
			}
			client, err := controller.New(cfg.Controller, tel.Logger.Zerolog(), tel.Metrics)
			if err != nil {
				return err
			}

			if watch {
				return watchDiff(cmd.Context(), tel, cfg, client, args[0], log)
			}

			cs, err := runDiff(cmd.Context(), tel, cfg, client, args[0], false)
			if err != nil {
				return err
			}
			if err := printChangeset(cs); err != nil {
				return err
			}
			if !cs.Empty() {
				total := cs.Summary.Creates + cs.Summary.Updates + cs.Summary.Deletes
				return fmt.Errorf("%d change(s) pending", total)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&watch, "watch", false, "re-diff whenever the document changes")
	return cmd
}

// runDiff executes one validate+fetch+diff pass.
func runDiff(
	ctx context.Context,
	tel *telemetry.Telemetry,
	cfg *ToolConfig,
	client *controller.Client,
	docPath string,
	requireSecrets bool,
) (*diff.Changeset, error) {
	desired, _, err := loadDesired(ctx, tel, cfg, docPath, requireSecrets)
	if err != nil {
		return nil, err
	}

	ctx, span := tel.Tracer.StartPhaseSpan(ctx, "diff")
	defer span.End()

	start := time.Now()
	cs, err := diff.NewEngine(tel.Logger.Component("diff")).Diff(ctx, desired, client)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.RecordSuccess(span)
	tel.Metrics.RecordDiff(time.Since(start), cs.Summary.Creates, cs.Summary.Updates, cs.Summary.Deletes)
	return cs, nil
}

func printChangeset(cs *diff.Changeset) error {
	if jsonOutput {
		return printJSON(cs)
	}
	fmt.Println(cs.String())
	return nil
}

// watchDiff re-runs the diff whenever the document is written. Editors
// replace files on save, so the watch covers the parent directory and
// filters on the document name.
func watchDiff(
	ctx context.Context,
	tel *telemetry.Telemetry,
	cfg *ToolConfig,
	client *controller.Client,
	docPath string,
	log zerolog.Logger,
) error {
	abs, err := filepath.Abs(docPath)
	if err != nil {
		return err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	diffOnce := func() {
		cs, err := runDiff(ctx, tel, cfg, client, docPath, false)
		if err != nil {
			log.Error().Err(err).Msg("Diff failed")
			return
		}
		if cs.Empty() {
			log.Info().Msg("In sync with controller")
			return
		}
		tel.Events.PublishDriftDetected(cs.Summary.Creates, cs.Summary.Updates, cs.Summary.Deletes)
		if err := printChangeset(cs); err != nil {
			log.Error().Err(err).Msg("Render changeset")
		}
	}

	log.Info().Str("document", docPath).Msg("Watching for changes")
	diffOnce()

	// Debounce bursts of write events from one save.
	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-pending:
			diffOnce()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != abs {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(300*time.Millisecond, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}
