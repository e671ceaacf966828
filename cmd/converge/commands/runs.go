package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/openconverge/converge/pkg/stores"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Browse past reconciliation runs",
		Long: `Browse the local run-history database.

History is an audit log only: converge never reads it to decide what to
apply, so deleting the database loses nothing but the record.`,
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List past runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadToolConfig(cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("run history is disabled in %s", cfgPath)
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit, 0)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(runs)
			}
			if len(runs) == 0 {
				fmt.Println("no runs recorded")
				return nil
			}
			for _, run := range runs {
				fmt.Printf("%s  %-8s %-9s +%d ~%d -%d  %s\n",
					run.StartedAt.Format(time.RFC3339),
					run.Mode, run.Status,
					run.Creates, run.Updates, run.Deletes,
					run.ID)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum runs to list")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	var events bool

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with its operations",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := LoadToolConfig(cfgPath)
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			if store == nil {
				return fmt.Errorf("run history is disabled in %s", cfgPath)
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			ops, err := store.ListOperationsByRun(cmd.Context(), run.ID)
			if err != nil {
				return err
			}

			if jsonOutput {
				out := map[string]any{"run": run, "operations": ops}
				if events {
					evs, err := store.ListEventsByRun(cmd.Context(), run.ID, 100, 0)
					if err != nil {
						return err
					}
					out["events"] = evs
				}
				return printJSON(out)
			}

			printRun(run)
			for _, op := range ops {
				line := fmt.Sprintf("  %-9s %-6s %s/%s (attempts: %d, %dms)",
					op.Status, op.Kind, op.Collection, op.Name, op.Attempts, op.DurationMs)
				if op.Error != nil {
					line += ": " + *op.Error
				}
				fmt.Println(line)
			}
			if events {
				evs, err := store.ListEventsByRun(cmd.Context(), run.ID, 100, 0)
				if err != nil {
					return err
				}
				fmt.Println("events:")
				for _, ev := range evs {
					fmt.Printf("  %s [%s] %s\n", ev.Timestamp.Format(time.RFC3339), ev.Level, ev.Message)
				}
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&events, "events", false, "include run events")
	return cmd
}

func printRun(run *stores.RunRecord) {
	fmt.Printf("run %s\n", run.ID)
	fmt.Printf("  mode:     %s\n", run.Mode)
	fmt.Printf("  status:   %s\n", run.Status)
	fmt.Printf("  document: %s (schema %s)\n", run.DocumentPath, run.SchemaVersion)
	fmt.Printf("  started:  %s\n", run.StartedAt.Format(time.RFC3339))
	if run.CompletedAt != nil {
		fmt.Printf("  finished: %s\n", run.CompletedAt.Format(time.RFC3339))
	}
	fmt.Printf("  plan:     +%d ~%d -%d\n", run.Creates, run.Updates, run.Deletes)
	fmt.Printf("  outcome:  %d succeeded, %d failed, %d skipped\n", run.Succeeded, run.Failed, run.Skipped)
	if run.Error != nil {
		fmt.Printf("  error:    %s\n", *run.Error)
	}
}
