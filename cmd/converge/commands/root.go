package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgPath    string
	logLevel   string
	jsonOutput bool

	// Build version, used as the telemetry service version.
	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "converge",
		Short: "Converge - declarative network controller configuration",
		Long: `Converge reconciles a declarative configuration document against a
network controller: VLANs, WiFi networks, zone firewall rules, VPN
tunnels, QoS and port profiles.

Workflow:
  - validate a configuration document against the device schema
  - diff the desired state against the live controller state
  - deploy the resulting changeset, create before update before delete

Only entities carrying the management marker are ever deleted; anything
configured by hand on the controller is left untouched.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "converge.yaml", "tool config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	// Add subcommands
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newDiffCommand())
	rootCmd.AddCommand(newDeployCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newRunsCommand())

	return rootCmd
}
