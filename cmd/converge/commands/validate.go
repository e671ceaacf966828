package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate <document>",
		Short: "Validate a configuration document",
		Long: `Validate a configuration document without contacting the controller.

This command checks:
  - document syntax (YAML or JSON)
  - secret reference resolution
  - per-entity schema conformance against the pinned device schema
  - cross-references, duplicate names, VLAN and index collisions`,
		Example: `  # Validate against the latest embedded schema
  converge validate network.yaml

  # Validate against a pinned schema version
  converge --config prod.yaml validate network.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tel, err := newTelemetry()
			if err != nil {
				return err
			}
			defer tel.Shutdown(cmd.Context())
			log := tel.Logger.Component("validate")

			cfg, err := LoadToolConfig(cfgPath)
			if err != nil {
				return err
			}

			desired, _, err := loadDesired(cmd.Context(), tel, cfg, args[0], true)
			if err != nil {
				return err
			}

			entities := desired.Ordered()
			log.Info().
				Str("document", args[0]).
				Str("schema", cfg.SchemaVersion).
				Int("entities", len(entities)).
				Msg("Document valid")

			if jsonOutput {
				return printJSON(map[string]any{
					"valid":    true,
					"entities": len(entities),
					"schema":   cfg.SchemaVersion,
				})
			}
			fmt.Printf("%s: valid (%d entities)\n", args[0], len(entities))
			return nil
		},
	}
	return cmd
}
