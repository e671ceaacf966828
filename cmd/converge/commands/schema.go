package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/openconverge/converge/pkg/schema"
)

func newSchemaCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Inspect embedded device schema descriptors",
	}
	cmd.AddCommand(newSchemaListCommand())
	cmd.AddCommand(newSchemaShowCommand())
	return cmd
}

func newSchemaListCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List available schema versions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _ := LoadToolConfig(cfgPath)
			registry, err := newSchemaRegistry(cfg)
			if err != nil {
				return err
			}
			versions := registry.Versions()
			if jsonOutput {
				return printJSON(versions)
			}
			for _, v := range versions {
				fmt.Println(v)
			}
			return nil
		},
	}
}

func newSchemaShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show [version]",
		Short: "Show the collections and fields of a schema version",
		Long: `Show the collections and fields of one schema descriptor.

Without a version the tool config's pinned version is shown; "latest"
resolves to the newest embedded descriptor.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			// The tool config is optional for schema inspection.
			cfg, _ := LoadToolConfig(cfgPath)

			version := "latest"
			if cfg != nil {
				version = cfg.SchemaVersion
			}
			if len(args) > 0 {
				version = args[0]
			}

			registry, err := newSchemaRegistry(cfg)
			if err != nil {
				return err
			}
			desc, err := registry.Resolve(version)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(desc)
			}

			fmt.Printf("schema %s\n", desc.Version)
			collections := make([]string, 0, len(desc.Collections))
			for name := range desc.Collections {
				collections = append(collections, name)
			}
			sort.Strings(collections)
			for _, cname := range collections {
				fmt.Printf("\n%s\n", cname)
				cs := desc.Collections[cname]
				fields := make([]string, 0, len(cs.Fields))
				for fname := range cs.Fields {
					fields = append(fields, fname)
				}
				sort.Strings(fields)
				for _, fname := range fields {
					fmt.Printf("  %-24s %s\n", fname, describeField(cs.Fields[fname]))
				}
			}
			return nil
		},
	}
}

func describeField(f schema.Field) string {
	parts := []string{string(f.Type)}
	if f.Required {
		parts = append(parts, "required")
	}
	if len(f.Enum) > 0 {
		parts = append(parts, "one of "+strings.Join(f.Enum, "|"))
	}
	if f.Min != nil || f.Max != nil {
		bound := "range "
		if f.Min != nil {
			bound += fmt.Sprintf("%d", *f.Min)
		}
		bound += ".."
		if f.Max != nil {
			bound += fmt.Sprintf("%d", *f.Max)
		}
		parts = append(parts, bound)
	}
	return strings.Join(parts, ", ")
}
