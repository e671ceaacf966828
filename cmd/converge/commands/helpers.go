package commands

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/openconverge/converge/pkg/apply"
	"github.com/openconverge/converge/pkg/schema"
	"github.com/openconverge/converge/pkg/secrets"
	"github.com/openconverge/converge/pkg/state"
	"github.com/openconverge/converge/pkg/stores"
	"github.com/openconverge/converge/pkg/telemetry"
	"github.com/openconverge/converge/pkg/validate"
)

// newTelemetry builds the observability stack for one command invocation.
func newTelemetry() (*telemetry.Telemetry, error) {
	cfg := telemetry.DefaultConfig()
	cfg.ServiceVersion = buildVersion
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	return telemetry.New(cfg)
}

// loadDesired runs the read side of the pipeline: parse the document,
// resolve secret references, resolve the pinned schema descriptor and
// validate. Validation errors are printed individually; the returned error
// only carries the count.
//
// requireSecrets controls what an unresolved secret means: a real apply
// needs every value before payloads are built, but diff and dry-run never
// send secret-bearing fields anywhere, so they proceed with the refs left
// unresolved.
func loadDesired(
	ctx context.Context,
	tel *telemetry.Telemetry,
	cfg *ToolConfig,
	docPath string,
	requireSecrets bool,
) (*validate.ValidState, *state.Document, error) {
	doc, err := state.LoadDocument(docPath)
	if err != nil {
		return nil, nil, err
	}

	resolver := cfg.Resolver()
	if err := secrets.ResolveAll(ctx, doc, resolver); err != nil {
		var batch *secrets.BatchError
		if !requireSecrets && errors.As(err, &batch) {
			tel.Metrics.RecordSecretResolution(resolver.Name(), "deferred")
			slog := tel.Logger.Component("secrets")
			slog.Warn().Err(err).
				Msg("Secrets unresolved, continuing without their values")
		} else {
			tel.Metrics.RecordSecretResolution(resolver.Name(), "error")
			return nil, nil, err
		}
	} else if len(doc.SecretRefs()) > 0 {
		tel.Metrics.RecordSecretResolution(resolver.Name(), "ok")
	}

	registry, err := newSchemaRegistry(cfg)
	if err != nil {
		return nil, nil, err
	}
	desc, err := registry.Resolve(cfg.SchemaVersion)
	if err != nil {
		return nil, nil, err
	}

	desired, errs := validate.New(desc).Validate(doc)
	if len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "error: %v\n", e)
			tel.Metrics.RecordValidationFailure(validationKind(e))
		}
		return nil, nil, fmt.Errorf("validation failed with %d error(s)", len(errs))
	}
	return desired, doc, nil
}

// newSchemaRegistry loads the embedded descriptors plus any configured
// override directory.
func newSchemaRegistry(cfg *ToolConfig) (*schema.Registry, error) {
	registry, err := schema.NewRegistry()
	if err != nil {
		return nil, err
	}
	if cfg != nil && cfg.SchemaDir != "" {
		if err := registry.LoadDir(cfg.SchemaDir); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

func validationKind(err error) string {
	switch e := err.(type) {
	case *validate.ValidationError:
		return string(e.Kind)
	case *validate.ReferenceError:
		return "reference"
	default:
		return "other"
	}
}

// openStore opens and migrates the run-history database. Returns nil
// without error when history is disabled.
func openStore(ctx context.Context, cfg *ToolConfig) (*stores.SQLiteStore, error) {
	if cfg.History.Disabled {
		return nil, nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.History.Path), 0o755); err != nil {
		return nil, fmt.Errorf("create history directory: %w", err)
	}
	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.History.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}
	return store, nil
}

// runStatus maps an apply report onto the recorded run status.
func runStatus(report *apply.Report) stores.RunStatus {
	switch {
	case report.DryRun:
		return stores.RunStatusPlanned
	case report.Summary.Cancelled > 0:
		return stores.RunStatusCancelled
	case report.Converged():
		return stores.RunStatusSucceeded
	case report.Summary.Succeeded > 0:
		return stores.RunStatusPartial
	default:
		return stores.RunStatusFailed
	}
}

// printJSON writes v as indented JSON to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
