package commands

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/openconverge/converge/pkg/controller"
	"github.com/openconverge/converge/pkg/secrets"
)

// ToolConfig is the converge.yaml tool configuration: where the controller
// is, which schema version to validate against, and where secrets and run
// history live. Distinct from the desired-state document.
type ToolConfig struct {
	Controller controller.Config `yaml:"controller" validate:"required"`

	// SchemaVersion pins the device schema descriptor. "latest" resolves
	// to the newest known descriptor.
	SchemaVersion string `yaml:"schemaVersion,omitempty"`

	// SchemaDir holds extra descriptor JSON files layered over the
	// embedded ones, for schema versions extracted after this build.
	SchemaDir string `yaml:"schemaDir,omitempty"`

	Secrets SecretsConfig `yaml:"secrets,omitempty"`
	History HistoryConfig `yaml:"history,omitempty"`

	// Concurrency bounds the apply worker pool per stage.
	Concurrency int `yaml:"concurrency,omitempty" validate:"omitempty,min=1,max=64"`
}

// SecretsConfig selects the secret backends available to the document.
type SecretsConfig struct {
	// EnvPrefix prefixes environment variable lookups for bare secret
	// paths. Defaults to CONVERGE_SECRET_.
	EnvPrefix string `yaml:"envPrefix,omitempty"`

	// File is an optional YAML secrets file addressed by "file:" paths.
	File string `yaml:"file,omitempty"`
}

// HistoryConfig locates the local run-history database.
type HistoryConfig struct {
	// Path to the SQLite file. Defaults to ~/.converge/history.db.
	Path string `yaml:"path,omitempty"`

	// Disabled turns off run-history recording entirely.
	Disabled bool `yaml:"disabled,omitempty"`
}

// LoadToolConfig reads and validates the tool configuration file. Unknown
// keys are rejected to catch typos.
func LoadToolConfig(path string) (*ToolConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool config: %w", err)
	}

	cfg := &ToolConfig{}
	dec := yaml.NewDecoder(strings.NewReader(string(raw)))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("decode tool config %s: %w", path, err)
	}

	if cfg.SchemaVersion == "" {
		cfg.SchemaVersion = "latest"
	}
	if cfg.Secrets.EnvPrefix == "" {
		cfg.Secrets.EnvPrefix = "CONVERGE_SECRET_"
	}
	if cfg.History.Path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		cfg.History.Path = filepath.Join(home, ".converge", "history.db")
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid tool config %s: %w", path, err)
	}
	return cfg, nil
}

// Resolver builds the secret backend chain from the config: "env:" and
// "file:" scheme prefixes, bare paths falling back to prefixed environment
// variables.
func (c *ToolConfig) Resolver() secrets.Resolver {
	backends := map[string]secrets.Resolver{
		"env": &secrets.EnvResolver{},
	}
	if c.Secrets.File != "" {
		backends["file"] = &secrets.FileResolver{Path: c.Secrets.File}
	}
	return &secrets.Chain{
		Backends: backends,
		Default:  &secrets.EnvResolver{Prefix: c.Secrets.EnvPrefix},
	}
}

// ResolveAPIKey fills in the controller API key. The configured value may
// be a literal or a secret path ("env:CONTROLLER_KEY", "file:controller/key");
// an empty value falls back to the CONVERGE_API_KEY environment variable.
func (c *ToolConfig) ResolveAPIKey(ctx context.Context) error {
	key := c.Controller.APIKey
	if key == "" {
		c.Controller.APIKey = os.Getenv("CONVERGE_API_KEY")
		return nil
	}
	if strings.HasPrefix(key, "env:") || strings.HasPrefix(key, "file:") {
		resolved, err := c.Resolver().Resolve(ctx, key)
		if err != nil {
			return fmt.Errorf("resolve controller API key: %w", err)
		}
		c.Controller.APIKey = resolved
	}
	return nil
}
