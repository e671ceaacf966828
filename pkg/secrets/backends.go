package secrets

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// EnvResolver reads secrets from environment variables, optionally under a
// prefix (path "wifi_psk" with prefix "CONVERGE_SECRET_" reads
// CONVERGE_SECRET_WIFI_PSK).
type EnvResolver struct {
	Prefix string
}

func (e *EnvResolver) Name() string { return "env" }

func (e *EnvResolver) Resolve(_ context.Context, path string) (string, error) {
	key := e.Prefix + strings.ToUpper(strings.NewReplacer("/", "_", ".", "_", "-", "_").Replace(path))
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", &NotFoundError{Path: path, Backend: e.Name()}
	}
	return value, nil
}

// FileResolver reads secrets from a YAML file of nested mappings; paths
// address values with "/" separators ("wifi/iot/passphrase"). The file is
// loaded once on first use.
type FileResolver struct {
	Path string

	once sync.Once
	data map[string]any
	err  error
}

func (f *FileResolver) Name() string { return "file" }

func (f *FileResolver) load() {
	raw, err := os.ReadFile(f.Path)
	if err != nil {
		f.err = fmt.Errorf("read secrets file: %w", err)
		return
	}
	if err := yaml.Unmarshal(raw, &f.data); err != nil {
		f.err = fmt.Errorf("decode secrets file %s: %w", f.Path, err)
	}
}

func (f *FileResolver) Resolve(_ context.Context, path string) (string, error) {
	f.once.Do(f.load)
	if f.err != nil {
		return "", f.err
	}
	var cur any = f.data
	for _, part := range strings.Split(path, "/") {
		m, ok := cur.(map[string]any)
		if !ok {
			return "", &NotFoundError{Path: path, Backend: f.Name()}
		}
		cur, ok = m[part]
		if !ok {
			return "", &NotFoundError{Path: path, Backend: f.Name()}
		}
	}
	s, ok := cur.(string)
	if !ok {
		return "", fmt.Errorf("secret %q in file backend is not a string", path)
	}
	return s, nil
}

// Chain dispatches on a "scheme:" path prefix ("env:WIFI_PSK",
// "file:wifi/iot/passphrase") and falls back to Default for bare paths.
type Chain struct {
	Backends map[string]Resolver
	Default  Resolver
}

func (c *Chain) Name() string { return "chain" }

func (c *Chain) Resolve(ctx context.Context, path string) (string, error) {
	if scheme, rest, ok := strings.Cut(path, ":"); ok {
		if backend, known := c.Backends[scheme]; known {
			value, err := backend.Resolve(ctx, rest)
			if err != nil {
				// Keep the caller-visible path intact.
				var nf *NotFoundError
				if errors.As(err, &nf) {
					return "", &NotFoundError{Path: path, Backend: nf.Backend}
				}
				return "", err
			}
			return value, nil
		}
	}
	if c.Default == nil {
		return "", &NotFoundError{Path: path, Backend: c.Name()}
	}
	return c.Default.Resolve(ctx, path)
}
