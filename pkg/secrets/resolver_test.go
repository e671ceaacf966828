package secrets

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/openconverge/converge/pkg/state"
)

func TestEnvResolverNormalizesPath(t *testing.T) {
	t.Setenv("CONVERGE_SECRET_WIFI_IOT_PASSPHRASE", "hunter2hunter2")

	r := &EnvResolver{Prefix: "CONVERGE_SECRET_"}
	value, err := r.Resolve(context.Background(), "wifi/iot.passphrase")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "hunter2hunter2" {
		t.Errorf("value = %q", value)
	}
}

func TestEnvResolverMissing(t *testing.T) {
	r := &EnvResolver{Prefix: "CONVERGE_SECRET_"}
	_, err := r.Resolve(context.Background(), "definitely/not/set")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %T, want *NotFoundError", err)
	}
}

func writeSecretsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "secrets.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
	return path
}

func TestFileResolverNestedPath(t *testing.T) {
	path := writeSecretsFile(t, `
wifi:
  iot:
    passphrase: iot-pass-12345
`)
	r := &FileResolver{Path: path}
	value, err := r.Resolve(context.Background(), "wifi/iot/passphrase")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if value != "iot-pass-12345" {
		t.Errorf("value = %q", value)
	}

	if _, err := r.Resolve(context.Background(), "wifi/corp/passphrase"); err == nil {
		t.Error("expected NotFoundError for absent path")
	}
}

func TestChainDispatchesOnScheme(t *testing.T) {
	t.Setenv("CORP_PSK", "from-env")
	path := writeSecretsFile(t, "tunnel: {psk: from-file}\n")
	t.Setenv("CONVERGE_SECRET_BARE", "from-default")

	chain := &Chain{
		Backends: map[string]Resolver{
			"env":  &EnvResolver{},
			"file": &FileResolver{Path: path},
		},
		Default: &EnvResolver{Prefix: "CONVERGE_SECRET_"},
	}

	cases := []struct {
		path, want string
	}{
		{"env:CORP_PSK", "from-env"},
		{"file:tunnel/psk", "from-file"},
		{"bare", "from-default"},
	}
	for _, tc := range cases {
		value, err := chain.Resolve(context.Background(), tc.path)
		if err != nil {
			t.Errorf("%s: %v", tc.path, err)
			continue
		}
		if value != tc.want {
			t.Errorf("%s = %q, want %q", tc.path, value, tc.want)
		}
	}
}

func TestChainKeepsFullPathInNotFound(t *testing.T) {
	chain := &Chain{Backends: map[string]Resolver{"env": &EnvResolver{}}}
	_, err := chain.Resolve(context.Background(), "env:NOT_SET_ANYWHERE")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %T, want *NotFoundError", err)
	}
	if nf.Path != "env:NOT_SET_ANYWHERE" {
		t.Errorf("path = %q, want the scheme-prefixed path", nf.Path)
	}
}

const refDoc = `
wifi:
  corp-wifi:
    network: corp
    security: wpa2
    passphrase: {fromSecret: "env:CORP_PSK"}
  iot-wifi:
    network: corp
    security: wpa2
    passphrase: {fromSecret: "env:IOT_PSK"}
`

func TestResolveAllFillsEveryReference(t *testing.T) {
	t.Setenv("CORP_PSK", "corp-pass-1234")
	t.Setenv("IOT_PSK", "iot-pass-1234")

	doc, err := state.ParseDocument([]byte(refDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chain := &Chain{Backends: map[string]Resolver{"env": &EnvResolver{}}}
	if err := ResolveAll(context.Background(), doc, chain); err != nil {
		t.Fatalf("resolve all: %v", err)
	}

	for name, w := range doc.Wifi {
		value, ok := w.Passphrase.Reveal()
		if !ok {
			t.Fatalf("%s: passphrase unresolved", name)
		}
		if value == "" {
			t.Errorf("%s: empty passphrase", name)
		}
	}
}

func TestResolveAllReportsEveryFailure(t *testing.T) {
	// Neither variable is set: both failures must surface in one error.
	doc, err := state.ParseDocument([]byte(refDoc))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	chain := &Chain{Backends: map[string]Resolver{"env": &EnvResolver{}}}

	err = ResolveAll(context.Background(), doc, chain)
	var batch *BatchError
	if !errors.As(err, &batch) {
		t.Fatalf("error = %T, want *BatchError", err)
	}
	if len(batch.Failures) != 2 {
		t.Fatalf("got %d failures, want 2: %v", len(batch.Failures), batch.Failures)
	}
	for _, w := range doc.Wifi {
		if w.Passphrase.Resolved() {
			t.Error("reference resolved despite batch failure")
		}
	}
}

func TestResolveAllLeavesLiteralsAlone(t *testing.T) {
	doc, err := state.ParseDocument([]byte(`
wifi:
  cafe:
    network: corp
    security: wpa2
    passphrase: literal-pass-123
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := ResolveAll(context.Background(), doc, &Chain{}); err != nil {
		t.Fatalf("resolve all: %v", err)
	}
	value, ok := doc.Wifi["cafe"].Passphrase.Reveal()
	if !ok || value != "literal-pass-123" {
		t.Errorf("literal = %q, ok = %v", value, ok)
	}
}
