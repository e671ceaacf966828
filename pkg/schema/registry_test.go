package schema

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestResolvePinnedVersion(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	desc, err := reg.Resolve("9.0.108")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if desc.Version != "9.0.108" {
		t.Errorf("version = %q", desc.Version)
	}
	if _, ok := desc.Collection("network"); !ok {
		t.Error("descriptor lacks the network collection")
	}
}

func TestResolveLatestPicksNewest(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	desc, err := reg.Resolve("latest")
	if err != nil {
		t.Fatalf("resolve latest: %v", err)
	}
	if desc.Version != "9.0.108" {
		t.Errorf("latest = %q, want 9.0.108", desc.Version)
	}
}

func TestResolveUnknownVersion(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	_, err = reg.Resolve("1.2.3")
	var nf *NotFoundError
	if !errors.As(err, &nf) {
		t.Fatalf("error = %T, want *NotFoundError", err)
	}
	if nf.Version != "1.2.3" {
		t.Errorf("version in error = %q", nf.Version)
	}
}

func TestEnumValues(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	desc, err := reg.Resolve("latest")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}

	values := desc.EnumValues("network", "purpose")
	if len(values) == 0 {
		t.Fatal("network purpose enum is empty")
	}
	found := false
	for _, v := range values {
		if v == "corporate" {
			found = true
		}
	}
	if !found {
		t.Errorf("purpose enum %v lacks corporate", values)
	}

	if got := desc.EnumValues("network", "no_such_field"); got != nil {
		t.Errorf("unknown field enum = %v, want nil", got)
	}
	if got := desc.EnumValues("no_such_collection", "purpose"); got != nil {
		t.Errorf("unknown collection enum = %v, want nil", got)
	}
}

func TestLoadDirOverride(t *testing.T) {
	dir := t.TempDir()
	descriptor := `{
		"version": "99.0.1",
		"collections": {
			"network": {"fields": {"name": {"type": "string", "required": true}}}
		}
	}`
	if err := os.WriteFile(filepath.Join(dir, "99.0.1.json"), []byte(descriptor), 0o600); err != nil {
		t.Fatalf("write descriptor: %v", err)
	}

	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	if err := reg.LoadDir(dir); err != nil {
		t.Fatalf("load dir: %v", err)
	}

	desc, err := reg.Resolve("latest")
	if err != nil {
		t.Fatalf("resolve latest: %v", err)
	}
	if desc.Version != "99.0.1" {
		t.Errorf("latest after override = %q, want 99.0.1", desc.Version)
	}
}

func TestVersionsSorted(t *testing.T) {
	reg, err := NewRegistry()
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	versions := reg.Versions()
	if len(versions) < 2 {
		t.Fatalf("got %d embedded versions, want at least 2", len(versions))
	}
	for i := 1; i < len(versions); i++ {
		if !versionLess(versions[i-1], versions[i]) {
			t.Errorf("versions not ascending: %v", versions)
		}
	}
}
