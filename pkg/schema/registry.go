// Package schema resolves controller schema versions to collection, field
// and enum descriptors. Descriptors are produced by out-of-band extraction
// against a running controller; this package only loads and serves them.
package schema

import (
	"embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

//go:embed descriptors/*.json
var descriptorFS embed.FS

// FieldType is the declared type of a descriptor field.
type FieldType string

const (
	TypeString FieldType = "string"
	TypeInt    FieldType = "int"
	TypeBool   FieldType = "bool"
	TypeList   FieldType = "list"
	TypeObject FieldType = "object"
)

// Field describes one field of a collection.
type Field struct {
	// Type is the field's declared type.
	Type FieldType `json:"type"`

	// Required marks fields the controller rejects when absent.
	Required bool `json:"required,omitempty"`

	// Enum is the discovered value set; empty means unconstrained.
	Enum []string `json:"enum,omitempty"`

	// Min/Max bound numeric fields when set.
	Min *int `json:"min,omitempty"`
	Max *int `json:"max,omitempty"`
}

// CollectionSchema describes the fields of one collection.
type CollectionSchema struct {
	Fields map[string]Field `json:"fields"`
}

// Descriptor is the full per-version schema: every known collection with
// its field and enum descriptors.
type Descriptor struct {
	Version     string                      `json:"version"`
	Collections map[string]CollectionSchema `json:"collections"`
}

// Collection looks up one collection's schema.
func (d *Descriptor) Collection(name string) (CollectionSchema, bool) {
	cs, ok := d.Collections[name]
	return cs, ok
}

// EnumValues returns the discovered enum set of a field, nil when the field
// is unknown or unconstrained. Used to surface valid values in errors.
func (d *Descriptor) EnumValues(collection, field string) []string {
	cs, ok := d.Collections[collection]
	if !ok {
		return nil
	}
	f, ok := cs.Fields[field]
	if !ok {
		return nil
	}
	return f.Enum
}

// NotFoundError is returned when a pinned version has no extracted
// descriptor. Fatal at startup.
type NotFoundError struct {
	Version string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("schema version %q has no extracted descriptor", e.Version)
}

// Registry holds the loaded descriptors and resolves a version pin, or
// "latest", to one of them.
type Registry struct {
	mu       sync.RWMutex
	versions map[string]*Descriptor
}

// NewRegistry builds a registry preloaded with the embedded descriptors.
func NewRegistry() (*Registry, error) {
	r := &Registry{versions: make(map[string]*Descriptor)}
	entries, err := descriptorFS.ReadDir("descriptors")
	if err != nil {
		return nil, fmt.Errorf("read embedded descriptors: %w", err)
	}
	for _, entry := range entries {
		raw, err := descriptorFS.ReadFile("descriptors/" + entry.Name())
		if err != nil {
			return nil, err
		}
		if err := r.register(raw); err != nil {
			return nil, fmt.Errorf("embedded descriptor %s: %w", entry.Name(), err)
		}
	}
	return r, nil
}

// LoadDir adds every *.json descriptor in dir, overriding embedded versions
// with the same version string.
func (r *Registry) LoadDir(dir string) error {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return err
	}
	for _, p := range paths {
		raw, err := os.ReadFile(p)
		if err != nil {
			return fmt.Errorf("read descriptor %s: %w", p, err)
		}
		if err := r.register(raw); err != nil {
			return fmt.Errorf("descriptor %s: %w", p, err)
		}
	}
	return nil
}

func (r *Registry) register(raw []byte) error {
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return fmt.Errorf("decode descriptor: %w", err)
	}
	if d.Version == "" {
		return fmt.Errorf("descriptor has no version")
	}
	r.mu.Lock()
	r.versions[d.Version] = &d
	r.mu.Unlock()
	return nil
}

// Resolve returns the descriptor for a pinned version, or the newest loaded
// descriptor for "" or "latest". A pinned version without a descriptor
// fails with *NotFoundError.
func (r *Registry) Resolve(version string) (*Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if version == "" || version == "latest" {
		versions := make([]string, 0, len(r.versions))
		for v := range r.versions {
			versions = append(versions, v)
		}
		if len(versions) == 0 {
			return nil, &NotFoundError{Version: "latest"}
		}
		sort.Slice(versions, func(i, j int) bool { return versionLess(versions[i], versions[j]) })
		return r.versions[versions[len(versions)-1]], nil
	}

	d, ok := r.versions[version]
	if !ok {
		return nil, &NotFoundError{Version: version}
	}
	return d, nil
}

// Versions lists loaded versions, oldest first.
func (r *Registry) Versions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.versions))
	for v := range r.versions {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return versionLess(out[i], out[j]) })
	return out
}

// versionLess compares dotted numeric versions segment by segment, falling
// back to lexical order for non-numeric segments.
func versionLess(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			if ai != bi {
				return ai < bi
			}
			continue
		}
		if as[i] != bs[i] {
			return as[i] < bs[i]
		}
	}
	return len(as) < len(bs)
}
