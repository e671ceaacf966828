package state

import (
	"encoding/json"
	"fmt"

	"gopkg.in/yaml.v3"
)

// SecretRef is a sum type: either an inline literal value or a reference to
// an external secret by path. In documents a literal is a plain string and a
// reference is a mapping with a single "fromSecret" key:
//
//	passphrase: "hunter2"
//	passphrase: {fromSecret: "wifi/iot/passphrase"}
//
// References must be resolved by the secret resolver before any
// value-dependent validation or mutating apply runs.
type SecretRef struct {
	literal  string
	path     string
	resolved bool
}

// Literal builds a SecretRef carrying an inline value.
func Literal(value string) SecretRef {
	return SecretRef{literal: value, resolved: true}
}

// Ref builds a SecretRef pointing at an external secret path.
func Ref(path string) SecretRef {
	return SecretRef{path: path}
}

// IsZero reports whether the ref carries neither a literal nor a path.
func (s *SecretRef) IsZero() bool {
	return s != nil && s.path == "" && s.literal == "" && !s.resolved
}

// IsReference reports whether the ref points at an external secret.
func (s *SecretRef) IsReference() bool {
	return s.path != ""
}

// Path returns the secret path for reference refs, empty for literals.
func (s *SecretRef) Path() string {
	return s.path
}

// Resolved reports whether Reveal will return a value.
func (s *SecretRef) Resolved() bool {
	return s.resolved
}

// SetResolved stores the resolved value for a reference ref.
func (s *SecretRef) SetResolved(value string) {
	s.literal = value
	s.resolved = true
}

// Reveal returns the secret value. ok is false for an unresolved reference.
func (s *SecretRef) Reveal() (value string, ok bool) {
	if !s.resolved {
		return "", false
	}
	return s.literal, true
}

// String redacts the value so refs never leak through logs or %v.
func (s SecretRef) String() string {
	if s.path != "" {
		return fmt.Sprintf("secret(%s)", s.path)
	}
	return "secret(***)"
}

type secretRefDoc struct {
	FromSecret string `json:"fromSecret" yaml:"fromSecret"`
}

// UnmarshalJSON accepts a plain string (literal) or {"fromSecret": path}.
func (s *SecretRef) UnmarshalJSON(data []byte) error {
	var lit string
	if err := json.Unmarshal(data, &lit); err == nil {
		*s = Literal(lit)
		return nil
	}
	var ref secretRefDoc
	if err := json.Unmarshal(data, &ref); err != nil {
		return fmt.Errorf("secret ref must be a string or {fromSecret: path}: %w", err)
	}
	if ref.FromSecret == "" {
		return fmt.Errorf("secret ref object is missing fromSecret")
	}
	*s = Ref(ref.FromSecret)
	return nil
}

// MarshalJSON always redacts. Wire payloads reveal secrets through Fields,
// not through document serialization.
func (s SecretRef) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalYAML mirrors UnmarshalJSON for YAML documents.
func (s *SecretRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		var lit string
		if err := node.Decode(&lit); err != nil {
			return err
		}
		*s = Literal(lit)
		return nil
	}
	var ref secretRefDoc
	if err := node.Decode(&ref); err != nil {
		return fmt.Errorf("secret ref must be a string or {fromSecret: path}: %w", err)
	}
	if ref.FromSecret == "" {
		return fmt.Errorf("secret ref object is missing fromSecret")
	}
	*s = Ref(ref.FromSecret)
	return nil
}

// MarshalYAML redacts like MarshalJSON.
func (s SecretRef) MarshalYAML() (interface{}, error) {
	return s.String(), nil
}
