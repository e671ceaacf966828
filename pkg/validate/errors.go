package validate

import (
	"fmt"
	"strings"

	"github.com/openconverge/converge/pkg/state"
)

// Kind classifies a field-level validation failure.
type Kind string

const (
	KindMissing    Kind = "missing"
	KindInvalid    Kind = "invalid"
	KindOutOfRange Kind = "out_of_range"
	KindMalformed  Kind = "malformed"
	KindEnum       Kind = "enum"
	KindDuplicate  Kind = "duplicate"
)

// ValidationError is one field-level violation. Every error carries the
// collection, logical name and field needed to locate the cause without
// external logs.
type ValidationError struct {
	Kind       Kind             `json:"kind"`
	Collection state.Collection `json:"collection"`
	Name       string           `json:"name"`
	Field      string           `json:"field,omitempty"`
	Value      string           `json:"value,omitempty"`
	Allowed    []string         `json:"allowed,omitempty"`
	Message    string           `json:"message"`
}

func (e *ValidationError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s/%s", e.Collection, e.Name)
	if e.Field != "" {
		fmt.Fprintf(&b, ": field %s", e.Field)
	}
	fmt.Fprintf(&b, ": %s", e.Message)
	if len(e.Allowed) > 0 {
		fmt.Fprintf(&b, " (valid values: %s)", strings.Join(e.Allowed, ", "))
	}
	return b.String()
}

// ReferenceError is a dangling cross-entity reference: the named field
// points at an entity that is not present in the same desired state.
type ReferenceError struct {
	Collection       state.Collection `json:"collection"`
	Name             string           `json:"name"`
	Field            string           `json:"field"`
	TargetCollection state.Collection `json:"target_collection"`
	TargetName       string           `json:"target_name"`
}

func (e *ReferenceError) Error() string {
	return fmt.Sprintf("%s/%s: field %s references %s %q which is not in the desired state",
		e.Collection, e.Name, e.Field, e.TargetCollection, e.TargetName)
}
