package diff

import (
	"fmt"
	"sort"
	"strings"

	"github.com/openconverge/converge/pkg/state"
)

// Kind is the operation type of a changeset entry.
type Kind string

const (
	KindCreate Kind = "create"
	KindUpdate Kind = "update"
	KindDelete Kind = "delete"
)

// Operation is one create/update/delete against the live controller.
type Operation struct {
	// Collection and Name identify the target entity.
	Collection state.Collection `json:"collection"`
	Kind       Kind             `json:"kind"`
	Name       string           `json:"name"`

	// DeviceID is the device-assigned id, set for updates and deletes
	// from the live snapshot. Creates learn theirs at apply time.
	DeviceID string `json:"device_id,omitempty"`

	// Fields is the wire payload: the full document for creates, only
	// the changed fields for updates, nil for deletes. Reference fields
	// still carry logical names; the apply engine rewrites them to ids.
	Fields map[string]any `json:"fields,omitempty"`

	// Changes details each field difference for updates.
	Changes []FieldChange `json:"changes,omitempty"`

	// Stage is the execution stage. Operations in the same stage are
	// independent and may run concurrently; stage N+1 never starts
	// before stage N has resolved.
	Stage int `json:"stage"`

	// DependsOn lists the entity references used for skip propagation
	// when a dependency's operation fails in the same run.
	DependsOn []state.Reference `json:"depends_on,omitempty"`
}

// FieldChange is one field-level difference between desired and live.
type FieldChange struct {
	Field  string `json:"field"`
	Before any    `json:"before,omitempty"`
	After  any    `json:"after,omitempty"`
}

// Changeset is the ordered operation sequence that converges live state
// toward desired state. It is a pure function of its inputs: identical
// desired and live states always produce an identical changeset.
type Changeset struct {
	Operations []Operation `json:"operations"`

	// LiveIDs maps collection and logical name to the device-assigned id
	// observed during the live fetch. Seeds the apply engine's in-run
	// identity cache; rebuilt from the controller on every run.
	LiveIDs map[state.Collection]map[string]string `json:"-"`

	Summary Summary `json:"summary"`
}

// Summary counts the changeset by operation kind.
type Summary struct {
	Creates int `json:"creates"`
	Updates int `json:"updates"`
	Deletes int `json:"deletes"`
}

// Empty reports whether the live state already matches the desired state.
func (c *Changeset) Empty() bool {
	return len(c.Operations) == 0
}

// String renders the changeset one operation per line, terraform style.
func (c *Changeset) String() string {
	if c.Empty() {
		return "no changes"
	}
	var b strings.Builder
	for _, op := range c.Operations {
		switch op.Kind {
		case KindCreate:
			fmt.Fprintf(&b, "+ %s/%s\n", op.Collection, op.Name)
		case KindUpdate:
			fields := make([]string, 0, len(op.Changes))
			for _, ch := range op.Changes {
				fields = append(fields, ch.Field)
			}
			sort.Strings(fields)
			fmt.Fprintf(&b, "~ %s/%s (%s)\n", op.Collection, op.Name, strings.Join(fields, ", "))
		case KindDelete:
			fmt.Fprintf(&b, "- %s/%s\n", op.Collection, op.Name)
		}
	}
	fmt.Fprintf(&b, "plan: %d to create, %d to update, %d to delete",
		c.Summary.Creates, c.Summary.Updates, c.Summary.Deletes)
	return b.String()
}
