package state

import "sort"

// SchemaBackedEntity is a member of a collection known only through the
// schema registry. It is validated structurally against the registry's
// field and enum descriptors instead of a dedicated type, and diffs and
// applies exactly like the named entities.
type SchemaBackedEntity struct {
	Coll Collection     `json:"-" yaml:"-"`
	Name string         `json:"-" yaml:"-"`
	Data map[string]any `json:"-" yaml:"-"`
}

func (e *SchemaBackedEntity) Collection() Collection { return e.Coll }
func (e *SchemaBackedEntity) LogicalName() string    { return e.Name }

func (e *SchemaBackedEntity) Fields() map[string]any {
	f := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		f[k] = v
	}
	f["name"] = e.Name
	return f
}

func (e *SchemaBackedEntity) References() []Reference  { return nil }
func (e *SchemaBackedEntity) SecretRefs() []*SecretRef { return nil }

// sortedKeys returns map keys in lexical order. Document maps carry no
// declaration order once decoded, so lexical order is the deterministic
// within-collection ordering everywhere.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
