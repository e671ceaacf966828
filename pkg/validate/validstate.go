package validate

import (
	"sort"

	"github.com/openconverge/converge/pkg/state"
)

// ValidState is the canonicalized entity set of a document that passed
// validation. References are still by logical name; mapping to device ids
// happens at apply time, never here.
type ValidState struct {
	byCollection map[state.Collection]map[string]state.Entity
	ordered      []state.Entity
}

func newValidState(ordered []state.Entity) *ValidState {
	s := &ValidState{
		byCollection: make(map[state.Collection]map[string]state.Entity),
		ordered:      ordered,
	}
	for _, e := range ordered {
		m := s.byCollection[e.Collection()]
		if m == nil {
			m = make(map[string]state.Entity)
			s.byCollection[e.Collection()] = m
		}
		m[e.LogicalName()] = e
	}
	return s
}

// Ordered returns every entity in deterministic stage-then-name order.
func (s *ValidState) Ordered() []state.Entity {
	return s.ordered
}

// Get looks up one entity by collection and logical name.
func (s *ValidState) Get(c state.Collection, name string) (state.Entity, bool) {
	e, ok := s.byCollection[c][name]
	return e, ok
}

// InCollection returns a collection's entities in lexical name order.
func (s *ValidState) InCollection(c state.Collection) []state.Entity {
	m := s.byCollection[c]
	names := make([]string, 0, len(m))
	for n := range m {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]state.Entity, 0, len(names))
	for _, n := range names {
		out = append(out, m[n])
	}
	return out
}

// Collections returns every populated collection: canonical ones in stage
// order first, then schema-backed collections lexically.
func (s *ValidState) Collections() []state.Collection {
	var out []state.Collection
	seen := make(map[state.Collection]bool)
	for _, c := range state.CanonicalCollections() {
		if _, ok := s.byCollection[c]; ok {
			out = append(out, c)
			seen[c] = true
		}
	}
	var extra []string
	for c := range s.byCollection {
		if !seen[c] {
			extra = append(extra, string(c))
		}
	}
	sort.Strings(extra)
	for _, c := range extra {
		out = append(out, state.Collection(c))
	}
	return out
}
