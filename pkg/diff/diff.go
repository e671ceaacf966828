// Package diff computes the ordered changeset that converges a live
// controller toward a validated desired state. The engine is a pure
// function of its two inputs: it performs no mutation, generates no ids,
// and identical inputs always yield the identical changeset.
package diff

import (
	"context"
	"fmt"
	"sort"

	"github.com/rs/zerolog"

	"github.com/openconverge/converge/pkg/state"
	"github.com/openconverge/converge/pkg/validate"
)

// LiveEntity is one existing document on the controller, keyed by the same
// logical-name convention as the desired state.
type LiveEntity struct {
	// ID is the device-assigned identifier.
	ID string

	// Name is the logical name.
	Name string

	// Fields is the document body.
	Fields map[string]any

	// Managed reports whether the document carries the management
	// marker written by this tool at creation time.
	Managed bool
}

// Fetcher lists the live documents of one collection.
type Fetcher interface {
	List(ctx context.Context, c state.Collection) ([]LiveEntity, error)
}

// Engine computes changesets.
type Engine struct {
	log zerolog.Logger
}

// NewEngine builds a diff engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("component", "diff").Logger()}
}

// deleteStage places a collection's deletes after every create/update
// stage, in reverse collection order, so dependents are removed before
// their dependencies.
func deleteStage(createStage int) int {
	return 2*len(state.Stages) - createStage
}

// stageOf returns the create/update stage of a collection. Schema-backed
// collections carry no typed references and run in the final stage.
func stageOf(c state.Collection) int {
	if s := state.StageOf(c); s >= 0 {
		return s
	}
	return len(state.Stages) - 1
}

// Diff compares the desired state to the fetched live state and returns
// the ordered changeset. Collections are processed in dependency-stage
// order; within a collection, creates and updates follow the document's
// deterministic entity order and deletes are lexical by name.
func (e *Engine) Diff(ctx context.Context, desired *validate.ValidState, fetcher Fetcher) (*Changeset, error) {
	cs := &Changeset{
		LiveIDs: make(map[state.Collection]map[string]string),
	}

	collections := collectionsToWalk(desired)
	type pendingDelete struct {
		op          Operation
		createStage int
	}
	var deletes []pendingDelete
	idToName := make(map[state.Collection]map[string]string)

	for _, coll := range collections {
		live, err := fetcher.List(ctx, coll)
		if err != nil {
			return nil, fmt.Errorf("fetch live state of %s: %w", coll, err)
		}

		liveByName := make(map[string]LiveEntity, len(live))
		ids := make(map[string]string, len(live))
		names := make(map[string]string, len(live))
		for _, le := range live {
			liveByName[le.Name] = le
			ids[le.Name] = le.ID
			if le.ID != "" {
				names[le.ID] = le.Name
			}
		}
		if len(ids) > 0 {
			cs.LiveIDs[coll] = ids
		}
		idToName[coll] = names

		stage := stageOf(coll)
		for _, entity := range desired.InCollection(coll) {
			name := entity.LogicalName()
			fields := entity.Fields()
			le, exists := liveByName[name]
			if !exists {
				create := withMarker(fields)
				cs.Operations = append(cs.Operations, Operation{
					Collection: coll,
					Kind:       KindCreate,
					Name:       name,
					Fields:     create,
					Stage:      stage,
					DependsOn:  entity.References(),
				})
				cs.Summary.Creates++
				continue
			}

			changes := fieldDiff(fields, referencesByName(entity.References(), le.Fields, idToName))
			if len(changes) == 0 {
				continue
			}
			update := make(map[string]any, len(changes)+1)
			for _, ch := range changes {
				update[ch.Field] = ch.After
			}
			// Updates re-assert the marker so entities adopted from a
			// hand-configured past become managed going forward.
			update[state.ManagedByField] = state.ManagedByValue
			cs.Operations = append(cs.Operations, Operation{
				Collection: coll,
				Kind:       KindUpdate,
				Name:       name,
				DeviceID:   le.ID,
				Fields:     update,
				Changes:    changes,
				Stage:      stage,
				DependsOn:  entity.References(),
			})
			cs.Summary.Updates++
		}

		// Live-only names: delete only what this tool created. Unmarked
		// entities are protected whatever the desired state says.
		liveNames := make([]string, 0, len(liveByName))
		for n := range liveByName {
			liveNames = append(liveNames, n)
		}
		sort.Strings(liveNames)
		for _, name := range liveNames {
			if _, wanted := desired.Get(coll, name); wanted {
				continue
			}
			le := liveByName[name]
			if !le.Managed {
				e.log.Debug().
					Str("collection", string(coll)).
					Str("name", name).
					Msg("live entity has no management marker, leaving in place")
				continue
			}
			deletes = append(deletes, pendingDelete{
				op: Operation{
					Collection: coll,
					Kind:       KindDelete,
					Name:       name,
					DeviceID:   le.ID,
					Stage:      deleteStage(stageOf(coll)),
				},
				createStage: stageOf(coll),
			})
		}
	}

	// Deletes run after every create/update, dependents first.
	sort.SliceStable(deletes, func(i, j int) bool {
		return deletes[i].createStage > deletes[j].createStage
	})
	for _, d := range deletes {
		cs.Operations = append(cs.Operations, d.op)
		cs.Summary.Deletes++
	}

	e.log.Info().
		Int("creates", cs.Summary.Creates).
		Int("updates", cs.Summary.Updates).
		Int("deletes", cs.Summary.Deletes).
		Msg("changeset computed")
	return cs, nil
}

// collectionsToWalk returns the canonical collections in stage order plus
// every schema-backed collection the desired state mentions. Live-only
// schema-backed collections are not enumerable without a desired-state
// entry naming them, so they are never fetched and never touched.
func collectionsToWalk(desired *validate.ValidState) []state.Collection {
	out := state.CanonicalCollections()
	seen := make(map[state.Collection]bool, len(out))
	for _, c := range out {
		seen[c] = true
	}
	for _, c := range desired.Collections() {
		if !seen[c] {
			out = append(out, c)
		}
	}
	return out
}

// referencesByName maps device ids in the live document's reference
// fields back to logical names before comparison. The apply engine sends
// ids on the wire, so a converged controller stores ids where the desired
// state holds names; comparing them raw would report drift forever.
// Collections walk in stage order, so the id map of every referenced
// collection is complete before its dependents are compared.
func referencesByName(refs []state.Reference, live map[string]any, idToName map[state.Collection]map[string]string) map[string]any {
	if len(refs) == 0 {
		return live
	}
	targets := make(map[string]state.Collection, len(refs))
	for _, ref := range refs {
		targets[ref.Field] = ref.Collection
	}
	out := make(map[string]any, len(live))
	for k, v := range live {
		out[k] = v
	}
	for field, coll := range targets {
		names := idToName[coll]
		if len(names) == 0 {
			continue
		}
		switch v := out[field].(type) {
		case string:
			if name, ok := names[v]; ok {
				out[field] = name
			}
		case []any:
			mapped := make([]any, len(v))
			for i, item := range v {
				mapped[i] = item
				if id, ok := item.(string); ok {
					if name, ok := names[id]; ok {
						mapped[i] = name
					}
				}
			}
			out[field] = mapped
		case []string:
			mapped := make([]string, len(v))
			for i, id := range v {
				mapped[i] = id
				if name, ok := names[id]; ok {
					mapped[i] = name
				}
			}
			out[field] = mapped
		}
	}
	return out
}

// fieldDiff compares the desired wire fields to the live document. Only
// fields the desired state expresses are compared, so controller-internal
// fields never produce spurious updates.
func fieldDiff(desired, live map[string]any) []FieldChange {
	keys := make([]string, 0, len(desired))
	for k := range desired {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var changes []FieldChange
	for _, k := range keys {
		dv := desired[k]
		lv, ok := live[k]
		if ok && valueEqual(dv, lv) {
			continue
		}
		change := FieldChange{Field: k, After: dv}
		if ok {
			change.Before = lv
		}
		changes = append(changes, change)
	}
	return changes
}

// withMarker copies the fields and stamps the management marker.
func withMarker(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out[state.ManagedByField] = state.ManagedByValue
	return out
}
