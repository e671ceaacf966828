// Package secrets turns secret references into literal values. Resolution
// runs as one batched all-or-nothing pass over a document before any
// value-dependent validation and before any mutating controller call.
package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/openconverge/converge/pkg/state"
)

// Resolver resolves a secret path to its value.
type Resolver interface {
	// Resolve returns the secret value at path, or *NotFoundError.
	Resolve(ctx context.Context, path string) (string, error)

	// Name identifies the backend in errors.
	Name() string
}

// NotFoundError is returned when a path has no value in the backend.
type NotFoundError struct {
	Path    string
	Backend string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("secret %q not found in %s backend", e.Path, e.Backend)
}

// BatchError aggregates every resolution failure of a pass, so one run
// surfaces all missing secrets.
type BatchError struct {
	Failures []error
}

func (e *BatchError) Error() string {
	msgs := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		msgs[i] = f.Error()
	}
	return fmt.Sprintf("secret resolution failed for %d reference(s): %s",
		len(e.Failures), strings.Join(msgs, "; "))
}

func (e *BatchError) Unwrap() []error { return e.Failures }

// ResolveAll resolves every reference in the document in one pass. The
// returned *BatchError lists every reference that failed; references that
// did resolve keep their values, so a caller that never sends secrets on
// the wire may proceed with the rest unresolved. Literals are untouched.
func ResolveAll(ctx context.Context, doc *state.Document, r Resolver) error {
	refs := doc.SecretRefs()

	// Resolve each distinct path once.
	byPath := make(map[string][]*state.SecretRef)
	for _, ref := range refs {
		if ref == nil || !ref.IsReference() || ref.Resolved() {
			continue
		}
		byPath[ref.Path()] = append(byPath[ref.Path()], ref)
	}

	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var failures []error
	for _, path := range paths {
		value, err := r.Resolve(ctx, path)
		if err != nil {
			failures = append(failures, err)
			continue
		}
		for _, ref := range byPath[path] {
			ref.SetResolved(value)
		}
	}
	if len(failures) > 0 {
		return &BatchError{Failures: failures}
	}
	return nil
}
