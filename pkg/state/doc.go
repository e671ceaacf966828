// Package state defines the canonical desired-state model for a network
// controller: typed entities keyed by logical name, the document container
// produced by the external evaluator, and the collection dependency order
// that the diff and apply engines walk.
package state
