// Package stores persists reconciliation run history in SQLite: runs,
// their operations and lifecycle events. The history is append-only audit
// data; the diff engine never reads it.
package stores
