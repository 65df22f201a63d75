// Package engine composes the sync engine: one explicitly constructed
// struct wires the repository, idempotency guard, overflow guard, circuit
// breaker, conflict resolver, tombstone cache, worker pool, and telemetry
// bus into a fixed dependency graph.
//
// Mutations enter through Enqueue and drain through the worker pool toward
// the remote store. Merge reads combine the remote view with pending local
// mutations, suppressing recently deleted entities.
package engine
