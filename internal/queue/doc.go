// Package queue holds the durable sync queue: the item model and its
// priority ordering, the encrypted per-owner repository, the overflow
// guard, the dead-letter store, and the local/remote ID mapping.
//
// The persisted queue snapshot is the single source of truth. All mutation
// flows through the repository's load/save contract; an encryption failure
// during save halts the queue entirely rather than ever writing plaintext.
package queue
