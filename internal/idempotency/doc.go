// Package idempotency deduplicates mutations before they reach the queue.
//
// Each candidate mutation hashes to a key derived from its normalized
// payload; the guard tracks the key's state (queued, processed, failed) in
// Pebble with an entity-type-specific TTL window. Two structurally different
// captures of the same logical mutation collapse to one key and one queued
// operation. A failed record clears the way for a retry; expiry clears the
// way for a legitimate later update.
package idempotency
