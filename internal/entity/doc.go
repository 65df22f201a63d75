// Package entity defines the closed set of syncable entity kinds and their
// payload contracts.
//
// Payloads form a tagged union: each variant carries its own required-field
// validation, owner accessor, and a normalization routine used for
// content-based idempotency hashing. The union is closed on purpose:
// enqueue-time validation is exhaustive over these variants.
package entity
