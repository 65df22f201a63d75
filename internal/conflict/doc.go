// Package conflict classifies and resolves divergence between a local and a
// remote copy of the same entity.
//
// The detector consolidates duplicate-detection into one deterministic
// contract: timestamp comparison for update conflicts, deletion markers for
// delete conflicts, and entity-specific similarity for create duplicates.
// The resolver applies a strategy chosen by (conflict type, entity type) and
// keeps a bounded audit trail of every resolution.
package conflict
