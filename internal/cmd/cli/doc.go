// Package cli implements the syncd command tree: queue inspection,
// dead-letter administration, and engine status against a local data
// directory.
package cli
