// Package telemetry is the engine's side-channel event bus. Components
// publish structured events (enqueue, success, failure, overflow,
// security-halt); the bus never blocks and never returns an error, so
// telemetry can never affect sync correctness. Slow subscribers lose events
// rather than stalling publishers.
package telemetry
