// Package breaker implements the circuit breaker guarding remote store
// calls.
//
// After a run of consecutive failures inside a rolling window the breaker
// opens and rejects calls immediately with ErrOpen, so a dead backend costs
// the worker pool nothing. After a cool-down a single probe is let through;
// its outcome decides whether the circuit closes again or re-opens.
package breaker
