// Package netmon tracks network reachability for the sync engine.
//
// The monitor owns a single online/offline bit, fed either by a periodic
// probe or by explicit Set calls from platform connectivity hooks.
// Subscribers receive the current state on registration and exactly one
// callback per state change, so an offline-to-online transition triggers
// exactly one queue drain.
package netmon
