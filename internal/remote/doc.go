// Package remote defines the authoritative store collaborator: typed
// create/update/delete operations per entity type and the failure taxonomy
// the engine routes on (validation drop, conflict resolution, permanent
// dead-letter, transient retry). Implementations live with the caller;
// timeouts are their responsibility.
package remote
