// Package tombstone remembers recently deleted entities so that merge reads
// do not resurrect them from a stale remote snapshot.
//
// Records carry an expiry; entries past their TTL are evicted lazily on read
// and in bulk by the maintenance sweep. The cache persists per owner through
// the encrypted keystore.
package tombstone
