// Package pebblestore provides a thin wrapper around Pebble with fsync
// policy, batches, prefix scans, and minimal metrics hooks. Every durable
// structure in the engine (queue snapshots, dead letters, tombstones,
// idempotency records, ID mappings) lives in one Pebble store under its own
// key prefix.
//
// Usage:
//
//	db, err := pebblestore.Open(pebblestore.Options{
//	    DataDir: "./data",
//	    Fsync:   pebblestore.FsyncModeAlways,
//	})
//	if err != nil { /* handle */ }
//	defer db.Close()
//
//	b := db.NewBatch()
//	_ = b.Set([]byte("k"), []byte("v"), nil)
//	_ = db.CommitBatch(context.Background(), b)
package pebblestore
