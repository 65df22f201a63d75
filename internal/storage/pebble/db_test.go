package pebblestore

import (
	"context"
	"errors"
	"testing"
	"time"
)

type testMetrics struct {
	read    int
	commits int
}

func (m *testMetrics) ObserveRead(d time.Duration, bytes int)   { m.read += bytes }
func (m *testMetrics) ObserveCommit(d time.Duration, bytes int) { m.commits++ }

func newTestDB(t *testing.T) (*DB, *testMetrics) {
	t.Helper()
	metrics := &testMetrics{}
	db, err := Open(Options{
		DataDir:       t.TempDir(),
		Fsync:         FsyncModeInterval,
		FsyncInterval: 2 * time.Millisecond,
		Metrics:       metrics,
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, metrics
}

func TestCRUD(t *testing.T) {
	db, metrics := newTestDB(t)

	if err := db.Set([]byte("k1"), []byte("v1")); err != nil {
		t.Fatalf("set: %v", err)
	}
	got, err := db.Get([]byte("k1"))
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got) != "v1" {
		t.Fatalf("got %q want v1", got)
	}
	if metrics.read == 0 || metrics.commits == 0 {
		t.Fatalf("expected metrics to record activity")
	}

	if err := db.Delete([]byte("k1")); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := db.Get([]byte("k1")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestScanPrefix(t *testing.T) {
	db, _ := newTestDB(t)

	_ = db.Set([]byte("a/1"), []byte("x"))
	_ = db.Set([]byte("a/2"), []byte("y"))
	_ = db.Set([]byte("b/1"), []byte("z"))

	kvs, err := db.ScanPrefix([]byte("a/"), 0)
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(kvs) != 2 {
		t.Fatalf("want 2 pairs, got %d", len(kvs))
	}
	if string(kvs[0].Key) != "a/1" || string(kvs[1].Key) != "a/2" {
		t.Fatalf("unexpected scan order: %q %q", kvs[0].Key, kvs[1].Key)
	}

	kvs, _ = db.ScanPrefix([]byte("a/"), 1)
	if len(kvs) != 1 {
		t.Fatalf("want limited scan of 1, got %d", len(kvs))
	}
}

func TestDeletePrefix(t *testing.T) {
	db, _ := newTestDB(t)

	_ = db.Set([]byte("p/1"), []byte("x"))
	_ = db.Set([]byte("p/2"), []byte("y"))
	_ = db.Set([]byte("q/1"), []byte("z"))

	if err := db.DeletePrefix(context.Background(), []byte("p/")); err != nil {
		t.Fatalf("delete prefix: %v", err)
	}
	kvs, _ := db.ScanPrefix([]byte("p/"), 0)
	if len(kvs) != 0 {
		t.Fatalf("want empty prefix, got %d", len(kvs))
	}
	if ok, _ := db.Has([]byte("q/1")); !ok {
		t.Fatalf("unrelated key should survive")
	}
}
