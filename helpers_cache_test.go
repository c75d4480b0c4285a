// sorovet/helpers_cache_test.go
package sorovet

import (
	"reflect"
	"testing"
	"time"

	"go.etcd.io/bbolt"
)

func testDiagnostics() []Diagnostic {
	return []Diagnostic{
		{
			Range:    Range{Start: Position{Line: 2, Character: 0}, End: Position{Line: 2, Character: 16}},
			Severity: SeverityError,
			Code:     "contract-attribute-missing",
			Source:   diagnosticSource,
			Message:  "struct Token is missing a #[contract] attribute on the line above",
		},
		{
			Range:    Range{Start: Position{Line: 5, Character: 4}, End: Position{Line: 5, Character: 20}},
			Severity: SeverityWarning,
			Code:     "unwrap-in-contract",
			Source:   diagnosticSource,
			Message:  "avoid .unwrap() in contract code; handle the Option/Result value explicitly",
		},
	}
}

func newTestDiskCache(t *testing.T) *diskCache {
	t.Helper()
	cfg := DefaultConfig()
	cfg.UseDiskCache = true
	cfg.CacheDir = t.TempDir()
	d := openDiskCache(cfg, testLogger())
	if d == nil {
		t.Fatal("openDiskCache returned nil for a valid temp directory")
	}
	t.Cleanup(func() { d.close() })
	return d
}

func TestDiskCache(t *testing.T) {
	const catalogHash = "cat-hash"
	const docHash = "doc-hash"
	key := validationCacheKey(docHash, catalogHash)

	t.Run("Round trip", func(t *testing.T) {
		d := newTestDiskCache(t)
		want := testDiagnostics()
		d.set(key, catalogHash, docHash, want)
		got, ok := d.get(key, catalogHash, docHash)
		if !ok {
			t.Fatal("get missed after set")
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch:\ngot:  %+v\nwant: %+v", got, want)
		}
	})

	t.Run("Empty diagnostic set round trips", func(t *testing.T) {
		d := newTestDiskCache(t)
		d.set(key, catalogHash, docHash, []Diagnostic{})
		got, ok := d.get(key, catalogHash, docHash)
		if !ok {
			t.Fatal("get missed for empty set")
		}
		if len(got) != 0 {
			t.Errorf("got %d diagnostics, want 0", len(got))
		}
	})

	t.Run("Unknown key misses", func(t *testing.T) {
		d := newTestDiskCache(t)
		if _, ok := d.get("absent", catalogHash, docHash); ok {
			t.Error("get hit for a key that was never set")
		}
	})

	t.Run("Catalog hash mismatch invalidates", func(t *testing.T) {
		d := newTestDiskCache(t)
		d.set(key, catalogHash, docHash, testDiagnostics())
		if _, ok := d.get(key, "different-catalog", docHash); ok {
			t.Error("get hit despite catalog hash mismatch")
		}
		// The stale entry is deleted in the background; a matching get must
		// eventually miss too.
		deadline := time.Now().Add(2 * time.Second)
		for {
			if _, ok := d.get(key, catalogHash, docHash); !ok {
				break
			}
			if time.Now().After(deadline) {
				t.Fatal("stale entry was not invalidated")
			}
			time.Sleep(10 * time.Millisecond)
		}
	})

	t.Run("Corrupt entry invalidates", func(t *testing.T) {
		d := newTestDiskCache(t)
		putErr := d.db.Update(func(tx *bbolt.Tx) error {
			return tx.Bucket(validationBucketName).Put([]byte(key), []byte("not a gob envelope"))
		})
		if putErr != nil {
			t.Fatalf("seeding corrupt entry failed: %v", putErr)
		}
		if _, ok := d.get(key, catalogHash, docHash); ok {
			t.Error("get hit for an entry that cannot decode")
		}
	})

	t.Run("Content hash mismatch invalidates", func(t *testing.T) {
		d := newTestDiskCache(t)
		d.set(key, catalogHash, docHash, testDiagnostics())
		if _, ok := d.get(key, catalogHash, "different-content"); ok {
			t.Error("get hit despite content hash mismatch")
		}
	})

	t.Run("deleteEntry removes the entry", func(t *testing.T) {
		d := newTestDiskCache(t)
		d.set(key, catalogHash, docHash, testDiagnostics())
		if err := d.deleteEntry(key); err != nil {
			t.Fatalf("deleteEntry failed: %v", err)
		}
		if _, ok := d.get(key, catalogHash, docHash); ok {
			t.Error("get hit after deleteEntry")
		}
	})

	t.Run("clear drops everything", func(t *testing.T) {
		d := newTestDiskCache(t)
		d.set("a", catalogHash, docHash, testDiagnostics())
		d.set("b", catalogHash, docHash, testDiagnostics())
		if err := d.clear(); err != nil {
			t.Fatalf("clear failed: %v", err)
		}
		if _, ok := d.get("a", catalogHash, docHash); ok {
			t.Error("entry a survived clear")
		}
		if _, ok := d.get("b", catalogHash, docHash); ok {
			t.Error("entry b survived clear")
		}
	})

	t.Run("Disabled cache is inert", func(t *testing.T) {
		var d *diskCache // nil receiver
		d.set(key, catalogHash, docHash, testDiagnostics())
		if _, ok := d.get(key, catalogHash, docHash); ok {
			t.Error("nil disk cache returned a hit")
		}
		if err := d.close(); err != nil {
			t.Errorf("nil disk cache close errored: %v", err)
		}
	})

	t.Run("Config disables disk cache", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.UseDiskCache = false
		if d := openDiskCache(cfg, testLogger()); d != nil {
			d.close()
			t.Error("openDiskCache returned a cache despite UseDiskCache=false")
		}
	})
}

func TestMemoryCache(t *testing.T) {
	key := validationCacheKey("doc", "cat")

	t.Run("Set then get", func(t *testing.T) {
		cfg := DefaultConfig()
		m := newMemoryCache(cfg, testLogger())
		if m == nil {
			t.Fatal("newMemoryCache returned nil with UseMemoryCache=true")
		}
		defer m.close()

		want := testDiagnostics()
		m.set(key, want)
		m.cache.Wait() // ristretto applies sets asynchronously

		got, ok := m.get(key)
		if !ok {
			t.Fatal("get missed after set")
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("round trip mismatch:\ngot:  %+v\nwant: %+v", got, want)
		}
	})

	t.Run("Clear empties the cache", func(t *testing.T) {
		cfg := DefaultConfig()
		m := newMemoryCache(cfg, testLogger())
		if m == nil {
			t.Fatal("newMemoryCache returned nil")
		}
		defer m.close()

		m.set(key, testDiagnostics())
		m.cache.Wait()
		m.clear()
		if _, ok := m.get(key); ok {
			t.Error("get hit after clear")
		}
	})

	t.Run("Disabled by config", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.UseMemoryCache = false
		if m := newMemoryCache(cfg, testLogger()); m != nil {
			m.close()
			t.Error("newMemoryCache returned a cache despite UseMemoryCache=false")
		}
	})

	t.Run("Nil cache is inert", func(t *testing.T) {
		var m *memoryCache
		m.set(key, testDiagnostics())
		if _, ok := m.get(key); ok {
			t.Error("nil memory cache returned a hit")
		}
		if m.metrics() != nil {
			t.Error("nil memory cache returned metrics")
		}
		m.clear()
		m.close()
	})
}
