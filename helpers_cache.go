// sorovet/helpers_cache.go
// Contains the two-tier validation result cache: ristretto in memory, bbolt
// on disk. Both tiers are strictly fail-open; a cache fault degrades to a
// fresh validation pass, never to an error surfaced to the caller.
package sorovet

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/dgraph-io/ristretto"
	"go.etcd.io/bbolt"
)

// validationBucketName is the bbolt bucket holding cached validation results.
var validationBucketName = []byte("ValidationCache")

// memoryCacheTTL bounds how long a validation result may serve from memory.
// Entries are keyed by content hash, so staleness only matters after a
// catalog reload; the TTL keeps the cache from pinning dead documents.
const memoryCacheTTL = 30 * time.Minute

// ============================================================================
// Memory Cache (ristretto)
// ============================================================================

// memoryCache wraps ristretto for validation results. A nil receiver or nil
// inner cache behaves as a permanently empty cache.
type memoryCache struct {
	cache  *ristretto.Cache
	logger *slog.Logger
}

// newMemoryCache initializes the in-memory validation cache. Returns nil when
// the config disables it or ristretto fails to initialize.
func newMemoryCache(cfg Config, logger *slog.Logger) *memoryCache {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.UseMemoryCache {
		logger.Debug("Memory cache disabled by config")
		return nil
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 1e6,
		MaxCost:     1 << 26, // 64MB of cached diagnostics is plenty.
		BufferItems: 64,
		Metrics:     true,
	})
	if err != nil {
		logger.Warn("Failed to create ristretto memory cache, in-memory caching disabled.", "error", err)
		return nil
	}
	logger.Info("Initialized ristretto in-memory validation cache", "max_cost", "64MB")
	return &memoryCache{cache: cache, logger: logger}
}

func (m *memoryCache) enabled() bool {
	return m != nil && m.cache != nil
}

// get returns the cached diagnostics for a key, if present.
func (m *memoryCache) get(key string) ([]Diagnostic, bool) {
	if !m.enabled() {
		return nil, false
	}
	value, found := m.cache.Get(key)
	if !found {
		return nil, false
	}
	diags, ok := value.([]Diagnostic)
	if !ok {
		m.logger.Error("Memory cache type assertion failed", "cache_key", key, "actual_type", fmt.Sprintf("%T", value))
		return nil, false
	}
	return diags, true
}

// set stores diagnostics for a key. Cost is the diagnostic count plus one so
// empty result sets still carry a positive cost.
func (m *memoryCache) set(key string, diags []Diagnostic) {
	if !m.enabled() {
		return
	}
	cost := int64(len(diags)) + 1
	if !m.cache.SetWithTTL(key, diags, cost, memoryCacheTTL) {
		m.logger.Debug("Memory cache set rejected", "cache_key", key, "cost", cost)
	}
}

// clear drops every entry.
func (m *memoryCache) clear() {
	if m.enabled() {
		m.cache.Clear()
	}
}

// metrics exposes ristretto's hit/miss counters for the debug endpoint.
func (m *memoryCache) metrics() *ristretto.Metrics {
	if !m.enabled() {
		return nil
	}
	return m.cache.Metrics
}

func (m *memoryCache) close() {
	if m.enabled() {
		m.cache.Close()
	}
}

// ============================================================================
// Disk Cache (bbolt)
// ============================================================================

// diskCache wraps bbolt for validation results that should survive restarts.
// A nil receiver or nil db behaves as a permanently empty cache.
type diskCache struct {
	db     *bbolt.DB
	logger *slog.Logger
}

// openDiskCache opens (or creates) the persistent validation cache. Any
// failure disables disk caching and returns nil; the service keeps running.
func openDiskCache(cfg Config, logger *slog.Logger) *diskCache {
	if logger == nil {
		logger = slog.Default()
	}
	if !cfg.UseDiskCache {
		logger.Debug("Disk cache disabled by config")
		return nil
	}

	baseDir := cfg.CacheDir
	if baseDir == "" {
		userCacheDir, err := os.UserCacheDir()
		if err != nil {
			logger.Warn("Could not determine user cache directory, disk caching disabled.", "error", err)
			return nil
		}
		baseDir = filepath.Join(userCacheDir, configDirName)
	}
	dbDir := filepath.Join(baseDir, "bboltdb", fmt.Sprintf("v%d", cacheSchemaVersion))
	if err := os.MkdirAll(dbDir, 0750); err != nil {
		logger.Warn("Could not create bbolt cache directory, disk caching disabled.", "path", dbDir, "error", err)
		return nil
	}
	dbPath := filepath.Join(dbDir, "validation_cache.db")

	opts := &bbolt.Options{Timeout: 1 * time.Second}
	db, err := bbolt.Open(dbPath, 0600, opts)
	if err != nil {
		logger.Warn("Failed to open bbolt cache file, disk caching disabled.", "path", dbPath, "error", err)
		return nil
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(validationBucketName)
		if err != nil {
			return fmt.Errorf("failed to create cache bucket %s: %w", string(validationBucketName), err)
		}
		return nil
	})
	if err != nil {
		logger.Warn("Failed to ensure bbolt bucket exists, disk caching disabled.", "error", err)
		db.Close()
		return nil
	}
	logger.Info("Using bbolt disk cache", "path", dbPath, "schema_version", cacheSchemaVersion)
	return &diskCache{db: db, logger: logger}
}

func (d *diskCache) enabled() bool {
	return d != nil && d.db != nil
}

// get returns the cached diagnostics for a key after verifying the entry's
// schema version and hashes. Stale or corrupt entries are deleted in the
// background and reported as a miss.
func (d *diskCache) get(key, catalogHash, docHash string) ([]Diagnostic, bool) {
	if !d.enabled() {
		return nil, false
	}
	var raw []byte
	viewErr := d.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(validationBucketName)
		if b == nil {
			return fmt.Errorf("%w: cache bucket %s missing", ErrCacheRead, string(validationBucketName))
		}
		if v := b.Get([]byte(key)); v != nil {
			raw = append(raw, v...) // Copy out; bbolt memory is only valid inside the tx.
		}
		return nil
	})
	if viewErr != nil {
		d.logger.Warn("Error reading from bbolt cache.", "cache_key", key, "error", viewErr)
		return nil, false
	}
	if raw == nil {
		return nil, false
	}

	var entry CachedValidationEntry
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&entry); err != nil {
		d.logger.Warn("Failed to gob-decode cached validation entry. Invalidating.", "cache_key", key, "error", fmt.Errorf("%w: %w", ErrCacheDecode, err))
		go d.deleteEntry(key)
		return nil, false
	}
	if entry.SchemaVersion != cacheSchemaVersion || entry.CatalogHash != catalogHash || entry.ContentHash != docHash {
		d.logger.Debug("Cached validation entry stale. Invalidating.",
			"cache_key", key,
			"entry_schema", entry.SchemaVersion,
			"want_schema", cacheSchemaVersion)
		go d.deleteEntry(key)
		return nil, false
	}

	var diags []Diagnostic
	if err := gob.NewDecoder(bytes.NewReader(entry.DiagnosticsGob)).Decode(&diags); err != nil {
		d.logger.Warn("Failed to gob-decode cached diagnostics. Invalidating.", "cache_key", key, "error", fmt.Errorf("%w: %w", ErrCacheDecode, err))
		go d.deleteEntry(key)
		return nil, false
	}
	return diags, true
}

// set stores diagnostics under a schema-versioned envelope.
func (d *diskCache) set(key, catalogHash, docHash string, diags []Diagnostic) {
	if !d.enabled() {
		return
	}
	var payload bytes.Buffer
	if err := gob.NewEncoder(&payload).Encode(diags); err != nil {
		d.logger.Warn("Failed to gob-encode diagnostics for disk cache.", "cache_key", key, "error", fmt.Errorf("%w: %w", ErrCacheEncode, err))
		return
	}
	entry := CachedValidationEntry{
		SchemaVersion:  cacheSchemaVersion,
		CatalogHash:    catalogHash,
		ContentHash:    docHash,
		DiagnosticsGob: payload.Bytes(),
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&entry); err != nil {
		d.logger.Warn("Failed to gob-encode validation cache entry.", "cache_key", key, "error", fmt.Errorf("%w: %w", ErrCacheEncode, err))
		return
	}
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(validationBucketName)
		if b == nil {
			return fmt.Errorf("%w: cache bucket %s missing", ErrCacheWrite, string(validationBucketName))
		}
		return b.Put([]byte(key), buf.Bytes())
	})
	if err != nil {
		d.logger.Warn("Failed to write to bbolt cache", "cache_key", key, "error", err)
	}
}

// deleteEntry removes one entry directly by key.
func (d *diskCache) deleteEntry(key string) error {
	if !d.enabled() {
		return errors.New("cannot delete cache entry: db is nil")
	}
	logger := d.logger.With("cache_key", key)
	err := d.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(validationBucketName)
		if b == nil {
			logger.Warn("Cache bucket not found during delete attempt.")
			return nil
		}
		if b.Get([]byte(key)) == nil {
			logger.Debug("Cache key not found during delete attempt.")
			return nil
		}
		logger.Debug("Deleting cache entry")
		return b.Delete([]byte(key))
	})
	if err != nil {
		logger.Warn("Failed to delete cache entry", "error", err)
		return fmt.Errorf("%w: failed to delete entry %s: %w", ErrCacheWrite, key, err)
	}
	return nil
}

// clear drops every entry by recreating the bucket.
func (d *diskCache) clear() error {
	if !d.enabled() {
		return nil
	}
	err := d.db.Update(func(tx *bbolt.Tx) error {
		if tx.Bucket(validationBucketName) != nil {
			if err := tx.DeleteBucket(validationBucketName); err != nil {
				return err
			}
		}
		_, err := tx.CreateBucketIfNotExists(validationBucketName)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: clearing validation bucket: %w", ErrCacheWrite, err)
	}
	return nil
}

func (d *diskCache) close() error {
	if !d.enabled() {
		return nil
	}
	d.logger.Info("Closing bbolt cache database.")
	if err := d.db.Close(); err != nil {
		d.logger.Error("Error closing bbolt database", "error", err)
		return fmt.Errorf("bbolt close failed: %w", err)
	}
	return nil
}
