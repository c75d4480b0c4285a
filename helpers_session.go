// sorovet/helpers_session.go
// Contains the session stores: open-document snapshots and the settings
// resolution cache.
package sorovet

import (
	"context"
	"log/slog"
	"sync"
)

// ============================================================================
// Session Store
// ============================================================================

// SessionStore tracks the snapshots of open documents, keyed by URI. Every
// edit replaces the whole Snapshot value; readers never observe a partially
// updated document.
type SessionStore struct {
	mu     sync.RWMutex
	docs   map[DocumentURI]*Snapshot
	logger *slog.Logger
}

// NewSessionStore creates an empty session store.
func NewSessionStore(logger *slog.Logger) *SessionStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionStore{
		docs:   make(map[DocumentURI]*Snapshot),
		logger: logger,
	}
}

// Open registers a document snapshot, replacing any existing one for the URI.
func (s *SessionStore) Open(uri DocumentURI, text string, version int) *Snapshot {
	snap := &Snapshot{URI: uri, Text: text, Version: version}
	s.mu.Lock()
	s.docs[uri] = snap
	s.mu.Unlock()
	s.logger.Debug("Opened document session", "uri", uri, "version", version, "bytes", len(text))
	return snap
}

// Update replaces the snapshot for an open document. Stale updates (version
// not newer than the stored one) are ignored and reported via ok=false, as
// are updates for documents that were never opened.
func (s *SessionStore) Update(uri DocumentURI, text string, version int) (*Snapshot, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, exists := s.docs[uri]
	if !exists {
		s.logger.Warn("Ignoring update for unopened document", "uri", uri, "version", version)
		return nil, false
	}
	if version <= current.Version {
		s.logger.Warn("Ignoring stale document update",
			"uri", uri, "stored_version", current.Version, "update_version", version)
		return nil, false
	}
	snap := &Snapshot{URI: uri, Text: text, Version: version}
	s.docs[uri] = snap
	return snap, true
}

// Get returns the current snapshot for a URI, if the document is open.
func (s *SessionStore) Get(uri DocumentURI) (*Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.docs[uri]
	return snap, ok
}

// Close discards the snapshot for a URI. Closing an unopened document is a
// no-op.
func (s *SessionStore) Close(uri DocumentURI) {
	s.mu.Lock()
	delete(s.docs, uri)
	s.mu.Unlock()
	s.logger.Debug("Closed document session", "uri", uri)
}

// URIs returns the URIs of all open documents.
func (s *SessionStore) URIs() []DocumentURI {
	s.mu.RLock()
	defer s.mu.RUnlock()
	uris := make([]DocumentURI, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	return uris
}

// Reset discards every open snapshot.
func (s *SessionStore) Reset() {
	s.mu.Lock()
	s.docs = make(map[DocumentURI]*Snapshot)
	s.mu.Unlock()
	s.logger.Debug("Session store reset")
}

// Len returns the number of open documents.
func (s *SessionStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.docs)
}

// ============================================================================
// Settings Store
// ============================================================================

// SettingsFetcher retrieves per-document settings from the client, typically
// via a workspace/configuration round trip. A nil fetcher means the client
// does not support scoped configuration.
type SettingsFetcher func(ctx context.Context, uri DocumentURI) (DocumentSettings, error)

// SettingsStore holds the global configuration plus a cache of per-document
// settings resolved from the client. A configuration change replaces the
// global config and clears the whole per-document cache; the next validation
// pass re-resolves lazily.
type SettingsStore struct {
	mu        sync.RWMutex
	global    Config
	overrides map[DocumentURI]DocumentSettings
	logger    *slog.Logger
}

// NewSettingsStore creates a settings store seeded with the global config.
func NewSettingsStore(cfg Config, logger *slog.Logger) *SettingsStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsStore{
		global:    cfg,
		overrides: make(map[DocumentURI]DocumentSettings),
		logger:    logger,
	}
}

// Global returns a copy of the global configuration.
func (s *SettingsStore) Global() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.global
}

// SetGlobal replaces the global configuration and clears all cached
// per-document settings.
func (s *SettingsStore) SetGlobal(cfg Config) {
	s.mu.Lock()
	s.global = cfg
	s.overrides = make(map[DocumentURI]DocumentSettings)
	s.mu.Unlock()
	s.logger.Debug("Global settings replaced, per-document cache cleared")
}

// globalDocumentSettings derives the per-document view of the global config.
func (s *SettingsStore) globalDocumentSettings() DocumentSettings {
	return DocumentSettings{DiagnosticsEnabled: s.global.DiagnosticsEnabled}
}

// Resolve returns the effective settings for a document: the cached value if
// present, otherwise the result of fetch (which is then cached). A nil fetch
// or a fetch error falls back to the global configuration; fetch failures are
// never cached, so a later resolve retries the client.
func (s *SettingsStore) Resolve(ctx context.Context, uri DocumentURI, fetch SettingsFetcher) DocumentSettings {
	s.mu.RLock()
	if ds, ok := s.overrides[uri]; ok {
		s.mu.RUnlock()
		return ds
	}
	fallback := s.globalDocumentSettings()
	s.mu.RUnlock()

	if fetch == nil {
		return fallback
	}
	ds, err := fetch(ctx, uri)
	if err != nil {
		s.logger.Warn("Settings fetch failed, falling back to global config", "uri", uri, "error", err)
		return fallback
	}
	s.mu.Lock()
	s.overrides[uri] = ds
	s.mu.Unlock()
	return ds
}

// Evict drops the cached settings for one document.
func (s *SettingsStore) Evict(uri DocumentURI) {
	s.mu.Lock()
	delete(s.overrides, uri)
	s.mu.Unlock()
}

// Clear drops all cached per-document settings.
func (s *SettingsStore) Clear() {
	s.mu.Lock()
	s.overrides = make(map[DocumentURI]DocumentSettings)
	s.mu.Unlock()
}

// Len returns the number of cached per-document settings entries.
func (s *SettingsStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.overrides)
}
