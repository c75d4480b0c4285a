// sorovet.go
// Package sorovet provides incremental analysis for the Soroban smart-contract
// dialect of Rust: pattern-based diagnostics, static completions, and hover
// documentation, backed by a declarative rule catalog.
package sorovet

import (
	"context"
	"encoding/json"
	"errors"
	"expvar"
	"fmt"
	stdslog "log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dgraph-io/ristretto"
	"github.com/muhammadmuzzammil1998/jsonc"
)

// =============================================================================
// Service Metrics (expvar)
// =============================================================================

var (
	validationPassesVar   = expvar.NewInt("sorovet.validation_passes")
	validationCachedVar   = expvar.NewInt("sorovet.validation_cache_hits")
	ruleFaultsVar         = expvar.NewInt("sorovet.rule_faults")
	completionsServedVar  = expvar.NewInt("sorovet.completions_served")
	resolutionsServedVar  = expvar.NewInt("sorovet.completion_resolves")
	hoversServedVar       = expvar.NewInt("sorovet.hovers_served")
	diagnosticsEmittedVar = expvar.NewInt("sorovet.diagnostics_emitted")
)

// =============================================================================
// Configuration Loading
// =============================================================================

// GetConfigPaths determines the primary (XDG) and secondary (home dotfile)
// config file locations.
func GetConfigPaths(logger *stdslog.Logger) (primary, secondary string, err error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	var pathErrors []error

	userConfigDir, confErr := os.UserConfigDir()
	if confErr == nil {
		primary = filepath.Join(userConfigDir, configDirName, defaultConfigFileName)
	} else {
		logger.Warn("Could not determine user config directory", "error", confErr)
		pathErrors = append(pathErrors, fmt.Errorf("user config dir unavailable: %w", confErr))
	}

	homeDir, homeErr := os.UserHomeDir()
	if homeErr == nil {
		secondary = filepath.Join(homeDir, ".sorovet.jsonc")
	} else {
		logger.Warn("Could not determine user home directory", "error", homeErr)
		pathErrors = append(pathErrors, fmt.Errorf("user home dir unavailable: %w", homeErr))
	}

	if primary == "" && secondary == "" {
		return "", "", fmt.Errorf("%w: %w", ErrConfig, errors.Join(pathErrors...))
	}
	return primary, secondary, nil
}

// LoadAndMergeConfig reads a JSONC config file and merges its set fields onto
// cfg. Returns loaded=false when the file does not exist.
func LoadAndMergeConfig(path string, cfg *Config, logger *stdslog.Logger) (bool, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("reading config file: %w", err)
	}

	cleanJSON := jsonc.ToJSON(data)
	var fileCfg FileConfig
	if err := json.Unmarshal(cleanJSON, &fileCfg); err != nil {
		return true, fmt.Errorf("parsing config file JSON: %w", err)
	}
	merged := fileCfg.MergeInto(cfg)
	logger.Debug("Merged config file", "path", path, "fields_merged", merged)
	return true, nil
}

// defaultConfigTemplate is written on first run. JSONC, so the comments stay.
const defaultConfigTemplate = `{
  // Log level: debug, info, warn, error.
  "log_level": "%s",

  "diagnostics": {
    // Master switch for the diagnostic pass. Completions and hover stay on.
    "enable": true
  },

  "cache": {
    // In-memory validation result cache.
    "memory": true,
    // Persistent validation result cache (survives restarts).
    "disk": true,
    // Override for the disk cache directory. Empty uses the user cache dir.
    "dir": ""
  },

  "toolchain": {
    // Binary for build/deploy/invoke/bindings commands.
    "path": "%s",
    // Binary for contract test runs.
    "cargo": "%s"
  },

  "trace": {
    // LSP transport tracing: off, messages, verbose.
    "server": "%s"
  }
}
`

// WriteDefaultConfig writes a commented default config file, creating parent
// directories as needed.
func WriteDefaultConfig(path string, cfg Config, logger *stdslog.Logger) error {
	if logger == nil {
		logger = stdslog.Default()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	content := fmt.Sprintf(defaultConfigTemplate, cfg.LogLevel, cfg.ToolchainPath, cfg.CargoPath, cfg.TraceServer)
	if err := os.WriteFile(path, []byte(content), 0640); err != nil {
		return fmt.Errorf("writing default config file: %w", err)
	}
	logger.Info("Wrote default config file", "path", path)
	return nil
}

// LoadConfig loads configuration from standard locations, merges with
// defaults, validates, and attempts to write a default config if needed.
func LoadConfig(logger *stdslog.Logger) (Config, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	cfg := getDefaultConfig()
	var loadedFromFile bool
	var loadErrors []error
	var configParseError error

	primaryPath, secondaryPath, pathErr := GetConfigPaths(logger)
	if pathErr != nil {
		loadErrors = append(loadErrors, pathErr)
		logger.Warn("Could not determine config paths, using defaults", "error", pathErr)
	}

	if primaryPath != "" {
		logger.Debug("Attempting to load config", "path", primaryPath)
		loaded, loadErr := LoadAndMergeConfig(primaryPath, &cfg, logger)
		if loadErr != nil {
			if strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", primaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", primaryPath, "error", loadErr)
		} else if loaded {
			loadedFromFile = true
			logger.Info("Loaded config", "path", primaryPath)
		}
	}

	primaryNotFoundOrFailed := !loadedFromFile || configParseError != nil
	if primaryNotFoundOrFailed && secondaryPath != "" && secondaryPath != primaryPath {
		logger.Debug("Attempting to load config from secondary path", "path", secondaryPath)
		loaded, loadErr := LoadAndMergeConfig(secondaryPath, &cfg, logger)
		if loadErr != nil {
			if configParseError == nil && strings.Contains(loadErr.Error(), "parsing config file JSON") {
				configParseError = loadErr
			}
			loadErrors = append(loadErrors, fmt.Errorf("loading %s failed: %w", secondaryPath, loadErr))
			logger.Warn("Failed to load or merge config", "path", secondaryPath, "error", loadErr)
		} else if loaded && !loadedFromFile {
			loadedFromFile = true
			logger.Info("Loaded config", "path", secondaryPath)
		}
	}

	loadSucceeded := loadedFromFile && configParseError == nil
	if !loadSucceeded {
		writePath := primaryPath
		if writePath == "" {
			writePath = secondaryPath
		}
		if writePath != "" {
			if configParseError != nil {
				logger.Warn("Existing config file failed to parse. Attempting to write default.", "path", writePath, "error", configParseError)
			} else {
				logger.Info("No valid config file found. Attempting to write default.", "path", writePath)
			}
			if err := WriteDefaultConfig(writePath, getDefaultConfig(), logger); err != nil {
				logger.Warn("Failed to write default config", "path", writePath, "error", err)
				loadErrors = append(loadErrors, fmt.Errorf("writing default config failed: %w", err))
			}
		} else {
			logger.Warn("Cannot determine path to write default config.")
			loadErrors = append(loadErrors, errors.New("cannot determine default config path"))
		}
		cfg = getDefaultConfig()
		logger.Info("Using default configuration values.")
	}

	finalCfg := cfg
	if err := finalCfg.Validate(logger); err != nil {
		logger.Error("Final configuration is invalid, falling back to pure defaults.", "error", err)
		loadErrors = append(loadErrors, fmt.Errorf("post-load config validation failed: %w", err))
		pureDefault := getDefaultConfig()
		if valErr := pureDefault.Validate(logger); valErr != nil {
			logger.Error("FATAL: Default config definition is invalid", "error", valErr)
			return pureDefault, fmt.Errorf("default config definition is invalid: %w", valErr)
		}
		finalCfg = pureDefault
	}

	if len(loadErrors) > 0 {
		return finalCfg, fmt.Errorf("%w: %w", ErrConfig, errors.Join(loadErrors...))
	}
	return finalCfg, nil
}

// =============================================================================
// Analysis Service
// =============================================================================

// Service is the core analysis façade: one rule catalog, the open-document
// session, the settings surface, and the validation caches. All methods are
// safe for concurrent use.
type Service struct {
	catalog  *RuleCatalog
	sessions *SessionStore
	settings *SettingsStore
	memCache *memoryCache
	disk     *diskCache

	config   Config
	configMu sync.RWMutex
	logger   *stdslog.Logger
}

// NewService creates a Service using configuration loaded from standard
// locations. A non-fatal config problem returns both a working service and an
// ErrConfig-wrapped error describing it.
func NewService(logger *stdslog.Logger) (*Service, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "sorovet")

	cfg, configErr := LoadConfig(serviceLogger)
	if configErr != nil && !errors.Is(configErr, ErrConfig) {
		serviceLogger.Error("Fatal error during initial config load", "error", configErr)
		return nil, configErr
	}

	svc, err := NewServiceWithConfig(cfg, logger)
	if err != nil {
		return nil, err
	}
	if configErr != nil && errors.Is(configErr, ErrConfig) {
		return svc, configErr
	}
	return svc, nil
}

// NewServiceWithConfig creates a Service with a specific configuration,
// bypassing config file discovery.
func NewServiceWithConfig(config Config, logger *stdslog.Logger) (*Service, error) {
	if logger == nil {
		logger = stdslog.Default()
	}
	serviceLogger := logger.With("service", "sorovet")

	if err := config.Validate(serviceLogger); err != nil {
		return nil, fmt.Errorf("provided config validation failed: %w", err)
	}

	catalog, err := DefaultCatalog()
	if err != nil {
		serviceLogger.Error("Embedded rule catalog failed to load", "error", err)
		return nil, err
	}
	serviceLogger.Info("Loaded rule catalog", "rules", catalog.Len(), "catalog_hash", catalog.Hash()[:12])

	return &Service{
		catalog:  catalog,
		sessions: NewSessionStore(serviceLogger),
		settings: NewSettingsStore(config, serviceLogger),
		memCache: newMemoryCache(config, serviceLogger),
		disk:     openDiskCache(config, serviceLogger),
		config:   config,
		logger:   serviceLogger,
	}, nil
}

// Catalog returns the immutable rule catalog.
func (s *Service) Catalog() *RuleCatalog {
	return s.catalog
}

// Sessions returns the open-document session store.
func (s *Service) Sessions() *SessionStore {
	return s.sessions
}

// Settings returns the settings store.
func (s *Service) Settings() *SettingsStore {
	return s.settings
}

// GetCurrentConfig returns a copy of the active configuration.
func (s *Service) GetCurrentConfig() Config {
	s.configMu.RLock()
	defer s.configMu.RUnlock()
	return s.config
}

// UpdateConfig atomically replaces the active configuration after validating
// it, and clears all cached per-document settings so the next validation pass
// re-resolves against the new baseline.
func (s *Service) UpdateConfig(newConfig Config) error {
	if err := newConfig.Validate(s.logger); err != nil {
		return fmt.Errorf("invalid configuration update: %w", err)
	}
	s.configMu.Lock()
	s.config = newConfig
	s.configMu.Unlock()
	s.settings.SetGlobal(newConfig)
	s.logger.Info("Configuration updated",
		"log_level", newConfig.LogLevel,
		"diagnostics_enabled", newConfig.DiagnosticsEnabled)
	return nil
}

// Reset discards all session state: open snapshots and cached per-document
// settings. The catalog and the validation caches survive; they are keyed by
// content and stay valid across a restart.
func (s *Service) Reset() {
	s.sessions.Reset()
	s.settings.Clear()
	s.logger.Info("Service state reset")
}

// MemoryCacheMetrics exposes the ristretto counters for the debug endpoint.
// Returns nil when the memory cache is disabled.
func (s *Service) MemoryCacheMetrics() *ristretto.Metrics {
	return s.memCache.metrics()
}

// Close releases cache resources. The service must not be used afterwards.
func (s *Service) Close() error {
	s.logger.Info("Closing sorovet service")
	var closeErrors []error
	if err := s.disk.close(); err != nil {
		closeErrors = append(closeErrors, err)
	}
	s.memCache.close()
	if len(closeErrors) > 0 {
		return errors.Join(closeErrors...)
	}
	return nil
}

// ResolveSettings returns the effective per-document settings, consulting the
// fetcher (if any) and falling back to the global configuration.
func (s *Service) ResolveSettings(ctx context.Context, uri DocumentURI, fetch SettingsFetcher) DocumentSettings {
	return s.settings.Resolve(ctx, uri, fetch)
}
