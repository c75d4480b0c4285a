// sorovet/sorovet_types.go
// Contains core type definitions used throughout the sorovet package.
package sorovet

import (
	"errors"
	"fmt"
	stdslog "log/slog"
	"strings"
)

// =============================================================================
// Configuration Types & Constants
// =============================================================================

const (
	defaultLogLevel       = "info"         // Default log level.
	defaultToolchainPath  = "stellar"      // Default Soroban toolchain binary.
	defaultCargoPath      = "cargo"        // Default cargo binary for pass-through test runs.
	defaultConfigFileName = "config.jsonc" // Default config file name (JSON with comments).
	configDirName         = "sorovet"      // Subdirectory name for config/data.
	cacheSchemaVersion    = 1              // Used to invalidate the disk cache if internal formats change.

	// diagnosticSource tags every diagnostic this service produces.
	diagnosticSource = "sorovet"
)

// Trace levels recognized in the "trace.server" setting.
const (
	TraceOff      = "off"
	TraceMessages = "messages"
	TraceVerbose  = "verbose"
)

// Config holds the active configuration for the analysis service.
type Config struct {
	LogLevel           string `json:"log_level"`           // Log level (debug, info, warn, error).
	DiagnosticsEnabled bool   `json:"diagnostics_enabled"` // Gates the Diagnostic Engine entirely.
	UseMemoryCache     bool   `json:"use_memory_cache"`    // Enable the in-memory validation result cache.
	UseDiskCache       bool   `json:"use_disk_cache"`      // Enable the persistent validation result cache.
	CacheDir           string `json:"cache_dir"`           // Override for the disk cache directory (empty = user cache dir).
	ToolchainPath      string `json:"toolchain_path"`      // Binary invoked for build/deploy/invoke/bindings commands.
	CargoPath          string `json:"cargo_path"`          // Binary invoked for the test command.
	TraceServer        string `json:"trace_server"`        // Transport trace level: off, messages, verbose.
}

// FileConfig represents the structure of the JSON(C) config file and of
// client-pushed settings for unmarshalling. Uses pointers to distinguish
// between unset fields and zero-value fields.
type FileConfig struct {
	LogLevel    *string                `json:"log_level,omitempty"`
	Diagnostics *DiagnosticsFileConfig `json:"diagnostics,omitempty"`
	Cache       *CacheFileConfig       `json:"cache,omitempty"`
	Toolchain   *ToolchainFileConfig   `json:"toolchain,omitempty"`
	Trace       *TraceFileConfig       `json:"trace,omitempty"`
}

// DiagnosticsFileConfig mirrors the "diagnostics" settings section.
type DiagnosticsFileConfig struct {
	Enable *bool `json:"enable,omitempty"`
}

// CacheFileConfig mirrors the "cache" settings section.
type CacheFileConfig struct {
	Memory *bool   `json:"memory,omitempty"`
	Disk   *bool   `json:"disk,omitempty"`
	Dir    *string `json:"dir,omitempty"`
}

// ToolchainFileConfig mirrors the "toolchain" settings section.
type ToolchainFileConfig struct {
	Path  *string `json:"path,omitempty"`
	Cargo *string `json:"cargo,omitempty"`
}

// TraceFileConfig mirrors the "trace" settings section.
type TraceFileConfig struct {
	Server *string `json:"server,omitempty"`
}

// DefaultConfig returns a fresh copy of the built-in configuration defaults.
func DefaultConfig() Config {
	return getDefaultConfig()
}

// getDefaultConfig returns a new instance of the default configuration.
func getDefaultConfig() Config {
	return Config{
		LogLevel:           defaultLogLevel,
		DiagnosticsEnabled: true,
		UseMemoryCache:     true,
		UseDiskCache:       true,
		CacheDir:           "",
		ToolchainPath:      defaultToolchainPath,
		CargoPath:          defaultCargoPath,
		TraceServer:        TraceOff,
	}
}

// MergeInto applies every set (non-nil) field of the FileConfig onto c and
// returns the number of fields merged.
func (fc *FileConfig) MergeInto(c *Config) int {
	if fc == nil {
		return 0
	}
	merged := 0
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
		merged++
	}
	if fc.Diagnostics != nil && fc.Diagnostics.Enable != nil {
		c.DiagnosticsEnabled = *fc.Diagnostics.Enable
		merged++
	}
	if fc.Cache != nil {
		if fc.Cache.Memory != nil {
			c.UseMemoryCache = *fc.Cache.Memory
			merged++
		}
		if fc.Cache.Disk != nil {
			c.UseDiskCache = *fc.Cache.Disk
			merged++
		}
		if fc.Cache.Dir != nil {
			c.CacheDir = *fc.Cache.Dir
			merged++
		}
	}
	if fc.Toolchain != nil {
		if fc.Toolchain.Path != nil {
			c.ToolchainPath = *fc.Toolchain.Path
			merged++
		}
		if fc.Toolchain.Cargo != nil {
			c.CargoPath = *fc.Toolchain.Cargo
			merged++
		}
	}
	if fc.Trace != nil && fc.Trace.Server != nil {
		c.TraceServer = *fc.Trace.Server
		merged++
	}
	return merged
}

// Validate checks if configuration values are valid, applying defaults for some fields.
func (c *Config) Validate(logger *stdslog.Logger) error {
	var validationErrors []error
	if logger == nil {
		logger = stdslog.Default()
	}
	tempDefault := getDefaultConfig()

	if c.LogLevel == "" {
		logger.Warn("Config validation: log_level is empty, applying default.", "default", defaultLogLevel)
		c.LogLevel = defaultLogLevel
	} else if _, err := ParseLogLevel(c.LogLevel); err != nil {
		logger.Warn("Config validation: invalid log_level found, applying default.", "configured_value", c.LogLevel, "default", defaultLogLevel, "error", err)
		validationErrors = append(validationErrors, fmt.Errorf("invalid log_level '%s': %w", c.LogLevel, err))
		c.LogLevel = defaultLogLevel
	}

	if strings.TrimSpace(c.ToolchainPath) == "" {
		logger.Warn("Config validation: toolchain_path is empty, applying default.", "default", tempDefault.ToolchainPath)
		c.ToolchainPath = tempDefault.ToolchainPath
	}
	if strings.TrimSpace(c.CargoPath) == "" {
		logger.Warn("Config validation: cargo_path is empty, applying default.", "default", tempDefault.CargoPath)
		c.CargoPath = tempDefault.CargoPath
	}

	switch c.TraceServer {
	case TraceOff, TraceMessages, TraceVerbose:
	case "":
		c.TraceServer = TraceOff
	default:
		logger.Warn("Config validation: invalid trace_server value, applying default.", "configured_value", c.TraceServer, "default", TraceOff)
		validationErrors = append(validationErrors, fmt.Errorf("invalid trace_server '%s': must be one of off, messages, verbose", c.TraceServer))
		c.TraceServer = TraceOff
	}

	if len(validationErrors) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(validationErrors...))
	}
	return nil
}

// =============================================================================
// Document & Scanner Types
// =============================================================================

// Snapshot is an immutable view of one open document's content. The session
// store replaces the whole value on every edit; nothing mutates it in place.
type Snapshot struct {
	URI     DocumentURI
	Text    string
	Version int
}

// ScannedLine is one newline-delimited segment of a document, produced by the
// lexical scanner. Raw keeps the segment verbatim (a trailing CR survives);
// Trimmed is Raw with leading and trailing whitespace removed. All engines
// consume the same records, so column arithmetic can never diverge.
type ScannedLine struct {
	Index   int
	Raw     string
	Trimmed string
}

// =============================================================================
// Diagnostic Types
// =============================================================================

type DiagnosticSeverity int

const (
	SeverityError   DiagnosticSeverity = 1
	SeverityWarning DiagnosticSeverity = 2
	SeverityInfo    DiagnosticSeverity = 3
	SeverityHint    DiagnosticSeverity = 4
)

// Position is a 0-based line plus a 0-based byte offset within that line.
// Conversion to UTF-16 code units happens only at the LSP boundary.
type Position struct {
	Line      int
	Character int
}

type Range struct {
	Start Position
	End   Position
}

// Diagnostic is one structural finding for a document. Produced fresh per
// validation pass; consumers reconcile by wholesale replacement, never by
// diffing against a previous pass.
type Diagnostic struct {
	Range    Range
	Severity DiagnosticSeverity
	Code     string // Rule ID that produced this diagnostic.
	Source   string // Always diagnosticSource for rule matches.
	Message  string
}

// =============================================================================
// Rule & Candidate Types
// =============================================================================

// RuleCategory classifies what kind of dialect construct a rule describes.
type RuleCategory string

const (
	CategoryAttribute   RuleCategory = "attribute"
	CategoryType        RuleCategory = "type"
	CategoryCallPattern RuleCategory = "call-pattern"
	CategoryImport      RuleCategory = "import"
)

// CandidateKind hints at how an editor should render a completion candidate.
// Values map onto LSP CompletionItemKind at the transport boundary.
type CandidateKind string

const (
	KindSnippet  CandidateKind = "snippet"
	KindKeyword  CandidateKind = "keyword"
	KindStruct   CandidateKind = "struct"
	KindFunction CandidateKind = "function"
	KindMethod   CandidateKind = "method"
	KindModule   CandidateKind = "module"
	KindProperty CandidateKind = "property"
)

// CompletionCandidate is one entry of the static completion catalog. The
// unresolved form carries no documentation; ResolveKey feeds the lazy
// resolve step that fills Detail and Documentation.
type CompletionCandidate struct {
	Label         string
	Detail        string
	Documentation string
	InsertText    string
	Kind          CandidateKind
	Category      RuleCategory
	ResolveKey    string
}

// HoverInfo is the core-level hover result: markdown content plus the span
// of the identifier it describes, both as positions and as the byte offsets
// the transport shell converts at the LSP boundary.
type HoverInfo struct {
	Ident       string
	Markdown    string
	Range       Range
	StartOffset int // Byte offset of the identifier start (inclusive).
	EndOffset   int // Byte offset of the identifier end (exclusive).
}

// DocumentSettings is the per-document resolvable subset of the settings
// surface. Resolution faults fall back to the global configuration.
type DocumentSettings struct {
	DiagnosticsEnabled bool
}

// =============================================================================
// Cache Types
// =============================================================================

// CachedValidationEntry is the schema-versioned envelope stored in the disk
// cache. DiagnosticsGob holds the gob-encoded []Diagnostic; the envelope
// fields are verified before the payload is decoded.
type CachedValidationEntry struct {
	SchemaVersion  int    // Version of the cache structure itself.
	CatalogHash    string // Hash of the rule catalog when cached.
	ContentHash    string // Hash of the document text when cached.
	DiagnosticsGob []byte // Gob-encoded []Diagnostic.
}
