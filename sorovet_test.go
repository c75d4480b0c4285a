// sorovet/sorovet_test.go
package sorovet

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// =============================================================================
// Configuration Tests
// =============================================================================

func TestLoadAndMergeConfig(t *testing.T) {
	t.Run("Missing file is not an error", func(t *testing.T) {
		cfg := getDefaultConfig()
		loaded, err := LoadAndMergeConfig(filepath.Join(t.TempDir(), "absent.jsonc"), &cfg, testLogger())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if loaded {
			t.Error("loaded=true for a missing file")
		}
	})

	t.Run("JSONC comments are tolerated", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.jsonc")
		content := `{
  // Comments survive because the file is JSONC, not JSON.
  "log_level": "debug",
  "diagnostics": { "enable": false },
  "toolchain": { "path": "/opt/stellar/bin/stellar" }
}`
		if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}

		cfg := getDefaultConfig()
		loaded, err := LoadAndMergeConfig(path, &cfg, testLogger())
		if err != nil || !loaded {
			t.Fatalf("LoadAndMergeConfig = (%v, %v), want (true, nil)", loaded, err)
		}
		if cfg.LogLevel != "debug" {
			t.Errorf("LogLevel = %q, want debug", cfg.LogLevel)
		}
		if cfg.DiagnosticsEnabled {
			t.Error("DiagnosticsEnabled not overridden to false")
		}
		if cfg.ToolchainPath != "/opt/stellar/bin/stellar" {
			t.Errorf("ToolchainPath = %q", cfg.ToolchainPath)
		}
		// Unset fields keep their defaults.
		if cfg.CargoPath != defaultCargoPath {
			t.Errorf("CargoPath = %q, want untouched default %q", cfg.CargoPath, defaultCargoPath)
		}
	})

	t.Run("Malformed JSON reports a parse error", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.jsonc")
		if err := os.WriteFile(path, []byte(`{"log_level": `), 0o640); err != nil {
			t.Fatalf("writing fixture: %v", err)
		}
		cfg := getDefaultConfig()
		loaded, err := LoadAndMergeConfig(path, &cfg, testLogger())
		if err == nil {
			t.Fatal("expected a parse error")
		}
		if !loaded {
			t.Error("loaded must be true when the file exists but fails to parse")
		}
		if !strings.Contains(err.Error(), "parsing config file JSON") {
			t.Errorf("error %q missing parse marker", err)
		}
	})
}

func TestWriteDefaultConfigRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "config.jsonc")
	if err := WriteDefaultConfig(path, getDefaultConfig(), testLogger()); err != nil {
		t.Fatalf("WriteDefaultConfig failed: %v", err)
	}

	cfg := getDefaultConfig()
	cfg.LogLevel = "sentinel" // Must be overwritten by the file's default.
	loaded, err := LoadAndMergeConfig(path, &cfg, testLogger())
	if err != nil || !loaded {
		t.Fatalf("LoadAndMergeConfig = (%v, %v), want (true, nil)", loaded, err)
	}
	if cfg.LogLevel != defaultLogLevel {
		t.Errorf("LogLevel = %q, want %q from the written template", cfg.LogLevel, defaultLogLevel)
	}
	if err := cfg.Validate(testLogger()); err != nil {
		t.Errorf("written default config fails validation: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		check   func(*testing.T, Config)
	}{
		{
			name:   "Defaults are valid",
			mutate: func(*Config) {},
		},
		{
			name:   "Empty log level gets default without error",
			mutate: func(c *Config) { c.LogLevel = "" },
			check: func(t *testing.T, c Config) {
				if c.LogLevel != defaultLogLevel {
					t.Errorf("LogLevel = %q, want %q", c.LogLevel, defaultLogLevel)
				}
			},
		},
		{
			name:    "Invalid log level errors and falls back",
			mutate:  func(c *Config) { c.LogLevel = "loud" },
			wantErr: true,
			check: func(t *testing.T, c Config) {
				if c.LogLevel != defaultLogLevel {
					t.Errorf("LogLevel = %q, want fallback %q", c.LogLevel, defaultLogLevel)
				}
			},
		},
		{
			name:   "Blank toolchain paths get defaults",
			mutate: func(c *Config) { c.ToolchainPath = "  "; c.CargoPath = "" },
			check: func(t *testing.T, c Config) {
				if c.ToolchainPath != defaultToolchainPath || c.CargoPath != defaultCargoPath {
					t.Errorf("paths = (%q, %q), want defaults", c.ToolchainPath, c.CargoPath)
				}
			},
		},
		{
			name:    "Invalid trace level errors and falls back",
			mutate:  func(c *Config) { c.TraceServer = "everything" },
			wantErr: true,
			check: func(t *testing.T, c Config) {
				if c.TraceServer != TraceOff {
					t.Errorf("TraceServer = %q, want %q", c.TraceServer, TraceOff)
				}
			},
		},
		{
			name:   "Empty trace level defaults silently",
			mutate: func(c *Config) { c.TraceServer = "" },
			check: func(t *testing.T, c Config) {
				if c.TraceServer != TraceOff {
					t.Errorf("TraceServer = %q, want %q", c.TraceServer, TraceOff)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := getDefaultConfig()
			tt.mutate(&cfg)
			err := cfg.Validate(testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidConfig) {
				t.Errorf("error = %v, want errors.Is(ErrInvalidConfig)", err)
			}
			if tt.check != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestFileConfigMergeInto(t *testing.T) {
	strPtr := func(s string) *string { return &s }
	boolPtr := func(b bool) *bool { return &b }

	cfg := getDefaultConfig()
	fc := FileConfig{
		LogLevel:    strPtr("warn"),
		Diagnostics: &DiagnosticsFileConfig{Enable: boolPtr(false)},
		Cache:       &CacheFileConfig{Disk: boolPtr(false), Dir: strPtr("/tmp/x")},
		Trace:       &TraceFileConfig{Server: strPtr(TraceMessages)},
	}
	merged := fc.MergeInto(&cfg)
	if merged != 5 {
		t.Errorf("merged = %d, want 5", merged)
	}
	if cfg.LogLevel != "warn" || cfg.DiagnosticsEnabled || cfg.UseDiskCache || cfg.CacheDir != "/tmp/x" || cfg.TraceServer != TraceMessages {
		t.Errorf("merge result unexpected: %+v", cfg)
	}
	if !cfg.UseMemoryCache {
		t.Error("unset memory cache field was clobbered")
	}

	var nilFc *FileConfig
	if n := nilFc.MergeInto(&cfg); n != 0 {
		t.Errorf("nil FileConfig merged %d fields, want 0", n)
	}
}

// =============================================================================
// Service Tests
// =============================================================================

func TestServiceUpdateConfig(t *testing.T) {
	svc := newTestService(t)

	t.Run("Valid update replaces config and settings baseline", func(t *testing.T) {
		newCfg := svc.GetCurrentConfig()
		newCfg.DiagnosticsEnabled = false
		newCfg.LogLevel = "debug"
		if err := svc.UpdateConfig(newCfg); err != nil {
			t.Fatalf("UpdateConfig failed: %v", err)
		}
		if got := svc.GetCurrentConfig(); got.DiagnosticsEnabled || got.LogLevel != "debug" {
			t.Errorf("config not applied: %+v", got)
		}
		ds := svc.ResolveSettings(context.Background(), "file:///a.rs", nil)
		if ds.DiagnosticsEnabled {
			t.Error("settings baseline did not follow the config update")
		}
	})

	t.Run("Invalid update is rejected and leaves config untouched", func(t *testing.T) {
		before := svc.GetCurrentConfig()
		bad := before
		bad.LogLevel = "shout"
		if err := svc.UpdateConfig(bad); err == nil {
			t.Fatal("expected an error for an invalid config")
		}
		if got := svc.GetCurrentConfig(); got != before {
			t.Errorf("config changed despite rejected update: %+v", got)
		}
	})
}

func TestServiceReset(t *testing.T) {
	svc := newTestService(t)
	svc.Sessions().Open("file:///a.rs", "use soroban_sdk::Env;\n", 1)
	svc.Sessions().Open("file:///b.rs", "fn main() {}\n", 1)
	svc.Reset()
	if svc.Sessions().Len() != 0 {
		t.Error("Reset did not discard open sessions")
	}
	if svc.Settings().Len() != 0 {
		t.Error("Reset did not clear cached settings")
	}
	// The catalog survives a reset.
	if svc.Catalog() == nil || svc.Catalog().Len() == 0 {
		t.Error("Reset lost the rule catalog")
	}
}

// =============================================================================
// Utility Tests
// =============================================================================

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		in      string
		want    slog.Level
		wantErr bool
	}{
		{"debug", slog.LevelDebug, false},
		{"info", slog.LevelInfo, false},
		{"WARN", slog.LevelWarn, false},
		{"warning", slog.LevelWarn, false},
		{" error ", slog.LevelError, false},
		{"", slog.LevelInfo, true},
		{"verbose", slog.LevelInfo, true},
	}
	for _, tt := range tests {
		got, err := ParseLogLevel(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseLogLevel(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLogLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestUtf16OffsetToBytes(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		utf16Off   int
		wantBytes  int
		wantErrIs  error
	}{
		{"Zero offset", "abc", 0, 0, nil},
		{"ASCII middle", "abc", 2, 2, nil},
		{"ASCII end", "abc", 3, 3, nil},
		{"Multibyte BMP rune", "a世b", 2, 4, nil}, // 世 is 3 bytes, 1 UTF-16 unit
		{"Surrogate pair", "a😀b", 3, 5, nil},    // 😀 is 4 bytes, 2 UTF-16 units
		{"Inside surrogate pair clamps to rune start", "a😀b", 2, 1, nil},
		{"Negative offset", "abc", -1, 0, ErrInvalidPositionInput},
		{"Beyond line end", "abc", 10, 3, ErrPositionOutOfRange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Utf16OffsetToBytes([]byte(tt.line), tt.utf16Off)
			if tt.wantErrIs != nil {
				if !errors.Is(err, tt.wantErrIs) {
					t.Fatalf("error = %v, want errors.Is(%v)", err, tt.wantErrIs)
				}
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.wantBytes {
				t.Errorf("byte offset = %d, want %d", got, tt.wantBytes)
			}
		})
	}
}

func TestLspPositionToBytePosition(t *testing.T) {
	content := []byte("first\nsecond 世界\nthird")
	tests := []struct {
		name       string
		pos        LSPPosition
		wantLine   int // 1-based
		wantCol    int // 1-based, bytes
		wantOffset int
		wantErr    bool
	}{
		{"Document start", LSPPosition{Line: 0, Character: 0}, 1, 1, 0, false},
		{"Line start", LSPPosition{Line: 1, Character: 0}, 2, 1, 6, false},
		{"Before multibyte", LSPPosition{Line: 1, Character: 7}, 2, 8, 13, false},
		{"After one multibyte rune", LSPPosition{Line: 1, Character: 8}, 2, 11, 16, false},
		{"Last line", LSPPosition{Line: 2, Character: 5}, 3, 6, 25, false},
		{"Char past line end clamps", LSPPosition{Line: 0, Character: 99}, 1, 6, 5, false},
		{"Line past EOF errors", LSPPosition{Line: 9, Character: 0}, 0, 0, -1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, col, offset, err := LspPositionToBytePosition(content, tt.pos, testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if line != tt.wantLine || col != tt.wantCol || offset != tt.wantOffset {
				t.Errorf("got (line %d, col %d, offset %d), want (%d, %d, %d)",
					line, col, offset, tt.wantLine, tt.wantCol, tt.wantOffset)
			}
		})
	}
}

func TestLspPositionToBytePositionCRLF(t *testing.T) {
	content := []byte("use soroban_sdk::Env;\r\nEnv\r\n")
	tests := []struct {
		name       string
		pos        LSPPosition
		wantLine   int
		wantCol    int
		wantOffset int
	}{
		{"First line start", LSPPosition{Line: 0, Character: 0}, 1, 1, 0},
		{"Second line start lands past the CRLF", LSPPosition{Line: 1, Character: 0}, 2, 1, 23},
		{"Second line mid-token", LSPPosition{Line: 1, Character: 2}, 2, 3, 25},
		{"Clamp stops before the CR", LSPPosition{Line: 0, Character: 99}, 1, 22, 21},
		{"Trailing empty line", LSPPosition{Line: 2, Character: 0}, 3, 1, 28},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, col, offset, err := LspPositionToBytePosition(content, tt.pos, testLogger())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if line != tt.wantLine || col != tt.wantCol || offset != tt.wantOffset {
				t.Errorf("got (line %d, col %d, offset %d), want (%d, %d, %d)",
					line, col, offset, tt.wantLine, tt.wantCol, tt.wantOffset)
			}
		})
	}
}

func TestContentHashAndCacheKey(t *testing.T) {
	if contentHash("a") == contentHash("b") {
		t.Error("different content produced the same hash")
	}
	if contentHash("a") != contentHash("a") {
		t.Error("identical content produced different hashes")
	}
	key := validationCacheKey("doc", "cat")
	if key != "doc:cat" {
		t.Errorf("validationCacheKey = %q, want doc:cat", key)
	}
}

func TestValidateAndGetFilePath(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		wantErr bool
	}{
		{"Valid file URI", "file:///tmp/project/lib.rs", false},
		{"HTTP scheme rejected", "http://example.com/lib.rs", true},
		{"Empty path rejected", "file://", true},
		{"Garbage rejected", "::::", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path, err := ValidateAndGetFilePath(tt.uri, testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrInvalidURI) {
					t.Errorf("error = %v, want errors.Is(ErrInvalidURI)", err)
				}
				return
			}
			if !filepath.IsAbs(path) {
				t.Errorf("path %q is not absolute", path)
			}
		})
	}
}

func TestPathToURIRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "lib.rs")
	uri, err := PathToURI(path)
	if err != nil {
		t.Fatalf("PathToURI failed: %v", err)
	}
	if !strings.HasPrefix(string(uri), "file://") {
		t.Fatalf("URI %q missing file scheme", uri)
	}
	back, err := ValidateAndGetFilePath(string(uri), testLogger())
	if err != nil {
		t.Fatalf("ValidateAndGetFilePath failed: %v", err)
	}
	if back != path {
		t.Errorf("round trip %q -> %q -> %q", path, uri, back)
	}
}
