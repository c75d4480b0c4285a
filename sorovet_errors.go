// sorovet/sorovet_errors.go
// Contains exported error definitions for the sorovet package.
package sorovet

import "errors"

// =============================================================================
// Exported Errors
// =============================================================================

var (
	// ErrCatalogLoad indicates the rule catalog could not be read or parsed.
	ErrCatalogLoad = errors.New("rule catalog load failed")

	// ErrCatalogInvalid indicates the rule catalog parsed but failed validation
	// (duplicate IDs, bad regex, unknown category/severity/kind, ...).
	ErrCatalogInvalid = errors.New("invalid rule catalog")

	// ErrRuleNotFound indicates a lookup by rule ID matched nothing.
	ErrRuleNotFound = errors.New("rule not found")

	// ErrConfig indicates non-fatal errors during config loading or processing.
	ErrConfig = errors.New("configuration error")

	// ErrInvalidConfig indicates a configuration value is invalid after validation.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrCacheRead indicates failure reading from the cache.
	ErrCacheRead = errors.New("cache read failed")

	// ErrCacheWrite indicates failure writing to the cache.
	ErrCacheWrite = errors.New("cache write failed")

	// ErrCacheDecode indicates failure decoding data read from the cache.
	ErrCacheDecode = errors.New("cache decode failed")

	// ErrCacheEncode indicates failure encoding data for writing to the cache.
	ErrCacheEncode = errors.New("cache encode failed")

	// ErrPositionConversion indicates failure converting between position formats (e.g., LSP <-> byte offset).
	ErrPositionConversion = errors.New("position conversion failed")

	// ErrInvalidPositionInput indicates input position values (line/col) are invalid.
	ErrInvalidPositionInput = errors.New("invalid input position")

	// ErrPositionOutOfRange indicates a position is outside the valid bounds of the document or line.
	ErrPositionOutOfRange = errors.New("position out of range")

	// ErrInvalidUTF8 indicates an invalid UTF-8 sequence was encountered during processing.
	ErrInvalidUTF8 = errors.New("invalid utf-8 sequence")

	// ErrInvalidURI indicates a document URI is invalid or uses an unsupported scheme.
	ErrInvalidURI = errors.New("invalid document URI")

	// ErrUnknownCommand indicates workspace/executeCommand named a command this server does not provide.
	ErrUnknownCommand = errors.New("unknown command")

	// ErrToolchainFailed indicates an external toolchain invocation exited non-zero.
	ErrToolchainFailed = errors.New("toolchain command failed")
)
