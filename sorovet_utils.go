// sorovet_utils.go
package sorovet

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"
)

// ============================================================================
// Log Level Helper
// ============================================================================

// ParseLogLevel converts a level name into a slog.Level.
func ParseLogLevel(levelStr string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(levelStr)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level '%s' (valid: debug, info, warn, error)", levelStr)
	}
}

// ============================================================================
// LSP Position Conversion Helpers
// ============================================================================

// LSPPosition represents a 0-based line/character offset (UTF-16).
type LSPPosition struct {
	Line      uint32 `json:"line"`      // 0-based
	Character uint32 `json:"character"` // 0-based, UTF-16 offset
}

// LspPositionToBytePosition converts 0-based LSP line/character (UTF-16) to
// 1-based line/column (bytes) and 0-based byte offset, using the document's
// own line breaks. Line starts are computed from the raw text, so a CRLF
// terminator counts two bytes toward the next line's offset while the CR
// itself stays out of the column math.
func LspPositionToBytePosition(content []byte, lspPos LSPPosition, logger *slog.Logger) (line, col, byteOffset int, err error) {
	if logger == nil {
		logger = slog.Default()
	}
	if content == nil {
		return 0, 0, -1, fmt.Errorf("%w: document content is nil", ErrPositionConversion)
	}
	targetLine := int(lspPos.Line)
	targetUTF16Char := int(lspPos.Character)

	currentLine := 0
	lineStart := 0
	for lineStart <= len(content) {
		lineEnd := indexByteFrom(content, lineStart, '\n')
		hasNewline := lineEnd >= 0
		if !hasNewline {
			lineEnd = len(content)
		}
		if currentLine == targetLine {
			lineTextBytes := content[lineStart:lineEnd]
			if n := len(lineTextBytes); n > 0 && lineTextBytes[n-1] == '\r' {
				lineTextBytes = lineTextBytes[:n-1] // The terminator is not an addressable column.
			}
			byteOffsetInLine, convErr := Utf16OffsetToBytes(lineTextBytes, targetUTF16Char)
			if convErr != nil {
				if errors.Is(convErr, ErrPositionOutOfRange) { // Clamp to line end on out-of-range error.
					logger.Warn("UTF16 offset out of range, clamping to line end",
						"line", targetLine,
						"char", targetUTF16Char,
						"error", convErr)
					byteOffsetInLine = len(lineTextBytes)
				} else {
					return 0, 0, -1, fmt.Errorf("failed converting UTF16 to byte offset on line %d: %w", currentLine, convErr)
				}
			}
			line = currentLine + 1
			col = byteOffsetInLine + 1
			byteOffset = lineStart + byteOffsetInLine
			return line, col, byteOffset, nil // Success.
		}
		if !hasNewline {
			break
		}
		lineStart = lineEnd + 1
		currentLine++
	}

	// Handle cursor on the line after content that does not end in a newline.
	// Terminated content already yields its trailing empty segment above.
	if len(content) > 0 && content[len(content)-1] != '\n' &&
		currentLine+1 == targetLine && targetUTF16Char == 0 {
		return targetLine + 1, 1, len(content), nil
	}
	// Target line not found.
	return 0, 0, -1, fmt.Errorf("%w: LSP line %d not found in document (total lines scanned %d)", ErrPositionOutOfRange, targetLine, currentLine+1)
}

// Utf16OffsetToBytes converts a 0-based UTF-16 offset within a line to a 0-based byte offset.
func Utf16OffsetToBytes(line []byte, utf16Offset int) (int, error) {
	if utf16Offset < 0 {
		return 0, fmt.Errorf("%w: invalid utf16Offset: %d (must be >= 0)", ErrInvalidPositionInput, utf16Offset)
	}
	if utf16Offset == 0 {
		return 0, nil
	}

	byteOffset := 0
	currentUTF16Offset := 0
	for byteOffset < len(line) {
		if currentUTF16Offset >= utf16Offset {
			break
		} // Reached target.
		r, size := utf8.DecodeRune(line[byteOffset:])
		if r == utf8.RuneError && size <= 1 {
			return byteOffset, fmt.Errorf("%w at byte offset %d", ErrInvalidUTF8, byteOffset)
		}
		utf16Units := 1
		if r > 0xFFFF {
			utf16Units = 2
		} // Surrogate pairs require 2 units.
		// If adding this rune exceeds target, current byteOffset is the answer.
		if currentUTF16Offset+utf16Units > utf16Offset {
			break
		}
		currentUTF16Offset += utf16Units
		byteOffset += size
		if currentUTF16Offset == utf16Offset {
			break
		} // Exact match.
	}
	// Check if target offset was beyond the actual line length in UTF-16.
	if currentUTF16Offset < utf16Offset {
		return len(line), fmt.Errorf("%w: utf16Offset %d is beyond the line length in UTF-16 units (%d)", ErrPositionOutOfRange, utf16Offset, currentUTF16Offset)
	}
	return byteOffset, nil
}

// offsetToPosition converts a 0-based byte offset into text to a 0-based
// line and byte column. Offsets past the end clamp to the final position.
func offsetToPosition(text string, offset int) Position {
	if offset < 0 {
		offset = 0
	}
	if offset > len(text) {
		offset = len(text)
	}
	line := strings.Count(text[:offset], "\n")
	lineStart := strings.LastIndexByte(text[:offset], '\n') + 1
	return Position{Line: line, Character: offset - lineStart}
}

// ============================================================================
// Identifier Extraction
// ============================================================================

// isIdentByte reports whether b can be part of a dialect identifier token.
func isIdentByte(b byte) bool {
	return b == '_' ||
		(b >= 'a' && b <= 'z') ||
		(b >= 'A' && b <= 'Z') ||
		(b >= '0' && b <= '9')
}

// identifierAt returns the maximal [A-Za-z0-9_]+ run containing the byte at
// offset, with its start (inclusive) and end (exclusive) offsets. The byte at
// offset must itself be an identifier byte; a cursor sitting on whitespace or
// punctuation, including one position past a token, yields ok=false.
func identifierAt(text string, offset int) (ident string, start, end int, ok bool) {
	if offset < 0 || offset >= len(text) || !isIdentByte(text[offset]) {
		return "", 0, 0, false
	}
	start = offset
	for start > 0 && isIdentByte(text[start-1]) {
		start--
	}
	end = offset + 1
	for end < len(text) && isIdentByte(text[end]) {
		end++
	}
	return text[start:end], start, end, true
}

// ============================================================================
// Hashing Helpers
// ============================================================================

// contentHash returns the SHA256 hex digest of the document text.
func contentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// validationCacheKey combines the content hash and the catalog hash into the
// key used by both validation result caches.
func validationCacheKey(docHash, catalogHash string) string {
	return docHash + ":" + catalogHash
}

// ============================================================================
// URI Helpers
// ============================================================================

// ValidateAndGetFilePath validates a document URI and converts it to an
// absolute filesystem path. Only file scheme URIs are accepted.
func ValidateAndGetFilePath(uri string, logger *slog.Logger) (string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	parsed, err := url.Parse(uri)
	if err != nil {
		return "", fmt.Errorf("%w: cannot parse URI '%s': %w", ErrInvalidURI, uri, err)
	}
	if parsed.Scheme != "file" {
		return "", fmt.Errorf("%w: unsupported scheme '%s' in URI '%s' (only file:// is supported)", ErrInvalidURI, parsed.Scheme, uri)
	}

	path := parsed.Path
	if runtime.GOOS == "windows" && len(path) > 2 && path[0] == '/' && path[2] == ':' {
		path = path[1:] // Strip leading slash from /C:/... style paths.
	}
	if path == "" {
		return "", fmt.Errorf("%w: URI '%s' has an empty path", ErrInvalidURI, uri)
	}

	absPath, err := filepath.Abs(filepath.FromSlash(path))
	if err != nil {
		logger.Warn("Could not make URI path absolute", "path", path, "error", err)
		return "", fmt.Errorf("%w: cannot resolve path '%s': %w", ErrInvalidURI, path, err)
	}
	return absPath, nil
}

// PathToURI converts an absolute or relative filesystem path to a file URI.
func PathToURI(path string) (DocumentURI, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: cannot resolve path '%s': %w", ErrInvalidURI, path, err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(absPath)}
	return DocumentURI(u.String()), nil
}
