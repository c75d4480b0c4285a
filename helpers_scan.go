// sorovet/helpers_scan.go
// Contains the lexical scanner: document text to ordered Scanned Line Records.
package sorovet

import (
	"iter"
	"strings"
)

// ============================================================================
// Lexical Scanner
// ============================================================================

// ScanLines yields one ScannedLine per newline-delimited segment of text,
// in order, including the trailing empty segment after a final newline.
// The sequence is lazy, finite, and restartable; ranging over it again
// rescans from the top. Scanning is total: any input succeeds, and text
// with no recognizable constructs simply produces no matches downstream.
func ScanLines(text string) iter.Seq[ScannedLine] {
	return func(yield func(ScannedLine) bool) {
		rest := text
		index := 0
		for {
			raw, tail, found := strings.Cut(rest, "\n")
			if !yield(ScannedLine{Index: index, Raw: raw, Trimmed: strings.TrimSpace(raw)}) {
				return
			}
			if !found {
				return
			}
			rest = tail
			index++
		}
	}
}

// CollectLines materializes ScanLines for consumers that need random access
// to line windows. Line records are cheap to recompute, so nothing caches
// the result beyond a single analysis pass.
func CollectLines(text string) []ScannedLine {
	// A forward pass over the text counts segments exactly once.
	lines := make([]ScannedLine, 0, strings.Count(text, "\n")+1)
	for line := range ScanLines(text) {
		lines = append(lines, line)
	}
	return lines
}

// LineWindow is the view a rule matcher receives: the full scanned document
// plus the index the matcher is anchored at. Matchers are pure functions of
// the window; they never mutate it.
type LineWindow struct {
	Lines []ScannedLine
	Index int
}

// Current returns the anchor line.
func (w LineWindow) Current() ScannedLine {
	return w.Lines[w.Index]
}

// Prev returns the line immediately above the anchor, if any.
func (w LineWindow) Prev() (ScannedLine, bool) {
	if w.Index == 0 {
		return ScannedLine{}, false
	}
	return w.Lines[w.Index-1], true
}

// Ahead returns up to n lines below the anchor.
func (w LineWindow) Ahead(n int) []ScannedLine {
	start := w.Index + 1
	if start >= len(w.Lines) {
		return nil
	}
	end := start + n
	if end > len(w.Lines) {
		end = len(w.Lines)
	}
	return w.Lines[start:end]
}
