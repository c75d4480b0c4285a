// sorovet/helpers_hover.go
// Contains the hover engine: strict identifier extraction plus vocabulary
// lookup against the rule catalog.
package sorovet

import (
	"log/slog"
	"strings"
)

// ============================================================================
// Hover Engine
// ============================================================================

// Hover returns documentation for the dialect identifier at a byte offset,
// or nil when there is nothing to show. Nothing-to-show is the normal case,
// not an error: the cursor may sit on whitespace or punctuation, the token
// may not be in the vocabulary, or the lookup may miss by case. Matching is
// exact and whole-token only.
func (s *Service) Hover(snap Snapshot, offset int) *HoverInfo {
	logger := s.logger.With("operation", "Hover", "uri", snap.URI, "offset", offset)

	ident, start, end, ok := identifierAt(snap.Text, offset)
	if !ok {
		logger.Debug("No identifier at offset")
		return nil
	}
	rule, ok := s.catalog.DocsFor(ident)
	if !ok {
		logger.Debug("Identifier not in vocabulary", "ident", ident)
		return nil
	}

	markdown := formatRuleForHover(ident, rule, logger)
	if markdown == "" {
		return nil
	}
	hoversServedVar.Add(1)
	return &HoverInfo{
		Ident:    ident,
		Markdown: markdown,
		Range: Range{
			Start: offsetToPosition(snap.Text, start),
			End:   offsetToPosition(snap.Text, end),
		},
		StartOffset: start,
		EndOffset:   end,
	}
}

// formatRuleForHover renders a vocabulary entry as Markdown: a fenced rust
// signature line, a separator, then the prose documentation.
func formatRuleForHover(ident string, rule *Rule, logger *slog.Logger) string {
	if logger == nil {
		logger = slog.Default()
	}
	signature := ident
	if rule.Completion != nil && rule.Completion.Detail != "" {
		signature = rule.Completion.Detail
	}

	var hoverText strings.Builder
	hoverText.WriteString("```rust\n")
	hoverText.WriteString(signature)
	hoverText.WriteString("\n```")

	docs := strings.TrimSpace(rule.Docs)
	if docs != "" {
		hoverText.WriteString("\n\n---\n\n")
		hoverText.WriteString(docs)
	}

	finalContent := hoverText.String()
	if docs == "" && strings.TrimSpace(signature) == "" {
		logger.Debug("No hover content generated (empty signature and no docs)", "rule_id", rule.ID)
		return ""
	}
	return finalContent
}
