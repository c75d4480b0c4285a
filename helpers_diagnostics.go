// sorovet/helpers_diagnostics.go
// Contains the diagnostic engine: one full validation pass per document
// snapshot, backed by the rule catalog and the two-tier result cache.
package sorovet

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
)

// ============================================================================
// Validation Entry Point
// ============================================================================

// Validate produces the complete diagnostic set for a document snapshot.
// Results replace any previous set wholesale; callers must not merge them.
// The returned slice is always non-nil so "no findings" publishes as an
// empty set rather than a missing one.
//
// Caching is keyed by (content hash, catalog hash) and is strictly
// fail-open: any cache fault degrades to a fresh pass.
func (s *Service) Validate(ctx context.Context, snap Snapshot, settings DocumentSettings) []Diagnostic {
	logger := s.logger.With("operation", "Validate", "uri", snap.URI, "version", snap.Version)

	if !settings.DiagnosticsEnabled {
		logger.Debug("Diagnostics disabled for document, returning empty set")
		return []Diagnostic{}
	}
	if err := ctx.Err(); err != nil {
		logger.Debug("Validation cancelled before start", "error", err)
		return []Diagnostic{}
	}

	docHash := contentHash(snap.Text)
	catalogHash := s.catalog.Hash()
	key := validationCacheKey(docHash, catalogHash)

	if diags, ok := s.memCache.get(key); ok {
		logger.Debug("Validation served from memory cache", "count", len(diags))
		validationCachedVar.Add(1)
		return cloneDiagnostics(diags)
	}
	if diags, ok := s.disk.get(key, catalogHash, docHash); ok {
		logger.Debug("Validation served from disk cache", "count", len(diags))
		validationCachedVar.Add(1)
		s.memCache.set(key, diags)
		return cloneDiagnostics(diags)
	}

	diags := runValidationPass(s.catalog, snap.Text, logger)
	validationPassesVar.Add(1)
	diagnosticsEmittedVar.Add(int64(len(diags)))

	s.memCache.set(key, diags)
	s.disk.set(key, catalogHash, docHash, diags)
	logger.Debug("Validation pass complete", "count", len(diags))
	return cloneDiagnostics(diags)
}

// cloneDiagnostics copies a diagnostic slice so cached values stay immutable.
func cloneDiagnostics(diags []Diagnostic) []Diagnostic {
	out := make([]Diagnostic, len(diags))
	copy(out, diags)
	return out
}

// ============================================================================
// Validation Pass
// ============================================================================

// runValidationPass executes the structural rules against a document. The
// pass walks lines in order and evaluates per-line rules in catalog
// declaration order at each line, so the output is deterministically ordered
// by line then rule; whole-document rules come last, anchored at document
// start. Documents without dialect evidence produce no diagnostics at all.
func runValidationPass(catalog *RuleCatalog, text string, logger *slog.Logger) []Diagnostic {
	if logger == nil {
		logger = slog.Default()
	}
	diags := []Diagnostic{}

	lines := CollectLines(text)
	if !catalog.HasDialectEvidence(lines) {
		logger.Debug("No dialect evidence found, skipping all rules")
		return diags
	}

	lineRules := catalog.DiagnosticRules()
	for i := range lines {
		window := LineWindow{Lines: lines, Index: i}
		for _, rule := range lineRules {
			match, ok := safeMatch(rule, window, logger)
			if !ok {
				continue
			}
			diags = append(diags, Diagnostic{
				Range:    match.Range,
				Severity: rule.Severity,
				Code:     rule.ID,
				Source:   diagnosticSource,
				Message:  rule.FormatMessage(match.Args),
			})
		}
	}

	for _, rule := range catalog.DocumentRules() {
		match, ok := safeMatchDocument(rule, lines, logger)
		if !ok {
			continue
		}
		diags = append(diags, Diagnostic{
			Range:    match.Range,
			Severity: rule.Severity,
			Code:     rule.ID,
			Source:   diagnosticSource,
			Message:  rule.FormatMessage(match.Args),
		})
	}
	return diags
}

// safeMatch evaluates one per-line rule with panic isolation. A panicking
// rule is counted and skipped; the rest of the pass proceeds.
func safeMatch(rule *Rule, w LineWindow, logger *slog.Logger) (match RuleMatch, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ruleFaultsVar.Add(1)
			logger.Error("PANIC recovered while evaluating rule",
				"rule_id", rule.ID,
				"line", w.Index,
				"panic_value", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
			match, ok = RuleMatch{}, false
		}
	}()
	return rule.Match(w)
}

// safeMatchDocument is safeMatch for whole-document rules.
func safeMatchDocument(rule *Rule, lines []ScannedLine, logger *slog.Logger) (match RuleMatch, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ruleFaultsVar.Add(1)
			logger.Error("PANIC recovered while evaluating document rule",
				"rule_id", rule.ID,
				"panic_value", fmt.Sprintf("%v", r),
				"stack", string(debug.Stack()))
			match, ok = RuleMatch{}, false
		}
	}()
	return rule.MatchDocument(lines)
}
