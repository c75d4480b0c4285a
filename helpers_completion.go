// sorovet/helpers_completion.go
// Contains the completion engine: the static candidate catalog and the lazy
// resolve step.
package sorovet

import "fmt"

// ============================================================================
// Completion Engine
// ============================================================================

// Complete returns the full static candidate catalog in rule declaration
// order. The result is position-independent: the same list comes back for
// any position in any document, and the client filters as the user types.
// The position parameter exists only to honor the request shape.
func (s *Service) Complete(snap Snapshot, pos Position) []CompletionCandidate {
	rules := s.catalog.CompletionRules()
	candidates := make([]CompletionCandidate, 0, len(rules))
	for _, rule := range rules {
		candidates = append(candidates, CompletionCandidate{
			Label:      rule.Completion.Label,
			InsertText: rule.Completion.Insert,
			Kind:       rule.Completion.Kind,
			Category:   rule.Category,
			ResolveKey: rule.ID,
		})
	}
	completionsServedVar.Add(1)
	s.logger.Debug("Served completion candidates",
		"uri", snap.URI, "line", pos.Line, "count", len(candidates))
	return candidates
}

// ResolveCompletion fills in the documentation payload for a previously
// returned candidate, keyed by its rule ID. Resolution is idempotent: the
// same key always yields the same fully populated candidate. Unknown keys
// return ErrRuleNotFound; clients then fall back to the unresolved item.
func (s *Service) ResolveCompletion(key string) (CompletionCandidate, error) {
	rule, ok := s.catalog.RuleByID(key)
	if !ok || rule.Completion == nil {
		return CompletionCandidate{}, fmt.Errorf("%w: no completion rule %q", ErrRuleNotFound, key)
	}
	resolutionsServedVar.Add(1)
	return CompletionCandidate{
		Label:         rule.Completion.Label,
		Detail:        rule.Completion.Detail,
		Documentation: rule.Docs,
		InsertText:    rule.Completion.Insert,
		Kind:          rule.Completion.Kind,
		Category:      rule.Category,
		ResolveKey:    rule.ID,
	}, nil
}
