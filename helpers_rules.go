// sorovet/helpers_rules.go
// Contains the pattern rule set: the compiled rule model, the matcher
// implementations, and the read-only catalog the engines consume.
package sorovet

import (
	"fmt"
	"regexp"
	"strings"
)

// ============================================================================
// Rule Model
// ============================================================================

// matcherKind names the matcher strategies the catalog can declare.
type matcherKind string

const (
	matcherNone       matcherKind = "none"        // Vocabulary-only entry; never emits diagnostics.
	matcherLine       matcherKind = "line"        // Single-line regex match.
	matcherPrecededBy matcherKind = "preceded-by" // Anchor line requires a marker on the line immediately above.
	matcherLookahead  matcherKind = "lookahead"   // Anchor line requires a marker within a bounded window below.
	matcherDocument   matcherKind = "document"    // Anchor present somewhere, marker absent everywhere.
	matcherEvidence   matcherKind = "evidence"    // Matches define dialect evidence; never emits.
)

// RuleMatch carries the span and capture groups of a triggered rule.
type RuleMatch struct {
	Range Range
	Args  []string
}

// Matcher is a pure predicate over a line window. Implementations must not
// mutate the window and must be safe for concurrent use; the bounded-window
// design deliberately stands in for a real parser and stays swappable behind
// this interface.
type Matcher interface {
	Match(w LineWindow) (RuleMatch, bool)
}

// DocumentMatcher is the whole-document analog of Matcher, evaluated once
// per pass after the per-line rules.
type DocumentMatcher interface {
	MatchDocument(lines []ScannedLine) (RuleMatch, bool)
}

// CompletionSpec is the completion payload a rule contributes to the static
// candidate catalog.
type CompletionSpec struct {
	Label  string
	Insert string
	Kind   CandidateKind
	Detail string
}

// Rule is one immutable entry of the pattern rule set: a matcher plus the
// metadata the three engines consume. Rules are loaded once at startup and
// never mutated afterwards.
type Rule struct {
	ID         string
	Category   RuleCategory
	Severity   DiagnosticSeverity
	Message    string
	Docs       string
	Hover      []string
	Completion *CompletionSpec

	kind       matcherKind
	matcher    Matcher
	docMatcher DocumentMatcher
	evidence   *regexp.Regexp
}

// Match reports whether the rule triggers at the window anchor. Rules
// without a per-line matcher never trigger.
func (r *Rule) Match(w LineWindow) (RuleMatch, bool) {
	if r.matcher == nil {
		return RuleMatch{}, false
	}
	return r.matcher.Match(w)
}

// MatchDocument reports whether a whole-document rule triggers.
func (r *Rule) MatchDocument(lines []ScannedLine) (RuleMatch, bool) {
	if r.docMatcher == nil {
		return RuleMatch{}, false
	}
	return r.docMatcher.MatchDocument(lines)
}

// FormatMessage renders the rule's message template with the match captures.
// Templates use at most one %s verb, filled with the first capture group.
func (r *Rule) FormatMessage(args []string) string {
	if len(args) > 0 && strings.Contains(r.Message, "%s") {
		return fmt.Sprintf(r.Message, args[0])
	}
	return r.Message
}

// ============================================================================
// Matcher Implementations
// ============================================================================

// matchSpan converts submatch indices on a trimmed line back into a span on
// the raw line. Engines and matchers share the scanner's trimming rules, so
// the trimmed text always occurs inside the raw text.
func matchSpan(line ScannedLine, loc []int) Range {
	leading := strings.Index(line.Raw, line.Trimmed)
	if leading < 0 {
		leading = 0
	}
	return Range{
		Start: Position{Line: line.Index, Character: leading + loc[0]},
		End:   Position{Line: line.Index, Character: leading + loc[1]},
	}
}

// captureArgs extracts submatch strings from FindStringSubmatchIndex output.
func captureArgs(text string, loc []int) []string {
	if len(loc) <= 2 {
		return nil
	}
	args := make([]string, 0, len(loc)/2-1)
	for i := 2; i < len(loc); i += 2 {
		if loc[i] < 0 {
			args = append(args, "")
			continue
		}
		args = append(args, text[loc[i]:loc[i+1]])
	}
	return args
}

// lineMatcher triggers when a single trimmed line matches the pattern. An
// optional unless pattern suppresses the match on the same line; RE2 has no
// lookahead, so "A without B" is expressed as a pattern/unless pair.
type lineMatcher struct {
	pattern *regexp.Regexp
	unless  *regexp.Regexp
}

func (m *lineMatcher) Match(w LineWindow) (RuleMatch, bool) {
	line := w.Current()
	loc := m.pattern.FindStringSubmatchIndex(line.Trimmed)
	if loc == nil {
		return RuleMatch{}, false
	}
	if m.unless != nil && m.unless.MatchString(line.Trimmed) {
		return RuleMatch{}, false
	}
	return RuleMatch{Range: matchSpan(line, loc), Args: captureArgs(line.Trimmed, loc)}, true
}

// precededByMatcher triggers when the anchor pattern matches but the line
// immediately above does not carry the required marker. The lookbehind is
// exactly one line; intervening lines of any kind defeat it.
type precededByMatcher struct {
	anchor *regexp.Regexp
	marker *regexp.Regexp
}

func (m *precededByMatcher) Match(w LineWindow) (RuleMatch, bool) {
	line := w.Current()
	loc := m.anchor.FindStringSubmatchIndex(line.Trimmed)
	if loc == nil {
		return RuleMatch{}, false
	}
	if prev, ok := w.Prev(); ok && m.marker.MatchString(prev.Trimmed) {
		return RuleMatch{}, false
	}
	return RuleMatch{Range: matchSpan(line, loc), Args: captureArgs(line.Trimmed, loc)}, true
}

// lookaheadMatcher triggers when the anchor pattern matches but the required
// marker does not appear within the bounded window below. Scanning stops at
// the first block-closing line even when the window budget is not exhausted,
// so a nested block can hide a later marker; that is the documented behavior
// of this check, not an oversight to fix.
type lookaheadMatcher struct {
	anchor *regexp.Regexp
	marker *regexp.Regexp
	stop   *regexp.Regexp
	window int
}

func (m *lookaheadMatcher) Match(w LineWindow) (RuleMatch, bool) {
	line := w.Current()
	loc := m.anchor.FindStringSubmatchIndex(line.Trimmed)
	if loc == nil {
		return RuleMatch{}, false
	}
	for _, ahead := range w.Ahead(m.window) {
		if m.marker.MatchString(ahead.Trimmed) {
			return RuleMatch{}, false
		}
		if m.stop.MatchString(ahead.Trimmed) {
			break
		}
	}
	return RuleMatch{Range: matchSpan(line, loc), Args: captureArgs(line.Trimmed, loc)}, true
}

// documentMatcher triggers when the anchor pattern matches some line but the
// marker pattern matches no line anywhere in the document. The resulting
// diagnostic is anchored at document start.
type documentMatcher struct {
	anchor *regexp.Regexp
	marker *regexp.Regexp
}

func (m *documentMatcher) MatchDocument(lines []ScannedLine) (RuleMatch, bool) {
	var args []string
	found := false
	for i := range lines {
		if loc := m.anchor.FindStringSubmatchIndex(lines[i].Trimmed); loc != nil {
			found = true
			args = captureArgs(lines[i].Trimmed, loc)
			break
		}
	}
	if !found {
		return RuleMatch{}, false
	}
	for i := range lines {
		if m.marker.MatchString(lines[i].Trimmed) {
			return RuleMatch{}, false
		}
	}
	return RuleMatch{Range: Range{}, Args: args}, true
}

// ============================================================================
// Rule Catalog
// ============================================================================

// RuleCatalog is the enumerable, versioned-at-load collection of rules. It
// is immutable after loading; every accessor preserves declaration order.
type RuleCatalog struct {
	rules    []*Rule
	byID     map[string]*Rule
	docs     map[string]*Rule
	lineSet  []*Rule
	docSet   []*Rule
	compSet  []*Rule
	evidence []*regexp.Regexp
	hash     string
}

// Rules returns every rule in catalog declaration order.
func (c *RuleCatalog) Rules() []*Rule {
	return c.rules
}

// DiagnosticRules returns the per-line diagnostic rules in declaration order.
func (c *RuleCatalog) DiagnosticRules() []*Rule {
	return c.lineSet
}

// DocumentRules returns the whole-document rules in declaration order.
func (c *RuleCatalog) DocumentRules() []*Rule {
	return c.docSet
}

// CompletionRules returns the rules carrying a completion payload, in
// declaration order. This order fixes the candidate order of the
// Completion Engine.
func (c *RuleCatalog) CompletionRules() []*Rule {
	return c.compSet
}

// RuleByID looks up a rule by its ID.
func (c *RuleCatalog) RuleByID(id string) (*Rule, bool) {
	r, ok := c.byID[id]
	return r, ok
}

// DocsFor looks up the rule documenting an identifier. The lookup is exact:
// case-sensitive, whole token only, no prefix or fuzzy matching.
func (c *RuleCatalog) DocsFor(ident string) (*Rule, bool) {
	r, ok := c.docs[ident]
	return r, ok
}

// HasDialectEvidence reports whether any scanned line matches an evidence
// rule. Documents without evidence are treated as plain host-language files
// and produce no dialect diagnostics at all.
func (c *RuleCatalog) HasDialectEvidence(lines []ScannedLine) bool {
	for i := range lines {
		for _, re := range c.evidence {
			if re.MatchString(lines[i].Trimmed) {
				return true
			}
		}
	}
	return false
}

// Hash returns the SHA256 hex digest of the raw catalog source. It versions
// both caches and changes whenever the declarative rule data changes.
func (c *RuleCatalog) Hash() string {
	return c.hash
}

// Len returns the number of rules in the catalog.
func (c *RuleCatalog) Len() int {
	return len(c.rules)
}
