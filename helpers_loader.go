// sorovet/helpers_loader.go
// Contains the loader for the declarative rule catalog: TOML decoding,
// regex compilation, validation, and the embedded default catalog.
package sorovet

import (
	_ "embed"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
)

// catalogSchemaVersion is the schema the loader understands. Bump it when
// the TOML layout changes incompatibly.
const catalogSchemaVersion = 1

// defaultLookaheadWindow bounds how many lines a lookahead matcher scans
// below its anchor before giving up.
const defaultLookaheadWindow = 10

// defaultStopPattern ends a lookahead scan at the first block-closing line.
const defaultStopPattern = `^\}`

//go:embed rules.toml
var embeddedRules []byte

var (
	defaultCatalogOnce sync.Once
	defaultCatalog     *RuleCatalog
	defaultCatalogErr  error
)

// DefaultCatalog loads the embedded rule catalog exactly once and returns
// the shared immutable instance.
func DefaultCatalog() (*RuleCatalog, error) {
	defaultCatalogOnce.Do(func() {
		defaultCatalog, defaultCatalogErr = LoadCatalog(embeddedRules)
	})
	return defaultCatalog, defaultCatalogErr
}

// ============================================================================
// Declarative Catalog Schema
// ============================================================================

// catalogFile mirrors the top level of rules.toml.
type catalogFile struct {
	Schema int        `toml:"schema"`
	Rules  []ruleSpec `toml:"rules"`
}

// ruleSpec mirrors one [[rules]] table before compilation.
type ruleSpec struct {
	ID         string          `toml:"id"`
	Category   string          `toml:"category"`
	Kind       string          `toml:"kind"`
	Severity   string          `toml:"severity"`
	Pattern    string          `toml:"pattern"`
	Unless     string          `toml:"unless"`
	Marker     string          `toml:"marker"`
	Stop       string          `toml:"stop"`
	Window     int             `toml:"window"`
	Message    string          `toml:"message"`
	Docs       string          `toml:"docs"`
	Hover      []string        `toml:"hover"`
	Completion *completionSpec `toml:"completion"`
}

// completionSpec mirrors a [rules.completion] table.
type completionSpec struct {
	Label  string `toml:"label"`
	Insert string `toml:"insert"`
	Kind   string `toml:"kind"`
	Detail string `toml:"detail"`
}

// ============================================================================
// Loading & Compilation
// ============================================================================

// LoadCatalog decodes, validates, and compiles a rule catalog from raw TOML.
// Loading is all-or-nothing: any invalid rule fails the whole catalog, so a
// running service never observes a partially loaded rule set.
func LoadCatalog(data []byte) (*RuleCatalog, error) {
	var cf catalogFile
	if _, err := toml.Decode(string(data), &cf); err != nil {
		return nil, fmt.Errorf("%w: decoding catalog TOML: %w", ErrCatalogLoad, err)
	}
	if cf.Schema != catalogSchemaVersion {
		return nil, fmt.Errorf("%w: unsupported catalog schema %d (want %d)", ErrCatalogLoad, cf.Schema, catalogSchemaVersion)
	}
	if len(cf.Rules) == 0 {
		return nil, fmt.Errorf("%w: catalog contains no rules", ErrCatalogLoad)
	}

	cat := &RuleCatalog{
		rules: make([]*Rule, 0, len(cf.Rules)),
		byID:  make(map[string]*Rule, len(cf.Rules)),
		docs:  make(map[string]*Rule),
		hash:  contentHash(string(data)),
	}
	var validationErrors []error
	for i := range cf.Rules {
		spec := &cf.Rules[i]
		rule, err := compileRule(spec)
		if err != nil {
			validationErrors = append(validationErrors, fmt.Errorf("rule %d (%q): %w", i, spec.ID, err))
			continue
		}
		if _, dup := cat.byID[rule.ID]; dup {
			validationErrors = append(validationErrors, fmt.Errorf("rule %d (%q): duplicate rule ID", i, spec.ID))
			continue
		}
		dupIdent := false
		for _, ident := range rule.Hover {
			if prev, dup := cat.docs[ident]; dup {
				validationErrors = append(validationErrors, fmt.Errorf("rule %d (%q): hover identifier %q already owned by rule %q", i, spec.ID, ident, prev.ID))
				dupIdent = true
			}
		}
		if dupIdent {
			continue
		}

		cat.rules = append(cat.rules, rule)
		cat.byID[rule.ID] = rule
		for _, ident := range rule.Hover {
			cat.docs[ident] = rule
		}
		switch rule.kind {
		case matcherLine, matcherPrecededBy, matcherLookahead:
			cat.lineSet = append(cat.lineSet, rule)
		case matcherDocument:
			cat.docSet = append(cat.docSet, rule)
		case matcherEvidence:
			cat.evidence = append(cat.evidence, rule.evidence)
		}
		if rule.Completion != nil {
			cat.compSet = append(cat.compSet, rule)
		}
	}
	if len(validationErrors) > 0 {
		return nil, fmt.Errorf("%w: %w", ErrCatalogInvalid, errors.Join(validationErrors...))
	}
	return cat, nil
}

// compileRule turns one declarative rule spec into a compiled Rule.
func compileRule(spec *ruleSpec) (*Rule, error) {
	if spec.ID == "" {
		return nil, errors.New("missing rule ID")
	}
	category, err := parseRuleCategory(spec.Category)
	if err != nil {
		return nil, err
	}
	kind := matcherKind(spec.Kind)
	if kind == "" {
		kind = matcherNone
	}

	rule := &Rule{
		ID:       spec.ID,
		Category: category,
		Message:  spec.Message,
		Docs:     spec.Docs,
		Hover:    spec.Hover,
		kind:     kind,
	}
	if len(spec.Hover) > 0 && spec.Docs == "" {
		return nil, errors.New("hover identifiers declared without docs")
	}
	for _, ident := range spec.Hover {
		if ident == "" {
			return nil, errors.New("empty hover identifier")
		}
	}
	if spec.Completion != nil {
		comp, err := compileCompletion(spec.Completion)
		if err != nil {
			return nil, err
		}
		rule.Completion = comp
	}

	switch kind {
	case matcherNone:
		return rule, nil

	case matcherEvidence:
		if category != CategoryImport {
			return nil, errors.New("evidence rules must use the import category")
		}
		re, err := compilePattern("pattern", spec.Pattern)
		if err != nil {
			return nil, err
		}
		rule.evidence = re
		return rule, nil

	case matcherLine, matcherPrecededBy, matcherLookahead, matcherDocument:
		rule.Severity, err = parseSeverity(spec.Severity)
		if err != nil {
			return nil, err
		}
		if spec.Message == "" {
			return nil, errors.New("diagnostic rule missing message")
		}
		anchor, err := compilePattern("pattern", spec.Pattern)
		if err != nil {
			return nil, err
		}
		if strings.Contains(spec.Message, "%s") && anchor.NumSubexp() < 1 {
			return nil, errors.New("message template uses %s but pattern has no capture group")
		}
		switch kind {
		case matcherLine:
			lm := &lineMatcher{pattern: anchor}
			if spec.Unless != "" {
				lm.unless, err = compilePattern("unless", spec.Unless)
				if err != nil {
					return nil, err
				}
			}
			rule.matcher = lm
		case matcherPrecededBy:
			marker, err := compilePattern("marker", spec.Marker)
			if err != nil {
				return nil, err
			}
			rule.matcher = &precededByMatcher{anchor: anchor, marker: marker}
		case matcherLookahead:
			marker, err := compilePattern("marker", spec.Marker)
			if err != nil {
				return nil, err
			}
			stopSrc := spec.Stop
			if stopSrc == "" {
				stopSrc = defaultStopPattern
			}
			stop, err := compilePattern("stop", stopSrc)
			if err != nil {
				return nil, err
			}
			window := spec.Window
			if window == 0 {
				window = defaultLookaheadWindow
			}
			if window < 0 {
				return nil, fmt.Errorf("invalid lookahead window %d", window)
			}
			rule.matcher = &lookaheadMatcher{anchor: anchor, marker: marker, stop: stop, window: window}
		case matcherDocument:
			marker, err := compilePattern("marker", spec.Marker)
			if err != nil {
				return nil, err
			}
			rule.docMatcher = &documentMatcher{anchor: anchor, marker: marker}
		}
		return rule, nil

	default:
		return nil, fmt.Errorf("unknown matcher kind %q", spec.Kind)
	}
}

func compilePattern(field, src string) (*regexp.Regexp, error) {
	if src == "" {
		return nil, fmt.Errorf("missing %s regex", field)
	}
	re, err := regexp.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("compiling %s regex: %w", field, err)
	}
	return re, nil
}

func compileCompletion(spec *completionSpec) (*CompletionSpec, error) {
	if spec.Label == "" {
		return nil, errors.New("completion missing label")
	}
	insert := spec.Insert
	if insert == "" {
		insert = spec.Label
	}
	kind, err := parseCandidateKind(spec.Kind)
	if err != nil {
		return nil, err
	}
	return &CompletionSpec{Label: spec.Label, Insert: insert, Kind: kind, Detail: spec.Detail}, nil
}

func parseRuleCategory(s string) (RuleCategory, error) {
	switch RuleCategory(s) {
	case CategoryAttribute, CategoryType, CategoryCallPattern, CategoryImport:
		return RuleCategory(s), nil
	default:
		return "", fmt.Errorf("unknown rule category %q", s)
	}
}

func parseSeverity(s string) (DiagnosticSeverity, error) {
	switch s {
	case "error":
		return SeverityError, nil
	case "warning":
		return SeverityWarning, nil
	case "info":
		return SeverityInfo, nil
	case "hint":
		return SeverityHint, nil
	default:
		return 0, fmt.Errorf("unknown severity %q", s)
	}
}

func parseCandidateKind(s string) (CandidateKind, error) {
	if s == "" {
		return KindSnippet, nil
	}
	switch CandidateKind(s) {
	case KindSnippet, KindKeyword, KindStruct, KindFunction, KindMethod, KindModule, KindProperty:
		return CandidateKind(s), nil
	default:
		return "", fmt.Errorf("unknown candidate kind %q", s)
	}
}
