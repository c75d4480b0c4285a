// sorovet/helpers_completion_test.go
package sorovet

import (
	"errors"
	"reflect"
	"testing"
)

func TestComplete(t *testing.T) {
	svc := newTestService(t)
	snap := Snapshot{URI: "file:///tmp/lib.rs", Text: "use soroban_sdk::Env;\n", Version: 1}

	t.Run("Candidates follow catalog declaration order", func(t *testing.T) {
		candidates := svc.Complete(snap, Position{Line: 0, Character: 0})
		if len(candidates) == 0 {
			t.Fatal("expected a non-empty candidate catalog")
		}
		rules := svc.Catalog().CompletionRules()
		if len(candidates) != len(rules) {
			t.Fatalf("got %d candidates, catalog has %d completion rules", len(candidates), len(rules))
		}
		for i, cand := range candidates {
			if cand.ResolveKey != rules[i].ID {
				t.Errorf("candidate %d resolve key = %q, want %q", i, cand.ResolveKey, rules[i].ID)
			}
			if cand.Label == "" || cand.InsertText == "" {
				t.Errorf("candidate %d (%q) has empty label or insert text", i, cand.ResolveKey)
			}
			if cand.Documentation != "" {
				t.Errorf("candidate %d (%q) carries documentation before resolve", i, cand.ResolveKey)
			}
		}
	})

	t.Run("Position independent", func(t *testing.T) {
		a := svc.Complete(snap, Position{Line: 0, Character: 0})
		b := svc.Complete(snap, Position{Line: 0, Character: 12})
		other := Snapshot{URI: "file:///tmp/other.rs", Text: "fn main() {}\n", Version: 3}
		c := svc.Complete(other, Position{Line: 0, Character: 5})
		if !reflect.DeepEqual(a, b) || !reflect.DeepEqual(a, c) {
			t.Error("candidate list varied with position or document")
		}
	})
}

func TestResolveCompletion(t *testing.T) {
	svc := newTestService(t)

	t.Run("Resolve fills docs and detail", func(t *testing.T) {
		resolved, err := svc.ResolveCompletion("type-address")
		if err != nil {
			t.Fatalf("ResolveCompletion failed: %v", err)
		}
		if resolved.Label != "Address" {
			t.Errorf("label = %q, want Address", resolved.Label)
		}
		if resolved.Detail == "" {
			t.Error("resolved candidate has no detail")
		}
		if resolved.Documentation == "" {
			t.Error("resolved candidate has no documentation")
		}
	})

	t.Run("Resolve is idempotent", func(t *testing.T) {
		first, err := svc.ResolveCompletion("attr-contractimpl")
		if err != nil {
			t.Fatalf("first resolve failed: %v", err)
		}
		second, err := svc.ResolveCompletion("attr-contractimpl")
		if err != nil {
			t.Fatalf("second resolve failed: %v", err)
		}
		if !reflect.DeepEqual(first, second) {
			t.Errorf("repeated resolve differed: %+v vs %+v", first, second)
		}
	})

	t.Run("Unknown key", func(t *testing.T) {
		_, err := svc.ResolveCompletion("no-such-rule")
		if !errors.Is(err, ErrRuleNotFound) {
			t.Errorf("error = %v, want errors.Is(ErrRuleNotFound)", err)
		}
	})

	t.Run("Rule without completion payload", func(t *testing.T) {
		// Diagnostic-only rules resolve like unknown keys.
		_, err := svc.ResolveCompletion("contract-attribute-missing")
		if !errors.Is(err, ErrRuleNotFound) {
			t.Errorf("error = %v, want errors.Is(ErrRuleNotFound)", err)
		}
	})

	t.Run("Every served candidate resolves", func(t *testing.T) {
		snap := Snapshot{URI: "file:///tmp/lib.rs", Text: "", Version: 1}
		for _, cand := range svc.Complete(snap, Position{}) {
			resolved, err := svc.ResolveCompletion(cand.ResolveKey)
			if err != nil {
				t.Errorf("candidate %q failed to resolve: %v", cand.ResolveKey, err)
				continue
			}
			if resolved.Label != cand.Label || resolved.InsertText != cand.InsertText {
				t.Errorf("resolve changed identity fields for %q", cand.ResolveKey)
			}
		}
	})
}
