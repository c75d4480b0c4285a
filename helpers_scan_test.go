// sorovet/helpers_scan_test.go
package sorovet

import (
	"reflect"
	"testing"
)

func TestScanLines(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []ScannedLine
	}{
		{
			name: "Empty document",
			text: "",
			want: []ScannedLine{{Index: 0, Raw: "", Trimmed: ""}},
		},
		{
			name: "Single line no newline",
			text: "fn main() {}",
			want: []ScannedLine{{Index: 0, Raw: "fn main() {}", Trimmed: "fn main() {}"}},
		},
		{
			name: "Trailing newline yields empty final segment",
			text: "a\n",
			want: []ScannedLine{
				{Index: 0, Raw: "a", Trimmed: "a"},
				{Index: 1, Raw: "", Trimmed: ""},
			},
		},
		{
			name: "Indentation trimmed, raw preserved",
			text: "  let x = 1;\n\tlet y = 2;",
			want: []ScannedLine{
				{Index: 0, Raw: "  let x = 1;", Trimmed: "let x = 1;"},
				{Index: 1, Raw: "\tlet y = 2;", Trimmed: "let y = 2;"},
			},
		},
		{
			name: "CRLF keeps the CR in raw",
			text: "a\r\nb",
			want: []ScannedLine{
				{Index: 0, Raw: "a\r", Trimmed: "a"},
				{Index: 1, Raw: "b", Trimmed: "b"},
			},
		},
		{
			name: "Blank interior lines",
			text: "a\n\nb",
			want: []ScannedLine{
				{Index: 0, Raw: "a", Trimmed: "a"},
				{Index: 1, Raw: "", Trimmed: ""},
				{Index: 2, Raw: "b", Trimmed: "b"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CollectLines(tt.text)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("CollectLines(%q) = %+v, want %+v", tt.text, got, tt.want)
			}
		})
	}
}

func TestScanLinesRestartable(t *testing.T) {
	seq := ScanLines("a\nb\nc")
	first := 0
	for range seq {
		first++
	}
	second := 0
	for range seq {
		second++
	}
	if first != 3 || second != 3 {
		t.Errorf("expected both passes to yield 3 lines, got %d then %d", first, second)
	}
}

func TestScanLinesEarlyStop(t *testing.T) {
	count := 0
	for range ScanLines("a\nb\nc\nd") {
		count++
		if count == 2 {
			break
		}
	}
	if count != 2 {
		t.Errorf("expected early break after 2 lines, ranged over %d", count)
	}
}

func TestLineWindow(t *testing.T) {
	lines := CollectLines("zero\none\ntwo\nthree\nfour")

	t.Run("Current", func(t *testing.T) {
		w := LineWindow{Lines: lines, Index: 2}
		if got := w.Current().Trimmed; got != "two" {
			t.Errorf("Current() = %q, want %q", got, "two")
		}
	})

	t.Run("Prev at document start", func(t *testing.T) {
		w := LineWindow{Lines: lines, Index: 0}
		if _, ok := w.Prev(); ok {
			t.Error("Prev() at index 0 should report ok=false")
		}
	})

	t.Run("Prev mid-document", func(t *testing.T) {
		w := LineWindow{Lines: lines, Index: 3}
		prev, ok := w.Prev()
		if !ok || prev.Trimmed != "two" {
			t.Errorf("Prev() = (%q, %v), want (%q, true)", prev.Trimmed, ok, "two")
		}
	})

	t.Run("Ahead clamps at document end", func(t *testing.T) {
		w := LineWindow{Lines: lines, Index: 3}
		ahead := w.Ahead(10)
		if len(ahead) != 1 || ahead[0].Trimmed != "four" {
			t.Errorf("Ahead(10) = %+v, want single line %q", ahead, "four")
		}
	})

	t.Run("Ahead at last line", func(t *testing.T) {
		w := LineWindow{Lines: lines, Index: 4}
		if ahead := w.Ahead(3); ahead != nil {
			t.Errorf("Ahead(3) at last line = %+v, want nil", ahead)
		}
	})
}
