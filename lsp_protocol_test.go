// sorovet/lsp_protocol_test.go
package sorovet

import (
	"errors"
	"testing"
)

func TestCandidateKindToLSP(t *testing.T) {
	tests := []struct {
		in   CandidateKind
		want CompletionItemKind
	}{
		{KindKeyword, CompletionItemKindKeyword},
		{KindStruct, CompletionItemKindStruct},
		{KindFunction, CompletionItemKindFunction},
		{KindMethod, CompletionItemKindMethod},
		{KindModule, CompletionItemKindModule},
		{KindProperty, CompletionItemKindProperty},
		{KindSnippet, CompletionItemKindSnippet},
		{CandidateKind("mystery"), CompletionItemKindText},
	}
	for _, tt := range tests {
		if got := candidateKindToLSP(tt.in); got != tt.want {
			t.Errorf("candidateKindToLSP(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestSeverityToLSP(t *testing.T) {
	tests := []struct {
		in   DiagnosticSeverity
		want LspDiagnosticSeverity
	}{
		{SeverityError, LspSeverityError},
		{SeverityWarning, LspSeverityWarning},
		{SeverityInfo, LspSeverityInfo},
		{SeverityHint, LspSeverityHint},
		{DiagnosticSeverity(0), LspSeverityError},
	}
	for _, tt := range tests {
		if got := severityToLSP(tt.in); got != tt.want {
			t.Errorf("severityToLSP(%d) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestInternalPositionToLSP(t *testing.T) {
	content := []byte("plain\ntext 世界 here\nlast")
	tests := []struct {
		name    string
		pos     Position
		want    LSPPosition
		wantErr bool
	}{
		{"Origin", Position{Line: 0, Character: 0}, LSPPosition{Line: 0, Character: 0}, false},
		{"ASCII column", Position{Line: 0, Character: 3}, LSPPosition{Line: 0, Character: 3}, false},
		{"Column after multibyte runes", Position{Line: 1, Character: 11}, LSPPosition{Line: 1, Character: 7}, false},
		{"Column clamps to line end", Position{Line: 0, Character: 99}, LSPPosition{Line: 0, Character: 5}, false},
		{"Final line", Position{Line: 2, Character: 4}, LSPPosition{Line: 2, Character: 4}, false},
		{"Line out of range", Position{Line: 7, Character: 0}, LSPPosition{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := internalPositionToLSP(content, tt.pos, testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrPositionOutOfRange) {
					t.Errorf("error = %v, want errors.Is(ErrPositionOutOfRange)", err)
				}
				return
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestInternalRangeToLSPRange(t *testing.T) {
	content := []byte("use soroban_sdk::Env;\n")
	r := Range{
		Start: Position{Line: 0, Character: 4},
		End:   Position{Line: 0, Character: 15},
	}
	lspRange, err := internalRangeToLSPRange(content, r, testLogger())
	if err != nil {
		t.Fatalf("internalRangeToLSPRange failed: %v", err)
	}
	want := LSPRange{
		Start: LSPPosition{Line: 0, Character: 4},
		End:   LSPPosition{Line: 0, Character: 15},
	}
	if *lspRange != want {
		t.Errorf("got %+v, want %+v", *lspRange, want)
	}
}

func TestByteOffsetToLSPPosition(t *testing.T) {
	content := []byte("ab\nc世d\nef")
	tests := []struct {
		name     string
		offset   int
		wantLine uint32
		wantChar uint32
		wantErr  bool
	}{
		{"Start", 0, 0, 0, false},
		{"Before first newline", 2, 0, 2, false},
		{"Start of second line", 3, 1, 0, false},
		{"After multibyte rune", 7, 1, 2, false}, // c + 世 (3 bytes, 1 UTF-16 unit)
		{"Last line", 9, 2, 0, false},
		{"Past EOF clamps", 100, 2, 2, false},
		{"Negative offset errors", -1, 0, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			line, char, err := byteOffsetToLSPPosition(content, tt.offset, testLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if line != tt.wantLine || char != tt.wantChar {
				t.Errorf("got (%d, %d), want (%d, %d)", line, char, tt.wantLine, tt.wantChar)
			}
		})
	}
}

func TestBytesToUTF16Offset(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want int
	}{
		{"Empty", "", 0},
		{"ASCII", "hello", 5},
		{"BMP multibyte", "世界", 2},
		{"Surrogate pair", "😀", 2},
		{"Mixed", "a世😀b", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bytesToUTF16Offset([]byte(tt.in), testLogger())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("bytesToUTF16Offset(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}

	t.Run("Invalid UTF-8", func(t *testing.T) {
		if _, err := bytesToUTF16Offset([]byte{0xff, 0xfe}, testLogger()); !errors.Is(err, ErrInvalidUTF8) {
			t.Errorf("error = %v, want errors.Is(ErrInvalidUTF8)", err)
		}
	})
}
