package variants

import (
	"strings"
	"testing"
)

func TestParseFirstRuneIsCanonical(t *testing.T) {
	n, err := Parse(strings.NewReader("藏蔵\n# comment\n經経经\n\n單\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := n.Canonicalize('蔵'); got != '藏' {
		t.Fatalf("Canonicalize(蔵) = %c, want 藏", got)
	}
	if got := n.Canonicalize('藏'); got != '藏' {
		t.Fatalf("canonical rune must map to itself, got %c", got)
	}
	if got := n.Canonicalize('単'); got != '単' {
		t.Fatalf("single-rune line must be ignored, got %c", got)
	}
	if got := n.Canonicalize('X'); got != 'X' {
		t.Fatalf("unmapped rune must pass through, got %c", got)
	}
}

func TestNormalize(t *testing.T) {
	n, err := Parse(strings.NewReader("藏蔵\n經経经\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := n.Normalize("大蔵経"); got != "大藏經" {
		t.Fatalf("Normalize = %q, want %q", got, "大藏經")
	}
	if got := n.Normalize("plain text"); got != "plain text" {
		t.Fatalf("ascii must be untouched, got %q", got)
	}
}

func TestNeedsNormalizationShortCircuit(t *testing.T) {
	n, err := Parse(strings.NewReader("藏蔵\n"))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !n.NeedsNormalization("abc蔵def") {
		t.Fatalf("expected true for text containing a variant")
	}
	// The canonical rune itself maps to itself; nothing changes.
	if n.NeedsNormalization("abc藏def") {
		t.Fatalf("expected false for canonical-only text")
	}
	if n.NeedsNormalization("abcdef") {
		t.Fatalf("expected false for unmapped text")
	}
}

func TestNilAndEmptyAreIdentity(t *testing.T) {
	var n *Normalizer
	if n.Normalize("蔵") != "蔵" || n.NeedsNormalization("蔵") || n.Canonicalize('蔵') != '蔵' {
		t.Fatalf("nil normalizer must be identity")
	}
	empty := &Normalizer{}
	if empty.Normalize("蔵") != "蔵" || empty.Len() != 0 {
		t.Fatalf("zero-value normalizer must be identity")
	}
}

func TestDefaultTableLoads(t *testing.T) {
	n := Default()
	if n.Len() == 0 {
		t.Fatalf("embedded table is empty")
	}
	if !n.HasVariants("蔵") {
		t.Fatalf("embedded table should cover 蔵")
	}
	if got := n.Normalize("図書"); !strings.ContainsRune(got, '圖') {
		t.Fatalf("expected 図 to canonicalize, got %q", got)
	}
}
