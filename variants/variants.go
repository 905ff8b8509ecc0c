// Package variants maps variant CJK characters (異體字) to canonical forms
// so text recognized from old scans matches searches using either form.
package variants

import (
	"bufio"
	"bytes"
	_ "embed"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

//go:embed table.txt
var embedded []byte

var (
	defaultOnce sync.Once
	defaultNorm *Normalizer
)

// Normalizer answers variant-character lookups. The zero value and a nil
// pointer are valid and behave as identity.
type Normalizer struct {
	canon map[rune]rune
}

// Default returns the normalizer backed by the embedded starter table.
func Default() *Normalizer {
	defaultOnce.Do(func() {
		n, err := Parse(bytes.NewReader(embedded))
		if err != nil {
			n = &Normalizer{}
		}
		defaultNorm = n
	})
	return defaultNorm
}

// Load reads a variant table from disk.
func Load(path string) (*Normalizer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open variant table: %w", err)
	}
	defer f.Close()
	n, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse variant table %s: %w", path, err)
	}
	return n, nil
}

// Parse reads a variant table. Each non-empty line is one equivalence
// class: the first rune is the canonical form and every rune on the line,
// including the first, maps to it. Lines with fewer than two runes and
// lines starting with '#' are ignored.
func Parse(r io.Reader) (*Normalizer, error) {
	canon := make(map[rune]rune)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		runes := []rune(line)
		if len(runes) < 2 {
			continue
		}
		canonical := runes[0]
		for _, c := range runes {
			canon[c] = canonical
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return &Normalizer{canon: canon}, nil
}

// Canonicalize returns the canonical form of r, or r itself when unmapped.
func (n *Normalizer) Canonicalize(r rune) rune {
	if n == nil || n.canon == nil {
		return r
	}
	if c, ok := n.canon[r]; ok {
		return c
	}
	return r
}

// Normalize rewrites every mapped rune in s to its canonical form.
func (n *Normalizer) Normalize(s string) string {
	if n == nil || len(n.canon) == 0 {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		b.WriteRune(n.Canonicalize(r))
	}
	return b.String()
}

// NeedsNormalization reports whether Normalize(s) would differ from s.
// It short-circuits on the first rune whose canonical form differs.
func (n *Normalizer) NeedsNormalization(s string) bool {
	if n == nil || len(n.canon) == 0 {
		return false
	}
	for _, r := range s {
		if c, ok := n.canon[r]; ok && c != r {
			return true
		}
	}
	return false
}

// HasVariants reports whether any rune of s appears in the table at all.
func (n *Normalizer) HasVariants(s string) bool {
	if n == nil || len(n.canon) == 0 {
		return false
	}
	for _, r := range s {
		if _, ok := n.canon[r]; ok {
			return true
		}
	}
	return false
}

// Len returns the number of mapped runes.
func (n *Normalizer) Len() int {
	if n == nil {
		return 0
	}
	return len(n.canon)
}
