package admit

import (
	"fmt"
	"io"
	"os"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// TextBytes measures how much text the source page already shows: it
// extracts the page's decompressed content stream and sums the payload of
// string operands feeding Tj, TJ, ' and " operators. Scanned pages come out
// at zero.
func TextBytes(path string, pageIndex int) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r, err := api.ExtractPageContent(f, pageIndex+1, nil)
	if err != nil {
		return 0, fmt.Errorf("extract page %d content: %w", pageIndex+1, err)
	}
	if r == nil {
		return 0, nil
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("read page %d content: %w", pageIndex+1, err)
	}
	return countTextBytes(content), nil
}

// countTextBytes scans content-stream tokens. String payload accumulates
// until the next operator; text-showing operators commit it, everything
// else discards it. Operands always precede their operator, so a single
// pending counter is enough.
func countTextBytes(content []byte) int {
	total := 0
	pending := 0
	i := 0
	for i < len(content) {
		c := content[i]
		switch {
		case c == '(':
			n, adv := literalStringLen(content[i:])
			pending += n
			i += adv
		case c == '<':
			if i+1 < len(content) && content[i+1] == '<' {
				i += 2
				continue
			}
			n, adv := hexStringLen(content[i:])
			pending += n
			i += adv
		case c == '/':
			i++
			for i < len(content) && isRegular(content[i]) {
				i++
			}
		case c == '%':
			for i < len(content) && content[i] != '\n' && content[i] != '\r' {
				i++
			}
		case isOperatorByte(c):
			start := i
			for i < len(content) && isOperatorByte(content[i]) {
				i++
			}
			switch string(content[start:i]) {
			case "Tj", "TJ", "'", "\"":
				total += pending
			}
			pending = 0
		default:
			i++
		}
	}
	return total
}

// literalStringLen measures a (..) string starting at b[0], returning the
// decoded payload length and the bytes consumed.
func literalStringLen(b []byte) (int, int) {
	depth := 0
	n := 0
	i := 0
	for i < len(b) {
		switch b[i] {
		case '\\':
			i++
			if i < len(b) && b[i] >= '0' && b[i] <= '7' {
				// Octal escape, up to three digits for one byte.
				for d := 0; d < 3 && i < len(b) && b[i] >= '0' && b[i] <= '7'; d++ {
					i++
				}
			} else {
				i++
			}
			n++
			continue
		case '(':
			depth++
			if depth > 1 {
				n++
			}
		case ')':
			depth--
			if depth == 0 {
				return n, i + 1
			}
			n++
		default:
			if depth >= 1 {
				n++
			}
		}
		i++
	}
	return n, i
}

// hexStringLen measures a <..> string starting at b[0].
func hexStringLen(b []byte) (int, int) {
	digits := 0
	for i := 1; i < len(b); i++ {
		c := b[i]
		if c == '>' {
			return (digits + 1) / 2, i + 1
		}
		if isHexDigit(c) {
			digits++
		}
	}
	return (digits + 1) / 2, len(b)
}

func isOperatorByte(c byte) bool {
	return c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c == '\'' || c == '"' || c == '*'
}

func isRegular(c byte) bool {
	switch c {
	case 0, '\t', '\n', '\f', '\r', ' ', '(', ')', '<', '>', '[', ']', '{', '}', '/', '%':
		return false
	}
	return true
}

func isHexDigit(c byte) bool {
	return c >= '0' && c <= '9' || c >= 'a' && c <= 'f' || c >= 'A' && c <= 'F'
}
