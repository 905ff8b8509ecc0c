// Package export writes the recognized text of a finished run as a plain
// text, Markdown or HTML sidecar. Input is the per-page text collected
// during the run, not the output PDF.
package export

import (
	"bytes"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"strings"

	treeblood "github.com/wyatt915/goldmark-treeblood"
	"github.com/yuin/goldmark"
)

// Format selects an export encoding.
type Format string

const (
	// FormatText writes one section per page, separated by form feeds.
	FormatText Format = "txt"
	// FormatMarkdown writes a heading per page.
	FormatMarkdown Format = "md"
	// FormatHTML renders the Markdown form through goldmark with MathML
	// support, so formula notation in recognized text survives.
	FormatHTML Format = "html"
)

// ParseFormat maps a user-supplied name to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "txt", "text", "plain":
		return FormatText, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "html", "htm":
		return FormatHTML, nil
	}
	return "", fmt.Errorf("export: unknown format %q", s)
}

// Pages holds one document's recognized text keyed by zero-based page index.
// Pages without text (skipped, failed, genuinely blank) are simply absent.
type Pages struct {
	Title string
	Total int
	Texts map[int]string
}

func (p Pages) pageCount() int {
	total := p.Total
	for i := range p.Texts {
		if i >= total {
			total = i + 1
		}
	}
	return total
}

// Render writes the pages to w in the requested format.
func Render(w io.Writer, f Format, p Pages) error {
	switch f {
	case FormatText:
		return renderText(w, p)
	case FormatMarkdown:
		return renderMarkdown(w, p)
	case FormatHTML:
		return renderHTML(w, p)
	}
	return fmt.Errorf("export: unknown format %q", f)
}

// WriteFile renders to path, creating parent directories as needed.
func WriteFile(path string, f Format, p Pages) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	var buf bytes.Buffer
	if err := Render(&buf, f, p); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("export: %w", err)
	}
	return nil
}

// PathFor derives a sidecar path for an output PDF by swapping the extension.
func PathFor(pdfPath string, f Format) string {
	return strings.TrimSuffix(pdfPath, filepath.Ext(pdfPath)) + "." + string(f)
}

// renderText keeps the page structure the way pdftotext does: every page is
// one section and sections are separated by form feeds, so page alignment
// survives even when some pages have no text.
func renderText(w io.Writer, p Pages) error {
	for i := 0; i < p.pageCount(); i++ {
		if i > 0 {
			if _, err := io.WriteString(w, "\f\n"); err != nil {
				return err
			}
		}
		text := strings.TrimRight(p.Texts[i], "\n")
		if text == "" {
			continue
		}
		if _, err := io.WriteString(w, text+"\n"); err != nil {
			return err
		}
	}
	return nil
}

// renderMarkdown emits a heading per page. Recognized text passes through
// unescaped: $$...$$ spans must reach the math renderer intact.
func renderMarkdown(w io.Writer, p Pages) error {
	if p.Title != "" {
		if _, err := fmt.Fprintf(w, "# %s\n", p.Title); err != nil {
			return err
		}
	}
	for i := 0; i < p.pageCount(); i++ {
		if _, err := fmt.Fprintf(w, "\n## Page %d\n", i+1); err != nil {
			return err
		}
		text := strings.TrimRight(p.Texts[i], "\n")
		if text == "" {
			continue
		}
		if _, err := io.WriteString(w, "\n"+text+"\n"); err != nil {
			return err
		}
	}
	return nil
}

func renderHTML(w io.Writer, p Pages) error {
	var src bytes.Buffer
	if err := renderMarkdown(&src, p); err != nil {
		return err
	}

	md := goldmark.New(
		goldmark.WithExtensions(
			treeblood.MathML(),
		),
	)
	var body bytes.Buffer
	if err := md.Convert(src.Bytes(), &body); err != nil {
		return fmt.Errorf("export: render html: %w", err)
	}

	title := p.Title
	if title == "" {
		title = "Recognized text"
	}
	if _, err := fmt.Fprintf(w,
		"<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n<title>%s</title>\n</head>\n<body>\n",
		html.EscapeString(title)); err != nil {
		return err
	}
	if _, err := w.Write(body.Bytes()); err != nil {
		return err
	}
	_, err := io.WriteString(w, "</body>\n</html>\n")
	return err
}
