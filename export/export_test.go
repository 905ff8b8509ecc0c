package export

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func samplePages() Pages {
	return Pages{
		Title: "scan.pdf",
		Total: 3,
		Texts: map[int]string{
			0: "first page words\n",
			2: "third page words",
		},
	}
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"txt":      FormatText,
		"TEXT":     FormatText,
		"plain":    FormatText,
		"md":       FormatMarkdown,
		"Markdown": FormatMarkdown,
		"html":     FormatHTML,
		" htm ":    FormatHTML,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Fatalf("ParseFormat(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("docx"); err == nil {
		t.Fatal("unknown format accepted")
	}
}

func TestRenderText(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatText, samplePages()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	sections := strings.Split(buf.String(), "\f")
	if len(sections) != 3 {
		t.Fatalf("sections = %d, want 3:\n%q", len(sections), buf.String())
	}
	if !strings.Contains(sections[0], "first page words") {
		t.Fatalf("section 0 = %q", sections[0])
	}
	if strings.TrimSpace(sections[1]) != "" {
		t.Fatalf("textless page not empty: %q", sections[1])
	}
	if !strings.Contains(sections[2], "third page words") {
		t.Fatalf("section 2 = %q", sections[2])
	}
}

func TestRenderMarkdown(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatMarkdown, samplePages()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"# scan.pdf", "## Page 1", "## Page 2", "## Page 3", "first page words", "third page words"} {
		if !strings.Contains(out, want) {
			t.Fatalf("markdown missing %q:\n%s", want, out)
		}
	}
	if strings.Index(out, "## Page 1") > strings.Index(out, "first page words") {
		t.Fatal("text before its page heading")
	}
}

func TestRenderHTML(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, FormatHTML, samplePages()); err != nil {
		t.Fatalf("Render: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"<!DOCTYPE html>", "charset=\"utf-8\"", "<title>scan.pdf</title>", "Page 1", "first page words", "</html>"} {
		if !strings.Contains(out, want) {
			t.Fatalf("html missing %q:\n%s", want, out)
		}
	}
}

func TestRenderHTMLKeepsMath(t *testing.T) {
	p := Pages{
		Total: 1,
		Texts: map[int]string{0: "$$E = mc^2$$"},
	}
	var buf bytes.Buffer
	if err := Render(&buf, FormatHTML, p); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(buf.String(), "<math") {
		t.Fatalf("formula not rendered to MathML:\n%s", buf.String())
	}
}

func TestPageCountFromTexts(t *testing.T) {
	p := Pages{Texts: map[int]string{4: "late page"}}
	var buf bytes.Buffer
	if err := Render(&buf, FormatText, p); err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got := strings.Count(buf.String(), "\f"); got != 4 {
		t.Fatalf("form feeds = %d, want 4", got)
	}
}

func TestWriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "scan_ocr.md")
	if err := WriteFile(path, FormatMarkdown, samplePages()); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !strings.Contains(string(data), "## Page 3") {
		t.Fatalf("content = %q", data)
	}
}

func TestPathFor(t *testing.T) {
	if got := PathFor("/out/scan_ocr.pdf", FormatHTML); got != "/out/scan_ocr.html" {
		t.Fatalf("PathFor = %q", got)
	}
	if got := PathFor("plain", FormatText); got != "plain.txt" {
		t.Fatalf("PathFor = %q", got)
	}
}

func TestUnknownFormatRejected(t *testing.T) {
	var buf bytes.Buffer
	if err := Render(&buf, Format("docx"), samplePages()); err == nil {
		t.Fatal("unknown format accepted")
	}
}
