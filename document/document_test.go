package document

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/ocrkit/ocr"
)

// writePDF emits a minimal n-page PDF with computed xref offsets so pdfcpu
// accepts it without repair.
func writePDF(t *testing.T, path string, pages int, width, height float64) {
	t.Helper()
	var buf bytes.Buffer
	var offsets []int
	obj := func(body string) {
		offsets = append(offsets, buf.Len())
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", len(offsets), body)
	}

	buf.WriteString("%PDF-1.4\n")
	kids := make([]string, pages)
	for i := range kids {
		kids[i] = fmt.Sprintf("%d 0 R", 3+i)
	}
	obj("<</Type /Catalog /Pages 2 0 R>>")
	obj(fmt.Sprintf("<</Type /Pages /Kids [%s] /Count %d>>", strings.Join(kids, " "), pages))
	for i := 0; i < pages; i++ {
		obj(fmt.Sprintf("<</Type /Page /Parent 2 0 R /MediaBox [0 0 %g %g] /Resources <<>> /Contents %d 0 R>>",
			width, height, 3+pages))
	}
	obj("<</Length 0>>\nstream\n\nendstream")

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n0000000000 65535 f \n", len(offsets)+1)
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<</Size %d /Root 1 0 R>>\nstartxref\n%d\n%%%%EOF\n", len(offsets)+1, xref)

	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
}

func TestOpenDefaults(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.pdf")
	writePDF(t, src, 3, 612, 792)

	doc, err := Open(src)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if doc.PageCount != 3 {
		t.Fatalf("page count = %d, want 3", doc.PageCount)
	}
	if want := filepath.Join(dir, "scan_ocr.pdf"); doc.OutputPath != want {
		t.Fatalf("output path = %s, want %s", doc.OutputPath, want)
	}
	if doc.DPI != DefaultDPI || doc.Workers != DefaultWorkers {
		t.Fatalf("unexpected defaults: dpi=%d workers=%d", doc.DPI, doc.Workers)
	}
	if !doc.Resume || doc.ForceRerun {
		t.Fatalf("unexpected resume defaults: resume=%v force=%v", doc.Resume, doc.ForceRerun)
	}
	if doc.Profile != ocr.ProfileBalanced {
		t.Fatalf("profile = %s, want balanced", doc.Profile)
	}
	if len(doc.PageDims) != 3 {
		t.Fatalf("page dims = %d entries, want 3", len(doc.PageDims))
	}
	if doc.PageDims[0].Width != 612 || doc.PageDims[0].Height != 792 {
		t.Fatalf("unexpected first page dims: %+v", doc.PageDims[0])
	}
}

func TestOpenOptions(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "scan.pdf")
	writePDF(t, src, 1, 595, 842)

	out := filepath.Join(dir, "custom.pdf")
	doc, err := Open(src,
		WithOutputPath(out),
		WithProfile(ocr.ProfilePrecise),
		WithDPI(150),
		WithWorkers(2),
		WithResume(false),
		WithForceRerun(true),
		WithLanguages("chi_tra", "eng"),
		WithKeepCheckpoint(true),
	)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if doc.OutputPath != out {
		t.Fatalf("output path = %s, want %s", doc.OutputPath, out)
	}
	if doc.Profile != ocr.ProfilePrecise || doc.DPI != 150 || doc.Workers != 2 {
		t.Fatalf("options not applied: %+v", doc)
	}
	if doc.Resume || !doc.ForceRerun || !doc.KeepCheckpoint {
		t.Fatalf("flags not applied: %+v", doc)
	}
	if len(doc.Languages) != 2 || doc.Languages[0] != "chi_tra" {
		t.Fatalf("languages not applied: %v", doc.Languages)
	}
}

func TestOpenMissingFile(t *testing.T) {
	if _, err := Open(filepath.Join(t.TempDir(), "absent.pdf")); err == nil {
		t.Fatal("expected error for missing source")
	}
}

func TestOutputPath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"book.pdf", "book_ocr.pdf"},
		{"/a/b/scan.PDF", "/a/b/scan_ocr.PDF"},
		{"noext", "noext_ocr"},
	}
	for _, tc := range cases {
		if got := OutputPath(tc.in); got != tc.want {
			t.Fatalf("OutputPath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestOutcomeTransitions(t *testing.T) {
	if OutcomePending.Terminal() {
		t.Fatal("pending must not be terminal")
	}
	for _, o := range []Outcome{OutcomeDone, OutcomeSkipped, OutcomeFailed} {
		if !o.Terminal() {
			t.Fatalf("%s must be terminal", o)
		}
		if !OutcomePending.CanBecome(o) {
			t.Fatalf("pending must allow %s", o)
		}
		if o.CanBecome(OutcomePending) {
			t.Fatalf("%s must not regress to pending", o)
		}
	}
	if OutcomeDone.CanBecome(OutcomeFailed) {
		t.Fatal("done must not become failed")
	}
	if !OutcomeDone.CanBecome(OutcomeDone) {
		t.Fatal("same-outcome re-mark must be allowed")
	}
}

func TestStateTerminal(t *testing.T) {
	terminal := map[State]bool{
		StatePending:               false,
		StateProcessing:            false,
		StateCompleted:             true,
		StateCompletedWithWarnings: true,
		StateFailed:                true,
	}
	for s, want := range terminal {
		if s.Terminal() != want {
			t.Fatalf("State(%s).Terminal() = %v, want %v", s, !want, want)
		}
	}
}

func TestDocumentDimFallback(t *testing.T) {
	doc := &Document{PageDims: []Dim{{Width: 595, Height: 842}}}
	if d := doc.Dim(0); d.Width != 595 {
		t.Fatalf("unexpected dim: %+v", d)
	}
	if d := doc.Dim(7); d.Width != 612 || d.Height != 792 {
		t.Fatalf("fallback dim = %+v, want letter", d)
	}
}
