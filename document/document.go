// Package document describes one OCR job over a single source PDF: the
// admitted job parameters, per-page outcomes, and the document lifecycle
// states reported by the task manager.
package document

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/wudi/ocrkit/ocr"
)

// DefaultOutputSuffix is inserted before the extension when no explicit
// output path is given: book.pdf becomes book_ocr.pdf.
const DefaultOutputSuffix = "_ocr"

const (
	DefaultDPI     = 300
	DefaultWorkers = 4
)

// Dim is a page media-box size in PDF points.
type Dim struct {
	Width  float64
	Height float64
}

// Document is one processing job over a single source PDF. It is created on
// admission and owned by the task manager until a terminal state is reached.
type Document struct {
	SourcePath string
	OutputPath string
	// PageCount is read from the source on admission. The output must realize
	// exactly this many pages.
	PageCount int
	// PageDims holds per-page media-box sizes in points, index-aligned with
	// pages. They drive the renderer's adaptive DPI clamp.
	PageDims       []Dim
	Profile        ocr.Profile
	DPI            int
	Workers        int
	Resume         bool
	ForceRerun     bool
	Languages      []string
	KeepCheckpoint bool
}

// Option adjusts an admitted document.
type Option func(*Document)

// WithOutputPath overrides the derived output location.
func WithOutputPath(path string) Option {
	return func(d *Document) { d.OutputPath = path }
}

// WithProfile selects the recognition quality profile.
func WithProfile(p ocr.Profile) Option {
	return func(d *Document) { d.Profile = p }
}

// WithDPI sets the requested render resolution. The renderer may lower it
// per page to respect its pixel caps.
func WithDPI(dpi int) Option {
	return func(d *Document) { d.DPI = dpi }
}

// WithWorkers sets the concurrency limit for page processing.
func WithWorkers(n int) Option {
	return func(d *Document) { d.Workers = n }
}

// WithResume controls whether an existing digest-matching checkpoint is
// reused. On by default.
func WithResume(resume bool) Option {
	return func(d *Document) { d.Resume = resume }
}

// WithForceRerun discards any existing checkpoint and processes every page.
func WithForceRerun(force bool) Option {
	return func(d *Document) { d.ForceRerun = force }
}

// WithLanguages sets the recognition language hints.
func WithLanguages(langs ...string) Option {
	return func(d *Document) { d.Languages = langs }
}

// WithKeepCheckpoint retains the checkpoint file after a successful run.
func WithKeepCheckpoint(keep bool) Option {
	return func(d *Document) { d.KeepCheckpoint = keep }
}

// Open validates the source PDF and admits it as a processing job. Page
// count and media-box dimensions are read up front so later stages never
// re-open the source for structure.
func Open(path string, opts ...Option) (*Document, error) {
	doc := &Document{
		SourcePath: path,
		Profile:    ocr.ProfileBalanced,
		DPI:        DefaultDPI,
		Workers:    DefaultWorkers,
		Resume:     true,
		Languages:  []string{"eng"},
	}
	for _, opt := range opts {
		opt(doc)
	}

	count, err := api.PageCountFile(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	if count < 1 {
		return nil, fmt.Errorf("open %s: document has no pages", path)
	}
	doc.PageCount = count

	dims, err := api.PageDimsFile(path)
	if err != nil {
		return nil, fmt.Errorf("read page dimensions of %s: %w", path, err)
	}
	doc.PageDims = make([]Dim, len(dims))
	for i, d := range dims {
		doc.PageDims[i] = Dim{Width: d.Width, Height: d.Height}
	}

	if doc.OutputPath == "" {
		doc.OutputPath = OutputPath(path)
	}
	if doc.DPI <= 0 {
		doc.DPI = DefaultDPI
	}
	if doc.Workers <= 0 {
		doc.Workers = DefaultWorkers
	}
	return doc, nil
}

// OutputPath derives the default output location for a source path.
func OutputPath(source string) string {
	ext := filepath.Ext(source)
	return strings.TrimSuffix(source, ext) + DefaultOutputSuffix + ext
}

// Dim returns the media-box size for a page, falling back to US Letter when
// the index has no recorded dimensions.
func (d *Document) Dim(pageIndex int) Dim {
	if pageIndex >= 0 && pageIndex < len(d.PageDims) {
		return d.PageDims[pageIndex]
	}
	return Dim{Width: 612, Height: 792}
}

// Outcome is the per-page processing verdict.
type Outcome string

const (
	OutcomePending Outcome = "pending"
	OutcomeDone    Outcome = "done"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Terminal reports whether the outcome is final for the current run.
func (o Outcome) Terminal() bool {
	switch o {
	case OutcomeDone, OutcomeSkipped, OutcomeFailed:
		return true
	}
	return false
}

// CanBecome reports whether a page may move from o to next. Outcomes only
// move forward: a page leaves Pending exactly once and never returns.
func (o Outcome) CanBecome(next Outcome) bool {
	if o == next {
		return true
	}
	return !o.Terminal() && next.Terminal()
}

// PageRecord is one page's outcome within a document run. Done pages carry
// their recognized text and word boxes so a resumed run can rebuild the
// output without recognizing the page again.
type PageRecord struct {
	// Index is the 0-based page index, stable across runs.
	Index   int     `json:"index"`
	Outcome Outcome `json:"outcome"`
	// TextBytes is the recognized-text byte length, for diagnostics only.
	TextBytes int `json:"text_bytes,omitempty"`
	// Cause holds the failure or skip reason, empty otherwise.
	Cause string `json:"cause,omitempty"`
	// Text is the recognized plain text of the page.
	Text string `json:"text,omitempty"`
	// Words holds the recognized tokens with pixel bounds at the render DPI.
	Words     []WordRecord `json:"words,omitempty"`
	UpdatedAt time.Time    `json:"updated_at"`
}

// WordRecord is one recognized token in checkpoint form. Bounds are pixel
// coordinates in the rendered page image, origin top-left.
type WordRecord struct {
	Text       string  `json:"t"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Width      float64 `json:"w"`
	Height     float64 `json:"h"`
	Confidence float64 `json:"c"`
}

// WordRecords converts recognized tokens to their checkpoint form.
func WordRecords(words []ocr.TextWord) []WordRecord {
	if len(words) == 0 {
		return nil
	}
	out := make([]WordRecord, len(words))
	for i, w := range words {
		out[i] = WordRecord{
			Text:       w.Text,
			X:          w.Bounds.X,
			Y:          w.Bounds.Y,
			Width:      w.Bounds.Width,
			Height:     w.Bounds.Height,
			Confidence: w.Confidence,
		}
	}
	return out
}

// Result rebuilds a recognition result from the stored page text. Block and
// line structure is not retained; the words come back as a single flat
// line, which is all composition and export consume. Returns nil when the
// page recorded no text.
func (p PageRecord) Result() *ocr.Result {
	if p.Text == "" && len(p.Words) == 0 {
		return nil
	}
	words := make([]ocr.TextWord, len(p.Words))
	for i, w := range p.Words {
		words[i] = ocr.TextWord{
			Text:       w.Text,
			Bounds:     ocr.Region{X: w.X, Y: w.Y, Width: w.Width, Height: w.Height},
			Confidence: w.Confidence,
		}
	}
	res := &ocr.Result{PlainText: p.Text}
	if len(words) > 0 {
		res.Blocks = []ocr.TextBlock{{Lines: []ocr.TextLine{{Words: words}}}}
	}
	return res
}

// CompositionWarning flags a page that ships in the output without a text
// layer. Any warning moves the document's terminal state to
// CompletedWithWarnings.
type CompositionWarning struct {
	Page   int    `json:"page"`
	Reason string `json:"reason"`
}

func (w CompositionWarning) String() string {
	return fmt.Sprintf("page %d: %s", w.Page+1, w.Reason)
}

// State is the document lifecycle state.
type State string

const (
	StatePending               State = "pending"
	StateProcessing            State = "processing"
	StateCompleted             State = "completed"
	StateCompletedWithWarnings State = "completed_with_warnings"
	StateFailed                State = "failed"
)

// Terminal reports whether the state is final. Terminal documents are never
// re-entered; resubmission creates a fresh job.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateCompletedWithWarnings, StateFailed:
		return true
	}
	return false
}
