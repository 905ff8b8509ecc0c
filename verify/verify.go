// Package verify checks a finished run against the page-count invariant:
// the output document carries exactly one page per source page, whatever
// happened to recognition. Failed pages are reported as warnings; a short
// or unreadable output is rebuilt from the source and the checkpointed
// recognition results.
package verify

import (
	"context"
	"fmt"
	"sort"

	"github.com/pdfcpu/pdfcpu/pkg/api"

	"github.com/wudi/ocrkit/checkpoint"
	"github.com/wudi/ocrkit/compose"
	"github.com/wudi/ocrkit/document"
	"github.com/wudi/ocrkit/observability"
	"github.com/wudi/ocrkit/ocr"
	"github.com/wudi/ocrkit/render"
)

// Renderer rasterizes one source page for the rebuild path.
type Renderer interface {
	RenderPage(ctx context.Context, pdfPath string, pageIndex, dpi int) ([]byte, error)
}

// Verifier measures the composed output independently and restores it when
// pages are missing.
type Verifier struct {
	renderer    Renderer
	log         observability.Logger
	composeOpts []compose.Option
}

// Option configures a Verifier.
type Option func(*Verifier)

// WithLogger routes verifier diagnostics.
func WithLogger(log observability.Logger) Option {
	return func(v *Verifier) { v.log = log }
}

// WithComposeOptions forwards composer settings to the rebuild path, so a
// restored output matches the original composition parameters.
func WithComposeOptions(opts ...compose.Option) Option {
	return func(v *Verifier) { v.composeOpts = opts }
}

// New creates a Verifier. The renderer is required for restoring pages.
func New(renderer Renderer, opts ...Option) (*Verifier, error) {
	if renderer == nil {
		return nil, fmt.Errorf("verify: nil renderer")
	}
	v := &Verifier{renderer: renderer, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// Verify checks the output written for doc. The page count is measured from
// the file itself, not trusted from the composer. Every Failed page yields
// a warning. When the output is short, unreadable or missing, Verify
// rebuilds it from the source images and the checkpointed recognition
// results; if the count still cannot be made to match, the document fails.
func (v *Verifier) Verify(ctx context.Context, doc *document.Document, composedCount int, rec *checkpoint.Record) ([]document.CompositionWarning, error) {
	warnings := outcomeWarnings(doc, rec)

	count, err := api.PageCountFile(doc.OutputPath)
	if err == nil && count == doc.PageCount && composedCount == doc.PageCount {
		return warnings, nil
	}
	if err != nil {
		v.log.Warn("output unreadable, rebuilding",
			observability.String("path", doc.OutputPath),
			observability.Error("err", err))
	} else {
		v.log.Warn("output page count mismatch, rebuilding",
			observability.String("path", doc.OutputPath),
			observability.Int("got", count),
			observability.Int("want", doc.PageCount))
	}

	if err := v.rebuild(ctx, doc, rec); err != nil {
		return warnings, err
	}

	count, err = api.PageCountFile(doc.OutputPath)
	if err != nil {
		return warnings, fmt.Errorf("verify rebuilt output: %w", err)
	}
	if count != doc.PageCount {
		return warnings, fmt.Errorf("verify: output has %d pages, source has %d", count, doc.PageCount)
	}
	return warnings, nil
}

// outcomeWarnings derives the warning list from per-page outcomes: one per
// Failed page, and one per page the run never recorded. Skipped pages are
// intentional and carry no warning.
func outcomeWarnings(doc *document.Document, rec *checkpoint.Record) []document.CompositionWarning {
	var warnings []document.CompositionWarning
	for i := 0; i < doc.PageCount; i++ {
		p, ok := rec.Page(i)
		switch {
		case !ok:
			warnings = append(warnings, document.CompositionWarning{
				Page: i, Reason: "page was never processed; original image substituted",
			})
		case p.Outcome == document.OutcomeFailed:
			reason := p.Cause
			if reason == "" {
				reason = "recognition failed"
			}
			warnings = append(warnings, document.CompositionWarning{
				Page: i, Reason: reason + "; original image substituted",
			})
		}
	}
	sort.Slice(warnings, func(a, b int) bool { return warnings[a].Page < warnings[b].Page })
	return warnings
}

// rebuild recomposes the whole output: every page is rendered again and its
// text layer taken from the checkpoint. Pages without stored recognition go
// in image-only. The rebuild runs detached from cancellation; once a run
// got this far the output deserves to be finished.
func (v *Verifier) rebuild(ctx context.Context, doc *document.Document, rec *checkpoint.Record) error {
	ctx = context.WithoutCancel(ctx)

	composer, err := compose.New(doc.OutputPath, v.composeOpts...)
	if err != nil {
		return fmt.Errorf("verify rebuild: %w", err)
	}
	for i := 0; i < doc.PageCount; i++ {
		dim := doc.Dim(i)
		dpi := render.ClampDPI(doc.DPI, dim.Width, dim.Height)
		img, err := v.renderer.RenderPage(ctx, doc.SourcePath, i, dpi)
		if err != nil {
			return fmt.Errorf("verify restore page %d: %w", i, err)
		}
		if err := composer.Append(i, dpi, img, storedResult(rec, i)); err != nil {
			return fmt.Errorf("verify restore page %d: %w", i, err)
		}
	}
	n, err := composer.Finish()
	if err != nil {
		return fmt.Errorf("verify rebuild: %w", err)
	}
	v.log.Info("output rebuilt",
		observability.String("path", doc.OutputPath),
		observability.Int("pages", n))
	return nil
}

// storedResult rebuilds the text layer for pages an earlier run recognized.
func storedResult(rec *checkpoint.Record, index int) *ocr.Result {
	if p, ok := rec.Page(index); ok && p.Outcome == document.OutcomeDone {
		return p.Result()
	}
	return nil
}
