// Package admit decides, page by page, whether recognition is worth
// running. Rejected pages are checkpointed as skipped and keep their
// position in the output document.
package admit

import (
	"context"
	"fmt"

	"github.com/wudi/ocrkit/render"
)

// DefaultTextThreshold is the byte count of text-showing operands above
// which a page is considered to already carry a text layer.
const DefaultTextThreshold = 50

// Page carries the per-page facts predicates consult. The orchestrator
// fills only the facts the configured predicates declare they need.
type Page struct {
	// Index is the zero-based page index.
	Index int

	// Width and Height are the page media box in points.
	Width  float64
	Height float64

	// TextBytes is the payload size of text-showing operands already
	// present in the source page.
	TextBytes int

	// Gradient is the mean luminance gradient of the rendered bitmap;
	// Blank is that measurement compared against the blank threshold.
	Gradient float64
	Blank    bool
}

// Needs declares which page facts a predicate reads, so the orchestrator
// can skip computing the expensive ones.
type Needs struct {
	// TextBytes requires scanning the source page's content stream.
	TextBytes bool
	// Gradient requires a pass over the rendered bitmap.
	Gradient bool
}

func (n Needs) merge(o Needs) Needs {
	return Needs{
		TextBytes: n.TextBytes || o.TextBytes,
		Gradient:  n.Gradient || o.Gradient,
	}
}

// Predicate is one admission rule. Skip returns true, with a human-readable
// reason, when the page should not be recognized.
type Predicate interface {
	Name() string
	Needs() Needs
	Skip(ctx context.Context, p Page) (skip bool, reason string, err error)
}

// Chain combines predicates; the first one claiming a page wins. It returns
// nil when no predicates are given.
func Chain(preds ...Predicate) Predicate {
	switch len(preds) {
	case 0:
		return nil
	case 1:
		return preds[0]
	}
	return chain(preds)
}

type chain []Predicate

func (c chain) Name() string { return "chain" }

func (c chain) Needs() Needs {
	var n Needs
	for _, p := range c {
		n = n.merge(p.Needs())
	}
	return n
}

func (c chain) Skip(ctx context.Context, page Page) (bool, string, error) {
	for _, p := range c {
		skip, reason, err := p.Skip(ctx, page)
		if err != nil {
			return false, "", fmt.Errorf("%s: %w", p.Name(), err)
		}
		if skip {
			return true, reason, nil
		}
	}
	return false, "", nil
}

// TextLayerPredicate skips pages that already carry searchable text, so
// born-digital pages inside a mixed document are not re-recognized.
type TextLayerPredicate struct {
	// Threshold is the text payload size in bytes above which the page is
	// skipped. Zero means DefaultTextThreshold.
	Threshold int
}

func (p TextLayerPredicate) Name() string { return "text-layer" }

func (p TextLayerPredicate) Needs() Needs { return Needs{TextBytes: true} }

func (p TextLayerPredicate) Skip(_ context.Context, page Page) (bool, string, error) {
	thr := p.Threshold
	if thr <= 0 {
		thr = DefaultTextThreshold
	}
	if page.TextBytes > thr {
		return true, fmt.Sprintf("existing text layer (%d bytes)", page.TextBytes), nil
	}
	return false, "", nil
}

// BlankPagePredicate skips pages whose rendered bitmap carries almost no
// edges, such as empty backs of sheets.
type BlankPagePredicate struct {
	// Threshold is the mean gradient below which a page counts as blank.
	// Zero means render.DefaultBlankThreshold.
	Threshold float64
}

func (p BlankPagePredicate) Name() string { return "blank-page" }

func (p BlankPagePredicate) Needs() Needs { return Needs{Gradient: true} }

func (p BlankPagePredicate) Skip(_ context.Context, page Page) (bool, string, error) {
	thr := p.Threshold
	if thr <= 0 {
		thr = render.DefaultBlankThreshold
	}
	if page.Gradient < thr {
		return true, fmt.Sprintf("blank page (gradient %.3f)", page.Gradient), nil
	}
	return false, "", nil
}
