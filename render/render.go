// Package render rasterizes single PDF pages to PNG through the poppler
// pdftoppm tool. Rendering is stateless per call, so one Renderer serves all
// workers concurrently.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	_ "image/jpeg"
	_ "image/png"

	"github.com/wudi/ocrkit/execx"
	"github.com/wudi/ocrkit/observability"
)

// ErrPageOutOfRange marks a render request for a page the source does not
// have.
var ErrPageOutOfRange = errors.New("render: page out of range")

const (
	// maxSidePixels keeps the longest rendered side under the recognition
	// engines' internal rescale limits.
	maxSidePixels = 3800
	// maxTotalPixels bounds the decoded bitmap size on oversized media boxes.
	maxTotalPixels = 100_000_000
)

// DefaultBlankThreshold is the mean-gradient level (0..255 scale) below
// which a page counts as blank.
const DefaultBlankThreshold = 0.5

const defaultBinary = "pdftoppm"

// Renderer shells out to pdftoppm per page.
type Renderer struct {
	runner execx.Runner
	binary string
	log    observability.Logger
}

// Option configures the renderer.
type Option func(*Renderer)

// WithBinary overrides the pdftoppm executable path.
func WithBinary(path string) Option {
	return func(r *Renderer) { r.binary = path }
}

// WithLogger attaches a logger for per-page render diagnostics.
func WithLogger(log observability.Logger) Option {
	return func(r *Renderer) { r.log = log }
}

// New constructs a Renderer over the given subprocess runner.
func New(runner execx.Runner, opts ...Option) *Renderer {
	r := &Renderer{runner: runner, binary: defaultBinary, log: observability.NopLogger{}}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RenderPage rasterizes one page (0-based index) at the given DPI and
// returns the encoded PNG. Callers clamp the DPI beforehand via ClampDPI.
func (r *Renderer) RenderPage(ctx context.Context, pdfPath string, pageIndex, dpi int) ([]byte, error) {
	if pageIndex < 0 {
		return nil, fmt.Errorf("%w: index %d", ErrPageOutOfRange, pageIndex)
	}
	dir, err := os.MkdirTemp("", "ocrkit-render-*")
	if err != nil {
		return nil, fmt.Errorf("render temp dir: %w", err)
	}
	defer os.RemoveAll(dir)

	// pdftoppm numbers pages from 1 and derives the output name from the
	// prefix, zero-padding by document length.
	page := strconv.Itoa(pageIndex + 1)
	prefix := filepath.Join(dir, "page")
	_, stderr, err := r.runner.Run(ctx, r.binary,
		"-f", page, "-l", page, "-r", strconv.Itoa(dpi), "-png", pdfPath, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %s of %s: %w: %s", page, pdfPath, err, firstLine(stderr))
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	if len(matches) == 0 {
		return nil, fmt.Errorf("%w: pdftoppm produced no image for page %s", ErrPageOutOfRange, page)
	}
	sort.Strings(matches)
	data, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, fmt.Errorf("read rendered page: %w", err)
	}
	r.log.Debug("page rendered",
		observability.Int("page", pageIndex),
		observability.Int("dpi", dpi),
		observability.Int("bytes", len(data)))
	return data, nil
}

// ClampDPI lowers the requested DPI so the rendered bitmap respects the
// per-side and total pixel caps. Page dimensions are in PDF points; the
// caps guard against oversized media boxes (an A0 poster at 300 DPI decodes
// to more than a gigabyte of RGBA).
func ClampDPI(dpi int, widthPt, heightPt float64) int {
	if dpi <= 0 || widthPt <= 0 || heightPt <= 0 {
		return dpi
	}
	zoom := float64(dpi) / 72.0
	w := widthPt * zoom
	h := heightPt * zoom

	if longest := math.Max(w, h); longest > maxSidePixels {
		scale := maxSidePixels / longest
		zoom *= scale
		w *= scale
		h *= scale
	}
	if pixels := w * h; pixels > maxTotalPixels {
		zoom *= math.Sqrt(maxTotalPixels / pixels)
	}

	clamped := int(zoom * 72.0)
	if clamped < 1 {
		clamped = 1
	}
	if clamped > dpi {
		clamped = dpi
	}
	return clamped
}

// MeanGradient measures page content as the average absolute luminance
// delta between adjacent pixels, horizontal and vertical averaged, on a
// 0..255 scale. Blank pages score near zero regardless of paper tone.
func MeanGradient(img image.Image) float64 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 2 || h < 2 {
		return 0
	}
	lum := make([]float64, w*h)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			cr, cg, cb, _ := img.At(b.Min.X+x, b.Min.Y+y).RGBA()
			lum[y*w+x] = (float64(cr) + float64(cg) + float64(cb)) / 3 / 257
		}
	}

	var sumX, sumY float64
	for y := 0; y < h; y++ {
		for x := 0; x+1 < w; x++ {
			sumX += math.Abs(lum[y*w+x+1] - lum[y*w+x])
		}
	}
	for y := 0; y+1 < h; y++ {
		for x := 0; x < w; x++ {
			sumY += math.Abs(lum[(y+1)*w+x] - lum[y*w+x])
		}
	}
	meanX := sumX / float64(h*(w-1))
	meanY := sumY / float64((h-1)*w)
	return (meanX + meanY) / 2
}

// PageGradient decodes an encoded page image and returns its mean gradient.
func PageGradient(data []byte) (float64, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("decode page image: %w", err)
	}
	return MeanGradient(img), nil
}

func firstLine(b []byte) string {
	if i := bytes.IndexByte(b, '\n'); i >= 0 {
		b = b[:i]
	}
	if len(b) > 200 {
		b = b[:200]
	}
	return string(bytes.TrimSpace(b))
}
