// Package compose assembles the searchable output document. Every page is
// the rendered scan drawn full-bleed, with an invisible text layer placed
// word by word over the image so selection and search line up with the
// print.
package compose

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"os"
	"strings"
	"time"

	_ "image/png"

	"github.com/wudi/ocrkit/observability"
	"github.com/wudi/ocrkit/ocr"
	"github.com/wudi/ocrkit/pdf/font"
	"github.com/wudi/ocrkit/pdf/model"
	"github.com/wudi/ocrkit/pdf/writer"
	"github.com/wudi/ocrkit/variants"
)

const (
	// DefaultMinConfidence drops words the engine itself doubts.
	DefaultMinConfidence = 0.5

	minFontSize = 4.0
	maxFontSize = 72.0

	jpegQuality = 85
)

// Option configures a Composer.
type Option func(*Composer)

// WithMinConfidence sets the word confidence floor, on a 0..1 scale.
func WithMinConfidence(min float64) Option {
	return func(c *Composer) { c.minConf = min }
}

// WithFace supplies the font used for the text layer. The default is the
// bundled Go Regular face, which has no CJK coverage; pass a wider face for
// CJK documents.
func WithFace(f *font.Face) Option {
	return func(c *Composer) { c.face = f }
}

// WithNormalizer supplies the variant table used for duplicate runs.
func WithNormalizer(n *variants.Normalizer) Option {
	return func(c *Composer) { c.norm = n }
}

// WithVariantDuplication toggles the second run written for words whose
// variant-normalized form differs. On by default.
func WithVariantDuplication(on bool) Option {
	return func(c *Composer) { c.dupVariants = on }
}

// WithCompression toggles Flate compression of the output streams. On by
// default.
func WithCompression(on bool) Option {
	return func(c *Composer) { c.compress = on }
}

// WithDeterministicOutput makes Finish produce byte-identical files for
// identical inputs.
func WithDeterministicOutput() Option {
	return func(c *Composer) { c.deterministic = true }
}

// WithLogger routes composer diagnostics.
func WithLogger(log observability.Logger) Option {
	return func(c *Composer) { c.log = log }
}

// WithInfo overrides the document metadata.
func WithInfo(info model.Info) Option {
	return func(c *Composer) { c.info = &info }
}

// Composer accumulates composed pages and writes the output document. It is
// not safe for concurrent use; the pipeline's emitter feeds it from a single
// goroutine in ascending page order.
type Composer struct {
	outputPath string

	doc  *model.Document
	face *font.Face
	norm *variants.Normalizer

	minConf       float64
	dupVariants   bool
	compress      bool
	deterministic bool
	info          *model.Info

	log observability.Logger

	finished bool
}

// New creates a Composer writing to outputPath.
func New(outputPath string, opts ...Option) (*Composer, error) {
	if outputPath == "" {
		return nil, fmt.Errorf("compose: empty output path")
	}
	c := &Composer{
		outputPath:  outputPath,
		doc:         &model.Document{},
		norm:        variants.Default(),
		minConf:     DefaultMinConfidence,
		dupVariants: true,
		compress:    true,
		log:         observability.NopLogger{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.face == nil {
		face, err := font.Default()
		if err != nil {
			return nil, fmt.Errorf("compose: load default font: %w", err)
		}
		c.face = face
	}
	if c.info == nil {
		c.info = &model.Info{
			Producer: "ocrkit",
			Creator:  "ocrkit",
			Created:  time.Now(),
		}
	}
	c.doc.Info = *c.info
	return c, nil
}

// Append composes one page from its rendered image and recognition result.
// The dpi is the resolution the image was rendered at; it anchors the
// pixel-to-point conversion and may differ per page when the renderer
// clamped oversized media. A nil result produces an image-only page. Pages
// must arrive in ascending index order; the caller's reorder buffer
// guarantees that.
func (c *Composer) Append(pageIndex, dpi int, pageImage []byte, result *ocr.Result) error {
	if c.finished {
		return fmt.Errorf("compose: append after Finish")
	}
	if dpi <= 0 {
		return fmt.Errorf("compose page %d: dpi must be positive, got %d", pageIndex, dpi)
	}
	img, err := encodePageImage(pageImage)
	if err != nil {
		return fmt.Errorf("compose page %d: %w", pageIndex, err)
	}

	k := 72.0 / float64(dpi)
	pageW := float64(img.Width) * k
	pageH := float64(img.Height) * k

	page := c.doc.AddPage(pageW, pageH)
	page.Image = img

	if result == nil {
		c.log.Debug("composed image-only page", observability.Int("page", pageIndex))
		return nil
	}

	words := 0
	for _, w := range result.Words() {
		runs := c.wordRuns(w, k, pageH)
		if len(runs) == 0 {
			continue
		}
		page.Runs = append(page.Runs, runs...)
		words++
	}
	c.log.Debug("composed page",
		observability.Int("page", pageIndex),
		observability.Int("words", words),
		observability.Int("runs", len(page.Runs)))
	return nil
}

// wordRuns converts one recognized word into invisible text runs: the word
// itself, plus its variant-normalized form when that differs.
func (c *Composer) wordRuns(w ocr.TextWord, k, pageH float64) []model.TextRun {
	text := strings.TrimSpace(w.Text)
	if text == "" || w.Confidence < c.minConf || w.Bounds.IsEmpty() {
		return nil
	}

	boxX := w.Bounds.X * k
	boxTop := w.Bounds.Y * k
	boxW := w.Bounds.Width * k
	boxH := w.Bounds.Height * k

	vertical := boxH > 2*boxW && len([]rune(text)) > 1

	var size, span float64
	if vertical {
		size = clampFontSize(boxW)
		span = boxH
	} else {
		size = clampFontSize(boxH)
		span = boxW
	}

	run := model.TextRun{
		Text:     text,
		FontSize: size,
		Mode:     model.RenderInvisible,
		Vertical: vertical,
	}

	// Horizontal scaling squeezes or stretches the measured advance to the
	// box, keeping selection aligned with the printed glyphs.
	if measured := c.face.Measure(text) / 1000 * size; measured > 0 {
		run.ScaleX = clampScale(span / measured * 100)
	}

	descent := -c.face.Descent() / 1000 * size
	if vertical {
		run.X = boxX + descent
		run.Y = pageH - boxTop
	} else {
		run.X = boxX
		run.Y = pageH - (boxTop + boxH) + descent
	}

	runs := []model.TextRun{run}
	if c.dupVariants && c.norm.NeedsNormalization(text) {
		dup := run
		dup.Text = c.norm.Normalize(text)
		if measured := c.face.Measure(dup.Text) / 1000 * size; measured > 0 {
			dup.ScaleX = clampScale(span / measured * 100)
		}
		runs = append(runs, dup)
	}
	return runs
}

// Finish writes the composed document next to its final path and renames it
// into place, so a crash never leaves a half-written output file. It returns
// the number of pages written.
func (c *Composer) Finish() (int, error) {
	if c.finished {
		return 0, fmt.Errorf("compose: Finish called twice")
	}
	c.finished = true
	if len(c.doc.Pages) == 0 {
		return 0, fmt.Errorf("compose: no pages composed")
	}

	tmp := c.outputPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return 0, fmt.Errorf("compose: create %s: %w", tmp, err)
	}
	cfg := writer.Config{Compress: c.compress, Deterministic: c.deterministic}
	if err := writer.Write(f, c.doc, c.face, cfg); err != nil {
		f.Close()
		os.Remove(tmp)
		return 0, fmt.Errorf("compose: write %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("compose: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, c.outputPath); err != nil {
		os.Remove(tmp)
		return 0, fmt.Errorf("compose: rename into place: %w", err)
	}
	c.log.Info("wrote output document",
		observability.String("path", c.outputPath),
		observability.Int("pages", len(c.doc.Pages)))
	return len(c.doc.Pages), nil
}

// PageCount returns the number of pages appended so far.
func (c *Composer) PageCount() int { return len(c.doc.Pages) }

// encodePageImage decodes a rendered page (PNG or JPEG) and re-encodes it as
// JPEG for DCT embedding. Grayscale sources stay grayscale.
func encodePageImage(data []byte) (*model.Image, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode page image: %w", err)
	}
	bounds := src.Bounds()

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode page image: %w", err)
	}

	colorSpace := "DeviceRGB"
	if _, ok := src.(*image.Gray); ok {
		colorSpace = "DeviceGray"
	}
	return &model.Image{
		Width:            bounds.Dx(),
		Height:           bounds.Dy(),
		Data:             buf.Bytes(),
		Format:           model.EncodingDCT,
		ColorSpace:       colorSpace,
		BitsPerComponent: 8,
	}, nil
}

func clampFontSize(size float64) float64 {
	if size < minFontSize {
		return minFontSize
	}
	if size > maxFontSize {
		return maxFontSize
	}
	return size
}

// clampScale keeps Tz within the range readers handle gracefully.
func clampScale(scale float64) float64 {
	if scale < 10 {
		return 10
	}
	if scale > 1000 {
		return 1000
	}
	return scale
}
