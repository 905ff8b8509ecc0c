package compose

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wudi/ocrkit/ocr"
	"github.com/wudi/ocrkit/variants"
)

func pngPage(t *testing.T, w, h int, gray bool) []byte {
	t.Helper()
	var img image.Image
	if gray {
		g := image.NewGray(image.Rect(0, 0, w, h))
		for i := range g.Pix {
			g.Pix[i] = uint8(i)
		}
		img = g
	} else {
		m := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				m.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 128, A: 255})
			}
		}
		img = m
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func wordResult(text string, bounds ocr.Region, conf float64) *ocr.Result {
	word := ocr.TextWord{Text: text, Bounds: bounds, Confidence: conf}
	return &ocr.Result{
		PlainText: text,
		Blocks: []ocr.TextBlock{{
			Text:  text,
			Lines: []ocr.TextLine{{Text: text, Words: []ocr.TextWord{word}}},
		}},
	}
}

func newComposer(t *testing.T, opts ...Option) (*Composer, string) {
	t.Helper()
	out := filepath.Join(t.TempDir(), "out.pdf")
	opts = append([]Option{WithDeterministicOutput(), WithCompression(false)}, opts...)
	c, err := New(out, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c, out
}

func TestAppendAndFinish(t *testing.T) {
	c, out := newComposer(t)
	res := wordResult("Hello", ocr.Region{X: 100, Y: 100, Width: 200, Height: 50}, 0.9)
	if err := c.Append(0, 300, pngPage(t, 850, 1100, false), res); err != nil {
		t.Fatalf("Append: %v", err)
	}
	n, err := c.Finish()
	if err != nil {
		t.Fatalf("Finish: %v", err)
	}
	if n != 1 {
		t.Fatalf("pages = %d, want 1", n)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	for _, want := range []string{
		"%PDF-1.7",
		"/Subtype /Image",
		"/Filter /DCTDecode",
		// 850x1100 px at 300 dpi is 204x264 pt.
		"/MediaBox [0 0 204.000000 264.000000]",
		"3 Tr",
		// Word box left edge: 100 px * 72/300 = 24 pt.
		"1 0 0 1 24 ",
		" Tj",
	} {
		if !bytes.Contains(data, []byte(want)) {
			t.Errorf("output missing %q", want)
		}
	}
	if _, err := os.Stat(out + ".tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file left behind")
	}
}

func TestPerPageDPI(t *testing.T) {
	c, out := newComposer(t)
	if err := c.Append(0, 300, pngPage(t, 300, 300, false), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Append(1, 150, pngPage(t, 150, 150, false), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	// Both pages cover one inch square at their own resolution.
	data, _ := os.ReadFile(out)
	if got := bytes.Count(data, []byte("/MediaBox [0 0 72.000000 72.000000]")); got != 2 {
		t.Fatalf("72pt pages = %d, want 2", got)
	}
}

func TestAppendImageOnly(t *testing.T) {
	c, out := newComposer(t)
	if err := c.Append(0, 300, pngPage(t, 100, 140, false), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	data, _ := os.ReadFile(out)
	if bytes.Contains(data, []byte("/Subtype /Type0")) {
		t.Fatal("image-only document embeds a font")
	}
	if !bytes.Contains(data, []byte("/Im0 Do")) {
		t.Fatal("image layer missing")
	}
}

func TestConfidenceFilter(t *testing.T) {
	c, out := newComposer(t)
	res := wordResult("doubtful", ocr.Region{X: 10, Y: 10, Width: 100, Height: 20}, 0.3)
	if err := c.Append(0, 300, pngPage(t, 200, 200, false), res); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	data, _ := os.ReadFile(out)
	if bytes.Contains(data, []byte(" Tj")) {
		t.Fatal("low-confidence word composed")
	}

	// Lowering the floor admits the same word.
	c2, out2 := newComposer(t, WithMinConfidence(0.2))
	if err := c2.Append(0, 300, pngPage(t, 200, 200, false), res); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c2.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	data2, _ := os.ReadFile(out2)
	if !bytes.Contains(data2, []byte(" Tj")) {
		t.Fatal("word above the floor not composed")
	}
}

func TestVariantDuplication(t *testing.T) {
	norm, err := variants.Parse(strings.NewReader("AB\n"))
	if err != nil {
		t.Fatalf("parse table: %v", err)
	}

	c, out := newComposer(t, WithNormalizer(norm))
	res := wordResult("B", ocr.Region{X: 10, Y: 10, Width: 40, Height: 20}, 0.9)
	if err := c.Append(0, 300, pngPage(t, 200, 200, false), res); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	data, _ := os.ReadFile(out)
	if got := bytes.Count(data, []byte(" Tj")); got != 2 {
		t.Fatalf("text runs = %d, want 2 (word plus normalized form)", got)
	}

	// Disabled duplication writes the word once.
	c2, out2 := newComposer(t, WithNormalizer(norm), WithVariantDuplication(false))
	if err := c2.Append(0, 300, pngPage(t, 200, 200, false), res); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c2.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	data2, _ := os.ReadFile(out2)
	if got := bytes.Count(data2, []byte(" Tj")); got != 1 {
		t.Fatalf("text runs = %d, want 1", got)
	}
}

func TestVerticalRun(t *testing.T) {
	c, out := newComposer(t)
	// Box three times taller than wide: vertical writing.
	res := wordResult("縱書", ocr.Region{X: 50, Y: 50, Width: 30, Height: 90}, 0.9)
	if err := c.Append(0, 300, pngPage(t, 400, 400, false), res); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	data, _ := os.ReadFile(out)
	if !bytes.Contains(data, []byte("0 -1 1 0 ")) {
		t.Fatal("vertical run not rotated")
	}
}

func TestGrayPagesStayGray(t *testing.T) {
	c, out := newComposer(t)
	if err := c.Append(0, 300, pngPage(t, 64, 64, true), nil); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if _, err := c.Finish(); err != nil {
		t.Fatalf("Finish: %v", err)
	}
	data, _ := os.ReadFile(out)
	if !bytes.Contains(data, []byte("/ColorSpace /DeviceGray")) {
		t.Fatal("grayscale source embedded as RGB")
	}
}

func TestLifecycleErrors(t *testing.T) {
	c, _ := newComposer(t)
	if _, err := c.Finish(); err == nil {
		t.Fatal("Finish with no pages must fail")
	}
	if _, err := c.Finish(); err == nil {
		t.Fatal("second Finish must fail")
	}
	if err := c.Append(0, 300, pngPage(t, 10, 10, false), nil); err == nil {
		t.Fatal("Append after Finish must fail")
	}

	if _, err := New(""); err == nil {
		t.Fatal("empty output path accepted")
	}
}

func TestAppendRejectsGarbageImage(t *testing.T) {
	c, _ := newComposer(t)
	if err := c.Append(0, 300, []byte("not an image"), nil); err == nil {
		t.Fatal("garbage image accepted")
	}
	if err := c.Append(0, 0, pngPage(t, 10, 10, false), nil); err == nil {
		t.Fatal("zero dpi accepted")
	}
}

func TestClamps(t *testing.T) {
	if got := clampFontSize(2); got != minFontSize {
		t.Fatalf("clampFontSize(2) = %f", got)
	}
	if got := clampFontSize(100); got != maxFontSize {
		t.Fatalf("clampFontSize(100) = %f", got)
	}
	if got := clampFontSize(12); got != 12 {
		t.Fatalf("clampFontSize(12) = %f", got)
	}
	if got := clampScale(5); got != 10 {
		t.Fatalf("clampScale(5) = %f", got)
	}
	if got := clampScale(2000); got != 1000 {
		t.Fatalf("clampScale(2000) = %f", got)
	}
}
