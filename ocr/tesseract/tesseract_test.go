package tesseract

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"os/exec"
	"strings"
	"testing"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/ocrkit/ocr"
)

// ensureTesseractAvailable checks that the tesseract binary is reachable.
func ensureTesseractAvailable(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("tesseract"); err != nil {
		t.Skip("tesseract not installed in PATH")
	}
}

func renderTestPage(t *testing.T, text string) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 200, 80))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.White}, image.Point{}, draw.Src)

	d := &font.Drawer{
		Dst:  img,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(10, 50),
	}
	d.DrawString(text)

	var buf bytes.Buffer
	if err := (png.Encoder{}).Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestEngineRecognize(t *testing.T) {
	ensureTesseractAvailable(t)

	data := renderTestPage(t, "Hello PDF")
	in := ocr.PageInput(0, data, ocr.ImageFormatPNG, ocr.WithLanguages("eng"), ocr.WithDPI(300))

	res, err := NewEngine().Recognize(context.Background(), in)
	if err != nil {
		t.Fatalf("Recognize() error = %v", err)
	}
	got := strings.ToLower(res.PlainText)
	if !strings.Contains(got, "hello") || !strings.Contains(got, "pdf") {
		t.Fatalf("unexpected OCR output: %q", res.PlainText)
	}
	if len(res.Blocks) == 0 || len(res.Blocks[0].Lines) == 0 {
		t.Fatalf("expected structured blocks")
	}
	if res.InputID != "page-0" {
		t.Fatalf("unexpected input id: %s", res.InputID)
	}
	for _, w := range res.Words() {
		if w.Bounds.IsEmpty() {
			t.Fatalf("word %q has empty bounds", w.Text)
		}
		if w.Confidence < 0 || w.Confidence > 1 {
			t.Fatalf("word %q confidence out of range: %f", w.Text, w.Confidence)
		}
	}
}

func TestProfileVariables(t *testing.T) {
	if got := profileVariables(ocr.ProfileFast)["tessedit_pageseg_mode"]; got != "6" {
		t.Fatalf("fast psm = %s, want 6", got)
	}
	if got := profileVariables(ocr.ProfileBalanced)["tessedit_pageseg_mode"]; got != "3" {
		t.Fatalf("balanced psm = %s, want 3", got)
	}
	if got := profileVariables(ocr.ProfilePrecise)["tessedit_pageseg_mode"]; got != "1" {
		t.Fatalf("precise psm = %s, want 1", got)
	}
	if got := profileVariables(ocr.Profile("unknown"))["tessedit_pageseg_mode"]; got != "3" {
		t.Fatalf("unknown profile must fall back to auto, got %s", got)
	}
}
