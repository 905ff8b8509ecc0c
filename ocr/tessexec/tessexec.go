// Package tessexec provides a Tesseract engine that shells out to the
// tesseract binary instead of linking libtesseract. Word geometry comes from
// the hOCR output. Build-wise it is pure Go, so it works where cgo is not an
// option.
package tessexec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/wudi/ocrkit/execx"
	"github.com/wudi/ocrkit/ocr"
	"github.com/wudi/ocrkit/ocr/hocr"
)

const defaultBinary = "tesseract"

func init() {
	ocr.Register("tesseract-cli", func() (ocr.Engine, error) {
		return New(execx.New(nil)), nil
	})
}

// Engine runs the tesseract CLI per recognition call.
type Engine struct {
	runner execx.Runner
	binary string
}

// Option configures the engine.
type Option func(*Engine)

// WithBinary overrides the tesseract executable path.
func WithBinary(path string) Option {
	return func(e *Engine) { e.binary = path }
}

// New constructs a CLI-backed Tesseract engine.
func New(runner execx.Runner, opts ...Option) *Engine {
	e := &Engine{runner: runner, binary: defaultBinary}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Engine) Name() string { return "tesseract-cli" }

// Recognize writes the page image to a temporary file, runs tesseract with
// the hocr config, and decodes word boxes from the hOCR on stdout. Each call
// is an independent process, so the engine is safe for concurrent workers.
func (e *Engine) Recognize(ctx context.Context, in ocr.Input) (ocr.Result, error) {
	if err := ctx.Err(); err != nil {
		return ocr.Result{}, err
	}
	imgData, err := ocr.CropImage(in.Image, in.Region)
	if err != nil {
		return ocr.Result{}, err
	}

	tmp, err := os.CreateTemp("", "ocrkit-page-*"+extFor(in.Format))
	if err != nil {
		return ocr.Result{}, fmt.Errorf("temp image: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(imgData); err != nil {
		tmp.Close()
		return ocr.Result{}, fmt.Errorf("write temp image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return ocr.Result{}, fmt.Errorf("close temp image: %w", err)
	}

	args := e.buildArgs(tmp.Name(), in)
	stdout, stderr, err := e.runner.Run(ctx, e.binary, args...)
	if err != nil {
		return ocr.Result{}, fmt.Errorf("tesseract %s: %w (stderr: %s)", in.ID, err, firstLine(stderr))
	}

	pages, err := hocr.Decode(bytes.NewReader(stdout))
	if err != nil {
		return ocr.Result{}, fmt.Errorf("decode hocr for %s: %w", in.ID, err)
	}
	if len(pages) == 0 {
		return ocr.Result{InputID: in.ID}, nil
	}
	res := pages[0]
	res.InputID = in.ID
	if len(in.Languages) > 0 {
		res.Language = in.Languages[0]
	}
	return res, nil
}

func (e *Engine) buildArgs(imagePath string, in ocr.Input) []string {
	// An explicit tessedit_pageseg_mode knob wins over the profile mapping.
	psm := profilePSM(in.Profile)
	if v, ok := in.Metadata["tessedit_pageseg_mode"]; ok {
		psm = v
	}
	args := []string{imagePath, "stdout"}
	if len(in.Languages) > 0 {
		args = append(args, "-l", strings.Join(in.Languages, "+"))
	}
	if in.DPI > 0 {
		args = append(args, "--dpi", fmt.Sprint(in.DPI))
	}
	args = append(args, "--psm", psm)
	for k, v := range in.Metadata {
		if k == "tessedit_pageseg_mode" {
			continue
		}
		args = append(args, "-c", k+"="+v)
	}
	return append(args, "hocr")
}

// profilePSM mirrors the page-segmentation mapping of the in-process engine.
func profilePSM(p ocr.Profile) string {
	switch p {
	case ocr.ProfileFast:
		return "6"
	case ocr.ProfilePrecise:
		return "1"
	default:
		return "3"
	}
}

func extFor(f ocr.ImageFormat) string {
	switch f {
	case ocr.ImageFormatJPEG:
		return ".jpg"
	case ocr.ImageFormatTIFF:
		return ".tif"
	default:
		return ".png"
	}
}

func firstLine(b []byte) string {
	s := strings.TrimSpace(string(b))
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}
