// Command mkscan builds synthetic scanned PDFs: pages of rasterized text
// wrapped as full-page images with no text layer. The output is
// deterministic, which makes it a stable input for exercising ocrkit end to
// end without real scans.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strings"

	xdraw "golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"github.com/wudi/ocrkit/compose"
)

var sampleLines = []string{
	"The quick brown fox jumps over the lazy dog.",
	"Pack my box with five dozen liquor jugs.",
	"Sphinx of black quartz, judge my vow.",
	"How vexingly quick daft zebras jump.",
	"The five boxing wizards jump quickly.",
}

type options struct {
	outPath  string
	pages    int
	dpi      int
	widthPt  float64
	heightPt float64
	lines    []string
}

func main() {
	opts, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "mkscan: %v\n", err)
		os.Exit(2)
	}
	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "mkscan: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var opts options
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: mkscan [flags]\n")
		flag.PrintDefaults()
	}
	out := flag.String("o", "scan.pdf", "Output path")
	pages := flag.Int("pages", 3, "Page count")
	dpi := flag.Int("dpi", 150, "Image resolution")
	paper := flag.String("paper", "letter", "Page size: letter or a4")
	textPath := flag.String("text", "", "Body text file, one line per output line (default: built-in pangrams)")
	flag.Parse()

	if flag.NArg() != 0 {
		flag.Usage()
		return options{}, fmt.Errorf("unexpected argument %q", flag.Arg(0))
	}
	if *pages < 1 {
		return options{}, fmt.Errorf("pages must be at least 1")
	}
	if *dpi < 36 || *dpi > 600 {
		return options{}, fmt.Errorf("dpi must be within 36..600")
	}
	opts.outPath = *out
	opts.pages = *pages
	opts.dpi = *dpi

	switch *paper {
	case "letter":
		opts.widthPt, opts.heightPt = 612, 792
	case "a4":
		opts.widthPt, opts.heightPt = 595, 842
	default:
		return options{}, fmt.Errorf("unknown paper size %q", *paper)
	}

	opts.lines = sampleLines
	if *textPath != "" {
		data, err := os.ReadFile(*textPath)
		if err != nil {
			return options{}, err
		}
		opts.lines = opts.lines[:0]
		for _, l := range strings.Split(string(data), "\n") {
			if l = strings.TrimSpace(l); l != "" {
				opts.lines = append(opts.lines, l)
			}
		}
		if len(opts.lines) == 0 {
			return options{}, fmt.Errorf("%s holds no text", *textPath)
		}
	}
	return opts, nil
}

func run(opts options) error {
	composer, err := compose.New(opts.outPath, compose.WithDeterministicOutput())
	if err != nil {
		return err
	}
	for i := 0; i < opts.pages; i++ {
		img := pageImage(i, opts)
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return fmt.Errorf("encode page %d: %w", i+1, err)
		}
		// No recognition result: the page ships as a bare image.
		if err := composer.Append(i, opts.dpi, buf.Bytes(), nil); err != nil {
			return fmt.Errorf("page %d: %w", i+1, err)
		}
	}
	n, err := composer.Finish()
	if err != nil {
		return err
	}
	fmt.Printf("wrote %s: %d pages at %d dpi\n", opts.outPath, n, opts.dpi)
	return nil
}

// pageImage rasterizes one page. Text is drawn on a 72 dpi canvas with a
// bitmap face and scaled up to the target resolution, which yields the
// slightly soft glyph edges of a real scan.
func pageImage(pageIndex int, opts options) *image.Gray {
	base := image.NewGray(image.Rect(0, 0, int(opts.widthPt), int(opts.heightPt)))
	for i := range base.Pix {
		base.Pix[i] = 0xff
	}

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  base,
		Src:  image.NewUniform(color.Gray{Y: 0x10}),
		Face: face,
	}
	margin := 72
	leading := face.Height + 6

	y := margin
	drawAt(drawer, margin, y, fmt.Sprintf("Page %d", pageIndex+1))
	y += 2 * leading

	// Lines rotate with the page index so every page reads differently.
	for row := 0; y < int(opts.heightPt)-margin; row++ {
		line := opts.lines[(pageIndex+row)%len(opts.lines)]
		drawAt(drawer, margin, y, line)
		y += leading
	}

	scale := float64(opts.dpi) / 72
	dst := image.NewGray(image.Rect(0, 0,
		int(opts.widthPt*scale), int(opts.heightPt*scale)))
	xdraw.ApproxBiLinear.Scale(dst, dst.Bounds(), base, base.Bounds(), xdraw.Over, nil)
	return dst
}

func drawAt(d *font.Drawer, x, y int, s string) {
	d.Dot = fixed.P(x, y)
	d.DrawString(s)
}
