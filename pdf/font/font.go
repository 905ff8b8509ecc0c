// Package font loads a TrueType font and shapes text into glyph IDs for
// Type0 Identity-H embedding, where each CID in the page content stream is
// the font's glyph index.
package font

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"sort"
	"unicode"

	"github.com/go-text/typesetting/di"
	gofont "github.com/go-text/typesetting/font"
	"github.com/go-text/typesetting/language"
	"github.com/go-text/typesetting/shaping"
	xfont "golang.org/x/image/font"
	"golang.org/x/image/font/gofont/goregular"
	"golang.org/x/image/font/sfnt"
	"golang.org/x/image/math/fixed"
)

// Face is a loaded TrueType font plus the glyph-to-text mapping accumulated
// while encoding. It is not safe for concurrent use; give each document its
// own Face.
type Face struct {
	data       []byte
	shapeFace  *gofont.Face
	name       string
	unitsPerEm sfnt.Units

	widths       map[int]int
	defaultWidth int

	ascent      float64
	descent     float64
	capHeight   float64
	italicAngle float64
	bbox        [4]float64

	toUnicode map[int][]rune
}

// Load parses TrueType/OpenType font data. The full font is embedded, no
// subsetting.
func Load(data []byte) (*Face, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("truetype font data is empty")
	}
	fnt, err := sfnt.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse truetype: %w", err)
	}
	unitsPerEm := fnt.UnitsPerEm()
	if unitsPerEm == 0 {
		return nil, fmt.Errorf("invalid unitsPerEm")
	}
	shapeFace, err := gofont.ParseTTF(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse truetype for shaping: %w", err)
	}

	buf := &sfnt.Buffer{}
	ppem := fixed.Int26_6(unitsPerEm << 6)

	name, _ := fnt.Name(buf, sfnt.NameIDPostScript)
	if name == "" {
		name = "EmbeddedTT"
	}

	widths := glyphWidths(fnt, buf, unitsPerEm, ppem)
	defaultWidth := widths[0]
	if defaultWidth == 0 {
		defaultWidth = 1000
	}

	metrics, _ := fnt.Metrics(buf, ppem, xfont.HintingNone)
	bounds, _ := fnt.Bounds(buf, ppem, xfont.HintingNone)

	f := &Face{
		data:         data,
		shapeFace:    shapeFace,
		name:         name,
		unitsPerEm:   unitsPerEm,
		widths:       widths,
		defaultWidth: defaultWidth,
		ascent:       scaleFixed(metrics.Ascent, unitsPerEm),
		// Descent is below the baseline, negative in PDF.
		descent:     -scaleFixed(metrics.Descent, unitsPerEm),
		capHeight:   scaleFixed(metrics.CapHeight, unitsPerEm),
		italicAngle: italicAngle(fnt),
		bbox: [4]float64{
			scaleFixed(bounds.Min.X, unitsPerEm),
			scaleFixed(bounds.Min.Y, unitsPerEm),
			scaleFixed(bounds.Max.X, unitsPerEm),
			scaleFixed(bounds.Max.Y, unitsPerEm),
		},
		toUnicode: make(map[int][]rune),
	}
	if f.capHeight == 0 {
		f.capHeight = f.ascent
	}
	return f, nil
}

// LoadFile reads and parses a font file.
func LoadFile(path string) (*Face, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read font %s: %w", path, err)
	}
	return Load(data)
}

// Default returns a fresh Face over the bundled Go Regular font.
func Default() (*Face, error) {
	return Load(goregular.TTF)
}

// Encode shapes text and returns the big-endian 2-byte CID string for a Tj
// operand together with the advance width in 1/1000 em units. Glyph-to-rune
// mappings are recorded for the ToUnicode CMap.
func (f *Face) Encode(text string) ([]byte, float64) {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, 0
	}
	out := f.shape(runes)

	starts := clusterStarts(out.Glyphs, len(runes))
	firstOfCluster := make(map[int]bool, len(starts))

	cids := make([]byte, 0, 2*len(out.Glyphs))
	var width float64
	for _, g := range out.Glyphs {
		gid := int(g.GlyphID)
		cids = append(cids, byte(gid>>8), byte(gid))
		width += float64(g.XAdvance) / 64.0

		c := int(g.ClusterIndex)
		if firstOfCluster[c] {
			continue
		}
		firstOfCluster[c] = true
		if gid == 0 {
			continue
		}
		if _, ok := f.toUnicode[gid]; !ok {
			f.toUnicode[gid] = append([]rune(nil), runes[c:starts[c]]...)
		}
	}
	return cids, width
}

// Measure returns the advance width of text in 1/1000 em units.
func (f *Face) Measure(text string) float64 {
	runes := []rune(text)
	if len(runes) == 0 {
		return 0
	}
	out := f.shape(runes)
	var width float64
	for _, g := range out.Glyphs {
		width += float64(g.XAdvance) / 64.0
	}
	return width
}

func (f *Face) shape(runes []rune) shaping.Output {
	script := detectScript(runes)
	shaper := &shaping.HarfbuzzShaper{}
	input := shaping.Input{
		Text:      runes,
		RunStart:  0,
		RunEnd:    len(runes),
		Direction: scriptDirection(script),
		Face:      f.shapeFace,
		// Shape at 1000 units per em so advances come out in PDF text units.
		Size:     fixed.Int26_6(1000 * 64),
		Script:   script,
		Language: language.DefaultLanguage(),
	}
	return shaper.Shape(input)
}

// PostScriptName returns the font's PostScript name.
func (f *Face) PostScriptName() string { return f.name }

// FontFile returns the raw font program for a FontFile2 stream.
func (f *Face) FontFile() []byte { return f.data }

// Widths returns glyph advance widths in 1/1000 em units, keyed by glyph ID.
func (f *Face) Widths() map[int]int { return f.widths }

// DefaultWidth returns the width used for glyphs absent from Widths.
func (f *Face) DefaultWidth() int { return f.defaultWidth }

func (f *Face) Ascent() float64      { return f.ascent }
func (f *Face) Descent() float64     { return f.descent }
func (f *Face) CapHeight() float64   { return f.capHeight }
func (f *Face) ItalicAngle() float64 { return f.italicAngle }
func (f *Face) BBox() [4]float64     { return f.bbox }

// ToUnicode returns the glyph-to-rune mappings recorded by Encode so far.
func (f *Face) ToUnicode() map[int][]rune { return f.toUnicode }

// clusterStarts maps each cluster start index to the start of the following
// cluster, so runes[c:starts[c]] is the text of the cluster beginning at c.
func clusterStarts(glyphs []shaping.Glyph, textLen int) map[int]int {
	seen := make(map[int]bool, len(glyphs))
	starts := make([]int, 0, len(glyphs))
	for _, g := range glyphs {
		c := int(g.ClusterIndex)
		if !seen[c] {
			seen[c] = true
			starts = append(starts, c)
		}
	}
	sort.Ints(starts)
	next := make(map[int]int, len(starts))
	for i, s := range starts {
		if i+1 < len(starts) {
			next[s] = starts[i+1]
		} else {
			next[s] = textLen
		}
	}
	return next
}

func glyphWidths(fnt *sfnt.Font, buf *sfnt.Buffer, unitsPerEm sfnt.Units, ppem fixed.Int26_6) map[int]int {
	glyphs := fnt.NumGlyphs()
	widths := make(map[int]int, glyphs)
	for i := 0; i < glyphs; i++ {
		adv, err := fnt.GlyphAdvance(buf, sfnt.GlyphIndex(i), ppem, xfont.HintingNone)
		if err != nil {
			continue
		}
		widths[i] = int(math.Round(scaleFixed(adv, unitsPerEm)))
	}
	return widths
}

func italicAngle(fnt *sfnt.Font) float64 {
	post := fnt.PostTable()
	if post == nil {
		return 0
	}
	return post.ItalicAngle
}

func scaleFixed(val fixed.Int26_6, unitsPerEm sfnt.Units) float64 {
	return float64(val) * 1000.0 / (64.0 * float64(unitsPerEm))
}

func scriptDirection(script language.Script) di.Direction {
	switch script {
	case language.Arabic, language.Hebrew, language.Syriac, language.Thaana, language.Nko:
		return di.DirectionRTL
	default:
		return di.DirectionLTR
	}
}

// detectScript picks the dominant script of the runes, defaulting to Latin.
// The set covers the scripts common OCR language packs emit.
func detectScript(runes []rune) language.Script {
	counts := make(map[language.Script]int)
	maxCount := 0
	best := language.Latin
	for _, r := range runes {
		script := scriptFromRune(r)
		if script == language.Unknown {
			continue
		}
		counts[script]++
		if counts[script] > maxCount {
			maxCount = counts[script]
			best = script
		}
	}
	return best
}

func scriptFromRune(r rune) language.Script {
	switch {
	case unicode.Is(unicode.Latin, r):
		return language.Latin
	case unicode.Is(unicode.Han, r):
		return language.Han
	case unicode.Is(unicode.Hiragana, r):
		return language.Hiragana
	case unicode.Is(unicode.Katakana, r):
		return language.Katakana
	case unicode.Is(unicode.Hangul, r):
		return language.Hangul
	case unicode.Is(unicode.Cyrillic, r):
		return language.Cyrillic
	case unicode.Is(unicode.Greek, r):
		return language.Greek
	case unicode.Is(unicode.Arabic, r):
		return language.Arabic
	case unicode.Is(unicode.Hebrew, r):
		return language.Hebrew
	case unicode.Is(unicode.Thai, r):
		return language.Thai
	case unicode.Is(unicode.Devanagari, r):
		return language.Devanagari
	}
	return language.Unknown
}
