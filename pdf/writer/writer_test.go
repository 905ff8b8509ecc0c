package writer

import (
	"bytes"
	"compress/zlib"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"testing"
	"time"

	"github.com/wudi/ocrkit/pdf/font"
	"github.com/wudi/ocrkit/pdf/model"
)

func testFace(t *testing.T) *font.Face {
	t.Helper()
	f, err := font.Default()
	if err != nil {
		t.Fatalf("load default face: %v", err)
	}
	return f
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: uint8(40 * x), G: 200, B: uint8(40 * y), A: 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode jpeg: %v", err)
	}
	return buf.Bytes()
}

func testDoc(t *testing.T) *model.Document {
	t.Helper()
	doc := &model.Document{Info: model.Info{Title: "scan", Producer: "ocrkit"}}
	page := doc.AddPage(612, 792)
	page.Image = &model.Image{
		Width: 4, Height: 4,
		Data:             jpegBytes(t, 4, 4),
		Format:           model.EncodingDCT,
		ColorSpace:       "DeviceRGB",
		BitsPerComponent: 8,
	}
	page.Runs = append(page.Runs, model.TextRun{
		Text:     "Hello",
		X:        72,
		Y:        700,
		FontSize: 11,
		Mode:     model.RenderInvisible,
	})
	return doc
}

func render(t *testing.T, doc *model.Document, cfg Config) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, doc, testFace(t), cfg); err != nil {
		t.Fatalf("Write: %v", err)
	}
	return buf.Bytes()
}

func TestWriteStructure(t *testing.T) {
	out := render(t, testDoc(t), Config{Deterministic: true})

	if !bytes.HasPrefix(out, []byte("%PDF-1.7\n")) {
		t.Fatalf("header = %q", out[:16])
	}
	for _, want := range []string{
		"/Type /Catalog",
		"/Type /Pages",
		"/Count 1",
		"/Type /Page",
		"/Subtype /Image",
		"/Filter /DCTDecode",
		"/Subtype /Type0",
		"/Encoding /Identity-H",
		"/Subtype /CIDFontType2",
		"/CIDToGIDMap /Identity",
		"/FontFile2",
		"beginbfchar",
		"3 Tr",
		" Tj",
		"/Im0 Do",
		"startxref",
		"%%EOF",
	} {
		if !bytes.Contains(out, []byte(want)) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestWriteDeterministic(t *testing.T) {
	face := testFace(t)
	doc := testDoc(t)
	var a, b bytes.Buffer
	if err := Write(&a, doc, face, Config{Deterministic: true}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	if err := Write(&b, doc, face, Config{Deterministic: true}); err != nil {
		t.Fatalf("second write: %v", err)
	}
	if !bytes.Equal(a.Bytes(), b.Bytes()) {
		t.Fatal("deterministic writes differ")
	}
}

func TestXrefOffsetsResolve(t *testing.T) {
	out := render(t, testDoc(t), Config{Deterministic: true})

	idx := bytes.LastIndex(out, []byte("startxref\n"))
	if idx < 0 {
		t.Fatal("no startxref")
	}
	var xrefOff int
	if _, err := fmt.Sscanf(string(out[idx:]), "startxref\n%d", &xrefOff); err != nil {
		t.Fatalf("parse startxref: %v", err)
	}
	if !bytes.HasPrefix(out[xrefOff:], []byte("xref\n")) {
		t.Fatalf("startxref %d does not point at the xref table", xrefOff)
	}

	var total int
	if _, err := fmt.Sscanf(string(out[xrefOff:]), "xref\n0 %d", &total); err != nil {
		t.Fatalf("parse xref header: %v", err)
	}
	if total < 2 {
		t.Fatalf("xref count = %d", total)
	}
	entries := xrefOff + len(fmt.Sprintf("xref\n0 %d\n", total))
	for i := 1; i < total; i++ {
		entry := out[entries+20*i : entries+20*i+20]
		var off int
		if _, err := fmt.Sscanf(string(entry), "%d", &off); err != nil {
			t.Fatalf("parse entry %d: %v", i, err)
		}
		want := fmt.Sprintf("%d 0 obj", i)
		if !bytes.HasPrefix(out[off:], []byte(want)) {
			t.Fatalf("object %d: offset %d points at %q", i, off, out[off:off+12])
		}
	}
}

func TestWriteCompress(t *testing.T) {
	out := render(t, testDoc(t), Config{Deterministic: true, Compress: true})

	if !bytes.Contains(out, []byte("/Filter /FlateDecode")) {
		t.Fatal("no FlateDecode filter")
	}
	// Operators and the CMap are inside compressed streams now.
	if bytes.Contains(out, []byte("1 0 0 1 72 700 Tm")) {
		t.Fatal("content stream left uncompressed")
	}
	if bytes.Contains(out, []byte("beginbfchar")) {
		t.Fatal("ToUnicode CMap left uncompressed")
	}
}

func TestWriteImageOnlySkipsFont(t *testing.T) {
	doc := &model.Document{}
	page := doc.AddPage(612, 792)
	page.Image = &model.Image{
		Width: 2, Height: 2,
		Data:   []byte{0, 64, 128, 255},
		Format: model.EncodingFlate,

		ColorSpace: "DeviceGray",
	}
	out := render(t, doc, Config{Deterministic: true})

	if bytes.Contains(out, []byte("/Subtype /Type0")) {
		t.Fatal("font embedded for a document with no text")
	}
	if bytes.Contains(out, []byte("/Font")) {
		t.Fatal("font resource present for a document with no text")
	}
	if !bytes.Contains(out, []byte("/ColorSpace /DeviceGray")) {
		t.Fatal("missing gray colorspace")
	}
}

func TestWriteNoPages(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, &model.Document{}, testFace(t), Config{}); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestFlateEncodeIsZlib(t *testing.T) {
	payload := []byte("BT\n3 Tr\nET\n")
	enc, err := flateEncode(payload)
	if err != nil {
		t.Fatalf("flateEncode: %v", err)
	}
	r, err := zlib.NewReader(bytes.NewReader(enc))
	if err != nil {
		t.Fatalf("zlib header missing: %v", err)
	}
	defer r.Close()
	dec, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	if !bytes.Equal(dec, payload) {
		t.Fatalf("round trip = %q", dec)
	}
}

func TestEncodeCIDWidths(t *testing.T) {
	arr := encodeCIDWidths(map[int]int{1: 10, 2: 10, 3: 10, 5: 20})
	want := []int64{1, 3, 10, 5, 5, 20}
	if arr.Len() != len(want) {
		t.Fatalf("items = %d, want %d", arr.Len(), len(want))
	}
	for i, w := range want {
		o, _ := arr.Get(i)
		n, ok := o.(interface{ Int() int64 })
		if !ok || n.Int() != w {
			t.Fatalf("item %d = %v, want %d", i, o, w)
		}
	}
}

func TestToUnicodeCMap(t *testing.T) {
	face := testFace(t)
	face.Encode("Hi")
	cmap := buildToUnicodeCMap(face)
	for _, want := range []string{
		"begincmap",
		"begincodespacerange",
		"> <0048>", // H
		"> <0069>", // i
		"endcmap",
	} {
		if !bytes.Contains(cmap, []byte(want)) {
			t.Errorf("cmap missing %q", want)
		}
	}
}

func TestFnum(t *testing.T) {
	cases := map[float64]string{
		612:    "612",
		10.5:   "10.5",
		98.76:  "98.76",
		0:      "0",
		-0.001: "0",
		0.25:   "0.25",
	}
	for in, want := range cases {
		if got := fnum(in); got != want {
			t.Errorf("fnum(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestEscapeLiteralString(t *testing.T) {
	got := string(escapeLiteralString([]byte("a(b)\nc\xe9")))
	want := `(a\(b\)\nc\351)`
	if got != want {
		t.Fatalf("escaped = %q, want %q", got, want)
	}
}

func TestPDFDate(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	if got := pdfDate(ts); got != "D:20260102030405Z" {
		t.Fatalf("pdfDate = %q", got)
	}
}
