package hocr

import (
	"bytes"
	"strings"
	"testing"

	"github.com/wudi/ocrkit/ocr"
)

const sampleHOCR = `<?xml version="1.0" encoding="UTF-8"?>
<html xmlns="http://www.w3.org/1999/xhtml" lang="en">
 <head><title></title><meta name='ocr-system' content='tesseract 5.3.0'/></head>
 <body>
  <div class='ocr_page' id='page_1' title='image "page.png"; bbox 0 0 200 80; ppageno 0'>
   <div class='ocr_carea' id='block_1_1' title="bbox 10 37 133 50">
    <p class='ocr_par' id='par_1_1' lang='eng' title="bbox 10 37 133 50">
     <span class='ocr_line' id='line_1_1' title="bbox 10 37 133 50; baseline 0 -3; x_size 13">
      <span class='ocrx_word' id='word_1_1' title='bbox 10 37 75 50; x_wconf 91'>Hello</span>
      <span class='ocrx_word' id='word_1_2' title='bbox 85 37 133 50; x_wconf 89'>PDF</span>
     </span>
     <span class='ocr_line' id='line_1_2' title="bbox 10 55 60 68; baseline 0 -3">
      <span class='ocrx_word' id='word_1_3' title='bbox 10 55 60 68; x_wconf 75'>world</span>
     </span>
    </p>
   </div>
  </div>
 </body>
</html>`

func TestDecode(t *testing.T) {
	results, err := Decode(strings.NewReader(sampleHOCR))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 page, got %d", len(results))
	}
	res := results[0]
	if len(res.Blocks) != 1 {
		t.Fatalf("expected 1 block, got %d", len(res.Blocks))
	}
	block := res.Blocks[0]
	if len(block.Lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(block.Lines))
	}

	words := res.Words()
	if len(words) != 3 {
		t.Fatalf("expected 3 words, got %d", len(words))
	}
	hello := words[0]
	if hello.Text != "Hello" {
		t.Fatalf("unexpected first word: %q", hello.Text)
	}
	want := ocr.Region{X: 10, Y: 37, Width: 65, Height: 13}
	if hello.Bounds != want {
		t.Fatalf("unexpected bounds: %+v, want %+v", hello.Bounds, want)
	}
	if hello.Confidence != 0.91 {
		t.Fatalf("unexpected confidence: %f", hello.Confidence)
	}
	if !strings.Contains(res.PlainText, "Hello PDF") || !strings.Contains(res.PlainText, "world") {
		t.Fatalf("unexpected plain text: %q", res.PlainText)
	}
}

func TestDecodeNoPages(t *testing.T) {
	results, err := Decode(strings.NewReader("<html><body><p>nothing here</p></body></html>"))
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected no pages, got %d", len(results))
	}
}

func TestParseTitle(t *testing.T) {
	props := parseTitle("bbox 10 37 75 50; x_wconf 91; baseline 0 -3")
	if props["bbox"] != "10 37 75 50" {
		t.Fatalf("unexpected bbox: %q", props["bbox"])
	}
	if props["x_wconf"] != "91" {
		t.Fatalf("unexpected x_wconf: %q", props["x_wconf"])
	}
	if _, ok := parseBBox("10 37 75"); ok {
		t.Fatalf("short bbox should not parse")
	}
}

func TestEncodeRoundTrip(t *testing.T) {
	in := ocr.Result{
		Blocks: []ocr.TextBlock{{
			Lines: []ocr.TextLine{{
				Words: []ocr.TextWord{
					{Text: "Hello", Bounds: ocr.Region{X: 10, Y: 37, Width: 65, Height: 13}, Confidence: 0.91},
					{Text: "<&>", Bounds: ocr.Region{X: 85, Y: 37, Width: 48, Height: 13}, Confidence: 0.80},
				},
			}},
		}},
	}
	var buf bytes.Buffer
	if err := Encode(&buf, in, 0, 200, 80); err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	results, err := Decode(bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("Decode(Encode()) error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 page, got %d", len(results))
	}
	words := results[0].Words()
	if len(words) != 2 || words[0].Text != "Hello" || words[1].Text != "<&>" {
		t.Fatalf("round trip lost words: %+v", words)
	}
	if words[0].Bounds != in.Blocks[0].Lines[0].Words[0].Bounds {
		t.Fatalf("round trip changed bounds: %+v", words[0].Bounds)
	}
}
