// Package hocr reads and writes the hOCR interchange format produced by
// Tesseract and other OCR tools. Only the classes the pipeline consumes are
// handled: ocr_page, ocr_carea, ocr_par, ocr_line and ocrx_word.
package hocr

import (
	"fmt"
	"html"
	"io"
	"strconv"
	"strings"

	xhtml "golang.org/x/net/html"

	"github.com/wudi/ocrkit/ocr"
)

// Decode parses an hOCR document into one ocr.Result per page element.
func Decode(r io.Reader) ([]ocr.Result, error) {
	doc, err := xhtml.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse hocr: %w", err)
	}
	var results []ocr.Result
	walk(doc, func(n *xhtml.Node) bool {
		if nodeClass(n) != "ocr_page" {
			return true
		}
		results = append(results, decodePage(n))
		return false
	})
	return results, nil
}

func decodePage(page *xhtml.Node) ocr.Result {
	var res ocr.Result
	walk(page, func(n *xhtml.Node) bool {
		switch nodeClass(n) {
		case "ocr_carea":
			res.Blocks = append(res.Blocks, decodeBlock(n))
			return false
		case "ocr_par", "ocr_line":
			// Paragraphs or lines directly under the page get a wrapper block.
			res.Blocks = append(res.Blocks, decodeBlock(n))
			return false
		}
		return true
	})
	var lines []string
	for i := range res.Blocks {
		if res.Blocks[i].Text != "" {
			lines = append(lines, res.Blocks[i].Text)
		}
	}
	res.PlainText = strings.Join(lines, "\n")
	return res
}

func decodeBlock(area *xhtml.Node) ocr.TextBlock {
	var block ocr.TextBlock
	walk(area, func(n *xhtml.Node) bool {
		if nodeClass(n) != "ocr_line" {
			return true
		}
		if line := decodeLine(n); len(line.Words) > 0 {
			block.Lines = append(block.Lines, line)
		}
		return false
	})
	var texts []string
	var sum float64
	for _, l := range block.Lines {
		texts = append(texts, l.Text)
		sum += l.Confidence
	}
	block.Text = strings.Join(texts, "\n")
	block.Bounds = mergeLineBounds(block.Lines)
	if len(block.Lines) > 0 {
		block.Confidence = sum / float64(len(block.Lines))
	}
	return block
}

func decodeLine(line *xhtml.Node) ocr.TextLine {
	var out ocr.TextLine
	walk(line, func(n *xhtml.Node) bool {
		if nodeClass(n) != "ocrx_word" {
			return true
		}
		word := ocr.TextWord{Text: textContent(n)}
		props := parseTitle(attr(n, "title"))
		if bbox, ok := parseBBox(props["bbox"]); ok {
			word.Bounds = bbox
		}
		if conf, err := strconv.ParseFloat(props["x_wconf"], 64); err == nil {
			word.Confidence = conf / 100.0
		}
		if word.Text != "" {
			out.Words = append(out.Words, word)
		}
		return false
	})
	var texts []string
	var sum float64
	for _, w := range out.Words {
		texts = append(texts, w.Text)
		sum += w.Confidence
	}
	out.Text = strings.Join(texts, " ")
	out.Bounds = mergeWordBounds(out.Words)
	if len(out.Words) > 0 {
		out.Confidence = sum / float64(len(out.Words))
	}
	if props := parseTitle(attr(line, "title")); props["bbox"] != "" {
		if bbox, ok := parseBBox(props["bbox"]); ok {
			out.Bounds = bbox
		}
	}
	return out
}

// Encode writes a minimal hOCR document for one page.
func Encode(w io.Writer, res ocr.Result, pageIndex, width, height int) error {
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\" encoding=\"UTF-8\"?>\n")
	b.WriteString("<html xmlns=\"http://www.w3.org/1999/xhtml\">\n<body>\n")
	fmt.Fprintf(&b, "<div class='ocr_page' id='page_%d' title='bbox 0 0 %d %d; ppageno %d'>\n",
		pageIndex+1, width, height, pageIndex)
	wordID := 0
	for bi, block := range res.Blocks {
		fmt.Fprintf(&b, "<div class='ocr_carea' id='block_%d' title='%s'>\n", bi+1, bboxTitle(block.Bounds))
		for li, line := range block.Lines {
			fmt.Fprintf(&b, "<span class='ocr_line' id='line_%d_%d' title='%s'>", bi+1, li+1, bboxTitle(line.Bounds))
			for _, word := range line.Words {
				wordID++
				fmt.Fprintf(&b, "<span class='ocrx_word' id='word_%d' title='%s; x_wconf %d'>%s</span> ",
					wordID, bboxTitle(word.Bounds), int(word.Confidence*100), html.EscapeString(word.Text))
			}
			b.WriteString("</span>\n")
		}
		b.WriteString("</div>\n")
	}
	b.WriteString("</div>\n</body>\n</html>\n")
	_, err := io.WriteString(w, b.String())
	return err
}

func bboxTitle(r ocr.Region) string {
	return fmt.Sprintf("bbox %d %d %d %d",
		int(r.X), int(r.Y), int(r.X+r.Width), int(r.Y+r.Height))
}

// walk visits n and its descendants. The visitor returns false to stop
// descending below the visited node.
func walk(n *xhtml.Node, visit func(*xhtml.Node) bool) {
	if !visit(n) {
		return
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		walk(c, visit)
	}
}

func nodeClass(n *xhtml.Node) string {
	if n.Type != xhtml.ElementNode {
		return ""
	}
	return attr(n, "class")
}

func attr(n *xhtml.Node, key string) string {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val
		}
	}
	return ""
}

func textContent(n *xhtml.Node) string {
	var sb strings.Builder
	var f func(*xhtml.Node)
	f = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			f(c)
		}
	}
	f(n)
	return strings.TrimSpace(sb.String())
}

// parseTitle splits an hOCR title attribute ("bbox 1 2 3 4; x_wconf 90")
// into a property map keyed by the first token of each clause.
func parseTitle(title string) map[string]string {
	props := make(map[string]string)
	for _, part := range strings.Split(title, ";") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		key, value, found := strings.Cut(part, " ")
		if !found {
			continue
		}
		props[key] = strings.TrimSpace(value)
	}
	return props
}

func parseBBox(v string) (ocr.Region, bool) {
	fields := strings.Fields(v)
	if len(fields) != 4 {
		return ocr.Region{}, false
	}
	nums := make([]float64, 4)
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return ocr.Region{}, false
		}
		nums[i] = n
	}
	return ocr.Region{X: nums[0], Y: nums[1], Width: nums[2] - nums[0], Height: nums[3] - nums[1]}, true
}

func mergeWordBounds(words []ocr.TextWord) ocr.Region {
	regions := make([]ocr.Region, len(words))
	for i, w := range words {
		regions[i] = w.Bounds
	}
	return mergeRegions(regions)
}

func mergeLineBounds(lines []ocr.TextLine) ocr.Region {
	regions := make([]ocr.Region, len(lines))
	for i, l := range lines {
		regions[i] = l.Bounds
	}
	return mergeRegions(regions)
}

func mergeRegions(regions []ocr.Region) ocr.Region {
	var out ocr.Region
	first := true
	for _, r := range regions {
		if r.IsEmpty() {
			continue
		}
		if first {
			out = r
			first = false
			continue
		}
		x2 := maxf(out.X+out.Width, r.X+r.Width)
		y2 := maxf(out.Y+out.Height, r.Y+r.Height)
		out.X = minf(out.X, r.X)
		out.Y = minf(out.Y, r.Y)
		out.Width = x2 - out.X
		out.Height = y2 - out.Y
	}
	return out
}

func minf(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
