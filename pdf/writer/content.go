package writer

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"

	"github.com/wudi/ocrkit/pdf/font"
	"github.com/wudi/ocrkit/pdf/model"
)

// buildPageContent emits the operators for one page: the image scaled to the
// media box, then each text run as a CID-encoded Tj.
func buildPageContent(p *model.Page, face *font.Face) []byte {
	var b bytes.Buffer
	if p.Image != nil {
		fmt.Fprintf(&b, "q\n%s 0 0 %s 0 0 cm\n/Im0 Do\nQ\n", fnum(p.Width), fnum(p.Height))
	}
	for _, run := range p.Runs {
		cids, _ := face.Encode(run.Text)
		if len(cids) == 0 {
			continue
		}
		b.WriteString("BT\n")
		fmt.Fprintf(&b, "%d Tr\n", run.Mode)
		fmt.Fprintf(&b, "/F1 %s Tf\n", fnum(run.FontSize))
		if run.ScaleX > 0 && run.ScaleX != 100 {
			fmt.Fprintf(&b, "%s Tz\n", fnum(run.ScaleX))
		}
		if run.Vertical {
			// Rotate 90 degrees clockwise: text flows down the page.
			fmt.Fprintf(&b, "0 -1 1 0 %s %s Tm\n", fnum(run.X), fnum(run.Y))
		} else {
			fmt.Fprintf(&b, "1 0 0 1 %s %s Tm\n", fnum(run.X), fnum(run.Y))
		}
		fmt.Fprintf(&b, "<%s> Tj\n", strings.ToUpper(hex.EncodeToString(cids)))
		b.WriteString("ET\n")
	}
	return b.Bytes()
}

// fnum formats a content-stream operand: fixed precision, trailing zeros
// trimmed, never exponent notation.
func fnum(f float64) string {
	s := strconv.FormatFloat(f, 'f', 2, 64)
	s = strings.TrimRight(s, "0")
	s = strings.TrimRight(s, ".")
	if s == "" || s == "-0" {
		return "0"
	}
	return s
}
