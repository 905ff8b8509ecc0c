package writer

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"unicode/utf16"

	"github.com/wudi/ocrkit/pdf/font"
	"github.com/wudi/ocrkit/pdf/raw"
)

// setFontObjects materializes the reserved Type0 font reference: descendant
// CIDFontType2, font descriptor, embedded FontFile2 and the ToUnicode CMap.
func (b *builder) setFontObjects(type0Ref raw.RefObj, face *font.Face, cfg Config) error {
	name := pdfNameLiteral(face.PostScriptName())

	fontFile := face.FontFile()
	ffDict := raw.Dict()
	ffDict.Set("Length1", raw.NumberInt(int64(len(fontFile))))
	ffData := fontFile
	if cfg.Compress {
		enc, err := flateEncode(fontFile)
		if err != nil {
			return err
		}
		ffData = enc
		ffDict.Set("Filter", raw.NameLiteral("FlateDecode"))
	}
	ffDict.Set("Length", raw.NumberInt(int64(len(ffData))))
	fontFileRef := b.add(raw.NewStream(ffDict, ffData))

	bbox := face.BBox()
	desc := raw.Dict()
	desc.Set("Type", raw.NameLiteral("FontDescriptor"))
	desc.Set("FontName", raw.NameLiteral(name))
	desc.Set("Flags", raw.NumberInt(4))
	desc.Set("ItalicAngle", raw.NumberFloat(face.ItalicAngle()))
	desc.Set("Ascent", raw.NumberFloat(face.Ascent()))
	desc.Set("Descent", raw.NumberFloat(face.Descent()))
	desc.Set("CapHeight", raw.NumberFloat(face.CapHeight()))
	desc.Set("StemV", raw.NumberInt(80))
	desc.Set("FontBBox", raw.NewArray(
		raw.NumberFloat(bbox[0]), raw.NumberFloat(bbox[1]),
		raw.NumberFloat(bbox[2]), raw.NumberFloat(bbox[3]),
	))
	desc.Set("FontFile2", fontFileRef)
	descRef := b.add(desc)

	cidInfo := raw.Dict()
	cidInfo.Set("Registry", raw.Str([]byte("Adobe")))
	cidInfo.Set("Ordering", raw.Str([]byte("Identity")))
	cidInfo.Set("Supplement", raw.NumberInt(0))

	descendant := raw.Dict()
	descendant.Set("Type", raw.NameLiteral("Font"))
	descendant.Set("Subtype", raw.NameLiteral("CIDFontType2"))
	descendant.Set("BaseFont", raw.NameLiteral(name))
	descendant.Set("CIDSystemInfo", cidInfo)
	descendant.Set("DW", raw.NumberInt(int64(face.DefaultWidth())))
	descendant.Set("W", encodeCIDWidths(face.Widths()))
	descendant.Set("CIDToGIDMap", raw.NameLiteral("Identity"))
	descendant.Set("FontDescriptor", descRef)
	descendantRef := b.add(descendant)

	type0 := raw.Dict()
	type0.Set("Type", raw.NameLiteral("Font"))
	type0.Set("Subtype", raw.NameLiteral("Type0"))
	type0.Set("BaseFont", raw.NameLiteral(name))
	type0.Set("Encoding", raw.NameLiteral("Identity-H"))
	type0.Set("DescendantFonts", raw.NewArray(descendantRef))

	if cmap := buildToUnicodeCMap(face); len(cmap) > 0 {
		cuDict := raw.Dict()
		cuData := cmap
		if cfg.Compress {
			enc, err := flateEncode(cmap)
			if err != nil {
				return err
			}
			cuData = enc
			cuDict.Set("Filter", raw.NameLiteral("FlateDecode"))
		}
		cuDict.Set("Length", raw.NumberInt(int64(len(cuData))))
		type0.Set("ToUnicode", b.add(raw.NewStream(cuDict, cuData)))
	}

	b.set(type0Ref, type0)
	return nil
}

// encodeCIDWidths run-compresses the W array as start/end/width triples over
// runs of consecutive CIDs with equal widths.
func encodeCIDWidths(widths map[int]int) *raw.ArrayObj {
	arr := raw.NewArray()
	if len(widths) == 0 {
		return arr
	}
	codes := make([]int, 0, len(widths))
	for c := range widths {
		codes = append(codes, c)
	}
	sort.Ints(codes)
	start := codes[0]
	prev := codes[0]
	current := widths[codes[0]]
	for i := 1; i < len(codes); i++ {
		code := codes[i]
		w := widths[code]
		if w == current && code == prev+1 {
			prev = code
			continue
		}
		arr.Append(raw.NumberInt(int64(start)))
		arr.Append(raw.NumberInt(int64(prev)))
		arr.Append(raw.NumberInt(int64(current)))
		start = code
		prev = code
		current = w
	}
	arr.Append(raw.NumberInt(int64(start)))
	arr.Append(raw.NumberInt(int64(prev)))
	arr.Append(raw.NumberInt(int64(current)))
	return arr
}

func buildToUnicodeCMap(face *font.Face) []byte {
	mapping := face.ToUnicode()
	if len(mapping) == 0 {
		return nil
	}
	keys := make([]int, 0, len(mapping))
	for cid := range mapping {
		keys = append(keys, cid)
	}
	sort.Ints(keys)

	name := strings.ReplaceAll(face.PostScriptName(), " ", "") + "-UTF16"
	minCID, maxCID := keys[0], keys[len(keys)-1]

	var buf bytes.Buffer
	buf.WriteString("/CIDInit /ProcSet findresource begin\n")
	buf.WriteString("12 dict begin\n")
	buf.WriteString("begincmap\n")
	buf.WriteString("/CIDSystemInfo << /Registry (Adobe) /Ordering (Identity) /Supplement 0 >> def\n")
	fmt.Fprintf(&buf, "/CMapName /%s def\n", name)
	buf.WriteString("/CMapType 2 def\n")
	buf.WriteString("1 begincodespacerange\n")
	fmt.Fprintf(&buf, "<%04X> <%04X>\n", minCID, maxCID)
	buf.WriteString("endcodespacerange\n")
	for i := 0; i < len(keys); {
		chunk := len(keys) - i
		if chunk > 100 {
			chunk = 100
		}
		fmt.Fprintf(&buf, "%d beginbfchar\n", chunk)
		for j := 0; j < chunk; j++ {
			cid := keys[i+j]
			fmt.Fprintf(&buf, "<%04X> <%s>\n", cid, utf16Hex(mapping[cid]))
		}
		buf.WriteString("endbfchar\n")
		i += chunk
	}
	buf.WriteString("endcmap\n")
	buf.WriteString("CMapName currentdict /CMap defineresource pop\n")
	buf.WriteString("end\nend\n")
	return buf.Bytes()
}

func utf16Hex(runes []rune) string {
	if len(runes) == 0 {
		return ""
	}
	encoded := utf16.Encode(runes)
	var b strings.Builder
	for _, u := range encoded {
		fmt.Fprintf(&b, "%04X", u)
	}
	return b.String()
}
