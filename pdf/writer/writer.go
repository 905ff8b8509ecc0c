// Package writer serializes a model.Document to PDF: one image XObject per
// page, a content stream drawing the image and the positioned text runs, and
// a single shared Type0 Identity-H font for the text layer.
package writer

import (
	"bytes"
	"compress/zlib"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"hash"
	"io"
	"time"

	"github.com/wudi/ocrkit/pdf/font"
	"github.com/wudi/ocrkit/pdf/model"
	"github.com/wudi/ocrkit/pdf/raw"
)

const header = "%PDF-1.7\n%\xE2\xE3\xCF\xD3\n"

// Config controls serialization.
type Config struct {
	// Compress deflates content streams, the font program and the
	// ToUnicode CMap.
	Compress bool

	// Deterministic derives the file ID from document content and drops
	// wall-clock metadata, so equal inputs produce equal bytes.
	Deterministic bool
}

// builder assigns object numbers and collects indirect objects. Numbers may
// be reserved with alloc and materialized later with set, so objects can
// reference each other regardless of build order.
type builder struct {
	objects map[int]raw.Object
	next    int
}

func newBuilder() *builder {
	return &builder{objects: make(map[int]raw.Object), next: 1}
}

func (b *builder) alloc() raw.RefObj {
	ref := raw.Ref(b.next, 0)
	b.next++
	return ref
}

func (b *builder) set(ref raw.RefObj, obj raw.Object) { b.objects[ref.Ref().Num] = obj }

func (b *builder) add(obj raw.Object) raw.RefObj {
	ref := b.alloc()
	b.set(ref, obj)
	return ref
}

// Write serializes doc to out. The face must be the one the document's runs
// were measured against; its accumulated glyph mappings become the ToUnicode
// CMap.
func Write(out io.Writer, doc *model.Document, face *font.Face, cfg Config) error {
	if doc == nil || len(doc.Pages) == 0 {
		return fmt.Errorf("document has no pages")
	}
	if face == nil {
		return fmt.Errorf("nil font face")
	}

	b := newBuilder()
	catalogRef := b.alloc()
	pagesRef := b.alloc()

	hasText := false
	for _, p := range doc.Pages {
		if len(p.Runs) > 0 {
			hasText = true
			break
		}
	}
	var fontRef raw.RefObj
	if hasText {
		fontRef = b.alloc()
	}

	seed := sha256.New()
	io.WriteString(seed, doc.Info.Title)
	io.WriteString(seed, doc.Info.Producer)
	io.WriteString(seed, doc.Info.Creator)

	kids := raw.NewArray()
	for _, p := range doc.Pages {
		pageRef, err := b.addPage(p, face, pagesRef, fontRef, hasText, cfg, seed)
		if err != nil {
			return err
		}
		kids.Append(pageRef)
	}

	// Font objects come after the pages so the ToUnicode CMap covers
	// every encoded run.
	if hasText {
		if err := b.setFontObjects(fontRef, face, cfg); err != nil {
			return err
		}
	}

	pagesDict := raw.Dict()
	pagesDict.Set("Type", raw.NameLiteral("Pages"))
	pagesDict.Set("Kids", kids)
	pagesDict.Set("Count", raw.NumberInt(int64(len(doc.Pages))))
	b.set(pagesRef, pagesDict)

	catalog := raw.Dict()
	catalog.Set("Type", raw.NameLiteral("Catalog"))
	catalog.Set("Pages", pagesRef)
	b.set(catalogRef, catalog)

	infoRef := b.addInfo(doc.Info, cfg)

	// Serialize.
	var buf bytes.Buffer
	buf.WriteString(header)
	maxObj := b.next - 1
	offsets := make(map[int]int64, maxObj)
	for num := 1; num <= maxObj; num++ {
		obj, ok := b.objects[num]
		if !ok {
			return fmt.Errorf("object %d was reserved but never built", num)
		}
		offsets[num] = int64(buf.Len())
		serializeObject(&buf, num, obj)
	}

	xrefOffset := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", maxObj+1)
	buf.WriteString("0000000000 65535 f \n")
	for num := 1; num <= maxObj; num++ {
		fmt.Fprintf(&buf, "%010d 00000 n \n", offsets[num])
	}

	idA, idB, err := fileID(cfg, seed)
	if err != nil {
		return err
	}
	trailer := buildTrailer(maxObj+1, catalogRef, infoRef, idA, idB)
	buf.WriteString("trailer\n")
	buf.Write(serializePrimitive(trailer))
	fmt.Fprintf(&buf, "\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	_, err = out.Write(buf.Bytes())
	return err
}

func (b *builder) addPage(p *model.Page, face *font.Face, parent, fontRef raw.RefObj, hasText bool, cfg Config, seed hash.Hash) (raw.RefObj, error) {
	fmt.Fprintf(seed, "page %g %g\n", p.Width, p.Height)

	content := buildPageContent(p, face)
	seed.Write(content)

	data := content
	contentDict := raw.Dict()
	if cfg.Compress {
		enc, err := flateEncode(content)
		if err != nil {
			return raw.RefObj{}, err
		}
		data = enc
		contentDict.Set("Filter", raw.NameLiteral("FlateDecode"))
	}
	contentDict.Set("Length", raw.NumberInt(int64(len(data))))
	contentRef := b.add(raw.NewStream(contentDict, data))

	resources := raw.Dict()
	if p.Image != nil {
		seed.Write(p.Image.Data)
		imgRef, err := b.addImage(p.Image)
		if err != nil {
			return raw.RefObj{}, err
		}
		xobjects := raw.Dict()
		xobjects.Set("Im0", imgRef)
		resources.Set("XObject", xobjects)
	}
	if hasText {
		fonts := raw.Dict()
		fonts.Set("F1", fontRef)
		resources.Set("Font", fonts)
	}

	pageDict := raw.Dict()
	pageDict.Set("Type", raw.NameLiteral("Page"))
	pageDict.Set("Parent", parent)
	pageDict.Set("MediaBox", raw.NewArray(
		raw.NumberInt(0), raw.NumberInt(0),
		raw.NumberFloat(p.Width), raw.NumberFloat(p.Height),
	))
	pageDict.Set("Contents", contentRef)
	pageDict.Set("Resources", resources)
	return b.add(pageDict), nil
}

func (b *builder) addImage(img *model.Image) (raw.RefObj, error) {
	d := raw.Dict()
	d.Set("Type", raw.NameLiteral("XObject"))
	d.Set("Subtype", raw.NameLiteral("Image"))
	d.Set("Width", raw.NumberInt(int64(img.Width)))
	d.Set("Height", raw.NumberInt(int64(img.Height)))
	cs := img.ColorSpace
	if cs == "" {
		cs = "DeviceRGB"
	}
	d.Set("ColorSpace", raw.NameLiteral(cs))
	bpc := img.BitsPerComponent
	if bpc == 0 {
		bpc = 8
	}
	d.Set("BitsPerComponent", raw.NumberInt(int64(bpc)))
	d.Set("Interpolate", raw.Bool(true))

	data := img.Data
	switch img.Format {
	case model.EncodingDCT:
		d.Set("Filter", raw.NameLiteral("DCTDecode"))
	case model.EncodingFlate:
		enc, err := flateEncode(data)
		if err != nil {
			return raw.RefObj{}, err
		}
		data = enc
		d.Set("Filter", raw.NameLiteral("FlateDecode"))
	default:
		return raw.RefObj{}, fmt.Errorf("unknown image encoding %d", img.Format)
	}
	d.Set("Length", raw.NumberInt(int64(len(data))))
	return b.add(raw.NewStream(d, data)), nil
}

func (b *builder) addInfo(info model.Info, cfg Config) *raw.RefObj {
	d := raw.Dict()
	if info.Title != "" {
		d.Set("Title", raw.Str([]byte(info.Title)))
	}
	if info.Producer != "" {
		d.Set("Producer", raw.Str([]byte(info.Producer)))
	}
	if info.Creator != "" {
		d.Set("Creator", raw.Str([]byte(info.Creator)))
	}
	if !cfg.Deterministic && !info.Created.IsZero() {
		d.Set("CreationDate", raw.Str([]byte(pdfDate(info.Created))))
	}
	if d.Len() == 0 {
		return nil
	}
	ref := b.add(d)
	return &ref
}

func buildTrailer(size int, catalogRef raw.RefObj, infoRef *raw.RefObj, idA, idB []byte) *raw.DictObj {
	trailer := raw.Dict()
	trailer.Set("Size", raw.NumberInt(int64(size)))
	trailer.Set("Root", catalogRef)
	if infoRef != nil {
		trailer.Set("Info", *infoRef)
	}
	trailer.Set("ID", raw.NewArray(raw.HexStr(idA), raw.HexStr(idB)))
	return trailer
}

// fileID returns the two trailer ID entries. Deterministic output reuses the
// content digest for both.
func fileID(cfg Config, seed hash.Hash) ([]byte, []byte, error) {
	if cfg.Deterministic {
		sum := seed.Sum(nil)
		return sum[:16], sum[:16], nil
	}
	a := make([]byte, 16)
	if _, err := rand.Read(a); err != nil {
		return nil, nil, err
	}
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return nil, nil, err
	}
	return a, b, nil
}

func pdfDate(t time.Time) string {
	return t.UTC().Format("D:20060102150405Z")
}

// flateEncode compresses stream data with the zlib framing FlateDecode
// consumers expect.
func flateEncode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := zlib.NewWriterLevel(&buf, zlib.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
