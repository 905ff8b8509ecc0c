// Package model describes a searchable scanned document before
// serialization: one raster image per page plus positioned text runs.
package model

import "time"

// ImageEncoding states how Image.Data is encoded.
type ImageEncoding int

const (
	// EncodingDCT means Data is a complete JPEG stream, embedded as-is.
	EncodingDCT ImageEncoding = iota
	// EncodingFlate means Data holds raw samples the writer deflates.
	EncodingFlate
)

// TextRenderMode selects the PDF Tr operand for a run.
type TextRenderMode int

const (
	RenderFill      TextRenderMode = 0
	RenderInvisible TextRenderMode = 3
)

// Image is a page raster.
type Image struct {
	Width  int
	Height int
	Data   []byte
	Format ImageEncoding

	// ColorSpace is DeviceRGB or DeviceGray.
	ColorSpace       string
	BitsPerComponent int
}

// TextRun is one line of positioned text. Coordinates follow PDF
// conventions: origin at the lower-left corner of the page, units in points,
// X/Y locating the text baseline start.
type TextRun struct {
	Text     string
	X        float64
	Y        float64
	FontSize float64

	// ScaleX is the horizontal scaling percentage (Tz). Zero means 100.
	ScaleX float64

	// Vertical rotates the run 90 degrees clockwise so text flows down
	// the page, for tall narrow regions.
	Vertical bool

	Mode TextRenderMode
}

// Page is one output page.
type Page struct {
	// Width and Height are the media box in points.
	Width  float64
	Height float64

	// Image is the visible page raster. Nil produces a blank page.
	Image *Image

	Runs []TextRun
}

// Info carries document metadata.
type Info struct {
	Title    string
	Producer string
	Creator  string
	Created  time.Time
}

// Document is an ordered set of pages.
type Document struct {
	Pages []*Page
	Info  Info
}

// AddPage appends a page and returns it.
func (d *Document) AddPage(width, height float64) *Page {
	p := &Page{Width: width, Height: height}
	d.Pages = append(d.Pages, p)
	return p
}
