package danfe

import (
	"bytes"
	"io"

	"github.com/jung-kurt/gofpdf"
)

// PageSize is a page format in millimetres
type PageSize struct {
	W, H float64
}

// Page formats
var (
	PageA4    = PageSize{W: 210, H: 297}
	PageLabel = PageSize{W: 100, H: 50}
)

// Canvas is the set of drawing primitives the renderers need. Coordinates
// are millimetres from the top-left corner of the current page.
type Canvas interface {
	AddPage()
	PageNo() int
	SetFont(family, style string, size float64)
	Text(x, y float64, s string)
	Cell(x, y, w, h float64, s, border, align string)
	Rect(x, y, w, h float64)
	Line(x1, y1, x2, y2 float64)
	Image(name string, png []byte, x, y, w, h float64)
	Output(w io.Writer) error
}

// CanvasFactory creates an empty canvas for the given page format
type CanvasFactory func(size PageSize) Canvas

// PDFCanvas draws onto a gofpdf document
type PDFCanvas struct {
	pdf *gofpdf.Fpdf
	tr  func(string) string
}

// NewPDFCanvas creates a PDF canvas with manual page breaking
func NewPDFCanvas(size PageSize) Canvas {
	pdf := gofpdf.NewCustom(&gofpdf.InitType{
		OrientationStr: "P",
		UnitStr:        "mm",
		Size:           gofpdf.SizeType{Wd: size.W, Ht: size.H},
	})
	pdf.SetMargins(0, 0, 0)
	pdf.SetAutoPageBreak(false, 0)
	pdf.SetCreator("nfe-danfe", true)
	return &PDFCanvas{
		pdf: pdf,
		// core fonts are cp1252; accents in names and labels need translating
		tr: pdf.UnicodeTranslatorFromDescriptor(""),
	}
}

func (c *PDFCanvas) AddPage() { c.pdf.AddPage() }

func (c *PDFCanvas) PageNo() int { return c.pdf.PageNo() }

func (c *PDFCanvas) SetFont(family, style string, size float64) {
	c.pdf.SetFont(family, style, size)
}

func (c *PDFCanvas) Text(x, y float64, s string) {
	c.pdf.Text(x, y, c.tr(s))
}

func (c *PDFCanvas) Cell(x, y, w, h float64, s, border, align string) {
	c.pdf.SetXY(x, y)
	c.pdf.CellFormat(w, h, c.tr(s), border, 0, align, false, 0, "")
}

func (c *PDFCanvas) Rect(x, y, w, h float64) {
	c.pdf.Rect(x, y, w, h, "D")
}

func (c *PDFCanvas) Line(x1, y1, x2, y2 float64) {
	c.pdf.Line(x1, y1, x2, y2)
}

func (c *PDFCanvas) Image(name string, png []byte, x, y, w, h float64) {
	opt := gofpdf.ImageOptions{ImageType: "PNG"}
	if info := c.pdf.GetImageInfo(name); info == nil {
		c.pdf.RegisterImageOptionsReader(name, opt, bytes.NewReader(png))
	}
	c.pdf.ImageOptions(name, x, y, w, h, false, opt, 0, "")
}

// Output writes the finished document. Any drawing error recorded by gofpdf
// surfaces here.
func (c *PDFCanvas) Output(w io.Writer) error {
	return c.pdf.Output(w)
}
