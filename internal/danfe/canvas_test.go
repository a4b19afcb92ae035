package danfe

import (
	"fmt"
	"io"
	"strings"
)

type recordedCell struct {
	x, y, w float64
	text    string
}

type recordedImage struct {
	name       string
	x, y, w, h float64
}

type recordedPage struct {
	texts  []string
	cells  []recordedCell
	images []string
	placed []recordedImage
}

// recordingCanvas keeps what was drawn per page so layout can be asserted
type recordingCanvas struct {
	size  PageSize
	pages []*recordedPage
}

func newRecordingCanvas(size PageSize) Canvas {
	return &recordingCanvas{size: size}
}

func (c *recordingCanvas) current() *recordedPage {
	if len(c.pages) == 0 {
		panic("drawing before AddPage")
	}
	return c.pages[len(c.pages)-1]
}

func (c *recordingCanvas) AddPage()                      { c.pages = append(c.pages, &recordedPage{}) }
func (c *recordingCanvas) PageNo() int                   { return len(c.pages) }
func (c *recordingCanvas) SetFont(string, string, float64) {}
func (c *recordingCanvas) Rect(x, y, w, h float64)       { c.checkBounds(x+w, y+h) }
func (c *recordingCanvas) Line(x1, y1, x2, y2 float64)   { c.checkBounds(x2, y2) }

func (c *recordingCanvas) Text(x, y float64, s string) {
	c.checkBounds(x, y)
	p := c.current()
	p.texts = append(p.texts, s)
}

func (c *recordingCanvas) Cell(x, y, w, h float64, s, border, align string) {
	c.checkBounds(x+w, y+h)
	p := c.current()
	p.texts = append(p.texts, s)
	p.cells = append(p.cells, recordedCell{x: x, y: y, w: w, text: s})
}

func (c *recordingCanvas) Image(name string, png []byte, x, y, w, h float64) {
	c.checkBounds(x+w, y+h)
	p := c.current()
	p.images = append(p.images, name)
	p.placed = append(p.placed, recordedImage{name: name, x: x, y: y, w: w, h: h})
}

func (c *recordingCanvas) Output(w io.Writer) error {
	_, err := fmt.Fprintf(w, "%d pages", len(c.pages))
	return err
}

func (c *recordingCanvas) checkBounds(x, y float64) {
	if x > c.size.W+0.001 || y > c.size.H+0.001 {
		panic(fmt.Sprintf("drawing outside page: (%.1f, %.1f)", x, y))
	}
}

func (p *recordedPage) contains(s string) bool {
	for _, t := range p.texts {
		if strings.Contains(t, s) {
			return true
		}
	}
	return false
}
