package danfe

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/qrcode"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNoLabels is returned when there is nothing to print
var ErrNoLabels = errors.New("no labels to render")

const labelQRPixels = 240

// LabelRenderer prints one 100x50 mm page per volume or master label
type LabelRenderer struct {
	newCanvas CanvasFactory
	logger    *zap.Logger
}

// NewLabelRenderer creates a label renderer. A nil factory draws PDFs with gofpdf.
func NewLabelRenderer(factory CanvasFactory, logger *zap.Logger) *LabelRenderer {
	if factory == nil {
		factory = NewPDFCanvas
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LabelRenderer{newCanvas: factory, logger: logger}
}

// RenderLabels prints the volumes in order followed by the master label, if any
func (r *LabelRenderer) RenderLabels(volumes []entity.Volume, master *entity.MasterLabel) ([]byte, error) {
	c := r.newCanvas(PageLabel)
	if err := r.Draw(c, volumes, master); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := c.Output(&buf); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// Draw lays the labels out on c
func (r *LabelRenderer) Draw(c Canvas, volumes []entity.Volume, master *entity.MasterLabel) error {
	if len(volumes) == 0 && master == nil {
		return ErrNoLabels
	}

	for _, v := range volumes {
		if err := drawLabel(c, v, fmt.Sprintf("VOLUME %d/%d", v.Sequence, v.TotalInSet)); err != nil {
			return err
		}
	}
	if master != nil {
		title := fmt.Sprintf("ETIQUETA MÃE - %d VOLUMES", master.ChildCount)
		if err := drawLabel(c, master.Volume, title); err != nil {
			return err
		}
	}

	r.logger.Debug("Labels rendered",
		zap.Int("volumes", len(volumes)),
		zap.Bool("master", master != nil))
	return nil
}

func drawLabel(c Canvas, v entity.Volume, title string) error {
	symbol, _, err := qrcode.Symbol(v.LabelCode, labelQRPixels)
	if err != nil {
		return fmt.Errorf("%w: label %s: %v", ErrRender, v.LabelCode, err)
	}

	c.AddPage()
	c.Rect(2, 2, 96, 46)

	c.SetFont(fontFamily, "", 6)
	c.Text(4, 5.5, truncate(fmt.Sprintf("REMETENTE: %s - %s/%s", v.SenderName, v.SenderCity, v.SenderRegion), 70))

	c.SetFont(fontFamily, "B", 9)
	c.Text(4, 10.5, truncate(orNA(v.ReceiverName), 40))
	c.SetFont(fontFamily, "", 6)
	c.Text(4, 14, truncate(orNA(v.ReceiverAddress), 60))
	c.SetFont(fontFamily, "B", 8)
	c.Text(4, 18, fmt.Sprintf("%s - %s", orNA(v.ReceiverCity), orNA(v.ReceiverRegion)))

	c.Line(2, 20, 98, 20)
	c.SetFont(fontFamily, "B", 10)
	c.Text(4, 25, "NF-e "+FormatDocNumber(v.InvoiceNumber))
	c.SetFont(fontFamily, "B", 9)
	c.Text(4, 29.5, title)

	c.SetFont(fontFamily, "", 6.5)
	c.Text(4, 33, "Pedido: "+orNA(v.PurchaseOrder))
	c.Text(4, 36, fmt.Sprintf("Peso: %s  Espécie: %s", weight(v.GrossWeight), orNA(v.Species)))
	c.Text(4, 39, "Transp.: "+truncate(orNA(v.CarrierName), 40))

	if h := v.Hazard; h != nil {
		c.SetFont(fontFamily, "B", 7)
		c.Cell(4, 40.5, 64, 4.5, fmt.Sprintf("ONU %s | RISCO %s | CLASSE %s",
			h.UNNumber, orNA(h.RiskCode), orNA(h.Classification)), "1", "C")
	}

	c.Image("label-"+v.LabelCode, symbol, 72, 22, 24, 24)
	c.SetFont(fontFamily, "", 5.5)
	c.Text(4, 47, v.LabelCode)
	return nil
}

func weight(d decimal.Decimal) string {
	if d.IsZero() {
		return NotAvailable
	}
	return formatDecimal(d, 3) + " kg"
}
