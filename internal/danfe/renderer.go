package danfe

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/internal/qrcode"
	"github.com/garyjia/nfe-danfe/pkg/utils"
	"go.uber.org/zap"
)

var (
	// ErrInvalidAccessKey is returned when the invoice cannot be rendered for lack of a valid key
	ErrInvalidAccessKey = errors.New("invoice access key is missing or malformed")
	// ErrRender is returned when the canvas fails to produce output
	ErrRender = errors.New("failed to render document")
)

// ContinuationMarker is printed below the header of every page after the first
const ContinuationMarker = "CONTINUAÇÃO"

// Layout of the A4 DANFE, in millimetres
const (
	margin       = 5.0
	contentWidth = 200.0
	headerTop    = margin
	headerBottom = 55.0
	rowHeight    = 4.0
	footerTop    = 257.0
	pageBottom   = 292.0

	firstItemsTop = 145.0
	contItemsTop  = 68.0
	fontFamily    = "Helvetica"
)

type column struct {
	title string
	width float64
	align string
}

var itemColumns = []column{
	{"CÓDIGO", 18, "L"},
	{"DESCRIÇÃO DO PRODUTO / SERVIÇO", 52, "L"},
	{"NCM/SH", 14, "C"},
	{"CST", 9, "C"},
	{"CFOP", 9, "C"},
	{"UN", 8, "C"},
	{"QUANT", 16, "R"},
	{"V.UNIT", 17, "R"},
	{"V.TOTAL", 17, "R"},
	{"BC ICMS", 15, "R"},
	{"V.ICMS", 13, "R"},
	{"ALÍQ", 12, "R"},
}

// FirstPageRows and ContinuationRows are the item capacities per page
var (
	FirstPageRows    = int((footerTop - firstItemsTop) / rowHeight)
	ContinuationRows = int((pageBottom - contItemsTop) / rowHeight)
)

// Paginate splits items into page-sized slices. There is always at least
// one page, even for an invoice without items.
func Paginate(items []entity.LineItem) [][]entity.LineItem {
	pages := [][]entity.LineItem{}
	first := FirstPageRows
	if first > len(items) {
		first = len(items)
	}
	pages = append(pages, items[:first])
	for rest := items[first:]; len(rest) > 0; {
		n := ContinuationRows
		if n > len(rest) {
			n = len(rest)
		}
		pages = append(pages, rest[:n])
		rest = rest[n:]
	}
	return pages
}

// Renderer lays out the DANFE onto a canvas
type Renderer struct {
	newCanvas CanvasFactory
	logger    *zap.Logger
}

// NewRenderer creates a DANFE renderer. A nil factory draws PDFs with gofpdf.
func NewRenderer(factory CanvasFactory, logger *zap.Logger) *Renderer {
	if factory == nil {
		factory = NewPDFCanvas
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Renderer{newCanvas: factory, logger: logger}
}

// Render produces the finished document bytes. qr may be nil, in which case
// the QR box shows the not-available placeholder.
func (r *Renderer) Render(inv *entity.Invoice, qr *qrcode.Artifact) ([]byte, error) {
	c := r.newCanvas(PageA4)
	if err := r.Draw(c, inv, qr); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := c.Output(&buf); err != nil {
		r.logger.Error("DANFE output failed",
			zap.String("access_key", inv.Identification.AccessKey),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrRender, err)
	}
	return buf.Bytes(), nil
}

// Draw lays the invoice out on c without producing output
func (r *Renderer) Draw(c Canvas, inv *entity.Invoice, qr *qrcode.Artifact) error {
	if err := utils.ValidateAccessKey(inv.Identification.AccessKey); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAccessKey, err)
	}

	pages := Paginate(inv.Items)
	for i, items := range pages {
		c.AddPage()
		pageNo := i + 1
		drawHeader(c, inv, pageNo, len(pages))

		top := firstItemsTop
		if pageNo == 1 {
			drawParties(c, inv)
			drawBilling(c, inv.Billing)
			drawTaxes(c, inv.Totals)
			drawTransport(c, inv.Transport)
			drawFooter(c, inv, qr)
		} else {
			c.SetFont(fontFamily, "B", 9)
			c.Cell(margin, headerBottom, contentWidth, 4, ContinuationMarker, "1", "C")
			top = contItemsTop
		}
		drawItems(c, items, top)
	}

	r.logger.Info("DANFE rendered",
		zap.String("access_key", inv.Identification.AccessKey),
		zap.String("invoice_number", inv.Identification.Number),
		zap.Int("items", len(inv.Items)),
		zap.Int("pages", len(pages)))
	return nil
}

// field draws a labelled box: small caption on top, value below
func field(c Canvas, x, y, w, h float64, caption, value, align string) {
	c.Rect(x, y, w, h)
	c.SetFont(fontFamily, "", 5)
	c.Text(x+1, y+2.2, caption)
	c.SetFont(fontFamily, "", 7.5)
	c.Cell(x+0.5, y+h-4.5, w-1, 4, orNA(value), "", align)
}

func section(c Canvas, y float64, title string) {
	c.SetFont(fontFamily, "B", 6)
	c.Text(margin, y+2.2, title)
}

func drawHeader(c Canvas, inv *entity.Invoice, page, total int) {
	id := inv.Identification
	em := inv.Emitter

	// Issuer identity
	c.Rect(margin, headerTop, 85, 34)
	c.SetFont(fontFamily, "B", 9)
	c.Cell(margin+1, headerTop+2, 83, 5, truncate(orNA(em.LegalName), 45), "", "C")
	c.SetFont(fontFamily, "", 7)
	street := strings.TrimSpace(em.Street + ", " + em.Number)
	c.Cell(margin+1, headerTop+10, 83, 4, truncate(street, 55), "", "C")
	c.Cell(margin+1, headerTop+14, 83, 4, truncate(em.District+" - "+FormatCEP(em.PostalCode), 55), "", "C")
	c.Cell(margin+1, headerTop+18, 83, 4, em.City+" - "+em.Region, "", "C")
	c.Cell(margin+1, headerTop+22, 83, 4, "Fone: "+orNA(em.Phone), "", "C")

	// Document identification
	x := margin + 85
	c.Rect(x, headerTop, 35, 34)
	c.SetFont(fontFamily, "B", 12)
	c.Cell(x, headerTop+1, 35, 5, "DANFE", "", "C")
	c.SetFont(fontFamily, "", 5.5)
	c.Cell(x, headerTop+6, 35, 3, "Documento Auxiliar da", "", "C")
	c.Cell(x, headerTop+9, 35, 3, "Nota Fiscal Eletrônica", "", "C")
	c.Text(x+2, headerTop+15, "0 - ENTRADA")
	c.Text(x+2, headerTop+18, "1 - SAÍDA")
	c.SetFont(fontFamily, "B", 9)
	c.Cell(x+25, headerTop+13, 6, 6, orNA(id.OperationType), "1", "C")
	c.SetFont(fontFamily, "B", 7)
	c.Cell(x, headerTop+20, 35, 3.5, "Nº "+FormatDocNumber(id.Number), "", "C")
	c.Cell(x, headerTop+23.5, 35, 3.5, "SÉRIE "+FormatSeries(id.Series), "", "C")
	c.Cell(x, headerTop+27, 35, 3.5, fmt.Sprintf("FOLHA %d/%d", page, total), "", "C")
	c.SetFont(fontFamily, "", 6)
	c.Cell(x, headerTop+30.5, 35, 3, "EMISSÃO "+FormatDate(id.IssuedAt), "", "C")

	// Access key and protocol
	x += 35
	field(c, x, headerTop, 80, 12, "CHAVE DE ACESSO", FormatAccessKey(id.AccessKey), "C")
	c.SetFont(fontFamily, "", 6)
	c.Cell(x, headerTop+13, 80, 3, "Consulta de autenticidade no portal nacional da NF-e", "", "C")
	c.Cell(x, headerTop+16, 80, 3, "www.nfe.fazenda.gov.br/portal ou no site da Sefaz Autorizadora", "", "C")
	protocol := NotAvailable
	if id.Protocol != "" {
		protocol = id.Protocol
		if id.ProtocolAt != nil {
			protocol += " - " + FormatDateTime(id.ProtocolAt)
		}
	}
	field(c, x, headerTop+22, 80, 12, "PROTOCOLO DE AUTORIZAÇÃO DE USO", protocol, "C")

	y := headerTop + 34
	field(c, margin, y, 120, 8, "NATUREZA DA OPERAÇÃO", id.OperationNature, "L")
	field(c, margin+120, y, 80, 8, "INSCRIÇÃO ESTADUAL", em.StateRegistration, "L")
	y += 8
	field(c, margin, y, 120, 8, "CNPJ", FormatTaxID(em.TaxID), "L")
	field(c, margin+120, y, 80, 8, "AMBIENTE", environmentLabel(id.Environment), "L")
}

func environmentLabel(code string) string {
	switch code {
	case entity.EnvironmentProduction:
		return "1 - PRODUÇÃO"
	case entity.EnvironmentHomologation:
		return "2 - HOMOLOGAÇÃO (SEM VALOR FISCAL)"
	}
	return code
}

func drawParties(c Canvas, inv *entity.Invoice) {
	d := inv.Recipient
	id := inv.Identification

	section(c, 56, "DESTINATÁRIO / REMETENTE")
	y := 59.0
	field(c, margin, y, 110, 8, "NOME / RAZÃO SOCIAL", truncate(d.LegalName, 60), "L")
	field(c, margin+110, y, 50, 8, "CNPJ / CPF", FormatTaxID(d.TaxID), "L")
	field(c, margin+160, y, 40, 8, "DATA DA EMISSÃO", FormatDate(id.IssuedAt), "C")
	y += 8
	addr := d.Street
	if d.Number != "" {
		addr += ", " + d.Number
	}
	if d.Complement != "" {
		addr += " - " + d.Complement
	}
	field(c, margin, y, 90, 8, "ENDEREÇO", truncate(addr, 50), "L")
	field(c, margin+90, y, 50, 8, "BAIRRO / DISTRITO", truncate(d.District, 28), "L")
	field(c, margin+140, y, 25, 8, "CEP", FormatCEP(d.PostalCode), "C")
	field(c, margin+165, y, 35, 8, "DATA DA SAÍDA", FormatDate(id.DepartureAt), "C")
	y += 8
	field(c, margin, y, 80, 8, "MUNICÍPIO", d.City, "L")
	field(c, margin+80, y, 40, 8, "FONE / FAX", d.Phone, "L")
	field(c, margin+120, y, 15, 8, "UF", d.Region, "C")
	field(c, margin+135, y, 65, 8, "INSCRIÇÃO ESTADUAL", d.StateRegistration, "L")
}

func drawBilling(c Canvas, b *entity.Billing) {
	section(c, 84, "FATURA / DUPLICATAS")
	y := 87.0
	if b == nil || len(b.Installments) == 0 {
		field(c, margin, y, contentWidth, 8, "DUPLICATAS", NotAvailable, "L")
		return
	}

	const perRow = 5
	w := contentWidth / perRow
	for i, inst := range b.Installments {
		if i == perRow {
			break
		}
		value := fmt.Sprintf("%s  %s  R$ %s", orNA(inst.Number), FormatDate(inst.DueDate), FormatMoney(inst.Value))
		field(c, margin+float64(i)*w, y, w, 8, "NÚM. / VENC. / VALOR", value, "L")
	}
}

func drawTaxes(c Canvas, t entity.Totals) {
	section(c, 96, "CÁLCULO DO IMPOSTO")
	w := contentWidth / 6
	row := func(y float64, cells [][2]string) {
		for i, cell := range cells {
			field(c, margin+float64(i)*w, y, w, 8, cell[0], cell[1], "R")
		}
	}
	row(99, [][2]string{
		{"BASE DE CÁLC. DO ICMS", FormatMoney(t.ICMSBase)},
		{"VALOR DO ICMS", FormatMoney(t.ICMSValue)},
		{"BASE DE CÁLC. ICMS S.T.", FormatMoney(t.STBase)},
		{"VALOR DO ICMS SUBST.", FormatMoney(t.STValue)},
		{"V. APROX. TRIBUTOS", FormatMoney(t.ApproxTaxes)},
		{"VALOR TOTAL DOS PRODUTOS", FormatMoney(t.GoodsTotal)},
	})
	row(107, [][2]string{
		{"VALOR DO FRETE", FormatMoney(t.Freight)},
		{"VALOR DO SEGURO", FormatMoney(t.Insurance)},
		{"DESCONTO", FormatMoney(t.Discount)},
		{"OUTRAS DESPESAS", FormatMoney(t.Other)},
		{"VALOR TOTAL DO IPI", FormatMoney(t.IPIValue)},
		{"VALOR TOTAL DA NOTA", FormatMoney(t.DocumentTotal)},
	})
}

func drawTransport(c Canvas, t entity.Transport) {
	section(c, 116, "TRANSPORTADOR / VOLUMES TRANSPORTADOS")
	y := 119.0

	carrier := entity.Party{}
	if t.Carrier != nil {
		carrier = *t.Carrier
	}
	freight := t.FreightModeLabel
	if freight == "" {
		freight = t.FreightMode
	}
	field(c, margin, y, 70, 8, "NOME / RAZÃO SOCIAL", truncate(carrier.LegalName, 38), "L")
	field(c, margin+70, y, 45, 8, "FRETE POR CONTA", freight, "L")
	field(c, margin+115, y, 25, 8, "PLACA DO VEÍCULO", t.VehiclePlate, "C")
	field(c, margin+140, y, 10, 8, "UF", t.VehicleRegion, "C")
	field(c, margin+150, y, 50, 8, "CNPJ / CPF", FormatTaxID(carrier.TaxID), "L")

	y += 8
	var brand string
	if len(t.Volumes) > 0 {
		brand = t.Volumes[0].Brand
	}
	qty := ""
	if t.DeclaredCount > 0 {
		qty = fmt.Sprintf("%d", t.DeclaredCount)
	}
	field(c, margin, y, 25, 8, "QUANTIDADE", qty, "R")
	field(c, margin+25, y, 45, 8, "ESPÉCIE", t.Species(), "L")
	field(c, margin+70, y, 40, 8, "MARCA", brand, "L")
	field(c, margin+110, y, 45, 8, "PESO BRUTO", FormatQuantity(t.GrossWeight), "R")
	field(c, margin+155, y, 45, 8, "PESO LÍQUIDO", FormatQuantity(t.NetWeight), "R")
}

func drawItems(c Canvas, items []entity.LineItem, top float64) {
	section(c, top-9, "DADOS DOS PRODUTOS / SERVIÇOS")

	c.SetFont(fontFamily, "B", 5)
	x := margin
	for _, col := range itemColumns {
		c.Cell(x, top-6, col.width, 6, col.title, "1", "C")
		x += col.width
	}

	c.SetFont(fontFamily, "", 6)
	y := top
	for _, item := range items {
		values := []string{
			truncate(item.Code, 12),
			truncate(item.Description, 40),
			item.NCM,
			item.CST,
			item.CFOP,
			item.Unit,
			FormatQuantity(item.Quantity),
			FormatMoney(item.UnitValue),
			FormatMoney(item.Total),
			FormatMoney(item.ICMS.Base),
			FormatMoney(item.ICMS.Value),
			FormatMoney(item.ICMS.Rate),
		}
		x = margin
		for i, col := range itemColumns {
			c.Cell(x, y, col.width, rowHeight, orNA(values[i]), "LR", col.align)
			x += col.width
		}
		y += rowHeight
	}
	c.Line(margin, y, margin+contentWidth, y)
}

func drawFooter(c Canvas, inv *entity.Invoice, qr *qrcode.Artifact) {
	section(c, footerTop, "DADOS ADICIONAIS")
	y := footerTop + 3
	h := pageBottom - y

	infoWidth := contentWidth - 32
	c.Rect(margin, y, infoWidth, h)
	c.SetFont(fontFamily, "", 5)
	c.Text(margin+1, y+2.2, "INFORMAÇÕES COMPLEMENTARES")

	var notes []string
	if inv.PurchaseOrder != "" {
		notes = append(notes, "Pedido: "+inv.PurchaseOrder)
	}
	if inv.AdditionalInfo.Taxpayer != "" {
		notes = append(notes, inv.AdditionalInfo.Taxpayer)
	}
	if inv.AdditionalInfo.Fisco != "" {
		notes = append(notes, "Fisco: "+inv.AdditionalInfo.Fisco)
	}
	text := strings.Join(notes, " | ")
	if text == "" {
		text = NotAvailable
	}

	c.SetFont(fontFamily, "", 6)
	lines := wrap(text, 120)
	maxLines := int((h - 5) / 3)
	for i, line := range lines {
		if i == maxLines {
			break
		}
		c.Text(margin+1, y+5.5+float64(i)*3, line)
	}

	qx := margin + infoWidth
	c.Rect(qx, y, 32, h)
	if qr == nil || len(qr.PNG) == 0 {
		c.SetFont(fontFamily, "B", 8)
		c.Cell(qx, y+h/2-2, 32, 4, NotAvailable, "", "C")
		return
	}
	side := math.Min(math.Max(qr.SizeMM, qrcode.MinSizeMM), qrcode.MaxSizeMM)
	c.Image("qrcode-"+inv.Identification.AccessKey, qr.PNG, qx+(32-side)/2, y+1.5, side, side)
	c.SetFont(fontFamily, "", 4.5)
	c.Cell(qx, y+h-3.5, 32, 3, "Consulta via QR Code", "", "C")
}
