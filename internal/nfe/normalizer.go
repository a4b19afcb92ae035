package nfe

import (
	"errors"
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"github.com/garyjia/nfe-danfe/pkg/utils"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrNotInvoice is returned when a well-formed XML document has no infNFe block
var ErrNotInvoice = errors.New("document does not contain an NFe")

var purchaseOrderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)n[úu]mero\s+do\s+pedido\s*:\s*([0-9][0-9-]*)`),
	regexp.MustCompile(`(?i)pedido\s+(?:de\s+)?venda\s*:?\s*([0-9][0-9-]*)`),
	regexp.MustCompile(`(?i)pedido\s*(?:n[º°o.]*)?\s*:?\s*([0-9][0-9-]*)`),
}

var dateTimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer turns a parsed NFe tree into the canonical Invoice model
type Normalizer struct {
	fields *Extractor
	logger *zap.Logger
}

// NewNormalizer creates a new invoice normalizer
func NewNormalizer(logger *zap.Logger) *Normalizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Normalizer{
		fields: NewExtractor(logger),
		logger: logger,
	}
}

// Parse reads raw XML and normalizes it
func (n *Normalizer) Parse(r io.Reader) (*entity.Invoice, error) {
	root, err := ParseTree(r)
	if err != nil {
		return nil, err
	}
	return n.Normalize(root)
}

// Normalize builds an Invoice from a parsed tree. The tree may be a bare NFe,
// an infNFe element or an nfeProc envelope. An absent or malformed access key
// does not fail normalization; it is reported through AccessKeyValid.
func (n *Normalizer) Normalize(root *Node) (*entity.Invoice, error) {
	inf, envelope := locateInfNFe(root)
	if inf == nil {
		return nil, fmt.Errorf("%w: root element %s", ErrNotInvoice, root.Name)
	}

	f := n.fields
	inv := &entity.Invoice{}

	inv.Identification = n.identification(inf, envelope)
	inv.Emitter = n.party(inf, "emit", "enderEmit")
	inv.Recipient = n.party(inf, "dest", "enderDest")
	inv.Items = n.items(inf)
	inv.Totals = n.totals(inf)
	inv.Transport = n.transport(inf)
	inv.Billing = n.billing(inf)
	inv.AdditionalInfo = entity.AdditionalInfo{
		Taxpayer: f.Value(inf, "infAdic:infCpl"),
		Fisco:    f.Value(inf, "infAdic:infAdFisco"),
	}
	inv.PurchaseOrder = recoverPurchaseOrder(inv)
	inv.SignatureDigest = n.signatureDigest(root)
	inv.AccessKeyValid = utils.IsAccessKey(inv.Identification.AccessKey)

	if !inv.AccessKeyValid {
		n.logger.Warn("Invoice has no valid access key",
			zap.String("invoice_number", inv.Identification.Number),
			zap.String("access_key", inv.Identification.AccessKey))
	}
	if inv.Emitter.IsCompany() {
		if err := utils.ValidateCNPJ(inv.Emitter.TaxID); err != nil {
			n.logger.Warn("Emitter CNPJ is invalid",
				zap.String("invoice_number", inv.Identification.Number),
				zap.Error(err))
		}
	}
	if !inv.CheckTotals() {
		n.logger.Warn("Line totals exceed document total",
			zap.String("invoice_number", inv.Identification.Number),
			zap.String("line_total", inv.LineTotal().StringFixed(2)),
			zap.String("document_total", inv.Totals.DocumentTotal.StringFixed(2)))
	}

	n.logger.Debug("Invoice normalized",
		zap.String("access_key", inv.Identification.AccessKey),
		zap.String("invoice_number", inv.Identification.Number),
		zap.Int("items", len(inv.Items)))

	return inv, nil
}

// locateInfNFe finds the infNFe element and, when present, the nfeProc envelope
func locateInfNFe(root *Node) (inf, envelope *Node) {
	switch {
	case strings.EqualFold(root.Name, "nfeProc"):
		envelope = root
		inf = LookupNode(root, "NFe:infNFe")
	case strings.EqualFold(root.Name, "NFe"):
		inf = LookupNode(root, "infNFe")
	case strings.EqualFold(root.Name, "infNFe"):
		inf = root
	}
	if inf == nil {
		// Some exporters add their own outer wrapper around nfeProc
		if found := root.Find("infNFe"); found != nil {
			inf = found
			envelope = root.Find("nfeProc")
		}
	}
	return inf, envelope
}

func (n *Normalizer) identification(inf, envelope *Node) entity.Identification {
	f := n.fields
	id := entity.Identification{
		Number:          f.Value(inf, "ide:nNF"),
		Series:          f.Value(inf, "ide:serie"),
		OperationNature: f.Value(inf, "ide:natOp"),
		OperationType:   f.Value(inf, "ide:tpNF"),
		Environment:     f.Value(inf, "ide:tpAmb"),
		Model:           f.Value(inf, "ide:mod"),
	}

	id.IssuedAtRaw = f.First(inf, "ide:dhEmi", "ide:dEmi")
	if t, ok := ParseDateTime(id.IssuedAtRaw); ok {
		id.IssuedAt = &t
	}
	if t, ok := ParseDateTime(f.First(inf, "ide:dhSaiEnt", "ide:dSaiEnt")); ok {
		id.DepartureAt = &t
	}

	key := strings.TrimPrefix(strings.TrimSpace(f.Value(inf, "@Id")), "NFe")
	if key == "" && envelope != nil {
		key = f.Value(envelope, "protNFe:infProt:chNFe")
	}
	id.AccessKey = key

	if envelope != nil {
		id.Protocol = f.Value(envelope, "protNFe:infProt:nProt")
		if t, ok := ParseDateTime(f.Value(envelope, "protNFe:infProt:dhRecbto")); ok {
			id.ProtocolAt = &t
		}
	}
	return id
}

func (n *Normalizer) party(inf *Node, block, address string) entity.Party {
	f := n.fields
	node := LookupNode(inf, block)
	if node == nil {
		n.logger.Debug("Party block not present", zap.String("block", block))
		return entity.Party{}
	}
	addr := address + ":"
	return entity.Party{
		LegalName:         f.Value(node, "xNome"),
		TaxID:             utils.OnlyDigits(f.First(node, "CNPJ", "CPF", "idEstrangeiro")),
		StateRegistration: f.Value(node, "IE"),
		Phone:             f.Value(node, addr+"fone"),
		Street:            f.Value(node, addr+"xLgr"),
		Number:            f.Value(node, addr+"nro"),
		Complement:        f.Value(node, addr+"xCpl"),
		District:          f.Value(node, addr+"xBairro"),
		City:              f.Value(node, addr+"xMun"),
		CityCode:          f.Value(node, addr+"cMun"),
		Region:            f.Value(node, addr+"UF"),
		PostalCode:        utils.OnlyDigits(f.Value(node, addr+"CEP")),
	}
}

func (n *Normalizer) items(inf *Node) []entity.LineItem {
	f := n.fields
	dets := LookupAll(inf, "det")
	items := make([]entity.LineItem, 0, len(dets))

	for i, det := range dets {
		index := i + 1
		if nItem, err := strconv.Atoi(det.Attr("nItem")); err == nil {
			index = nItem
		}

		item := entity.LineItem{
			Index:          index,
			Code:           f.Value(det, "prod:cProd"),
			Description:    f.Value(det, "prod:xProd"),
			NCM:            f.Value(det, "prod:NCM"),
			CFOP:           f.Value(det, "prod:CFOP"),
			Unit:           f.Value(det, "prod:uCom"),
			Quantity:       n.money(det, "prod:qCom"),
			UnitValue:      n.money(det, "prod:vUnCom"),
			Total:          n.money(det, "prod:vProd"),
			Discount:       n.money(det, "prod:vDesc"),
			PurchaseOrder:  f.Value(det, "prod:xPed"),
			AdditionalInfo: f.Value(det, "infAdProd"),
		}

		// ICMS holds exactly one situation-specific group (ICMS00, ICMSSN102, ...)
		if icms := LookupNode(det, "imposto:ICMS"); icms != nil && len(icms.Children) > 0 {
			group := icms.Children[0]
			item.CST = f.First(group, "CST", "CSOSN")
			if orig := f.Value(group, "orig"); orig != "" && item.CST != "" {
				item.CST = orig + item.CST
			}
			item.ICMS = entity.TaxBlock{
				Base:  n.money(group, "vBC"),
				Rate:  n.money(group, "pICMS"),
				Value: n.money(group, "vICMS"),
			}
		}
		item.IPI = entity.TaxBlock{
			Base:  n.money(det, "imposto:IPI:IPITrib:vBC"),
			Rate:  n.money(det, "imposto:IPI:IPITrib:pIPI"),
			Value: n.money(det, "imposto:IPI:IPITrib:vIPI"),
		}

		items = append(items, item)
	}
	return items
}

func (n *Normalizer) totals(inf *Node) entity.Totals {
	const p = "total:ICMSTot:"
	return entity.Totals{
		ICMSBase:      n.money(inf, p+"vBC"),
		ICMSValue:     n.money(inf, p+"vICMS"),
		STBase:        n.money(inf, p+"vBCST"),
		STValue:       n.money(inf, p+"vST"),
		GoodsTotal:    n.money(inf, p+"vProd"),
		Freight:       n.money(inf, p+"vFrete"),
		Insurance:     n.money(inf, p+"vSeg"),
		Discount:      n.money(inf, p+"vDesc"),
		Other:         n.money(inf, p+"vOutro"),
		IPIValue:      n.money(inf, p+"vIPI"),
		DocumentTotal: n.money(inf, p+"vNF"),
		ApproxTaxes:   n.money(inf, p+"vTotTrib"),
	}
}

func (n *Normalizer) transport(inf *Node) entity.Transport {
	f := n.fields
	t := entity.Transport{
		FreightMode:   f.Value(inf, "transp:modFrete"),
		VehiclePlate:  f.Value(inf, "transp:veicTransp:placa"),
		VehicleRegion: f.Value(inf, "transp:veicTransp:UF"),
		GrossWeight:   decimal.Zero,
		NetWeight:     decimal.Zero,
	}
	t.FreightModeLabel = entity.FreightModeLabels[t.FreightMode]

	if carrier := LookupNode(inf, "transp:transporta"); carrier != nil {
		t.Carrier = &entity.Party{
			LegalName:         f.Value(carrier, "xNome"),
			TaxID:             utils.OnlyDigits(f.First(carrier, "CNPJ", "CPF")),
			StateRegistration: f.Value(carrier, "IE"),
			Street:            f.Value(carrier, "xEnder"),
			City:              f.Value(carrier, "xMun"),
			Region:            f.Value(carrier, "UF"),
		}
	}

	for _, vol := range LookupAll(inf, "transp:vol") {
		qty, err := strconv.Atoi(f.Value(vol, "qVol"))
		if err != nil || qty < 0 {
			qty = 0
		}
		block := entity.VolumeBlock{
			Quantity:    qty,
			Species:     f.Value(vol, "esp"),
			Brand:       f.Value(vol, "marca"),
			Numbering:   f.Value(vol, "nVol"),
			NetWeight:   n.money(vol, "pesoL"),
			GrossWeight: n.money(vol, "pesoB"),
		}
		t.Volumes = append(t.Volumes, block)
		// saturates at MaxInt32
		if qty > math.MaxInt32-t.DeclaredCount {
			t.DeclaredCount = math.MaxInt32
		} else {
			t.DeclaredCount += qty
		}
		t.GrossWeight = t.GrossWeight.Add(block.GrossWeight)
		t.NetWeight = t.NetWeight.Add(block.NetWeight)
	}
	return t
}

func (n *Normalizer) billing(inf *Node) *entity.Billing {
	f := n.fields
	cobr := LookupNode(inf, "cobr")
	if cobr == nil {
		return nil
	}

	b := &entity.Billing{
		InvoiceNumber: f.Value(cobr, "fat:nFat"),
		OriginalValue: n.money(cobr, "fat:vOrig"),
		Discount:      n.money(cobr, "fat:vDesc"),
		NetValue:      n.money(cobr, "fat:vLiq"),
	}
	for _, dup := range LookupAll(cobr, "dup") {
		inst := entity.Installment{
			Number: f.Value(dup, "nDup"),
			Value:  n.money(dup, "vDup"),
		}
		if t, ok := ParseDateTime(f.Value(dup, "dVenc")); ok {
			inst.DueDate = &t
		}
		b.Installments = append(b.Installments, inst)
	}
	return b
}

func (n *Normalizer) signatureDigest(root *Node) string {
	sig := root.Find("Signature")
	if sig == nil {
		return ""
	}
	return n.fields.Value(sig, "SignedInfo:Reference:DigestValue")
}

func (n *Normalizer) money(node *Node, path string) decimal.Decimal {
	raw := n.fields.Value(node, path)
	if raw == "" {
		return decimal.Zero
	}
	d, err := ParseMoney(raw)
	if err != nil {
		n.logger.Warn("Unparseable numeric field, defaulting to zero",
			zap.String("path", path),
			zap.String("value", raw))
		return decimal.Zero
	}
	return d
}

// ParseMoney parses a decimal string written with either a point or a comma
// as the decimal separator. When both appear, the rightmost one is the
// decimal separator and the other is grouping. An empty string is zero.
func ParseMoney(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.ReplaceAll(strings.TrimSpace(s), " ", "")
	if s == "" {
		return decimal.Zero, nil
	}

	lastComma := strings.LastIndex(s, ",")
	lastDot := strings.LastIndex(s, ".")

	switch {
	case lastComma >= 0 && lastDot >= 0:
		if lastComma > lastDot {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(s, ",") > 1 {
			s = strings.ReplaceAll(s, ",", "")
		} else {
			s = strings.Replace(s, ",", ".", 1)
		}
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid monetary value %q: %w", s, err)
	}
	return d, nil
}

// ParseDateTime parses NFe date and date-time values, keeping the original
// UTC offset when one is present
func ParseDateTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateTimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// recoverPurchaseOrder prefers an explicit xPed and falls back to scanning
// the taxpayer free text for a labelled order number
func recoverPurchaseOrder(inv *entity.Invoice) string {
	for _, item := range inv.Items {
		if item.PurchaseOrder != "" {
			return item.PurchaseOrder
		}
	}
	return ScanPurchaseOrder(inv.AdditionalInfo.Taxpayer)
}

// ScanPurchaseOrder extracts a purchase order number from free text, or ""
func ScanPurchaseOrder(text string) string {
	if text == "" {
		return ""
	}
	for _, re := range purchaseOrderPatterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			if po := strings.ReplaceAll(m[1], "-", ""); po != "" {
				return po
			}
		}
	}
	return ""
}
