package entity

import (
	"time"

	"github.com/shopspring/decimal"
)

// Invoice is the canonical representation of one electronic invoice (NFe).
// It is built once by the normalizer and treated as read-only afterwards.
type Invoice struct {
	Identification Identification `json:"identification"`
	Emitter        Party          `json:"emitter"`
	Recipient      Party          `json:"recipient"`
	Items          []LineItem     `json:"items"`
	Totals         Totals         `json:"totals"`
	Transport      Transport      `json:"transport"`
	Billing        *Billing       `json:"billing,omitempty"`
	AdditionalInfo AdditionalInfo `json:"additional_info"`

	// PurchaseOrder is recovered best-effort from xPed or free text
	PurchaseOrder string `json:"purchase_order,omitempty"`

	// SignatureDigest is the base64 DigestValue of the XML signature, if signed
	SignatureDigest string `json:"signature_digest,omitempty"`

	AccessKeyValid bool `json:"access_key_valid"`
}

// Identification holds the ide block plus protocol data
type Identification struct {
	Number          string     `json:"number"`
	Series          string     `json:"series"`
	IssuedAt        *time.Time `json:"issued_at,omitempty"`
	IssuedAtRaw     string     `json:"issued_at_raw,omitempty"`
	DepartureAt     *time.Time `json:"departure_at,omitempty"`
	AccessKey       string     `json:"access_key"`
	OperationNature string     `json:"operation_nature"`
	OperationType   string     `json:"operation_type"` // 0=entrada, 1=saida
	Environment     string     `json:"environment"`    // 1=producao, 2=homologacao
	Model           string     `json:"model"`
	Protocol        string     `json:"protocol,omitempty"`
	ProtocolAt      *time.Time `json:"protocol_at,omitempty"`
}

// Party is the shared shape of emitter, recipient and carrier
type Party struct {
	LegalName         string `json:"legal_name"`
	TaxID             string `json:"tax_id"` // digits only, CNPJ or CPF
	StateRegistration string `json:"state_registration,omitempty"`
	Phone             string `json:"phone,omitempty"`
	Street            string `json:"street,omitempty"`
	Number            string `json:"number,omitempty"`
	Complement        string `json:"complement,omitempty"`
	District          string `json:"district,omitempty"`
	City              string `json:"city,omitempty"`
	CityCode          string `json:"city_code,omitempty"`
	Region            string `json:"region,omitempty"`
	PostalCode        string `json:"postal_code,omitempty"` // digits only
}

// IsCompany reports whether the tax id is a CNPJ
func (p Party) IsCompany() bool {
	return len(p.TaxID) == 14
}

// LineItem is one det block
type LineItem struct {
	Index          int             `json:"index"`
	Code           string          `json:"code"`
	Description    string          `json:"description"`
	NCM            string          `json:"ncm,omitempty"`
	CFOP           string          `json:"cfop,omitempty"`
	CST            string          `json:"cst,omitempty"`
	Unit           string          `json:"unit"`
	Quantity       decimal.Decimal `json:"quantity"`
	UnitValue      decimal.Decimal `json:"unit_value"`
	Total          decimal.Decimal `json:"total"`
	Discount       decimal.Decimal `json:"discount"`
	ICMS           TaxBlock        `json:"icms"`
	IPI            TaxBlock        `json:"ipi"`
	PurchaseOrder  string          `json:"purchase_order,omitempty"`
	AdditionalInfo string          `json:"additional_info,omitempty"`
}

// TaxBlock carries base, rate and value of a single tax
type TaxBlock struct {
	Base  decimal.Decimal `json:"base"`
	Rate  decimal.Decimal `json:"rate"`
	Value decimal.Decimal `json:"value"`
}

// Totals is the ICMSTot block
type Totals struct {
	ICMSBase      decimal.Decimal `json:"icms_base"`
	ICMSValue     decimal.Decimal `json:"icms_value"`
	STBase        decimal.Decimal `json:"st_base"`
	STValue       decimal.Decimal `json:"st_value"`
	GoodsTotal    decimal.Decimal `json:"goods_total"`
	Freight       decimal.Decimal `json:"freight"`
	Insurance     decimal.Decimal `json:"insurance"`
	Discount      decimal.Decimal `json:"discount"`
	Other         decimal.Decimal `json:"other"`
	IPIValue      decimal.Decimal `json:"ipi_value"`
	DocumentTotal decimal.Decimal `json:"document_total"`
	ApproxTaxes   decimal.Decimal `json:"approx_taxes"`
}

// Transport is the transp block
type Transport struct {
	FreightMode      string          `json:"freight_mode"`
	FreightModeLabel string          `json:"freight_mode_label"`
	Carrier          *Party          `json:"carrier,omitempty"`
	VehiclePlate     string          `json:"vehicle_plate,omitempty"`
	VehicleRegion    string          `json:"vehicle_region,omitempty"`
	Volumes          []VolumeBlock   `json:"volumes,omitempty"`
	DeclaredCount    int             `json:"declared_count"`
	GrossWeight      decimal.Decimal `json:"gross_weight"`
	NetWeight        decimal.Decimal `json:"net_weight"`
}

// VolumeBlock is one declared vol entry
type VolumeBlock struct {
	Quantity    int             `json:"quantity"`
	Species     string          `json:"species,omitempty"`
	Brand       string          `json:"brand,omitempty"`
	Numbering   string          `json:"numbering,omitempty"`
	NetWeight   decimal.Decimal `json:"net_weight"`
	GrossWeight decimal.Decimal `json:"gross_weight"`
}

// Species returns the species of the first declared volume block
func (t Transport) Species() string {
	for _, v := range t.Volumes {
		if v.Species != "" {
			return v.Species
		}
	}
	return ""
}

// Billing is the optional cobr block
type Billing struct {
	InvoiceNumber string          `json:"invoice_number,omitempty"`
	OriginalValue decimal.Decimal `json:"original_value"`
	Discount      decimal.Decimal `json:"discount"`
	NetValue      decimal.Decimal `json:"net_value"`
	Installments  []Installment   `json:"installments"`
}

// Installment is one dup entry
type Installment struct {
	Number  string          `json:"number"`
	DueDate *time.Time      `json:"due_date,omitempty"`
	Value   decimal.Decimal `json:"value"`
}

// AdditionalInfo is the infAdic block
type AdditionalInfo struct {
	Taxpayer string `json:"taxpayer,omitempty"`
	Fisco    string `json:"fisco,omitempty"`
}

// LineTotal sums the line totals of all items
func (inv *Invoice) LineTotal() decimal.Decimal {
	sum := decimal.Zero
	for _, item := range inv.Items {
		sum = sum.Add(item.Total)
	}
	return sum
}

// TotalsTolerance is the accepted rounding gap between the item sum and the document total
var TotalsTolerance = decimal.RequireFromString("0.01")

// CheckTotals reports whether the sum of line totals does not exceed the
// document total by more than TotalsTolerance. Invoices without items pass.
func (inv *Invoice) CheckTotals() bool {
	if len(inv.Items) == 0 {
		return true
	}
	return inv.LineTotal().Sub(inv.Totals.DocumentTotal).LessThanOrEqual(TotalsTolerance)
}

// ID returns the most specific identifier available for logs and reports
func (inv *Invoice) ID() string {
	if inv.Identification.AccessKey != "" {
		return inv.Identification.AccessKey
	}
	return inv.Identification.Number
}
