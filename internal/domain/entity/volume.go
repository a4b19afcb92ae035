package entity

import "github.com/shopspring/decimal"

// Volume is one shippable unit derived from an invoice. It carries
// denormalized party fields so a label can be printed standalone.
type Volume struct {
	LabelID     string `json:"label_id"`
	LabelCode   string `json:"label_code"`
	Kind        string `json:"kind"`
	Sequence    int    `json:"sequence"`
	TotalInSet  int    `json:"total_in_set"`
	Description string `json:"description"`

	AccessKey     string `json:"access_key"`
	InvoiceNumber string `json:"invoice_number"`
	PurchaseOrder string `json:"purchase_order,omitempty"`

	SenderName      string `json:"sender_name"`
	SenderCity      string `json:"sender_city"`
	SenderRegion    string `json:"sender_region"`
	ReceiverName    string `json:"receiver_name"`
	ReceiverCity    string `json:"receiver_city"`
	ReceiverRegion  string `json:"receiver_region"`
	ReceiverAddress string `json:"receiver_address,omitempty"`
	CarrierName     string `json:"carrier_name,omitempty"`

	Species     string          `json:"species,omitempty"`
	GrossWeight decimal.Decimal `json:"gross_weight"`

	Hazard *Hazard `json:"hazard,omitempty"`
}

// Hazard holds dangerous goods identification
type Hazard struct {
	UNNumber       string `json:"un_number"`
	RiskCode       string `json:"risk_code,omitempty"`
	Classification string `json:"classification,omitempty"`
}

// MasterLabel aggregates the complete volume set of one invoice. It embeds
// Volume so every renderer accepting a Volume can print it unchanged.
type MasterLabel struct {
	Volume
	ChildCount int      `json:"child_count"`
	ChildCodes []string `json:"child_codes"`
}

// Label kinds
const (
	LabelKindVolume = "volume"
	LabelKindMaster = "master"
)
