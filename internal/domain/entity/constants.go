package entity

// Freight mode codes (modFrete)
const (
	FreightByEmitter   = "0"
	FreightByRecipient = "1"
	FreightByThird     = "2"
	FreightOwnEmitter  = "3"
	FreightOwnReceiver = "4"
	FreightNone        = "9"
)

// FreightModeLabels maps modFrete codes to the DANFE wording
var FreightModeLabels = map[string]string{
	FreightByEmitter:   "0-Por conta do Emit",
	FreightByRecipient: "1-Por conta do Dest",
	FreightByThird:     "2-Por conta de Terceiros",
	FreightOwnEmitter:  "3-Próprio por conta do Rem",
	FreightOwnReceiver: "4-Próprio por conta do Dest",
	FreightNone:        "9-Sem Ocorrência de Transporte",
}

// Environment codes (tpAmb)
const (
	EnvironmentProduction   = "1"
	EnvironmentHomologation = "2"
)

// Stored record status for persisted invoices
const (
	InvoiceStatusImported = "IMPORTED"
	InvoiceStatusRendered = "RENDERED"
)

// AccessKeyLength is the fixed number of digits of an NFe access key
const AccessKeyLength = 44
