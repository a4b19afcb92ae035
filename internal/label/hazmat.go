package label

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/garyjia/nfe-danfe/internal/domain/entity"
	"gopkg.in/yaml.v3"
)

var (
	unNumberRegex = regexp.MustCompile(`(?i)\b(?:ONU|UN)\s*(?:n[º°o.]*\s*)?:?\s*(\d{4})\b`)
	riskCodeRegex = regexp.MustCompile(`(?i)\brisco\s*:?\s*(\d{2,3}X?)\b`)
	classRegex    = regexp.MustCompile(`(?i)\bclasse\s*:?\s*(\d(?:\.\d)?)\b`)
)

// CatalogEntry describes one dangerous-goods UN number
type CatalogEntry struct {
	UNNumber       string   `yaml:"un_number"`
	Name           string   `yaml:"name"`
	Classification string   `yaml:"class"`
	RiskCode       string   `yaml:"risk"`
	NCM            []string `yaml:"ncm"`
}

type catalogFile struct {
	Entries []CatalogEntry `yaml:"entries"`
}

// HazmatCatalog maps UN numbers (and optionally NCM codes) to hazard data
type HazmatCatalog struct {
	byUN  map[string]CatalogEntry
	byNCM map[string]CatalogEntry
}

// LoadHazmatCatalog reads a YAML catalog file
func LoadHazmatCatalog(path string) (*HazmatCatalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read hazmat catalog: %w", err)
	}
	return ParseHazmatCatalog(data)
}

// ParseHazmatCatalog decodes a YAML catalog document
func ParseHazmatCatalog(data []byte) (*HazmatCatalog, error) {
	var file catalogFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCatalog, err)
	}

	c := &HazmatCatalog{
		byUN:  make(map[string]CatalogEntry, len(file.Entries)),
		byNCM: make(map[string]CatalogEntry),
	}
	for i, e := range file.Entries {
		if len(e.UNNumber) != 4 {
			return nil, fmt.Errorf("%w: entry %d has UN number %q", ErrInvalidCatalog, i, e.UNNumber)
		}
		c.byUN[e.UNNumber] = e
		for _, ncm := range e.NCM {
			c.byNCM[ncm] = e
		}
	}
	return c, nil
}

// Lookup returns the entry for a UN number
func (c *HazmatCatalog) Lookup(unNumber string) (CatalogEntry, bool) {
	if c == nil {
		return CatalogEntry{}, false
	}
	e, ok := c.byUN[unNumber]
	return e, ok
}

// Len returns the number of UN entries
func (c *HazmatCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byUN)
}

func (c *HazmatCatalog) lookupNCM(ncm string) (CatalogEntry, bool) {
	if c == nil || ncm == "" {
		return CatalogEntry{}, false
	}
	e, ok := c.byNCM[ncm]
	return e, ok
}

// ScanHazard extracts dangerous goods markings from free text, or nil
func ScanHazard(text string) *entity.Hazard {
	m := unNumberRegex.FindStringSubmatch(text)
	if m == nil {
		return nil
	}
	h := &entity.Hazard{UNNumber: m[1]}
	if r := riskCodeRegex.FindStringSubmatch(text); r != nil {
		h.RiskCode = strings.ToUpper(r[1])
	}
	if cl := classRegex.FindStringSubmatch(text); cl != nil {
		h.Classification = cl[1]
	}
	return h
}

// DetectHazard inspects line items and the invoice free text. The first
// marking found wins; gaps are completed from the catalog.
func DetectHazard(inv *entity.Invoice, catalog *HazmatCatalog) *entity.Hazard {
	var h *entity.Hazard
	for _, item := range inv.Items {
		if h = ScanHazard(item.AdditionalInfo); h != nil {
			break
		}
		if h = ScanHazard(item.Description); h != nil {
			break
		}
		if e, ok := catalog.lookupNCM(item.NCM); ok {
			h = &entity.Hazard{UNNumber: e.UNNumber}
			break
		}
	}
	if h == nil {
		h = ScanHazard(inv.AdditionalInfo.Taxpayer)
	}
	if h == nil {
		return nil
	}

	if e, ok := catalog.Lookup(h.UNNumber); ok {
		if h.RiskCode == "" {
			h.RiskCode = e.RiskCode
		}
		if h.Classification == "" {
			h.Classification = e.Classification
		}
	}
	return h
}
