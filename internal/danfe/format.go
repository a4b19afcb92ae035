package danfe

import (
	"strings"
	"time"

	"github.com/garyjia/nfe-danfe/pkg/utils"
	"github.com/shopspring/decimal"
)

// NotAvailable is printed for absent optional values
const NotAvailable = "N/D"

// FormatMoney renders 2 decimals with a comma separator and dot grouping
func FormatMoney(d decimal.Decimal) string {
	return formatDecimal(d, 2)
}

// FormatQuantity renders 4 decimals in the same convention as FormatMoney
func FormatQuantity(d decimal.Decimal) string {
	return formatDecimal(d, 4)
}

func formatDecimal(d decimal.Decimal, places int32) string {
	s := d.StringFixed(places)
	neg := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i+1:]
	}

	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte('.')
		}
		b.WriteRune(r)
	}
	if frac != "" {
		b.WriteByte(',')
		b.WriteString(frac)
	}
	return b.String()
}

// FormatCNPJ renders 14 digits as 00.000.000/0000-00
func FormatCNPJ(digits string) string {
	if len(digits) != 14 {
		return orNA(digits)
	}
	return digits[:2] + "." + digits[2:5] + "." + digits[5:8] + "/" + digits[8:12] + "-" + digits[12:]
}

// FormatCPF renders 11 digits as 000.000.000-00
func FormatCPF(digits string) string {
	if len(digits) != 11 {
		return orNA(digits)
	}
	return digits[:3] + "." + digits[3:6] + "." + digits[6:9] + "-" + digits[9:]
}

// FormatTaxID picks CNPJ or CPF formatting by length
func FormatTaxID(digits string) string {
	if len(digits) == 11 {
		return FormatCPF(digits)
	}
	return FormatCNPJ(digits)
}

// FormatCEP renders 8 digits as 00000-000
func FormatCEP(digits string) string {
	if len(digits) != 8 {
		return orNA(digits)
	}
	return digits[:5] + "-" + digits[5:]
}

// FormatAccessKey prints the key in blocks of four digits
func FormatAccessKey(key string) string {
	if !utils.IsAccessKey(key) {
		return orNA(key)
	}
	groups := make([]string, 0, 11)
	for i := 0; i < len(key); i += 4 {
		groups = append(groups, key[i:i+4])
	}
	return strings.Join(groups, " ")
}

// FormatDocNumber pads the invoice number to 9 digits as 000.000.000
func FormatDocNumber(number string) string {
	digits := utils.OnlyDigits(number)
	if digits == "" {
		return NotAvailable
	}
	if len(digits) < 9 {
		digits = strings.Repeat("0", 9-len(digits)) + digits
	}
	if len(digits) != 9 {
		return digits
	}
	return digits[:3] + "." + digits[3:6] + "." + digits[6:]
}

// FormatSeries pads the series to 3 digits
func FormatSeries(series string) string {
	if series == "" {
		return NotAvailable
	}
	if len(series) < 3 {
		return strings.Repeat("0", 3-len(series)) + series
	}
	return series
}

// FormatDate renders dd/mm/yyyy in the timestamp's own offset
func FormatDate(t *time.Time) string {
	if t == nil || t.IsZero() {
		return NotAvailable
	}
	return t.Format("02/01/2006")
}

// FormatDateTime renders dd/mm/yyyy hh:mm:ss in the timestamp's own offset
func FormatDateTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return NotAvailable
	}
	return t.Format("02/01/2006 15:04:05")
}

func orNA(s string) string {
	if strings.TrimSpace(s) == "" {
		return NotAvailable
	}
	return s
}

// truncate cuts s to at most n runes
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "…"
}

// wrap splits text into lines of at most width runes on word boundaries
func wrap(text string, width int) []string {
	var lines []string
	var cur []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, w...)
		case len(cur)+1+len(w) <= width:
			cur = append(append(cur, ' '), w...)
		default:
			lines = append(lines, string(cur))
			cur = append([]rune(nil), w...)
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
