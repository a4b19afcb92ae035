package utils

import (
	"fmt"
	"regexp"
	"strings"
)

var accessKeyRegex = regexp.MustCompile(`^\d{44}$`)

// OnlyDigits strips every character that is not 0-9
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// IsAccessKey reports whether s is exactly 44 ASCII digits
func IsAccessKey(s string) bool {
	return accessKeyRegex.MatchString(s)
}

// ValidateAccessKey validates the 44-digit NFe access key shape
func ValidateAccessKey(key string) error {
	if key == "" {
		return fmt.Errorf("access key is empty")
	}
	if !IsAccessKey(key) {
		return fmt.Errorf("access key must be 44 digits: %q", key)
	}
	return nil
}

// AccessKeyCheckDigit computes the modulo-11 check digit over the first 43 digits
func AccessKeyCheckDigit(key43 string) (int, error) {
	if len(key43) != 43 || OnlyDigits(key43) != key43 {
		return 0, fmt.Errorf("expected 43 digits, got %q", key43)
	}

	sum := 0
	weight := 2
	for i := len(key43) - 1; i >= 0; i-- {
		sum += int(key43[i]-'0') * weight
		weight++
		if weight > 9 {
			weight = 2
		}
	}

	dv := 11 - sum%11
	if dv >= 10 {
		dv = 0
	}
	return dv, nil
}

// ValidateCNPJ validates a 14-digit CNPJ including both check digits
func ValidateCNPJ(cnpj string) error {
	digits := OnlyDigits(cnpj)
	if len(digits) != 14 {
		return fmt.Errorf("CNPJ must have 14 digits: %s", cnpj)
	}
	if strings.Count(digits, digits[:1]) == 14 {
		return fmt.Errorf("CNPJ with repeated digits: %s", cnpj)
	}

	calc := func(base string, weights []int) byte {
		sum := 0
		for i, w := range weights {
			sum += int(base[i]-'0') * w
		}
		r := sum % 11
		if r < 2 {
			return '0'
		}
		return byte('0' + 11 - r)
	}

	d1 := calc(digits[:12], []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	d2 := calc(digits[:13], []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2})
	if digits[12] != d1 || digits[13] != d2 {
		return fmt.Errorf("invalid CNPJ check digits: %s", cnpj)
	}
	return nil
}
