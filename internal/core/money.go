// Package core provides money parsing and handling utilities.
//
// Amounts are signed decimals: income is positive, expenses are negative.
package core

import (
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ParseAmount converts a user-supplied decimal string into a signed amount
// rounded half-up to two places.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and an
// optional leading sign. Zero is rejected.
//
// Examples:
//
//	ParseAmount("12.34")  -> 12.34
//	ParseAmount("-50")    -> -50
//	ParseAmount("12,345") -> 12.35
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrZeroAmount
	}
	s = strings.ReplaceAll(s, ",", ".")
	body := strings.TrimLeft(s, "+-")
	if len(s)-len(body) > 1 || body == "" {
		return decimal.Zero, NewValidationError("amount", "malformed number "+s)
	}
	for _, r := range body {
		if !unicode.IsDigit(r) && r != '.' {
			return decimal.Zero, NewValidationError("amount", "malformed number "+s)
		}
	}
	d, err := decimal.NewFromString(strings.TrimPrefix(s, "+"))
	if err != nil {
		return decimal.Zero, NewValidationError("amount", "malformed number "+s)
	}
	d = d.Round(2)
	if d.IsZero() {
		return decimal.Zero, ErrZeroAmount
	}
	return d, nil
}

// FormatAmount renders a signed amount with two decimals (e.g. "-50.00").
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}
