// Package core provides money parsing and handling utilities.
//
// Amounts are decimal.Decimal values so sums of payments never drift the
// way float64 totals do.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a non-negative decimal amount.
type Money = decimal.Decimal

func init() {
	// Amounts travel as bare JSON numbers, matching the REST API.
	decimal.MarshalJSONWithoutQuotes = true
}

// NewMoney returns value * 10^exp, e.g. NewMoney(1250, -2) is 12.50.
func NewMoney(value int64, exp int32) Money {
	return decimal.New(value, exp)
}

// ParseMoney parses a user supplied amount.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators. Negative
// values and malformed input return ErrInvalidAmount; zero is allowed.
//
// Examples:
//
//	ParseMoney("12.34") -> 12.34, nil
//	ParseMoney("12,34") -> 12.34, nil
//	ParseMoney("-1")    -> 0, ErrInvalidAmount
func ParseMoney(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return decimal.Zero, ErrInvalidAmount
	}
	if strings.Count(s, ",") == 1 && !strings.Contains(s, ".") {
		s = strings.Replace(s, ",", ".", 1)
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return decimal.Zero, ErrInvalidAmount
	}
	m, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, ErrInvalidAmount
	}
	if err := ValidateAmount(m); err != nil {
		return decimal.Zero, err
	}
	return m, nil
}

// ValidateAmount rejects negative amounts.
func ValidateAmount(m Money) error {
	if m.IsNegative() {
		return ErrInvalidAmount
	}
	return nil
}

// SumMoney adds amounts; the sum of nothing is zero.
func SumMoney(amounts ...Money) Money {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
