package parser

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	// ErrEmptyAmount is returned when an amount token carries no digits
	ErrEmptyAmount = errors.New("empty amount")
	// ErrUnexpectedSign is returned when an unsigned field carries a minus
	ErrUnexpectedSign = errors.New("unexpected sign in unsigned amount")
)

// NumberFormat is a locale rule for writing numbers: which rune groups
// thousands and which one separates decimals.
type NumberFormat struct {
	Name     string
	Grouping rune
	Decimal  rune
}

var (
	// DominicanFormat writes one thousand two hundred thirty-four point five six as 1.234,56
	DominicanFormat = NumberFormat{Name: "dominican", Grouping: '.', Decimal: ','}
	// USFormat writes the same number as 1,234.56
	USFormat = NumberFormat{Name: "us", Grouping: ',', Decimal: '.'}
)

// NumberFormatByName resolves a configured format name.
// "european" is accepted as an alias of the dominican convention.
func NumberFormatByName(name string) (NumberFormat, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", DominicanFormat.Name, "european", "eu":
		return DominicanFormat, true
	case USFormat.Name, "american":
		return USFormat, true
	}
	return NumberFormat{}, false
}

// Canonical rewrites s with grouping separators removed and '.' as the decimal separator
func (f NumberFormat) Canonical(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch r {
		case f.Grouping:
			continue
		case f.Decimal:
			b.WriteRune('.')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseAmount converts a statement amount token into a decimal.
// When signed is true a '-' anywhere in the token marks the value negative;
// the minus is removed before the number is parsed and reapplied afterwards.
func ParseAmount(raw string, format NumberFormat, signed bool) (decimal.Decimal, error) {
	s := strings.TrimSpace(raw)

	negative := strings.Contains(s, "-")
	if negative && !signed {
		return decimal.Zero, ErrUnexpectedSign
	}
	s = strings.ReplaceAll(s, "-", "")

	s = format.Canonical(s)
	if !strings.ContainsAny(s, "0123456789") {
		return decimal.Zero, ErrEmptyAmount
	}

	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid number %q: %w", raw, err)
	}

	if negative {
		d = d.Neg()
	}
	return d, nil
}
