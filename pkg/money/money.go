// Package money wraps go-money for display and shopspring/decimal for exact
// arithmetic. Statement amounts are kept as decimals end to end; this package
// turns them into minor units and currency-aware display strings.
package money

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// Currency codes (ISO-4217) seen on supported statements
const (
	DOP = "DOP" // Dominican Peso
	USD = "USD" // US Dollar
	EUR = "EUR" // Euro
)

var ErrCurrencyMismatch = errors.New("currency mismatch")

// Money represents a monetary value with currency.
type Money struct {
	m *money.Money
}

// New creates a Money value from minor units and a currency code.
// Unknown codes fall back to DOP.
func New(amountCents int64, currencyCode string) *Money {
	return &Money{m: money.New(amountCents, normalizeCode(currencyCode))}
}

// NewFromDecimal rounds amount half away from zero to the currency's minor unit
func NewFromDecimal(amount decimal.Decimal, currencyCode string) *Money {
	code := normalizeCode(currencyCode)
	currency := money.GetCurrency(code)

	multiplier := decimal.New(1, int32(currency.Fraction))
	cents := amount.Mul(multiplier).Round(0).IntPart()

	return New(cents, code)
}

// Zero creates a zero-value Money in the given currency
func Zero(currencyCode string) *Money {
	return New(0, currencyCode)
}

func normalizeCode(code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" || money.GetCurrency(code) == nil {
		return DOP
	}
	return code
}

// Amount returns the value in minor units
func (m *Money) Amount() int64 {
	if m == nil || m.m == nil {
		return 0
	}
	return m.m.Amount()
}

// Currency returns the ISO-4217 code
func (m *Money) Currency() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Currency().Code
}

func (m *Money) IsZero() bool {
	return m.Amount() == 0
}

func (m *Money) IsNegative() bool {
	return m.Amount() < 0
}

// Negate returns a new Money with the sign flipped
func (m *Money) Negate() *Money {
	if m == nil || m.m == nil {
		return nil
	}
	return &Money{m: m.m.Negative()}
}

// Add returns m + other; both must share a currency
func (m *Money) Add(other *Money) (*Money, error) {
	if m == nil || m.m == nil {
		return other, nil
	}
	if other == nil || other.m == nil {
		return m, nil
	}
	if !m.m.SameCurrency(other.m) {
		return nil, ErrCurrencyMismatch
	}
	result, err := m.m.Add(other.m)
	if err != nil {
		return nil, err
	}
	return &Money{m: result}, nil
}

// Display returns the currency formatted string (e.g. "RD$1,234.56")
func (m *Money) Display() string {
	if m == nil || m.m == nil {
		return ""
	}
	return m.m.Display()
}

// String returns the amount as a plain decimal string with the currency's fraction digits
func (m *Money) String() string {
	if m == nil || m.m == nil {
		return "0.00"
	}
	return m.ToDecimal().StringFixed(int32(m.m.Currency().Fraction))
}

// ToDecimal converts back to a decimal amount in major units
func (m *Money) ToDecimal() decimal.Decimal {
	if m == nil || m.m == nil {
		return decimal.Zero
	}
	currency := m.m.Currency()
	d := decimal.NewFromInt(m.m.Amount())
	return d.Div(decimal.New(1, int32(currency.Fraction)))
}

// MarshalJSON emits the exact amount as a string next to its display form
func (m *Money) MarshalJSON() ([]byte, error) {
	if m == nil || m.m == nil {
		return json.Marshal(nil)
	}
	return json.Marshal(map[string]string{
		"amount":   m.String(),
		"currency": m.Currency(),
		"display":  m.Display(),
	})
}

// Sum adds decimal amounts and returns the total in the given currency
func Sum(currencyCode string, amounts ...decimal.Decimal) *Money {
	total := decimal.Sum(decimal.Zero, amounts...)
	return NewFromDecimal(total, currencyCode)
}
