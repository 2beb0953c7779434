package models

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a non-negative decimal amount plus an ISO-4217 currency
// code. The sign of a transaction is carried separately as a
// FlowDirection, never on the amount.
type Money struct {
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}

// FlowDirection represents which way money moves relative to the
// organization.
type FlowDirection string

const (
	FlowInbound  FlowDirection = "INBOUND"
	FlowOutbound FlowDirection = "OUTBOUND"
)

// IsValid checks if the flow direction is valid
func (f FlowDirection) IsValid() bool {
	return f == FlowInbound || f == FlowOutbound
}

// NewMoney creates a Money value and validates it
func NewMoney(amount decimal.Decimal, currency string) (Money, error) {
	m := Money{Amount: amount, Currency: strings.ToUpper(strings.TrimSpace(currency))}
	if err := m.Validate(); err != nil {
		return Money{}, err
	}
	return m, nil
}

// MustMoney creates a Money value and panics on invalid input. Intended
// for tests and fixtures.
func MustMoney(amount string, currency string) Money {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		panic(fmt.Sprintf("invalid money amount %q: %v", amount, err))
	}
	m, err := NewMoney(d, currency)
	if err != nil {
		panic(err)
	}
	return m
}

// Validate performs basic validation on the Money value
func (m Money) Validate() error {
	if m.Amount.IsNegative() {
		return fmt.Errorf("money amount cannot be negative: %s", m.Amount.String())
	}

	if len(m.Currency) != 3 {
		return fmt.Errorf("currency must be a 3-letter ISO-4217 code: %q", m.Currency)
	}

	for _, r := range m.Currency {
		if r < 'A' || r > 'Z' {
			return fmt.Errorf("currency must be uppercase letters: %q", m.Currency)
		}
	}

	return nil
}

// IsZero returns true when the amount is zero
func (m Money) IsZero() bool {
	return m.Amount.IsZero()
}

// Equal compares two Money values for exact equality
func (m Money) Equal(other Money) bool {
	return m.Currency == other.Currency && m.Amount.Equal(other.Amount)
}

// SameCurrency reports whether two Money values share a currency
func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// Add returns m + other. Both values must share a currency.
func (m Money) Add(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, fmt.Errorf("cannot add %s to %s: currency mismatch", other.Currency, m.Currency)
	}
	return Money{Amount: m.Amount.Add(other.Amount), Currency: m.Currency}, nil
}

// Sub returns m - other. Both values must share a currency and the
// result must not go negative.
func (m Money) Sub(other Money) (Money, error) {
	if !m.SameCurrency(other) {
		return Money{}, fmt.Errorf("cannot subtract %s from %s: currency mismatch", other.Currency, m.Currency)
	}
	result := m.Amount.Sub(other.Amount)
	if result.IsNegative() {
		return Money{}, fmt.Errorf("subtraction would produce a negative amount: %s - %s", m.Amount, other.Amount)
	}
	return Money{Amount: result, Currency: m.Currency}, nil
}

// String returns a string representation of the Money value
func (m Money) String() string {
	return fmt.Sprintf("%s %s", m.Amount.String(), m.Currency)
}

// WithinMajorUnitCent reports whether two amounts agree within 0.01 of
// a major unit. This is the scorer's definition of exact amount
// equality.
func WithinMajorUnitCent(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().LessThanOrEqual(decimal.NewFromFloat(0.01))
}

// PercentDifference returns |a-b| / max(a,b) * 100. Returns zero when
// both amounts are zero.
func PercentDifference(a, b decimal.Decimal) decimal.Decimal {
	larger := decimal.Max(a.Abs(), b.Abs())
	if larger.IsZero() {
		return decimal.Zero
	}
	return a.Sub(b).Abs().Div(larger).Mul(decimal.NewFromInt(100))
}
