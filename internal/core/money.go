package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in cents. Totals may be negative, line items may not.
type Money struct {
	Cents int64
}

// MaxCents bounds a single amount so that summing many of them into a sheet
// total stays far from int64 overflow.
const MaxCents int64 = 1e13

var maxCents = decimal.NewFromInt(MaxCents)

// ParseDecimalToCents converts user input such as "12.34" or "12,34" to
// cents, rounding half-up on the third decimal. Only positive plain
// decimals are accepted.
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.ReplaceAll(strings.TrimSpace(s), ",", ".")
	if s == "" || strings.Count(s, ".") > 1 {
		return 0, ErrInvalidAmount
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return 0, ErrInvalidAmount
		}
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidAmount
	}
	cents := d.Shift(2).Round(0)
	if !cents.IsPositive() || cents.GreaterThan(maxCents) {
		return 0, ErrInvalidAmount
	}
	return cents.IntPart(), nil
}

// ParseMoney is ParseDecimalToCents returning a Money.
func ParseMoney(s string) (Money, error) {
	cents, err := ParseDecimalToCents(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: cents}, nil
}

func (m Money) Validate() error {
	if m.Cents <= 0 || m.Cents > MaxCents {
		return ErrInvalidAmount
	}
	return nil
}

// Decimal returns the amount in major units.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String renders the amount with two decimals, e.g. "-12.30".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}

// Input renders the amount the way edit forms expect it back.
func (m Money) Input() string {
	return m.String()
}
