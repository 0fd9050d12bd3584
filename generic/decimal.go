/*
decimal.go - Exact base-10 arithmetic for money and quantities

PURPOSE:
  Every amount the engine touches (prices, rates, percentages, care hours,
  minutes) goes through Decimal. Binary floats accumulate visible billing
  errors (0.1 + 0.2 != 0.3), and a draft bill is summed over hundreds of
  events, so float64 never appears in a computation path.

OPERATIONS:
  Add, Sub, Mul:  total, pure
  Div:            fails with ErrDivisionByZero on a zero divisor
  Comparisons:    GreaterThan, LessThan, Equal (numeric, scale-insensitive)
  Rendering:      String (trailing zeros trimmed), StringFixed(places)

CANONICAL FORM:
  shopspring/decimal keeps the scale of its inputs, so 0.30 and 0.3 carry
  different exponents. Equal compares values and String trims trailing
  zeros, so two computations with the same mathematical result always
  compare equal and render the same.

DIVISION:
  Non-terminating quotients (1/3) are cut at decimal.DivisionPrecision
  digits. Callers multiply before dividing wherever they can
  (price * minutes / 60, not price * (minutes / 60)).

SEE ALSO:
  - types.go: the value types built on Decimal
  - errors.go: ErrDivisionByZero
*/
package generic

import (
	"database/sql/driver"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Decimal is an exact base-10 number. The zero value is 0.
type Decimal struct {
	d decimal.Decimal
}

var (
	Zero    = Decimal{d: decimal.Zero}
	One     = Decimal{d: decimal.NewFromInt(1)}
	Sixty   = Decimal{d: decimal.NewFromInt(60)}
	Hundred = Decimal{d: decimal.NewFromInt(100)}
)

// NewDecimal parses a base-10 string such as "20", "5.5" or "-0.01".
func NewDecimal(s string) (Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Decimal{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return Decimal{d: d}, nil
}

// MustDecimal parses s and panics on malformed input.
// Use for literals and tests only.
func MustDecimal(s string) Decimal {
	d, err := NewDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

func NewDecimalFromInt(i int64) Decimal        { return Decimal{d: decimal.NewFromInt(i)} }
func FromShopspring(d decimal.Decimal) Decimal { return Decimal{d: d} }
func (x Decimal) Shopspring() decimal.Decimal  { return x.d }

// MinutesOf converts a duration to minutes, truncated to the second.
func MinutesOf(d time.Duration) Decimal {
	seconds := decimal.NewFromInt(int64(d / time.Second))
	return Decimal{d: seconds.Div(Sixty.d)}
}

// =============================================================================
// ARITHMETIC
// =============================================================================

func (x Decimal) Add(y Decimal) Decimal { return Decimal{d: x.d.Add(y.d)} }
func (x Decimal) Sub(y Decimal) Decimal { return Decimal{d: x.d.Sub(y.d)} }
func (x Decimal) Mul(y Decimal) Decimal { return Decimal{d: x.d.Mul(y.d)} }
func (x Decimal) Neg() Decimal          { return Decimal{d: x.d.Neg()} }

// Div returns x / y, or ErrDivisionByZero.
func (x Decimal) Div(y Decimal) (Decimal, error) {
	if y.d.IsZero() {
		return Decimal{}, ErrDivisionByZero
	}
	return Decimal{d: x.d.Div(y.d)}, nil
}

// Round rounds half away from zero to the given number of places.
func (x Decimal) Round(places int32) Decimal { return Decimal{d: x.d.Round(places)} }

// Percent returns x * pct / 100.
func (x Decimal) Percent(pct Decimal) Decimal {
	return Decimal{d: x.d.Mul(pct.d).Div(Hundred.d)}
}

// Sum adds all values, starting from Zero.
func Sum(values ...Decimal) Decimal {
	total := Zero
	for _, v := range values {
		total = total.Add(v)
	}
	return total
}

// =============================================================================
// COMPARISON
// =============================================================================

func (x Decimal) Cmp(y Decimal) int                 { return x.d.Cmp(y.d) }
func (x Decimal) Equal(y Decimal) bool              { return x.d.Equal(y.d) }
func (x Decimal) GreaterThan(y Decimal) bool        { return x.d.GreaterThan(y.d) }
func (x Decimal) GreaterThanOrEqual(y Decimal) bool { return x.d.GreaterThanOrEqual(y.d) }
func (x Decimal) LessThan(y Decimal) bool           { return x.d.LessThan(y.d) }
func (x Decimal) LessThanOrEqual(y Decimal) bool    { return x.d.LessThanOrEqual(y.d) }
func (x Decimal) IsZero() bool                      { return x.d.IsZero() }
func (x Decimal) IsPositive() bool                  { return x.d.IsPositive() }
func (x Decimal) IsNegative() bool                  { return x.d.IsNegative() }

func (x Decimal) Min(y Decimal) Decimal {
	if x.LessThan(y) {
		return x
	}
	return y
}

func (x Decimal) Max(y Decimal) Decimal {
	if x.GreaterThan(y) {
		return x
	}
	return y
}

// =============================================================================
// RENDERING & ENCODING
// =============================================================================

// String renders the canonical form (no trailing zeros).
func (x Decimal) String() string { return x.d.String() }

// StringFixed renders with exactly places decimal places, rounding half away from zero.
func (x Decimal) StringFixed(places int32) string { return x.d.StringFixed(places) }

func (x Decimal) MarshalJSON() ([]byte, error) { return x.d.MarshalJSON() }

func (x *Decimal) UnmarshalJSON(data []byte) error {
	return x.d.UnmarshalJSON(data)
}

// Value stores decimals as TEXT so SQLite never coerces them to REAL.
func (x Decimal) Value() (driver.Value, error) { return x.d.String(), nil }

func (x *Decimal) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		x.d = decimal.Zero
		return nil
	case []byte:
		return x.Scan(string(v))
	case string:
		d, err := decimal.NewFromString(v)
		if err != nil {
			return fmt.Errorf("scan decimal %q: %w", v, err)
		}
		x.d = d
		return nil
	case int64:
		x.d = decimal.NewFromInt(v)
		return nil
	default:
		return fmt.Errorf("scan decimal: unsupported type %T", src)
	}
}
