package book

import (
	"fmt"
	"math"
	"math/big"
	"math/bits"

	"github.com/shopspring/decimal"
)

// MicrosScale is the fixed-point scale for prices, shares and collateral
// amounts: 1.0 == 1_000_000 micros.
const MicrosScale = uint64(1_000_000)

// ParseMicros parses a base-10 decimal string into integer micro units.
// Digits beyond the sixth fractional place are truncated, not rounded.
func ParseMicros(s string) (uint64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	if d.IsNegative() {
		return 0, fmt.Errorf("negative not supported: %q", s)
	}
	m := d.Shift(6).Truncate(0)
	if !m.BigInt().IsUint64() {
		return 0, fmt.Errorf("decimal overflow %q", s)
	}
	return m.BigInt().Uint64(), nil
}

// FormatMicros renders micros as a canonical decimal string ("0.55", "48.4").
func FormatMicros(m uint64) string {
	return decimal.New(int64(m), -6).String()
}

// FormatSignedMicros renders signed micros, keeping an explicit sign for
// non-negative values ("+12.5", "-0.25").
func FormatSignedMicros(m int64) string {
	d := decimal.New(m, -6)
	if m >= 0 {
		return "+" + d.String()
	}
	return d.String()
}

func mulDivU64(a, b, div uint64) uint64 {
	if div == 0 {
		panic("mulDivU64: div=0")
	}

	hi, lo := bits.Mul64(a, b)
	if hi == 0 {
		return lo / div
	}

	// Overflow path: exact 128-bit division via big.Int.
	var x big.Int
	x.SetUint64(hi)
	x.Lsh(&x, 64)

	var y big.Int
	y.SetUint64(lo)
	x.Add(&x, &y)

	var d big.Int
	d.SetUint64(div)
	x.Div(&x, &d)

	if x.IsUint64() {
		return x.Uint64()
	}
	return math.MaxUint64
}

// CostMicros returns the collateral (in micros) required to buy sharesMicros
// shares at priceMicros.
func CostMicros(sharesMicros, priceMicros uint64) uint64 {
	return mulDivU64(sharesMicros, priceMicros, MicrosScale)
}
