// Package decmath provides small helpers for fixed-point price arithmetic.
package decmath

import (
	"math"

	"github.com/shopspring/decimal"
)

var (
	Zero = decimal.Zero
	One  = decimal.NewFromInt(1)
	Two  = decimal.NewFromInt(2)

	eps = decimal.New(1, -8)
)

// FromFloat converts a float into a decimal, mapping NaN/Inf to zero so that a
// single bad sample cannot poison downstream arithmetic.
func FromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return Zero
	}
	return decimal.NewFromFloat(val)
}

// ValidFloat reports whether val is a usable finite number.
func ValidFloat(val float64) bool {
	return !math.IsNaN(val) && !math.IsInf(val, 0)
}

func ToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func Abs(a decimal.Decimal) decimal.Decimal {
	return a.Abs()
}

func Max(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) >= 0 {
		return a
	}
	return b
}

func Min(a, b decimal.Decimal) decimal.Decimal {
	if a.Cmp(b) <= 0 {
		return a
	}
	return b
}

// Mid returns the midpoint of a and b.
func Mid(a, b decimal.Decimal) decimal.Decimal {
	return a.Add(b).Div(Two)
}

// Ratio returns a/b as a float64, or 0 when b is zero. Scores and ratios live
// in float space; only prices stay decimal.
func Ratio(a, b decimal.Decimal) float64 {
	if b.IsZero() {
		return 0
	}
	f, _ := a.Div(b).Float64()
	return f
}

// Clamp01 clamps a score component into [0,1] before weighting.
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// Equal reports a == b within a fixed epsilon.
func Equal(a, b decimal.Decimal) bool {
	return a.Sub(b).Abs().Cmp(eps) <= 0
}

// MulFloat scales a decimal by a float factor, guarding NaN/Inf factors.
func MulFloat(a decimal.Decimal, k float64) decimal.Decimal {
	return a.Mul(FromFloat(k))
}
