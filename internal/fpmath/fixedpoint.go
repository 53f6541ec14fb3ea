package fpmath

import "math/big"

// All engine arithmetic is fixed-point on *big.Int. USD values carry 30
// decimal places; token prices are scaled so price * rawTokenAmount lands on
// the same 30-decimal scale regardless of token decimals. Rates (fees,
// interest, margin ratios) are scaled by Precision.
const (
	ValueDecimals = 30
	RateDecimals  = 10
)

// Precision is the rate scale: a rate of Precision means 100%.
var Precision = Pow10(RateDecimals)

// Pow10 returns 10^n as a fresh big.Int.
func Pow10(n int) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}

// Zero returns a fresh zero value.
func Zero() *big.Int {
	return new(big.Int)
}

// Clone returns a copy of v, treating nil as zero.
func Clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}

// MulDiv computes a * b / denom with floor division.
func MulDiv(a, b, denom *big.Int) *big.Int {
	n := new(big.Int).Mul(a, b)
	return n.Div(n, denom)
}

// ZeroCapSub returns a - b floored at zero.
func ZeroCapSub(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	if d.Sign() < 0 {
		return new(big.Int)
	}
	return d
}

// Min returns the smaller of a and b (a fresh copy).
func Min(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Max returns the larger of a and b (a fresh copy).
func Max(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

// Diff returns |a - b|.
func Diff(a, b *big.Int) *big.Int {
	d := new(big.Int).Sub(a, b)
	return d.Abs(d)
}

// IsZero reports whether v is nil or zero.
func IsZero(v *big.Int) bool {
	return v == nil || v.Sign() == 0
}

// ApplyRate computes amount * rate / Precision.
func ApplyRate(amount, rate *big.Int) *big.Int {
	return MulDiv(amount, rate, Precision)
}
