package fixedmath

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// Rounding selects the direction a truncated quotient is adjusted.
// Every call site chooses explicitly; there is no default.
type Rounding int

const (
	// RoundDown truncates toward zero.
	RoundDown Rounding = iota
	// RoundUp rounds away from zero when the division has a remainder.
	RoundUp
)

const (
	// BasisPointsDivisor is the denominator for all fee/rate parameters:
	// a rate of 100_000_000 is 100%.
	BasisPointsDivisor uint64 = 100_000_000
)

var (
	// Q96 is 2^96, the scale of all X96 fixed-point values.
	Q96 = new(uint256.Int).Lsh(uint256.NewInt(1), 96)
	// Q64 is 2^64, the scale of realized-profit-growth accumulators.
	Q64 = new(uint256.Int).Lsh(uint256.NewInt(1), 64)

	// Q96Big and Q64Big are the same scales for signed big.Int arithmetic.
	Q96Big = new(big.Int).Lsh(big.NewInt(1), 96)
	Q64Big = new(big.Int).Lsh(big.NewInt(1), 64)

	maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
)

// MulDiv computes a*b/denominator over a full-width intermediate product, so
// the multiplication cannot overflow even when a and b are both near 2^256.
// A zero denominator or a result exceeding 256 bits is a protocol invariant
// breach, not a user error: it panics and must never be swallowed by callers.
func MulDiv(a, b, denominator *uint256.Int, rounding Rounding) *uint256.Int {
	if denominator.IsZero() {
		panic("FATAL: fixedmath: mulDiv division by zero")
	}
	prod := new(big.Int).Mul(a.ToBig(), b.ToBig())
	quo, rem := new(big.Int).QuoRem(prod, denominator.ToBig(), new(big.Int))
	if rounding == RoundUp && rem.Sign() != 0 {
		quo.Add(quo, big.NewInt(1))
	}
	if quo.Cmp(maxUint256) > 0 {
		panic(fmt.Sprintf("FATAL: fixedmath: mulDiv overflow: %s * %s / %s", a, b, denominator))
	}
	r, _ := uint256.FromBig(quo)
	return r
}

// MulDivBig is MulDiv over signed values. RoundDown truncates toward zero,
// RoundUp rounds away from zero; the sign of the result follows the usual
// sign rule for a*b/denominator.
func MulDivBig(a, b, denominator *big.Int, rounding Rounding) *big.Int {
	if denominator.Sign() == 0 {
		panic("FATAL: fixedmath: mulDiv division by zero")
	}
	prod := new(big.Int).Mul(a, b)
	quo, rem := new(big.Int).QuoRem(prod, denominator, new(big.Int))
	if rounding == RoundUp && rem.Sign() != 0 {
		if prod.Sign() < 0 != (denominator.Sign() < 0) {
			quo.Sub(quo, big.NewInt(1))
		} else {
			quo.Add(quo, big.NewInt(1))
		}
	}
	return quo
}

// CeilDiv computes a/b rounded up. Panics on a zero divisor.
func CeilDiv(a, b *uint256.Int) *uint256.Int {
	if b.IsZero() {
		panic("FATAL: fixedmath: ceilDiv division by zero")
	}
	quo := new(uint256.Int)
	rem := new(uint256.Int)
	quo.DivMod(a, b, rem)
	if !rem.IsZero() {
		quo.AddUint64(quo, 1)
	}
	return quo
}

// Clamp bounds v to [lo, hi]. The returned value is a fresh big.Int.
func Clamp(v, lo, hi *big.Int) *big.Int {
	if v.Cmp(lo) < 0 {
		return new(big.Int).Set(lo)
	}
	if v.Cmp(hi) > 0 {
		return new(big.Int).Set(hi)
	}
	return new(big.Int).Set(v)
}

// RateX96 converts a basis-points rate (1e8 == 100%) to its X96 fixed-point
// representation.
func RateX96(rate uint64) *uint256.Int {
	return MulDiv(uint256.NewInt(rate), Q96, uint256.NewInt(BasisPointsDivisor), RoundDown)
}

// MustUint256 converts a non-negative big.Int to a 256-bit word. A negative
// value or one exceeding 256 bits is an invariant breach and panics.
func MustUint256(v *big.Int) *uint256.Int {
	if v.Sign() < 0 {
		panic(fmt.Sprintf("FATAL: fixedmath: negative value where unsigned required: %s", v))
	}
	r, overflow := uint256.FromBig(v)
	if overflow {
		panic(fmt.Sprintf("FATAL: fixedmath: value exceeds 256 bits: %s", v))
	}
	return r
}

// ToBigSigned converts an unsigned word to a signed big.Int, optionally
// negating it. Used when an unsigned magnitude joins a signed accumulation.
func ToBigSigned(v *uint256.Int, negative bool) *big.Int {
	b := v.ToBig()
	if negative {
		b.Neg(b)
	}
	return b
}

// FromBigSigned splits a signed big.Int into magnitude and sign. Panics if
// the magnitude does not fit 256 bits.
func FromBigSigned(v *big.Int) (magnitude *uint256.Int, negative bool) {
	abs := new(big.Int).Abs(v)
	m, overflow := uint256.FromBig(abs)
	if overflow {
		panic(fmt.Sprintf("FATAL: fixedmath: signed magnitude overflow: %s", v))
	}
	return m, v.Sign() < 0
}
