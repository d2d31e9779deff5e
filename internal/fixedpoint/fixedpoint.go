package fixedpoint

import (
	"math/big"
	"sync"
)

// All money and collateral amounts are integer scaled units. Floating point
// never touches a balance.
const (
	// ScaleUSDC is the smallest USDC unit (1e-6 USDC).
	ScaleUSDC int64 = 1_000_000

	// ScaleAsset is the smallest collateral-asset unit (1e-6 ETH).
	ScaleAsset int64 = 1_000_000

	// ScalePPM is the scale for fractions, ratios, and rates
	// (1_000_000 = 100%).
	ScalePPM int64 = 1_000_000

	// SecondsPerYear is the accrual year for annualized rates.
	SecondsPerYear int64 = 365 * 24 * 3600
)

// RoundingMode selects the rounding direction of a division. Every call
// site states its direction explicitly; the protocol-favoring direction
// is chosen per operation (down for amounts leaving the pool, up for
// amounts owed to it).
type RoundingMode int

const (
	RoundDown RoundingMode = iota
	RoundUp
	RoundHalfEven
)

// int128Pool recycles big.Int intermediates for the hot path.
var int128Pool = &sync.Pool{
	New: func() interface{} {
		return new(big.Int)
	},
}

func getInt128() *big.Int {
	return int128Pool.Get().(*big.Int)
}

func putInt128(v *big.Int) {
	v.SetInt64(0)
	int128Pool.Put(v)
}

// MulDiv computes a*b/denom through an int128 intermediate so the product
// cannot overflow. Operands must be non-negative and denom positive.
func MulDiv(a, b, denom int64, mode RoundingMode) int64 {
	num := getInt128()
	num.Mul(big.NewInt(a), big.NewInt(b))
	result := divInt128(num, denom, mode)
	putInt128(num)
	return result
}

// MulMulDiv computes a*b*c/denom through an int128 intermediate.
// Used for interest accrual where three factors stack before the divide.
func MulMulDiv(a, b, c, denom int64, mode RoundingMode) int64 {
	num := getInt128()
	num.Mul(big.NewInt(a), big.NewInt(b))
	num.Mul(num, big.NewInt(c))
	result := divInt128(num, denom, mode)
	putInt128(num)
	return result
}

func divInt128(numerator *big.Int, denominator int64, mode RoundingMode) int64 {
	denom := big.NewInt(denominator)
	quotient := getInt128()
	remainder := getInt128()

	quotient.DivMod(numerator, denom, remainder)
	result := quotient.Int64()

	switch mode {
	case RoundUp:
		if remainder.Sign() != 0 {
			result++
		}

	case RoundHalfEven:
		half := big.NewInt(denominator / 2)
		cmp := remainder.Cmp(half)
		if cmp > 0 {
			result++
		} else if cmp == 0 && denominator%2 == 0 && result%2 != 0 {
			result++
		}
	}

	putInt128(quotient)
	putInt128(remainder)

	return result
}
