package promise

import (
	"fmt"
	"math/big"
)

// RatioScale is the fixed-point scale used for deposit ratios.
var RatioScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// FeeBpsDenominator defines the scaling factor for basis point fee math.
const FeeBpsDenominator = 10_000

// ComputeRatio returns numerator/denominator as an 18-digit fixed-point
// value. The denominator must be positive.
func ComputeRatio(numerator, denominator *big.Int) (*big.Int, error) {
	if numerator == nil || denominator == nil {
		return nil, fmt.Errorf("promise: nil ratio operand")
	}
	if denominator.Sign() <= 0 {
		return nil, fmt.Errorf("promise: ratio denominator must be positive")
	}
	if numerator.Sign() < 0 {
		return nil, fmt.Errorf("promise: ratio numerator must be non-negative")
	}
	ratio := new(big.Int).Mul(numerator, RatioScale)
	return ratio.Quo(ratio, denominator), nil
}

// WithinBounds reports whether ratio lies in the inclusive [min, max]
// interval.
func WithinBounds(ratio, min, max *big.Int) bool {
	if ratio == nil || min == nil || max == nil {
		return false
	}
	return min.Cmp(ratio) <= 0 && ratio.Cmp(max) <= 0
}

// ComputeFee returns the protocol fee taken from amount at the supplied
// basis points, rounded down. The fee is carved out of the settled
// amount, never added on top.
func ComputeFee(amount *big.Int, feeBps uint32) *big.Int {
	if amount == nil || amount.Sign() <= 0 || feeBps == 0 {
		return big.NewInt(0)
	}
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(uint64(feeBps)))
	return fee.Quo(fee, big.NewInt(FeeBpsDenominator))
}
