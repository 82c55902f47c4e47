// Package fixed provides 6-decimal fixed-point arithmetic for money and
// quantity values. All amounts are integers scaled by 1e6; intermediate
// products are computed in 128 bits so qty*price never loses precision.
package fixed

import (
	"errors"
	"fmt"
	"math"
	"math/bits"
)

// Fixed6 is a value scaled by 1e6 (e.g. $0.20 == 200000).
type Fixed6 int64

const (
	// One is 1.000000 in Fixed6 units.
	One Fixed6 = 1_000_000

	// BpsDenom is the basis-point denominator (100% == 10000 bps).
	BpsDenom Fixed6 = 10_000

	Max Fixed6 = math.MaxInt64
)

var ErrOverflow = errors.New("fixed: overflow")

// Add returns a+b with overflow detection.
func Add(a, b Fixed6) (Fixed6, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%w: %d + %d", ErrOverflow, a, b)
	}
	return sum, nil
}

// Sub returns a-b with overflow detection.
func Sub(a, b Fixed6) (Fixed6, error) {
	diff := a - b
	if (b < 0 && diff < a) || (b > 0 && diff > a) {
		return 0, fmt.Errorf("%w: %d - %d", ErrOverflow, a, b)
	}
	return diff, nil
}

// MulDivFloor returns floor(a*b/denom). Inputs must be non-negative and
// denom positive; the product is computed in 128 bits.
func MulDivFloor(a, b, denom Fixed6) (Fixed6, error) {
	return mulDiv(a, b, denom, false)
}

// MulDivCeil returns ceil(a*b/denom). Used where rounding up favors the
// safety margin (required approvals, collateral requirements).
func MulDivCeil(a, b, denom Fixed6) (Fixed6, error) {
	return mulDiv(a, b, denom, true)
}

func mulDiv(a, b, denom Fixed6, ceil bool) (Fixed6, error) {
	if a < 0 || b < 0 || denom <= 0 {
		return 0, fmt.Errorf("%w: muldiv(%d, %d, %d)", ErrOverflow, a, b, denom)
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi >= uint64(denom) {
		return 0, fmt.Errorf("%w: muldiv(%d, %d, %d)", ErrOverflow, a, b, denom)
	}
	quo, rem := bits.Div64(hi, lo, uint64(denom))
	if quo > math.MaxInt64 {
		return 0, fmt.Errorf("%w: muldiv(%d, %d, %d)", ErrOverflow, a, b, denom)
	}
	if ceil && rem != 0 {
		// quo <= MaxInt64 here, so the increment cannot wrap uint64.
		quo++
		if quo > math.MaxInt64 {
			return 0, fmt.Errorf("%w: muldiv(%d, %d, %d)", ErrOverflow, a, b, denom)
		}
	}
	return Fixed6(quo), nil
}

// Notional returns floor(qty*price/1e6), the quote-currency value of a fill.
// Flooring favors the taker: the buyer never pays a rounded-up notional.
func Notional(qty, priceE6 Fixed6) (Fixed6, error) {
	return MulDivFloor(qty, priceE6, One)
}

// Fee returns floor(notional*bps/10000).
func Fee(notionalE6 Fixed6, bps uint16) (Fixed6, error) {
	return MulDivFloor(notionalE6, Fixed6(bps), BpsDenom)
}

// String formats a Fixed6 with six decimal places.
func (f Fixed6) String() string {
	neg := ""
	v := f
	if v < 0 {
		neg = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%06d", neg, v/One, v%One)
}
