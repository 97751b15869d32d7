package numeric

import "math/big"

// Fixed-point scales used across the pool engine.
// Rate-like fields (interest rate, mortgage rate, fees, liquidation
// threshold) are 1e8-scaled; share fractions use 1e18. All divisions
// truncate toward zero, so rounding dust stays with the pool.
var (
	RateScale  = big.NewInt(100_000_000)
	ShareScale = mustBigInt("1000000000000000000")
)

// SecondsPerYear is the simple-interest year used by the finish and
// liquidate transitions.
const SecondsPerYear = 365 * 24 * 3600

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("numeric: invalid big integer constant")
	}
	return v
}

// Zero returns a fresh zero-valued big.Int.
func Zero() *big.Int {
	return new(big.Int)
}

// Clone returns an independent copy of x, treating nil as zero.
func Clone(x *big.Int) *big.Int {
	if x == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(x)
}

// IsPositive reports whether x is non-nil and strictly greater than zero.
func IsPositive(x *big.Int) bool {
	return x != nil && x.Sign() > 0
}

// MulDiv computes floor(a * b / den). A nil or zero denominator yields
// zero rather than panicking; the engine treats that as "no share".
func MulDiv(a, b, den *big.Int) *big.Int {
	if a == nil || b == nil || den == nil || den.Sign() == 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(a, b)
	return out.Quo(out, den)
}

// Share computes floor(amount * stake / total), the stake-weighted slice
// of amount. It is the single primitive behind refunds, claims, and
// withdrawals.
func Share(amount, stake, total *big.Int) *big.Int {
	return MulDiv(amount, stake, total)
}

// ApplyRate computes floor(amount * rate / 1e8).
func ApplyRate(amount, rate *big.Int) *big.Int {
	return MulDiv(amount, rate, RateScale)
}

// WithMarkup computes floor(amount * (1e8 + rate) / 1e8).
func WithMarkup(amount, rate *big.Int) *big.Int {
	if rate == nil {
		return Clone(amount)
	}
	factor := new(big.Int).Add(RateScale, rate)
	return MulDiv(amount, factor, RateScale)
}

// WithDiscount computes floor(amount * (1e8 - rate) / 1e8). A rate at or
// above 1e8 consumes the full amount.
func WithDiscount(amount, rate *big.Int) *big.Int {
	if rate == nil {
		return Clone(amount)
	}
	factor := new(big.Int).Sub(RateScale, rate)
	if factor.Sign() < 0 {
		return new(big.Int)
	}
	return MulDiv(amount, factor, RateScale)
}

// SimpleInterest computes floor(principal * rate * elapsedSeconds /
// (secondsPerYear * 1e8)), the fixed-term simple interest owed to the
// lend side between settlement and maturity.
func SimpleInterest(principal, rate *big.Int, elapsedSeconds int64) *big.Int {
	if principal == nil || rate == nil || elapsedSeconds <= 0 {
		return new(big.Int)
	}
	out := new(big.Int).Mul(principal, rate)
	out.Mul(out, big.NewInt(elapsedSeconds))
	den := new(big.Int).Mul(big.NewInt(SecondsPerYear), RateScale)
	return out.Quo(out, den)
}

// ConvertValue reprices amount from one asset into another given their
// oracle unit prices: floor(amount * fromPrice / toPrice).
func ConvertValue(amount, fromPrice, toPrice *big.Int) *big.Int {
	return MulDiv(amount, fromPrice, toPrice)
}
