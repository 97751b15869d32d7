package adapter

import (
	"math/big"

	"termpool/internal/numeric"
	"termpool/internal/pool"
)

// SpreadVenue is a swap venue that prices off the oracle book plus a
// configurable spread (1e8 scale). Quotes round up so the venue never
// undercharges.
type SpreadVenue struct {
	oracle PriceOracle
	spread *big.Int
}

func NewSpreadVenue(oracle PriceOracle, spread *big.Int) *SpreadVenue {
	return &SpreadVenue{
		oracle: oracle,
		spread: numeric.Clone(spread),
	}
}

// SetSpread updates the quote spread (driven by ConfigUpdate).
func (v *SpreadVenue) SetSpread(spread *big.Int) {
	v.spread = numeric.Clone(spread)
}

// AmountIn quotes ceil(amountOut * priceOut / priceIn * (1 + spread)).
func (v *SpreadVenue) AmountIn(path []string, amountOut *big.Int) (*big.Int, error) {
	if len(path) < 2 {
		return nil, ErrEmptyPath
	}
	if amountOut == nil || amountOut.Sign() <= 0 {
		return new(big.Int), nil
	}

	priceIn, err := v.oracle.Price(path[0])
	if err != nil {
		return nil, err
	}
	priceOut, err := v.oracle.Price(path[len(path)-1])
	if err != nil {
		return nil, err
	}

	num := new(big.Int).Mul(amountOut, priceOut)
	num.Mul(num, new(big.Int).Add(numeric.RateScale, v.spread))
	den := new(big.Int).Mul(priceIn, numeric.RateScale)
	return ceilDiv(num, den), nil
}

// SwapExactOut consumes the quoted input, rejecting when it exceeds
// maxAmountIn.
func (v *SpreadVenue) SwapExactOut(path []string, amountOut, maxAmountIn *big.Int) (*big.Int, error) {
	amountIn, err := v.AmountIn(path, amountOut)
	if err != nil {
		return nil, err
	}
	if maxAmountIn != nil && amountIn.Cmp(maxAmountIn) > 0 {
		return nil, ErrSlippageExceeded
	}
	return amountIn, nil
}

func ceilDiv(num, den *big.Int) *big.Int {
	if den.Sign() == 0 {
		return new(big.Int)
	}
	q, r := new(big.Int).QuoRem(num, den, new(big.Int))
	if r.Sign() != 0 {
		q.Add(q, big.NewInt(1))
	}
	return q
}

// BuildPath returns the swap route between two pool assets, substituting
// the wrapped form for the native sentinel.
func BuildPath(from, to, wrapped string) []string {
	if from == pool.NativeAsset {
		from = wrapped
	}
	if to == pool.NativeAsset {
		to = wrapped
	}
	return []string{from, to}
}
