package pool

import (
	"math/big"

	"github.com/google/uuid"
)

// NativeAsset is the sentinel symbol for the chain's native coin. Swap
// paths substitute the wrapped form for it.
const NativeAsset = "NATIVE"

// Pool is one fixed-term lending pool. Rates are 1e8-scaled; amounts
// are big integers in the asset's smallest unit.
type Pool struct {
	Index                  uint64
	Creator                uuid.UUID
	SettleTime             int64 // unix seconds; MATCH closes here
	EndTime                int64 // unix seconds; maturity
	InterestRate           *big.Int // annualized, 1e8 scale
	MortgageRate           *big.Int // collateral ratio, 1e8 scale
	AutoLiquidateThreshold *big.Int // 1e8 scale
	MaxSupply              *big.Int // lend deposit cap
	LendAsset              string
	BorrowAsset            string
	LendSupply             *big.Int // total lend deposits during MATCH
	BorrowSupply           *big.Int // total collateral during MATCH
	State                  State
	Settlement             *Settlement // nil until settle
	Version                int64       // bumped on every mutation
}

// Settlement freezes the matched amounts at settle time and the terminal
// payouts at finish or liquidation. Fields are written by exactly one
// transition each and never mutated again.
type Settlement struct {
	SettleAmountLend   *big.Int // matched lend principal
	SettleAmountBorrow *big.Int // matched collateral
	SettlePriceLend    *big.Int // oracle price of the lend asset at settle
	SettlePriceBorrow  *big.Int // oracle price of the borrow asset at settle

	FinishAmountLend   *big.Int // SP payout pool, written at FINISH
	FinishAmountBorrow *big.Int // JP payout pool, written at FINISH

	LiquidationAmountLend   *big.Int // SP payout pool, written at LIQUIDATION
	LiquidationAmountBorrow *big.Int // JP payout pool, written at LIQUIDATION
}

// TerminalAmounts returns the payout pools matching the pool's terminal
// state (finish or liquidation fields).
func (p *Pool) TerminalAmounts() (lend, borrow *big.Int) {
	if p.Settlement == nil {
		return nil, nil
	}
	switch p.State {
	case StateFinish:
		return p.Settlement.FinishAmountLend, p.Settlement.FinishAmountBorrow
	case StateLiquidation:
		return p.Settlement.LiquidationAmountLend, p.Settlement.LiquidationAmountBorrow
	default:
		return nil, nil
	}
}

// Matched reports whether settlement has recorded matched amounts.
func (p *Pool) Matched() bool {
	return p.Settlement != nil && p.Settlement.SettleAmountLend != nil
}

// CanonicalBytes returns deterministic serialization for hashing
func (p *Pool) CanonicalBytes() []byte {
	buf := make([]byte, 0, 192)

	buf = appendUint64LE(buf, p.Index)
	buf = append(buf, byte(p.State))
	buf = appendInt64LE(buf, p.SettleTime)
	buf = appendInt64LE(buf, p.EndTime)
	buf = appendBig(buf, p.LendSupply)
	buf = appendBig(buf, p.BorrowSupply)

	if p.Settlement != nil {
		buf = appendBig(buf, p.Settlement.SettleAmountLend)
		buf = appendBig(buf, p.Settlement.SettleAmountBorrow)
		buf = appendBig(buf, p.Settlement.FinishAmountLend)
		buf = appendBig(buf, p.Settlement.FinishAmountBorrow)
		buf = appendBig(buf, p.Settlement.LiquidationAmountLend)
		buf = appendBig(buf, p.Settlement.LiquidationAmountBorrow)
	}

	return buf
}

// appendBig writes sign byte + length-prefixed magnitude bytes.
func appendBig(buf []byte, v *big.Int) []byte {
	if v == nil {
		return append(buf, 0, 0)
	}
	buf = append(buf, byte(v.Sign()+1))
	mag := v.Bytes()
	buf = append(buf, byte(len(mag)))
	return append(buf, mag...)
}

func appendInt64LE(buf []byte, v int64) []byte {
	return appendUint64LE(buf, uint64(v))
}

func appendUint64LE(buf []byte, v uint64) []byte {
	return append(buf,
		byte(v),
		byte(v>>8),
		byte(v>>16),
		byte(v>>24),
		byte(v>>32),
		byte(v>>40),
		byte(v>>48),
		byte(v>>56),
	)
}
