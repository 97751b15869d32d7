package pool

import (
	"math/big"

	"github.com/google/uuid"
)

// GlobalConfig holds protocol-wide parameters. The engine mutates it
// only through ConfigUpdate commands, so a pointer copy is never shared
// with readers.
type GlobalConfig struct {
	LendFee      *big.Int // 1e8 scale, taken from lend-side payouts
	BorrowFee    *big.Int // 1e8 scale, taken from borrow-side payouts
	SwapSpread   *big.Int // 1e8 scale, venue quote spread
	MinDeposit   *big.Int // smallest accepted deposit
	FeeCollector uuid.UUID
	Paused       bool
	Version      int64
}

// DefaultConfig returns a zero-fee, unpaused configuration.
func DefaultConfig() *GlobalConfig {
	return &GlobalConfig{
		LendFee:    new(big.Int),
		BorrowFee:  new(big.Int),
		SwapSpread: new(big.Int),
		MinDeposit: new(big.Int),
	}
}

// Clone returns a deep copy safe to hand to readers.
func (c *GlobalConfig) Clone() *GlobalConfig {
	if c == nil {
		return DefaultConfig()
	}
	out := &GlobalConfig{
		FeeCollector: c.FeeCollector,
		Paused:       c.Paused,
		Version:      c.Version,
	}
	out.LendFee = cloneBig(c.LendFee)
	out.BorrowFee = cloneBig(c.BorrowFee)
	out.SwapSpread = cloneBig(c.SwapSpread)
	out.MinDeposit = cloneBig(c.MinDeposit)
	return out
}

func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
