package engine

import (
	"fmt"
	"math/big"

	"termpool/internal/command"
	"termpool/internal/ledger"
	"termpool/internal/numeric"
)

// handlePriceUpdate applies an oracle tick. Stale ticks (sequence at or
// below the last applied one) are dropped without error so replays and
// overlapping feeds stay quiet.
func (e *Engine) handlePriceUpdate(c *command.PriceUpdate) (*ledger.Batch, error) {
	if c.Asset == "" {
		return nil, fmt.Errorf("price update with empty asset")
	}
	if !numeric.IsPositive(c.Price) {
		return nil, fmt.Errorf("price update for %s with non-positive price", c.Asset)
	}

	if !e.oracle.Update(c.Asset, c.Price, c.PriceSequence, c.PriceTimestamp) {
		if e.metrics != nil {
			e.metrics.PriceTicksDropped.WithLabelValues(c.Asset).Inc()
		}
	}

	return e.journalGen.EmptyBatch(c.IdempotencyKey(), c.PriceTimestamp), nil
}

// handleConfigUpdate applies a partial configuration change. Nil fields
// are left untouched. Privileged, and deliberately allowed while paused
// so the pause itself can be lifted.
func (e *Engine) handleConfigUpdate(c *command.ConfigUpdate) (*ledger.Batch, error) {
	if err := e.auth.RequireAuthorized(c.Caller); err != nil {
		return nil, err
	}

	if c.LendFee != nil {
		if c.LendFee.Sign() < 0 {
			return nil, fmt.Errorf("negative lend fee")
		}
		e.config.LendFee = numeric.Clone(c.LendFee)
	}
	if c.BorrowFee != nil {
		if c.BorrowFee.Sign() < 0 {
			return nil, fmt.Errorf("negative borrow fee")
		}
		e.config.BorrowFee = numeric.Clone(c.BorrowFee)
	}
	if c.SwapSpread != nil {
		if c.SwapSpread.Sign() < 0 {
			return nil, fmt.Errorf("negative swap spread")
		}
		e.config.SwapSpread = numeric.Clone(c.SwapSpread)
		if v, ok := e.venue.(interface{ SetSpread(*big.Int) }); ok {
			v.SetSpread(e.config.SwapSpread)
		}
	}
	if c.MinDeposit != nil {
		if c.MinDeposit.Sign() < 0 {
			return nil, fmt.Errorf("negative minimum deposit")
		}
		e.config.MinDeposit = numeric.Clone(c.MinDeposit)
	}
	if c.FeeCollector != nil {
		e.config.FeeCollector = *c.FeeCollector
	}
	if c.Paused != nil {
		e.config.Paused = *c.Paused
	}
	e.config.Version++

	return e.journalGen.EmptyBatch(c.RequestID.String(), c.Timestamp), nil
}
