package engine

import (
	"fmt"
	"math/big"

	"termpool/internal/adapter"
	"termpool/internal/command"
	"termpool/internal/ledger"
	"termpool/internal/numeric"
	"termpool/internal/pool"
)

// handlePoolCreate registers a new pool in MATCH state. Privileged.
func (e *Engine) handlePoolCreate(c *command.PoolCreate) (*ledger.Batch, error) {
	if err := e.auth.RequireAuthorized(c.Creator); err != nil {
		return nil, err
	}
	if c.SettleTime <= c.Timestamp {
		return nil, fmt.Errorf("%w: settleTime %d not in the future", ErrInvalidPoolParams, c.SettleTime)
	}
	if c.EndTime <= c.SettleTime {
		return nil, fmt.Errorf("%w: endTime %d not after settleTime %d", ErrInvalidPoolParams, c.EndTime, c.SettleTime)
	}
	if !numeric.IsPositive(c.InterestRate) || !numeric.IsPositive(c.MortgageRate) {
		return nil, fmt.Errorf("%w: rates must be positive", ErrInvalidPoolParams)
	}
	if c.AutoLiquidateThreshold == nil || c.AutoLiquidateThreshold.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative liquidation threshold", ErrInvalidPoolParams)
	}
	if !numeric.IsPositive(c.MaxSupply) {
		return nil, fmt.Errorf("%w: maxSupply must be positive", ErrInvalidPoolParams)
	}
	if c.LendAsset == "" || c.BorrowAsset == "" || c.LendAsset == c.BorrowAsset {
		return nil, fmt.Errorf("%w: assets %q/%q", ErrInvalidPoolParams, c.LendAsset, c.BorrowAsset)
	}

	p := &pool.Pool{
		Creator:                c.Creator,
		SettleTime:             c.SettleTime,
		EndTime:                c.EndTime,
		InterestRate:           numeric.Clone(c.InterestRate),
		MortgageRate:           numeric.Clone(c.MortgageRate),
		AutoLiquidateThreshold: numeric.Clone(c.AutoLiquidateThreshold),
		MaxSupply:              numeric.Clone(c.MaxSupply),
		LendAsset:              c.LendAsset,
		BorrowAsset:            c.BorrowAsset,
		State:                  pool.StateMatch,
	}
	e.pools.Add(p)

	if e.metrics != nil {
		e.metrics.PoolsCreated.Inc()
		e.metrics.PoolsByState.WithLabelValues(pool.StateMatch.String()).Inc()
	}

	return e.journalGen.EmptyBatch(c.RequestID.String(), c.Timestamp), nil
}

// handleSettle closes the MATCH phase. With deposits on both sides it
// computes the matched amounts at oracle prices and moves the pool to
// EXECUTION; with either side empty it moves the pool to UNDONE.
func (e *Engine) handleSettle(c *command.Settle) (*ledger.Batch, error) {
	if err := e.auth.RequireAuthorized(c.Caller); err != nil {
		return nil, err
	}
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if p.State != pool.StateMatch {
		return nil, fmt.Errorf("%w: settle in %s", ErrInvalidState, p.State)
	}
	if c.Timestamp <= p.SettleTime {
		return nil, ErrSettleTimeNotPassed
	}

	if !numeric.IsPositive(p.LendSupply) || !numeric.IsPositive(p.BorrowSupply) {
		p.Settlement = &pool.Settlement{
			SettleAmountLend:   numeric.Clone(p.LendSupply),
			SettleAmountBorrow: numeric.Clone(p.BorrowSupply),
		}
		e.transition(p, pool.StateUndone)
		return e.journalGen.EmptyBatch(c.RequestID.String(), c.Timestamp), nil
	}

	priceLend, err := e.priceOf(p.LendAsset)
	if err != nil {
		return nil, err
	}
	priceBorrow, err := e.priceOf(p.BorrowAsset)
	if err != nil {
		return nil, err
	}

	// Collateral value in lend-asset terms, then the lend principal it
	// can carry at the pool's mortgage rate.
	collateralValue := numeric.ConvertValue(p.BorrowSupply, priceBorrow, priceLend)
	matchable := numeric.MulDiv(collateralValue, numeric.RateScale, p.MortgageRate)

	settlement := &pool.Settlement{
		SettlePriceLend:   priceLend,
		SettlePriceBorrow: priceBorrow,
	}

	if p.LendSupply.Cmp(matchable) > 0 {
		// Lend side oversubscribed: all collateral is used.
		settlement.SettleAmountLend = matchable
		settlement.SettleAmountBorrow = numeric.Clone(p.BorrowSupply)
	} else {
		// Borrow side oversubscribed: all lend principal is matched,
		// collateral pinned at exactly the mortgage rate.
		required := numeric.ApplyRate(p.LendSupply, p.MortgageRate)
		settlement.SettleAmountLend = numeric.Clone(p.LendSupply)
		settlement.SettleAmountBorrow = numeric.ConvertValue(required, priceLend, priceBorrow)
	}

	p.Settlement = settlement
	e.transition(p, pool.StateExecution)

	return e.journalGen.EmptyBatch(c.RequestID.String(), c.Timestamp), nil
}

// handleFinish matures an EXECUTION pool after endTime: swaps collateral
// for the owed principal plus interest and freezes the terminal payout
// pools.
func (e *Engine) handleFinish(c *command.Finish) (*ledger.Batch, error) {
	if err := e.auth.RequireAuthorized(c.Caller); err != nil {
		return nil, err
	}
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if p.State != pool.StateExecution {
		return nil, fmt.Errorf("%w: finish in %s", ErrInvalidState, p.State)
	}
	if c.Timestamp <= p.EndTime {
		return nil, ErrEndTimeNotPassed
	}

	batch, lendAmount, borrowRemainder, err := e.closePool(p, c.RequestID.String(), c.Timestamp)
	if err != nil {
		return nil, err
	}

	p.Settlement.FinishAmountLend = lendAmount
	p.Settlement.FinishAmountBorrow = borrowRemainder
	e.transition(p, pool.StateFinish)

	return batch, nil
}

// handleLiquidate closes an EXECUTION pool early when collateral value
// has fallen under the liquidation threshold. Same close math as finish
// but the payouts land in the liquidation fields.
func (e *Engine) handleLiquidate(c *command.Liquidate) (*ledger.Batch, error) {
	if err := e.auth.RequireAuthorized(c.Caller); err != nil {
		return nil, err
	}
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if p.State != pool.StateExecution {
		return nil, fmt.Errorf("%w: liquidate in %s", ErrInvalidState, p.State)
	}
	if c.Timestamp <= p.SettleTime {
		return nil, ErrSettleTimeNotPassed
	}

	liquidatable, err := e.checkoutLiquidate(p)
	if err != nil {
		return nil, err
	}
	if e.metrics != nil {
		e.metrics.LiquidationsChecked.Inc()
	}
	if !liquidatable {
		return nil, ErrNotLiquidatable
	}

	batch, lendAmount, borrowRemainder, err := e.closePool(p, c.RequestID.String(), c.Timestamp)
	if err != nil {
		return nil, err
	}

	p.Settlement.LiquidationAmountLend = lendAmount
	p.Settlement.LiquidationAmountBorrow = borrowRemainder
	e.transition(p, pool.StateLiquidation)

	return batch, nil
}

// closePool runs the shared terminal math for finish and liquidate:
// interest accrual over the full term, exact-out swap of collateral into
// the owed lend amount, and the fee skims. Returns the batch plus the
// terminal lend and borrow payout pools.
func (e *Engine) closePool(p *pool.Pool, commandRef string, timestamp int64) (*ledger.Batch, *big.Int, *big.Int, error) {
	s := p.Settlement

	// Interest accrues for the full scheduled term even on early
	// liquidation.
	interest := numeric.SimpleInterest(s.SettleAmountLend, p.InterestRate, p.EndTime-p.SettleTime)
	lendAmount := new(big.Int).Add(s.SettleAmountLend, interest)

	// Sell enough collateral to cover principal, interest and the lend
	// fee in one exact-out swap.
	sellAmount := numeric.WithMarkup(lendAmount, e.config.LendFee)

	path := adapter.BuildPath(p.BorrowAsset, p.LendAsset, e.wrappedNative)
	amountIn, err := e.venue.SwapExactOut(path, sellAmount, s.SettleAmountBorrow)
	if err != nil {
		if e.metrics != nil {
			e.metrics.SwapAborts.Inc()
		}
		return nil, nil, nil, fmt.Errorf("maturity swap: %w", err)
	}
	// SwapExactOut delivers exactly sellAmount or errors, so the vault
	// holds at least lendAmount from here on.
	excess := new(big.Int).Sub(sellAmount, lendAmount)
	remainder := new(big.Int).Sub(s.SettleAmountBorrow, amountIn)
	borrowFeeAmt := numeric.ApplyRate(remainder, e.config.BorrowFee)
	borrowRemainder := new(big.Int).Sub(remainder, borrowFeeAmt)

	batch, err := e.journalGen.GenerateFinishSwap(
		commandRef, p.Index,
		p.BorrowAsset, amountIn,
		p.LendAsset, sellAmount,
		excess, borrowFeeAmt,
		timestamp,
	)
	if err != nil {
		return nil, nil, nil, err
	}

	return batch, lendAmount, borrowRemainder, nil
}

// checkoutLiquidate reports whether the pool's collateral, valued at
// current oracle prices, no longer covers the matched lend principal
// plus the liquidation buffer.
func (e *Engine) checkoutLiquidate(p *pool.Pool) (bool, error) {
	s := p.Settlement

	priceLend, err := e.priceOf(p.LendAsset)
	if err != nil {
		return false, err
	}
	priceBorrow, err := e.priceOf(p.BorrowAsset)
	if err != nil {
		return false, err
	}

	collateralValue := numeric.ConvertValue(s.SettleAmountBorrow, priceBorrow, priceLend)
	threshold := numeric.WithMarkup(s.SettleAmountLend, p.AutoLiquidateThreshold)

	return collateralValue.Cmp(threshold) < 0, nil
}

// CheckLiquidation exposes the liquidation trigger for monitoring. It
// does not mutate state.
func (e *Engine) CheckLiquidation(poolIndex uint64) (bool, error) {
	p, err := e.pools.Get(poolIndex)
	if err != nil {
		return false, err
	}
	if p.State != pool.StateExecution {
		return false, nil
	}
	return e.checkoutLiquidate(p)
}

// priceOf resolves an oracle price, substituting the wrapped symbol for
// the native sentinel.
func (e *Engine) priceOf(asset string) (*big.Int, error) {
	if asset == pool.NativeAsset {
		asset = e.wrappedNative
	}
	return e.oracle.Price(asset)
}

// transition moves a pool between lifecycle states, panicking on an
// illegal edge. Handlers check preconditions first; a bad edge here is
// a bug, not an input error.
func (e *Engine) transition(p *pool.Pool, to pool.State) {
	if !p.State.CanTransitionTo(to) {
		panic(fmt.Sprintf("FATAL: illegal pool transition %s -> %s for pool %d", p.State, to, p.Index))
	}
	from := p.State
	p.State = to
	p.Version++

	if e.metrics != nil {
		e.metrics.PoolTransitions.WithLabelValues(to.String()).Inc()
		e.metrics.PoolsByState.WithLabelValues(from.String()).Dec()
		e.metrics.PoolsByState.WithLabelValues(to.String()).Inc()
	}
}
