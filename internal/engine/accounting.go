package engine

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"termpool/internal/adapter"
	"termpool/internal/command"
	"termpool/internal/ledger"
	"termpool/internal/numeric"
	"termpool/internal/pool"
)

// handleDepositLend adds lend principal to a MATCH pool. Deposits are
// cumulative per user; another deposit re-arms the refund and claim
// flags so a topped-up position is handled as one stake.
func (e *Engine) handleDepositLend(c *command.DepositLend) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if p.State != pool.StateMatch {
		return nil, fmt.Errorf("%w: deposit in %s", ErrInvalidState, p.State)
	}
	if c.Timestamp >= p.SettleTime {
		return nil, ErrDepositWindowClosed
	}
	if !numeric.IsPositive(c.Amount) {
		return nil, ErrAmountNotPositive
	}

	if c.Amount.Cmp(e.config.MinDeposit) <= 0 {
		return nil, fmt.Errorf("%w: %s, minimum %s", ErrBelowMinDeposit, c.Amount, e.config.MinDeposit)
	}

	projected := new(big.Int).Add(p.LendSupply, c.Amount)
	if projected.Cmp(p.MaxSupply) > 0 {
		return nil, fmt.Errorf("%w: %s over cap %s", ErrMaxSupplyExceeded, projected, p.MaxSupply)
	}

	// All rejections happen above; funds only move once the deposit is
	// known to be acceptable.
	received, err := e.custody.Receive(c.UserID, p.LendAsset, c.Amount)
	if err != nil {
		return nil, fmt.Errorf("custody receive: %w", err)
	}

	batch, err := e.journalGen.GenerateLendDeposit(c.DepositID, p.Index, p.LendAsset, received, c.Timestamp)
	if err != nil {
		return nil, err
	}

	pos := e.book.GetOrCreateLend(c.Pool, c.UserID)
	pos.Stake.Add(pos.Stake, received)
	pos.Settled = false
	pos.Claimed = false
	pos.Version++

	p.LendSupply.Add(p.LendSupply, received)
	p.Version++

	if e.metrics != nil {
		e.metrics.DepositsAccepted.WithLabelValues("lend").Inc()
	}

	return batch, nil
}

// handleDepositBorrow adds collateral to a MATCH pool. No supply cap on
// the borrow side.
func (e *Engine) handleDepositBorrow(c *command.DepositBorrow) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if p.State != pool.StateMatch {
		return nil, fmt.Errorf("%w: deposit in %s", ErrInvalidState, p.State)
	}
	if c.Timestamp >= p.SettleTime {
		return nil, ErrDepositWindowClosed
	}
	if !numeric.IsPositive(c.Amount) {
		return nil, ErrAmountNotPositive
	}

	if c.Amount.Cmp(e.config.MinDeposit) <= 0 {
		return nil, fmt.Errorf("%w: %s, minimum %s", ErrBelowMinDeposit, c.Amount, e.config.MinDeposit)
	}

	received, err := e.custody.Receive(c.UserID, p.BorrowAsset, c.Amount)
	if err != nil {
		return nil, fmt.Errorf("custody receive: %w", err)
	}

	batch, err := e.journalGen.GenerateBorrowDeposit(c.DepositID, p.Index, p.BorrowAsset, received, c.Timestamp)
	if err != nil {
		return nil, err
	}

	pos := e.book.GetOrCreateBorrow(c.Pool, c.UserID)
	pos.Stake.Add(pos.Stake, received)
	pos.Settled = false
	pos.Claimed = false
	pos.Version++

	p.BorrowSupply.Add(p.BorrowSupply, received)
	p.Version++

	if e.metrics != nil {
		e.metrics.DepositsAccepted.WithLabelValues("borrow").Inc()
	}

	return batch, nil
}

// handleRefundLend returns the unmatched share of a lend stake after
// settlement. Once per position.
func (e *Engine) handleRefundLend(c *command.RefundLend) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	pos := e.book.GetLend(c.Pool, c.UserID)

	return e.refund(p, pos, c.UserID, c.RequestID, c.Timestamp, true)
}

// handleRefundBorrow returns the unmatched share of collateral after
// settlement. Once per position.
func (e *Engine) handleRefundBorrow(c *command.RefundBorrow) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	pos := e.book.GetBorrow(c.Pool, c.UserID)

	return e.refund(p, pos, c.UserID, c.RequestID, c.Timestamp, false)
}

// refund pays out stake*(supply-settled)/supply from the given vault.
// An excess that floors to zero still consumes the one-shot flag.
func (e *Engine) refund(
	p *pool.Pool,
	pos *pool.Position,
	userID uuid.UUID,
	requestID uuid.UUID,
	timestamp int64,
	lendSide bool,
) (*ledger.Batch, error) {
	if p.State == pool.StateMatch || p.State == pool.StateUndone {
		return nil, fmt.Errorf("%w: refund in %s", ErrInvalidState, p.State)
	}
	if timestamp <= p.SettleTime {
		return nil, ErrSettleTimeNotPassed
	}
	if pos == nil || !numeric.IsPositive(pos.Stake) {
		return nil, ErrNoPosition
	}
	if pos.Settled {
		return nil, ErrAlreadyRefunded
	}

	supply, settled := p.LendSupply, p.Settlement.SettleAmountLend
	vault, asset := ledger.SubTypeLendVault, p.LendAsset
	if !lendSide {
		supply, settled = p.BorrowSupply, p.Settlement.SettleAmountBorrow
		vault, asset = ledger.SubTypeBorrowVault, p.BorrowAsset
	}

	excess := new(big.Int).Sub(supply, settled)
	if excess.Sign() <= 0 {
		return nil, ErrNothingToRefund
	}

	amount := numeric.Share(excess, pos.Stake, supply)

	if amount.Sign() == 0 {
		// Share floored to dust; the flag is spent but no funds move.
		pos.Settled = true
		pos.Refunded = amount
		pos.Version++
		return e.journalGen.EmptyBatch(requestID.String(), timestamp), nil
	}

	batch, err := e.journalGen.GeneratePayout(
		requestID.String(), p.Index, vault, asset, amount, ledger.JournalTypeRefund, timestamp)
	if err != nil {
		return nil, err
	}

	// The flag is only spent once the payout has actually left custody,
	// so a failed release leaves the position refundable.
	if err := e.custody.Release(userID, asset, amount); err != nil {
		return nil, fmt.Errorf("custody release: %w", err)
	}

	pos.Settled = true
	pos.Refunded = amount
	pos.Version++

	return batch, nil
}

// handleClaimLend mints SP tokens for the matched share of a lend stake.
// No funds move; the principal stays in the vault until the pool closes.
func (e *Engine) handleClaimLend(c *command.ClaimLend) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if p.State == pool.StateMatch || p.State == pool.StateUndone {
		return nil, fmt.Errorf("%w: claim in %s", ErrInvalidState, p.State)
	}
	if c.Timestamp <= p.SettleTime {
		return nil, ErrSettleTimeNotPassed
	}
	pos := e.book.GetLend(c.Pool, c.UserID)
	if pos == nil || !numeric.IsPositive(pos.Stake) {
		return nil, ErrNoPosition
	}
	if pos.Claimed {
		return nil, ErrAlreadyClaimed
	}

	spAmount := numeric.Share(p.Settlement.SettleAmountLend, pos.Stake, p.LendSupply)

	if spAmount.Sign() > 0 {
		if err := e.claims.Mint(c.Pool, adapter.ClassSP, c.UserID, spAmount); err != nil {
			return nil, fmt.Errorf("mint SP: %w", err)
		}
	}

	pos.Claimed = true
	pos.Version++

	return e.journalGen.EmptyBatch(c.RequestID.String(), c.Timestamp), nil
}

// handleClaimBorrow mints JP tokens for the matched share of collateral
// and disburses the borrower's loan from the lend vault in the same
// command.
func (e *Engine) handleClaimBorrow(c *command.ClaimBorrow) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if p.State == pool.StateMatch || p.State == pool.StateUndone {
		return nil, fmt.Errorf("%w: claim in %s", ErrInvalidState, p.State)
	}
	if c.Timestamp <= p.SettleTime {
		return nil, ErrSettleTimeNotPassed
	}
	pos := e.book.GetBorrow(c.Pool, c.UserID)
	if pos == nil || !numeric.IsPositive(pos.Stake) {
		return nil, ErrNoPosition
	}
	if pos.Claimed {
		return nil, ErrAlreadyClaimed
	}

	s := p.Settlement

	// JP issue base is the collateral requirement on the matched lend
	// principal, not the raw matched collateral.
	jpTotal := numeric.ApplyRate(s.SettleAmountLend, p.MortgageRate)
	jpAmount := numeric.Share(jpTotal, pos.Stake, p.BorrowSupply)
	loanAmount := numeric.Share(s.SettleAmountLend, pos.Stake, p.BorrowSupply)

	var batch *ledger.Batch
	if loanAmount.Sign() > 0 {
		batch, err = e.journalGen.GeneratePayout(
			c.RequestID.String(), p.Index, ledger.SubTypeLendVault, p.LendAsset,
			loanAmount, ledger.JournalTypeClaim, c.Timestamp)
		if err != nil {
			return nil, err
		}
	}

	if jpAmount.Sign() > 0 {
		if err := e.claims.Mint(c.Pool, adapter.ClassJP, c.UserID, jpAmount); err != nil {
			return nil, fmt.Errorf("mint JP: %w", err)
		}
	}

	if loanAmount.Sign() > 0 {
		if err := e.custody.Release(c.UserID, p.LendAsset, loanAmount); err != nil {
			// JP is already minted; token supply and the lend vault can
			// no longer be reconciled from inside the engine.
			panic(fmt.Sprintf("pool %d: custody release after JP mint for %s: %v", p.Index, c.UserID, err))
		}
	}

	pos.Claimed = true
	pos.Version++

	if batch == nil {
		return e.journalGen.EmptyBatch(c.RequestID.String(), c.Timestamp), nil
	}
	return batch, nil
}

// handleWithdrawLend burns SP tokens against the terminal lend payout
// pool. Token-gated and repeatable in partial amounts.
func (e *Engine) handleWithdrawLend(c *command.WithdrawLend) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if err := e.checkWithdrawable(p, c.Timestamp); err != nil {
		return nil, err
	}
	if !numeric.IsPositive(c.Amount) {
		return nil, ErrAmountNotPositive
	}

	terminalLend, _ := p.TerminalAmounts()
	basis := p.Settlement.SettleAmountLend
	payout := numeric.Share(terminalLend, c.Amount, basis)

	var batch *ledger.Batch
	if payout.Sign() > 0 {
		batch, err = e.journalGen.GeneratePayout(
			c.RequestID.String(), p.Index, ledger.SubTypeLendVault, p.LendAsset,
			payout, ledger.JournalTypeWithdraw, c.Timestamp)
		if err != nil {
			return nil, err
		}
	}

	if err := e.claims.Burn(c.Pool, adapter.ClassSP, c.UserID, c.Amount); err != nil {
		return nil, err
	}

	if payout.Sign() == 0 {
		return e.journalGen.EmptyBatch(c.RequestID.String(), c.Timestamp), nil
	}

	if err := e.custody.Release(c.UserID, p.LendAsset, payout); err != nil {
		// SP is already burned; the claim cannot be restored.
		panic(fmt.Sprintf("pool %d: custody release after SP burn for %s: %v", p.Index, c.UserID, err))
	}

	return batch, nil
}

// handleWithdrawBorrow burns JP tokens against the terminal borrow
// payout pool. The JP basis is the total issued class, matched principal
// scaled by the mortgage rate.
func (e *Engine) handleWithdrawBorrow(c *command.WithdrawBorrow) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	if err := e.checkWithdrawable(p, c.Timestamp); err != nil {
		return nil, err
	}
	if !numeric.IsPositive(c.Amount) {
		return nil, ErrAmountNotPositive
	}

	_, terminalBorrow := p.TerminalAmounts()
	basis := numeric.ApplyRate(p.Settlement.SettleAmountLend, p.MortgageRate)
	payout := numeric.Share(terminalBorrow, c.Amount, basis)

	var batch *ledger.Batch
	if payout.Sign() > 0 {
		batch, err = e.journalGen.GeneratePayout(
			c.RequestID.String(), p.Index, ledger.SubTypeBorrowVault, p.BorrowAsset,
			payout, ledger.JournalTypeWithdraw, c.Timestamp)
		if err != nil {
			return nil, err
		}
	}

	if err := e.claims.Burn(c.Pool, adapter.ClassJP, c.UserID, c.Amount); err != nil {
		return nil, err
	}

	if payout.Sign() == 0 {
		return e.journalGen.EmptyBatch(c.RequestID.String(), c.Timestamp), nil
	}

	if err := e.custody.Release(c.UserID, p.BorrowAsset, payout); err != nil {
		// JP is already burned; the claim cannot be restored.
		panic(fmt.Sprintf("pool %d: custody release after JP burn for %s: %v", p.Index, c.UserID, err))
	}

	return batch, nil
}

func (e *Engine) checkWithdrawable(p *pool.Pool, timestamp int64) error {
	switch p.State {
	case pool.StateFinish:
		if timestamp <= p.EndTime {
			return ErrEndTimeNotPassed
		}
	case pool.StateLiquidation:
		if timestamp <= p.SettleTime {
			return ErrSettleTimeNotPassed
		}
	default:
		return fmt.Errorf("%w: withdraw in %s", ErrInvalidState, p.State)
	}
	return nil
}

// handleEmergencyLend returns a lender's full raw stake from an UNDONE
// pool. Once per position; any caller, the position owner is the payee.
func (e *Engine) handleEmergencyLend(c *command.EmergencyLendWithdrawal) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	pos := e.book.GetLend(c.Pool, c.UserID)

	return e.emergencyWithdraw(p, pos, c.UserID, c.RequestID, c.Timestamp,
		ledger.SubTypeLendVault, p.LendAsset)
}

// handleEmergencyBorrow returns a borrower's full collateral from an
// UNDONE pool. Once per position; any caller, the position owner is the
// payee.
func (e *Engine) handleEmergencyBorrow(c *command.EmergencyBorrowWithdrawal) (*ledger.Batch, error) {
	p, err := e.pools.Get(c.Pool)
	if err != nil {
		return nil, err
	}
	pos := e.book.GetBorrow(c.Pool, c.UserID)

	return e.emergencyWithdraw(p, pos, c.UserID, c.RequestID, c.Timestamp,
		ledger.SubTypeBorrowVault, p.BorrowAsset)
}

func (e *Engine) emergencyWithdraw(
	p *pool.Pool,
	pos *pool.Position,
	userID uuid.UUID,
	requestID uuid.UUID,
	timestamp int64,
	vault ledger.AccountSubType,
	asset string,
) (*ledger.Batch, error) {
	if p.State != pool.StateUndone {
		return nil, fmt.Errorf("%w: emergency withdrawal in %s", ErrInvalidState, p.State)
	}
	if pos == nil || !numeric.IsPositive(pos.Stake) {
		return nil, ErrNoPosition
	}
	if pos.Settled {
		return nil, ErrAlreadyRefunded
	}

	amount := numeric.Clone(pos.Stake)

	batch, err := e.journalGen.GeneratePayout(
		requestID.String(), p.Index, vault, asset, amount,
		ledger.JournalTypeEmergencyWithdrawal, timestamp)
	if err != nil {
		return nil, err
	}

	// One-shot flag is spent only after the funds actually leave custody.
	if err := e.custody.Release(userID, asset, amount); err != nil {
		return nil, fmt.Errorf("custody release: %w", err)
	}

	pos.Settled = true
	pos.Refunded = amount
	pos.Version++

	return batch, nil
}
