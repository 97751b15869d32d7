package engine

import (
	"termpool/internal/command"
	"termpool/internal/pool"
)

// collectOutputState deep-copies the pool and positions a command
// touched. The copies ride on the Output so projection workers never
// read live engine state.
func (e *Engine) collectOutputState(cmd command.Command) (p *pool.Pool, lendPos, borrowPos *pool.Position) {
	idx := cmd.PoolIndex()
	if idx == nil {
		return nil, nil, nil
	}

	if live, err := e.pools.Get(*idx); err == nil {
		p = clonePool(live)
	}

	switch c := cmd.(type) {
	case *command.DepositLend:
		lendPos = cloneIfPresent(e.book.GetLend(*idx, c.UserID))
	case *command.DepositBorrow:
		borrowPos = cloneIfPresent(e.book.GetBorrow(*idx, c.UserID))
	case *command.RefundLend:
		lendPos = cloneIfPresent(e.book.GetLend(*idx, c.UserID))
	case *command.RefundBorrow:
		borrowPos = cloneIfPresent(e.book.GetBorrow(*idx, c.UserID))
	case *command.ClaimLend:
		lendPos = cloneIfPresent(e.book.GetLend(*idx, c.UserID))
	case *command.ClaimBorrow:
		borrowPos = cloneIfPresent(e.book.GetBorrow(*idx, c.UserID))
	case *command.WithdrawLend:
		lendPos = cloneIfPresent(e.book.GetLend(*idx, c.UserID))
	case *command.WithdrawBorrow:
		borrowPos = cloneIfPresent(e.book.GetBorrow(*idx, c.UserID))
	case *command.EmergencyLendWithdrawal:
		lendPos = cloneIfPresent(e.book.GetLend(*idx, c.UserID))
	case *command.EmergencyBorrowWithdrawal:
		borrowPos = cloneIfPresent(e.book.GetBorrow(*idx, c.UserID))
	}

	return p, lendPos, borrowPos
}

func cloneIfPresent(pos *pool.Position) *pool.Position {
	if pos == nil {
		return nil
	}
	return clonePosition(pos)
}
