package engine

import "errors"

var (
	ErrReentrancy = errors.New("pool engine: reentrant command entry")
	ErrPaused     = errors.New("pool engine: protocol paused")

	ErrInvalidState        = errors.New("pool engine: pool not in required state")
	ErrSettleTimeNotPassed = errors.New("pool engine: settle time not reached")
	ErrEndTimeNotPassed    = errors.New("pool engine: end time not reached")
	ErrDepositWindowClosed = errors.New("pool engine: deposit window closed")

	ErrAmountNotPositive  = errors.New("pool engine: amount must be positive")
	ErrBelowMinDeposit    = errors.New("pool engine: deposit below minimum")
	ErrMaxSupplyExceeded  = errors.New("pool engine: lend supply cap exceeded")
	ErrInvalidPoolParams  = errors.New("pool engine: invalid pool parameters")

	ErrNoPosition      = errors.New("pool engine: no position for user")
	ErrAlreadyRefunded = errors.New("pool engine: position already refunded")
	ErrAlreadyClaimed  = errors.New("pool engine: position already claimed")
	ErrNothingToRefund = errors.New("pool engine: no unmatched excess to refund")

	ErrNotLiquidatable = errors.New("pool engine: liquidation threshold not breached")
)
