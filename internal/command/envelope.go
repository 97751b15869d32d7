package command

import (
	"time"
)

// CommandType discriminator for command payloads
type CommandType int32

const (
	CommandTypeUnknown CommandType = iota
	CommandTypePoolCreate
	CommandTypeDepositLend
	CommandTypeDepositBorrow
	CommandTypeSettle
	CommandTypeFinish
	CommandTypeLiquidate
	CommandTypeRefundLend
	CommandTypeRefundBorrow
	CommandTypeClaimLend
	CommandTypeClaimBorrow
	CommandTypeWithdrawLend
	CommandTypeWithdrawBorrow
	CommandTypeEmergencyLendWithdrawal
	CommandTypeEmergencyBorrowWithdrawal
	CommandTypePriceUpdate
	CommandTypeConfigUpdate
)

// Envelope wraps every applied command in the log
type Envelope struct {
	// Global monotonic sequence assigned by the engine
	Sequence int64

	// Stable idempotency key from upstream
	IdempotencyKey string

	// Command type discriminator
	CommandType CommandType

	// Pool context (nullable for global commands)
	PoolIndex *uint64

	// Versioned input timestamp (NOT wall-clock)
	Timestamp time.Time

	// Upstream sequence for ordering validation
	SourceSequence int64

	// SHA-256 of state AFTER applying this command
	StateHash [32]byte

	// Previous command's state hash (chain integrity)
	PrevHash [32]byte
}

// Command is the interface all command payloads must implement
type Command interface {
	// IdempotencyKey returns the stable dedup key
	IdempotencyKey() string

	// CommandType returns the discriminator
	CommandType() CommandType

	// PoolIndex returns the pool context (nil for global commands)
	PoolIndex() *uint64

	// SourceSequence returns upstream ordering key
	SourceSequence() int64
}

func (ct CommandType) String() string {
	switch ct {
	case CommandTypePoolCreate:
		return "PoolCreate"
	case CommandTypeDepositLend:
		return "DepositLend"
	case CommandTypeDepositBorrow:
		return "DepositBorrow"
	case CommandTypeSettle:
		return "Settle"
	case CommandTypeFinish:
		return "Finish"
	case CommandTypeLiquidate:
		return "Liquidate"
	case CommandTypeRefundLend:
		return "RefundLend"
	case CommandTypeRefundBorrow:
		return "RefundBorrow"
	case CommandTypeClaimLend:
		return "ClaimLend"
	case CommandTypeClaimBorrow:
		return "ClaimBorrow"
	case CommandTypeWithdrawLend:
		return "WithdrawLend"
	case CommandTypeWithdrawBorrow:
		return "WithdrawBorrow"
	case CommandTypeEmergencyLendWithdrawal:
		return "EmergencyLendWithdrawal"
	case CommandTypeEmergencyBorrowWithdrawal:
		return "EmergencyBorrowWithdrawal"
	case CommandTypePriceUpdate:
		return "PriceUpdate"
	case CommandTypeConfigUpdate:
		return "ConfigUpdate"
	default:
		return "Unknown"
	}
}
