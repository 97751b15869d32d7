package command

import (
	"math/big"

	"github.com/google/uuid"
)

// ConfigUpdate changes global protocol parameters. Nil fields are left
// untouched, so a single command can update any subset. Privileged.
type ConfigUpdate struct {
	RequestID    uuid.UUID
	Caller       uuid.UUID
	LendFee      *big.Int // 1e8 scale, nil = unchanged
	BorrowFee    *big.Int // 1e8 scale, nil = unchanged
	SwapSpread   *big.Int // 1e8 scale, nil = unchanged
	MinDeposit   *big.Int // nil = unchanged
	FeeCollector *uuid.UUID
	Paused       *bool
	Timestamp    int64 // unix seconds (versioned input)
	Sequence     int64
}

func (c *ConfigUpdate) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *ConfigUpdate) CommandType() CommandType {
	return CommandTypeConfigUpdate
}

func (c *ConfigUpdate) PoolIndex() *uint64 {
	return nil // Global command
}

func (c *ConfigUpdate) SourceSequence() int64 {
	return c.Sequence
}
