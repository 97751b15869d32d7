// internal/command/deposit.go
package command

import (
	"math/big"

	"github.com/google/uuid"
)

// DepositLend adds funds to the lend side of a pool during MATCH.
type DepositLend struct {
	DepositID uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Amount    *big.Int
	Timestamp int64 // unix seconds, versioned input
	Sequence  int64
}

func (d *DepositLend) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *DepositLend) CommandType() CommandType {
	return CommandTypeDepositLend
}

func (d *DepositLend) PoolIndex() *uint64 {
	return &d.Pool
}

func (d *DepositLend) SourceSequence() int64 {
	return d.Sequence
}

// DepositBorrow adds collateral to the borrow side of a pool during MATCH.
type DepositBorrow struct {
	DepositID uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Amount    *big.Int
	Timestamp int64
	Sequence  int64
}

func (d *DepositBorrow) IdempotencyKey() string {
	return d.DepositID.String()
}

func (d *DepositBorrow) CommandType() CommandType {
	return CommandTypeDepositBorrow
}

func (d *DepositBorrow) PoolIndex() *uint64 {
	return &d.Pool
}

func (d *DepositBorrow) SourceSequence() int64 {
	return d.Sequence
}
