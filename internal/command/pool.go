// internal/command/pool.go
package command

import (
	"math/big"

	"github.com/google/uuid"
)

// PoolCreate registers a new fixed-term pool. The pool index is assigned
// by the engine, so the command itself carries no pool context.
type PoolCreate struct {
	RequestID              uuid.UUID
	Creator                uuid.UUID
	SettleTime             int64 // unix seconds
	EndTime                int64 // unix seconds
	InterestRate           *big.Int // 1e8 scale, annualized
	MortgageRate           *big.Int // 1e8 scale
	AutoLiquidateThreshold *big.Int // 1e8 scale
	MaxSupply              *big.Int // cap on lend deposits
	LendAsset              string
	BorrowAsset            string
	Timestamp              int64 // unix seconds, versioned input
	Sequence               int64
}

func (p *PoolCreate) IdempotencyKey() string {
	return p.RequestID.String()
}

func (p *PoolCreate) CommandType() CommandType {
	return CommandTypePoolCreate
}

func (p *PoolCreate) PoolIndex() *uint64 {
	return nil // Global command
}

func (p *PoolCreate) SourceSequence() int64 {
	return p.Sequence
}
