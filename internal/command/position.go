// internal/command/position.go
package command

import (
	"math/big"

	"github.com/google/uuid"
)

// RefundLend returns the unmatched portion of a lend deposit after
// settlement and mints SP claim tokens for the matched portion.
type RefundLend struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Timestamp int64 // unix seconds, versioned input
	Sequence  int64
}

func (r *RefundLend) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RefundLend) CommandType() CommandType {
	return CommandTypeRefundLend
}

func (r *RefundLend) PoolIndex() *uint64 {
	return &r.Pool
}

func (r *RefundLend) SourceSequence() int64 {
	return r.Sequence
}

// RefundBorrow is the borrow-side counterpart of RefundLend; it mints JP
// claim tokens for the matched collateral.
type RefundBorrow struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Timestamp int64
	Sequence  int64
}

func (r *RefundBorrow) IdempotencyKey() string {
	return r.RequestID.String()
}

func (r *RefundBorrow) CommandType() CommandType {
	return CommandTypeRefundBorrow
}

func (r *RefundBorrow) PoolIndex() *uint64 {
	return &r.Pool
}

func (r *RefundBorrow) SourceSequence() int64 {
	return r.Sequence
}

// ClaimLend pays out a lend position after the pool reaches FINISH,
// LIQUIDATION, or UNDONE, consuming the recorded stake.
type ClaimLend struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Timestamp int64
	Sequence  int64
}

func (c *ClaimLend) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *ClaimLend) CommandType() CommandType {
	return CommandTypeClaimLend
}

func (c *ClaimLend) PoolIndex() *uint64 {
	return &c.Pool
}

func (c *ClaimLend) SourceSequence() int64 {
	return c.Sequence
}

// ClaimBorrow pays out a borrow position after the pool terminates.
type ClaimBorrow struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Timestamp int64
	Sequence  int64
}

func (c *ClaimBorrow) IdempotencyKey() string {
	return c.RequestID.String()
}

func (c *ClaimBorrow) CommandType() CommandType {
	return CommandTypeClaimBorrow
}

func (c *ClaimBorrow) PoolIndex() *uint64 {
	return &c.Pool
}

func (c *ClaimBorrow) SourceSequence() int64 {
	return c.Sequence
}

// WithdrawLend burns SP claim tokens for a proportional slice of the
// terminal lend payout.
type WithdrawLend struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Amount    *big.Int // claim tokens to burn
	Timestamp int64
	Sequence  int64
}

func (w *WithdrawLend) IdempotencyKey() string {
	return w.RequestID.String()
}

func (w *WithdrawLend) CommandType() CommandType {
	return CommandTypeWithdrawLend
}

func (w *WithdrawLend) PoolIndex() *uint64 {
	return &w.Pool
}

func (w *WithdrawLend) SourceSequence() int64 {
	return w.Sequence
}

// WithdrawBorrow burns JP claim tokens for a proportional slice of the
// terminal borrow payout.
type WithdrawBorrow struct {
	RequestID uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Amount    *big.Int
	Timestamp int64
	Sequence  int64
}

func (w *WithdrawBorrow) IdempotencyKey() string {
	return w.RequestID.String()
}

func (w *WithdrawBorrow) CommandType() CommandType {
	return CommandTypeWithdrawBorrow
}

func (w *WithdrawBorrow) PoolIndex() *uint64 {
	return &w.Pool
}

func (w *WithdrawBorrow) SourceSequence() int64 {
	return w.Sequence
}

// EmergencyLendWithdrawal pulls a whole unsettled lend position out of
// an UNDONE pool, bypassing settlement math. Open to any caller; the
// position owner receives the funds.
type EmergencyLendWithdrawal struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Timestamp int64
	Sequence  int64
}

func (e *EmergencyLendWithdrawal) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *EmergencyLendWithdrawal) CommandType() CommandType {
	return CommandTypeEmergencyLendWithdrawal
}

func (e *EmergencyLendWithdrawal) PoolIndex() *uint64 {
	return &e.Pool
}

func (e *EmergencyLendWithdrawal) SourceSequence() int64 {
	return e.Sequence
}

// EmergencyBorrowWithdrawal is the borrow-side counterpart.
type EmergencyBorrowWithdrawal struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	UserID    uuid.UUID
	Pool      uint64
	Timestamp int64
	Sequence  int64
}

func (e *EmergencyBorrowWithdrawal) IdempotencyKey() string {
	return e.RequestID.String()
}

func (e *EmergencyBorrowWithdrawal) CommandType() CommandType {
	return CommandTypeEmergencyBorrowWithdrawal
}

func (e *EmergencyBorrowWithdrawal) PoolIndex() *uint64 {
	return &e.Pool
}

func (e *EmergencyBorrowWithdrawal) SourceSequence() int64 {
	return e.Sequence
}
