// internal/command/lifecycle.go
package command

import "github.com/google/uuid"

// Settle moves a pool from MATCH to EXECUTION (or UNDONE when either
// side is empty) once the settle time has passed. Privileged.
type Settle struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	Pool      uint64
	Timestamp int64 // unix seconds, versioned input
	Sequence  int64
}

func (s *Settle) IdempotencyKey() string {
	return s.RequestID.String()
}

func (s *Settle) CommandType() CommandType {
	return CommandTypeSettle
}

func (s *Settle) PoolIndex() *uint64 {
	return &s.Pool
}

func (s *Settle) SourceSequence() int64 {
	return s.Sequence
}

// Finish closes an EXECUTION pool at maturity, swapping collateral to
// repay the lend side plus interest. Privileged.
type Finish struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	Pool      uint64
	Timestamp int64
	Sequence  int64
}

func (f *Finish) IdempotencyKey() string {
	return f.RequestID.String()
}

func (f *Finish) CommandType() CommandType {
	return CommandTypeFinish
}

func (f *Finish) PoolIndex() *uint64 {
	return &f.Pool
}

func (f *Finish) SourceSequence() int64 {
	return f.Sequence
}

// Liquidate force-closes an EXECUTION pool before maturity when the
// collateral value breaches the auto-liquidate threshold. Privileged.
type Liquidate struct {
	RequestID uuid.UUID
	Caller    uuid.UUID
	Pool      uint64
	Timestamp int64
	Sequence  int64
}

func (l *Liquidate) IdempotencyKey() string {
	return l.RequestID.String()
}

func (l *Liquidate) CommandType() CommandType {
	return CommandTypeLiquidate
}

func (l *Liquidate) PoolIndex() *uint64 {
	return &l.Pool
}

func (l *Liquidate) SourceSequence() int64 {
	return l.Sequence
}
