package engine

import (
	"math/big"

	"termpool/internal/adapter"
	"termpool/internal/ledger"
	"termpool/internal/pool"
)

// SnapshotState is a point-in-time copy of all engine state needed to
// resume processing without replaying the full command log.
type SnapshotState struct {
	Sequence  int64
	StateHash [32]byte

	Balances        map[ledger.AccountKey]*big.Int
	Pools           []*pool.Pool
	LendPositions   []*pool.Position
	BorrowPositions []*pool.Position
	Prices          map[string]*adapter.PriceState
	Holdings        []adapter.Holding
	Config          *pool.GlobalConfig
	SequenceState   map[string]int64
	IdempotencyKeys []string
}

// CreateSnapshot deep-copies the engine state. Callers own the result;
// the engine keeps mutating its live structures afterwards.
func (e *Engine) CreateSnapshot() *SnapshotState {
	snap := &SnapshotState{
		Sequence:        e.sequence,
		StateHash:       e.hasher.GetPrevHash(),
		Balances:        e.balanceTracker.Snapshot(),
		Prices:          e.oracle.Snapshot(),
		Config:          e.config.Clone(),
		SequenceState:   e.sequenceValidator.Snapshot(),
		IdempotencyKeys: e.idempotency.Keys(),
	}

	for _, p := range e.pools.All() {
		snap.Pools = append(snap.Pools, clonePool(p))
	}
	for _, pos := range e.book.AllLend() {
		snap.LendPositions = append(snap.LendPositions, clonePosition(pos))
	}
	for _, pos := range e.book.AllBorrow() {
		snap.BorrowPositions = append(snap.BorrowPositions, clonePosition(pos))
	}

	if book, ok := e.claims.(*adapter.TokenBook); ok {
		snap.Holdings = book.Holdings()
	}

	return snap
}

// RestoreFromSnapshot loads a snapshot into a freshly constructed
// engine. Must run before any command is processed.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) {
	e.sequence = snap.Sequence
	e.hasher.SetPrevHash(snap.StateHash)
	e.balanceTracker.Restore(snap.Balances)
	e.journalGen = ledger.NewJournalGenerator(snap.Sequence, e.balanceTracker)

	pools := make([]*pool.Pool, 0, len(snap.Pools))
	for _, p := range snap.Pools {
		pools = append(pools, clonePool(p))
	}
	e.pools.Restore(pools)

	for _, pos := range snap.LendPositions {
		e.book.RestoreLend(clonePosition(pos))
	}
	for _, pos := range snap.BorrowPositions {
		e.book.RestoreBorrow(clonePosition(pos))
	}

	for asset, state := range snap.Prices {
		e.oracle.Restore(asset, state)
	}

	if book, ok := e.claims.(*adapter.TokenBook); ok {
		for _, h := range snap.Holdings {
			book.RestoreHolding(h)
		}
	}

	if snap.Config != nil {
		e.config = snap.Config.Clone()
		if v, ok := e.venue.(interface{ SetSpread(*big.Int) }); ok {
			v.SetSpread(e.config.SwapSpread)
		}
	}

	for partition, seq := range snap.SequenceState {
		e.sequenceValidator.SetExpectedSequence(partition, seq)
	}

	e.idempotency.Warm(snap.IdempotencyKeys)
}

func clonePool(p *pool.Pool) *pool.Pool {
	cp := *p
	cp.InterestRate = cloneBig(p.InterestRate)
	cp.MortgageRate = cloneBig(p.MortgageRate)
	cp.AutoLiquidateThreshold = cloneBig(p.AutoLiquidateThreshold)
	cp.MaxSupply = cloneBig(p.MaxSupply)
	cp.LendSupply = cloneBig(p.LendSupply)
	cp.BorrowSupply = cloneBig(p.BorrowSupply)
	if p.Settlement != nil {
		s := *p.Settlement
		s.SettleAmountLend = cloneBig(p.Settlement.SettleAmountLend)
		s.SettleAmountBorrow = cloneBig(p.Settlement.SettleAmountBorrow)
		s.SettlePriceLend = cloneBig(p.Settlement.SettlePriceLend)
		s.SettlePriceBorrow = cloneBig(p.Settlement.SettlePriceBorrow)
		s.FinishAmountLend = cloneBig(p.Settlement.FinishAmountLend)
		s.FinishAmountBorrow = cloneBig(p.Settlement.FinishAmountBorrow)
		s.LiquidationAmountLend = cloneBig(p.Settlement.LiquidationAmountLend)
		s.LiquidationAmountBorrow = cloneBig(p.Settlement.LiquidationAmountBorrow)
		cp.Settlement = &s
	}
	return &cp
}

func clonePosition(pos *pool.Position) *pool.Position {
	cp := *pos
	cp.Stake = cloneBig(pos.Stake)
	cp.Refunded = cloneBig(pos.Refunded)
	return &cp
}

// cloneBig preserves nil, unlike numeric.Clone.
func cloneBig(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
