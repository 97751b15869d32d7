package engine

import (
	"math/big"

	"github.com/google/uuid"

	"termpool/internal/ledger"
	"termpool/internal/pool"
)

// Read accessors return deep copies so callers can never mutate live
// engine state. They are still engine-thread-only; the query service
// reads from projections, these exist for the admin surface and tests.

// Pool returns a copy of one pool.
func (e *Engine) Pool(index uint64) (*pool.Pool, error) {
	p, err := e.pools.Get(index)
	if err != nil {
		return nil, err
	}
	return clonePool(p), nil
}

// Pools returns copies of all pools.
func (e *Engine) Pools() []*pool.Pool {
	all := e.pools.All()
	out := make([]*pool.Pool, 0, len(all))
	for _, p := range all {
		out = append(out, clonePool(p))
	}
	return out
}

// LendPosition returns a copy of a user's lend position or nil.
func (e *Engine) LendPosition(poolIndex uint64, userID uuid.UUID) *pool.Position {
	pos := e.book.GetLend(poolIndex, userID)
	if pos == nil {
		return nil
	}
	return clonePosition(pos)
}

// BorrowPosition returns a copy of a user's borrow position or nil.
func (e *Engine) BorrowPosition(poolIndex uint64, userID uuid.UUID) *pool.Position {
	pos := e.book.GetBorrow(poolIndex, userID)
	if pos == nil {
		return nil
	}
	return clonePosition(pos)
}

// Balance returns the current balance of one ledger account.
func (e *Engine) Balance(key ledger.AccountKey) *big.Int {
	return e.balanceTracker.GetBalance(key)
}

// LendVaultBalance returns the pool's lend vault balance.
func (e *Engine) LendVaultBalance(poolIndex uint64, asset string) *big.Int {
	return e.balanceTracker.GetLendVaultBalance(poolIndex, asset)
}

// BorrowVaultBalance returns the pool's borrow vault balance.
func (e *Engine) BorrowVaultBalance(poolIndex uint64, asset string) *big.Int {
	return e.balanceTracker.GetBorrowVaultBalance(poolIndex, asset)
}

// FeeBalance returns the protocol fee account balance for one asset.
func (e *Engine) FeeBalance(asset string) *big.Int {
	return e.balanceTracker.GetFeeBalance(asset)
}
