package pool

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// Registry holds every pool, indexed by creation order. Pools are never
// removed; terminal pools stay for claims and withdrawals.
type Registry struct {
	pools []*Pool
}

func NewRegistry() *Registry {
	return &Registry{pools: make([]*Pool, 0, 64)}
}

// Add appends a new pool and assigns its index.
func (r *Registry) Add(p *Pool) uint64 {
	p.Index = uint64(len(r.pools))
	if p.LendSupply == nil {
		p.LendSupply = new(big.Int)
	}
	if p.BorrowSupply == nil {
		p.BorrowSupply = new(big.Int)
	}
	r.pools = append(r.pools, p)
	return p.Index
}

// Get returns the pool at index or an error when out of range.
func (r *Registry) Get(index uint64) (*Pool, error) {
	if index >= uint64(len(r.pools)) {
		return nil, fmt.Errorf("pool %d does not exist", index)
	}
	return r.pools[index], nil
}

// Len returns the number of registered pools.
func (r *Registry) Len() int {
	return len(r.pools)
}

// All returns the backing slice in index order (for snapshots and scans).
func (r *Registry) All() []*Pool {
	return r.pools
}

// Restore replaces the registry contents (snapshot restore).
func (r *Registry) Restore(pools []*Pool) {
	r.pools = pools
}

// PositionKey identifies one user's stake on one side of one pool.
type PositionKey struct {
	Pool   uint64
	UserID uuid.UUID
}

// Position is a user's stake on one side of a pool.
type Position struct {
	UserID   uuid.UUID
	Pool     uint64
	Stake    *big.Int // deposited amount
	Refunded *big.Int // unmatched portion returned after settle
	Settled  bool     // refund (or emergency withdrawal) taken
	Claimed  bool     // claim tokens minted
	Version  int64
}

// Book tracks lend and borrow positions across all pools.
type Book struct {
	lend   map[PositionKey]*Position
	borrow map[PositionKey]*Position
}

func NewBook() *Book {
	return &Book{
		lend:   make(map[PositionKey]*Position),
		borrow: make(map[PositionKey]*Position),
	}
}

// GetLend returns an existing lend position or nil.
func (b *Book) GetLend(pool uint64, userID uuid.UUID) *Position {
	return b.lend[PositionKey{Pool: pool, UserID: userID}]
}

// GetBorrow returns an existing borrow position or nil.
func (b *Book) GetBorrow(pool uint64, userID uuid.UUID) *Position {
	return b.borrow[PositionKey{Pool: pool, UserID: userID}]
}

// GetOrCreateLend returns existing or creates a fresh lend position.
func (b *Book) GetOrCreateLend(pool uint64, userID uuid.UUID) *Position {
	key := PositionKey{Pool: pool, UserID: userID}
	pos := b.lend[key]
	if pos == nil {
		pos = newPosition(pool, userID)
		b.lend[key] = pos
	}
	return pos
}

// GetOrCreateBorrow returns existing or creates a fresh borrow position.
func (b *Book) GetOrCreateBorrow(pool uint64, userID uuid.UUID) *Position {
	key := PositionKey{Pool: pool, UserID: userID}
	pos := b.borrow[key]
	if pos == nil {
		pos = newPosition(pool, userID)
		b.borrow[key] = pos
	}
	return pos
}

func newPosition(pool uint64, userID uuid.UUID) *Position {
	return &Position{
		UserID:   userID,
		Pool:     pool,
		Stake:    new(big.Int),
		Refunded: new(big.Int),
	}
}

// LendStakeSum totals the live lend stakes of one pool. Used by the
// engine's post-checks against the pool's recorded supply.
func (b *Book) LendStakeSum(pool uint64) *big.Int {
	return stakeSum(b.lend, pool)
}

// BorrowStakeSum totals the live borrow stakes of one pool.
func (b *Book) BorrowStakeSum(pool uint64) *big.Int {
	return stakeSum(b.borrow, pool)
}

func stakeSum(m map[PositionKey]*Position, pool uint64) *big.Int {
	total := new(big.Int)
	for key, pos := range m {
		if key.Pool == pool && pos.Stake != nil {
			total.Add(total, pos.Stake)
		}
	}
	return total
}

// AllLend returns every lend position (snapshot creation).
func (b *Book) AllLend() []*Position {
	return collect(b.lend)
}

// AllBorrow returns every borrow position (snapshot creation).
func (b *Book) AllBorrow() []*Position {
	return collect(b.borrow)
}

func collect(m map[PositionKey]*Position) []*Position {
	out := make([]*Position, 0, len(m))
	for _, pos := range m {
		out = append(out, pos)
	}
	return out
}

// RestoreLend directly sets a lend position (snapshot restore).
func (b *Book) RestoreLend(pos *Position) {
	b.lend[PositionKey{Pool: pos.Pool, UserID: pos.UserID}] = pos
}

// RestoreBorrow directly sets a borrow position (snapshot restore).
func (b *Book) RestoreBorrow(pos *Position) {
	b.borrow[PositionKey{Pool: pos.Pool, UserID: pos.UserID}] = pos
}
