package adapter

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

type claimKey struct {
	Pool  uint64
	Class ClaimClass
	User  uuid.UUID
}

type supplyKey struct {
	Pool  uint64
	Class ClaimClass
}

// TokenBook is the in-memory claim issuer. SP and JP balances exist per
// pool; supplies shrink as holders withdraw their terminal payouts.
type TokenBook struct {
	balances map[claimKey]*big.Int
	supplies map[supplyKey]*big.Int
}

func NewTokenBook() *TokenBook {
	return &TokenBook{
		balances: make(map[claimKey]*big.Int),
		supplies: make(map[supplyKey]*big.Int),
	}
}

func (t *TokenBook) Mint(pool uint64, class ClaimClass, user uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("claim issuer: mint amount must be positive")
	}
	t.balance(pool, class, user).Add(t.balance(pool, class, user), amount)
	t.supply(pool, class).Add(t.supply(pool, class), amount)
	return nil
}

func (t *TokenBook) Burn(pool uint64, class ClaimClass, user uuid.UUID, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("claim issuer: burn amount must be positive")
	}
	bal := t.balance(pool, class, user)
	if bal.Cmp(amount) < 0 {
		return fmt.Errorf("%w: pool %d %s user %s: have=%s, burn=%s",
			ErrInsufficientClaims, pool, class, user, bal, amount)
	}
	bal.Sub(bal, amount)
	t.supply(pool, class).Sub(t.supply(pool, class), amount)
	return nil
}

func (t *TokenBook) TotalSupply(pool uint64, class ClaimClass) *big.Int {
	return new(big.Int).Set(t.supply(pool, class))
}

func (t *TokenBook) BalanceOf(pool uint64, class ClaimClass, user uuid.UUID) *big.Int {
	return new(big.Int).Set(t.balance(pool, class, user))
}

func (t *TokenBook) balance(pool uint64, class ClaimClass, user uuid.UUID) *big.Int {
	key := claimKey{Pool: pool, Class: class, User: user}
	bal := t.balances[key]
	if bal == nil {
		bal = new(big.Int)
		t.balances[key] = bal
	}
	return bal
}

func (t *TokenBook) supply(pool uint64, class ClaimClass) *big.Int {
	key := supplyKey{Pool: pool, Class: class}
	s := t.supplies[key]
	if s == nil {
		s = new(big.Int)
		t.supplies[key] = s
	}
	return s
}

// Holding is one user's claim balance, exported for snapshots.
type Holding struct {
	Pool   uint64
	Class  ClaimClass
	User   uuid.UUID
	Amount *big.Int
}

// Holdings returns all non-zero balances (snapshot creation).
func (t *TokenBook) Holdings() []Holding {
	out := make([]Holding, 0, len(t.balances))
	for key, bal := range t.balances {
		if bal.Sign() == 0 {
			continue
		}
		out = append(out, Holding{
			Pool:   key.Pool,
			Class:  key.Class,
			User:   key.User,
			Amount: new(big.Int).Set(bal),
		})
	}
	return out
}

// RestoreHolding directly sets a balance and bumps the supply
// accordingly (snapshot restore).
func (t *TokenBook) RestoreHolding(h Holding) {
	key := claimKey{Pool: h.Pool, Class: h.Class, User: h.User}
	prev := t.balance(h.Pool, h.Class, h.User)
	t.supply(h.Pool, h.Class).Sub(t.supply(h.Pool, h.Class), prev)
	t.balances[key] = new(big.Int).Set(h.Amount)
	t.supply(h.Pool, h.Class).Add(t.supply(h.Pool, h.Class), h.Amount)
}
