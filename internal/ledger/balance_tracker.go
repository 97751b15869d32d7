package ledger

import (
	"fmt"
	"math/big"
)

// BalanceTracker maintains in-memory account balances
type BalanceTracker struct {
	balances map[AccountKey]*big.Int
}

func NewBalanceTracker() *BalanceTracker {
	return &BalanceTracker{
		balances: make(map[AccountKey]*big.Int),
	}
}

// ApplyJournal applies a single journal entry to balances
func (bt *BalanceTracker) ApplyJournal(j Journal) {
	bt.get(j.DebitAccount).Add(bt.get(j.DebitAccount), j.Amount)
	bt.get(j.CreditAccount).Sub(bt.get(j.CreditAccount), j.Amount)
}

func (bt *BalanceTracker) get(key AccountKey) *big.Int {
	bal := bt.balances[key]
	if bal == nil {
		bal = new(big.Int)
		bt.balances[key] = bal
	}
	return bal
}

// ApplyBatch applies all journals in a batch
func (bt *BalanceTracker) ApplyBatch(batch *Batch) error {
	if err := batch.Validate(); err != nil {
		return fmt.Errorf("invalid batch: %w", err)
	}

	for _, j := range batch.Journals {
		bt.ApplyJournal(j)
	}

	return nil
}

// GetBalance returns a copy of the current balance for an account
func (bt *BalanceTracker) GetBalance(key AccountKey) *big.Int {
	bal := bt.balances[key]
	if bal == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(bal)
}

// GetLendVaultBalance returns the lend-side vault balance of a pool
func (bt *BalanceTracker) GetLendVaultBalance(pool uint64, asset string) *big.Int {
	return bt.GetBalance(NewPoolAccountKey(pool, SubTypeLendVault, asset))
}

// GetBorrowVaultBalance returns the borrow-side vault balance of a pool
func (bt *BalanceTracker) GetBorrowVaultBalance(pool uint64, asset string) *big.Int {
	return bt.GetBalance(NewPoolAccountKey(pool, SubTypeBorrowVault, asset))
}

// GetFeeBalance returns the accumulated protocol fees for an asset
func (bt *BalanceTracker) GetFeeBalance(asset string) *big.Int {
	return bt.GetBalance(NewSystemAccountKey("protocol", SubTypeSystemFees, asset))
}

// ValidateSufficient checks that an account can cover a transfer out
func (bt *BalanceTracker) ValidateSufficient(key AccountKey, required *big.Int) error {
	bal := bt.GetBalance(key)
	if bal.Cmp(required) < 0 {
		return fmt.Errorf("insufficient balance on %s: have=%s, need=%s",
			key.AccountPath(), bal, required)
	}
	return nil
}

// ValidateNonNegative checks that a specific account balance is >= 0
func (bt *BalanceTracker) ValidateNonNegative(key AccountKey) error {
	bal := bt.GetBalance(key)
	if bal.Sign() < 0 {
		return fmt.Errorf("account %s has negative balance: %s", key.AccountPath(), bal)
	}
	return nil
}

// ComputeGlobalBalance sums all account balances per asset (should be 0
// for a zero-sum ledger)
func (bt *BalanceTracker) ComputeGlobalBalance() map[string]*big.Int {
	totals := make(map[string]*big.Int)

	for key, balance := range bt.balances {
		total := totals[key.Asset]
		if total == nil {
			total = new(big.Int)
			totals[key.Asset] = total
		}
		total.Add(total, balance)
	}

	return totals
}

// Snapshot returns a deep copy of all balances (for state hashing and
// snapshot creation)
func (bt *BalanceTracker) Snapshot() map[AccountKey]*big.Int {
	snapshot := make(map[AccountKey]*big.Int, len(bt.balances))
	for k, v := range bt.balances {
		snapshot[k] = new(big.Int).Set(v)
	}
	return snapshot
}

// Restore replaces all balances (snapshot restore)
func (bt *BalanceTracker) Restore(balances map[AccountKey]*big.Int) {
	bt.balances = make(map[AccountKey]*big.Int, len(balances))
	for k, v := range balances {
		bt.balances[k] = new(big.Int).Set(v)
	}
}
