package ledger

import "fmt"

// InvariantValidator checks ledger invariants
type InvariantValidator struct {
	tracker *BalanceTracker
}

func NewInvariantValidator(tracker *BalanceTracker) *InvariantValidator {
	return &InvariantValidator{
		tracker: tracker,
	}
}

// ValidateBatchBalance verifies batch is balanced
func (v *InvariantValidator) ValidateBatchBalance(batch *Batch) error {
	return batch.Validate()
}

// ValidatePoolVaultsNonNegative checks both vaults of a pool hold >= 0
func (v *InvariantValidator) ValidatePoolVaultsNonNegative(pool uint64, lendAsset, borrowAsset string) error {
	if err := v.tracker.ValidateNonNegative(NewPoolAccountKey(pool, SubTypeLendVault, lendAsset)); err != nil {
		return err
	}
	return v.tracker.ValidateNonNegative(NewPoolAccountKey(pool, SubTypeBorrowVault, borrowAsset))
}

// ValidateGlobalBalance verifies the system is zero-sum per asset
func (v *InvariantValidator) ValidateGlobalBalance() error {
	totals := v.tracker.ComputeGlobalBalance()

	for asset, total := range totals {
		if total.Sign() != 0 {
			return fmt.Errorf("global balance for %s is non-zero: %s", asset, total)
		}
	}

	return nil
}
