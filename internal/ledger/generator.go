package ledger

import (
	"fmt"
	"math/big"

	"github.com/google/uuid"
)

// JournalGenerator creates balanced journal batches from commands
type JournalGenerator struct {
	sequence       int64
	balanceTracker *BalanceTracker // reference for pre-checks
}

func NewJournalGenerator(startSequence int64, tracker *BalanceTracker) *JournalGenerator {
	return &JournalGenerator{
		sequence:       startSequence,
		balanceTracker: tracker,
	}
}

// GenerateLendDeposit moves funds: external:deposits → pool:lend_vault
func (jg *JournalGenerator) GenerateLendDeposit(
	depositID uuid.UUID,
	pool uint64,
	asset string,
	amount *big.Int,
	timestamp int64,
) (*Batch, error) {
	return jg.generateDeposit(depositID, pool, SubTypeLendVault, asset, amount, JournalTypeLendDeposit, timestamp)
}

// GenerateBorrowDeposit moves funds: external:deposits → pool:borrow_vault
func (jg *JournalGenerator) GenerateBorrowDeposit(
	depositID uuid.UUID,
	pool uint64,
	asset string,
	amount *big.Int,
	timestamp int64,
) (*Batch, error) {
	return jg.generateDeposit(depositID, pool, SubTypeBorrowVault, asset, amount, JournalTypeBorrowDeposit, timestamp)
}

func (jg *JournalGenerator) generateDeposit(
	depositID uuid.UUID,
	pool uint64,
	vault AccountSubType,
	asset string,
	amount *big.Int,
	journalType JournalType,
	timestamp int64,
) (*Batch, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("deposit %s has non-positive amount", depositID)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:    batchID,
		CommandRef: depositID.String(),
		Sequence:   jg.sequence,
		Timestamp:  timestamp,
		Journals:   make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		CommandRef:    depositID.String(),
		Sequence:      jg.sequence,
		DebitAccount:  NewPoolAccountKey(pool, vault, asset),
		CreditAccount: NewExternalAccountKey(SubTypeExternalDeposits, asset),
		Asset:         asset,
		Amount:        new(big.Int).Set(amount),
		JournalType:   journalType,
		Timestamp:     timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GeneratePayout moves funds out of a pool vault to the payout boundary.
// Used for refunds, claims, withdrawals and emergency withdrawals; the
// journal type distinguishes them.
// Pre-check: the vault must cover the payout.
func (jg *JournalGenerator) GeneratePayout(
	commandRef string,
	pool uint64,
	vault AccountSubType,
	asset string,
	amount *big.Int,
	journalType JournalType,
	timestamp int64,
) (*Batch, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, fmt.Errorf("payout %s has non-positive amount", commandRef)
	}

	vaultKey := NewPoolAccountKey(pool, vault, asset)
	if err := jg.balanceTracker.ValidateSufficient(vaultKey, amount); err != nil {
		return nil, fmt.Errorf("payout pre-check failed: %w", err)
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:    batchID,
		CommandRef: commandRef,
		Sequence:   jg.sequence,
		Timestamp:  timestamp,
		Journals:   make([]Journal, 0, 1),
	}

	journal := Journal{
		JournalID:     uuid.New(),
		BatchID:       batchID,
		CommandRef:    commandRef,
		Sequence:      jg.sequence,
		DebitAccount:  NewExternalAccountKey(SubTypeExternalPayouts, asset),
		CreditAccount: vaultKey,
		Asset:         asset,
		Amount:        new(big.Int).Set(amount),
		JournalType:   journalType,
		Timestamp:     timestamp,
	}

	batch.Journals = append(batch.Journals, journal)
	jg.sequence++

	return batch, nil
}

// GenerateFinishSwap records the maturity swap of one pool:
// collateral leaves the borrow vault to the swap boundary, realized
// lend-asset proceeds enter the lend vault, and the fee legs skim the
// surplus and the borrow-side fee into the protocol fee account.
// Zero-amount legs are omitted.
func (jg *JournalGenerator) GenerateFinishSwap(
	commandRef string,
	pool uint64,
	borrowAsset string,
	amountIn *big.Int, // collateral consumed by the swap
	lendAsset string,
	realized *big.Int, // lend-asset proceeds of the swap
	lendSurplus *big.Int, // realized minus owed principal+interest, to fees
	borrowFee *big.Int, // borrow-side fee on the collateral remainder
	timestamp int64,
) (*Batch, error) {
	if positive(amountIn) {
		borrowVault := NewPoolAccountKey(pool, SubTypeBorrowVault, borrowAsset)
		if err := jg.balanceTracker.ValidateSufficient(borrowVault, amountIn); err != nil {
			return nil, fmt.Errorf("swap pre-check failed: %w", err)
		}
	}

	batchID := uuid.New()

	batch := &Batch{
		BatchID:    batchID,
		CommandRef: commandRef,
		Sequence:   jg.sequence,
		Timestamp:  timestamp,
		Journals:   make([]Journal, 0, 4),
	}

	appendLeg := func(debit, credit AccountKey, asset string, amount *big.Int, jt JournalType) {
		batch.Journals = append(batch.Journals, Journal{
			JournalID:     uuid.New(),
			BatchID:       batchID,
			CommandRef:    commandRef,
			Sequence:      jg.sequence,
			DebitAccount:  debit,
			CreditAccount: credit,
			Asset:         asset,
			Amount:        new(big.Int).Set(amount),
			JournalType:   jt,
			Timestamp:     timestamp,
		})
	}

	feeAccountLend := NewSystemAccountKey("protocol", SubTypeSystemFees, lendAsset)
	feeAccountBorrow := NewSystemAccountKey("protocol", SubTypeSystemFees, borrowAsset)
	lendVault := NewPoolAccountKey(pool, SubTypeLendVault, lendAsset)
	borrowVault := NewPoolAccountKey(pool, SubTypeBorrowVault, borrowAsset)

	if positive(amountIn) {
		appendLeg(NewExternalAccountKey(SubTypeExternalSwap, borrowAsset), borrowVault,
			borrowAsset, amountIn, JournalTypeSwapOut)
	}
	if positive(realized) {
		appendLeg(lendVault, NewExternalAccountKey(SubTypeExternalSwap, lendAsset),
			lendAsset, realized, JournalTypeSwapIn)
	}
	if positive(lendSurplus) {
		appendLeg(feeAccountLend, lendVault, lendAsset, lendSurplus, JournalTypeFee)
	}
	if positive(borrowFee) {
		appendLeg(feeAccountBorrow, borrowVault, borrowAsset, borrowFee, JournalTypeFee)
	}

	jg.sequence++
	return batch, nil
}

// EmptyBatch returns a journal-less batch for state-only commands that
// still need an envelope in the log.
func (jg *JournalGenerator) EmptyBatch(commandRef string, timestamp int64) *Batch {
	batch := &Batch{
		BatchID:    uuid.New(),
		CommandRef: commandRef,
		Sequence:   jg.sequence,
		Timestamp:  timestamp,
	}
	jg.sequence++
	return batch
}

func positive(v *big.Int) bool {
	return v != nil && v.Sign() > 0
}
