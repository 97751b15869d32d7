package query

import (
	"github.com/google/uuid"
)

// BalanceResponse represents a user wallet balance for API queries
type BalanceResponse struct {
	UserID uuid.UUID `json:"user_id"`
	Asset  string    `json:"asset"`

	// Ledger balance (from journal entries), decimal string
	Balance string `json:"balance"`

	// Metadata
	AsOfSequence int64 `json:"as_of_sequence"` // last projected sequence
}

// PoolVaultResponse contains a pool's escrow vault balances plus the
// protocol fee accounts for its two assets
type PoolVaultResponse struct {
	PoolIndex   uint64 `json:"pool_index"`
	LendAsset   string `json:"lend_asset"`
	BorrowAsset string `json:"borrow_asset"`

	LendVault   string `json:"lend_vault"`
	BorrowVault string `json:"borrow_vault"`

	LendFees   string `json:"lend_fees"`
	BorrowFees string `json:"borrow_fees"`

	AsOfSequence int64 `json:"as_of_sequence"`
}
