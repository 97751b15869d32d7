package query

import "github.com/google/uuid"

// PoolResponse represents a lending pool for API queries. Amount and
// rate fields are decimal strings.
type PoolResponse struct {
	PoolIndex    uint64 `json:"pool_index"`
	State        string `json:"state"`
	LendAsset    string `json:"lend_asset"`
	BorrowAsset  string `json:"borrow_asset"`
	LendSupply   string `json:"lend_supply"`
	BorrowSupply string `json:"borrow_supply"`
	SettleTime   int64  `json:"settle_time"`
	EndTime      int64  `json:"end_time"`
	InterestRate string `json:"interest_rate"`
	MortgageRate string `json:"mortgage_rate"`

	// Null until the pool settles / closes
	SettleAmountLend     *string `json:"settle_amount_lend,omitempty"`
	SettleAmountBorrow   *string `json:"settle_amount_borrow,omitempty"`
	TerminalAmountLend   *string `json:"terminal_amount_lend,omitempty"`
	TerminalAmountBorrow *string `json:"terminal_amount_borrow,omitempty"`

	Version      int64 `json:"version"`
	AsOfSequence int64 `json:"as_of_sequence"`
}

// PositionResponse represents a user's stake in a pool for API queries.
type PositionResponse struct {
	UserID       uuid.UUID `json:"user_id"`
	PoolIndex    uint64    `json:"pool_index"`
	Side         string    `json:"side"`
	Stake        string    `json:"stake"`
	Settled      bool      `json:"settled"`
	Claimed      bool      `json:"claimed"`
	Version      int64     `json:"version"`
	AsOfSequence int64     `json:"as_of_sequence"`
}

// ActivityResponse represents one recent user-facing ledger movement.
type ActivityResponse struct {
	UserID      uuid.UUID `json:"user_id"`
	PoolIndex   uint64    `json:"pool_index"`
	CommandType string    `json:"command_type"`
	Asset       string    `json:"asset"`
	Amount      string    `json:"amount"`
	Sequence    int64     `json:"sequence"`
	Timestamp   int64     `json:"timestamp"`
}

// JournalHistoryEntry represents a journal entry for API queries.
type JournalHistoryEntry struct {
	JournalID     string `json:"journal_id"`
	BatchID       string `json:"batch_id"`
	CommandRef    string `json:"command_ref"`
	Sequence      int64  `json:"sequence"`
	DebitAccount  string `json:"debit_account"`
	CreditAccount string `json:"credit_account"`
	Asset         string `json:"asset"`
	Amount        string `json:"amount"`
	JournalType   int32  `json:"journal_type"`
	Timestamp     int64  `json:"timestamp"`
}

// IntegrityReport is the result of an integrity verification check.
type IntegrityReport struct {
	IsHealthy        bool              `json:"is_healthy"`
	HashChainBreaks  []int64           `json:"hash_chain_breaks,omitempty"`
	UnbalancedAssets []UnbalancedAsset `json:"unbalanced_assets,omitempty"`
}

// UnbalancedAsset represents an asset whose internal accounts do not
// net to zero against the external accounts.
type UnbalancedAsset struct {
	Asset     string `json:"asset"`
	Imbalance string `json:"imbalance"`
}
