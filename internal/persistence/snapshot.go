package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SnapshotManager handles creating and loading state snapshots for
// recovery. Snapshots contain balances, pools, positions, oracle
// prices, claim token holdings, global config, sequence counters, and
// the last state hash.
type SnapshotManager struct {
	db *sql.DB
}

// SnapshotData contains the full in-memory state at a point in time.
// Big integers are serialized as decimal strings.
type SnapshotData struct {
	Sequence        int64                `json:"sequence"`
	StateHash       []byte               `json:"state_hash"`
	Balances        map[string]string    `json:"balances"` // AccountPath -> balance
	Pools           []PoolSnapshot       `json:"pools"`
	LendPositions   []PositionSnapshot   `json:"lend_positions"`
	BorrowPositions []PositionSnapshot   `json:"borrow_positions"`
	Prices          map[string]PriceSnap `json:"prices"` // asset -> price state
	Holdings        []HoldingSnapshot    `json:"holdings"`
	Config          *ConfigSnapshot      `json:"config"`
	SequenceState   map[string]int64     `json:"sequence_state"`   // partition -> next expected seq
	IdempotencyKeys []string             `json:"idempotency_keys"` // Recent keys for LRU warming
	CreatedAt       time.Time            `json:"created_at"`
}

// PoolSnapshot is a serializable pool.
type PoolSnapshot struct {
	Index                  uint64              `json:"index"`
	Creator                string              `json:"creator"`
	SettleTime             int64               `json:"settle_time"`
	EndTime                int64               `json:"end_time"`
	InterestRate           string              `json:"interest_rate"`
	MortgageRate           string              `json:"mortgage_rate"`
	AutoLiquidateThreshold string              `json:"auto_liquidate_threshold"`
	MaxSupply              string              `json:"max_supply"`
	LendAsset              string              `json:"lend_asset"`
	BorrowAsset            string              `json:"borrow_asset"`
	LendSupply             string              `json:"lend_supply"`
	BorrowSupply           string              `json:"borrow_supply"`
	State                  int32               `json:"state"`
	Settlement             *SettlementSnapshot `json:"settlement,omitempty"`
	Version                int64               `json:"version"`
}

// SettlementSnapshot is a serializable settlement record. Empty strings
// mean the field has not been written yet.
type SettlementSnapshot struct {
	SettleAmountLend        string `json:"settle_amount_lend,omitempty"`
	SettleAmountBorrow      string `json:"settle_amount_borrow,omitempty"`
	SettlePriceLend         string `json:"settle_price_lend,omitempty"`
	SettlePriceBorrow       string `json:"settle_price_borrow,omitempty"`
	FinishAmountLend        string `json:"finish_amount_lend,omitempty"`
	FinishAmountBorrow      string `json:"finish_amount_borrow,omitempty"`
	LiquidationAmountLend   string `json:"liquidation_amount_lend,omitempty"`
	LiquidationAmountBorrow string `json:"liquidation_amount_borrow,omitempty"`
}

// PositionSnapshot is a serializable position.
type PositionSnapshot struct {
	UserID   string `json:"user_id"`
	Pool     uint64 `json:"pool"`
	Stake    string `json:"stake"`
	Refunded string `json:"refunded,omitempty"`
	Settled  bool   `json:"settled"`
	Claimed  bool   `json:"claimed"`
	Version  int64  `json:"version"`
}

// PriceSnap is a serializable oracle price state.
type PriceSnap struct {
	Price         string `json:"price"`
	PriceSequence int64  `json:"price_sequence"`
	Timestamp     int64  `json:"timestamp"`
}

// HoldingSnapshot is a serializable claim token holding.
type HoldingSnapshot struct {
	Pool   uint64 `json:"pool"`
	Class  uint8  `json:"class"`
	User   string `json:"user"`
	Amount string `json:"amount"`
}

// ConfigSnapshot is the serializable global configuration.
type ConfigSnapshot struct {
	LendFee      string `json:"lend_fee"`
	BorrowFee    string `json:"borrow_fee"`
	SwapSpread   string `json:"swap_spread"`
	MinDeposit   string `json:"min_deposit"`
	FeeCollector string `json:"fee_collector"`
	Paused       bool   `json:"paused"`
	Version      int64  `json:"version"`
}

func NewSnapshotManager(db *sql.DB) *SnapshotManager {
	return &SnapshotManager{db: db}
}

// SaveSnapshot persists a snapshot to Postgres. Snapshots are taken
// periodically and verified by replaying commands from the snapshot
// sequence forward.
func (sm *SnapshotManager) SaveSnapshot(ctx context.Context, snap *SnapshotData) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	snapshotID := uuid.New()
	sizeBytes := len(data)
	formatVersion := int32(1) // v1: JSON-encoded SnapshotData

	_, err = sm.db.ExecContext(ctx, `
		INSERT INTO command_log.snapshots
			(snapshot_id, sequence, data, state_hash, format_version, size_bytes, verified, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, FALSE, $7)
		ON CONFLICT (sequence) DO UPDATE SET data = $3, state_hash = $4, size_bytes = $6
	`, snapshotID, snap.Sequence, data, snap.StateHash, formatVersion, sizeBytes, snap.CreatedAt)

	return err
}

// LoadLatestSnapshot loads the most recent verified snapshot. On warm
// restart, load the latest snapshot then replay commands from
// snapshot.sequence+1.
func (sm *SnapshotManager) LoadLatestSnapshot(ctx context.Context) (*SnapshotData, error) {
	row := sm.db.QueryRowContext(ctx, `
		SELECT data FROM command_log.snapshots
		WHERE verified = TRUE
		ORDER BY sequence DESC
		LIMIT 1
	`)

	var data []byte
	if err := row.Scan(&data); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil // No snapshot — cold start
		}
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	var snap SnapshotData
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}

	return &snap, nil
}

// MarkVerified marks a snapshot as verified after integrity check.
func (sm *SnapshotManager) MarkVerified(ctx context.Context, sequence int64) error {
	_, err := sm.db.ExecContext(ctx, `
		UPDATE command_log.snapshots SET verified = TRUE WHERE sequence = $1
	`, sequence)
	return err
}

// LoadCommandsFrom loads commands from a given sequence for replay.
// Used for warm restart (replay from snapshot) and cold restart
// (replay all).
func (sm *SnapshotManager) LoadCommandsFrom(ctx context.Context, fromSequence int64, limit int) ([]CommandRow, error) {
	rows, err := sm.db.QueryContext(ctx, `
		SELECT sequence, command_type, idempotency_key, pool_index, payload,
		       state_hash, prev_hash, timestamp, source_sequence
		FROM command_log.commands
		WHERE sequence >= $1
		ORDER BY sequence ASC
		LIMIT $2
	`, fromSequence, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var commands []CommandRow
	for rows.Next() {
		var c CommandRow
		if err := rows.Scan(
			&c.Sequence, &c.CommandType, &c.IdempotencyKey, &c.PoolIndex,
			&c.Payload, &c.StateHash, &c.PrevHash, &c.Timestamp, &c.SourceSequence,
		); err != nil {
			return nil, err
		}
		commands = append(commands, c)
	}

	return commands, rows.Err()
}

// GetLatestSequence returns the highest sequence in the command log.
func (sm *SnapshotManager) GetLatestSequence(ctx context.Context) (int64, error) {
	var seq sql.NullInt64
	err := sm.db.QueryRowContext(ctx, `
		SELECT MAX(sequence) FROM command_log.commands
	`).Scan(&seq)
	if err != nil {
		return 0, err
	}
	if !seq.Valid {
		return 0, nil // Empty command log
	}
	return seq.Int64, nil
}
