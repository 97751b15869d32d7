package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"termpool/internal/projection"
)

// QueryService provides read-only access to projection tables. Queries
// read from PostgreSQL projections and the in-memory activity feed.
// All responses include as_of_sequence for freshness semantics.
type QueryService struct {
	db       *sql.DB
	activity *projection.ActivityProjection
}

func NewQueryService(db *sql.DB, activity *projection.ActivityProjection) *QueryService {
	return &QueryService{db: db, activity: activity}
}

// ListPools returns pools, optionally filtered by state, with
// cursor-based pagination on pool index.
func (qs *QueryService) ListPools(
	ctx context.Context,
	state *string,
	limit int,
	afterIndex *uint64,
) ([]PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	query := `
		SELECT pool_index, state, lend_asset, borrow_asset,
		       lend_supply::TEXT, borrow_supply::TEXT,
		       settle_time, end_time, interest_rate::TEXT, mortgage_rate::TEXT,
		       settle_amount_lend::TEXT, settle_amount_borrow::TEXT,
		       terminal_amount_lend::TEXT, terminal_amount_borrow::TEXT,
		       version
		FROM projections.pools
		WHERE TRUE
	`
	args := []interface{}{}
	argIdx := 1

	if state != nil {
		query += fmt.Sprintf(" AND state = $%d", argIdx)
		args = append(args, *state)
		argIdx++
	}

	if afterIndex != nil {
		query += fmt.Sprintf(" AND pool_index > $%d", argIdx)
		args = append(args, *afterIndex)
		argIdx++
	}

	query += " ORDER BY pool_index ASC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var pools []PoolResponse
	for rows.Next() {
		p, err := scanPool(rows, asOfSeq)
		if err != nil {
			return nil, err
		}
		pools = append(pools, *p)
	}

	return pools, rows.Err()
}

// GetPool returns a single pool by index. Returns nil if not found.
func (qs *QueryService) GetPool(ctx context.Context, poolIndex uint64) (*PoolResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT pool_index, state, lend_asset, borrow_asset,
		       lend_supply::TEXT, borrow_supply::TEXT,
		       settle_time, end_time, interest_rate::TEXT, mortgage_rate::TEXT,
		       settle_amount_lend::TEXT, settle_amount_borrow::TEXT,
		       terminal_amount_lend::TEXT, terminal_amount_borrow::TEXT,
		       version
		FROM projections.pools
		WHERE pool_index = $1
	`, poolIndex)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	return scanPool(rows, asOfSeq)
}

// GetPositions returns all open positions for a user.
func (qs *QueryService) GetPositions(
	ctx context.Context,
	userID uuid.UUID,
) ([]PositionResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := qs.db.QueryContext(ctx, `
		SELECT pool_index, side, stake::TEXT, settled, claimed, version
		FROM projections.positions
		WHERE user_id = $1 AND stake > 0
		ORDER BY pool_index, side
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var positions []PositionResponse
	for rows.Next() {
		var p PositionResponse
		p.UserID = userID
		p.AsOfSequence = asOfSeq
		if err := rows.Scan(
			&p.PoolIndex, &p.Side, &p.Stake, &p.Settled, &p.Claimed, &p.Version,
		); err != nil {
			return nil, err
		}
		positions = append(positions, p)
	}

	return positions, rows.Err()
}

// GetBalance returns a user's wallet balance for a specific asset.
func (qs *QueryService) GetBalance(
	ctx context.Context,
	userID uuid.UUID,
	asset string,
) (*BalanceResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, fmt.Errorf("watermark: %w", err)
	}

	walletPath := fmt.Sprintf("user:%s:wallet:%s", userID, asset)
	balance, err := qs.getProjectedBalance(ctx, walletPath, asset)
	if err != nil {
		return nil, err
	}

	return &BalanceResponse{
		UserID:       userID,
		Asset:        asset,
		Balance:      balance,
		AsOfSequence: asOfSeq,
	}, nil
}

// GetPoolVaults returns the escrow vault balances for a pool, plus the
// protocol fee balances for the pool's assets.
func (qs *QueryService) GetPoolVaults(ctx context.Context, poolIndex uint64) (*PoolVaultResponse, error) {
	asOfSeq, err := qs.getWatermark(ctx)
	if err != nil {
		return nil, err
	}

	var lendAsset, borrowAsset string
	err = qs.db.QueryRowContext(ctx, `
		SELECT lend_asset, borrow_asset FROM projections.pools WHERE pool_index = $1
	`, poolIndex).Scan(&lendAsset, &borrowAsset)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	resp := &PoolVaultResponse{
		PoolIndex:    poolIndex,
		LendAsset:    lendAsset,
		BorrowAsset:  borrowAsset,
		AsOfSequence: asOfSeq,
	}

	lookups := []struct {
		path  string
		asset string
		dest  *string
	}{
		{fmt.Sprintf("pool:%d:lend_vault:%s", poolIndex, lendAsset), lendAsset, &resp.LendVault},
		{fmt.Sprintf("pool:%d:borrow_vault:%s", poolIndex, borrowAsset), borrowAsset, &resp.BorrowVault},
		{fmt.Sprintf("system:fees:%s", lendAsset), lendAsset, &resp.LendFees},
		{fmt.Sprintf("system:fees:%s", borrowAsset), borrowAsset, &resp.BorrowFees},
	}
	for _, l := range lookups {
		bal, err := qs.getProjectedBalance(ctx, l.path, l.asset)
		if err != nil {
			return nil, err
		}
		*l.dest = bal
	}

	return resp, nil
}

// GetActivity returns recent user activity from the in-memory feed.
func (qs *QueryService) GetActivity(userID uuid.UUID, limit int) []ActivityResponse {
	entries := qs.activity.QueryByUser(userID, limit)

	result := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, ActivityResponse{
			UserID:      e.UserID,
			PoolIndex:   e.PoolIndex,
			CommandType: e.CommandType,
			Asset:       e.Asset,
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			Timestamp:   e.Timestamp,
		})
	}
	return result
}

// GetPoolActivity returns recent activity in a pool from the in-memory feed.
func (qs *QueryService) GetPoolActivity(poolIndex uint64, limit int) []ActivityResponse {
	entries := qs.activity.QueryByPool(poolIndex, limit)

	result := make([]ActivityResponse, 0, len(entries))
	for _, e := range entries {
		result = append(result, ActivityResponse{
			UserID:      e.UserID,
			PoolIndex:   e.PoolIndex,
			CommandType: e.CommandType,
			Asset:       e.Asset,
			Amount:      e.Amount,
			Sequence:    e.Sequence,
			Timestamp:   e.Timestamp,
		})
	}
	return result
}

// GetJournalHistory returns journal entries for a user with pagination.
func (qs *QueryService) GetJournalHistory(
	ctx context.Context,
	userID uuid.UUID,
	limit int,
	afterSequence *int64,
) ([]JournalHistoryEntry, error) {
	accountPrefix := fmt.Sprintf("user:%s:%%", userID)

	query := `
		SELECT journal_id, batch_id, command_ref, sequence,
		       debit_account, credit_account, asset, amount::TEXT, journal_type, timestamp
		FROM command_log.journal
		WHERE (debit_account LIKE $1 OR credit_account LIKE $1)
	`
	args := []interface{}{accountPrefix}
	argIdx := 2

	if afterSequence != nil {
		query += fmt.Sprintf(" AND sequence < $%d", argIdx)
		args = append(args, *afterSequence)
		argIdx++
	}

	query += " ORDER BY sequence DESC"
	query += fmt.Sprintf(" LIMIT $%d", argIdx)
	args = append(args, limit)

	rows, err := qs.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalHistoryEntry
	for rows.Next() {
		var e JournalHistoryEntry
		if err := rows.Scan(
			&e.JournalID, &e.BatchID, &e.CommandRef, &e.Sequence,
			&e.DebitAccount, &e.CreditAccount, &e.Asset, &e.Amount,
			&e.JournalType, &e.Timestamp,
		); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

// --- Admin APIs ---

// VerifyIntegrity checks hash chain and global balance invariants.
func (qs *QueryService) VerifyIntegrity(ctx context.Context) (*IntegrityReport, error) {
	report := &IntegrityReport{}

	// Check hash chain continuity
	rows, err := qs.db.QueryContext(ctx, `
		SELECT c1.sequence
		FROM command_log.commands c1
		LEFT JOIN command_log.commands c2 ON c2.sequence = c1.sequence - 1
		WHERE c1.sequence > 0 AND c1.prev_hash != COALESCE(c2.state_hash, c1.prev_hash)
		LIMIT 10
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		if err := rows.Scan(&seq); err != nil {
			return nil, err
		}
		report.HashChainBreaks = append(report.HashChainBreaks, seq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Check global balance: each asset must sum to zero across all
	// accounts, external accounts included
	balanceRows, err := qs.db.QueryContext(ctx, `
		SELECT asset, SUM(balance)::TEXT AS total
		FROM projections.balances
		GROUP BY asset
		HAVING SUM(balance) != 0
	`)
	if err != nil {
		return nil, err
	}
	defer balanceRows.Close()

	for balanceRows.Next() {
		var asset, total string
		if err := balanceRows.Scan(&asset, &total); err != nil {
			return nil, err
		}
		report.UnbalancedAssets = append(report.UnbalancedAssets, UnbalancedAsset{
			Asset:     asset,
			Imbalance: total,
		})
	}
	if err := balanceRows.Err(); err != nil {
		return nil, err
	}

	report.IsHealthy = len(report.HashChainBreaks) == 0 && len(report.UnbalancedAssets) == 0
	return report, nil
}

// --- helpers ---

func scanPool(rows *sql.Rows, asOfSeq int64) (*PoolResponse, error) {
	var p PoolResponse
	p.AsOfSequence = asOfSeq
	var settleLend, settleBorrow, terminalLend, terminalBorrow sql.NullString
	if err := rows.Scan(
		&p.PoolIndex, &p.State, &p.LendAsset, &p.BorrowAsset,
		&p.LendSupply, &p.BorrowSupply,
		&p.SettleTime, &p.EndTime, &p.InterestRate, &p.MortgageRate,
		&settleLend, &settleBorrow, &terminalLend, &terminalBorrow,
		&p.Version,
	); err != nil {
		return nil, err
	}
	if settleLend.Valid {
		p.SettleAmountLend = &settleLend.String
	}
	if settleBorrow.Valid {
		p.SettleAmountBorrow = &settleBorrow.String
	}
	if terminalLend.Valid {
		p.TerminalAmountLend = &terminalLend.String
	}
	if terminalBorrow.Valid {
		p.TerminalAmountBorrow = &terminalBorrow.String
	}
	return &p, nil
}

func (qs *QueryService) getWatermark(ctx context.Context) (int64, error) {
	var seq int64
	err := qs.db.QueryRowContext(ctx, `
		SELECT COALESCE(last_sequence, 0) FROM projections.watermark WHERE worker_id = 'main'
	`).Scan(&seq)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	return seq, err
}

func (qs *QueryService) getProjectedBalance(ctx context.Context, accountPath string, asset string) (string, error) {
	var balance string
	err := qs.db.QueryRowContext(ctx, `
		SELECT balance::TEXT FROM projections.balances
		WHERE account_path = $1 AND asset = $2
	`, accountPath, asset).Scan(&balance)
	if err == sql.ErrNoRows {
		return "0", nil
	}
	return balance, err
}
