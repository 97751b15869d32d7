package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// ProjectionOutput mirrors the data needed by projection workers.
// The orchestrator bridges between engine.Output and this.
type ProjectionOutput struct {
	Sequence    int64
	CommandType string
	PoolIndex   *uint64
	Journals    []JournalEntry
	Pool        *PoolUpdate
	Positions   []PositionUpdate
	Timestamp   int64
}

// JournalEntry is a simplified journal for projection consumption.
// Amounts are decimal strings and map to NUMERIC columns.
type JournalEntry struct {
	DebitAccount  string
	CreditAccount string
	Asset         string
	Amount        string
	JournalType   int32
}

// PoolUpdate carries the post-command state of the affected pool.
type PoolUpdate struct {
	Index                uint64
	State                string
	LendAsset            string
	BorrowAsset          string
	LendSupply           string
	BorrowSupply         string
	SettleTime           int64
	EndTime              int64
	InterestRate         string
	MortgageRate         string
	SettleAmountLend     string // empty until settlement
	SettleAmountBorrow   string
	TerminalAmountLend   string // empty until finish or liquidation
	TerminalAmountBorrow string
	Version              int64
}

// PositionUpdate carries the post-command state of an affected position.
type PositionUpdate struct {
	UserID  uuid.UUID
	Pool    uint64
	Side    string // "lend" or "borrow"
	Stake   string
	Settled bool
	Claimed bool
	Version int64
}

// ProjectionWorker updates projection tables from applied commands.
// The projection channel is non-blocking with drop: if projections
// fall behind, they can be rebuilt from the command log.
type ProjectionWorker struct {
	db        *sql.DB
	inputChan <-chan ProjectionOutput
	activity  *ActivityProjection
	lastSeq   int64
}

func NewProjectionWorker(db *sql.DB, inputChan <-chan ProjectionOutput, activity *ActivityProjection) *ProjectionWorker {
	return &ProjectionWorker{
		db:        db,
		inputChan: inputChan,
		activity:  activity,
	}
}

// Run starts the projection worker loop.
func (pw *ProjectionWorker) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case output, ok := <-pw.inputChan:
			if !ok {
				return nil
			}

			if err := pw.processOutput(ctx, output); err != nil {
				log.Printf("WARN: projection update failed at seq=%d: %v", output.Sequence, err)
				// Continue — projections are eventually consistent
				// and can be rebuilt from the command log
			}

			pw.lastSeq = output.Sequence

			if pw.activity != nil {
				pw.activity.Record(output)
			}
		}
	}
}

func (pw *ProjectionWorker) processOutput(ctx context.Context, output ProjectionOutput) error {
	tx, err := pw.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, j := range output.Journals {
		if err := pw.updateBalanceProjection(ctx, tx, j, output.Sequence); err != nil {
			return fmt.Errorf("balance projection: %w", err)
		}
	}

	if output.Pool != nil {
		if err := pw.updatePoolProjection(ctx, tx, output.Pool, output.Sequence); err != nil {
			return fmt.Errorf("pool projection: %w", err)
		}
	}

	for i := range output.Positions {
		if err := pw.updatePositionProjection(ctx, tx, &output.Positions[i], output.Sequence); err != nil {
			return fmt.Errorf("position projection: %w", err)
		}
	}

	// Update projection watermark
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.watermark (worker_id, last_sequence, updated_at)
		VALUES ('main', $1, NOW())
		ON CONFLICT (worker_id) DO UPDATE SET last_sequence = $1, updated_at = NOW()
	`, output.Sequence); err != nil {
		return fmt.Errorf("watermark update: %w", err)
	}

	return tx.Commit()
}

// Debits increase an account, credits decrease it. This matches the
// in-memory balance tracker, so projected balances agree with the engine.
func (pw *ProjectionWorker) updateBalanceProjection(ctx context.Context, tx *sql.Tx, j JournalEntry, seq int64) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, $3::NUMERIC, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance + $3::NUMERIC, last_sequence = $4
	`, j.DebitAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		VALUES ($1, $2, -$3::NUMERIC, $4)
		ON CONFLICT (account_path, asset)
		DO UPDATE SET balance = projections.balances.balance - $3::NUMERIC, last_sequence = $4
	`, j.CreditAccount, j.Asset, j.Amount, seq); err != nil {
		return err
	}

	return nil
}

func (pw *ProjectionWorker) updatePoolProjection(ctx context.Context, tx *sql.Tx, p *PoolUpdate, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.pools
			(pool_index, state, lend_asset, borrow_asset, lend_supply, borrow_supply,
			 settle_time, end_time, interest_rate, mortgage_rate,
			 settle_amount_lend, settle_amount_borrow,
			 terminal_amount_lend, terminal_amount_borrow,
			 version, last_sequence, updated_at)
		VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7, $8, $9::NUMERIC, $10::NUMERIC,
		        NULLIF($11, '')::NUMERIC, NULLIF($12, '')::NUMERIC,
		        NULLIF($13, '')::NUMERIC, NULLIF($14, '')::NUMERIC,
		        $15, $16, NOW())
		ON CONFLICT (pool_index) DO UPDATE SET
			state = $2,
			lend_supply = $5::NUMERIC,
			borrow_supply = $6::NUMERIC,
			settle_amount_lend = NULLIF($11, '')::NUMERIC,
			settle_amount_borrow = NULLIF($12, '')::NUMERIC,
			terminal_amount_lend = NULLIF($13, '')::NUMERIC,
			terminal_amount_borrow = NULLIF($14, '')::NUMERIC,
			version = $15,
			last_sequence = $16,
			updated_at = NOW()
	`, p.Index, p.State, p.LendAsset, p.BorrowAsset, p.LendSupply, p.BorrowSupply,
		p.SettleTime, p.EndTime, p.InterestRate, p.MortgageRate,
		p.SettleAmountLend, p.SettleAmountBorrow,
		p.TerminalAmountLend, p.TerminalAmountBorrow,
		p.Version, seq)
	return err
}

func (pw *ProjectionWorker) updatePositionProjection(ctx context.Context, tx *sql.Tx, pos *PositionUpdate, seq int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO projections.positions
			(user_id, pool_index, side, stake, settled, claimed, version, last_sequence)
		VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8)
		ON CONFLICT (user_id, pool_index, side) DO UPDATE SET
			stake = $4::NUMERIC,
			settled = $5,
			claimed = $6,
			version = $7,
			last_sequence = $8
	`, pos.UserID, pos.Pool, pos.Side, pos.Stake, pos.Settled, pos.Claimed, pos.Version, seq)
	return err
}

// RebuildProjections rebuilds balance projections from the command log
// journal. Pool and position projections are rebuilt by replaying the
// command log through the engine, not from SQL.
func RebuildProjections(ctx context.Context, db *sql.DB) error {
	truncateStatements := []string{
		`TRUNCATE projections.balances`,
		`TRUNCATE projections.positions`,
		`TRUNCATE projections.pools`,
		`DELETE FROM projections.watermark WHERE worker_id = 'main'`,
	}

	for _, stmt := range truncateStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("truncate failed: %w", err)
		}
	}

	// Debits increase the account balance
	_, err := db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT
			debit_account AS account_path,
			asset,
			SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM command_log.journal
		GROUP BY debit_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = EXCLUDED.balance, last_sequence = EXCLUDED.last_sequence
	`)
	if err != nil {
		return fmt.Errorf("rebuild debit balances: %w", err)
	}

	// Credits decrease it
	_, err = db.ExecContext(ctx, `
		INSERT INTO projections.balances (account_path, asset, balance, last_sequence)
		SELECT
			credit_account AS account_path,
			asset,
			-SUM(amount) AS balance,
			MAX(sequence) AS last_sequence
		FROM command_log.journal
		GROUP BY credit_account, asset
		ON CONFLICT (account_path, asset) DO UPDATE
			SET balance = projections.balances.balance + EXCLUDED.balance,
			    last_sequence = GREATEST(projections.balances.last_sequence, EXCLUDED.last_sequence)
	`)
	if err != nil {
		return fmt.Errorf("rebuild credit balances: %w", err)
	}

	log.Println("INFO: projection rebuild complete")
	return nil
}
