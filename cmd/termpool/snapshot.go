package main

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"time"

	"github.com/google/uuid"

	"termpool/internal/adapter"
	"termpool/internal/engine"
	"termpool/internal/ingestion"
	"termpool/internal/ledger"
	"termpool/internal/observability"
	"termpool/internal/persistence"
	"termpool/internal/pool"
)

// snapshotRequest asks the engine loop for a state snapshot. The reply
// is nil when the engine has not reached minSequence, which lets the
// periodic snapshotter skip the deep copy when nothing new happened.
type snapshotRequest struct {
	minSequence int64
	reply       chan *engine.SnapshotState
}

func bigToString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

func parseBig(s, field string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal for %s: %q", field, s)
	}
	return v, nil
}

// optionalBig returns nil for the empty string, which snapshots use for
// settlement fields that have not been written yet.
func optionalBig(s, field string) (*big.Int, error) {
	if s == "" {
		return nil, nil
	}
	return parseBig(s, field)
}

// snapshotDataToState converts a persisted snapshot back into engine
// state. Every decimal string and account path must parse; a snapshot
// that does not round-trip is corrupt and recovery must fail loudly.
func snapshotDataToState(data *persistence.SnapshotData) (*engine.SnapshotState, error) {
	snap := &engine.SnapshotState{
		Sequence:        data.Sequence,
		Balances:        make(map[ledger.AccountKey]*big.Int, len(data.Balances)),
		Prices:          make(map[string]*adapter.PriceState, len(data.Prices)),
		SequenceState:   make(map[string]int64, len(data.SequenceState)),
		IdempotencyKeys: append([]string(nil), data.IdempotencyKeys...),
	}

	if len(data.StateHash) != 32 {
		return nil, fmt.Errorf("snapshot state hash has %d bytes, want 32", len(data.StateHash))
	}
	copy(snap.StateHash[:], data.StateHash)

	for path, balance := range data.Balances {
		key, err := ledger.ParseAccountPath(path)
		if err != nil {
			return nil, fmt.Errorf("snapshot balance account %q: %w", path, err)
		}
		v, err := parseBig(balance, "balance "+path)
		if err != nil {
			return nil, err
		}
		snap.Balances[key] = v
	}

	for _, ps := range data.Pools {
		p, err := snapshotToPool(ps)
		if err != nil {
			return nil, err
		}
		snap.Pools = append(snap.Pools, p)
	}

	for _, ps := range data.LendPositions {
		pos, err := snapshotToPosition(ps)
		if err != nil {
			return nil, err
		}
		snap.LendPositions = append(snap.LendPositions, pos)
	}
	for _, ps := range data.BorrowPositions {
		pos, err := snapshotToPosition(ps)
		if err != nil {
			return nil, err
		}
		snap.BorrowPositions = append(snap.BorrowPositions, pos)
	}

	for asset, price := range data.Prices {
		v, err := parseBig(price.Price, "price "+asset)
		if err != nil {
			return nil, err
		}
		snap.Prices[asset] = &adapter.PriceState{
			Price:         v,
			PriceSequence: price.PriceSequence,
			Timestamp:     price.Timestamp,
		}
	}

	for _, h := range data.Holdings {
		userID, err := uuid.Parse(h.User)
		if err != nil {
			return nil, fmt.Errorf("snapshot holding user %q: %w", h.User, err)
		}
		amount, err := parseBig(h.Amount, "holding amount")
		if err != nil {
			return nil, err
		}
		snap.Holdings = append(snap.Holdings, adapter.Holding{
			Pool:   h.Pool,
			Class:  adapter.ClaimClass(h.Class),
			User:   userID,
			Amount: amount,
		})
	}

	if data.Config != nil {
		cfg, err := snapshotToConfig(data.Config)
		if err != nil {
			return nil, err
		}
		snap.Config = cfg
	}

	for partition, seq := range data.SequenceState {
		snap.SequenceState[partition] = seq
	}

	return snap, nil
}

func snapshotToPool(ps persistence.PoolSnapshot) (*pool.Pool, error) {
	creator, err := uuid.Parse(ps.Creator)
	if err != nil {
		return nil, fmt.Errorf("snapshot pool %d creator: %w", ps.Index, err)
	}

	p := &pool.Pool{
		Index:       ps.Index,
		Creator:     creator,
		SettleTime:  ps.SettleTime,
		EndTime:     ps.EndTime,
		LendAsset:   ps.LendAsset,
		BorrowAsset: ps.BorrowAsset,
		State:       pool.State(ps.State),
		Version:     ps.Version,
	}

	fields := []struct {
		dst  **big.Int
		src  string
		name string
	}{
		{&p.InterestRate, ps.InterestRate, "interest_rate"},
		{&p.MortgageRate, ps.MortgageRate, "mortgage_rate"},
		{&p.AutoLiquidateThreshold, ps.AutoLiquidateThreshold, "auto_liquidate_threshold"},
		{&p.MaxSupply, ps.MaxSupply, "max_supply"},
		{&p.LendSupply, ps.LendSupply, "lend_supply"},
		{&p.BorrowSupply, ps.BorrowSupply, "borrow_supply"},
	}
	for _, f := range fields {
		v, err := parseBig(f.src, fmt.Sprintf("pool %d %s", ps.Index, f.name))
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}

	if s := ps.Settlement; s != nil {
		settlement := &pool.Settlement{}
		optFields := []struct {
			dst  **big.Int
			src  string
			name string
		}{
			{&settlement.SettleAmountLend, s.SettleAmountLend, "settle_amount_lend"},
			{&settlement.SettleAmountBorrow, s.SettleAmountBorrow, "settle_amount_borrow"},
			{&settlement.SettlePriceLend, s.SettlePriceLend, "settle_price_lend"},
			{&settlement.SettlePriceBorrow, s.SettlePriceBorrow, "settle_price_borrow"},
			{&settlement.FinishAmountLend, s.FinishAmountLend, "finish_amount_lend"},
			{&settlement.FinishAmountBorrow, s.FinishAmountBorrow, "finish_amount_borrow"},
			{&settlement.LiquidationAmountLend, s.LiquidationAmountLend, "liquidation_amount_lend"},
			{&settlement.LiquidationAmountBorrow, s.LiquidationAmountBorrow, "liquidation_amount_borrow"},
		}
		for _, f := range optFields {
			v, err := optionalBig(f.src, fmt.Sprintf("pool %d %s", ps.Index, f.name))
			if err != nil {
				return nil, err
			}
			*f.dst = v
		}
		p.Settlement = settlement
	}

	return p, nil
}

func snapshotToPosition(ps persistence.PositionSnapshot) (*pool.Position, error) {
	userID, err := uuid.Parse(ps.UserID)
	if err != nil {
		return nil, fmt.Errorf("snapshot position user %q: %w", ps.UserID, err)
	}
	stake, err := parseBig(ps.Stake, "position stake")
	if err != nil {
		return nil, err
	}
	refunded, err := optionalBig(ps.Refunded, "position refunded")
	if err != nil {
		return nil, err
	}
	if refunded == nil {
		refunded = big.NewInt(0)
	}

	return &pool.Position{
		UserID:   userID,
		Pool:     ps.Pool,
		Stake:    stake,
		Refunded: refunded,
		Settled:  ps.Settled,
		Claimed:  ps.Claimed,
		Version:  ps.Version,
	}, nil
}

func positionToSnapshot(pos *pool.Position) persistence.PositionSnapshot {
	return persistence.PositionSnapshot{
		UserID:   pos.UserID.String(),
		Pool:     pos.Pool,
		Stake:    pos.Stake.String(),
		Refunded: bigToString(pos.Refunded),
		Settled:  pos.Settled,
		Claimed:  pos.Claimed,
		Version:  pos.Version,
	}
}

func snapshotToConfig(cs *persistence.ConfigSnapshot) (*pool.GlobalConfig, error) {
	collector, err := uuid.Parse(cs.FeeCollector)
	if err != nil {
		return nil, fmt.Errorf("snapshot config fee collector: %w", err)
	}

	cfg := &pool.GlobalConfig{
		FeeCollector: collector,
		Paused:       cs.Paused,
		Version:      cs.Version,
	}
	fields := []struct {
		dst  **big.Int
		src  string
		name string
	}{
		{&cfg.LendFee, cs.LendFee, "lend_fee"},
		{&cfg.BorrowFee, cs.BorrowFee, "borrow_fee"},
		{&cfg.SwapSpread, cs.SwapSpread, "swap_spread"},
		{&cfg.MinDeposit, cs.MinDeposit, "min_deposit"},
	}
	for _, f := range fields {
		v, err := parseBig(f.src, "config "+f.name)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return cfg, nil
}

// stateToSnapshotData converts live engine state into the persisted
// snapshot form. Inverse of snapshotDataToState.
func stateToSnapshotData(snap *engine.SnapshotState) *persistence.SnapshotData {
	data := &persistence.SnapshotData{
		Sequence:        snap.Sequence,
		StateHash:       snap.StateHash[:],
		Balances:        make(map[string]string, len(snap.Balances)),
		Prices:          make(map[string]persistence.PriceSnap, len(snap.Prices)),
		SequenceState:   make(map[string]int64, len(snap.SequenceState)),
		IdempotencyKeys: append([]string(nil), snap.IdempotencyKeys...),
		CreatedAt:       time.Now().UTC(),
	}

	for key, balance := range snap.Balances {
		data.Balances[key.AccountPath()] = balance.String()
	}

	for _, p := range snap.Pools {
		ps := persistence.PoolSnapshot{
			Index:                  p.Index,
			Creator:                p.Creator.String(),
			SettleTime:             p.SettleTime,
			EndTime:                p.EndTime,
			InterestRate:           p.InterestRate.String(),
			MortgageRate:           p.MortgageRate.String(),
			AutoLiquidateThreshold: p.AutoLiquidateThreshold.String(),
			MaxSupply:              p.MaxSupply.String(),
			LendAsset:              p.LendAsset,
			BorrowAsset:            p.BorrowAsset,
			LendSupply:             p.LendSupply.String(),
			BorrowSupply:           p.BorrowSupply.String(),
			State:                  int32(p.State),
			Version:                p.Version,
		}
		if s := p.Settlement; s != nil {
			ps.Settlement = &persistence.SettlementSnapshot{
				SettleAmountLend:        bigToString(s.SettleAmountLend),
				SettleAmountBorrow:      bigToString(s.SettleAmountBorrow),
				SettlePriceLend:         bigToString(s.SettlePriceLend),
				SettlePriceBorrow:       bigToString(s.SettlePriceBorrow),
				FinishAmountLend:        bigToString(s.FinishAmountLend),
				FinishAmountBorrow:      bigToString(s.FinishAmountBorrow),
				LiquidationAmountLend:   bigToString(s.LiquidationAmountLend),
				LiquidationAmountBorrow: bigToString(s.LiquidationAmountBorrow),
			}
		}
		data.Pools = append(data.Pools, ps)
	}

	for _, pos := range snap.LendPositions {
		data.LendPositions = append(data.LendPositions, positionToSnapshot(pos))
	}
	for _, pos := range snap.BorrowPositions {
		data.BorrowPositions = append(data.BorrowPositions, positionToSnapshot(pos))
	}

	for asset, price := range snap.Prices {
		data.Prices[asset] = persistence.PriceSnap{
			Price:         price.Price.String(),
			PriceSequence: price.PriceSequence,
			Timestamp:     price.Timestamp,
		}
	}

	for _, h := range snap.Holdings {
		data.Holdings = append(data.Holdings, persistence.HoldingSnapshot{
			Pool:   h.Pool,
			Class:  uint8(h.Class),
			User:   h.User.String(),
			Amount: h.Amount.String(),
		})
	}

	if cfg := snap.Config; cfg != nil {
		data.Config = &persistence.ConfigSnapshot{
			LendFee:      cfg.LendFee.String(),
			BorrowFee:    cfg.BorrowFee.String(),
			SwapSpread:   cfg.SwapSpread.String(),
			MinDeposit:   cfg.MinDeposit.String(),
			FeeCollector: cfg.FeeCollector.String(),
			Paused:       cfg.Paused,
			Version:      cfg.Version,
		}
	}

	for partition, seq := range snap.SequenceState {
		data.SequenceState[partition] = seq
	}

	return data
}

func saveSnapshotState(
	ctx context.Context,
	snap *engine.SnapshotState,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
	start time.Time,
) error {
	data := stateToSnapshotData(snap)
	if err := snapMgr.SaveSnapshot(ctx, data); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}

	// Taken from live state, so the snapshot is trusted without a
	// replay pass.
	if err := snapMgr.MarkVerified(ctx, data.Sequence); err != nil {
		return fmt.Errorf("mark snapshot verified: %w", err)
	}

	metrics.SnapshotTaken.Inc()
	metrics.SnapshotDuration.Observe(time.Since(start).Seconds())
	metrics.SnapshotLastSeq.Set(float64(data.Sequence))

	log.Printf("INFO: snapshot saved at sequence %d", data.Sequence)
	return nil
}

// takeSnapshot reads engine state directly. Only safe when the engine
// loop is not running (startup and shutdown).
func takeSnapshot(
	ctx context.Context,
	eng *engine.Engine,
	snapMgr *persistence.SnapshotManager,
	metrics *observability.Metrics,
) error {
	start := time.Now()
	return saveSnapshotState(ctx, eng.CreateSnapshot(), snapMgr, metrics, start)
}

// runPeriodicSnapshots requests a snapshot from the engine loop once
// the sequence has advanced by at least interval commands.
func runPeriodicSnapshots(
	ctx context.Context,
	reqChan chan<- snapshotRequest,
	snapMgr *persistence.SnapshotManager,
	interval int,
	metrics *observability.Metrics,
) {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	var lastSnapshotSeq int64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		start := time.Now()
		req := snapshotRequest{
			minSequence: lastSnapshotSeq + int64(interval),
			reply:       make(chan *engine.SnapshotState, 1),
		}

		select {
		case reqChan <- req:
		case <-ctx.Done():
			return
		}

		var snap *engine.SnapshotState
		select {
		case snap = <-req.reply:
		case <-ctx.Done():
			return
		}
		if snap == nil {
			continue // sequence has not advanced enough
		}

		if err := saveSnapshotState(ctx, snap, snapMgr, metrics, start); err != nil {
			log.Printf("ERROR: periodic snapshot failed: %v", err)
			continue
		}
		lastSnapshotSeq = snap.Sequence
	}
}

// replayCommandsFromLog replays persisted commands through the engine,
// starting after fromSequence. Returns the number of commands replayed.
func replayCommandsFromLog(
	ctx context.Context,
	snapMgr *persistence.SnapshotManager,
	eng *engine.Engine,
	fromSequence int64,
) (int, error) {
	const batchSize = 1000

	count := 0
	next := fromSequence + 1
	for {
		rows, err := snapMgr.LoadCommandsFrom(ctx, next, batchSize)
		if err != nil {
			return count, fmt.Errorf("load commands from %d: %w", next, err)
		}
		if len(rows) == 0 {
			return count, nil
		}

		for _, row := range rows {
			cmd, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: row.Payload}, row.CommandType)
			if err != nil {
				return count, fmt.Errorf("parse replayed command seq=%d type=%s: %w", row.Sequence, row.CommandType, err)
			}
			if err := eng.ProcessCommand(cmd); err != nil {
				log.Printf("WARN: replay rejected command seq=%d type=%s: %v", row.Sequence, row.CommandType, err)
			}
			count++
			next = row.Sequence + 1
		}

		if len(rows) < batchSize {
			return count, nil
		}
	}
}
