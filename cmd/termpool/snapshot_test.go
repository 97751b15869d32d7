package main

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpool/internal/adapter"
	"termpool/internal/engine"
	"termpool/internal/ledger"
	"termpool/internal/pool"
)

func sampleSnapshotState() *engine.SnapshotState {
	user := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	creator := uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
	collector := uuid.MustParse("770e8400-e29b-41d4-a716-446655440002")

	snap := &engine.SnapshotState{
		Sequence: 1234,
		Balances: map[ledger.AccountKey]*big.Int{
			ledger.NewUserAccountKey(user, ledger.SubTypeWallet, "USDT"):      big.NewInt(5_000_000),
			ledger.NewPoolAccountKey(7, ledger.SubTypeLendVault, "USDT"):      big.NewInt(9_000_000),
			ledger.NewSystemAccountKey("protocol", ledger.SubTypeSystemFees, "USDT"): big.NewInt(42),
			ledger.NewExternalAccountKey(ledger.SubTypeExternalDeposits, "USDT"):     big.NewInt(-14_000_042),
		},
		Pools: []*pool.Pool{
			{
				Index:                  7,
				Creator:                creator,
				SettleTime:             1700000000,
				EndTime:                1715000000,
				InterestRate:           big.NewInt(10_000_000),
				MortgageRate:           big.NewInt(150_000_000),
				AutoLiquidateThreshold: big.NewInt(110_000_000),
				MaxSupply:              big.NewInt(100_000_000_000),
				LendAsset:              "USDT",
				BorrowAsset:            "ETH",
				LendSupply:             big.NewInt(9_000_000),
				BorrowSupply:           big.NewInt(3_000_000),
				State:                  pool.StateExecution,
				Settlement: &pool.Settlement{
					SettleAmountLend:   big.NewInt(8_000_000),
					SettleAmountBorrow: big.NewInt(2_500_000),
					SettlePriceLend:    big.NewInt(100_000_000),
					SettlePriceBorrow:  big.NewInt(245_000_000_000),
					// Finish and liquidation amounts not yet written
				},
				Version: 5,
			},
		},
		LendPositions: []*pool.Position{
			{
				UserID:   user,
				Pool:     7,
				Stake:    big.NewInt(5_000_000),
				Refunded: big.NewInt(1_000_000),
				Settled:  true,
				Version:  2,
			},
		},
		Prices: map[string]*adapter.PriceState{
			"ETH": {Price: big.NewInt(245_000_000_000), PriceSequence: 88, Timestamp: 1700000050},
		},
		Holdings: []adapter.Holding{
			{Pool: 7, Class: adapter.ClassSP, User: user, Amount: big.NewInt(5_000_000)},
		},
		Config: &pool.GlobalConfig{
			LendFee:      big.NewInt(500_000),
			BorrowFee:    big.NewInt(300_000),
			SwapSpread:   big.NewInt(100_000),
			MinDeposit:   big.NewInt(1_000),
			FeeCollector: collector,
			Paused:       false,
			Version:      3,
		},
		SequenceState:   map[string]int64{"PoolCreate": 12, "DepositLend:7": 34},
		IdempotencyKeys: []string{"key-a", "key-b"},
	}
	copy(snap.StateHash[:], []byte("0123456789abcdef0123456789abcdef"))
	return snap
}

func TestSnapshotStateRoundTrip(t *testing.T) {
	orig := sampleSnapshotState()

	data := stateToSnapshotData(orig)
	restored, err := snapshotDataToState(data)
	require.NoError(t, err)

	assert.Equal(t, orig.Sequence, restored.Sequence)
	assert.Equal(t, orig.StateHash, restored.StateHash)

	require.Len(t, restored.Balances, len(orig.Balances))
	for key, want := range orig.Balances {
		got, ok := restored.Balances[key]
		require.True(t, ok, "missing balance for %s", key.AccountPath())
		assert.Zero(t, want.Cmp(got), "balance %s", key.AccountPath())
	}

	require.Len(t, restored.Pools, 1)
	p := restored.Pools[0]
	assert.Equal(t, orig.Pools[0].Index, p.Index)
	assert.Equal(t, orig.Pools[0].Creator, p.Creator)
	assert.Equal(t, pool.StateExecution, p.State)
	assert.Zero(t, orig.Pools[0].LendSupply.Cmp(p.LendSupply))

	require.NotNil(t, p.Settlement)
	assert.Zero(t, orig.Pools[0].Settlement.SettleAmountLend.Cmp(p.Settlement.SettleAmountLend))
	assert.Nil(t, p.Settlement.FinishAmountLend)
	assert.Nil(t, p.Settlement.LiquidationAmountBorrow)

	require.Len(t, restored.LendPositions, 1)
	pos := restored.LendPositions[0]
	assert.Equal(t, orig.LendPositions[0].UserID, pos.UserID)
	assert.Zero(t, orig.LendPositions[0].Refunded.Cmp(pos.Refunded))
	assert.True(t, pos.Settled)
	assert.False(t, pos.Claimed)

	require.Contains(t, restored.Prices, "ETH")
	assert.Zero(t, orig.Prices["ETH"].Price.Cmp(restored.Prices["ETH"].Price))
	assert.Equal(t, int64(88), restored.Prices["ETH"].PriceSequence)

	require.Len(t, restored.Holdings, 1)
	assert.Equal(t, adapter.ClassSP, restored.Holdings[0].Class)

	require.NotNil(t, restored.Config)
	assert.Equal(t, orig.Config.FeeCollector, restored.Config.FeeCollector)
	assert.Zero(t, orig.Config.MinDeposit.Cmp(restored.Config.MinDeposit))

	assert.Equal(t, orig.SequenceState, restored.SequenceState)
	assert.Equal(t, orig.IdempotencyKeys, restored.IdempotencyKeys)
}

func TestSnapshotRejectsBadStateHash(t *testing.T) {
	data := stateToSnapshotData(sampleSnapshotState())
	data.StateHash = data.StateHash[:16]

	_, err := snapshotDataToState(data)
	require.Error(t, err)
}

func TestSnapshotRejectsCorruptBalance(t *testing.T) {
	data := stateToSnapshotData(sampleSnapshotState())
	for path := range data.Balances {
		data.Balances[path] = "not-a-number"
		break
	}

	_, err := snapshotDataToState(data)
	require.Error(t, err)
}

func TestPoolToUpdateOptionalAmounts(t *testing.T) {
	p := sampleSnapshotState().Pools[0]

	u := poolToUpdate(p)
	require.NotNil(t, u)
	assert.Equal(t, "Execution", u.State)
	assert.Equal(t, "8000000", u.SettleAmountLend)
	// Terminal amounts unset until finish or liquidation
	assert.Empty(t, u.TerminalAmountLend)
	assert.Empty(t, u.TerminalAmountBorrow)

	p.State = pool.StateFinish
	p.Settlement.FinishAmountLend = big.NewInt(8_400_000)
	p.Settlement.FinishAmountBorrow = big.NewInt(2_100_000)

	u = poolToUpdate(p)
	assert.Equal(t, "8400000", u.TerminalAmountLend)
	assert.Equal(t, "2100000", u.TerminalAmountBorrow)

	assert.Nil(t, poolToUpdate(nil))
}
