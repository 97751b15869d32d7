package projection_test

import (
	"fmt"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"termpool/internal/projection"
)

var (
	testUser  = uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")
	otherUser = uuid.MustParse("660e8400-e29b-41d4-a716-446655440001")
)

func depositOutput(seq int64, user uuid.UUID, poolIndex uint64, amount string) projection.ProjectionOutput {
	idx := poolIndex
	return projection.ProjectionOutput{
		Sequence:    seq,
		CommandType: "DepositLend",
		PoolIndex:   &idx,
		Journals: []projection.JournalEntry{
			{
				DebitAccount:  fmt.Sprintf("pool:%d:lend_vault:USDT", poolIndex),
				CreditAccount: fmt.Sprintf("user:%s:wallet:USDT", user),
				Asset:         "USDT",
				Amount:        amount,
			},
		},
		Timestamp: 1700000000 + seq,
	}
}

func TestActivityRecordAndQuery(t *testing.T) {
	feed := projection.NewActivityProjection(100)

	feed.Record(depositOutput(1, testUser, 3, "1000"))
	feed.Record(depositOutput(2, otherUser, 3, "2000"))
	feed.Record(depositOutput(3, testUser, 5, "3000"))

	entries := feed.QueryByUser(testUser, 10)
	require.Len(t, entries, 2)

	// Newest first
	assert.Equal(t, int64(3), entries[0].Sequence)
	assert.Equal(t, uint64(5), entries[0].PoolIndex)
	assert.Equal(t, "3000", entries[0].Amount)
	assert.Equal(t, int64(1), entries[1].Sequence)

	byPool := feed.QueryByPool(3, 10)
	require.Len(t, byPool, 2)
	assert.Equal(t, otherUser, byPool[0].UserID)
	assert.Equal(t, testUser, byPool[1].UserID)
}

func TestActivityIgnoresNonUserJournals(t *testing.T) {
	feed := projection.NewActivityProjection(100)
	idx := uint64(1)

	feed.Record(projection.ProjectionOutput{
		Sequence:    1,
		CommandType: "Settle",
		PoolIndex:   &idx,
		Journals: []projection.JournalEntry{
			{
				DebitAccount:  "external:payouts:USDT",
				CreditAccount: "pool:1:lend_vault:USDT",
				Asset:         "USDT",
				Amount:        "500",
			},
		},
	})

	assert.Empty(t, feed.QueryByPool(1, 10))
}

func TestActivityQueryLimit(t *testing.T) {
	feed := projection.NewActivityProjection(100)
	for i := int64(1); i <= 20; i++ {
		feed.Record(depositOutput(i, testUser, 1, "100"))
	}

	entries := feed.QueryByUser(testUser, 5)
	require.Len(t, entries, 5)
	assert.Equal(t, int64(20), entries[0].Sequence)
	assert.Equal(t, int64(16), entries[4].Sequence)
}

func TestActivityTrimsOldestBeyondCapacity(t *testing.T) {
	feed := projection.NewActivityProjection(10)
	for i := int64(1); i <= 25; i++ {
		feed.Record(depositOutput(i, testUser, 1, "100"))
	}

	entries := feed.QueryByUser(testUser, 100)
	require.Len(t, entries, 10)
	assert.Equal(t, int64(25), entries[0].Sequence)
	assert.Equal(t, int64(16), entries[9].Sequence)
}
