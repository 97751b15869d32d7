package projection

import (
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ActivityEntry represents one applied command touching a user account.
type ActivityEntry struct {
	UserID      uuid.UUID
	PoolIndex   uint64
	CommandType string
	Asset       string
	Amount      string // Decimal string, as journaled
	Sequence    int64
	Timestamp   int64
}

// ActivityProjection maintains a queryable in-memory feed of recent
// user activity. Read by the query service; written by the projection
// worker.
type ActivityProjection struct {
	mu      sync.RWMutex
	entries []ActivityEntry
	maxSize int
}

func NewActivityProjection(maxSize int) *ActivityProjection {
	return &ActivityProjection{
		entries: make([]ActivityEntry, 0, maxSize),
		maxSize: maxSize,
	}
}

// Record extracts user-facing activity from an applied command's
// journals. Only journals touching a user wallet produce entries.
func (p *ActivityProjection) Record(output ProjectionOutput) {
	var poolIndex uint64
	if output.PoolIndex != nil {
		poolIndex = *output.PoolIndex
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, j := range output.Journals {
		userID, ok := walletOwner(j.DebitAccount)
		if !ok {
			userID, ok = walletOwner(j.CreditAccount)
		}
		if !ok {
			continue
		}

		p.entries = append(p.entries, ActivityEntry{
			UserID:      userID,
			PoolIndex:   poolIndex,
			CommandType: output.CommandType,
			Asset:       j.Asset,
			Amount:      j.Amount,
			Sequence:    output.Sequence,
			Timestamp:   output.Timestamp,
		})
	}

	if over := len(p.entries) - p.maxSize; over > 0 {
		p.entries = append(p.entries[:0:0], p.entries[over:]...)
	}
}

// QueryByUser returns the most recent activity for a user, newest first.
func (p *ActivityProjection) QueryByUser(userID uuid.UUID, limit int) []ActivityEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ActivityEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].UserID == userID {
			result = append(result, p.entries[i])
		}
	}
	return result
}

// QueryByPool returns the most recent activity in a pool, newest first.
func (p *ActivityProjection) QueryByPool(poolIndex uint64, limit int) []ActivityEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()

	result := make([]ActivityEntry, 0)
	for i := len(p.entries) - 1; i >= 0 && len(result) < limit; i-- {
		if p.entries[i].PoolIndex == poolIndex {
			result = append(result, p.entries[i])
		}
	}
	return result
}

// walletOwner parses "user:{uuid}:wallet:{asset}" account paths.
func walletOwner(accountPath string) (uuid.UUID, bool) {
	parts := strings.Split(accountPath, ":")
	if len(parts) != 4 || parts[0] != "user" || parts[2] != "wallet" {
		return uuid.UUID{}, false
	}
	id, err := uuid.Parse(parts[1])
	if err != nil {
		return uuid.UUID{}, false
	}
	return id, true
}
