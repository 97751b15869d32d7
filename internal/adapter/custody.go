package adapter

import (
	"math/big"

	"github.com/google/uuid"
)

// Transfer is one recorded custody movement.
type Transfer struct {
	UserID  uuid.UUID
	Asset   string
	Amount  *big.Int
	Inbound bool
}

// MemoryCustody records transfers in memory and settles them at face
// value. Deposits reaching the engine have already been escrowed
// upstream, so the default deployment uses this implementation; tests
// inspect its log.
type MemoryCustody struct {
	transfers []Transfer
}

func NewMemoryCustody() *MemoryCustody {
	return &MemoryCustody{}
}

func (c *MemoryCustody) Receive(userID uuid.UUID, asset string, amount *big.Int) (*big.Int, error) {
	actual := new(big.Int).Set(amount)
	c.transfers = append(c.transfers, Transfer{
		UserID:  userID,
		Asset:   asset,
		Amount:  actual,
		Inbound: true,
	})
	return actual, nil
}

func (c *MemoryCustody) Release(userID uuid.UUID, asset string, amount *big.Int) error {
	c.transfers = append(c.transfers, Transfer{
		UserID: userID,
		Asset:  asset,
		Amount: new(big.Int).Set(amount),
	})
	return nil
}

// Transfers returns the recorded movements in order.
func (c *MemoryCustody) Transfers() []Transfer {
	return c.transfers
}
