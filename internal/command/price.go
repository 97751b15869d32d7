// internal/command/price.go
package command

import (
	"fmt"
	"math/big"
)

// PriceUpdate carries an oracle price tick for one asset. Prices use
// their own monotonic sequence per asset and tolerate gaps; a stale tick
// is ignored rather than rejected.
type PriceUpdate struct {
	Asset          string
	Price          *big.Int
	PriceSequence  int64 // Monotonic per asset
	PriceTimestamp int64 // unix seconds (versioned input)
}

func (p *PriceUpdate) IdempotencyKey() string {
	return fmt.Sprintf("%s:price:%d", p.Asset, p.PriceSequence)
}

func (p *PriceUpdate) CommandType() CommandType {
	return CommandTypePriceUpdate
}

func (p *PriceUpdate) PoolIndex() *uint64 {
	return nil // Global command
}

func (p *PriceUpdate) SourceSequence() int64 {
	return p.PriceSequence
}
