package adapter

import (
	"fmt"
	"math/big"
)

// PriceState is the latest accepted tick for one asset.
type PriceState struct {
	Price         *big.Int
	PriceSequence int64
	Timestamp     int64 // unix seconds, versioned input
}

// OracleBook is the in-memory price oracle fed by PriceUpdate commands.
// Ticks carry their own per-asset sequence; gaps are accepted, stale or
// duplicate sequences are silently ignored.
type OracleBook struct {
	prices map[string]*PriceState
}

func NewOracleBook() *OracleBook {
	return &OracleBook{prices: make(map[string]*PriceState)}
}

// Update records a tick. Returns false when the tick is stale and was
// dropped.
func (o *OracleBook) Update(asset string, price *big.Int, sequence, timestamp int64) bool {
	current := o.prices[asset]
	if current != nil && sequence <= current.PriceSequence {
		return false
	}
	o.prices[asset] = &PriceState{
		Price:         new(big.Int).Set(price),
		PriceSequence: sequence,
		Timestamp:     timestamp,
	}
	return true
}

func (o *OracleBook) Price(asset string) (*big.Int, error) {
	state := o.prices[asset]
	if state == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoPrice, asset)
	}
	return new(big.Int).Set(state.Price), nil
}

func (o *OracleBook) Prices(assets []string) ([]*big.Int, error) {
	out := make([]*big.Int, len(assets))
	for i, asset := range assets {
		price, err := o.Price(asset)
		if err != nil {
			return nil, err
		}
		out[i] = price
	}
	return out, nil
}

// Sequence returns the last accepted sequence for an asset (0 if none).
func (o *OracleBook) Sequence(asset string) int64 {
	state := o.prices[asset]
	if state == nil {
		return 0
	}
	return state.PriceSequence
}

// Snapshot returns all price states (snapshot creation).
func (o *OracleBook) Snapshot() map[string]*PriceState {
	out := make(map[string]*PriceState, len(o.prices))
	for asset, state := range o.prices {
		out[asset] = &PriceState{
			Price:         new(big.Int).Set(state.Price),
			PriceSequence: state.PriceSequence,
			Timestamp:     state.Timestamp,
		}
	}
	return out
}

// Restore directly sets a price state (snapshot restore).
func (o *OracleBook) Restore(asset string, state *PriceState) {
	o.prices[asset] = state
}
