// Package adapter holds the engine's outward-facing ports: oracle
// pricing, the swap venue used at maturity, fund custody, claim token
// issuance, and caller authorization. The engine depends only on the
// interfaces; wiring picks the implementations.
package adapter

import (
	"errors"
	"math/big"

	"github.com/google/uuid"
)

var (
	ErrNoPrice          = errors.New("oracle: no price for asset")
	ErrStalePrice       = errors.New("oracle: stale price sequence")
	ErrSlippageExceeded = errors.New("swap venue: max amount in exceeded")
	ErrEmptyPath        = errors.New("swap venue: empty path")
	ErrUnauthorized     = errors.New("authorizer: caller not authorized")
	ErrInsufficientClaims = errors.New("claim issuer: burn exceeds balance")
)

// ClaimClass distinguishes the senior (lend) and junior (borrow) claim
// tokens of a pool.
type ClaimClass uint8

const (
	ClassSP ClaimClass = iota // senior, lend side
	ClassJP                   // junior, borrow side
)

func (c ClaimClass) String() string {
	switch c {
	case ClassSP:
		return "SP"
	case ClassJP:
		return "JP"
	default:
		return "Unknown"
	}
}

// PriceOracle serves the latest oracle unit prices.
type PriceOracle interface {
	// Price returns the latest price for one asset.
	Price(asset string) (*big.Int, error)

	// Prices returns prices for several assets in input order.
	Prices(assets []string) ([]*big.Int, error)
}

// SwapVenue executes the maturity swap of collateral into the lend asset.
type SwapVenue interface {
	// AmountIn quotes the input needed along path to obtain amountOut.
	AmountIn(path []string, amountOut *big.Int) (*big.Int, error)

	// SwapExactOut obtains exactly amountOut, spending at most
	// maxAmountIn; returns the input actually consumed.
	SwapExactOut(path []string, amountOut, maxAmountIn *big.Int) (*big.Int, error)
}

// Custody moves real funds across the protocol boundary. Receive may
// settle less than requested (transfer taxes); the returned amount is
// what actually arrived and is what the ledger records.
type Custody interface {
	Receive(userID uuid.UUID, asset string, amount *big.Int) (*big.Int, error)
	Release(userID uuid.UUID, asset string, amount *big.Int) error
}

// ClaimIssuer mints and burns per-pool claim tokens.
type ClaimIssuer interface {
	Mint(pool uint64, class ClaimClass, user uuid.UUID, amount *big.Int) error
	Burn(pool uint64, class ClaimClass, user uuid.UUID, amount *big.Int) error
	TotalSupply(pool uint64, class ClaimClass) *big.Int
	BalanceOf(pool uint64, class ClaimClass, user uuid.UUID) *big.Int
}

// Authorizer gates privileged commands (pool creation, settle, finish,
// liquidate, config updates).
type Authorizer interface {
	RequireAuthorized(caller uuid.UUID) error
}
