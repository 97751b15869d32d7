package adapter

import (
	"errors"
	"math/big"
	"testing"

	"github.com/google/uuid"
)

func TestOracleBook_StaleSequenceIgnored(t *testing.T) {
	o := NewOracleBook()

	if !o.Update("ETH", big.NewInt(2000), 5, 1_700_000_000) {
		t.Fatal("first tick should be accepted")
	}
	if o.Update("ETH", big.NewInt(1900), 5, 1_700_000_001) {
		t.Fatal("duplicate sequence should be dropped")
	}
	if o.Update("ETH", big.NewInt(1900), 4, 1_700_000_002) {
		t.Fatal("stale sequence should be dropped")
	}
	// Gap is fine.
	if !o.Update("ETH", big.NewInt(2100), 9, 1_700_000_003) {
		t.Fatal("gapped sequence should be accepted")
	}

	price, err := o.Price("ETH")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if price.Cmp(big.NewInt(2100)) != 0 {
		t.Fatalf("price = %s, want 2100", price)
	}
}

func TestOracleBook_MissingAsset(t *testing.T) {
	o := NewOracleBook()
	if _, err := o.Price("BTC"); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice, got %v", err)
	}
	o.Update("BTC", big.NewInt(1), 1, 0)
	if _, err := o.Prices([]string{"BTC", "DOGE"}); !errors.Is(err, ErrNoPrice) {
		t.Fatalf("expected ErrNoPrice for batch with missing asset, got %v", err)
	}
}

func TestSpreadVenue_QuoteAndSwap(t *testing.T) {
	o := NewOracleBook()
	o.Update("ETH", big.NewInt(2000), 1, 0)
	o.Update("USDT", big.NewInt(1), 1, 0)

	// 1% spread: buying 2000 USDT costs ceil(1 ETH * 1.01).
	v := NewSpreadVenue(o, big.NewInt(1_000_000))
	path := []string{"ETH", "USDT"}

	in, err := v.AmountIn(path, big.NewInt(2000))
	if err != nil {
		t.Fatalf("AmountIn: %v", err)
	}
	// 2000 * 1 * 1.01 / 2000 = 1.01 -> ceil = 2
	if in.Cmp(big.NewInt(2)) != 0 {
		t.Fatalf("amountIn = %s, want 2", in)
	}

	if _, err := v.SwapExactOut(path, big.NewInt(2000), big.NewInt(1)); !errors.Is(err, ErrSlippageExceeded) {
		t.Fatalf("expected ErrSlippageExceeded, got %v", err)
	}

	got, err := v.SwapExactOut(path, big.NewInt(2000), big.NewInt(2))
	if err != nil {
		t.Fatalf("SwapExactOut: %v", err)
	}
	if got.Cmp(in) != 0 {
		t.Fatalf("consumed %s, want %s", got, in)
	}
}

func TestSpreadVenue_ShortPath(t *testing.T) {
	v := NewSpreadVenue(NewOracleBook(), nil)
	if _, err := v.AmountIn([]string{"ETH"}, big.NewInt(1)); !errors.Is(err, ErrEmptyPath) {
		t.Fatalf("expected ErrEmptyPath, got %v", err)
	}
}

func TestBuildPathSubstitutesWrapped(t *testing.T) {
	path := BuildPath("NATIVE", "USDT", "WNATIVE")
	if path[0] != "WNATIVE" || path[1] != "USDT" {
		t.Fatalf("path = %v", path)
	}
}

func TestTokenBook_MintBurnSupply(t *testing.T) {
	tb := NewTokenBook()
	u1, u2 := uuid.New(), uuid.New()

	if err := tb.Mint(0, ClassSP, u1, big.NewInt(100)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if err := tb.Mint(0, ClassSP, u2, big.NewInt(50)); err != nil {
		t.Fatalf("Mint: %v", err)
	}
	if got := tb.TotalSupply(0, ClassSP); got.Cmp(big.NewInt(150)) != 0 {
		t.Fatalf("supply = %s, want 150", got)
	}
	if got := tb.TotalSupply(0, ClassJP); got.Sign() != 0 {
		t.Fatalf("JP supply should be zero, got %s", got)
	}

	if err := tb.Burn(0, ClassSP, u1, big.NewInt(101)); !errors.Is(err, ErrInsufficientClaims) {
		t.Fatalf("expected ErrInsufficientClaims, got %v", err)
	}
	if err := tb.Burn(0, ClassSP, u1, big.NewInt(40)); err != nil {
		t.Fatalf("Burn: %v", err)
	}
	if got := tb.BalanceOf(0, ClassSP, u1); got.Cmp(big.NewInt(60)) != 0 {
		t.Fatalf("balance = %s, want 60", got)
	}
	if got := tb.TotalSupply(0, ClassSP); got.Cmp(big.NewInt(110)) != 0 {
		t.Fatalf("supply = %s, want 110", got)
	}
}

func TestTokenBook_RestoreHolding(t *testing.T) {
	tb := NewTokenBook()
	u := uuid.New()
	tb.RestoreHolding(Holding{Pool: 3, Class: ClassJP, User: u, Amount: big.NewInt(77)})
	if got := tb.BalanceOf(3, ClassJP, u); got.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("balance = %s, want 77", got)
	}
	if got := tb.TotalSupply(3, ClassJP); got.Cmp(big.NewInt(77)) != 0 {
		t.Fatalf("supply = %s, want 77", got)
	}
	// Restoring again replaces rather than accumulates.
	tb.RestoreHolding(Holding{Pool: 3, Class: ClassJP, User: u, Amount: big.NewInt(30)})
	if got := tb.TotalSupply(3, ClassJP); got.Cmp(big.NewInt(30)) != 0 {
		t.Fatalf("supply after re-restore = %s, want 30", got)
	}
}

func TestSignerSet(t *testing.T) {
	op := uuid.New()
	s := NewSignerSet(op)
	if err := s.RequireAuthorized(op); err != nil {
		t.Fatalf("operator should be authorized: %v", err)
	}
	if err := s.RequireAuthorized(uuid.New()); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	extra := uuid.New()
	s.Add(extra)
	if err := s.RequireAuthorized(extra); err != nil {
		t.Fatalf("added signer should be authorized: %v", err)
	}
}

func TestMemoryCustody_RecordsTransfers(t *testing.T) {
	c := NewMemoryCustody()
	u := uuid.New()

	actual, err := c.Receive(u, "USDT", big.NewInt(500))
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if actual.Cmp(big.NewInt(500)) != 0 {
		t.Fatalf("actual = %s, want 500", actual)
	}
	if err := c.Release(u, "USDT", big.NewInt(200)); err != nil {
		t.Fatalf("Release: %v", err)
	}

	transfers := c.Transfers()
	if len(transfers) != 2 {
		t.Fatalf("transfers = %d, want 2", len(transfers))
	}
	if !transfers[0].Inbound || transfers[1].Inbound {
		t.Fatal("transfer directions wrong")
	}
}
