package pool

import (
	"math/big"
	"testing"

	"github.com/google/uuid"
)

func TestStateTransitions(t *testing.T) {
	cases := []struct {
		from, to State
		ok       bool
	}{
		{StateMatch, StateExecution, true},
		{StateMatch, StateUndone, true},
		{StateMatch, StateFinish, false},
		{StateExecution, StateFinish, true},
		{StateExecution, StateLiquidation, true},
		{StateExecution, StateMatch, false},
		{StateFinish, StateLiquidation, false},
		{StateUndone, StateMatch, false},
		{StateLiquidation, StateFinish, false},
	}
	for _, tc := range cases {
		if got := tc.from.CanTransitionTo(tc.to); got != tc.ok {
			t.Errorf("%s -> %s: got %v, want %v", tc.from, tc.to, got, tc.ok)
		}
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateFinish, StateLiquidation, StateUndone} {
		if !s.Terminal() {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []State{StateMatch, StateExecution} {
		if s.Terminal() {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestRegistryAssignsSequentialIndexes(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < 3; i++ {
		idx := r.Add(&Pool{LendAsset: "USDT", BorrowAsset: NativeAsset})
		if idx != uint64(i) {
			t.Fatalf("index = %d, want %d", idx, i)
		}
	}
	if r.Len() != 3 {
		t.Fatalf("Len = %d, want 3", r.Len())
	}
	if _, err := r.Get(3); err == nil {
		t.Fatal("expected error for out-of-range index")
	}
	p, err := r.Get(1)
	if err != nil {
		t.Fatalf("Get(1): %v", err)
	}
	if p.LendSupply == nil || p.BorrowSupply == nil {
		t.Fatal("Add should initialize supplies")
	}
}

func TestBookStakeSums(t *testing.T) {
	b := NewBook()
	u1, u2 := uuid.New(), uuid.New()

	b.GetOrCreateLend(0, u1).Stake = big.NewInt(100)
	b.GetOrCreateLend(0, u2).Stake = big.NewInt(250)
	b.GetOrCreateLend(1, u1).Stake = big.NewInt(999)
	b.GetOrCreateBorrow(0, u2).Stake = big.NewInt(40)

	if got := b.LendStakeSum(0); got.Cmp(big.NewInt(350)) != 0 {
		t.Fatalf("lend stake sum = %s, want 350", got)
	}
	if got := b.BorrowStakeSum(0); got.Cmp(big.NewInt(40)) != 0 {
		t.Fatalf("borrow stake sum = %s, want 40", got)
	}
	if got := b.LendStakeSum(2); got.Sign() != 0 {
		t.Fatalf("empty pool stake sum = %s, want 0", got)
	}
}

func TestBookGetOrCreateReturnsSamePosition(t *testing.T) {
	b := NewBook()
	u := uuid.New()
	p1 := b.GetOrCreateLend(5, u)
	p1.Stake.SetInt64(7)
	p2 := b.GetOrCreateLend(5, u)
	if p1 != p2 {
		t.Fatal("GetOrCreateLend should return the same position")
	}
	if b.GetBorrow(5, u) != nil {
		t.Fatal("lend position must not leak into the borrow book")
	}
}

func TestPoolCanonicalBytesChangesWithState(t *testing.T) {
	p := &Pool{
		Index:        7,
		LendSupply:   big.NewInt(1000),
		BorrowSupply: big.NewInt(500),
		State:        StateMatch,
	}
	before := string(p.CanonicalBytes())
	p.State = StateExecution
	p.Settlement = &Settlement{
		SettleAmountLend:   big.NewInt(800),
		SettleAmountBorrow: big.NewInt(500),
	}
	after := string(p.CanonicalBytes())
	if before == after {
		t.Fatal("canonical bytes should change with pool state")
	}
}

func TestConfigCloneIsDeep(t *testing.T) {
	c := DefaultConfig()
	c.LendFee.SetInt64(5)
	cp := c.Clone()
	cp.LendFee.SetInt64(9)
	if c.LendFee.Int64() != 5 {
		t.Fatalf("clone mutated original: %d", c.LendFee.Int64())
	}
	var nilCfg *GlobalConfig
	if nilCfg.Clone() == nil {
		t.Fatal("Clone of nil should return defaults")
	}
}
