package ingestion_test

import (
	"math/big"
	"testing"

	"github.com/google/uuid"

	"termpool/internal/command"
	"termpool/internal/ingestion"
)

// reparse runs a marshalled payload back through the parser, which is
// exactly what command log replay does on restart.
func reparse(t *testing.T, cmd command.Command) command.Command {
	t.Helper()
	data, err := ingestion.MarshalCommand(cmd)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	parsed, err := ingestion.ParseRawCommand(ingestion.RawCommand{Data: data}, cmd.CommandType().String())
	if err != nil {
		t.Fatalf("reparse: %v", err)
	}
	return parsed
}

func TestMarshalPoolCreateRoundTrip(t *testing.T) {
	orig := &command.PoolCreate{
		RequestID:              uuid.MustParse("550e8400-e29b-41d4-a716-446655440000"),
		Creator:                uuid.MustParse("660e8400-e29b-41d4-a716-446655440001"),
		SettleTime:             1700000000,
		EndTime:                1715000000,
		InterestRate:           big.NewInt(10_000_000),
		MortgageRate:           big.NewInt(150_000_000),
		AutoLiquidateThreshold: big.NewInt(10_000_000),
		MaxSupply:              mustBig(t, "1000000000000000000000"),
		LendAsset:              "USDT",
		BorrowAsset:            "ETH",
		Timestamp:              1699990000,
		Sequence:               42,
	}

	parsed, ok := reparse(t, orig).(*command.PoolCreate)
	if !ok {
		t.Fatalf("wrong type after round trip")
	}

	if parsed.RequestID != orig.RequestID || parsed.Creator != orig.Creator {
		t.Errorf("identity fields changed: %v %v", parsed.RequestID, parsed.Creator)
	}
	// Supply above int64 range must survive the string encoding.
	if parsed.MaxSupply.Cmp(orig.MaxSupply) != 0 {
		t.Errorf("max_supply: got %s, want %s", parsed.MaxSupply, orig.MaxSupply)
	}
	if parsed.SettleTime != orig.SettleTime || parsed.EndTime != orig.EndTime {
		t.Errorf("times changed: %d %d", parsed.SettleTime, parsed.EndTime)
	}
	if parsed.Sequence != 42 {
		t.Errorf("sequence: got %d", parsed.Sequence)
	}
}

func TestMarshalWithdrawRoundTrip(t *testing.T) {
	orig := &command.WithdrawLend{
		RequestID: uuid.MustParse("770e8400-e29b-41d4-a716-446655440002"),
		UserID:    uuid.MustParse("880e8400-e29b-41d4-a716-446655440003"),
		Pool:      9,
		Amount:    big.NewInt(123_456_789),
		Timestamp: 1700000500,
		Sequence:  7,
	}

	parsed, ok := reparse(t, orig).(*command.WithdrawLend)
	if !ok {
		t.Fatalf("wrong type after round trip")
	}
	if parsed.Pool != 9 || parsed.Amount.Cmp(orig.Amount) != 0 {
		t.Errorf("got pool=%d amount=%s", parsed.Pool, parsed.Amount)
	}
	if parsed.IdempotencyKey() != orig.IdempotencyKey() {
		t.Errorf("idempotency key changed: %s", parsed.IdempotencyKey())
	}
}

func TestMarshalPriceUpdateRoundTrip(t *testing.T) {
	orig := &command.PriceUpdate{
		Asset:          "ETH",
		Price:          big.NewInt(245_000_000_000),
		PriceSequence:  991,
		PriceTimestamp: 1700001000,
	}

	parsed, ok := reparse(t, orig).(*command.PriceUpdate)
	if !ok {
		t.Fatalf("wrong type after round trip")
	}
	if parsed.Asset != "ETH" || parsed.Price.Cmp(orig.Price) != 0 {
		t.Errorf("got asset=%s price=%s", parsed.Asset, parsed.Price)
	}
	if parsed.PriceSequence != 991 {
		t.Errorf("price sequence: got %d", parsed.PriceSequence)
	}
}

func TestMarshalConfigUpdateSparse(t *testing.T) {
	// Only lend_fee and paused set; everything else must stay nil
	// through the round trip so the engine leaves it unchanged.
	paused := true
	orig := &command.ConfigUpdate{
		RequestID: uuid.MustParse("990e8400-e29b-41d4-a716-446655440004"),
		Caller:    uuid.MustParse("aa0e8400-e29b-41d4-a716-446655440005"),
		LendFee:   big.NewInt(500_000),
		Paused:    &paused,
		Timestamp: 1700002000,
		Sequence:  3,
	}

	parsed, ok := reparse(t, orig).(*command.ConfigUpdate)
	if !ok {
		t.Fatalf("wrong type after round trip")
	}
	if parsed.LendFee == nil || parsed.LendFee.Cmp(orig.LendFee) != 0 {
		t.Errorf("lend_fee: got %v", parsed.LendFee)
	}
	if parsed.BorrowFee != nil || parsed.SwapSpread != nil || parsed.MinDeposit != nil || parsed.FeeCollector != nil {
		t.Errorf("unset fields should stay nil: %+v", parsed)
	}
	if parsed.Paused == nil || !*parsed.Paused {
		t.Errorf("paused: got %v", parsed.Paused)
	}
}

func TestMarshalUnknownType(t *testing.T) {
	if _, err := ingestion.MarshalCommand(nil); err == nil {
		t.Fatal("expected error for nil command")
	}
}

func mustBig(t *testing.T, s string) *big.Int {
	t.Helper()
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		t.Fatalf("bad decimal: %s", s)
	}
	return v
}
