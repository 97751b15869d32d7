package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"termpool/internal/command"
)

// MarshalCommand serializes a typed command back into the JSON wire
// format accepted by ParseRawCommand. Used when persisting command
// payloads so the log can be replayed through the parser.
func MarshalCommand(cmd command.Command) ([]byte, error) {
	switch c := cmd.(type) {
	case *command.PoolCreate:
		return json.Marshal(poolCreateJSON{
			RequestID:              c.RequestID.String(),
			Creator:                c.Creator.String(),
			SettleTime:             c.SettleTime,
			EndTime:                c.EndTime,
			InterestRate:           c.InterestRate.String(),
			MortgageRate:           c.MortgageRate.String(),
			AutoLiquidateThreshold: c.AutoLiquidateThreshold.String(),
			MaxSupply:              c.MaxSupply.String(),
			LendAsset:              c.LendAsset,
			BorrowAsset:            c.BorrowAsset,
			Timestamp:              c.Timestamp,
			Sequence:               c.Sequence,
		})

	case *command.DepositLend:
		return json.Marshal(depositJSON{
			DepositID: c.DepositID.String(),
			UserID:    c.UserID.String(),
			Pool:      c.Pool,
			Amount:    c.Amount.String(),
			Timestamp: c.Timestamp,
			Sequence:  c.Sequence,
		})

	case *command.DepositBorrow:
		return json.Marshal(depositJSON{
			DepositID: c.DepositID.String(),
			UserID:    c.UserID.String(),
			Pool:      c.Pool,
			Amount:    c.Amount.String(),
			Timestamp: c.Timestamp,
			Sequence:  c.Sequence,
		})

	case *command.Settle:
		return json.Marshal(lifecycleJSON{RequestID: c.RequestID.String(), Caller: c.Caller.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})
	case *command.Finish:
		return json.Marshal(lifecycleJSON{RequestID: c.RequestID.String(), Caller: c.Caller.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})
	case *command.Liquidate:
		return json.Marshal(lifecycleJSON{RequestID: c.RequestID.String(), Caller: c.Caller.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})

	case *command.RefundLend:
		return json.Marshal(positionJSON{RequestID: c.RequestID.String(), UserID: c.UserID.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})
	case *command.RefundBorrow:
		return json.Marshal(positionJSON{RequestID: c.RequestID.String(), UserID: c.UserID.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})
	case *command.ClaimLend:
		return json.Marshal(positionJSON{RequestID: c.RequestID.String(), UserID: c.UserID.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})
	case *command.ClaimBorrow:
		return json.Marshal(positionJSON{RequestID: c.RequestID.String(), UserID: c.UserID.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})

	case *command.WithdrawLend:
		return json.Marshal(withdrawJSON{RequestID: c.RequestID.String(), UserID: c.UserID.String(), Pool: c.Pool, Amount: c.Amount.String(), Timestamp: c.Timestamp, Sequence: c.Sequence})
	case *command.WithdrawBorrow:
		return json.Marshal(withdrawJSON{RequestID: c.RequestID.String(), UserID: c.UserID.String(), Pool: c.Pool, Amount: c.Amount.String(), Timestamp: c.Timestamp, Sequence: c.Sequence})

	case *command.EmergencyLendWithdrawal:
		return json.Marshal(emergencyJSON{RequestID: c.RequestID.String(), Caller: c.Caller.String(), UserID: c.UserID.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})
	case *command.EmergencyBorrowWithdrawal:
		return json.Marshal(emergencyJSON{RequestID: c.RequestID.String(), Caller: c.Caller.String(), UserID: c.UserID.String(), Pool: c.Pool, Timestamp: c.Timestamp, Sequence: c.Sequence})

	case *command.PriceUpdate:
		return json.Marshal(priceUpdateJSON{
			Asset:          c.Asset,
			Price:          c.Price.String(),
			PriceSequence:  c.PriceSequence,
			PriceTimestamp: c.PriceTimestamp,
		})

	case *command.ConfigUpdate:
		j := configUpdateJSON{
			RequestID: c.RequestID.String(),
			Caller:    c.Caller.String(),
			LendFee:   bigString(c.LendFee),
			BorrowFee: bigString(c.BorrowFee),
			SwapSpread: bigString(c.SwapSpread),
			MinDeposit: bigString(c.MinDeposit),
			Paused:    c.Paused,
			Timestamp: c.Timestamp,
			Sequence:  c.Sequence,
		}
		if c.FeeCollector != nil {
			j.FeeCollector = c.FeeCollector.String()
		}
		return json.Marshal(j)
	}

	return nil, fmt.Errorf("marshal command: unknown type %T", cmd)
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}
