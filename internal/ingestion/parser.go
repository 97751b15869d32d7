package ingestion

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/google/uuid"

	"termpool/internal/command"
)

// ParseRawCommand converts a RawCommand (JSON bytes + command type
// string) into a typed command.Command. The ingestion shell validates,
// parses, and converts raw commands before sending to the engine.
func ParseRawCommand(raw RawCommand, commandType string) (command.Command, error) {
	switch commandType {
	case "PoolCreate":
		return parsePoolCreate(raw.Data)
	case "DepositLend":
		return parseDepositLend(raw.Data)
	case "DepositBorrow":
		return parseDepositBorrow(raw.Data)
	case "Settle":
		return parseLifecycle(raw.Data, "Settle")
	case "Finish":
		return parseLifecycle(raw.Data, "Finish")
	case "Liquidate":
		return parseLifecycle(raw.Data, "Liquidate")
	case "RefundLend":
		return parsePosition(raw.Data, "RefundLend")
	case "RefundBorrow":
		return parsePosition(raw.Data, "RefundBorrow")
	case "ClaimLend":
		return parsePosition(raw.Data, "ClaimLend")
	case "ClaimBorrow":
		return parsePosition(raw.Data, "ClaimBorrow")
	case "WithdrawLend":
		return parseWithdraw(raw.Data, "WithdrawLend")
	case "WithdrawBorrow":
		return parseWithdraw(raw.Data, "WithdrawBorrow")
	case "EmergencyLendWithdrawal":
		return parseEmergency(raw.Data, "EmergencyLendWithdrawal")
	case "EmergencyBorrowWithdrawal":
		return parseEmergency(raw.Data, "EmergencyBorrowWithdrawal")
	case "PriceUpdate":
		return parsePriceUpdate(raw.Data)
	case "ConfigUpdate":
		return parseConfigUpdate(raw.Data)
	default:
		return nil, fmt.Errorf("unknown command type: %s", commandType)
	}
}

// --- JSON wire formats ---
// These structs represent the JSON payloads received from NATS. Field
// names use snake_case to match upstream producers. Amounts, rates and
// prices travel as decimal strings so big integers survive the wire.

// parseBig parses a required decimal string into a big integer.
func parseBig(field, value string) (*big.Int, error) {
	if value == "" {
		return nil, fmt.Errorf("missing %s", field)
	}
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		return nil, fmt.Errorf("parse %s: invalid decimal %q", field, value)
	}
	return v, nil
}

// parseBigOptional parses an optional decimal string; empty means nil.
func parseBigOptional(field, value string) (*big.Int, error) {
	if value == "" {
		return nil, nil
	}
	return parseBig(field, value)
}

type poolCreateJSON struct {
	RequestID              string `json:"request_id"`
	Creator                string `json:"creator"`
	SettleTime             int64  `json:"settle_time"`
	EndTime                int64  `json:"end_time"`
	InterestRate           string `json:"interest_rate"`
	MortgageRate           string `json:"mortgage_rate"`
	AutoLiquidateThreshold string `json:"auto_liquidate_threshold"`
	MaxSupply              string `json:"max_supply"`
	LendAsset              string `json:"lend_asset"`
	BorrowAsset            string `json:"borrow_asset"`
	Timestamp              int64  `json:"timestamp"`
	Sequence               int64  `json:"sequence"`
}

func parsePoolCreate(data []byte) (*command.PoolCreate, error) {
	var j poolCreateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PoolCreate: %w", err)
	}

	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	creator, err := uuid.Parse(j.Creator)
	if err != nil {
		return nil, fmt.Errorf("parse creator: %w", err)
	}
	interestRate, err := parseBig("interest_rate", j.InterestRate)
	if err != nil {
		return nil, err
	}
	mortgageRate, err := parseBig("mortgage_rate", j.MortgageRate)
	if err != nil {
		return nil, err
	}
	threshold, err := parseBig("auto_liquidate_threshold", j.AutoLiquidateThreshold)
	if err != nil {
		return nil, err
	}
	maxSupply, err := parseBig("max_supply", j.MaxSupply)
	if err != nil {
		return nil, err
	}

	return &command.PoolCreate{
		RequestID:              requestID,
		Creator:                creator,
		SettleTime:             j.SettleTime,
		EndTime:                j.EndTime,
		InterestRate:           interestRate,
		MortgageRate:           mortgageRate,
		AutoLiquidateThreshold: threshold,
		MaxSupply:              maxSupply,
		LendAsset:              j.LendAsset,
		BorrowAsset:            j.BorrowAsset,
		Timestamp:              j.Timestamp,
		Sequence:               j.Sequence,
	}, nil
}

type depositJSON struct {
	DepositID string `json:"deposit_id"`
	UserID    string `json:"user_id"`
	Pool      uint64 `json:"pool"`
	Amount    string `json:"amount"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parseDepositLend(data []byte) (*command.DepositLend, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositLend: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseBig("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &command.DepositLend{
		DepositID: depositID,
		UserID:    userID,
		Pool:      j.Pool,
		Amount:    amount,
		Timestamp: j.Timestamp,
		Sequence:  j.Sequence,
	}, nil
}

func parseDepositBorrow(data []byte) (*command.DepositBorrow, error) {
	var j depositJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse DepositBorrow: %w", err)
	}
	depositID, err := uuid.Parse(j.DepositID)
	if err != nil {
		return nil, fmt.Errorf("parse deposit_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseBig("amount", j.Amount)
	if err != nil {
		return nil, err
	}
	return &command.DepositBorrow{
		DepositID: depositID,
		UserID:    userID,
		Pool:      j.Pool,
		Amount:    amount,
		Timestamp: j.Timestamp,
		Sequence:  j.Sequence,
	}, nil
}

type lifecycleJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	Pool      uint64 `json:"pool"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parseLifecycle(data []byte, commandType string) (command.Command, error) {
	var j lifecycleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", commandType, err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}

	switch commandType {
	case "Settle":
		return &command.Settle{RequestID: requestID, Caller: caller, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	case "Finish":
		return &command.Finish{RequestID: requestID, Caller: caller, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	case "Liquidate":
		return &command.Liquidate{RequestID: requestID, Caller: caller, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	default:
		return nil, fmt.Errorf("unknown lifecycle command: %s", commandType)
	}
}

type positionJSON struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Pool      uint64 `json:"pool"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parsePosition(data []byte, commandType string) (command.Command, error) {
	var j positionJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", commandType, err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	switch commandType {
	case "RefundLend":
		return &command.RefundLend{RequestID: requestID, UserID: userID, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	case "RefundBorrow":
		return &command.RefundBorrow{RequestID: requestID, UserID: userID, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	case "ClaimLend":
		return &command.ClaimLend{RequestID: requestID, UserID: userID, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	case "ClaimBorrow":
		return &command.ClaimBorrow{RequestID: requestID, UserID: userID, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	default:
		return nil, fmt.Errorf("unknown position command: %s", commandType)
	}
}

type withdrawJSON struct {
	RequestID string `json:"request_id"`
	UserID    string `json:"user_id"`
	Pool      uint64 `json:"pool"`
	Amount    string `json:"amount"` // claim tokens to burn
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parseWithdraw(data []byte, commandType string) (command.Command, error) {
	var j withdrawJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", commandType, err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}
	amount, err := parseBig("amount", j.Amount)
	if err != nil {
		return nil, err
	}

	if commandType == "WithdrawLend" {
		return &command.WithdrawLend{RequestID: requestID, UserID: userID, Pool: j.Pool, Amount: amount, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	}
	return &command.WithdrawBorrow{RequestID: requestID, UserID: userID, Pool: j.Pool, Amount: amount, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
}

type emergencyJSON struct {
	RequestID string `json:"request_id"`
	Caller    string `json:"caller"`
	UserID    string `json:"user_id"`
	Pool      uint64 `json:"pool"`
	Timestamp int64  `json:"timestamp"`
	Sequence  int64  `json:"sequence"`
}

func parseEmergency(data []byte, commandType string) (command.Command, error) {
	var j emergencyJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse %s: %w", commandType, err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	userID, err := uuid.Parse(j.UserID)
	if err != nil {
		return nil, fmt.Errorf("parse user_id: %w", err)
	}

	if commandType == "EmergencyLendWithdrawal" {
		return &command.EmergencyLendWithdrawal{RequestID: requestID, Caller: caller, UserID: userID, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
	}
	return &command.EmergencyBorrowWithdrawal{RequestID: requestID, Caller: caller, UserID: userID, Pool: j.Pool, Timestamp: j.Timestamp, Sequence: j.Sequence}, nil
}

type priceUpdateJSON struct {
	Asset          string `json:"asset"`
	Price          string `json:"price"`
	PriceSequence  int64  `json:"price_sequence"`
	PriceTimestamp int64  `json:"price_timestamp"`
}

func parsePriceUpdate(data []byte) (*command.PriceUpdate, error) {
	var j priceUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse PriceUpdate: %w", err)
	}
	price, err := parseBig("price", j.Price)
	if err != nil {
		return nil, err
	}
	return &command.PriceUpdate{
		Asset:          j.Asset,
		Price:          price,
		PriceSequence:  j.PriceSequence,
		PriceTimestamp: j.PriceTimestamp,
	}, nil
}

type configUpdateJSON struct {
	RequestID    string `json:"request_id"`
	Caller       string `json:"caller"`
	LendFee      string `json:"lend_fee,omitempty"`
	BorrowFee    string `json:"borrow_fee,omitempty"`
	SwapSpread   string `json:"swap_spread,omitempty"`
	MinDeposit   string `json:"min_deposit,omitempty"`
	FeeCollector string `json:"fee_collector,omitempty"`
	Paused       *bool  `json:"paused,omitempty"`
	Timestamp    int64  `json:"timestamp"`
	Sequence     int64  `json:"sequence"`
}

func parseConfigUpdate(data []byte) (*command.ConfigUpdate, error) {
	var j configUpdateJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("parse ConfigUpdate: %w", err)
	}
	requestID, err := uuid.Parse(j.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request_id: %w", err)
	}
	caller, err := uuid.Parse(j.Caller)
	if err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	lendFee, err := parseBigOptional("lend_fee", j.LendFee)
	if err != nil {
		return nil, err
	}
	borrowFee, err := parseBigOptional("borrow_fee", j.BorrowFee)
	if err != nil {
		return nil, err
	}
	swapSpread, err := parseBigOptional("swap_spread", j.SwapSpread)
	if err != nil {
		return nil, err
	}
	minDeposit, err := parseBigOptional("min_deposit", j.MinDeposit)
	if err != nil {
		return nil, err
	}

	var feeCollector *uuid.UUID
	if j.FeeCollector != "" {
		fc, err := uuid.Parse(j.FeeCollector)
		if err != nil {
			return nil, fmt.Errorf("parse fee_collector: %w", err)
		}
		feeCollector = &fc
	}

	return &command.ConfigUpdate{
		RequestID:    requestID,
		Caller:       caller,
		LendFee:      lendFee,
		BorrowFee:    borrowFee,
		SwapSpread:   swapSpread,
		MinDeposit:   minDeposit,
		FeeCollector: feeCollector,
		Paused:       j.Paused,
		Timestamp:    j.Timestamp,
		Sequence:     j.Sequence,
	}, nil
}
