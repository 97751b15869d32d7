package ingestion

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"

	"termpool/internal/command"
)

// AdminInjectService provides manual command injection for the admin
// surface. It is for operational use, not for high-throughput ingestion
// (use NATS for that). Injected commands are sequenced with the current
// time so they sort after anything already streamed.
type AdminInjectService struct {
	commandChan chan<- command.Command
}

func NewAdminInjectService(commandChan chan<- command.Command) *AdminInjectService {
	return &AdminInjectService{commandChan: commandChan}
}

func (s *AdminInjectService) send(ctx context.Context, cmd command.Command) error {
	select {
	case s.commandChan <- cmd:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InjectSettle queues a settle for the given pool.
func (s *AdminInjectService) InjectSettle(ctx context.Context, caller uuid.UUID, pool uint64, sequence int64) error {
	return s.send(ctx, &command.Settle{
		RequestID: uuid.New(),
		Caller:    caller,
		Pool:      pool,
		Timestamp: time.Now().Unix(),
		Sequence:  sequence,
	})
}

// InjectFinish queues a finish for the given pool.
func (s *AdminInjectService) InjectFinish(ctx context.Context, caller uuid.UUID, pool uint64, sequence int64) error {
	return s.send(ctx, &command.Finish{
		RequestID: uuid.New(),
		Caller:    caller,
		Pool:      pool,
		Timestamp: time.Now().Unix(),
		Sequence:  sequence,
	})
}

// InjectLiquidate queues a liquidation for the given pool.
func (s *AdminInjectService) InjectLiquidate(ctx context.Context, caller uuid.UUID, pool uint64, sequence int64) error {
	return s.send(ctx, &command.Liquidate{
		RequestID: uuid.New(),
		Caller:    caller,
		Pool:      pool,
		Timestamp: time.Now().Unix(),
		Sequence:  sequence,
	})
}

// InjectPrice queues an oracle tick.
func (s *AdminInjectService) InjectPrice(ctx context.Context, asset string, price *big.Int, priceSequence int64) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("price must be positive")
	}

	return s.send(ctx, &command.PriceUpdate{
		Asset:          asset,
		Price:          new(big.Int).Set(price),
		PriceSequence:  priceSequence,
		PriceTimestamp: time.Now().Unix(),
	})
}

// InjectConfigUpdate queues a configuration change.
func (s *AdminInjectService) InjectConfigUpdate(ctx context.Context, cmd *command.ConfigUpdate) error {
	if cmd.RequestID == uuid.Nil {
		cmd.RequestID = uuid.New()
	}
	if cmd.Timestamp == 0 {
		cmd.Timestamp = time.Now().Unix()
	}
	return s.send(ctx, cmd)
}
