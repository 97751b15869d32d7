package ingestion

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NATSSubscriber subscribes to NATS JetStream subjects and feeds
// commands into the engine via the commandChan. NATS is the primary
// ingestion surface; each subject maps to one command type.
type NATSSubscriber struct {
	js          jetstream.JetStream
	commandChan chan<- RawCommand
	consumers   []jetstream.ConsumeContext
}

// RawCommand is the parsed-but-untyped command from NATS, ready for the
// shell to validate and convert into a typed command.Command before
// sending to the engine.
type RawCommand struct {
	Subject   string
	Data      []byte
	Timestamp time.Time
	AckFunc   func() // Call to ACK the NATS message after successful processing
	NakFunc   func() // Call to NAK on failure (will be redelivered)
}

// SubjectConfig maps NATS subjects to command types.
type SubjectConfig struct {
	Subject      string
	CommandType  string
	ConsumerName string
	StreamName   string
}

// DefaultSubjects returns the standard subject configuration. Each
// command type gets its own durable consumer so redeliveries stay
// isolated per type.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "termpool.pools.create.>", CommandType: "PoolCreate", ConsumerName: "pool-create", StreamName: "TERMPOOL_POOLS"},
		{Subject: "termpool.deposits.lend.>", CommandType: "DepositLend", ConsumerName: "pool-deposit-lend", StreamName: "TERMPOOL_DEPOSITS"},
		{Subject: "termpool.deposits.borrow.>", CommandType: "DepositBorrow", ConsumerName: "pool-deposit-borrow", StreamName: "TERMPOOL_DEPOSITS"},
		{Subject: "termpool.lifecycle.settle.>", CommandType: "Settle", ConsumerName: "pool-settle", StreamName: "TERMPOOL_LIFECYCLE"},
		{Subject: "termpool.lifecycle.finish.>", CommandType: "Finish", ConsumerName: "pool-finish", StreamName: "TERMPOOL_LIFECYCLE"},
		{Subject: "termpool.lifecycle.liquidate.>", CommandType: "Liquidate", ConsumerName: "pool-liquidate", StreamName: "TERMPOOL_LIFECYCLE"},
		{Subject: "termpool.positions.refund.lend.>", CommandType: "RefundLend", ConsumerName: "pool-refund-lend", StreamName: "TERMPOOL_POSITIONS"},
		{Subject: "termpool.positions.refund.borrow.>", CommandType: "RefundBorrow", ConsumerName: "pool-refund-borrow", StreamName: "TERMPOOL_POSITIONS"},
		{Subject: "termpool.positions.claim.lend.>", CommandType: "ClaimLend", ConsumerName: "pool-claim-lend", StreamName: "TERMPOOL_POSITIONS"},
		{Subject: "termpool.positions.claim.borrow.>", CommandType: "ClaimBorrow", ConsumerName: "pool-claim-borrow", StreamName: "TERMPOOL_POSITIONS"},
		{Subject: "termpool.positions.withdraw.lend.>", CommandType: "WithdrawLend", ConsumerName: "pool-withdraw-lend", StreamName: "TERMPOOL_POSITIONS"},
		{Subject: "termpool.positions.withdraw.borrow.>", CommandType: "WithdrawBorrow", ConsumerName: "pool-withdraw-borrow", StreamName: "TERMPOOL_POSITIONS"},
		{Subject: "termpool.positions.emergency.lend.>", CommandType: "EmergencyLendWithdrawal", ConsumerName: "pool-emergency-lend", StreamName: "TERMPOOL_POSITIONS"},
		{Subject: "termpool.positions.emergency.borrow.>", CommandType: "EmergencyBorrowWithdrawal", ConsumerName: "pool-emergency-borrow", StreamName: "TERMPOOL_POSITIONS"},
		{Subject: "termpool.prices.>", CommandType: "PriceUpdate", ConsumerName: "pool-prices", StreamName: "TERMPOOL_PRICES"},
		{Subject: "termpool.admin.config.>", CommandType: "ConfigUpdate", ConsumerName: "pool-config", StreamName: "TERMPOOL_ADMIN"},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, commandChan chan<- RawCommand) *NATSSubscriber {
	return &NATSSubscriber{
		js:          js,
		commandChan: commandChan,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			raw := RawCommand{
				Subject:   msg.Subject(),
				Data:      msg.Data(),
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
			}

			select {
			case ns.commandChan <- raw:
				// Successfully queued for processing
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		log.Printf("INFO: subscribed to %s (consumer=%s)", cfg.Subject, cfg.ConsumerName)
	}

	return nil
}

// EnsureStreams creates the required JetStream streams if they don't
// exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      "TERMPOOL_POOLS",
			Subjects:  []string{"termpool.pools.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TERMPOOL_DEPOSITS",
			Subjects:  []string{"termpool.deposits.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TERMPOOL_LIFECYCLE",
			Subjects:  []string{"termpool.lifecycle.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TERMPOOL_POSITIONS",
			Subjects:  []string{"termpool.positions.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TERMPOOL_PRICES",
			Subjects:  []string{"termpool.prices.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:      "TERMPOOL_ADMIN",
			Subjects:  []string{"termpool.admin.>"},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		log.Printf("INFO: ensured stream %s", cfg.Name)
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	log.Println("INFO: NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("WARN: NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Println("INFO: NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}

	return nc, js, nil
}
