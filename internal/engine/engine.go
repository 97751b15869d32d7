package engine

import (
	"fmt"
	"sort"
	"time"

	"termpool/internal/adapter"
	"termpool/internal/command"
	"termpool/internal/ledger"
	"termpool/internal/observability"
	"termpool/internal/pool"
)

// Engine is the single-threaded deterministic command processor. All
// pool state, positions, balances and oracle prices live in memory;
// persistence and projections consume the output channels.
type Engine struct {
	sequence          int64
	hasher            *StateHasher
	balanceTracker    *ledger.BalanceTracker
	journalGen        *ledger.JournalGenerator
	validator         *ledger.InvariantValidator
	pools             *pool.Registry
	book              *pool.Book
	config            *pool.GlobalConfig
	oracle            *adapter.OracleBook
	venue             adapter.SwapVenue
	custody           adapter.Custody
	claims            adapter.ClaimIssuer
	auth              adapter.Authorizer
	wrappedNative     string
	idempotency       *IdempotencyChecker
	sequenceValidator *SequenceValidator
	metrics           *observability.Metrics

	// busy is the non-reentrancy guard held across custody and swap
	// adapter calls (they may transfer control to external logic).
	busy bool

	persistChan    chan<- Output
	projectionChan chan<- Output
}

// Output is one applied command with its envelope and journal batch.
// Command carries the typed payload so downstream workers can persist
// it in replayable form.
type Output struct {
	Envelope   *command.Envelope
	Command    command.Command
	Batch      *ledger.Batch
	StateDelta []byte

	// Deep copies of the state the command touched, for projections.
	// Nil for global commands.
	Pool           *pool.Pool
	LendPosition   *pool.Position
	BorrowPosition *pool.Position
}

// Dependencies are the external collaborators injected at construction.
type Dependencies struct {
	Oracle        *adapter.OracleBook
	Venue         adapter.SwapVenue
	Custody       adapter.Custody
	Claims        adapter.ClaimIssuer
	Authorizer    adapter.Authorizer
	WrappedNative string
}

func NewEngine(
	startSequence int64,
	persistChan, projectionChan chan<- Output,
	deps Dependencies,
	dbChecker DBIdempotencyChecker,
	metrics *observability.Metrics,
) *Engine {
	balanceTracker := ledger.NewBalanceTracker()

	return &Engine{
		sequence:          startSequence,
		hasher:            NewStateHasher(),
		balanceTracker:    balanceTracker,
		journalGen:        ledger.NewJournalGenerator(startSequence, balanceTracker),
		validator:         ledger.NewInvariantValidator(balanceTracker),
		pools:             pool.NewRegistry(),
		book:              pool.NewBook(),
		config:            pool.DefaultConfig(),
		oracle:            deps.Oracle,
		venue:             deps.Venue,
		custody:           deps.Custody,
		claims:            deps.Claims,
		auth:              deps.Authorizer,
		wrappedNative:     deps.WrappedNative,
		idempotency:       NewIdempotencyChecker(1_000_000, dbChecker),
		sequenceValidator: NewSequenceValidator(),
		metrics:           metrics,
		persistChan:       persistChan,
		projectionChan:    projectionChan,
	}
}

// ProcessCommand is the main processing pipeline
func (e *Engine) ProcessCommand(cmd command.Command) error {
	if e.busy {
		return ErrReentrancy
	}
	e.busy = true
	defer func() { e.busy = false }()

	start := time.Now()
	commandType := cmd.CommandType().String()
	idempotencyKey := cmd.IdempotencyKey()

	// Step 1: Idempotency check (two-tier)
	isDuplicate := e.idempotency.IsDuplicate(commandType, idempotencyKey)

	// Step 2: Sequence validation. Price ticks tolerate gaps; everything
	// else is strictly ordered within its partition.
	if priceCmd, ok := cmd.(*command.PriceUpdate); ok {
		if err := e.sequenceValidator.ValidatePriceSequence(priceCmd.Asset, priceCmd.PriceSequence); err != nil {
			return err
		}
	} else {
		partition := e.getPartition(cmd)
		if err := e.sequenceValidator.ValidateSequence(partition, cmd.SourceSequence(), isDuplicate); err != nil {
			if e.metrics != nil {
				e.metrics.CommandOutOfOrder.WithLabelValues(partition).Inc()
			}
			return fmt.Errorf("sequence validation failed: %w", err)
		}
	}

	// If duplicate, skip processing
	if isDuplicate {
		if e.metrics != nil {
			e.metrics.EngineCommandsRejected.WithLabelValues(commandType, "duplicate").Inc()
		}
		return nil
	}

	// Step 3: Pause guard. ConfigUpdate must stay reachable to unpause;
	// oracle ticks keep flowing so a later unpause settles on fresh prices.
	if e.config.Paused {
		switch cmd.(type) {
		case *command.ConfigUpdate, *command.PriceUpdate:
		default:
			if e.metrics != nil {
				e.metrics.EngineCommandsRejected.WithLabelValues(commandType, "paused").Inc()
			}
			return ErrPaused
		}
	}

	// Step 4: Dispatch
	batch, err := e.dispatchCommand(cmd)
	if err != nil {
		if e.metrics != nil {
			e.metrics.EngineCommandsRejected.WithLabelValues(commandType, "dispatch").Inc()
		}
		return fmt.Errorf("dispatch failed: %w", err)
	}

	// Step 5: Validate and apply. State-only commands (settle, claims,
	// price and config updates) produce no journals but still get an
	// envelope in the log.
	if batch != nil && len(batch.Journals) > 0 {
		if err := e.validator.ValidateBatchBalance(batch); err != nil {
			panic(fmt.Sprintf("FATAL: unbalanced batch: %v", err))
		}

		if err := e.balanceTracker.ApplyBatch(batch); err != nil {
			return fmt.Errorf("apply batch failed: %w", err)
		}
	}

	// Step 6: Digest, hash, envelope
	stateDigest := e.computeStateDigest(cmd, batch)
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, stateDigest)

	envelope := &command.Envelope{
		Sequence:       e.sequence,
		IdempotencyKey: idempotencyKey,
		CommandType:    cmd.CommandType(),
		PoolIndex:      cmd.PoolIndex(),
		Timestamp:      time.Unix(e.getCommandTimestamp(cmd), 0).UTC(),
		SourceSequence: cmd.SourceSequence(),
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := Output{
		Envelope:   envelope,
		Command:    cmd,
		Batch:      batch,
		StateDelta: stateDigest,
	}
	output.Pool, output.LendPosition, output.BorrowPosition = e.collectOutputState(cmd)
	e.sequence++

	// Step 7: Post-checks
	if err := e.postCheckInvariants(cmd); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated: %v", err))
	}

	// Step 8: Emit outputs. Persist channel uses a BLOCKING send
	// (backpressure, no command is lost); projection channel uses a
	// NON-BLOCKING send and drops on full (projections rebuild from the
	// command log).
	e.persistChan <- output

	select {
	case e.projectionChan <- output:
	default:
		if e.metrics != nil {
			e.metrics.ProjectionDrops.WithLabelValues("all").Inc()
		}
	}

	// Step 9: Mark as processed
	e.idempotency.MarkProcessed(commandType, idempotencyKey)

	if e.metrics != nil {
		e.metrics.EngineCommandsApplied.WithLabelValues(commandType).Inc()
		e.metrics.EngineCommandDuration.WithLabelValues(commandType).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
		if batch != nil {
			e.metrics.EngineJournals.WithLabelValues(commandType).Add(float64(len(batch.Journals)))
		}
	}

	return nil
}

func (e *Engine) dispatchCommand(cmd command.Command) (*ledger.Batch, error) {
	switch c := cmd.(type) {
	case *command.PoolCreate:
		return e.handlePoolCreate(c)
	case *command.DepositLend:
		return e.handleDepositLend(c)
	case *command.DepositBorrow:
		return e.handleDepositBorrow(c)
	case *command.Settle:
		return e.handleSettle(c)
	case *command.Finish:
		return e.handleFinish(c)
	case *command.Liquidate:
		return e.handleLiquidate(c)
	case *command.RefundLend:
		return e.handleRefundLend(c)
	case *command.RefundBorrow:
		return e.handleRefundBorrow(c)
	case *command.ClaimLend:
		return e.handleClaimLend(c)
	case *command.ClaimBorrow:
		return e.handleClaimBorrow(c)
	case *command.WithdrawLend:
		return e.handleWithdrawLend(c)
	case *command.WithdrawBorrow:
		return e.handleWithdrawBorrow(c)
	case *command.EmergencyLendWithdrawal:
		return e.handleEmergencyLend(c)
	case *command.EmergencyBorrowWithdrawal:
		return e.handleEmergencyBorrow(c)
	case *command.PriceUpdate:
		return e.handlePriceUpdate(c)
	case *command.ConfigUpdate:
		return e.handleConfigUpdate(c)
	default:
		return nil, fmt.Errorf("unknown command type: %T", cmd)
	}
}

func (e *Engine) getPartition(cmd command.Command) string {
	if idx := cmd.PoolIndex(); idx != nil {
		return fmt.Sprintf("pool:%d", *idx)
	}
	return "global"
}

// getCommandTimestamp extracts the versioned timestamp from a command.
// The engine MUST NOT call time.Now(); all timestamps are inputs.
func (e *Engine) getCommandTimestamp(cmd command.Command) int64 {
	switch c := cmd.(type) {
	case *command.PoolCreate:
		return c.Timestamp
	case *command.DepositLend:
		return c.Timestamp
	case *command.DepositBorrow:
		return c.Timestamp
	case *command.Settle:
		return c.Timestamp
	case *command.Finish:
		return c.Timestamp
	case *command.Liquidate:
		return c.Timestamp
	case *command.RefundLend:
		return c.Timestamp
	case *command.RefundBorrow:
		return c.Timestamp
	case *command.ClaimLend:
		return c.Timestamp
	case *command.ClaimBorrow:
		return c.Timestamp
	case *command.WithdrawLend:
		return c.Timestamp
	case *command.WithdrawBorrow:
		return c.Timestamp
	case *command.EmergencyLendWithdrawal:
		return c.Timestamp
	case *command.EmergencyBorrowWithdrawal:
		return c.Timestamp
	case *command.PriceUpdate:
		return c.PriceTimestamp
	case *command.ConfigUpdate:
		return c.Timestamp
	default:
		panic(fmt.Sprintf("FATAL: getCommandTimestamp called with unhandled command type %T", cmd))
	}
}

// computeStateDigest creates canonical bytes for the state hash:
// affected account balances plus the affected pool's canonical form.
func (e *Engine) computeStateDigest(cmd command.Command, batch *ledger.Batch) []byte {
	affectedAccounts := make(map[ledger.AccountKey]bool)

	if batch != nil {
		for _, j := range batch.Journals {
			affectedAccounts[j.DebitAccount] = true
			affectedAccounts[j.CreditAccount] = true
		}
	}

	accounts := make([]ledger.AccountKey, 0, len(affectedAccounts))
	for key := range affectedAccounts {
		accounts = append(accounts, key)
	}

	sort.Slice(accounts, func(i, j int) bool {
		return accounts[i].AccountPath() < accounts[j].AccountPath()
	})

	digest := make([]byte, 0, len(accounts)*64)

	for _, key := range accounts {
		balance := e.balanceTracker.GetBalance(key)

		path := key.AccountPath()
		digest = append(digest, byte(len(path)))
		digest = append(digest, []byte(path)...)

		digest = append(digest, byte(balance.Sign()+1))
		mag := balance.Bytes()
		digest = append(digest, byte(len(mag)))
		digest = append(digest, mag...)
	}

	if idx := cmd.PoolIndex(); idx != nil {
		if p, err := e.pools.Get(*idx); err == nil {
			digest = append(digest, p.CanonicalBytes()...)
		}
	}

	return digest
}

func (e *Engine) postCheckInvariants(cmd command.Command) error {
	switch c := cmd.(type) {
	case *command.DepositLend:
		p, err := e.pools.Get(c.Pool)
		if err != nil {
			return err
		}
		if sum := e.book.LendStakeSum(c.Pool); sum.Cmp(p.LendSupply) != 0 {
			return fmt.Errorf("lend stake sum %s != supply %s for pool %d", sum, p.LendSupply, c.Pool)
		}

	case *command.DepositBorrow:
		p, err := e.pools.Get(c.Pool)
		if err != nil {
			return err
		}
		if sum := e.book.BorrowStakeSum(c.Pool); sum.Cmp(p.BorrowSupply) != 0 {
			return fmt.Errorf("borrow stake sum %s != supply %s for pool %d", sum, p.BorrowSupply, c.Pool)
		}

	case *command.Settle:
		p, err := e.pools.Get(c.Pool)
		if err != nil {
			return err
		}
		s := p.Settlement
		if s == nil {
			return fmt.Errorf("pool %d settled without settlement record", c.Pool)
		}
		if s.SettleAmountLend.Cmp(p.LendSupply) > 0 {
			return fmt.Errorf("settleAmountLend %s exceeds lendSupply %s", s.SettleAmountLend, p.LendSupply)
		}
		if s.SettleAmountBorrow.Cmp(p.BorrowSupply) > 0 {
			return fmt.Errorf("settleAmountBorrow %s exceeds borrowSupply %s", s.SettleAmountBorrow, p.BorrowSupply)
		}
	}

	// Vault non-negativity for any pool-scoped command.
	if idx := cmd.PoolIndex(); idx != nil {
		if p, err := e.pools.Get(*idx); err == nil {
			if err := e.validator.ValidatePoolVaultsNonNegative(p.Index, p.LendAsset, p.BorrowAsset); err != nil {
				return err
			}
		}
	}

	// Periodic global zero-sum check.
	if e.sequence > 0 && e.sequence%1000 == 0 {
		if err := e.validator.ValidateGlobalBalance(); err != nil {
			return fmt.Errorf("at seq %d: %w", e.sequence, err)
		}
	}

	return nil
}

// --- Read accessors (health, admin, snapshots) ---

// CurrentSequence returns the next sequence to be assigned.
func (e *Engine) CurrentSequence() int64 {
	return e.sequence
}

// StateHash returns the current chain tip.
func (e *Engine) StateHash() [32]byte {
	return e.hasher.GetPrevHash()
}

// Config returns a copy of the live global configuration.
func (e *Engine) Config() *pool.GlobalConfig {
	return e.config.Clone()
}

// PoolCount returns the number of registered pools.
func (e *Engine) PoolCount() int {
	return e.pools.Len()
}
