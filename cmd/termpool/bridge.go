package main

import (
	"context"
	"log"
	"strings"

	"termpool/internal/command"
	"termpool/internal/engine"
	"termpool/internal/ingestion"
	"termpool/internal/persistence"
	"termpool/internal/pool"
	"termpool/internal/projection"
)

// bridgeEngineOutputs converts engine.Output to persistence and
// projection formats. This avoids import cycles between the engine and
// persistence/projection packages.
func bridgeEngineOutputs(
	ctx context.Context,
	persistIn <-chan engine.Output,
	projectionIn <-chan engine.Output,
	persistOut chan<- persistence.EngineOutput,
	projectionOut chan<- projection.ProjectionOutput,
	publishOut chan<- ingestion.PublishableCommand,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case output, ok := <-persistIn:
			if !ok {
				return
			}

			// Persist the command in its wire form so the log can be
			// replayed through the parser on restart.
			payload, err := ingestion.MarshalCommand(output.Command)
			if err != nil {
				log.Printf("ERROR: marshal command payload seq=%d: %v", output.Envelope.Sequence, err)
				payload = []byte("{}")
			}

			var poolIndex *int64
			if output.Envelope.PoolIndex != nil {
				v := int64(*output.Envelope.PoolIndex)
				poolIndex = &v
			}

			pOutput := persistence.EngineOutput{
				CommandRow: persistence.CommandRow{
					Sequence:       output.Envelope.Sequence,
					CommandType:    output.Envelope.CommandType.String(),
					IdempotencyKey: output.Envelope.IdempotencyKey,
					PoolIndex:      poolIndex,
					Payload:        payload,
					StateHash:      output.Envelope.StateHash[:],
					PrevHash:       output.Envelope.PrevHash[:],
					Timestamp:      output.Envelope.Timestamp,
					SourceSequence: output.Envelope.SourceSequence,
				},
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.JournalRows = append(pOutput.JournalRows, persistence.JournalRow{
						JournalID:     j.JournalID.String(),
						BatchID:       j.BatchID.String(),
						CommandRef:    j.CommandRef,
						Sequence:      j.Sequence,
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						Asset:         j.Asset,
						Amount:        j.Amount.String(),
						JournalType:   int32(j.JournalType),
						Timestamp:     j.Timestamp,
					})
				}
			}

			persistOut <- pOutput

			// Also publish outbound
			select {
			case publishOut <- ingestion.PublishableCommand{
				Sequence:       output.Envelope.Sequence,
				CommandType:    output.Envelope.CommandType.String(),
				IdempotencyKey: output.Envelope.IdempotencyKey,
				PoolIndex:      output.Envelope.PoolIndex,
				Payload:        output.Batch,
				StateHash:      output.Envelope.StateHash[:],
				Timestamp:      output.Envelope.Timestamp,
			}:
			default:
				// Drop if publish channel is full
			}

		case output, ok := <-projectionIn:
			if !ok {
				return
			}

			pOutput := projection.ProjectionOutput{
				Sequence:    output.Envelope.Sequence,
				CommandType: output.Envelope.CommandType.String(),
				PoolIndex:   output.Envelope.PoolIndex,
				Pool:        poolToUpdate(output.Pool),
				Timestamp:   output.Envelope.Timestamp.Unix(),
			}

			if output.LendPosition != nil {
				pOutput.Positions = append(pOutput.Positions, positionToUpdate(output.LendPosition, "lend"))
			}
			if output.BorrowPosition != nil {
				pOutput.Positions = append(pOutput.Positions, positionToUpdate(output.BorrowPosition, "borrow"))
			}

			if output.Batch != nil {
				for _, j := range output.Batch.Journals {
					pOutput.Journals = append(pOutput.Journals, projection.JournalEntry{
						DebitAccount:  j.DebitAccount.AccountPath(),
						CreditAccount: j.CreditAccount.AccountPath(),
						Asset:         j.Asset,
						Amount:        j.Amount.String(),
						JournalType:   int32(j.JournalType),
					})
				}
			}

			select {
			case projectionOut <- pOutput:
			default:
				// Drop if the projection channel is full; projections
				// rebuild from the command log
			}
		}
	}
}

func poolToUpdate(p *pool.Pool) *projection.PoolUpdate {
	if p == nil {
		return nil
	}

	u := &projection.PoolUpdate{
		Index:        p.Index,
		State:        p.State.String(),
		LendAsset:    p.LendAsset,
		BorrowAsset:  p.BorrowAsset,
		LendSupply:   p.LendSupply.String(),
		BorrowSupply: p.BorrowSupply.String(),
		SettleTime:   p.SettleTime,
		EndTime:      p.EndTime,
		InterestRate: p.InterestRate.String(),
		MortgageRate: p.MortgageRate.String(),
		Version:      p.Version,
	}

	if s := p.Settlement; s != nil {
		u.SettleAmountLend = bigToString(s.SettleAmountLend)
		u.SettleAmountBorrow = bigToString(s.SettleAmountBorrow)
	}
	terminalLend, terminalBorrow := p.TerminalAmounts()
	u.TerminalAmountLend = bigToString(terminalLend)
	u.TerminalAmountBorrow = bigToString(terminalBorrow)

	return u
}

func positionToUpdate(pos *pool.Position, side string) projection.PositionUpdate {
	return projection.PositionUpdate{
		UserID:  pos.UserID,
		Pool:    pos.Pool,
		Side:    side,
		Stake:   pos.Stake.String(),
		Settled: pos.Settled,
		Claimed: pos.Claimed,
		Version: pos.Version,
	}
}

// runParseLoop parses raw NATS commands and forwards typed commands.
// Messages are acked after the channel send, not after engine
// processing, so backpressure propagates to NATS without AckWait
// expiry during slow processing.
func runParseLoop(ctx context.Context, rawChan <-chan ingestion.RawCommand, typedChan chan<- command.Command) {
	// Subject-prefix lookup from DefaultSubjects; subjects use the ">"
	// wildcard, so match by prefix with the trailing ".>" stripped.
	subjectToType := make(map[string]string)
	for _, cfg := range ingestion.DefaultSubjects() {
		prefix := strings.TrimSuffix(cfg.Subject, ".>")
		subjectToType[prefix] = cfg.CommandType
	}

	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-rawChan:
			if !ok {
				close(typedChan)
				return
			}

			commandType := resolveCommandType(raw.Subject, subjectToType)
			if commandType == "" {
				log.Printf("WARN: unknown NATS subject: %s", raw.Subject)
				raw.AckFunc() // Ack to avoid a redelivery loop
				continue
			}

			cmd, err := ingestion.ParseRawCommand(raw, commandType)
			if err != nil {
				log.Printf("WARN: parse command failed (subject=%s): %v", raw.Subject, err)
				raw.AckFunc() // Unparseable commands are acked but not forwarded
				continue
			}

			select {
			case typedChan <- cmd:
				raw.AckFunc()
			case <-ctx.Done():
				raw.NakFunc()
				return
			}
		}
	}
}

// resolveCommandType finds the command type for a NATS subject by
// matching the longest configured prefix.
func resolveCommandType(subject string, prefixMap map[string]string) string {
	bestMatch := ""
	bestType := ""
	for prefix, cmdType := range prefixMap {
		if strings.HasPrefix(subject, prefix) && len(prefix) > len(bestMatch) {
			bestMatch = prefix
			bestType = cmdType
		}
	}
	return bestType
}

// runEngineLoop is the single goroutine allowed to touch the engine.
// It drains parsed NATS commands, admin injections, and snapshot
// requests.
func runEngineLoop(
	ctx context.Context,
	typedChan <-chan command.Command,
	injectChan <-chan command.Command,
	snapshotReqChan <-chan snapshotRequest,
	eng *engine.Engine,
) {
	for {
		select {
		case <-ctx.Done():
			return

		case cmd, ok := <-typedChan:
			if !ok {
				return
			}
			if err := eng.ProcessCommand(cmd); err != nil {
				log.Printf("ERROR: engine.ProcessCommand failed (type=%s, key=%s): %v",
					cmd.CommandType(), cmd.IdempotencyKey(), err)
				// Already acked; rejections (dedup, gap, validation)
				// are final and not retried via NATS
			}

		case cmd, ok := <-injectChan:
			if !ok {
				return
			}
			if err := eng.ProcessCommand(cmd); err != nil {
				log.Printf("ERROR: engine.ProcessCommand (admin) failed (type=%s, key=%s): %v",
					cmd.CommandType(), cmd.IdempotencyKey(), err)
			}

		case req := <-snapshotReqChan:
			if eng.CurrentSequence() < req.minSequence {
				req.reply <- nil
				continue
			}
			req.reply <- eng.CreateSnapshot()
		}
	}
}
