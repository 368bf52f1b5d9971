package webhook

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bastionhq/bastion/pkg/types"
)

// Replay re-runs a dead-lettered event through the handler once, at
// operator request. A successful replay marks the event in the
// idempotency ledger and removes the dead-letter entry; a failed
// replay leaves the entry in place for another try.
func (o *Orchestrator) Replay(ctx context.Context, eventID string, handler Handler) (Result, error) {
	entry, found, err := o.store.Get(ctx, eventID)
	if err != nil {
		return Result{}, fmt.Errorf("failed to read dead-letter entry: %w", err)
	}
	if !found {
		return Result{}, fmt.Errorf("no dead-letter entry for event: %s", eventID)
	}

	correlationID := uuid.New().String()
	started := o.now()

	invokeErr := o.invokeHandler(ctx, entry.Event, handler, correlationID)
	finished := o.now()

	rec := types.ProcessingRecord{
		CorrelationID: correlationID,
		EventID:       eventID,
		EventType:     entry.Event.Type,
		AttemptNumber: len(entry.Attempts) + 1,
		StartedAt:     started,
		FinishedAt:    finished,
		Outcome:       types.OutcomeSuccess,
		DurationMs:    finished.Sub(started).Milliseconds(),
	}
	if invokeErr != nil {
		rec.Outcome = types.OutcomeFailure
		rec.ErrorDetail = invokeErr.Error()
	}
	o.appendRecord(ctx, rec)

	if invokeErr != nil {
		o.logger.Warn().
			Str("event_id", eventID).
			Str("correlation_id", correlationID).
			Err(invokeErr).
			Msg("dead-letter replay failed, entry retained")
		return Result{
			CorrelationID:  correlationID,
			ProcessingTime: finished.Sub(started),
			Err:            invokeErr,
		}, nil
	}

	if err := o.store.RecordOutcome(ctx, types.LedgerOutcome{
		EventID:       eventID,
		CorrelationID: correlationID,
		Success:       true,
		CompletedAt:   finished,
	}); err != nil {
		o.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to mark replayed event in idempotency ledger")
	}
	if err := o.store.Remove(ctx, eventID); err != nil {
		o.logger.Error().Err(err).Str("event_id", eventID).Msg("failed to remove dead-letter entry after replay")
	}

	o.mu.Lock()
	o.stats.Successful++
	o.mu.Unlock()

	return Result{
		Success:        true,
		CorrelationID:  correlationID,
		ProcessingTime: finished.Sub(started),
	}, nil
}

// DeadLetters lists the current dead-letter entries for inspection
func (o *Orchestrator) DeadLetters(ctx context.Context) ([]types.DeadLetterEntry, error) {
	return o.store.List(ctx)
}
