package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/bastionhq/bastion/pkg/breaker"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/ledger"
	"github.com/bastionhq/bastion/pkg/log"
	"github.com/bastionhq/bastion/pkg/metrics"
	"github.com/bastionhq/bastion/pkg/types"
)

var (
	// ErrHandlerRejected marks a handler that returned false without
	// an error of its own. Treated identically to an error for retry
	// purposes.
	ErrHandlerRejected = errors.New("handler rejected event")

	// ErrRetriesExhausted is returned once an event has been moved to
	// the dead-letter store
	ErrRetriesExhausted = errors.New("retry budget exhausted, event dead-lettered")
)

// Handler is the caller-supplied business logic for one event type.
// A false return and an error are both failures for retry purposes.
type Handler func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error)

// Request is one inbound delivery, already decoded from transport
type Request struct {
	EventID    string
	Type       string
	Payload    json.RawMessage
	Body       []byte
	Signature  string
	Timestamp  string
	ReceivedAt time.Time
}

// Result is the outcome returned to the delivery
type Result struct {
	Success        bool
	Deduplicated   bool
	Rejected       bool
	CorrelationID  string
	ProcessingTime time.Duration
	Err            error
}

// Config controls the orchestrator
type Config struct {
	SigningSecret   string
	SignatureWindow time.Duration
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RetryMaxDelay   time.Duration
	HandlerTimeout  time.Duration
}

// DefaultConfig returns a Config with sensible defaults. The signing
// secret has no default; it must come from configuration.
func DefaultConfig() Config {
	return Config{
		SignatureWindow: 5 * time.Minute,
		MaxRetries:      3,
		RetryBaseDelay:  time.Second,
		RetryMaxDelay:   60 * time.Second,
		HandlerTimeout:  10 * time.Second,
	}
}

// Orchestrator accepts inbound event deliveries, verifies authenticity,
// suppresses duplicates, executes handlers with bounded retries, and
// durably records every outcome
type Orchestrator struct {
	config  Config
	store   ledger.Store
	breaker *breaker.Breaker
	broker  *events.Broker
	logger  zerolog.Logger

	mu    sync.Mutex
	stats types.ProcessingStats

	// now and sleep are injectable so backoff timing is testable
	// without wall-clock waits
	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// New creates an orchestrator
func New(cfg Config, store ledger.Store, cb *breaker.Breaker, broker *events.Broker) *Orchestrator {
	def := DefaultConfig()
	if cfg.SignatureWindow <= 0 {
		cfg.SignatureWindow = def.SignatureWindow
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.RetryBaseDelay <= 0 {
		cfg.RetryBaseDelay = def.RetryBaseDelay
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = def.RetryMaxDelay
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = def.HandlerTimeout
	}

	return &Orchestrator{
		config:  cfg,
		store:   store,
		breaker: cb,
		broker:  broker,
		logger:  log.WithComponent("webhook"),
		now:     time.Now,
		sleep:   sleepContext,
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ProcessWebhook runs one delivery through the full state machine:
// verify, deduplicate, process with retries, dead-letter on
// exhaustion. Every attempt produces exactly one durable log write.
func (o *Orchestrator) ProcessWebhook(ctx context.Context, req Request, handler Handler) Result {
	started := o.now()
	metrics.EventsReceived.WithLabelValues(req.Type).Inc()
	o.publish(events.EventWebhookReceived, req.EventID, "")

	event := types.InboundEvent{
		EventID:           req.EventID,
		Type:              req.Type,
		Payload:           req.Payload,
		ReceivedSignature: req.Signature,
		ReceivedAt:        req.ReceivedAt,
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = started
	}

	// Step 1: authenticity. Invalid signatures are terminal, never
	// retried, and never reach the handler.
	if err := VerifySignature(SignatureInput{
		Secret:          o.config.SigningSecret,
		TimestampHeader: req.Timestamp,
		SignatureHeader: req.Signature,
		Body:            req.Body,
		Now:             started,
		Window:          o.config.SignatureWindow,
	}); err != nil {
		return o.reject(ctx, event, started, err)
	}

	// Step 2: idempotency. A delivery whose event already completed
	// successfully is answered from the ledger without side effects.
	if outcome, found, err := o.store.Outcome(ctx, event.EventID); err != nil {
		o.logger.Warn().Err(err).Str("event_id", event.EventID).Msg("idempotency ledger read failed, proceeding as first delivery")
	} else if found && outcome.Success {
		return o.deduplicate(ctx, event, started, outcome)
	}

	// Steps 3-5: process with bounded retries, dead-letter on
	// exhaustion
	return o.processWithRetries(ctx, event, handler, started)
}

func (o *Orchestrator) reject(ctx context.Context, event types.InboundEvent, started time.Time, cause error) Result {
	correlationID := uuid.New().String()
	finished := o.now()

	o.logger.Warn().
		Str("event_id", event.EventID).
		Str("correlation_id", correlationID).
		Err(cause).
		Msg("security event: webhook delivery rejected")

	// Rejections get a durable record too; attempt number zero marks
	// that the handler was never invoked
	o.appendRecord(ctx, types.ProcessingRecord{
		CorrelationID: correlationID,
		EventID:       event.EventID,
		EventType:     event.Type,
		AttemptNumber: 0,
		StartedAt:     started,
		FinishedAt:    finished,
		Outcome:       types.OutcomeFailure,
		ErrorDetail:   cause.Error(),
		DurationMs:    finished.Sub(started).Milliseconds(),
	})

	o.mu.Lock()
	o.stats.Rejected++
	o.mu.Unlock()
	metrics.EventsRejected.Inc()
	o.publish(events.EventWebhookRejected, event.EventID, correlationID)

	return Result{
		Rejected:       true,
		CorrelationID:  correlationID,
		ProcessingTime: finished.Sub(started),
		Err:            cause,
	}
}

func (o *Orchestrator) deduplicate(ctx context.Context, event types.InboundEvent, started time.Time, original types.LedgerOutcome) Result {
	correlationID := uuid.New().String()
	finished := o.now()

	o.appendRecord(ctx, types.ProcessingRecord{
		CorrelationID: correlationID,
		EventID:       event.EventID,
		EventType:     event.Type,
		AttemptNumber: 0,
		StartedAt:     started,
		FinishedAt:    finished,
		Outcome:       types.OutcomeSuccess,
		ErrorDetail:   fmt.Sprintf("duplicate delivery suppressed, original correlation %s", original.CorrelationID),
		DurationMs:    finished.Sub(started).Milliseconds(),
	})

	o.mu.Lock()
	o.stats.Deduplicated++
	o.mu.Unlock()
	metrics.EventsDeduplicated.Inc()
	o.publish(events.EventWebhookDeduplicated, event.EventID, correlationID)

	// The original outcome is returned to the new delivery
	return Result{
		Success:        original.Success,
		Deduplicated:   true,
		CorrelationID:  original.CorrelationID,
		ProcessingTime: finished.Sub(started),
	}
}

func (o *Orchestrator) processWithRetries(ctx context.Context, event types.InboundEvent, handler Handler, started time.Time) Result {
	var attempts []types.ProcessingRecord

	for attempt := 1; attempt <= o.config.MaxRetries; attempt++ {
		correlationID := uuid.New().String()
		attemptStart := o.now()

		err := o.invokeHandler(ctx, event, handler, correlationID)
		attemptEnd := o.now()

		rec := types.ProcessingRecord{
			CorrelationID: correlationID,
			EventID:       event.EventID,
			EventType:     event.Type,
			AttemptNumber: attempt,
			StartedAt:     attemptStart,
			FinishedAt:    attemptEnd,
			Outcome:       types.OutcomeSuccess,
			DurationMs:    attemptEnd.Sub(attemptStart).Milliseconds(),
		}
		if err != nil {
			rec.Outcome = types.OutcomeFailure
			rec.ErrorDetail = err.Error()
		}
		o.appendRecord(ctx, rec)
		attempts = append(attempts, rec)

		o.mu.Lock()
		o.stats.TotalProcessed++
		o.mu.Unlock()

		if err == nil {
			return o.complete(ctx, event, correlationID, started)
		}

		o.logger.Warn().
			Str("event_id", event.EventID).
			Str("correlation_id", correlationID).
			Int("attempt", attempt).
			Err(err).
			Msg("handler attempt failed")

		o.mu.Lock()
		o.stats.Failed++
		o.mu.Unlock()

		if attempt < o.config.MaxRetries {
			o.mu.Lock()
			o.stats.Retries++
			o.mu.Unlock()
			metrics.EventRetries.Inc()
			o.publish(events.EventWebhookRetried, event.EventID, correlationID)

			if err := o.sleep(ctx, o.backoffDelay(attempt)); err != nil {
				// Shutdown mid-retry: dead-letter with the history so
				// far rather than losing the event
				o.logger.Warn().Str("event_id", event.EventID).Msg("retry wait interrupted")
				return o.deadLetter(ctx, event, attempts, correlationID, started)
			}
		}
	}

	last := attempts[len(attempts)-1]
	return o.deadLetter(ctx, event, attempts, last.CorrelationID, started)
}

// invokeHandler runs the handler through the circuit breaker with the
// configured timeout. A panic, a false return, an error, and a
// circuit-open short-circuit are all failures.
func (o *Orchestrator) invokeHandler(ctx context.Context, event types.InboundEvent, handler Handler, correlationID string) error {
	ctx, cancel := context.WithTimeout(ctx, o.config.HandlerTimeout)
	defer cancel()

	return o.breaker.Execute(ctx, func(ctx context.Context) (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()

		ok, err := handler(ctx, event, correlationID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrHandlerRejected
		}
		return nil
	})
}

func (o *Orchestrator) complete(ctx context.Context, event types.InboundEvent, correlationID string, started time.Time) Result {
	finished := o.now()

	if err := o.store.RecordOutcome(ctx, types.LedgerOutcome{
		EventID:       event.EventID,
		CorrelationID: correlationID,
		Success:       true,
		CompletedAt:   finished,
	}); err != nil {
		// The event is processed; a ledger write failure only risks a
		// redundant re-execution on redelivery
		o.logger.Error().Err(err).Str("event_id", event.EventID).Msg("failed to mark event in idempotency ledger")
	}

	o.mu.Lock()
	o.stats.Successful++
	o.mu.Unlock()
	metrics.EventsProcessed.WithLabelValues("completed").Inc()
	metrics.ProcessingDuration.Observe(finished.Sub(started).Seconds())
	o.publish(events.EventWebhookCompleted, event.EventID, correlationID)

	return Result{
		Success:        true,
		CorrelationID:  correlationID,
		ProcessingTime: finished.Sub(started),
	}
}

func (o *Orchestrator) deadLetter(ctx context.Context, event types.InboundEvent, attempts []types.ProcessingRecord, correlationID string, started time.Time) Result {
	finished := o.now()

	entry := types.DeadLetterEntry{
		Event:    event,
		Attempts: attempts,
		FailedAt: finished,
	}
	if err := o.store.Add(ctx, entry); err != nil {
		o.logger.Error().Err(err).Str("event_id", event.EventID).Msg("failed to write dead-letter entry")
	}

	o.mu.Lock()
	o.stats.DeadLettered++
	o.mu.Unlock()
	metrics.EventsProcessed.WithLabelValues("dead_lettered").Inc()
	metrics.ProcessingDuration.Observe(finished.Sub(started).Seconds())
	o.publish(events.EventWebhookDeadLettered, event.EventID, correlationID)

	o.logger.Error().
		Str("event_id", event.EventID).
		Int("attempts", len(attempts)).
		Msg("event moved to dead-letter store")

	return Result{
		CorrelationID:  correlationID,
		ProcessingTime: finished.Sub(started),
		Err:            ErrRetriesExhausted,
	}
}

// backoffDelay grows geometrically per attempt, capped at the maximum
func (o *Orchestrator) backoffDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := o.config.RetryBaseDelay << (attempt - 1)
	if delay > o.config.RetryMaxDelay || delay <= 0 {
		delay = o.config.RetryMaxDelay
	}
	return delay
}

// appendRecord durably logs one attempt. Log failures are absorbed so
// the delivery still gets its result, but they are loud: the one-write
// -per-attempt contract is the subsystem's core observability promise.
func (o *Orchestrator) appendRecord(ctx context.Context, rec types.ProcessingRecord) {
	if err := o.store.AppendRecord(ctx, rec); err != nil {
		o.logger.Error().
			Err(err).
			Str("correlation_id", rec.CorrelationID).
			Str("event_id", rec.EventID).
			Msg("failed to append processing record")
	}
}

func (o *Orchestrator) publish(t events.EventType, eventID, correlationID string) {
	if o.broker == nil {
		return
	}
	o.broker.Publish(&events.Event{
		Type:          t,
		EventID:       eventID,
		CorrelationID: correlationID,
	})
}

// ProcessingStats returns aggregate counters plus the current
// dead-letter depth when the store can report it
func (o *Orchestrator) ProcessingStats() types.ProcessingStats {
	o.mu.Lock()
	stats := o.stats
	o.mu.Unlock()

	if depth, err := o.store.Depth(context.Background()); err == nil {
		stats.DeadLetterDepth = depth
	}
	return stats
}

// RecentRecords exposes the append-only log for introspection
func (o *Orchestrator) RecentRecords(ctx context.Context, limit int) ([]types.ProcessingRecord, error) {
	return o.store.RecentRecords(ctx, limit)
}

// RecordsByCorrelationID exposes per-attempt tracing
func (o *Orchestrator) RecordsByCorrelationID(ctx context.Context, correlationID string) ([]types.ProcessingRecord, error) {
	return o.store.RecordsByCorrelationID(ctx, correlationID)
}
