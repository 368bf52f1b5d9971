package types

import (
	"encoding/json"
	"time"
)

// InboundEvent is an immutable record of one delivery attempt from the
// event source. It is created on HTTP arrival and never mutated.
type InboundEvent struct {
	EventID           string          `json:"event_id"`
	Type              string          `json:"type"`
	Payload           json.RawMessage `json:"payload"`
	ReceivedSignature string          `json:"received_signature"`
	ReceivedAt        time.Time       `json:"received_at"`
}

// Outcome represents the result of one processing attempt
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// ProcessingRecord is one correlation-scoped attempt to process an
// InboundEvent. Append-only: a retry creates a new record with an
// incremented AttemptNumber, existing records are never updated.
type ProcessingRecord struct {
	CorrelationID string    `json:"correlation_id"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	AttemptNumber int       `json:"attempt_number"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Outcome       Outcome   `json:"outcome"`
	ErrorDetail   string    `json:"error_detail,omitempty"`
	DurationMs    int64     `json:"duration_ms"`
}

// DeadLetterEntry is an InboundEvent plus its full attempt history,
// created only when the retry budget for that event is exhausted.
// At most one entry exists per event ID.
type DeadLetterEntry struct {
	Event    InboundEvent       `json:"event"`
	Attempts []ProcessingRecord `json:"attempts"`
	FailedAt time.Time          `json:"failed_at"`
}

// LedgerOutcome records the terminal result of an event in the
// idempotency ledger, keyed by event ID
type LedgerOutcome struct {
	EventID       string    `json:"event_id"`
	CorrelationID string    `json:"correlation_id"`
	Success       bool      `json:"success"`
	CompletedAt   time.Time `json:"completed_at"`
}

// RoleCacheEntry is the cached projection of a user's role. It is a
// lease, not a durable record: the source of truth remains authoritative
// once the TTL expires or SourceOfTruthSync is false.
type RoleCacheEntry struct {
	UserID            string            `json:"user_id"`
	Role              string            `json:"role"`
	Version           int64             `json:"version"`
	LastSyncedAt      time.Time         `json:"last_synced_at"`
	SourceOfTruthSync bool              `json:"source_of_truth_sync"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// BreakerStatus represents the circuit breaker state
type BreakerStatus string

const (
	BreakerClosed   BreakerStatus = "closed"
	BreakerOpen     BreakerStatus = "open"
	BreakerHalfOpen BreakerStatus = "half_open"
)

// BreakerSnapshot is a read-only view of the breaker's internal state,
// exposed for monitoring. Mutation happens only through Execute.
type BreakerSnapshot struct {
	Status              BreakerStatus `json:"status"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	LastFailureAt       time.Time     `json:"last_failure_at,omitzero"`
	HalfOpenSuccesses   int           `json:"half_open_successes"`
}

// ProcessingStats aggregates orchestrator counters for monitoring
type ProcessingStats struct {
	TotalProcessed  int64 `json:"total_processed"`
	Successful      int64 `json:"successful"`
	Failed          int64 `json:"failed"`
	Retries         int64 `json:"retries"`
	Deduplicated    int64 `json:"deduplicated"`
	Rejected        int64 `json:"rejected"`
	DeadLettered    int64 `json:"dead_lettered"`
	DeadLetterDepth int64 `json:"dead_letter_depth"`
}
