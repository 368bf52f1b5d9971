package ledger

import (
	"context"

	"github.com/bastionhq/bastion/pkg/types"
)

// Log is the durable append-only store for processing records
type Log interface {
	// AppendRecord durably records one processing attempt. Records are
	// never updated afterward; retries append new records.
	AppendRecord(ctx context.Context, rec types.ProcessingRecord) error

	// RecentRecords returns up to limit records, newest first
	RecentRecords(ctx context.Context, limit int) ([]types.ProcessingRecord, error)

	// RecordsByCorrelationID returns the records written under one
	// correlation ID
	RecordsByCorrelationID(ctx context.Context, correlationID string) ([]types.ProcessingRecord, error)
}

// Idempotency is the ledger of event IDs that already reached a
// terminal outcome, used to suppress duplicate side effects
type Idempotency interface {
	// RecordOutcome marks an event as terminally processed
	RecordOutcome(ctx context.Context, outcome types.LedgerOutcome) error

	// Outcome returns the recorded outcome for an event ID, ok=false
	// if the event has not completed
	Outcome(ctx context.Context, eventID string) (types.LedgerOutcome, bool, error)
}

// DeadLetters is the durable store for events whose retry budget was
// exhausted, pending operator inspection or replay
type DeadLetters interface {
	// Add stores an entry keyed by event ID. An event appears at most
	// once; a second add for the same event overwrites the first.
	Add(ctx context.Context, entry types.DeadLetterEntry) error

	Get(ctx context.Context, eventID string) (types.DeadLetterEntry, bool, error)
	List(ctx context.Context) ([]types.DeadLetterEntry, error)

	// Remove deletes an entry, used after a successful replay or an
	// operator purge
	Remove(ctx context.Context, eventID string) error

	// Depth returns the number of dead-lettered events
	Depth(ctx context.Context) (int64, error)
}

// Store bundles the three durable concerns behind one handle
type Store interface {
	Log
	Idempotency
	DeadLetters
	Close() error
}
