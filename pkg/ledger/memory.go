package ledger

import (
	"context"
	"sync"

	"github.com/bastionhq/bastion/pkg/types"
)

// MemLedger is an in-memory Store for tests
type MemLedger struct {
	mu          sync.Mutex
	records     []types.ProcessingRecord
	outcomes    map[string]types.LedgerOutcome
	deadLetters map[string]types.DeadLetterEntry

	// failAppends forces AppendRecord to fail, exercising the
	// absorbed-log-failure path
	failAppends error
}

// NewMemLedger creates an empty in-memory ledger
func NewMemLedger() *MemLedger {
	return &MemLedger{
		outcomes:    make(map[string]types.LedgerOutcome),
		deadLetters: make(map[string]types.DeadLetterEntry),
	}
}

// FailAppends makes subsequent AppendRecord calls return err
func (l *MemLedger) FailAppends(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failAppends = err
}

func (l *MemLedger) AppendRecord(ctx context.Context, rec types.ProcessingRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.failAppends != nil {
		return l.failAppends
	}
	l.records = append(l.records, rec)
	return nil
}

func (l *MemLedger) RecentRecords(ctx context.Context, limit int) ([]types.ProcessingRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if limit <= 0 {
		limit = 50
	}

	var records []types.ProcessingRecord
	for i := len(l.records) - 1; i >= 0 && len(records) < limit; i-- {
		records = append(records, l.records[i])
	}
	return records, nil
}

func (l *MemLedger) RecordsByCorrelationID(ctx context.Context, correlationID string) ([]types.ProcessingRecord, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var records []types.ProcessingRecord
	for _, rec := range l.records {
		if rec.CorrelationID == correlationID {
			records = append(records, rec)
		}
	}
	return records, nil
}

func (l *MemLedger) RecordOutcome(ctx context.Context, outcome types.LedgerOutcome) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.outcomes[outcome.EventID] = outcome
	return nil
}

func (l *MemLedger) Outcome(ctx context.Context, eventID string) (types.LedgerOutcome, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	outcome, ok := l.outcomes[eventID]
	return outcome, ok, nil
}

func (l *MemLedger) Add(ctx context.Context, entry types.DeadLetterEntry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.deadLetters[entry.Event.EventID] = entry
	return nil
}

func (l *MemLedger) Get(ctx context.Context, eventID string) (types.DeadLetterEntry, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.deadLetters[eventID]
	return entry, ok, nil
}

func (l *MemLedger) List(ctx context.Context) ([]types.DeadLetterEntry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := make([]types.DeadLetterEntry, 0, len(l.deadLetters))
	for _, entry := range l.deadLetters {
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *MemLedger) Remove(ctx context.Context, eventID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.deadLetters, eventID)
	return nil
}

func (l *MemLedger) Depth(ctx context.Context) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int64(len(l.deadLetters)), nil
}

func (l *MemLedger) Close() error {
	return nil
}
