package ledger

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"path/filepath"

	bolt "go.etcd.io/bbolt"

	"github.com/bastionhq/bastion/pkg/types"
)

var (
	// Bucket names
	bucketRecords     = []byte("processing_records")
	bucketCorrelation = []byte("records_by_correlation")
	bucketIdempotency = []byte("idempotency")
	bucketDeadLetters = []byte("dead_letters")
)

// BoltLedger implements Store using BoltDB
type BoltLedger struct {
	db *bolt.DB
}

// NewBoltLedger creates a new BoltDB-backed ledger
func NewBoltLedger(dataDir string) (*BoltLedger, error) {
	dbPath := filepath.Join(dataDir, "ledger.db")

	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		buckets := [][]byte{
			bucketRecords,
			bucketCorrelation,
			bucketIdempotency,
			bucketDeadLetters,
		}
		for _, bucket := range buckets {
			if _, err := tx.CreateBucketIfNotExists(bucket); err != nil {
				return fmt.Errorf("failed to create bucket %s: %w", bucket, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &BoltLedger{db: db}, nil
}

// Close closes the database
func (l *BoltLedger) Close() error {
	return l.db.Close()
}

// AppendRecord writes one processing record and its correlation index
// entry in a single transaction
func (l *BoltLedger) AppendRecord(ctx context.Context, rec types.ProcessingRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRecords)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}

		key := make([]byte, 8)
		binary.BigEndian.PutUint64(key, seq)
		if err := b.Put(key, data); err != nil {
			return err
		}

		// One attempt, one correlation ID: the index maps directly to
		// the record's sequence key
		idx := tx.Bucket(bucketCorrelation)
		return idx.Put([]byte(rec.CorrelationID), key)
	})
}

func (l *BoltLedger) RecentRecords(ctx context.Context, limit int) ([]types.ProcessingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}

	var records []types.ProcessingRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketRecords).Cursor()
		for k, v := c.Last(); k != nil && len(records) < limit; k, v = c.Prev() {
			var rec types.ProcessingRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func (l *BoltLedger) RecordsByCorrelationID(ctx context.Context, correlationID string) ([]types.ProcessingRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var records []types.ProcessingRecord
	err := l.db.View(func(tx *bolt.Tx) error {
		key := tx.Bucket(bucketCorrelation).Get([]byte(correlationID))
		if key == nil {
			return nil
		}
		data := tx.Bucket(bucketRecords).Get(key)
		if data == nil {
			return nil
		}
		var rec types.ProcessingRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return err
		}
		records = append(records, rec)
		return nil
	})
	return records, err
}

// Idempotency operations
func (l *BoltLedger) RecordOutcome(ctx context.Context, outcome types.LedgerOutcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(outcome)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketIdempotency).Put([]byte(outcome.EventID), data)
	})
}

func (l *BoltLedger) Outcome(ctx context.Context, eventID string) (types.LedgerOutcome, bool, error) {
	var outcome types.LedgerOutcome
	if err := ctx.Err(); err != nil {
		return outcome, false, err
	}

	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketIdempotency).Get([]byte(eventID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &outcome); err != nil {
			return err
		}
		found = true
		return nil
	})
	return outcome, found, err
}

// Dead-letter operations
func (l *BoltLedger) Add(ctx context.Context, entry types.DeadLetterEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		data, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		return tx.Bucket(bucketDeadLetters).Put([]byte(entry.Event.EventID), data)
	})
}

func (l *BoltLedger) Get(ctx context.Context, eventID string) (types.DeadLetterEntry, bool, error) {
	var entry types.DeadLetterEntry
	if err := ctx.Err(); err != nil {
		return entry, false, err
	}

	var found bool
	err := l.db.View(func(tx *bolt.Tx) error {
		data := tx.Bucket(bucketDeadLetters).Get([]byte(eventID))
		if data == nil {
			return nil
		}
		if err := json.Unmarshal(data, &entry); err != nil {
			return err
		}
		found = true
		return nil
	})
	return entry, found, err
}

func (l *BoltLedger) List(ctx context.Context) ([]types.DeadLetterEntry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entries []types.DeadLetterEntry
	err := l.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeadLetters).ForEach(func(k, v []byte) error {
			var entry types.DeadLetterEntry
			if err := json.Unmarshal(v, &entry); err != nil {
				return err
			}
			entries = append(entries, entry)
			return nil
		})
	})
	return entries, err
}

func (l *BoltLedger) Remove(ctx context.Context, eventID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return l.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDeadLetters).Delete([]byte(eventID))
	})
}

func (l *BoltLedger) Depth(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	var depth int64
	err := l.db.View(func(tx *bolt.Tx) error {
		depth = int64(tx.Bucket(bucketDeadLetters).Stats().KeyN)
		return nil
	})
	return depth, err
}
