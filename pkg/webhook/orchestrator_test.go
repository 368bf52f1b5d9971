package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionhq/bastion/pkg/breaker"
	"github.com/bastionhq/bastion/pkg/events"
	"github.com/bastionhq/bastion/pkg/ledger"
	"github.com/bastionhq/bastion/pkg/types"
)

const testSecret = "test-secret"

var testStart = time.Date(2026, 1, 9, 10, 0, 0, 0, time.UTC)

type orchestratorHarness struct {
	orch   *Orchestrator
	store  *ledger.MemLedger
	sleeps []time.Duration
}

func newHarness(t *testing.T, cfg Config) *orchestratorHarness {
	t.Helper()
	if cfg.SigningSecret == "" {
		cfg.SigningSecret = testSecret
	}

	store := ledger.NewMemLedger()
	cb := breaker.New("test", breaker.Config{FailureThreshold: 1000, Cooldown: time.Minute, HalfOpenSuccesses: 1})
	h := &orchestratorHarness{store: store}

	h.orch = New(cfg, store, cb, nil)
	h.orch.now = func() time.Time { return testStart }
	h.orch.sleep = func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	return h
}

// signedRequest builds a delivery with a valid signature over the body
func signedRequest(eventID, eventType string, payload string) Request {
	body := []byte(fmt.Sprintf(`{"event_id":%q,"type":%q,"payload":%s}`, eventID, eventType, payload))
	ts := fmt.Sprintf("%d", testStart.Unix())
	return Request{
		EventID:   eventID,
		Type:      eventType,
		Payload:   json.RawMessage(payload),
		Body:      body,
		Signature: SignHex(testSecret, ts, body),
		Timestamp: ts,
	}
}

func succeedHandler(calls *int) Handler {
	return func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		*calls++
		return true, nil
	}
}

func TestProcessWebhook_Success(t *testing.T) {
	h := newHarness(t, Config{})
	calls := 0

	result := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{"user_id":"alice"}`), succeedHandler(&calls))

	assert.True(t, result.Success)
	assert.False(t, result.Deduplicated)
	assert.False(t, result.Rejected)
	assert.NotEmpty(t, result.CorrelationID)
	assert.Equal(t, 1, calls)

	records, err := h.store.RecentRecords(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].AttemptNumber)
	assert.Equal(t, types.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, result.CorrelationID, records[0].CorrelationID)

	outcome, found, err := h.store.Outcome(context.Background(), "evt-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.True(t, outcome.Success)

	stats := h.orch.ProcessingStats()
	assert.Equal(t, int64(1), stats.TotalProcessed)
	assert.Equal(t, int64(1), stats.Successful)
	assert.Equal(t, int64(0), stats.Failed)
}

func TestProcessWebhook_InvalidSignatureNeverReachesHandler(t *testing.T) {
	h := newHarness(t, Config{})
	calls := 0

	req := signedRequest("evt-1", "user.created", `{}`)
	req.Signature = SignHex("wrong-secret", req.Timestamp, req.Body)

	result := h.orch.ProcessWebhook(context.Background(), req, succeedHandler(&calls))

	assert.True(t, result.Rejected)
	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrInvalidSignature)
	assert.Equal(t, 0, calls)

	// The rejection is durably recorded with attempt number zero
	records, err := h.store.RecentRecords(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].AttemptNumber)
	assert.Equal(t, types.OutcomeFailure, records[0].Outcome)

	// No idempotency entry, no dead letter
	_, found, err := h.store.Outcome(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, found)

	depth, err := h.store.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)

	assert.Equal(t, int64(1), h.orch.ProcessingStats().Rejected)
}

func TestProcessWebhook_StaleTimestampRejected(t *testing.T) {
	h := newHarness(t, Config{SignatureWindow: 5 * time.Minute})
	calls := 0

	req := signedRequest("evt-1", "user.created", `{}`)
	stale := fmt.Sprintf("%d", testStart.Add(-10*time.Minute).Unix())
	req.Timestamp = stale
	req.Signature = SignHex(testSecret, stale, req.Body)

	result := h.orch.ProcessWebhook(context.Background(), req, succeedHandler(&calls))

	assert.True(t, result.Rejected)
	assert.ErrorIs(t, result.Err, ErrTimestampOutsideWindow)
	assert.Equal(t, 0, calls)
}

func TestProcessWebhook_DuplicateDeliverySuppressed(t *testing.T) {
	h := newHarness(t, Config{})
	calls := 0
	handler := succeedHandler(&calls)

	first := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{}`), handler)
	require.True(t, first.Success)
	require.Equal(t, 1, calls)

	second := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{}`), handler)

	assert.True(t, second.Success, "duplicate reports the original outcome")
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.CorrelationID, second.CorrelationID, "duplicate answers with the original correlation ID")
	assert.Equal(t, 1, calls, "handler must not run again")

	// Both deliveries are on the record: the duplicate as attempt zero
	records, err := h.store.RecentRecords(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 0, records[0].AttemptNumber)
	assert.Contains(t, records[0].ErrorDetail, first.CorrelationID)

	assert.Equal(t, int64(1), h.orch.ProcessingStats().Deduplicated)
}

func TestProcessWebhook_FailureThenDeadLetter(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3, RetryBaseDelay: time.Second, RetryMaxDelay: time.Minute})
	calls := 0
	failing := func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		calls++
		return false, errors.New("downstream refused")
	}

	result := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{}`), failing)

	assert.False(t, result.Success)
	assert.ErrorIs(t, result.Err, ErrRetriesExhausted)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, h.sleeps, "backoff doubles per retry")

	// Exactly one dead-letter entry holding the full attempt history
	entries, err := h.orch.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Len(t, entries[0].Attempts, 3)
	for i, attempt := range entries[0].Attempts {
		assert.Equal(t, i+1, attempt.AttemptNumber)
		assert.Equal(t, types.OutcomeFailure, attempt.Outcome)
	}

	// One durable record per attempt, each with its own correlation ID
	records, err := h.store.RecentRecords(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	seen := map[string]bool{}
	for _, rec := range records {
		assert.False(t, seen[rec.CorrelationID], "correlation IDs must be unique per attempt")
		seen[rec.CorrelationID] = true
	}

	// A failed event is not marked processed: redelivery retries it
	_, found, err := h.store.Outcome(context.Background(), "evt-1")
	require.NoError(t, err)
	assert.False(t, found)

	stats := h.orch.ProcessingStats()
	assert.Equal(t, int64(3), stats.TotalProcessed)
	assert.Equal(t, int64(3), stats.Failed)
	assert.Equal(t, int64(2), stats.Retries)
	assert.Equal(t, int64(1), stats.DeadLettered)
	assert.Equal(t, int64(1), stats.DeadLetterDepth)
}

func TestProcessWebhook_TransientFailureRecovers(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	calls := 0
	flaky := func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		calls++
		if calls < 3 {
			return false, errors.New("not yet")
		}
		return true, nil
	}

	result := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{}`), flaky)

	assert.True(t, result.Success)
	assert.Equal(t, 3, calls)

	records, err := h.store.RecentRecords(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, types.OutcomeSuccess, records[0].Outcome)
	assert.Equal(t, 3, records[0].AttemptNumber)

	depth, err := h.store.Depth(context.Background())
	require.NoError(t, err)
	assert.Zero(t, depth)
}

func TestProcessWebhook_HandlerFalseWithoutErrorRetries(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})
	calls := 0
	declining := func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		calls++
		return false, nil
	}

	result := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{}`), declining)

	assert.ErrorIs(t, result.Err, ErrRetriesExhausted)
	assert.Equal(t, 2, calls, "a false return is retried like an error")

	records, err := h.store.RecentRecords(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, ErrHandlerRejected.Error(), records[0].ErrorDetail)
}

func TestProcessWebhook_HandlerPanicIsContained(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})
	panicking := func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		panic("handler went sideways")
	}

	result := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{}`), panicking)

	assert.ErrorIs(t, result.Err, ErrRetriesExhausted)

	records, err := h.store.RecentRecords(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Contains(t, records[0].ErrorDetail, "handler went sideways")
}

func TestProcessWebhook_LedgerAppendFailureIsAbsorbed(t *testing.T) {
	h := newHarness(t, Config{})
	h.store.FailAppends(errors.New("disk full"))
	calls := 0

	result := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{}`), succeedHandler(&calls))

	assert.True(t, result.Success, "a log write failure must not fail the delivery")
	assert.Equal(t, 1, calls)
}

func TestProcessWebhook_InterruptedRetryWaitDeadLetters(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 3})
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	failing := func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		calls++
		cancel()
		return false, errors.New("downstream refused")
	}

	result := h.orch.ProcessWebhook(ctx, signedRequest("evt-1", "user.created", `{}`), failing)

	assert.ErrorIs(t, result.Err, ErrRetriesExhausted)
	assert.Equal(t, 1, calls, "cancellation stops further attempts")

	entries, err := h.orch.DeadLetters(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Len(t, entries[0].Attempts, 1, "the partial history is preserved")
}

func TestBackoffDelay_CappedAtMax(t *testing.T) {
	h := newHarness(t, Config{RetryBaseDelay: time.Second, RetryMaxDelay: 4 * time.Second})

	assert.Equal(t, time.Second, h.orch.backoffDelay(1))
	assert.Equal(t, 2*time.Second, h.orch.backoffDelay(2))
	assert.Equal(t, 4*time.Second, h.orch.backoffDelay(3))
	assert.Equal(t, 4*time.Second, h.orch.backoffDelay(4))
	assert.Equal(t, 4*time.Second, h.orch.backoffDelay(63), "shift overflow falls back to the cap")
}

func TestReplay(t *testing.T) {
	h := newHarness(t, Config{MaxRetries: 2})

	// Dead-letter an event first
	failing := func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		return false, errors.New("downstream refused")
	}
	result := h.orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{}`), failing)
	require.ErrorIs(t, result.Err, ErrRetriesExhausted)

	t.Run("unknown event", func(t *testing.T) {
		_, err := h.orch.Replay(context.Background(), "evt-unknown", failing)
		assert.Error(t, err)
	})

	t.Run("failed replay retains the entry", func(t *testing.T) {
		replayResult, err := h.orch.Replay(context.Background(), "evt-1", failing)
		require.NoError(t, err)
		assert.False(t, replayResult.Success)

		depth, err := h.store.Depth(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(1), depth)
	})

	t.Run("successful replay clears the entry", func(t *testing.T) {
		calls := 0
		replayResult, err := h.orch.Replay(context.Background(), "evt-1", succeedHandler(&calls))
		require.NoError(t, err)
		assert.True(t, replayResult.Success)
		assert.Equal(t, 1, calls)

		depth, err := h.store.Depth(context.Background())
		require.NoError(t, err)
		assert.Zero(t, depth)

		// The replayed event is marked processed: a late redelivery of
		// the original dedupes against it
		outcome, found, err := h.store.Outcome(context.Background(), "evt-1")
		require.NoError(t, err)
		require.True(t, found)
		assert.True(t, outcome.Success)
		assert.Equal(t, replayResult.CorrelationID, outcome.CorrelationID)

		// The replay attempt number continues the dead-lettered history
		records, err := h.store.RecordsByCorrelationID(context.Background(), replayResult.CorrelationID)
		require.NoError(t, err)
		require.Len(t, records, 1)
		assert.Equal(t, 3, records[0].AttemptNumber)
	})
}

func TestProcessWebhook_PublishesLifecycleEvents(t *testing.T) {
	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()
	sub := broker.Subscribe()

	store := ledger.NewMemLedger()
	cb := breaker.New("test", breaker.Config{FailureThreshold: 1000, Cooldown: time.Minute, HalfOpenSuccesses: 1})
	orch := New(Config{SigningSecret: testSecret}, store, cb, broker)
	orch.now = func() time.Time { return testStart }

	calls := 0
	result := orch.ProcessWebhook(context.Background(), signedRequest("evt-1", "user.created", `{"user_id":"alice"}`), succeedHandler(&calls))
	require.True(t, result.Success)

	var got []events.EventType
	for i := 0; i < 2; i++ {
		select {
		case ev := <-sub:
			got = append(got, ev.Type)
			assert.Equal(t, "evt-1", ev.EventID)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out after %d lifecycle events", i)
		}
	}
	assert.Equal(t, []events.EventType{events.EventWebhookReceived, events.EventWebhookCompleted}, got)
}
