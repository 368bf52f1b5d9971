package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bastionhq/bastion/pkg/breaker"
	"github.com/bastionhq/bastion/pkg/cachestore"
	"github.com/bastionhq/bastion/pkg/ledger"
	"github.com/bastionhq/bastion/pkg/rolecache"
	"github.com/bastionhq/bastion/pkg/types"
	"github.com/bastionhq/bastion/pkg/webhook"
)

const testSecret = "test-secret"

type serverHarness struct {
	server  *Server
	mux     *webhook.Mux
	store   *ledger.MemLedger
	dir     *rolecache.MemDirectory
	handled []string
}

func newTestServer(t *testing.T) *serverHarness {
	t.Helper()

	store := ledger.NewMemLedger()
	cb := breaker.New("test", breaker.Config{FailureThreshold: 1000, Cooldown: time.Minute, HalfOpenSuccesses: 1})

	orch := webhook.New(webhook.Config{
		SigningSecret:  testSecret,
		MaxRetries:     2,
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  2 * time.Millisecond,
	}, store, cb, nil)

	cacheStore := cachestore.NewMemStore()
	cache := rolecache.New(cacheStore, cb, nil, rolecache.DefaultConfig())
	dir := rolecache.NewMemDirectory()
	roles := rolecache.NewService(dir, cache)

	mux := webhook.NewMux()
	h := &serverHarness{
		mux:   mux,
		store: store,
		dir:   dir,
	}
	mux.Handle("user.created", func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		h.handled = append(h.handled, event.EventID)
		return true, nil
	})

	h.server = NewServer(orch, roles, cb, mux)
	return h
}

// deliver posts a signed webhook and returns the recorder
func (h *serverHarness) deliver(t *testing.T, eventID, eventType string) *httptest.ResponseRecorder {
	t.Helper()
	body := []byte(fmt.Sprintf(`{"event_id":%q,"type":%q,"payload":{"user_id":"alice"}}`, eventID, eventType))
	ts := fmt.Sprintf("%d", time.Now().Unix())

	req := httptest.NewRequest("POST", "/webhooks/identity", bytes.NewReader(body))
	req.Header.Set("X-Event-Timestamp", ts)
	req.Header.Set("X-Signature", webhook.SignHex(testSecret, ts, body))

	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	return w
}

func decodeWebhookResponse(t *testing.T, w *httptest.ResponseRecorder) webhookResponse {
	t.Helper()
	var resp webhookResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	return resp
}

func TestWebhookEndpoint_Success(t *testing.T) {
	h := newTestServer(t)

	w := h.deliver(t, "evt-1", "user.created")
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeWebhookResponse(t, w)
	assert.True(t, resp.Success)
	assert.False(t, resp.Deduplicated)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.Equal(t, []string{"evt-1"}, h.handled)

	// The attempt is on the record
	req := httptest.NewRequest("GET", "/ops/records", nil)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var records []types.ProcessingRecord
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].AttemptNumber)
	assert.Equal(t, types.OutcomeSuccess, records[0].Outcome)
}

func TestWebhookEndpoint_DuplicateDelivery(t *testing.T) {
	h := newTestServer(t)

	first := decodeWebhookResponse(t, h.deliver(t, "evt-1", "user.created"))
	second := decodeWebhookResponse(t, h.deliver(t, "evt-1", "user.created"))

	assert.True(t, second.Success)
	assert.True(t, second.Deduplicated)
	assert.Equal(t, first.CorrelationID, second.CorrelationID)
	assert.Equal(t, []string{"evt-1"}, h.handled, "handler ran once")
}

func TestWebhookEndpoint_InvalidSignature(t *testing.T) {
	h := newTestServer(t)

	body := []byte(`{"event_id":"evt-1","type":"user.created","payload":{}}`)
	ts := fmt.Sprintf("%d", time.Now().Unix())

	req := httptest.NewRequest("POST", "/webhooks/identity", bytes.NewReader(body))
	req.Header.Set("X-Event-Timestamp", ts)
	req.Header.Set("X-Signature", webhook.SignHex("wrong-secret", ts, body))

	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, h.handled)

	resp := decodeWebhookResponse(t, w)
	assert.False(t, resp.Success)
	assert.NotEmpty(t, resp.Error)
}

func TestWebhookEndpoint_StaleTimestamp(t *testing.T) {
	h := newTestServer(t)

	body := []byte(`{"event_id":"evt-1","type":"user.created","payload":{}}`)
	ts := fmt.Sprintf("%d", time.Now().Add(-time.Hour).Unix())

	req := httptest.NewRequest("POST", "/webhooks/identity", bytes.NewReader(body))
	req.Header.Set("X-Event-Timestamp", ts)
	req.Header.Set("X-Signature", webhook.SignHex(testSecret, ts, body))

	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, h.handled)
}

func TestWebhookEndpoint_MalformedEnvelope(t *testing.T) {
	h := newTestServer(t)

	tests := []struct {
		name string
		body string
	}{
		{"not json", "{nope"},
		{"missing event_id", `{"type":"user.created","payload":{}}`},
		{"missing type", `{"event_id":"evt-1","payload":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/webhooks/identity", bytes.NewReader([]byte(tt.body)))
			w := httptest.NewRecorder()
			h.server.Handler().ServeHTTP(w, req)
			assert.Equal(t, http.StatusBadRequest, w.Code)
		})
	}
}

func TestWebhookEndpoint_BodyTooLarge(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest("POST", "/webhooks/identity", bytes.NewReader(make([]byte, maxBodyBytes+1)))
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestWebhookEndpoint_DeadLetterAndReplay(t *testing.T) {
	h := newTestServer(t)

	broken := errors.New("downstream refused")
	h.mux.Handle("billing.charge", func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		return false, broken
	})

	w := h.deliver(t, "evt-1", "billing.charge")
	assert.Equal(t, http.StatusInternalServerError, w.Code)

	// The event is in the dead-letter store
	req := httptest.NewRequest("GET", "/ops/deadletters", nil)
	rec := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var entries []types.DeadLetterEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "evt-1", entries[0].Event.EventID)
	assert.Len(t, entries[0].Attempts, 2)

	// Fix the handler, replay at operator request
	h.mux.Handle("billing.charge", func(ctx context.Context, event types.InboundEvent, correlationID string) (bool, error) {
		return true, nil
	})

	req = httptest.NewRequest("POST", "/ops/deadletters/evt-1/replay", nil)
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decodeWebhookResponse(t, rec)
	assert.True(t, resp.Success)

	// The dead-letter store is empty again
	req = httptest.NewRequest("GET", "/ops/deadletters", nil)
	rec = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(rec, req)
	entries = nil
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&entries))
	assert.Empty(t, entries)
}

func TestReplayEndpoint_UnknownEvent(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest("POST", "/ops/deadletters/evt-unknown/replay", nil)
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRetryAllEndpoint_NotImplemented(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest("POST", "/ops/deadletters/retry-all", nil)
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)

	var resp map[string]string
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, "not_implemented", resp["status"])
}

func TestStatsEndpoint(t *testing.T) {
	h := newTestServer(t)
	h.deliver(t, "evt-1", "user.created")

	req := httptest.NewRequest("GET", "/ops/stats", nil)
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp statsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, int64(1), resp.Processing.Successful)
	assert.Equal(t, types.BreakerClosed, resp.Breaker.Status)
}

func TestRecordsByCorrelationEndpoint(t *testing.T) {
	h := newTestServer(t)

	resp := decodeWebhookResponse(t, h.deliver(t, "evt-1", "user.created"))

	req := httptest.NewRequest("GET", "/ops/records/"+resp.CorrelationID, nil)
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var records []types.ProcessingRecord
	require.NoError(t, json.NewDecoder(w.Body).Decode(&records))
	require.Len(t, records, 1)
	assert.Equal(t, "evt-1", records[0].EventID)

	req = httptest.NewRequest("GET", "/ops/records/no-such-correlation", nil)
	w = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRoleEndpoints(t *testing.T) {
	h := newTestServer(t)

	// Assign
	body := bytes.NewReader([]byte(`{"role":"admin","metadata":{"source":"ops"}}`))
	req := httptest.NewRequest("PUT", "/roles/alice", body)
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	// Resolve: served from the fresh cache
	req = httptest.NewRequest("GET", "/roles/alice", nil)
	w = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var role roleResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&role))
	assert.Equal(t, "admin", role.Role)
	assert.True(t, role.Cached)
	require.NotNil(t, role.Entry)
	assert.Equal(t, int64(1), role.Entry.Version)

	// Revoke
	req = httptest.NewRequest("DELETE", "/roles/alice", nil)
	w = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/roles/alice", nil)
	w = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAssignRoleEndpoint_Validation(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest("PUT", "/roles/alice", bytes.NewReader([]byte(`{"role":""}`)))
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	req = httptest.NewRequest("PUT", "/roles/alice", bytes.NewReader([]byte("{nope")))
	w = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestBatchInvalidateEndpoint(t *testing.T) {
	h := newTestServer(t)

	for _, user := range []string{"alice", "bob"} {
		body := bytes.NewReader([]byte(`{"role":"member"}`))
		req := httptest.NewRequest("PUT", "/roles/"+user, body)
		w := httptest.NewRecorder()
		h.server.Handler().ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
	}

	req := httptest.NewRequest("POST", "/roles/invalidate", bytes.NewReader([]byte(`{"user_ids":["alice","bob"]}`)))
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]int
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 2, resp["invalidated"])

	// An empty batch is accepted
	req = httptest.NewRequest("POST", "/roles/invalidate", bytes.NewReader([]byte(`{"user_ids":[]}`)))
	w = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, 0, resp["invalidated"])
}

func TestHealthAndMetricsEndpoints(t *testing.T) {
	h := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)

	req = httptest.NewRequest("GET", "/metrics", nil)
	w = httptest.NewRecorder()
	h.server.Handler().ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
}
