package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/bastionhq/bastion/pkg/types"
	"github.com/bastionhq/bastion/pkg/webhook"
)

// Client wraps the Bastion HTTP API for CLI and tooling usage
type Client struct {
	baseURL       string
	signingSecret string
	httpClient    *http.Client

	// now is injectable so signed deliveries are testable
	now func() time.Time
}

// NewClient creates a new Bastion client. The signing secret is only
// required for event delivery; admin and ops calls work without it.
func NewClient(baseURL, signingSecret string) *Client {
	return &Client{
		baseURL:       baseURL,
		signingSecret: signingSecret,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
		now: time.Now,
	}
}

// DeliveryResult is the server's answer to one event delivery
type DeliveryResult struct {
	Success          bool   `json:"success"`
	Deduplicated     bool   `json:"deduplicated,omitempty"`
	CorrelationID    string `json:"correlation_id"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Error            string `json:"error,omitempty"`
}

// DeliverEvent posts one signed event to the ingestion endpoint. The
// body is signed with HMAC-SHA256 over "<timestamp>.<body>", matching
// what the server verifies.
func (c *Client) DeliverEvent(ctx context.Context, source, eventID, eventType string, payload json.RawMessage) (*DeliveryResult, error) {
	if payload == nil {
		payload = json.RawMessage(`{}`)
	}
	body, err := json.Marshal(struct {
		EventID string          `json:"event_id"`
		Type    string          `json:"type"`
		Payload json.RawMessage `json:"payload"`
	}{EventID: eventID, Type: eventType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("failed to encode event envelope: %w", err)
	}

	ts := strconv.FormatInt(c.now().Unix(), 10)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/webhooks/"+source, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Event-Timestamp", ts)
	req.Header.Set("X-Signature", webhook.SignHex(c.signingSecret, ts, body))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to deliver event: %w", err)
	}
	defer resp.Body.Close()

	var result DeliveryResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("failed to decode delivery response: %w", err)
	}
	return &result, nil
}

// RoleInfo is the resolved role for one user, with the cache entry when
// the answer came from the cache
type RoleInfo struct {
	UserID string                `json:"user_id"`
	Role   string                `json:"role"`
	Cached bool                  `json:"cached"`
	Entry  *types.RoleCacheEntry `json:"entry,omitempty"`
}

// AssignRole sets the user's role
func (c *Client) AssignRole(ctx context.Context, userID, role string, metadata map[string]string) error {
	body, err := json.Marshal(map[string]any{"role": role, "metadata": metadata})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPut, "/roles/"+userID, body, nil)
}

// GetRole resolves the user's role
func (c *Client) GetRole(ctx context.Context, userID string) (*RoleInfo, error) {
	var info RoleInfo
	if err := c.do(ctx, http.MethodGet, "/roles/"+userID, nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// RevokeRole removes the user's role
func (c *Client) RevokeRole(ctx context.Context, userID string) error {
	return c.do(ctx, http.MethodDelete, "/roles/"+userID, nil, nil)
}

// InvalidateRoles drops the cached role for many users at once
func (c *Client) InvalidateRoles(ctx context.Context, userIDs []string) (int, error) {
	body, err := json.Marshal(map[string][]string{"user_ids": userIDs})
	if err != nil {
		return 0, err
	}
	var resp map[string]int
	if err := c.do(ctx, http.MethodPost, "/roles/invalidate", body, &resp); err != nil {
		return 0, err
	}
	return resp["invalidated"], nil
}

// Stats is the aggregate operational state of the service
type Stats struct {
	Processing types.ProcessingStats `json:"processing"`
	Breaker    types.BreakerSnapshot `json:"breaker"`
}

// GetStats fetches processing counters and breaker state
func (c *Client) GetStats(ctx context.Context) (*Stats, error) {
	var stats Stats
	if err := c.do(ctx, http.MethodGet, "/ops/stats", nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// RecentRecords fetches the newest processing records
func (c *Client) RecentRecords(ctx context.Context, limit int) ([]types.ProcessingRecord, error) {
	path := "/ops/records"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var records []types.ProcessingRecord
	if err := c.do(ctx, http.MethodGet, path, nil, &records); err != nil {
		return nil, err
	}
	return records, nil
}

// DeadLetters lists the events parked in the dead-letter store
func (c *Client) DeadLetters(ctx context.Context) ([]types.DeadLetterEntry, error) {
	var entries []types.DeadLetterEntry
	if err := c.do(ctx, http.MethodGet, "/ops/deadletters", nil, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// Replay re-runs one dead-lettered event at operator request
func (c *Client) Replay(ctx context.Context, eventID string) (*DeliveryResult, error) {
	var result DeliveryResult
	if err := c.do(ctx, http.MethodPost, "/ops/deadletters/"+eventID+"/replay", nil, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Healthy reports whether the service answers its health endpoint
func (c *Client) Healthy(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

// do performs one JSON request against the API. Non-2xx responses are
// returned as errors carrying the server's error message.
func (c *Client) do(ctx context.Context, method, path string, body []byte, out any) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if decodeErr := json.NewDecoder(resp.Body).Decode(&apiErr); decodeErr == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, apiErr.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
