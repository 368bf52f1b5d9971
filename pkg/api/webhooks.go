package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bastionhq/bastion/pkg/webhook"
)

// webhookEnvelope is the JSON body the event source posts
type webhookEnvelope struct {
	EventID string          `json:"event_id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// webhookResponse is returned to the delivery
type webhookResponse struct {
	Success          bool   `json:"success"`
	Deduplicated     bool   `json:"deduplicated,omitempty"`
	CorrelationID    string `json:"correlation_id"`
	ProcessingTimeMs int64  `json:"processing_time_ms"`
	Error            string `json:"error,omitempty"`
}

// handleWebhook accepts one inbound event delivery. 200 on success and
// deduplication, 401 on signature failure, 400 on a malformed envelope
// or timestamp, 500 on processing failure. Dead-lettered events return
// 500 to the immediate delivery: redelivery is the event source's
// responsibility and dead-letter handling is internal.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxBodyBytes {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event envelope")
		return
	}
	if strings.TrimSpace(envelope.EventID) == "" {
		writeError(w, http.StatusBadRequest, "missing event_id")
		return
	}
	if strings.TrimSpace(envelope.Type) == "" {
		writeError(w, http.StatusBadRequest, "missing event type")
		return
	}

	req := webhook.Request{
		EventID:    envelope.EventID,
		Type:       envelope.Type,
		Payload:    envelope.Payload,
		Body:       body,
		Signature:  r.Header.Get("X-Signature"),
		Timestamp:  r.Header.Get("X-Event-Timestamp"),
		ReceivedAt: time.Now().UTC(),
	}

	result := s.orchestrator.ProcessWebhook(r.Context(), req, s.handler.Dispatch)

	switch {
	case result.Rejected:
		status := http.StatusUnauthorized
		if errors.Is(result.Err, webhook.ErrInvalidTimestamp) ||
			errors.Is(result.Err, webhook.ErrTimestampOutsideWindow) {
			status = http.StatusBadRequest
		}
		writeJSON(w, status, webhookResponse{
			CorrelationID:    result.CorrelationID,
			ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
			Error:            result.Err.Error(),
		})

	case result.Success:
		writeJSON(w, http.StatusOK, webhookResponse{
			Success:          true,
			Deduplicated:     result.Deduplicated,
			CorrelationID:    result.CorrelationID,
			ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
		})

	default:
		resp := webhookResponse{
			CorrelationID:    result.CorrelationID,
			ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
		}
		if result.Err != nil {
			resp.Error = result.Err.Error()
		}
		writeJSON(w, http.StatusInternalServerError, resp)
	}
}
