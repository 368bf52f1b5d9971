package api

import (
	"net/http"
	"strconv"

	"github.com/bastionhq/bastion/pkg/types"
)

// statsResponse aggregates the operational counters from every
// subsystem for external polling. Purely derived, no independent state.
type statsResponse struct {
	Processing types.ProcessingStats `json:"processing"`
	Breaker    types.BreakerSnapshot `json:"breaker"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, statsResponse{
		Processing: s.orchestrator.ProcessingStats(),
		Breaker:    s.breaker.Snapshot(),
	})
}

func (s *Server) handleRecentRecords(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	records, err := s.orchestrator.RecentRecords(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read processing records")
		return
	}
	if records == nil {
		records = []types.ProcessingRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleRecordsByCorrelation(w http.ResponseWriter, r *http.Request) {
	correlationID := r.PathValue("correlationID")

	records, err := s.orchestrator.RecordsByCorrelationID(r.Context(), correlationID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read processing records")
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusNotFound, "no records for correlation ID")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	entries, err := s.orchestrator.DeadLetters(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dead-letter store")
		return
	}
	if entries == nil {
		entries = []types.DeadLetterEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleReplay(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("eventID")

	result, err := s.orchestrator.Replay(r.Context(), eventID, s.handler.Dispatch)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	resp := webhookResponse{
		Success:          result.Success,
		CorrelationID:    result.CorrelationID,
		ProcessingTimeMs: result.ProcessingTime.Milliseconds(),
	}
	if result.Err != nil {
		resp.Error = result.Err.Error()
		writeJSON(w, http.StatusInternalServerError, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleRetryAll is a declared-but-unimplemented bulk action: it
// answers explicitly rather than failing, so operator tooling can probe
// for it safely
func (s *Server) handleRetryAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotImplemented, map[string]string{
		"status":  "not_implemented",
		"message": "bulk dead-letter retry is not available yet; replay entries individually",
	})
}
