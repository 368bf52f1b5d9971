package api

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/bastionhq/bastion/pkg/types"
)

type assignRoleRequest struct {
	Role     string            `json:"role"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type roleResponse struct {
	UserID string                `json:"user_id"`
	Role   string                `json:"role"`
	Cached bool                  `json:"cached"`
	Entry  *types.RoleCacheEntry `json:"entry,omitempty"`
}

// handleAssignRole updates the authoritative role. The cache refresh
// is best effort inside the service; a cache outage never fails this
// request.
func (s *Server) handleAssignRole(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	var req assignRoleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Role) == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}

	if err := s.roles.AssignRole(r.Context(), userID, req.Role, req.Metadata); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, roleResponse{UserID: userID, Role: req.Role})
}

// handleGetRole resolves the role, serving from the cache when fresh
// and falling back to the source of truth otherwise
func (s *Server) handleGetRole(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	entry := s.roles.CachedEntry(r.Context(), userID)

	role, err := s.roles.ResolveRole(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusNotFound, "role not found")
		return
	}

	writeJSON(w, http.StatusOK, roleResponse{
		UserID: userID,
		Role:   role,
		Cached: entry != nil,
		Entry:  entry,
	})
}

func (s *Server) handleRevokeRole(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("userID")

	if err := s.roles.RevokeRole(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"user_id": userID, "status": "revoked"})
}

type batchInvalidateRequest struct {
	UserIDs []string `json:"user_ids"`
}

// handleBatchInvalidate drops cached roles for many users. An empty
// list is accepted and performs no cache store call.
func (s *Server) handleBatchInvalidate(w http.ResponseWriter, r *http.Request) {
	var req batchInvalidateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.roles.InvalidateBatch(r.Context(), req.UserIDs); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"invalidated": len(req.UserIDs)})
}
