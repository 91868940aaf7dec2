package api

import (
	"net/http"
	"time"

	"github.com/quillhq/quill/internal/runner"
)

type createThreadResponse struct {
	ThreadID  string    `json:"threadId"`
	TenantID  string    `json:"tenantId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type purgeResponse struct {
	Deleted int `json:"deleted"`
}

type threadMetricsResponse struct {
	TotalThreads   int `json:"totalThreads"`
	ActiveThreads  int `json:"activeThreads"`
	ExpiredThreads int `json:"expiredThreads"`
}

// checkOrigin enforces the per-tenant origin allowlist. Unknown tenants
// and missing Origin headers are denied; there is no default-allow path.
func (s *Server) checkOrigin(w http.ResponseWriter, r *http.Request, tenantID string) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || !s.originAllowed(tenantID, origin) {
		s.logger.Warn("origin denied",
			"tenant_id", tenantID, "origin", origin,
			"request_id", requestID(r.Context()))
		writeError(w, http.StatusForbidden, "origin_denied", "origin not allowed for tenant")
		return false
	}
	return true
}

// handleCreateThread opens a new ephemeral thread for a tenant.
func (s *Server) handleCreateThread(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant ID is required")
		return
	}
	if !s.checkOrigin(w, r, tenantID) {
		return
	}

	th, err := s.threads.Create(tenantID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createThreadResponse{
		ThreadID:  th.ID,
		TenantID:  th.TenantID,
		ExpiresAt: th.ExpiresAt,
	})
}

// handleEphemeralStream runs one turn on an ephemeral thread and streams
// the result as SSE.
func (s *Server) handleEphemeralStream(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	threadID := r.PathValue("threadID")
	if !s.checkOrigin(w, r, tenantID) {
		return
	}

	messages, extra, err := parseStreamBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	stream, err := s.ephemeral.Run(r.Context(), runner.EphemeralRequest{
		TenantID: tenantID,
		ThreadID: threadID,
		Messages: messages,
		Extra:    extra,
	})
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}

	s.streamSSE(w, r, stream)
}

// handlePurgeTenant drops every thread a tenant owns. Operator only.
func (s *Server) handlePurgeTenant(w http.ResponseWriter, r *http.Request) {
	if !s.serviceAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "service token required")
		return
	}
	tenantID := r.PathValue("tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant ID is required")
		return
	}

	deleted := s.threads.DeleteTenant(tenantID)
	writeJSON(w, http.StatusOK, purgeResponse{Deleted: deleted})
}

// handleThreadMetrics reports thread store occupancy. Operator only.
func (s *Server) handleThreadMetrics(w http.ResponseWriter, r *http.Request) {
	if !s.serviceAuthorized(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "service token required")
		return
	}

	m := s.threads.Metrics()
	writeJSON(w, http.StatusOK, threadMetricsResponse{
		TotalThreads:   m.TotalThreads,
		ActiveThreads:  m.ActiveThreads,
		ExpiredThreads: m.ExpiredThreads,
	})
}
