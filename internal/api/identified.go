package api

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/runner"
)

// handleRoomStream runs one identified turn against a durable room. The
// caller's identity comes exclusively from the verified bearer token; the
// request body cannot assert or override it.
func (s *Server) handleRoomStream(w http.ResponseWriter, r *http.Request) {
	tenantID := r.PathValue("tenantID")
	if tenantID == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "tenant ID is required")
		return
	}

	userID, err := verifyIdentity(s.hmacSecret, tenantID, bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid identity token")
		return
	}

	roomID, err := uuid.Parse(r.PathValue("roomID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "room ID must be a UUID")
		return
	}

	messages, _, err := parseStreamBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	stream, err := s.identified.Run(r.Context(), runner.IdentifiedRequest{
		TenantID: tenantID,
		RoomID:   roomID,
		UserID:   userID,
		Messages: messages,
	})
	if err != nil {
		s.writeRunError(w, r, err)
		return
	}

	s.streamSSE(w, r, stream)
}
