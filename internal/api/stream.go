package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/retrieval"
	"github.com/quillhq/quill/internal/runner"
	"github.com/quillhq/quill/internal/thread"
)

// maxStreamBodyBytes caps stream request bodies at 1MB.
const maxStreamBodyBytes = 1 << 20

// SSE payloads. The wire shape is stable; the internal event types are not
// exposed directly.
type sourcesPayload struct {
	Sources []retrieval.Citation `json:"sources"`
}

type chunkPayload struct {
	Text string `json:"text"`
}

type usagePayload struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type donePayload struct {
	Usage usagePayload `json:"usage"`
}

type streamErrorPayload struct {
	Message string `json:"message"`
}

// parseStreamBody decodes a stream request. The body is decoded as a
// generic object first: "messages" is extracted and validated, and every
// other top-level key is returned as-is so the identity guard can inspect
// dynamically-built payloads.
func parseStreamBody(r *http.Request) ([]thread.Turn, map[string]any, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxStreamBodyBytes)

	var raw map[string]any
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, nil, fmt.Errorf("decoding request body: %w", err)
	}

	rawMessages, ok := raw["messages"].([]any)
	if !ok || len(rawMessages) == 0 {
		return nil, nil, errors.New("messages array is required")
	}
	delete(raw, "messages")

	messages := make([]thread.Turn, 0, len(rawMessages))
	hasUser := false
	for i, rm := range rawMessages {
		m, ok := rm.(map[string]any)
		if !ok {
			return nil, nil, fmt.Errorf("message %d is not an object", i)
		}
		role, _ := m["role"].(string)
		content, _ := m["content"].(string)
		switch thread.Role(role) {
		case thread.RoleUser:
			hasUser = true
		case thread.RoleAssistant:
		default:
			return nil, nil, fmt.Errorf("message %d has unsupported role %q", i, role)
		}
		if content == "" {
			return nil, nil, fmt.Errorf("message %d has empty content", i)
		}
		messages = append(messages, thread.Turn{Role: thread.Role(role), Content: content})
	}
	if !hasUser {
		return nil, nil, errors.New("messages must contain a user turn")
	}

	return messages, raw, nil
}

// writeRunError maps a runner failure to an HTTP status. Runs fail before
// any event is written, so a plain JSON error is still possible here.
func (s *Server) writeRunError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, runner.ErrIdentityLeak):
		s.logger.Warn("identity field in ephemeral payload",
			"request_id", requestID(r.Context()), "error", err)
		writeError(w, http.StatusBadRequest, "identity_leak", err.Error())
	case errors.Is(err, thread.ErrNotFound), errors.Is(err, conversation.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "thread not found")
	case errors.Is(err, chat.ErrQuotaExceeded):
		// The error text is the service's own message; pass it through.
		writeError(w, http.StatusTooManyRequests, "quota_exceeded", err.Error())
	default:
		s.logger.Error("starting turn failed",
			"request_id", requestID(r.Context()), "error", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal server error")
	}
}

// streamSSE drains the turn's event stream onto the wire. A write failure
// means the client is gone; the executor notices via the request context.
func (s *Server) streamSSE(w http.ResponseWriter, r *http.Request, stream *chat.Stream) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal", "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for ev := range stream.Events() {
		var err error
		switch ev.Type {
		case chat.EventSources:
			citations := ev.Citations
			if citations == nil {
				citations = []retrieval.Citation{}
			}
			err = writeEvent(w, flusher, string(chat.EventSources), sourcesPayload{Sources: citations})
		case chat.EventChunk:
			err = writeEvent(w, flusher, string(chat.EventChunk), chunkPayload{Text: ev.Text})
		case chat.EventDone:
			err = writeEvent(w, flusher, string(chat.EventDone), donePayload{Usage: usagePayload{
				PromptTokens:     ev.Usage.PromptTokens,
				CompletionTokens: ev.Usage.CompletionTokens,
				TotalTokens:      ev.Usage.TotalTokens,
			}})
		case chat.EventError:
			err = writeEvent(w, flusher, string(chat.EventError), streamErrorPayload{Message: ev.Message})
		}
		if err != nil {
			s.logger.Debug("client disconnected mid-stream",
				"request_id", requestID(r.Context()), "error", err)
			return
		}
	}
}
