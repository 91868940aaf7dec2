package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/thread"
)

// persistTimeout bounds the completion hook's durable writes, which run
// on a context detached from the request.
const persistTimeout = 15 * time.Second

// Durable is the slice of the conversation store the identified runner
// consumes. *conversation.Store satisfies it.
type Durable interface {
	EnsureRoom(ctx context.Context, roomID uuid.UUID, tenantID, userID string) (*conversation.Room, error)
	AppendTurns(ctx context.Context, roomID uuid.UUID, turns []thread.Turn) error
	AppendUsage(ctx context.Context, roomID uuid.UUID, prompt, completion, total int) error
}

// UsageRecorder bills completed turns. *quota.Service satisfies it.
type UsageRecorder interface {
	Record(ctx context.Context, tenantID string, tokens int) error
}

// IdentifiedRequest is one identified turn.
type IdentifiedRequest struct {
	TenantID string
	RoomID   uuid.UUID
	UserID   string
	Messages []thread.Turn
}

// Identified runs turns against durable rooms.
type Identified struct {
	store  Durable
	usage  UsageRecorder
	exec   Executor
	logger *slog.Logger
}

// NewIdentified creates an identified runner.
func NewIdentified(store Durable, usage UsageRecorder, exec Executor, logger *slog.Logger) (*Identified, error) {
	if store == nil {
		return nil, fmt.Errorf("conversation store is required")
	}
	if usage == nil {
		return nil, fmt.Errorf("usage recorder is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Identified{store: store, usage: usage, exec: exec, logger: logger}, nil
}

// Run executes one identified turn. The room is created on first use. On
// completion the user turn and assistant turn are persisted as two rows,
// one usage row is written, and the tenant's quota counter is advanced.
// A turn whose stream is abandoned mid-generation persists and bills
// nothing; accounting happens only in the completion hook.
func (r *Identified) Run(ctx context.Context, req IdentifiedRequest) (*chat.Stream, error) {
	if req.UserID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	userTurn, ok := lastUserTurn(req.Messages)
	if !ok {
		return nil, fmt.Errorf("messages must contain a user turn")
	}

	if _, err := r.store.EnsureRoom(ctx, req.RoomID, req.TenantID, req.UserID); err != nil {
		return nil, fmt.Errorf("ensuring room: %w", err)
	}

	tenantID, roomID := req.TenantID, req.RoomID
	return r.exec.Execute(ctx, chat.Request{
		TenantID: tenantID,
		Messages: req.Messages,
		OnFinish: func(result chat.Result) {
			// The request context may be cancelled as soon as the client
			// has the final byte; persistence gets its own deadline.
			pctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
			defer cancel()

			turns := []thread.Turn{
				userTurn,
				{Role: thread.RoleAssistant, Content: result.Text},
			}
			if err := r.store.AppendTurns(pctx, roomID, turns); err != nil {
				r.logger.Error("persisting turns failed",
					"room_id", roomID, "error", err)
			}
			if err := r.store.AppendUsage(pctx, roomID,
				result.Usage.PromptTokens, result.Usage.CompletionTokens, result.Usage.TotalTokens); err != nil {
				r.logger.Error("persisting usage failed",
					"room_id", roomID, "error", err)
			}
			if err := r.usage.Record(pctx, tenantID, result.Usage.TotalTokens); err != nil {
				r.logger.Error("recording quota usage failed",
					"tenant_id", tenantID, "error", err)
			}
		},
	})
}
