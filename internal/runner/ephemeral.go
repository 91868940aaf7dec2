// Package runner wraps the core executor with the two trust modes: the
// identified runner persists turns and usage durably, the ephemeral runner
// touches only the in-memory thread store and structurally cannot carry
// identity.
package runner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/thread"
)

// Executor is the slice of the core executor the runners consume.
// *chat.Executor satisfies it.
type Executor interface {
	Execute(ctx context.Context, req chat.Request) (*chat.Stream, error)
}

// Threads is the slice of the thread store the ephemeral runner consumes.
// *thread.Store satisfies it.
type Threads interface {
	Get(tenantID, threadID string) (*thread.Thread, error)
	Append(tenantID, threadID string, turn thread.Turn) bool
}

// EphemeralRequest is one ephemeral turn. By construction it has no
// identity fields; Extra carries any dynamically-built payload and is
// checked by the identity guard before anything else runs.
type EphemeralRequest struct {
	TenantID string
	ThreadID string
	Messages []thread.Turn
	Extra    map[string]any
}

// Ephemeral runs turns against in-memory threads. It holds no reference
// to any durable store.
type Ephemeral struct {
	threads Threads
	exec    Executor
	logger  *slog.Logger
}

// NewEphemeral creates an ephemeral runner.
func NewEphemeral(threads Threads, exec Executor, logger *slog.Logger) (*Ephemeral, error) {
	if threads == nil {
		return nil, fmt.Errorf("thread store is required")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Ephemeral{threads: threads, exec: exec, logger: logger}, nil
}

// Run executes one ephemeral turn.
//
// The identity guard runs before any other work. The thread must exist
// and be live: thread.ErrNotFound propagates as-is so the surface can map
// it to 404 without distinguishing expired from never-existed. The new
// user turn is appended before execution; the assistant turn is appended
// in the completion hook, which never fires for cancelled or failed
// generations.
func (r *Ephemeral) Run(ctx context.Context, req EphemeralRequest) (*chat.Stream, error) {
	if err := guardNoIdentity(req.Extra); err != nil {
		return nil, err
	}

	userTurn, ok := lastUserTurn(req.Messages)
	if !ok {
		return nil, fmt.Errorf("messages must contain a user turn")
	}

	th, err := r.threads.Get(req.TenantID, req.ThreadID)
	if err != nil {
		return nil, err
	}

	history := make([]thread.Turn, 0, len(th.Turns)+1)
	history = append(history, th.Turns...)
	history = append(history, userTurn)

	if !r.threads.Append(req.TenantID, req.ThreadID, userTurn) {
		return nil, thread.ErrNotFound
	}

	tenantID, threadID := req.TenantID, req.ThreadID
	return r.exec.Execute(ctx, chat.Request{
		TenantID: tenantID,
		Messages: history,
		OnFinish: func(result chat.Result) {
			appended := r.threads.Append(tenantID, threadID, thread.Turn{
				Role:    thread.RoleAssistant,
				Content: result.Text,
			})
			if !appended {
				// Thread expired mid-generation; the turn is simply lost,
				// which is the ephemeral contract.
				r.logger.Info("thread gone before assistant turn could be stored",
					"tenant_id", tenantID, "thread_id", threadID)
			}
		},
	})
}

// lastUserTurn returns the most recent user turn in messages.
func lastUserTurn(messages []thread.Turn) (thread.Turn, bool) {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == thread.RoleUser {
			return messages[i], true
		}
	}
	return thread.Turn{}, false
}
