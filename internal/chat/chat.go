// Package chat is the core executor shared by both trust modes: it checks
// the tenant quota, builds retrieval context, assembles the system prompt,
// and streams generation with a one-shot completion hook. It knows nothing
// about identity or ephemerality; runners layer those on top.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/quillhq/quill/internal/quota"
	"github.com/quillhq/quill/internal/retrieval"
	"github.com/quillhq/quill/internal/thread"
)

// ErrQuotaExceeded matches quota rejections via errors.Is. The concrete
// error text is the quota service's user-visible message.
var ErrQuotaExceeded = errors.New("quota exceeded")

// quotaError carries the service's message verbatim while still matching
// ErrQuotaExceeded.
type quotaError struct {
	message string
}

func (e *quotaError) Error() string { return e.message }

func (e *quotaError) Is(target error) bool { return target == ErrQuotaExceeded }

// Usage is one generation's token accounting.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Result is handed to the completion hook once generation finishes.
type Result struct {
	Text  string
	Usage Usage
}

// OnFinish is the one-shot completion hook. It fires at most once, only
// after the final chunk event for the turn has been emitted, and never
// fires for a cancelled or failed generation.
type OnFinish func(Result)

// Request is one turn's input to the executor.
type Request struct {
	TenantID string
	Messages []thread.Turn
	OnFinish OnFinish
}

// QuotaChecker gates execution per tenant. *quota.Service satisfies it.
type QuotaChecker interface {
	Check(ctx context.Context, tenantID string) (quota.Decision, error)
}

// ContextBuilder produces retrieval context. *retrieval.Builder satisfies it.
type ContextBuilder interface {
	Build(ctx context.Context, tenantID string, history []thread.Turn) (*retrieval.Context, error)
}

// PreambleSource loads a tenant's optional behavioral preamble.
type PreambleSource interface {
	Preamble(ctx context.Context, tenantID string) (string, error)
}

// Generator runs streaming generation. onChunk is called for every text
// fragment in order; the returned Result carries the full text and usage.
type Generator interface {
	Generate(ctx context.Context, system string, history []thread.Turn, onChunk func(text string) error) (Result, error)
}

// Executor orchestrates one turn end to end.
type Executor struct {
	quota     QuotaChecker
	builder   ContextBuilder
	preambles PreambleSource // optional
	generator Generator
	logger    *slog.Logger
}

// NewExecutor creates an Executor. preambles may be nil when tenants have
// no configured preambles.
func NewExecutor(q QuotaChecker, b ContextBuilder, p PreambleSource, g Generator, logger *slog.Logger) (*Executor, error) {
	if q == nil {
		return nil, fmt.Errorf("quota checker is required")
	}
	if b == nil {
		return nil, fmt.Errorf("context builder is required")
	}
	if g == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{quota: q, builder: b, preambles: p, generator: g, logger: logger}, nil
}

// Execute runs one turn.
//
// The quota check happens synchronously before any stream exists; a denied
// tenant gets the service's message back as an ErrQuotaExceeded error and
// no retrieval or generation work is done. Past that point every failure
// is delivered as a terminal error event inside the returned stream.
//
// Generation is bound to ctx: if the caller disconnects and cancels it,
// generation stops, the completion hook does not fire, and nothing is
// recorded. A retried turn is a fresh execution, so an abandoned turn is
// never double-counted.
func (e *Executor) Execute(ctx context.Context, req Request) (*Stream, error) {
	if req.TenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if !hasUserTurn(req.Messages) {
		return nil, fmt.Errorf("messages must contain a user turn")
	}

	decision, err := e.quota.Check(ctx, req.TenantID)
	if err != nil {
		return nil, fmt.Errorf("checking quota: %w", err)
	}
	if !decision.Allowed {
		return nil, &quotaError{message: decision.Message}
	}

	stream := &Stream{events: make(chan Event, 16)}
	go e.run(ctx, req, stream)
	return stream, nil
}

// run executes the retrieval and generation stages, emitting events until
// a terminal done or error event, then closes the stream.
func (e *Executor) run(ctx context.Context, req Request, stream *Stream) {
	defer close(stream.events)

	preamble := e.loadPreamble(ctx, req.TenantID)

	rc, err := e.builder.Build(ctx, req.TenantID, req.Messages)
	if err != nil {
		// The builder degrades internally; an error here means the
		// request itself was unusable.
		e.emit(ctx, stream, Event{Type: EventError, Message: "retrieval failed"})
		e.logger.Error("building retrieval context", "tenant_id", req.TenantID, "error", err)
		return
	}

	// Sources go out before generation so the caller can render them
	// while text is still being produced.
	if !e.emit(ctx, stream, Event{Type: EventSources, Citations: rc.Citations}) {
		return
	}

	system := buildSystemPrompt(preamble, rc.Text)

	var finish sync.Once
	result, err := e.generator.Generate(ctx, system, req.Messages, func(text string) error {
		if !e.emit(ctx, stream, Event{Type: EventChunk, Text: text}) {
			return context.Cause(ctx)
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			e.logger.Info("generation cancelled", "tenant_id", req.TenantID)
			return
		}
		e.logger.Error("generation failed", "tenant_id", req.TenantID, "error", err)
		e.emit(ctx, stream, Event{Type: EventError, Message: "generation failed"})
		return
	}

	if req.OnFinish != nil {
		finish.Do(func() { req.OnFinish(result) })
	}
	e.emit(ctx, stream, Event{Type: EventDone, Usage: result.Usage})
}

// loadPreamble fetches the tenant preamble, degrading to none on failure.
func (e *Executor) loadPreamble(ctx context.Context, tenantID string) string {
	if e.preambles == nil {
		return ""
	}
	p, err := e.preambles.Preamble(ctx, tenantID)
	if err != nil {
		e.logger.Warn("loading tenant preamble failed, continuing without",
			"tenant_id", tenantID, "error", err)
		return ""
	}
	return p
}

// emit sends an event unless the request context is gone. Reports whether
// the send happened.
func (e *Executor) emit(ctx context.Context, stream *Stream, ev Event) bool {
	select {
	case stream.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

func hasUserTurn(turns []thread.Turn) bool {
	for _, t := range turns {
		if t.Role == thread.RoleUser {
			return true
		}
	}
	return false
}
