package runner_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/quillhq/quill/internal/chat"
	"github.com/quillhq/quill/internal/conversation"
	"github.com/quillhq/quill/internal/log"
	"github.com/quillhq/quill/internal/runner"
	"github.com/quillhq/quill/internal/thread"
)

type fakeDurable struct {
	ensureErr    error
	ensuredRooms []uuid.UUID
	turns        map[uuid.UUID][]thread.Turn
	usage        map[uuid.UUID][3]int
	appendErr    error
}

func newFakeDurable() *fakeDurable {
	return &fakeDurable{
		turns: make(map[uuid.UUID][]thread.Turn),
		usage: make(map[uuid.UUID][3]int),
	}
}

func (f *fakeDurable) EnsureRoom(_ context.Context, roomID uuid.UUID, tenantID, userID string) (*conversation.Room, error) {
	if f.ensureErr != nil {
		return nil, f.ensureErr
	}
	f.ensuredRooms = append(f.ensuredRooms, roomID)
	return &conversation.Room{ID: roomID, TenantID: tenantID, UserID: userID}, nil
}

func (f *fakeDurable) AppendTurns(_ context.Context, roomID uuid.UUID, turns []thread.Turn) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.turns[roomID] = append(f.turns[roomID], turns...)
	return nil
}

func (f *fakeDurable) AppendUsage(_ context.Context, roomID uuid.UUID, prompt, completion, total int) error {
	f.usage[roomID] = [3]int{prompt, completion, total}
	return nil
}

type fakeRecorder struct {
	tenants []string
	tokens  []int
}

func (f *fakeRecorder) Record(_ context.Context, tenantID string, tokens int) error {
	f.tenants = append(f.tenants, tenantID)
	f.tokens = append(f.tokens, tokens)
	return nil
}

func TestIdentified_PersistsOnCompletion(t *testing.T) {
	durable := newFakeDurable()
	recorder := &fakeRecorder{}
	exec := &fakeExec{fire: true, result: chat.Result{
		Text:  "the answer",
		Usage: chat.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120},
	}}
	r, err := runner.NewIdentified(durable, recorder, exec, log.NewNop())
	if err != nil {
		t.Fatalf("NewIdentified() error = %v", err)
	}

	roomID := uuid.New()
	_, err = r.Run(context.Background(), runner.IdentifiedRequest{
		TenantID: "acme",
		RoomID:   roomID,
		UserID:   "user-1",
		Messages: []thread.Turn{{Role: thread.RoleUser, Content: "the question"}},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(durable.ensuredRooms) != 1 || durable.ensuredRooms[0] != roomID {
		t.Errorf("EnsureRoom calls = %v, want [%s]", durable.ensuredRooms, roomID)
	}

	turns := durable.turns[roomID]
	if len(turns) != 2 {
		t.Fatalf("persisted %d turns, want 2 (user + assistant)", len(turns))
	}
	if turns[0].Role != thread.RoleUser || turns[0].Content != "the question" {
		t.Errorf("first persisted turn = %+v, want the user turn", turns[0])
	}
	if turns[1].Role != thread.RoleAssistant || turns[1].Content != "the answer" {
		t.Errorf("second persisted turn = %+v, want the assistant turn", turns[1])
	}

	if got := durable.usage[roomID]; got != [3]int{100, 20, 120} {
		t.Errorf("persisted usage = %v, want [100 20 120]", got)
	}
	if len(recorder.tenants) != 1 || recorder.tenants[0] != "acme" || recorder.tokens[0] != 120 {
		t.Errorf("quota recording = (%v, %v), want one acme/120 entry", recorder.tenants, recorder.tokens)
	}
}

func TestIdentified_NoCompletionNoPersistence(t *testing.T) {
	durable := newFakeDurable()
	recorder := &fakeRecorder{}
	// Generation abandoned: the completion hook never fires.
	exec := &fakeExec{fire: false}
	r, _ := runner.NewIdentified(durable, recorder, exec, log.NewNop())

	roomID := uuid.New()
	if _, err := r.Run(context.Background(), runner.IdentifiedRequest{
		TenantID: "acme",
		RoomID:   roomID,
		UserID:   "user-1",
		Messages: []thread.Turn{{Role: thread.RoleUser, Content: "q"}},
	}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(durable.turns[roomID]) != 0 {
		t.Errorf("turns persisted for an unfinished generation: %+v", durable.turns[roomID])
	}
	if len(recorder.tenants) != 0 {
		t.Errorf("quota recorded for an unfinished generation")
	}
}

func TestIdentified_EnsureRoomFailure(t *testing.T) {
	durable := newFakeDurable()
	durable.ensureErr = errors.New("db down")
	exec := &fakeExec{}
	r, _ := runner.NewIdentified(durable, &fakeRecorder{}, exec, log.NewNop())

	_, err := r.Run(context.Background(), runner.IdentifiedRequest{
		TenantID: "acme",
		RoomID:   uuid.New(),
		UserID:   "user-1",
		Messages: []thread.Turn{{Role: thread.RoleUser, Content: "q"}},
	})
	if err == nil {
		t.Fatal("Run() error = nil, want room failure")
	}
	if exec.calls != 0 {
		t.Errorf("executor called despite room failure")
	}
}

func TestIdentified_RequiresUserID(t *testing.T) {
	r, _ := runner.NewIdentified(newFakeDurable(), &fakeRecorder{}, &fakeExec{}, log.NewNop())

	_, err := r.Run(context.Background(), runner.IdentifiedRequest{
		TenantID: "acme",
		RoomID:   uuid.New(),
		Messages: []thread.Turn{{Role: thread.RoleUser, Content: "q"}},
	})
	if err == nil {
		t.Error("Run() without user ID = nil error, want error")
	}
}
