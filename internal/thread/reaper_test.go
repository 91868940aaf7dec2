package thread

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/quillhq/quill/internal/log"
)

func TestReaper_SweepsExpiredThreads(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, err := NewStore(30*time.Millisecond, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	th, _ := s.Create("t1")

	r := NewReaper(s, 20*time.Millisecond, log.NewNop())
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Metrics().TotalThreads == 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	if got := s.Metrics().TotalThreads; got != 0 {
		t.Errorf("TotalThreads = %d after reaper interval, want 0", got)
	}
	if _, err := s.Get("t1", th.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after sweep = %v, want ErrNotFound", err)
	}
}

func TestReaper_DoubleStartIsNoop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _ := NewStore(time.Hour, log.NewNop())

	var buf bytes.Buffer
	logger := log.NewWithWriter(&buf, log.Config{Level: slog.LevelWarn})

	r := NewReaper(s, time.Hour, logger)
	r.Start()
	r.Start() // must log and not spawn a second timer
	r.Stop()

	if !bytes.Contains(buf.Bytes(), []byte("already started")) {
		t.Errorf("second Start() did not log a warning, output: %s", buf.String())
	}
}

func TestReaper_StopIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _ := NewStore(time.Hour, log.NewNop())
	r := NewReaper(s, time.Hour, log.NewNop())

	// Stop before Start is safe.
	r.Stop()

	r.Start()
	r.Stop()
	r.Stop() // second Stop is a no-op
}

func TestReaper_RestartAfterStop(t *testing.T) {
	defer goleak.VerifyNone(t)

	s, _ := NewStore(10*time.Millisecond, log.NewNop())
	r := NewReaper(s, 15*time.Millisecond, log.NewNop())

	r.Start()
	r.Stop()

	// The lifecycle allows a fresh Start after Stop.
	s.Create("t1")
	r.Start()
	defer r.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if s.Metrics().TotalThreads == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Errorf("restarted reaper never swept, TotalThreads = %d", s.Metrics().TotalThreads)
}
