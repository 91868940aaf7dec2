package thread

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/quillhq/quill/internal/log"
)

// newTestStore returns a store with a controllable clock.
func newTestStore(t *testing.T, ttl time.Duration) (*Store, *fakeClock) {
	t.Helper()
	s, err := NewStore(ttl, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	clock := &fakeClock{t: time.Now()}
	s.now = clock.Now
	return s, clock
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func TestNewStore_InvalidTTL(t *testing.T) {
	if _, err := NewStore(0, log.NewNop()); err == nil {
		t.Error("NewStore(0) expected error, got nil")
	}
	if _, err := NewStore(-time.Hour, log.NewNop()); err == nil {
		t.Error("NewStore(-1h) expected error, got nil")
	}
}

func TestCreate(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)

	th, err := s.Create("tenant-1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	if !strings.HasPrefix(th.ID, IDPrefix) {
		t.Errorf("thread ID %q missing %q prefix", th.ID, IDPrefix)
	}
	if th.TenantID != "tenant-1" {
		t.Errorf("TenantID = %q, want %q", th.TenantID, "tenant-1")
	}
	if got, want := th.ExpiresAt, th.CreatedAt.Add(time.Hour); !got.Equal(want) {
		t.Errorf("ExpiresAt = %v, want CreatedAt + TTL = %v", got, want)
	}
	if len(th.Turns) != 0 {
		t.Errorf("new thread has %d turns, want 0", len(th.Turns))
	}
}

func TestCreate_EmptyTenant(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)
	if _, err := s.Create(""); err == nil {
		t.Error("Create(\"\") expected error, got nil")
	}
}

func TestGet_TenantIsolation(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)

	a, err := s.Create("tenant-a")
	if err != nil {
		t.Fatalf("Create(tenant-a) error = %v", err)
	}
	b, err := s.Create("tenant-b")
	if err != nil {
		t.Fatalf("Create(tenant-b) error = %v", err)
	}

	// Each tenant retrieves only its own thread, even with a valid ID
	// from the other tenant.
	if _, err := s.Get("tenant-a", a.ID); err != nil {
		t.Errorf("Get(own thread) error = %v", err)
	}
	if _, err := s.Get("tenant-b", b.ID); err != nil {
		t.Errorf("Get(own thread) error = %v", err)
	}
	if _, err := s.Get("tenant-b", a.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(other tenant's thread) = %v, want ErrNotFound", err)
	}
	if _, err := s.Get("tenant-a", b.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(other tenant's thread) = %v, want ErrNotFound", err)
	}
}

func TestGet_LazyExpiryIsIdempotent(t *testing.T) {
	s, clock := newTestStore(t, time.Second)

	th, err := s.Create("t1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	clock.Advance(1100 * time.Millisecond)

	// First lookup after expiry removes the entry.
	if _, err := s.Get("t1", th.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(expired) = %v, want ErrNotFound", err)
	}
	if got := s.Metrics().TotalThreads; got != 0 {
		t.Errorf("TotalThreads after lazy expiry = %d, want 0", got)
	}

	// Second lookup observes a clean miss.
	if _, err := s.Get("t1", th.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Get(expired) = %v, want ErrNotFound", err)
	}
}

func TestGet_FixedExpiryNotSliding(t *testing.T) {
	s, clock := newTestStore(t, time.Second)

	th, err := s.Create("t1")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	// Repeated reads must not push the deadline out.
	for range 5 {
		clock.Advance(200 * time.Millisecond)
		if _, err := s.Get("t1", th.ID); err != nil {
			break
		}
	}

	clock.Advance(200 * time.Millisecond) // total 1.2s > TTL
	if _, err := s.Get("t1", th.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after TTL with intervening reads = %v, want ErrNotFound (expiry must not slide)", err)
	}
}

func TestGet_ReturnsCopy(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)

	th, _ := s.Create("t1")
	s.Append("t1", th.ID, Turn{Role: RoleUser, Content: "hello"})

	got, err := s.Get("t1", th.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	got.Turns[0].Content = "mutated"
	got.Turns = append(got.Turns, Turn{Role: RoleSystem, Content: "injected"})

	again, err := s.Get("t1", th.ID)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if len(again.Turns) != 1 || again.Turns[0].Content != "hello" {
		t.Errorf("store state mutated through returned copy: %+v", again.Turns)
	}
}

func TestAppend(t *testing.T) {
	s, clock := newTestStore(t, time.Second)

	th, _ := s.Create("t1")

	if ok := s.Append("t1", th.ID, Turn{Role: RoleUser, Content: "hi"}); !ok {
		t.Fatal("Append(live thread) = false, want true")
	}
	if ok := s.Append("t1", th.ID, Turn{Role: RoleAssistant, Content: "hello"}); !ok {
		t.Fatal("Append(live thread) = false, want true")
	}

	got, _ := s.Get("t1", th.ID)
	if len(got.Turns) != 2 {
		t.Fatalf("thread has %d turns, want 2", len(got.Turns))
	}
	if got.Turns[0].Role != RoleUser || got.Turns[1].Role != RoleAssistant {
		t.Errorf("turn order not preserved: %+v", got.Turns)
	}

	// Append on an expired thread fails and must not resurrect the entry.
	clock.Advance(2 * time.Second)
	if ok := s.Append("t1", th.ID, Turn{Role: RoleUser, Content: "late"}); ok {
		t.Error("Append(expired thread) = true, want false")
	}
	if got := s.Metrics().TotalThreads; got != 0 {
		t.Errorf("TotalThreads after failed append = %d, want 0 (no resurrection)", got)
	}

	// Append on an unknown thread fails and creates nothing.
	if ok := s.Append("t1", "eph_nope", Turn{Role: RoleUser, Content: "x"}); ok {
		t.Error("Append(unknown thread) = true, want false")
	}
	if got := s.Metrics().TotalThreads; got != 0 {
		t.Errorf("TotalThreads after append to unknown = %d, want 0", got)
	}
}

func TestDeleteExpired_ExactSet(t *testing.T) {
	s, clock := newTestStore(t, time.Second)

	// Two threads that will expire, then a third created after their
	// deadline has passed.
	first, _ := s.Create("t1")
	second, _ := s.Create("t1")
	clock.Advance(1100 * time.Millisecond)
	third, _ := s.Create("t1")

	if got := s.DeleteExpired(); got != 2 {
		t.Errorf("DeleteExpired() = %d, want 2", got)
	}

	for _, id := range []string{first.ID, second.ID} {
		if _, err := s.Get("t1", id); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get(%s) after sweep = %v, want ErrNotFound", id, err)
		}
	}
	if _, err := s.Get("t1", third.ID); err != nil {
		t.Errorf("Get(unexpired thread) after sweep error = %v", err)
	}

	// A second sweep finds nothing.
	if got := s.DeleteExpired(); got != 0 {
		t.Errorf("second DeleteExpired() = %d, want 0", got)
	}
}

func TestDeleteTenant(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)

	s.Create("t1")
	s.Create("t1")
	keep, _ := s.Create("t2")

	if got := s.DeleteTenant("t1"); got != 2 {
		t.Errorf("DeleteTenant(t1) = %d, want 2", got)
	}
	if got := s.DeleteTenant("t1"); got != 0 {
		t.Errorf("second DeleteTenant(t1) = %d, want 0", got)
	}
	if _, err := s.Get("t2", keep.ID); err != nil {
		t.Errorf("other tenant's thread removed by purge: %v", err)
	}
}

func TestMetrics(t *testing.T) {
	s, clock := newTestStore(t, time.Second)

	s.Create("t1")
	s.Create("t2")
	clock.Advance(1100 * time.Millisecond)
	s.Create("t1")

	m := s.Metrics()
	if m.TotalThreads != 3 {
		t.Errorf("TotalThreads = %d, want 3 (expired-but-unswept entries count)", m.TotalThreads)
	}
	if m.ActiveThreads != 1 {
		t.Errorf("ActiveThreads = %d, want 1", m.ActiveThreads)
	}
	if m.ExpiredThreads != 2 {
		t.Errorf("ExpiredThreads = %d, want 2", m.ExpiredThreads)
	}
	if m.TotalThreads != m.ActiveThreads+m.ExpiredThreads {
		t.Errorf("Total %d != Active %d + Expired %d", m.TotalThreads, m.ActiveThreads, m.ExpiredThreads)
	}
}

func TestStore_ConcurrentAccess(t *testing.T) {
	s, _ := newTestStore(t, time.Hour)

	const workers = 8
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tenant := fmt.Sprintf("tenant-%d", i%2)
			for range 50 {
				th, err := s.Create(tenant)
				if err != nil {
					t.Errorf("Create() error = %v", err)
					return
				}
				s.Append(tenant, th.ID, Turn{Role: RoleUser, Content: "m"})
				if _, err := s.Get(tenant, th.ID); err != nil {
					t.Errorf("Get() error = %v", err)
					return
				}
				s.DeleteExpired()
				s.Metrics()
			}
		}()
	}
	wg.Wait()

	if got := s.Metrics().TotalThreads; got != workers*50 {
		t.Errorf("TotalThreads = %d, want %d", got, workers*50)
	}
}

// TestGet_RealTTLElapsed exercises the wall-clock path without a fake
// clock, matching production behavior end to end.
func TestGet_RealTTLElapsed(t *testing.T) {
	s, err := NewStore(50*time.Millisecond, log.NewNop())
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}

	th, _ := s.Create("t1")
	time.Sleep(60 * time.Millisecond)

	if _, err := s.Get("t1", th.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() after real TTL = %v, want ErrNotFound", err)
	}
	if got := s.Metrics().TotalThreads; got != 0 {
		t.Errorf("TotalThreads = %d, want 0", got)
	}
}
