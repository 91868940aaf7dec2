package thread

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound indicates the thread does not exist, has expired, or belongs
// to a different tenant. Callers cannot distinguish the three cases; a
// guessed ID under the wrong tenant looks identical to a missing one.
var ErrNotFound = errors.New("thread not found")

// IDPrefix marks ephemeral thread IDs.
const IDPrefix = "eph_"

// key is the composite map key. Including the tenant in the key is what
// enforces tenant isolation: a lookup with the wrong tenant simply misses.
type key struct {
	tenantID string
	threadID string
}

// Store is the tenant-scoped, TTL-keyed in-memory thread store.
//
// A single coarse mutex guards the map. Every operation (create,
// expiring read, append, sweep, tenant purge) is atomic with respect to
// the others, so an expiry-check-then-delete can never race with an
// append that would resurrect a dead entry. The workload is light enough
// that sharding would buy nothing.
type Store struct {
	mu      sync.Mutex
	threads map[key]*Thread
	ttl     time.Duration
	logger  *slog.Logger

	// now is swappable in tests to exercise expiry without sleeping.
	now func() time.Time
}

// NewStore creates a thread store. ttl is fixed per thread at creation;
// it must be positive.
func NewStore(ttl time.Duration, logger *slog.Logger) (*Store, error) {
	if ttl <= 0 {
		return nil, fmt.Errorf("ttl must be positive, got %v", ttl)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		threads: make(map[key]*Thread),
		ttl:     ttl,
		logger:  logger,
		now:     time.Now,
	}, nil
}

// Create stores a new empty thread for the tenant and returns a copy.
// ExpiresAt is fixed to CreatedAt + TTL and is never extended afterwards.
func (s *Store) Create(tenantID string) (*Thread, error) {
	if tenantID == "" {
		return nil, errors.New("tenant ID is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	t := &Thread{
		ID:           IDPrefix + uuid.NewString(),
		TenantID:     tenantID,
		CreatedAt:    now,
		LastAccessed: now,
		ExpiresAt:    now.Add(s.ttl),
	}
	s.threads[key{tenantID, t.ID}] = t

	s.logger.Debug("created thread",
		"tenant_id", tenantID,
		"thread_id", t.ID,
		"expires_at", t.ExpiresAt,
	)
	return copyThread(t), nil
}

// Get returns a copy of the thread, or ErrNotFound if it is absent,
// expired, or owned by another tenant. An expired entry is deleted in the
// same critical section that detects it, so a second Get observes a clean
// miss. A successful read updates LastAccessed but never ExpiresAt.
func (s *Store) Get(tenantID, threadID string) (*Thread, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.lookupLocked(tenantID, threadID)
	if !ok {
		return nil, ErrNotFound
	}

	t.LastAccessed = s.now()
	return copyThread(t), nil
}

// Append adds a turn to a live thread. Returns false if the thread is
// gone or expired; it never creates or resurrects an entry.
func (s *Store) Append(tenantID, threadID string, turn Turn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.lookupLocked(tenantID, threadID)
	if !ok {
		return false
	}

	t.Turns = append(t.Turns, turn)
	t.LastAccessed = s.now()
	return true
}

// DeleteExpired removes every entry whose deadline has passed and returns
// the count. Called by the Reaper; safe to call directly.
func (s *Store) DeleteExpired() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	deleted := 0
	for k, t := range s.threads {
		if now.After(t.ExpiresAt) {
			delete(s.threads, k)
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Debug("swept expired threads", "count", deleted)
	}
	return deleted
}

// DeleteTenant removes every thread for the tenant regardless of expiry.
// Used for emergency eviction and tenant offboarding.
func (s *Store) DeleteTenant(tenantID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	deleted := 0
	for k := range s.threads {
		if k.tenantID == tenantID {
			delete(s.threads, k)
			deleted++
		}
	}

	if deleted > 0 {
		s.logger.Info("purged tenant threads", "tenant_id", tenantID, "count", deleted)
	}
	return deleted
}

// Metrics returns a snapshot of store occupancy. Expired counts entries
// past their deadline that no sweep or lookup has removed yet.
func (s *Store) Metrics() Metrics {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	m := Metrics{TotalThreads: len(s.threads)}
	for _, t := range s.threads {
		if now.After(t.ExpiresAt) {
			m.ExpiredThreads++
		} else {
			m.ActiveThreads++
		}
	}
	return m
}

// lookupLocked finds a live thread, deleting it if expired. Caller must
// hold s.mu.
func (s *Store) lookupLocked(tenantID, threadID string) (*Thread, bool) {
	k := key{tenantID, threadID}
	t, ok := s.threads[k]
	if !ok {
		return nil, false
	}
	if s.now().After(t.ExpiresAt) {
		delete(s.threads, k)
		s.logger.Debug("expired thread removed on lookup",
			"tenant_id", tenantID,
			"thread_id", threadID,
		)
		return nil, false
	}
	return t, true
}

// copyThread returns an independent copy so callers cannot mutate store
// state through the returned pointer.
func copyThread(t *Thread) *Thread {
	cp := *t
	cp.Turns = make([]Turn, len(t.Turns))
	copy(cp.Turns, t.Turns)
	return &cp
}
