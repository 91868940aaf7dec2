package thread

import "time"

// Role identifies the author of a Turn.
type Role string

// Valid roles for conversation turns.
const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Turn is a single conversation turn. Turns are append-only: once stored
// they are never mutated or reordered.
type Turn struct {
	Role    Role
	Content string
}

// Thread is one ephemeral conversation: its turn history plus expiry
// metadata. IDs carry the "eph_" prefix so an ephemeral thread is
// recognizable anywhere it surfaces.
type Thread struct {
	ID           string
	TenantID     string
	Turns        []Turn
	CreatedAt    time.Time
	LastAccessed time.Time
	ExpiresAt    time.Time
}

// Metrics is a point-in-time snapshot of the store.
//
// TotalThreads counts every entry in the map, including expired entries
// that have not been swept yet; ExpiredThreads counts exactly those.
// TotalThreads == ActiveThreads + ExpiredThreads always holds at the
// observation instant.
type Metrics struct {
	TotalThreads   int
	ActiveThreads  int
	ExpiredThreads int
}
