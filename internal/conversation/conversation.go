// Package conversation persists identified-mode rooms: durable turn
// history plus per-turn usage records, backed by PostgreSQL. Ephemeral
// threads never touch this package.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/quillhq/quill/internal/thread"
)

// ErrNotFound is returned when a room does not exist for the tenant.
var ErrNotFound = errors.New("room not found")

// Room is one durable conversation.
type Room struct {
	ID        uuid.UUID
	TenantID  string
	UserID    string
	Title     string
	TurnCount int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// StoredTurn is one persisted conversation turn.
type StoredTurn struct {
	ID        uuid.UUID
	RoomID    uuid.UUID
	Role      thread.Role
	Content   string
	Sequence  int32
	CreatedAt time.Time
}

// Usage is one generation's token accounting, tied to its room.
type Usage struct {
	RoomID           uuid.UUID
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	CreatedAt        time.Time
}

// Store manages rooms, turns, and usage rows.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a conversation Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// EnsureRoom fetches the room, creating it on first use. A room that
// exists under a different tenant is reported as ErrNotFound, the same
// as one that does not exist at all.
func (s *Store) EnsureRoom(ctx context.Context, roomID uuid.UUID, tenantID, userID string) (*Room, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("tenant ID is required")
	}
	if userID == "" {
		return nil, fmt.Errorf("user ID is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO rooms (id, tenant_id, user_id)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO NOTHING`,
		roomID, tenantID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("creating room %s: %w", roomID, err)
	}

	return s.getRoom(ctx, roomID, tenantID)
}

// getRoom fetches a room scoped to a tenant.
func (s *Store) getRoom(ctx context.Context, roomID uuid.UUID, tenantID string) (*Room, error) {
	r := &Room{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, user_id, COALESCE(title, ''), turn_count, created_at, updated_at
		 FROM rooms
		 WHERE id = $1 AND tenant_id = $2`,
		roomID, tenantID,
	).Scan(&r.ID, &r.TenantID, &r.UserID, &r.Title, &r.TurnCount, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching room %s: %w", roomID, err)
	}
	return r, nil
}

// AppendTurns appends turns to a room in order, assigning contiguous
// sequence numbers. The room row is locked for the duration so two
// concurrent appends cannot claim the same sequence.
func (s *Store) AppendTurns(ctx context.Context, roomID uuid.UUID, turns []thread.Turn) error {
	if len(turns) == 0 {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			s.logger.Debug("transaction rollback", "error", rbErr)
		}
	}()

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx,
		`SELECT id FROM rooms WHERE id = $1 FOR UPDATE`, roomID,
	).Scan(&lockedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("locking room %s: %w", roomID, err)
	}

	var maxSeq int32
	err = tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(sequence_number), 0) FROM turns WHERE room_id = $1`, roomID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("reading max sequence for room %s: %w", roomID, err)
	}

	for i, turn := range turns {
		seq := maxSeq + int32(i) + 1 // #nosec G115 -- i is a loop index bounded by the slice length
		if _, err := tx.Exec(ctx,
			`INSERT INTO turns (room_id, role, content, sequence_number)
			 VALUES ($1, $2, $3, $4)`,
			roomID, string(turn.Role), turn.Content, seq,
		); err != nil {
			return fmt.Errorf("inserting turn %d: %w", i, err)
		}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE rooms SET turn_count = $2, updated_at = now() WHERE id = $1`,
		roomID, maxSeq+int32(len(turns)), // #nosec G115 -- len bounded by practical turn limits
	); err != nil {
		return fmt.Errorf("updating room metadata: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing turns: %w", err)
	}

	s.logger.Debug("appended turns", "room_id", roomID, "count", len(turns))
	return nil
}

// AppendUsage records one generation's token totals against a room.
func (s *Store) AppendUsage(ctx context.Context, roomID uuid.UUID, prompt, completion, total int) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO usage_records (room_id, prompt_tokens, completion_tokens, total_tokens)
		 VALUES ($1, $2, $3, $4)`,
		roomID, prompt, completion, total,
	)
	if err != nil {
		return fmt.Errorf("recording usage for room %s: %w", roomID, err)
	}
	return nil
}

// Turns returns a room's turns ordered by sequence number ascending.
func (s *Store) Turns(ctx context.Context, roomID uuid.UUID, limit, offset int32) ([]StoredTurn, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, role, content, sequence_number, created_at
		 FROM turns
		 WHERE room_id = $1
		 ORDER BY sequence_number ASC
		 LIMIT $2 OFFSET $3`,
		roomID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("listing turns for room %s: %w", roomID, err)
	}
	defer rows.Close()

	var turns []StoredTurn
	for rows.Next() {
		var t StoredTurn
		var role string
		if err := rows.Scan(&t.ID, &t.RoomID, &role, &t.Content, &t.Sequence, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		t.Role = thread.Role(role)
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating turns: %w", err)
	}
	return turns, nil
}

// UsageTotal sums recorded token totals for a room.
func (s *Store) UsageTotal(ctx context.Context, roomID uuid.UUID) (int64, error) {
	var total int64
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(SUM(total_tokens), 0) FROM usage_records WHERE room_id = $1`,
		roomID,
	).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("summing usage for room %s: %w", roomID, err)
	}
	return total, nil
}
