// Package tenant stores per-tenant settings, currently the optional
// behavioral preamble merged into the system prompt.
package tenant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store reads tenant settings from PostgreSQL. It satisfies the chat
// executor's PreambleSource.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewStore creates a tenant Store.
func NewStore(pool *pgxpool.Pool, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}, nil
}

// Preamble returns the tenant's preamble, or "" when the tenant has none
// configured. Sanitization happens at the point of use.
func (s *Store) Preamble(ctx context.Context, tenantID string) (string, error) {
	if tenantID == "" {
		return "", fmt.Errorf("tenant ID is required")
	}

	var preamble string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(preamble, '') FROM tenants WHERE id = $1`,
		tenantID,
	).Scan(&preamble)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading preamble for %s: %w", tenantID, err)
	}
	return preamble, nil
}

// SetPreamble upserts the tenant's preamble.
func (s *Store) SetPreamble(ctx context.Context, tenantID, preamble string) error {
	if tenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenants (id, preamble)
		 VALUES ($1, $2)
		 ON CONFLICT (id) DO UPDATE
		 SET preamble = EXCLUDED.preamble, updated_at = now()`,
		tenantID, preamble,
	)
	if err != nil {
		return fmt.Errorf("setting preamble for %s: %w", tenantID, err)
	}
	return nil
}
