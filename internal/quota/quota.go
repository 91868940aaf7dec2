// Package quota enforces per-tenant token ceilings. A tenant with no
// quota row, or with a zero ceiling, is unlimited; enforcement only kicks
// in once a ceiling is configured.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ExceededMessage is the user-visible message for a rejected turn.
const ExceededMessage = "Limit exceeded"

// Decision is the outcome of a quota check.
type Decision struct {
	Allowed bool
	Message string
}

// Service reads and updates tenant quotas in PostgreSQL.
//
// Service is safe for concurrent use by multiple goroutines.
type Service struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewService creates a quota Service.
func NewService(pool *pgxpool.Pool, logger *slog.Logger) (*Service, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{pool: pool, logger: logger}, nil
}

// Check reports whether the tenant may run another turn.
func (s *Service) Check(ctx context.Context, tenantID string) (Decision, error) {
	if tenantID == "" {
		return Decision{}, fmt.Errorf("tenant ID is required")
	}

	var used, ceiling int64
	err := s.pool.QueryRow(ctx,
		`SELECT tokens_used, token_ceiling FROM tenant_quotas WHERE tenant_id = $1`,
		tenantID,
	).Scan(&used, &ceiling)
	if errors.Is(err, pgx.ErrNoRows) {
		return Decision{Allowed: true}, nil
	}
	if err != nil {
		return Decision{}, fmt.Errorf("checking quota for %s: %w", tenantID, err)
	}

	if ceiling > 0 && used >= ceiling {
		return Decision{Allowed: false, Message: ExceededMessage}, nil
	}
	return Decision{Allowed: true}, nil
}

// Record adds a completed turn's token total to the tenant's running
// counter, creating an unlimited (zero-ceiling) row if none exists.
func (s *Service) Record(ctx context.Context, tenantID string, tokens int) error {
	if tenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if tokens <= 0 {
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenant_quotas (tenant_id, token_ceiling, tokens_used)
		 VALUES ($1, 0, $2)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET tokens_used = tenant_quotas.tokens_used + EXCLUDED.tokens_used,
		     updated_at = now()`,
		tenantID, tokens,
	)
	if err != nil {
		return fmt.Errorf("recording usage for %s: %w", tenantID, err)
	}
	return nil
}

// SetCeiling configures the tenant's ceiling. Zero disables enforcement.
func (s *Service) SetCeiling(ctx context.Context, tenantID string, ceiling int64) error {
	if tenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if ceiling < 0 {
		return fmt.Errorf("ceiling must not be negative")
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO tenant_quotas (tenant_id, token_ceiling, tokens_used)
		 VALUES ($1, $2, 0)
		 ON CONFLICT (tenant_id) DO UPDATE
		 SET token_ceiling = EXCLUDED.token_ceiling, updated_at = now()`,
		tenantID, ceiling,
	)
	if err != nil {
		return fmt.Errorf("setting ceiling for %s: %w", tenantID, err)
	}
	return nil
}
