package knowledge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/firebase/genkit/go/ai"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"google.golang.org/genai"
)

// ErrNotFound is returned when an article does not exist for the tenant.
var ErrNotFound = errors.New("article not found")

const (
	// EmbedTimeout bounds a single embedding call.
	EmbedTimeout = 15 * time.Second

	// MaxQueryLength caps the text sent to the embedder for search.
	MaxQueryLength = 2000
)

// Store manages knowledge articles backed by PostgreSQL + pgvector.
//
// Store is safe for concurrent use by multiple goroutines.
type Store struct {
	pool     *pgxpool.Pool
	embedder ai.Embedder
	logger   *slog.Logger
}

// NewStore creates a knowledge Store.
func NewStore(pool *pgxpool.Pool, embedder ai.Embedder, logger *slog.Logger) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, embedder: embedder, logger: logger}, nil
}

// Embed generates a unit-length embedding for the given text.
//
// Both stored article vectors and search query vectors go through this
// method, so cosine distances in the index stay comparable.
func (s *Store) Embed(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("text is required")
	}
	if len(text) > MaxQueryLength {
		text = text[:MaxQueryLength]
	}

	embedCtx, cancel := context.WithTimeout(ctx, EmbedTimeout)
	defer cancel()

	dim := VectorDimension
	resp, err := s.embedder.Embed(embedCtx, &ai.EmbedRequest{
		Input:   []*ai.Document{ai.DocumentFromText(text, nil)},
		Options: &genai.EmbedContentConfig{OutputDimensionality: &dim},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Embedding) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}
	return Normalize(resp.Embeddings[0].Embedding), nil
}

// Upsert embeds and writes an article. An existing article with the same
// ID and tenant is replaced in full, embedding included.
func (s *Store) Upsert(ctx context.Context, a Article) error {
	if a.ID == "" {
		return fmt.Errorf("article ID is required")
	}
	if a.TenantID == "" {
		return fmt.Errorf("tenant ID is required")
	}
	if a.Title == "" || a.Content == "" {
		return fmt.Errorf("title and content are required")
	}
	if a.Snippet == "" {
		a.Snippet = snippetOf(a.Content, 280)
	}

	// Title and snippet carry the most search-relevant signal; the full
	// body often dilutes it with boilerplate.
	vec, err := s.Embed(ctx, a.Title+"\n"+a.Snippet)
	if err != nil {
		return fmt.Errorf("embedding article %s: %w", a.ID, err)
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO articles (id, tenant_id, title, snippet, content, embedding)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (tenant_id, id) DO UPDATE
		 SET title = EXCLUDED.title, snippet = EXCLUDED.snippet,
		     content = EXCLUDED.content, embedding = EXCLUDED.embedding,
		     updated_at = now()`,
		a.ID, a.TenantID, a.Title, a.Snippet, a.Content, pgvector.NewVector(vec),
	)
	if err != nil {
		return fmt.Errorf("upserting article %s: %w", a.ID, err)
	}
	return nil
}

// Search finds articles similar to the query vector within a single
// tenant. Results are ordered by cosine similarity descending and
// filtered by the score threshold.
func (s *Store) Search(ctx context.Context, vec []float32, tenantID string, limit int, threshold float64) ([]Hit, error) {
	if tenantID == "" {
		return []Hit{}, nil
	}
	if len(vec) == 0 {
		return []Hit{}, nil
	}
	if limit <= 0 {
		limit = 10
	}

	pv := pgvector.NewVector(vec)
	rows, err := s.pool.Query(ctx,
		`SELECT id, title, snippet, 1 - (embedding <=> $1) AS similarity
		 FROM articles
		 WHERE tenant_id = $2
		   AND 1 - (embedding <=> $1) >= $3
		 ORDER BY embedding <=> $1
		 LIMIT $4`,
		pv, tenantID, threshold, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("searching articles: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var h Hit
		if err := rows.Scan(&h.ID, &h.Title, &h.Snippet, &h.Score); err != nil {
			return nil, fmt.Errorf("scanning hit: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating hits: %w", err)
	}
	return hits, nil
}

// GetByID fetches a full article by ID within a tenant.
// Returns ErrNotFound if no matching article exists; an article owned by
// another tenant is indistinguishable from one that does not exist.
func (s *Store) GetByID(ctx context.Context, tenantID, id string) (*Article, error) {
	a := &Article{}
	err := s.pool.QueryRow(ctx,
		`SELECT id, tenant_id, title, snippet, content, created_at
		 FROM articles
		 WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	).Scan(&a.ID, &a.TenantID, &a.Title, &a.Snippet, &a.Content, &a.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching article %s: %w", id, err)
	}
	return a, nil
}

// Delete removes an article. Returns ErrNotFound when nothing matched.
func (s *Store) Delete(ctx context.Context, tenantID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM articles WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("deleting article %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Count returns the number of articles a tenant owns.
func (s *Store) Count(ctx context.Context, tenantID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM articles WHERE tenant_id = $1`,
		tenantID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting articles: %w", err)
	}
	return n, nil
}

// snippetOf derives a short snippet from article content when the caller
// did not provide one.
func snippetOf(content string, maxRunes int) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= maxRunes {
		return content
	}
	return strings.TrimSpace(string(runes[:maxRunes])) + "..."
}
