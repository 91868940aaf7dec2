// Package retrieval assembles grounding context for a chat turn: it turns
// the latest user message into a standalone search query, runs tenant-scoped
// vector search over the knowledge base, and renders the best hits into a
// citation list plus a context block for the system prompt.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/quillhq/quill/internal/knowledge"
	"github.com/quillhq/quill/internal/thread"
)

const (
	// MaxCitations is how many deduplicated hits are surfaced as sources.
	MaxCitations = 10

	// HydrateCount is how many top hits get their full article fetched
	// into the context block. Hydration is the expensive part, so it is
	// capped well below the citation list.
	HydrateCount = 3

	// DefaultSearchLimit is the vector index result cap before dedup.
	DefaultSearchLimit = 15

	// DefaultScoreThreshold discards hits below this cosine similarity.
	DefaultScoreThreshold = 0.5
)

// Rewriter turns a conversational question into a standalone search query.
type Rewriter interface {
	Rewrite(ctx context.Context, history []thread.Turn, query string) (string, error)
}

// Index is the slice of the knowledge store the builder needs.
// *knowledge.Store satisfies it.
type Index interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Search(ctx context.Context, vec []float32, tenantID string, limit int, threshold float64) ([]knowledge.Hit, error)
	GetByID(ctx context.Context, tenantID, id string) (*knowledge.Article, error)
}

// Citation is one source reference surfaced to the caller.
type Citation struct {
	ID    string  `json:"id"`
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Context is the outcome of one retrieval pass. Citations may be non-empty
// while Text is empty when hydration failed for every top hit.
type Context struct {
	Citations []Citation
	Text      string
}

// Config parameterizes a Builder.
type Config struct {
	SearchLimit    int
	ScoreThreshold float64
}

// Builder runs the retrieval pipeline. Every externally-caused failure
// inside Build degrades to a smaller result instead of failing the turn.
type Builder struct {
	rewriter  Rewriter
	index     Index
	limit     int
	threshold float64
	logger    *slog.Logger
}

// NewBuilder creates a Builder. Zero config fields fall back to defaults.
func NewBuilder(rewriter Rewriter, index Index, cfg Config, logger *slog.Logger) (*Builder, error) {
	if rewriter == nil {
		return nil, fmt.Errorf("rewriter is required")
	}
	if index == nil {
		return nil, fmt.Errorf("index is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SearchLimit <= 0 {
		cfg.SearchLimit = DefaultSearchLimit
	}
	if cfg.ScoreThreshold <= 0 {
		cfg.ScoreThreshold = DefaultScoreThreshold
	}
	return &Builder{
		rewriter:  rewriter,
		index:     index,
		limit:     cfg.SearchLimit,
		threshold: cfg.ScoreThreshold,
		logger:    logger,
	}, nil
}

// Build produces retrieval context for the latest user turn in history.
//
// Pipeline: rewrite to a standalone query, embed and normalize, search the
// tenant's slice of the index, dedup hits by label keeping rank order,
// surface the top MaxCitations as citations, and hydrate the top
// HydrateCount into the context text.
//
// Failure policy: a rewrite failure falls back to the raw query; an embed
// or search failure logs and returns an empty Context; a hydration failure
// for one article logs and renders that hit from its snippet alone. Build
// returns a non-nil error only for caller mistakes (no user turn).
func (b *Builder) Build(ctx context.Context, tenantID string, history []thread.Turn) (*Context, error) {
	query := latestUserTurn(history)
	if query == "" {
		return nil, fmt.Errorf("history contains no user turn")
	}

	standalone, err := b.rewriter.Rewrite(ctx, history, query)
	if err != nil || strings.TrimSpace(standalone) == "" {
		if err != nil {
			b.logger.Warn("query rewrite failed, using raw query", "error", err)
		}
		standalone = query
	}

	vec, err := b.index.Embed(ctx, standalone)
	if err != nil {
		b.logger.Warn("embedding query failed, continuing without context", "error", err)
		return &Context{}, nil
	}
	vec = knowledge.Normalize(vec)

	hits, err := b.index.Search(ctx, vec, tenantID, b.limit, b.threshold)
	if err != nil {
		b.logger.Warn("vector search failed, continuing without context", "error", err)
		return &Context{}, nil
	}
	if len(hits) == 0 {
		return &Context{}, nil
	}

	hits = dedupByLabel(hits)
	if len(hits) > MaxCitations {
		hits = hits[:MaxCitations]
	}

	citations := make([]Citation, len(hits))
	for i, h := range hits {
		citations[i] = Citation{ID: h.ID, Label: h.Title, Score: h.Score}
	}

	text := b.hydrate(ctx, tenantID, hits)
	return &Context{Citations: citations, Text: text}, nil
}

// hydrate renders the top hits into the context block, fetching the full
// article for each. A failed fetch degrades that hit to its snippet.
func (b *Builder) hydrate(ctx context.Context, tenantID string, hits []knowledge.Hit) string {
	n := len(hits)
	if n > HydrateCount {
		n = HydrateCount
	}

	var sb strings.Builder
	for _, h := range hits[:n] {
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "### %s (similarity %.2f)\n%s", h.Title, h.Score, h.Snippet)

		article, err := b.index.GetByID(ctx, tenantID, h.ID)
		if err != nil {
			b.logger.Warn("hydrating article failed, using snippet only",
				"article_id", h.ID, "error", err)
			continue
		}
		sb.WriteString("\n\n")
		sb.WriteString(article.Content)
	}
	return sb.String()
}

// dedupByLabel drops later hits sharing a label with an earlier one.
// Rank order is preserved, so the first (highest-scoring) occurrence wins.
func dedupByLabel(hits []knowledge.Hit) []knowledge.Hit {
	seen := make(map[string]bool, len(hits))
	out := hits[:0:0]
	for _, h := range hits {
		if seen[h.Title] {
			continue
		}
		seen[h.Title] = true
		out = append(out, h)
	}
	return out
}

// latestUserTurn returns the content of the most recent user turn.
func latestUserTurn(history []thread.Turn) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].Role == thread.RoleUser {
			return history[i].Content
		}
	}
	return ""
}
