package knowledge

import "time"

// VectorDimension is the embedding width stored in the articles table.
// The embedder is configured to emit exactly this many dimensions; the
// pgvector column is vector(768).
const VectorDimension int32 = 768

// Article is a full knowledge record, the source of truth a retrieval
// hit hydrates into.
type Article struct {
	ID        string
	TenantID  string
	Title     string
	Snippet   string
	Content   string
	CreatedAt time.Time
}

// Hit is one vector search result: enough to cite, not the full record.
type Hit struct {
	ID      string
	Title   string
	Snippet string
	Score   float64
}
