// Package knowledge stores tenant-scoped knowledge articles and serves
// vector similarity search over them, backed by PostgreSQL + pgvector.
//
// Articles are the source of truth: the vector index holds a snippet and
// an embedding per article, and hydration fetches the full record by ID.
// All queries are filtered by tenant; an article is never visible across
// tenant boundaries.
package knowledge
