package db

import (
	"context"
	"database/sql"
)

// Queries holds the embedding cache statements.
type Queries struct {
	db *sql.DB
}

func New(conn *sql.DB) *Queries {
	return &Queries{db: conn}
}

type EmbeddingCache struct {
	ContentHash string
	EmbedModel  string
	Embedding   []byte
	CreatedAt   int64
	AccessedAt  int64
}

const getEmbeddingCache = `
UPDATE embedding_cache SET accessed_at = unixepoch()
WHERE content_hash = ?
RETURNING content_hash, embed_model, embedding, created_at, accessed_at
`

// GetEmbeddingCache returns the cached row and marks it as recently used.
// It returns sql.ErrNoRows on a miss.
func (q *Queries) GetEmbeddingCache(ctx context.Context, contentHash string) (EmbeddingCache, error) {
	var e EmbeddingCache
	err := q.db.QueryRowContext(ctx, getEmbeddingCache, contentHash).Scan(
		&e.ContentHash,
		&e.EmbedModel,
		&e.Embedding,
		&e.CreatedAt,
		&e.AccessedAt,
	)
	return e, err
}

type UpsertEmbeddingCacheParams struct {
	ContentHash string
	EmbedModel  string
	Embedding   []byte
}

const upsertEmbeddingCache = `
INSERT INTO embedding_cache (content_hash, embed_model, embedding)
VALUES (?, ?, ?)
ON CONFLICT (content_hash) DO UPDATE SET
    embed_model = excluded.embed_model,
    embedding   = excluded.embedding,
    accessed_at = unixepoch()
`

func (q *Queries) UpsertEmbeddingCache(ctx context.Context, arg UpsertEmbeddingCacheParams) error {
	_, err := q.db.ExecContext(ctx, upsertEmbeddingCache, arg.ContentHash, arg.EmbedModel, arg.Embedding)
	return err
}

const pruneEmbeddingCache = `
DELETE FROM embedding_cache
WHERE content_hash NOT IN (
    SELECT content_hash FROM embedding_cache
    ORDER BY accessed_at DESC, created_at DESC
    LIMIT ?
)
`

// PruneEmbeddingCache keeps only the keep most recently used rows.
func (q *Queries) PruneEmbeddingCache(ctx context.Context, keep int64) error {
	_, err := q.db.ExecContext(ctx, pruneEmbeddingCache, keep)
	return err
}

const countEmbeddingCache = `SELECT COUNT(*) FROM embedding_cache`

func (q *Queries) CountEmbeddingCache(ctx context.Context) (int64, error) {
	var n int64
	err := q.db.QueryRowContext(ctx, countEmbeddingCache).Scan(&n)
	return n, err
}
