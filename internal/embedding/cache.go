package embedding

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"vectorize/internal/db"
)

const defaultCacheSize = 10000

// CachedModel wraps a Model with SHA-256 content-addressed caching in SQLite.
type CachedModel struct {
	inner     Model
	modelID   string
	precision string
	queries   *db.Queries
	cacheSize int
}

// NewCachedModel caches inner's vectors under the model id and precision of
// spec.
func NewCachedModel(inner Model, spec Spec, database *db.DB, cacheSize int) *CachedModel {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &CachedModel{
		inner:     inner,
		modelID:   spec.ID,
		precision: precisionOf(spec),
		queries:   db.New(database.Conn()),
		cacheSize: cacheSize,
	}
}

// WithCache decorates every model produced by loader with a CachedModel.
func WithCache(loader Loader, database *db.DB, cacheSize int) Loader {
	return func(ctx context.Context, spec Spec) (Model, error) {
		m, err := loader(ctx, spec)
		if err != nil {
			return nil, err
		}
		return NewCachedModel(m, spec, database, cacheSize), nil
	}
}

func (c *CachedModel) Reentrant() bool {
	r, ok := c.inner.(Reentrant)
	return ok && r.Reentrant()
}

func (c *CachedModel) Encode(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	results := make([][]float32, len(texts))
	var misses []int // indices of texts not found in cache

	for i, text := range texts {
		if v, ok := c.lookup(ctx, text); ok {
			results[i] = v
			continue
		}
		misses = append(misses, i)
	}

	if len(misses) == 0 {
		return results, nil
	}

	missTexts := make([]string, len(misses))
	for i, idx := range misses {
		missTexts[i] = texts[idx]
	}

	embeddings, err := c.inner.Encode(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(embeddings) != len(misses) {
		return nil, fmt.Errorf("model returned %d vectors for %d texts", len(embeddings), len(misses))
	}

	for i, idx := range misses {
		results[idx] = embeddings[i]
		if err := c.queries.UpsertEmbeddingCache(ctx, db.UpsertEmbeddingCacheParams{
			ContentHash: c.contentHash(texts[idx]),
			EmbedModel:  c.modelID,
			Embedding:   encodeVector(embeddings[i]),
		}); err != nil {
			slog.Debug("embedding cache store error", "error", err)
		}
	}

	// Best-effort.
	if err := c.queries.PruneEmbeddingCache(ctx, int64(c.cacheSize)); err != nil {
		slog.Debug("embedding cache prune error", "error", err)
	}

	return results, nil
}

// lookup returns the cached vector for text. Lookup errors and corrupt rows
// count as misses.
func (c *CachedModel) lookup(ctx context.Context, text string) ([]float32, bool) {
	row, err := c.queries.GetEmbeddingCache(ctx, c.contentHash(text))
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			slog.Debug("embedding cache lookup error", "error", err)
		}
		return nil, false
	}
	v, err := decodeVector(row.Embedding)
	if err != nil {
		slog.Debug("embedding cache row unreadable", "model", row.EmbedModel, "error", err)
		return nil, false
	}
	return v, true
}

// contentHash keys entries by model and precision as well as text so switching
// either never serves stale vectors.
func (c *CachedModel) contentHash(text string) string {
	h := sha256.Sum256([]byte(c.modelID + "\x00" + c.precision + "\x00" + text))
	return fmt.Sprintf("%x", h)
}

func precisionOf(spec Spec) string {
	if spec.FP16 {
		return "fp16"
	}
	return "fp32"
}
