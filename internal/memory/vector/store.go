// Package vector implements the embedding storage, in-memory search
// cache, and circuit breaker that together make up the vector plane of
// the memory runtime. It is a derived store: SQLite-backed instances
// borrow the primary backend's *sql.DB handle and never close it.
package vector

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"lumen/internal/domain"
	"lumen/internal/memory/vecmath"
)

// SQLiteStore persists embeddings in the memory_embeddings table of a
// database it does not own, and keeps an in-memory cosine-search cache
// so recall doesn't rescan SQLite on every query — grounded on the
// teacher's vecIndex in adapter/memory/vector/vecindex.go.
type SQLiteStore struct {
	db    *sql.DB
	index *vecIndex
}

// NewSQLiteStore wraps an existing, primary-owned *sql.DB. The backend
// that opened db retains ownership; SQLiteStore never calls db.Close.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, index: newVecIndex()}
}

// Upsert implements domain.VectorStore.
func (s *SQLiteStore) Upsert(ctx context.Context, key string, embedding []float32) error {
	blob := vecmath.VecToBytes(embedding)
	now := time.Now().UTC().Format(time.RFC3339)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_embeddings (memory_key, embedding, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(memory_key) DO UPDATE SET embedding = excluded.embedding, updated_at = excluded.updated_at
	`, key, blob, now)
	if err != nil {
		return fmt.Errorf("%w: upsert embedding: %v", domain.ErrVectorStore, err)
	}

	s.index.put(key, embedding)
	return nil
}

// Search implements domain.VectorStore, scanning the in-memory cache
// (lazily hydrated from SQLite on first use) rather than SQLite itself.
func (s *SQLiteStore) Search(ctx context.Context, queryEmbedding []float32, limit int) ([]domain.VectorResult, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	return s.index.search(queryEmbedding, limit), nil
}

// Delete implements domain.VectorStore.
func (s *SQLiteStore) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM memory_embeddings WHERE memory_key = ?", key); err != nil {
		return fmt.Errorf("%w: delete embedding: %v", domain.ErrVectorStore, err)
	}
	s.index.remove(key)
	return nil
}

// Count implements domain.VectorStore.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return 0, err
	}
	return s.index.size(), nil
}

// GetEmbeddings implements domain.VectorStore, returning whichever of the
// requested keys have a stored embedding. Used by MMR re-ranking to
// compute pairwise similarity between already-fused candidates.
func (s *SQLiteStore) GetEmbeddings(ctx context.Context, keys []string) (map[string][]float32, error) {
	if err := s.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return s.index.get(keys), nil
}

func (s *SQLiteStore) ensureLoaded(ctx context.Context) error {
	if s.index.isLoaded() {
		return nil
	}

	rows, err := s.db.QueryContext(ctx, "SELECT memory_key, embedding FROM memory_embeddings")
	if err != nil {
		return fmt.Errorf("%w: load embeddings: %v", domain.ErrVectorStore, err)
	}
	defer rows.Close()

	entries := map[string][]float32{}
	for rows.Next() {
		var key string
		var blob []byte
		if err := rows.Scan(&key, &blob); err != nil {
			continue
		}
		entries[key] = vecmath.BytesToVec(blob)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("%w: load embeddings: %v", domain.ErrVectorStore, err)
	}

	s.index.loadFromMap(entries)
	return nil
}

var _ domain.VectorStore = (*SQLiteStore)(nil)

// vecScore pairs a key with its similarity to a query vector, used only
// while sorting search results.
type vecScore struct {
	key   string
	score float64
}

func sortByScoreDesc(scores []vecScore) {
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
}
