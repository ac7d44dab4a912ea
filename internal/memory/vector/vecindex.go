package vector

import (
	"sync"

	"lumen/internal/domain"
	"lumen/internal/memory/vecmath"
)

// vecIndex is an in-memory cosine-search cache over the embeddings a
// SQLiteStore has seen, lazily hydrated from the database on first use
// so recall doesn't rescan SQLite on every query — adapted from the
// teacher's vecIndex in adapter/memory/vector/vecindex.go, keyed by
// memory_key instead of entry id.
type vecIndex struct {
	mu      sync.RWMutex
	entries map[string][]float32
	loaded  bool
}

func newVecIndex() *vecIndex {
	return &vecIndex{entries: make(map[string][]float32)}
}

func (v *vecIndex) isLoaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

func (v *vecIndex) loadFromMap(entries map[string][]float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.loaded {
		return
	}
	for k, e := range entries {
		v.entries[k] = e
	}
	v.loaded = true
}

func (v *vecIndex) put(key string, embedding []float32) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.entries[key] = embedding
	v.loaded = true
}

func (v *vecIndex) remove(key string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.entries, key)
}

func (v *vecIndex) size() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.entries)
}

// get returns the embeddings for the keys present in the index, omitting
// any key not found rather than erroring.
func (v *vecIndex) get(keys []string) map[string][]float32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make(map[string][]float32, len(keys))
	for _, k := range keys {
		if emb, ok := v.entries[k]; ok {
			out[k] = emb
		}
	}
	return out
}

func (v *vecIndex) search(query []float32, limit int) []domain.VectorResult {
	v.mu.RLock()
	scores := make([]vecScore, 0, len(v.entries))
	for key, emb := range v.entries {
		scores = append(scores, vecScore{key: key, score: vecmath.CosineSimilarity(query, emb)})
	}
	v.mu.RUnlock()

	sortByScoreDesc(scores)
	if limit > len(scores) {
		limit = len(scores)
	}

	out := make([]domain.VectorResult, limit)
	for i := 0; i < limit; i++ {
		out[i] = domain.VectorResult{Key: scores[i].key, Score: scores[i].score}
	}
	return out
}
