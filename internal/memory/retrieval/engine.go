package retrieval

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"time"

	"lumen/internal/domain"
	"lumen/internal/memory/vecmath"
)

// rrfK is the Reciprocal Rank Fusion constant, fixed at 60 per spec.
const rrfK = 60.0

// EngineConfig tunes fan-out width, post-fusion re-ranking, and
// shadow-mode observability.
type EngineConfig struct {
	// FetchMultiplier widens each source's candidate fetch beyond the
	// caller's requested limit, so fusion has enough overlap to rank
	// against before truncation.
	FetchMultiplier int
	ShadowLogger    *slog.Logger

	// DecayHalfLife, if positive, multiplies each fused candidate's
	// score by an exponential decay factor based on its age. Zero
	// disables decay, leaving spec.md's base RRF score untouched.
	DecayHalfLife time.Duration
	// MMRDiversity, if positive, re-ranks the fused list with Maximal
	// Marginal Relevance to penalize near-duplicate results. Zero
	// disables MMR.
	MMRDiversity float64
}

// Engine fuses one or more keyword sources with an optional vector store
// via Reciprocal Rank Fusion, grounded on the teacher's
// Store.hybridSearch in adapter/memory/vector/search.go — generalized
// from a single combined store to N independently pluggable sources
// plus a separately owned vector store.
type Engine struct {
	sources     []domain.SourceAdapter
	vectorStore domain.VectorStore
	embedder    domain.EmbeddingProvider
	breaker     domain.CircuitBreaker
	cfg         EngineConfig
}

// NewEngine assembles a retrieval engine. vectorStore, embedder, and
// breaker may all be nil, in which case search degrades to keyword-only.
func NewEngine(sources []domain.SourceAdapter, vectorStore domain.VectorStore, embedder domain.EmbeddingProvider, breaker domain.CircuitBreaker, cfg EngineConfig) *Engine {
	if cfg.FetchMultiplier <= 0 {
		cfg.FetchMultiplier = 2
	}
	return &Engine{sources: sources, vectorStore: vectorStore, embedder: embedder, breaker: breaker, cfg: cfg}
}

// Search fans out to every keyword source and, if configured, the vector
// store, fuses the ranked lists with RRF, and returns the top `limit`
// candidates by FinalScore.
func (e *Engine) Search(ctx context.Context, query string, limit int, sessionID *string) ([]domain.RetrievalCandidate, error) {
	if limit <= 0 {
		limit = 10
	}
	fetchLimit := limit * e.cfg.FetchMultiplier

	start := time.Now()

	keywordLists, hydration, err := e.fetchKeywordLists(ctx, query, fetchLimit, sessionID)
	if err != nil {
		return nil, err
	}

	vectorList := e.fetchVectorList(ctx, query, fetchLimit)

	merged := fuse(keywordLists, vectorList, hydration)

	if e.cfg.ShadowLogger != nil {
		e.logShadowMetrics(keywordLists, vectorList, merged, time.Since(start))
	}

	if e.cfg.DecayHalfLife > 0 {
		applyTemporalDecay(merged, e.cfg.DecayHalfLife, time.Now())
		sort.Slice(merged, func(i, j int) bool { return merged[i].FinalScore > merged[j].FinalScore })
	}

	if e.cfg.MMRDiversity > 0 && len(merged) > 1 {
		merged = e.applyMMR(ctx, merged, limit, e.cfg.MMRDiversity)
	}

	if len(merged) > limit {
		merged = merged[:limit]
	}
	return merged, nil
}

// applyTemporalDecay multiplies each candidate's FinalScore by an
// exponential decay factor based on the time elapsed since its
// Timestamp, grounded on the teacher's applyTemporalDecay in
// adapter/memory/vector/search.go. A zero Timestamp (a source that
// doesn't track age) is treated as undecayed.
func applyTemporalDecay(candidates []domain.RetrievalCandidate, halfLife time.Duration, now time.Time) {
	halfLifeHours := halfLife.Hours()
	if halfLifeHours == 0 {
		return
	}
	ln2 := math.Log(2)

	for i := range candidates {
		if candidates[i].Timestamp.IsZero() {
			continue
		}
		hours := now.Sub(candidates[i].Timestamp).Hours()
		if hours < 0 {
			hours = 0
		}
		candidates[i].FinalScore *= math.Exp(-ln2 / halfLifeHours * hours)
	}
}

// applyMMR re-ranks candidates by Maximal Marginal Relevance, penalizing
// results whose embedding is similar to one already selected. Grounded
// on the teacher's Store.applyMMR in adapter/memory/vector/search.go.
// Gracefully falls back to the plain ranking (truncated to limit) when
// no vector store is configured or no embeddings are found for the
// candidate set.
func (e *Engine) applyMMR(ctx context.Context, candidates []domain.RetrievalCandidate, limit int, diversity float64) []domain.RetrievalCandidate {
	if e.vectorStore == nil {
		return candidates
	}
	keys := make([]string, len(candidates))
	for i, c := range candidates {
		keys[i] = c.Key
	}
	embeddings, err := e.vectorStore.GetEmbeddings(ctx, keys)
	if err != nil || len(embeddings) == 0 {
		return candidates
	}

	lambda := 1.0 - diversity
	selected := make([]domain.RetrievalCandidate, 0, min(limit, len(candidates)))
	remaining := make([]int, len(candidates))
	for i := range remaining {
		remaining[i] = i
	}

	for len(selected) < limit && len(remaining) > 0 {
		bestIdx := -1
		bestScore := math.Inf(-1)

		for ri, ci := range remaining {
			candEmb, ok := embeddings[candidates[ci].Key]
			if !ok {
				mmrScore := lambda * candidates[ci].FinalScore
				if mmrScore > bestScore {
					bestScore, bestIdx = mmrScore, ri
				}
				continue
			}

			var maxSim float64
			for _, sel := range selected {
				selEmb, ok := embeddings[sel.Key]
				if !ok {
					continue
				}
				if sim := vecmath.CosineSimilarity(candEmb, selEmb); sim > maxSim {
					maxSim = sim
				}
			}

			mmrScore := lambda*candidates[ci].FinalScore - (1-lambda)*maxSim
			if mmrScore > bestScore {
				bestScore, bestIdx = mmrScore, ri
			}
		}

		if bestIdx < 0 {
			break
		}
		selected = append(selected, candidates[remaining[bestIdx]])
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)
	}

	return selected
}

// fetchKeywordLists queries every registered keyword source, returning
// each source's ranked candidate list alongside a lookup table (by key)
// used later to hydrate vector-only hits. Index 0 is always the primary
// backend's adapter (Runtime.NewRuntime puts PrimaryAdapter first); a
// primary failure is fatal to the search even when other sources still
// answer, since the primary backend is the source of truth and its
// absence from the fused results would silently look like "no matches"
// rather than an outage. A non-primary source's failure degrades
// gracefully and is otherwise ignored.
func (e *Engine) fetchKeywordLists(ctx context.Context, query string, limit int, sessionID *string) ([][]domain.RetrievalCandidate, map[string]domain.RetrievalCandidate, error) {
	var (
		lists    [][]domain.RetrievalCandidate
		hydrated = map[string]domain.RetrievalCandidate{}
	)

	for i, src := range e.sources {
		candidates, err := src.KeywordCandidates(ctx, query, limit, sessionID)
		if err != nil {
			if i == 0 {
				return nil, nil, err
			}
			continue
		}
		for _, c := range candidates {
			hydrated[c.Key] = c
		}
		if len(candidates) > 0 {
			lists = append(lists, candidates)
		}
	}
	return lists, hydrated, nil
}

// fetchVectorList embeds the query (guarded by the circuit breaker) and
// ranks the vector store's nearest neighbors. It returns nil on any
// failure — a vector outage degrades search to keyword-only rather than
// failing the whole request.
func (e *Engine) fetchVectorList(ctx context.Context, query string, limit int) []domain.VectorResult {
	if e.vectorStore == nil || e.embedder == nil {
		return nil
	}

	if e.breaker != nil {
		done, ok := e.breaker.Allow()
		if !ok {
			return nil
		}
		vecs, err := e.embedder.Embed(ctx, []string{query})
		done(err == nil && len(vecs) > 0)
		if err != nil || len(vecs) == 0 {
			return nil
		}
		results, err := e.vectorStore.Search(ctx, vecs[0], limit)
		if err != nil {
			return nil
		}
		return results
	}

	vecs, err := e.embedder.Embed(ctx, []string{query})
	if err != nil || len(vecs) == 0 {
		return nil
	}
	results, err := e.vectorStore.Search(ctx, vecs[0], limit)
	if err != nil {
		return nil
	}
	return results
}

// fuse merges keyword lists and a vector list with RRF. It is
// deliberately two-pass: first accumulate scores into a map (never
// mutating a shared candidate pointer in place), then build a fresh
// output slice from that map and sort it. A single non-empty list still
// goes through the same formula — RRF with one contributing list reduces
// to a plain rank-based score, so no special-casing is needed to match
// that behavior.
func fuse(keywordLists [][]domain.RetrievalCandidate, vectorList []domain.VectorResult, hydration map[string]domain.RetrievalCandidate) []domain.RetrievalCandidate {
	scores := map[string]float64{}
	best := map[string]domain.RetrievalCandidate{}
	var vectorScore = map[string]float64{}

	for _, list := range keywordLists {
		for rank, c := range list {
			scores[c.Key] += 1.0 / float64(rrfK+float64(rank)+1)
			if existing, ok := best[c.Key]; !ok || len(c.Content) > len(existing.Content) {
				best[c.Key] = c
			}
		}
	}

	for rank, v := range vectorList {
		scores[v.Key] += 1.0 / float64(rrfK+float64(rank)+1)
		vectorScore[v.Key] = v.Score
		if _, ok := best[v.Key]; !ok {
			if hydrated, found := hydration[v.Key]; found {
				best[v.Key] = hydrated
			} else {
				best[v.Key] = domain.RetrievalCandidate{Key: v.Key, Source: "vector"}
			}
		}
	}

	out := make([]domain.RetrievalCandidate, 0, len(scores))
	for key, score := range scores {
		cand := best[key]
		cand.FinalScore = score
		if vs, ok := vectorScore[key]; ok {
			v := vs
			cand.VectorScore = &v
		}
		out = append(out, cand)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].FinalScore > out[j].FinalScore })
	return out
}

func (e *Engine) logShadowMetrics(keywordLists [][]domain.RetrievalCandidate, vectorList []domain.VectorResult, merged []domain.RetrievalCandidate, elapsed time.Duration) {
	keywordCount := 0
	for _, l := range keywordLists {
		keywordCount += len(l)
	}

	overlap := 0
	keywordKeys := map[string]bool{}
	for _, l := range keywordLists {
		for _, c := range l {
			keywordKeys[c.Key] = true
		}
	}
	for _, v := range vectorList {
		if keywordKeys[v.Key] {
			overlap++
		}
	}

	e.cfg.ShadowLogger.Info("shadow_hybrid_search",
		"component", "memory.shadow",
		"keyword_result_count", keywordCount,
		"hybrid_result_count", len(merged),
		"overlap_count", overlap,
		"wallclock_ms", elapsed.Milliseconds(),
	)
}
