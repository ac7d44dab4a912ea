package domain

import "context"

// EmbeddingProvider turns text into fixed-length vectors.
type EmbeddingProvider interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// VectorStore persists {key -> embedding} and performs brute-force
// nearest-neighbor search. A SQLite-backed implementation shares its
// handle with the primary store and must never close it.
type VectorStore interface {
	Upsert(ctx context.Context, key string, embedding []float32) error
	Search(ctx context.Context, queryEmbedding []float32, limit int) ([]VectorResult, error)
	Delete(ctx context.Context, key string) error
	Count(ctx context.Context) (int, error)
	// GetEmbeddings returns whichever of keys have a stored embedding,
	// omitting the rest. Used for pairwise similarity in MMR re-ranking.
	GetEmbeddings(ctx context.Context, keys []string) (map[string][]float32, error)
}

// CircuitBreaker is the closed/open/half_open gate guarding embedding
// calls. Allow is the only pre-call gate: a denied call returns ok ==
// false and a nil done func. An admitted call must invoke done exactly
// once with the outcome of the guarded operation.
type CircuitBreaker interface {
	Allow() (done func(success bool), ok bool)
	State() BreakerState
}

// Outbox is the durable, persistent queue of pending vector-sync
// operations co-located with the primary SQLite database.
type Outbox interface {
	Enqueue(ctx context.Context, key string, op OutboxOperation) error
	Drain(ctx context.Context, provider EmbeddingProvider, vs VectorStore, breaker CircuitBreaker) (int, error)
}

// SourceAdapter exposes a source of keyword-ranked candidates participating
// in the retrieval fan-out. The primary adapter wraps a Backend; additional
// adapters may be registered for cross-source fusion.
type SourceAdapter interface {
	Name() string
	Capabilities() BackendCapabilities
	KeywordCandidates(ctx context.Context, query string, limit int, sessionID *string) ([]RetrievalCandidate, error)
	// Get hydrates a single candidate by key, used to fill in content for
	// a vector-only hit that didn't surface in this source's keyword list.
	Get(ctx context.Context, key string) (RetrievalCandidate, bool, error)
	HealthCheck(ctx context.Context) bool
	Deinit() error
	// OwnsSelf reports whether the retrieval engine is responsible for
	// calling Deinit on this adapter, versus a caller merely lending it.
	OwnsSelf() bool
}
