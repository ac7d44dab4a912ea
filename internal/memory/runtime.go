package memory

import (
	"context"
	"log/slog"
	"time"

	"lumen/internal/domain"
	"lumen/internal/health"
	"lumen/internal/memory/backend"
	"lumen/internal/memory/lifecycle"
	"lumen/internal/memory/retrieval"
	"lumen/internal/memory/rollout"
	"lumen/internal/memory/vector"
)

// RuntimeConfig wires the components a Runtime assembles. Backend is
// required; everything else may be left zero-valued to degrade
// gracefully (no vector plane, no hygiene, in-process-only sessions).
type RuntimeConfig struct {
	Backend domain.Backend
	// ResponseCache is set when Backend is wrapped in a *backend.Cached —
	// it gives Deinit an explicit handle to close the cache's own db file
	// ahead of the backend it decorates. Leave nil when caching is off.
	ResponseCache   *backend.Cached
	ExtraSources    []domain.SourceAdapter
	VectorStore     domain.VectorStore
	Embedder        domain.EmbeddingProvider
	Breaker         domain.CircuitBreaker
	Outbox          *vector.Outbox
	Rollout         rollout.Policy
	Sessions        domain.SessionStore
	Hygiene         *lifecycle.Hygiene
	Health          *health.Registry
	Logger          *slog.Logger
	ShadowLogger    *slog.Logger
	FetchMultiplier int
	// DecayHalfLife and MMRDiversity configure the full engine's optional
	// post-fusion re-ranking; both are zero (disabled) by default. They
	// only apply to vector-augmented search, never the keyword-only path.
	DecayHalfLife time.Duration
	MMRDiversity  float64
}

// Runtime is the assembled memory subsystem an application holds: a
// Backend fronted by a retrieval engine with an optional vector plane,
// gated per-session by a rollout policy, backed by a durable outbox for
// eventual vector consistency — the composition root for every
// component the spec names, grounded on how the teacher wires its own
// usecase layer around a single domain.MemoryProvider, generalized to
// the capability-interface split this spec requires.
type Runtime struct {
	cfg           RuntimeConfig
	fullEngine    *retrieval.Engine
	keywordEngine *retrieval.Engine
	health        *health.Registry
	logger        *slog.Logger
}

// NewRuntime assembles a Runtime from cfg.
func NewRuntime(cfg RuntimeConfig) *Runtime {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Health == nil {
		cfg.Health = health.NewRegistry()
	}

	sources := append([]domain.SourceAdapter{retrieval.NewPrimaryAdapter(cfg.Backend)}, cfg.ExtraSources...)

	engineCfg := retrieval.EngineConfig{
		FetchMultiplier: cfg.FetchMultiplier,
		ShadowLogger:    cfg.ShadowLogger,
		DecayHalfLife:   cfg.DecayHalfLife,
		MMRDiversity:    cfg.MMRDiversity,
	}
	full := retrieval.NewEngine(sources, cfg.VectorStore, cfg.Embedder, cfg.Breaker, engineCfg)
	keywordOnly := retrieval.NewEngine(sources, nil, nil, nil, retrieval.EngineConfig{FetchMultiplier: cfg.FetchMultiplier})

	return &Runtime{cfg: cfg, fullEngine: full, keywordEngine: keywordOnly, health: cfg.Health, logger: cfg.Logger}
}

// Health exposes the runtime's health registry for readiness reporting.
func (r *Runtime) Health() *health.Registry { return r.health }

// Store writes a memory entry to the primary backend, then enqueues an
// eventual vector sync rather than embedding inline — keeping Store's
// latency independent of the embedding provider. tags and metadata are
// optional and may be nil.
func (r *Runtime) Store(ctx context.Context, key, content string, category domain.MemoryCategory, sessionID *string, tags []string, metadata map[string]string) error {
	if err := r.cfg.Backend.Store(ctx, key, content, category, sessionID, tags, metadata); err != nil {
		r.health.MarkError("backend", err)
		return err
	}
	r.health.MarkOK("backend")
	return r.syncVectorAfterStore(ctx, key)
}

// Forget deletes a memory entry and enqueues the matching vector
// deletion.
func (r *Runtime) Forget(ctx context.Context, key string) (bool, error) {
	removed, err := r.cfg.Backend.Forget(ctx, key)
	if err != nil {
		return false, err
	}
	if removed {
		r.enqueueVectorSync(ctx, key, domain.OutboxDelete)
	}
	return removed, nil
}

// syncVectorAfterStore enqueues a durable upsert sync for key following
// a successful Store, per spec.md §4.9.
func (r *Runtime) syncVectorAfterStore(ctx context.Context, key string) error {
	return r.enqueueVectorSync(ctx, key, domain.OutboxUpsert)
}

// enqueueVectorSync records a pending vector-plane operation in the
// outbox. It is a no-op if no outbox is configured (vector plane
// entirely disabled).
func (r *Runtime) enqueueVectorSync(ctx context.Context, key string, op domain.OutboxOperation) error {
	if r.cfg.Outbox == nil {
		return nil
	}
	return r.cfg.Outbox.Enqueue(ctx, key, op)
}

// DrainOutbox processes pending vector-sync entries, returning how many
// were successfully drained.
func (r *Runtime) DrainOutbox(ctx context.Context) (int, error) {
	if r.cfg.Outbox == nil || r.cfg.VectorStore == nil || r.cfg.Embedder == nil {
		return 0, nil
	}
	breaker := r.cfg.Breaker
	if breaker == nil {
		breaker = noopBreaker{}
	}
	n, err := r.cfg.Outbox.Drain(ctx, r.cfg.Embedder, r.cfg.VectorStore, breaker)
	if err != nil {
		r.health.MarkError("outbox", err)
		return n, err
	}
	r.health.MarkOK("outbox")
	return n, nil
}

// Search retrieves candidates for query, consulting the rollout policy
// to decide whether this session's search is vector-augmented,
// keyword-only, or vector-augmented-in-shadow (run for metrics, not
// merged into the returned results).
func (r *Runtime) Search(ctx context.Context, query string, limit int, sessionID *string) ([]domain.RetrievalCandidate, error) {
	sid := ""
	if sessionID != nil {
		sid = *sessionID
	}
	decision := r.cfg.Rollout.Evaluate(sid)

	if decision.Fuse {
		return r.fullEngine.Search(ctx, query, limit, sessionID)
	}

	if decision.Shadow {
		go func() {
			shadowCtx := context.Background()
			if _, err := r.fullEngine.Search(shadowCtx, query, limit, sessionID); err != nil {
				r.logger.Warn("shadow search failed", "error", err, "component", "memory.shadow")
			}
		}()
	}

	return r.keywordEngine.Search(ctx, query, limit, sessionID)
}

// Deinit releases every owned resource in spec order: extra source
// adapters that report ownership, the hygiene scheduler, the response
// cache, then the primary backend — grounded on the teacher's Deinit
// conventions on its adapter types.
func (r *Runtime) Deinit() error {
	for _, src := range r.cfg.ExtraSources {
		if src.OwnsSelf() {
			if err := src.Deinit(); err != nil {
				r.logger.Warn("source adapter deinit failed", "source", src.Name(), "error", err)
			}
		}
	}
	if r.cfg.Hygiene != nil {
		r.cfg.Hygiene.Stop()
	}
	if r.cfg.ResponseCache != nil {
		if err := r.cfg.ResponseCache.Close(); err != nil {
			r.logger.Warn("response cache close failed", "error", err)
		}
	}
	if closer, ok := r.cfg.Backend.(interface{ Close() error }); ok {
		return closer.Close()
	}
	return nil
}

// noopBreaker always allows, used when the vector plane is configured
// without a circuit breaker (e.g. tests, or a provider with its own
// retry policy).
type noopBreaker struct{}

func (noopBreaker) Allow() (func(bool), bool)   { return func(bool) {}, true }
func (noopBreaker) State() domain.BreakerState { return domain.BreakerClosed }
