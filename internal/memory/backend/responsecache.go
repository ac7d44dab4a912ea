package backend

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"lumen/internal/domain"
)

// Cached wraps a domain.Backend with a TTL- and size-bounded Recall cache
// persisted to its own SQLite file (response_cache.db per the persisted
// layout), keyed on (query, limit, sessionID). Store/Forget invalidate the
// whole cache rather than a single key — a Recall result is a ranking over
// the entire corpus, and a targeted invalidation would still need to guess
// which cached queries a given write could affect.
type Cached struct {
	inner      domain.Backend
	db         *sql.DB
	ttl        time.Duration
	maxEntries int
}

// NewCached opens (or creates) the response cache database at dbPath and
// wraps inner with a Recall cache using the given TTL and maximum entry
// count. A maxEntries of 0 or less disables the bound (unlimited).
func NewCached(inner domain.Backend, dbPath string, ttl time.Duration, maxEntries int) (*Cached, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open response cache: %v", domain.ErrBackendIO, err)
	}
	db.SetMaxOpenConns(1)

	const schema = `
		CREATE TABLE IF NOT EXISTS response_cache (
			cache_key  TEXT PRIMARY KEY,
			entries    BLOB NOT NULL,
			created_at TEXT NOT NULL,
			expires_at TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS response_cache_created_idx ON response_cache(created_at);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate response cache: %v", domain.ErrBackendIO, err)
	}

	return &Cached{inner: inner, db: db, ttl: ttl, maxEntries: maxEntries}, nil
}

func (c *Cached) Name() string { return c.inner.Name() }

func (c *Cached) Capabilities() domain.BackendCapabilities { return c.inner.Capabilities() }

func (c *Cached) Store(ctx context.Context, key, content string, category domain.MemoryCategory, sessionID *string, tags []string, metadata map[string]string) error {
	err := c.inner.Store(ctx, key, content, category, sessionID, tags, metadata)
	if err == nil {
		c.invalidate(ctx)
	}
	return err
}

func (c *Cached) Recall(ctx context.Context, query string, limit int, sessionID *string) ([]domain.MemoryEntry, error) {
	key := recallCacheKey(query, limit, sessionID)

	if entries, ok := c.lookup(ctx, key); ok {
		return entries, nil
	}

	entries, err := c.inner.Recall(ctx, query, limit, sessionID)
	if err != nil {
		return nil, err
	}

	c.store(ctx, key, entries)
	return entries, nil
}

func (c *Cached) lookup(ctx context.Context, key string) ([]domain.MemoryEntry, bool) {
	var (
		blob         []byte
		expiresAtStr string
	)
	row := c.db.QueryRowContext(ctx, "SELECT entries, expires_at FROM response_cache WHERE cache_key = ?", key)
	if err := row.Scan(&blob, &expiresAtStr); err != nil {
		return nil, false
	}

	expiresAt, err := time.Parse(time.RFC3339, expiresAtStr)
	if err != nil || time.Now().After(expiresAt) {
		return nil, false
	}

	var entries []domain.MemoryEntry
	if err := json.Unmarshal(blob, &entries); err != nil {
		return nil, false
	}
	return entries, true
}

func (c *Cached) store(ctx context.Context, key string, entries []domain.MemoryEntry) {
	blob, err := json.Marshal(entries)
	if err != nil {
		return
	}
	now := time.Now().UTC()
	expiresAt := now.Add(c.ttl)

	const upsert = `
		INSERT INTO response_cache (cache_key, entries, created_at, expires_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(cache_key) DO UPDATE SET
			entries    = excluded.entries,
			created_at = excluded.created_at,
			expires_at = excluded.expires_at
	`
	if _, err := c.db.ExecContext(ctx, upsert, key, blob, now.Format(time.RFC3339), expiresAt.Format(time.RFC3339)); err != nil {
		return
	}
	c.evictOverflow(ctx)
}

// evictOverflow trims the cache down to maxEntries, dropping the oldest
// rows first. A non-positive maxEntries leaves the cache unbounded.
func (c *Cached) evictOverflow(ctx context.Context) {
	if c.maxEntries <= 0 {
		return
	}
	const prune = `
		DELETE FROM response_cache WHERE cache_key IN (
			SELECT cache_key FROM response_cache
			ORDER BY created_at DESC
			LIMIT -1 OFFSET ?
		)
	`
	c.db.ExecContext(ctx, prune, c.maxEntries) //nolint:errcheck
}

func (c *Cached) Get(ctx context.Context, key string) (domain.MemoryEntry, bool, error) {
	return c.inner.Get(ctx, key)
}

func (c *Cached) List(ctx context.Context, category *domain.MemoryCategory, sessionID *string) ([]domain.MemoryEntry, error) {
	return c.inner.List(ctx, category, sessionID)
}

func (c *Cached) Forget(ctx context.Context, key string) (bool, error) {
	removed, err := c.inner.Forget(ctx, key)
	if err == nil && removed {
		c.invalidate(ctx)
	}
	return removed, err
}

func (c *Cached) Count(ctx context.Context) (int, error) { return c.inner.Count(ctx) }

// Recategorize implements domain.CategoryMover when the wrapped backend
// does; it invalidates the Recall cache on a successful move since a
// moved entry changes what category-filtered queries should return.
func (c *Cached) Recategorize(ctx context.Context, key string, category domain.MemoryCategory) (bool, error) {
	mover, ok := c.inner.(domain.CategoryMover)
	if !ok {
		return false, nil
	}
	moved, err := mover.Recategorize(ctx, key, category)
	if err == nil && moved {
		c.invalidate(ctx)
	}
	return moved, err
}

func (c *Cached) HealthCheck(ctx context.Context) bool { return c.inner.HealthCheck(ctx) }

// invalidate clears the entire Recall cache.
func (c *Cached) invalidate(ctx context.Context) {
	c.db.ExecContext(ctx, "DELETE FROM response_cache") //nolint:errcheck
}

// CacheSize returns the number of cached Recall results, for tests.
func (c *Cached) CacheSize() int {
	var n int
	c.db.QueryRow("SELECT COUNT(*) FROM response_cache").Scan(&n) //nolint:errcheck
	return n
}

// Close closes the response cache's own database handle. The runtime's
// Deinit sequence closes the response cache before the primary backend,
// per spec's ordered teardown.
func (c *Cached) Close() error { return c.db.Close() }

func recallCacheKey(query string, limit int, sessionID *string) string {
	sid := ""
	if sessionID != nil {
		sid = *sessionID
	}
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%s", query, limit, sid)))
	return hex.EncodeToString(h[:16])
}

var _ domain.Backend = (*Cached)(nil)
