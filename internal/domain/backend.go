package domain

import "context"

// BackendCapabilities is the capability descriptor a primary backend
// publishes so consumers can opt into features it actually supports.
type BackendCapabilities struct {
	SupportsSessionStore bool
	SupportsKeywordRank  bool
	SupportsTransactions bool
	SupportsOutbox       bool
}

// Backend is the pluggable primary-memory-backend capability contract.
// Implementations: SQLite+FTS5, markdown files, null, and a variant that
// shells out to an external sync tool.
type Backend interface {
	// Name is the stable short identifier used for routing, e.g. "sqlite".
	Name() string

	// Store upserts by key. An existing entry with the same key is
	// replaced atomically from the reader's perspective. tags and
	// metadata are optional and may be nil.
	Store(ctx context.Context, key, content string, category MemoryCategory, sessionID *string, tags []string, metadata map[string]string) error

	// Recall returns entries ranked by backend-native relevance, ordered
	// best-first. Length is at most limit. sessionID == nil searches
	// across sessions.
	Recall(ctx context.Context, query string, limit int, sessionID *string) ([]MemoryEntry, error)

	// Get returns the entry for key, or ok == false if absent.
	Get(ctx context.Context, key string) (entry MemoryEntry, ok bool, err error)

	// List returns entries matching both filters with AND semantics;
	// a nil filter means "any".
	List(ctx context.Context, category *MemoryCategory, sessionID *string) ([]MemoryEntry, error)

	// Forget removes key, reporting whether anything was removed.
	Forget(ctx context.Context, key string) (removed bool, err error)

	// Count returns the total number of entries.
	Count(ctx context.Context) (int, error)

	// HealthCheck reports liveness, e.g. whether a statement can be opened.
	HealthCheck(ctx context.Context) bool

	// Capabilities describes the optional features this backend supports.
	Capabilities() BackendCapabilities
}

// CategoryMover is implemented by backends that can reassign an entry's
// category in place without disturbing its stored timestamp. Hygiene's
// archive step uses this so an archived entry's age is still measured
// from when it was originally written, not from the moment it was
// archived. Backends that don't implement it (noop, syncshell) simply
// skip the archive pass — an age-based Store/Recall pair would reset
// the very timestamp archiving is supposed to preserve.
type CategoryMover interface {
	Recategorize(ctx context.Context, key string, category MemoryCategory) (moved bool, err error)
}

// TransactionalBackend is implemented by backends whose Capabilities()
// reports SupportsTransactions, letting callers group a primary write and
// a dependent side effect (e.g. an outbox enqueue) into one transaction.
type TransactionalBackend interface {
	Backend
	WithTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// SessionStore is the append-only per-session chat history capability.
type SessionStore interface {
	Name() string
	SaveMessage(ctx context.Context, sessionID string, msg MessageEntry) error
	Messages(ctx context.Context, sessionID string) ([]MessageEntry, error)
	ClearMessages(ctx context.Context, sessionID string) error
	ClearAutoSaved(ctx context.Context, sessionID string) error
}
