// Package backend provides the primary-memory-backend capability
// implementations: sqlite (FTS5), markdown, noop, and a variant that
// shells out to an external sync tool.
package backend

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"lumen/internal/domain"
)

// txKey is the context key under which an in-flight *sql.Tx is stashed by
// WithTx, so nested Backend calls and borrower components (vector store,
// outbox) observe the same transaction.
type txKey struct{}

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLite is the primary backend: authoritative key→entry store with FTS5
// keyword search. It also owns the schema for the vector plane's
// memory_embeddings table and the durable outbox table, both of which
// share this backend's *sql.DB handle as borrowers that must never close
// it — grounded on the teacher's vector.Store + migrate.go, split so the
// primary store is the schema and connection owner.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite opens (or creates) a SQLite database at dbPath, applies the
// full schema (entries + FTS5 + triggers, memory_embeddings, outbox), and
// returns a ready backend.
func NewSQLite(dbPath string, logger *slog.Logger) (*SQLite, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open db: %v", domain.ErrBackendIO, err)
	}

	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: pragma: %v", domain.ErrBackendIO, err)
		}
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrBackendIO, err)
	}

	return &SQLite{db: db, logger: logger}, nil
}

// DB exposes the underlying handle to borrowers (vector store, outbox).
// Borrowers must never close it; ownership stays with SQLite.
func (s *SQLite) DB() *sql.DB { return s.db }

// Close closes the underlying database connection. Only the owner
// (whoever called NewSQLite) should call this.
func (s *SQLite) Close() error { return s.db.Close() }

func migrate(db *sql.DB) error {
	const schema = `
		CREATE TABLE IF NOT EXISTS entries (
			id         TEXT PRIMARY KEY,
			key        TEXT NOT NULL UNIQUE,
			content    TEXT NOT NULL,
			category   TEXT NOT NULL DEFAULT 'core',
			session_id TEXT,
			tags       TEXT,
			metadata   TEXT,
			created_at TEXT NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS entries_session_idx ON entries(session_id);
		CREATE INDEX IF NOT EXISTS entries_category_idx ON entries(category);

		CREATE VIRTUAL TABLE IF NOT EXISTS entries_fts USING fts5(
			content, key, content=entries, content_rowid=rowid
		);

		CREATE TRIGGER IF NOT EXISTS entries_ai AFTER INSERT ON entries BEGIN
			INSERT INTO entries_fts(rowid, content, key) VALUES (new.rowid, new.content, new.key);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_ad AFTER DELETE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, content, key) VALUES ('delete', old.rowid, old.content, old.key);
		END;

		CREATE TRIGGER IF NOT EXISTS entries_au AFTER UPDATE ON entries BEGIN
			INSERT INTO entries_fts(entries_fts, rowid, content, key) VALUES ('delete', old.rowid, old.content, old.key);
			INSERT INTO entries_fts(rowid, content, key) VALUES (new.rowid, new.content, new.key);
		END;

		CREATE TABLE IF NOT EXISTS memory_embeddings (
			memory_key TEXT PRIMARY KEY,
			embedding  BLOB NOT NULL,
			updated_at TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS outbox (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			memory_key      TEXT NOT NULL,
			operation       TEXT NOT NULL,
			attempts        INTEGER NOT NULL DEFAULT 0,
			next_attempt_at INTEGER NOT NULL
		);
	`
	_, err := db.Exec(schema)
	return err
}

// Name implements domain.Backend.
func (s *SQLite) Name() string { return "sqlite" }

// Capabilities implements domain.Backend.
func (s *SQLite) Capabilities() domain.BackendCapabilities {
	return domain.BackendCapabilities{
		SupportsSessionStore: false,
		SupportsKeywordRank:  true,
		SupportsTransactions: true,
		SupportsOutbox:       true,
	}
}

func (s *SQLite) execer(ctx context.Context) execer {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx
	}
	return s.db
}

// WithTx implements domain.TransactionalBackend, grouping fn's writes (and
// any borrower writes issued through the same ctx, e.g. an outbox
// enqueue) into a single SQLite transaction.
func (s *SQLite) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin tx: %v", domain.ErrBackendIO, err)
	}
	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		tx.Rollback() //nolint:errcheck
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrBackendIO, err)
	}
	return nil
}

// Store implements domain.Backend. tags and metadata are JSON-encoded
// into their own columns, mirroring how the teacher's memory store
// serializes a memory's tag list alongside its row.
func (s *SQLite) Store(ctx context.Context, key, content string, category domain.MemoryCategory, sessionID *string, tags []string, metadata map[string]string) error {
	now := time.Now().UTC()

	var existingID string
	err := s.execer(ctx).QueryRowContext(ctx, "SELECT id FROM entries WHERE key = ?", key).Scan(&existingID)
	id := existingID
	createdAt := now
	switch {
	case err == sql.ErrNoRows:
		id = ulid.Make().String()
	case err != nil:
		return fmt.Errorf("%w: lookup existing: %v", domain.ErrBackendIO, err)
	default:
		if err := s.execer(ctx).QueryRowContext(ctx, "SELECT created_at FROM entries WHERE id = ?", id).Scan(&createdAt); err == nil {
			if parsed, perr := time.Parse(time.RFC3339, createdAt.Format(time.RFC3339)); perr == nil {
				createdAt = parsed
			}
		}
	}

	var tagsJSON, metadataJSON []byte
	if len(tags) > 0 {
		tagsJSON, _ = json.Marshal(tags)
	}
	if len(metadata) > 0 {
		metadataJSON, _ = json.Marshal(metadata)
	}

	const upsert = `
		INSERT INTO entries (id, key, content, category, session_id, tags, metadata, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			content    = excluded.content,
			category   = excluded.category,
			session_id = excluded.session_id,
			tags       = excluded.tags,
			metadata   = excluded.metadata,
			updated_at = excluded.updated_at
	`
	_, err = s.execer(ctx).ExecContext(ctx, upsert, id, key, content, category.String(), sessionID, string(tagsJSON), string(metadataJSON), createdAt.Format(time.RFC3339), now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("%w: upsert: %v", domain.ErrBackendIO, err)
	}
	return nil
}

// Recall implements domain.Backend.
func (s *SQLite) Recall(ctx context.Context, query string, limit int, sessionID *string) ([]domain.MemoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}

	var (
		rows *sql.Rows
		err  error
	)
	if query == "" {
		rows, err = s.recallPlain(ctx, limit, sessionID)
	} else {
		rows, err = s.recallFTS(ctx, query, limit, sessionID)
		if err != nil {
			rows, err = s.recallLike(ctx, query, limit, sessionID)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: recall: %v", domain.ErrBackendIO, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func (s *SQLite) recallFTS(ctx context.Context, query string, limit int, sessionID *string) (*sql.Rows, error) {
	if sessionID != nil {
		return s.execer(ctx).QueryContext(ctx,
			`SELECT e.id, e.key, e.content, e.category, e.session_id, e.tags, e.metadata, e.created_at, e.updated_at
			 FROM entries_fts f JOIN entries e ON e.rowid = f.rowid
			 WHERE entries_fts MATCH ? AND e.session_id = ?
			 ORDER BY bm25(entries_fts) LIMIT ?`, query, *sessionID, limit)
	}
	return s.execer(ctx).QueryContext(ctx,
		`SELECT e.id, e.key, e.content, e.category, e.session_id, e.tags, e.metadata, e.created_at, e.updated_at
		 FROM entries_fts f JOIN entries e ON e.rowid = f.rowid
		 WHERE entries_fts MATCH ?
		 ORDER BY bm25(entries_fts) LIMIT ?`, query, limit)
}

func (s *SQLite) recallLike(ctx context.Context, query string, limit int, sessionID *string) (*sql.Rows, error) {
	like := "%" + query + "%"
	if sessionID != nil {
		return s.execer(ctx).QueryContext(ctx,
			"SELECT id, key, content, category, session_id, tags, metadata, created_at, updated_at FROM entries WHERE content LIKE ? AND session_id = ? ORDER BY updated_at DESC LIMIT ?",
			like, *sessionID, limit)
	}
	return s.execer(ctx).QueryContext(ctx,
		"SELECT id, key, content, category, session_id, tags, metadata, created_at, updated_at FROM entries WHERE content LIKE ? ORDER BY updated_at DESC LIMIT ?",
		like, limit)
}

func (s *SQLite) recallPlain(ctx context.Context, limit int, sessionID *string) (*sql.Rows, error) {
	if sessionID != nil {
		return s.execer(ctx).QueryContext(ctx,
			"SELECT id, key, content, category, session_id, tags, metadata, created_at, updated_at FROM entries WHERE session_id = ? ORDER BY updated_at DESC LIMIT ?",
			*sessionID, limit)
	}
	return s.execer(ctx).QueryContext(ctx,
		"SELECT id, key, content, category, session_id, tags, metadata, created_at, updated_at FROM entries ORDER BY updated_at DESC LIMIT ?", limit)
}

// Get implements domain.Backend.
func (s *SQLite) Get(ctx context.Context, key string) (domain.MemoryEntry, bool, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		"SELECT id, key, content, category, session_id, tags, metadata, created_at, updated_at FROM entries WHERE key = ?", key)
	entry, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return domain.MemoryEntry{}, false, nil
	}
	if err != nil {
		return domain.MemoryEntry{}, false, fmt.Errorf("%w: get: %v", domain.ErrBackendIO, err)
	}
	return entry, true, nil
}

// List implements domain.Backend.
func (s *SQLite) List(ctx context.Context, category *domain.MemoryCategory, sessionID *string) ([]domain.MemoryEntry, error) {
	query := "SELECT id, key, content, category, session_id, tags, metadata, created_at, updated_at FROM entries WHERE 1=1"
	var args []any
	if category != nil {
		query += " AND category = ?"
		args = append(args, category.String())
	}
	if sessionID != nil {
		query += " AND session_id = ?"
		args = append(args, *sessionID)
	}
	query += " ORDER BY updated_at DESC"

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", domain.ErrBackendIO, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recategorize implements domain.CategoryMover, updating an entry's
// category column only — created_at/updated_at are left untouched.
func (s *SQLite) Recategorize(ctx context.Context, key string, category domain.MemoryCategory) (bool, error) {
	result, err := s.execer(ctx).ExecContext(ctx, "UPDATE entries SET category = ? WHERE key = ?", category.String(), key)
	if err != nil {
		return false, fmt.Errorf("%w: recategorize: %v", domain.ErrBackendIO, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Forget implements domain.Backend.
func (s *SQLite) Forget(ctx context.Context, key string) (bool, error) {
	result, err := s.execer(ctx).ExecContext(ctx, "DELETE FROM entries WHERE key = ?", key)
	if err != nil {
		return false, fmt.Errorf("%w: forget: %v", domain.ErrBackendIO, err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

// Count implements domain.Backend.
func (s *SQLite) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.execer(ctx).QueryRowContext(ctx, "SELECT COUNT(*) FROM entries").Scan(&n); err != nil {
		return 0, fmt.Errorf("%w: count: %v", domain.ErrBackendIO, err)
	}
	return n, nil
}

// HealthCheck implements domain.Backend.
func (s *SQLite) HealthCheck(ctx context.Context) bool {
	return s.db.PingContext(ctx) == nil
}

func scanEntries(rows *sql.Rows) ([]domain.MemoryEntry, error) {
	var out []domain.MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func scanEntry(row interface{ Scan(dest ...any) error }) (domain.MemoryEntry, error) {
	var (
		entry        domain.MemoryEntry
		category     string
		sessionID    sql.NullString
		tagsStr      sql.NullString
		metadataStr  sql.NullString
		createdAtStr string
		updatedAtStr string
	)
	if err := row.Scan(&entry.ID, &entry.Key, &entry.Content, &category, &sessionID, &tagsStr, &metadataStr, &createdAtStr, &updatedAtStr); err != nil {
		return entry, err
	}
	entry.Category = domain.ParseCategory(category)
	if sessionID.Valid {
		s := sessionID.String
		entry.SessionID = &s
	}
	if tagsStr.Valid && tagsStr.String != "" {
		json.Unmarshal([]byte(tagsStr.String), &entry.Tags) //nolint:errcheck
	}
	if metadataStr.Valid && metadataStr.String != "" {
		json.Unmarshal([]byte(metadataStr.String), &entry.Metadata) //nolint:errcheck
	}
	entry.Timestamp, _ = time.Parse(time.RFC3339, updatedAtStr)
	_ = createdAtStr
	return entry, nil
}

var _ domain.Backend = (*SQLite)(nil)
var _ domain.TransactionalBackend = (*SQLite)(nil)
var _ domain.CategoryMover = (*SQLite)(nil)
