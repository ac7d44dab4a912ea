package vector

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"lumen/internal/domain"
)

// DefaultMaxRetries bounds how many times a pending sync is retried
// before it is dropped from the outbox as exhausted.
const DefaultMaxRetries = 8

// OutboxConfig tunes retry backoff and drain throughput.
type OutboxConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	DrainRatePerSec float64
}

// Outbox is the durable queue of pending vector-sync operations, sharing
// its *sql.DB with the primary backend and never closing it. Retries use
// an exponential backoff schedule and the drain loop is rate-limited so
// a large backlog can't saturate the embedding provider or circuit
// breaker in one pass.
type Outbox struct {
	db      *sql.DB
	cfg     OutboxConfig
	limiter *rate.Limiter
}

// NewOutbox wraps an existing, primary-owned *sql.DB's outbox table.
func NewOutbox(db *sql.DB, cfg OutboxConfig) *Outbox {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = 500 * time.Millisecond
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 2 * time.Minute
	}
	if cfg.DrainRatePerSec <= 0 {
		cfg.DrainRatePerSec = 10
	}
	return &Outbox{
		db:      db,
		cfg:     cfg,
		limiter: rate.NewLimiter(rate.Limit(cfg.DrainRatePerSec), 1),
	}
}

// Enqueue implements domain.Outbox.
func (o *Outbox) Enqueue(ctx context.Context, key string, op domain.OutboxOperation) error {
	_, err := o.db.ExecContext(ctx, `
		INSERT INTO outbox (memory_key, operation, attempts, next_attempt_at)
		VALUES (?, ?, 0, ?)
	`, key, string(op), time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("%w: enqueue: %v", domain.ErrBackendIO, err)
	}
	return nil
}

type outboxRow struct {
	id       int64
	key      string
	op       string
	attempts int
}

// Drain processes every due entry once, embedding and upserting (or
// deleting) through vs, guarded by breaker. It returns how many entries
// were successfully drained. Entries whose embed/upsert call fails are
// rescheduled with exponential backoff; entries that exceed MaxRetries
// are dropped from the queue. If breaker denies a call, the whole pass
// stops immediately — the remaining due rows are left untouched (no
// reschedule, no backoff bump) rather than treated as individual
// failures, since a denial means the dependency is already known-down
// for every row in this batch, not just the one being processed.
func (o *Outbox) Drain(ctx context.Context, provider domain.EmbeddingProvider, vs domain.VectorStore, breaker domain.CircuitBreaker) (int, error) {
	rows, err := o.dueRows(ctx)
	if err != nil {
		return 0, err
	}

	drained := 0
	for _, row := range rows {
		if err := o.limiter.Wait(ctx); err != nil {
			return drained, fmt.Errorf("%w: drain rate limit: %v", domain.ErrCancelled, err)
		}

		err := o.process(ctx, row, provider, vs, breaker)
		if err == nil {
			o.remove(ctx, row.id)
			drained++
			continue
		}
		if err == errBreakerDenied {
			break
		}
		o.reschedule(ctx, row)
	}
	return drained, nil
}

// errBreakerDenied signals that process stopped because breaker.Allow
// refused the call, distinct from an embed/upsert failure — Drain uses
// this to stop the whole pass instead of rescheduling the row.
var errBreakerDenied = fmt.Errorf("%w: breaker open", domain.ErrEmbeddingFailed)

func (o *Outbox) dueRows(ctx context.Context) ([]outboxRow, error) {
	now := time.Now().UTC().Unix()
	rows, err := o.db.QueryContext(ctx, `
		SELECT id, memory_key, operation, attempts FROM outbox
		WHERE next_attempt_at <= ? ORDER BY next_attempt_at ASC
	`, now)
	if err != nil {
		return nil, fmt.Errorf("%w: load outbox: %v", domain.ErrBackendIO, err)
	}
	defer rows.Close()

	var out []outboxRow
	for rows.Next() {
		var r outboxRow
		if err := rows.Scan(&r.id, &r.key, &r.op, &r.attempts); err != nil {
			continue
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (o *Outbox) process(ctx context.Context, row outboxRow, provider domain.EmbeddingProvider, vs domain.VectorStore, breaker domain.CircuitBreaker) error {
	if domain.OutboxOperation(row.op) == domain.OutboxDelete {
		return vs.Delete(ctx, row.key)
	}

	done, ok := breaker.Allow()
	if !ok {
		return errBreakerDenied
	}

	embeddings, err := provider.Embed(ctx, []string{row.key})
	if err != nil || len(embeddings) == 0 {
		done(false)
		return fmt.Errorf("%w: embed: %v", domain.ErrEmbeddingFailed, err)
	}
	done(true)

	return vs.Upsert(ctx, row.key, embeddings[0])
}

func (o *Outbox) reschedule(ctx context.Context, row outboxRow) {
	attempts := row.attempts + 1
	if attempts >= o.cfg.MaxRetries {
		o.remove(ctx, row.id)
		return
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.cfg.InitialInterval
	b.MaxInterval = o.cfg.MaxInterval
	var wait time.Duration
	for i := 0; i <= row.attempts; i++ {
		wait = b.NextBackOff()
	}

	next := time.Now().UTC().Add(wait).Unix()
	o.db.ExecContext(ctx, "UPDATE outbox SET attempts = ?, next_attempt_at = ? WHERE id = ?", attempts, next, row.id) //nolint:errcheck
}

func (o *Outbox) remove(ctx context.Context, id int64) {
	o.db.ExecContext(ctx, "DELETE FROM outbox WHERE id = ?", id) //nolint:errcheck
}

// Pending reports how many entries currently sit in the outbox,
// regardless of whether they're due yet — used for health reporting.
func (o *Outbox) Pending(ctx context.Context) (int, error) {
	var n int
	err := o.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM outbox").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("%w: pending count: %v", domain.ErrBackendIO, err)
	}
	return n, nil
}

var _ domain.Outbox = (*Outbox)(nil)
