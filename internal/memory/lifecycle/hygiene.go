package lifecycle

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/robfig/cron/v3"

	"lumen/internal/domain"
)

// HygieneConfig tunes hygiene's three independent retention windows and
// its scheduling.
type HygieneConfig struct {
	// Schedule is a standard five-field cron expression, e.g. "0 3 * * *".
	Schedule string
	// ArchiveAfterDays moves non-core, non-archive entries older than
	// this many days into the archive category. Zero disables the pass.
	ArchiveAfterDays int
	// PurgeAfterDays deletes entries older than this many days,
	// regardless of category. Zero disables the pass.
	PurgeAfterDays int
	// ConversationRetentionDays trims conversation-category entries
	// older than this many days, independent of PurgeAfterDays. Zero
	// disables the pass.
	ConversationRetentionDays int
	// DueInterval bounds how often RunIfDue's marker-file check allows a
	// run; defaults to 24h.
	DueInterval time.Duration
	Logger      *slog.Logger
}

// HygieneResult reports how many entries each action affected in one pass.
type HygieneResult struct {
	Archived int
	Purged   int
	Trimmed  int
}

// Hygiene enforces archive/purge/conversation-retention windows against
// a backend. It is driven two ways that coexist rather than replace one
// another: a recurring robfig/cron/v3 schedule (Start/Stop) — the
// teacher's usecase/cronjob.Manager wraps the same library behind a
// persistence layer tied to chat-triggered jobs; hygiene needs none of
// that, so it drives cron.Cron directly — and a marker-file due-check
// meant to run once at process init (RunIfDue), so a process that was
// down past a scheduled pass still catches up.
type Hygiene struct {
	backend      domain.Backend
	snapshotPath string
	markerPath   string
	cfg          HygieneConfig
	cron         *cron.Cron
	entryID      cron.EntryID
}

// NewHygiene builds a hygiene scheduler. snapshotPath, if non-empty, is
// exported before any destructive action in a pass, as a safety net.
// markerPath, if non-empty, is the marker file RunIfDue consults and
// updates to decide whether a catch-up run is due.
func NewHygiene(backend domain.Backend, snapshotPath, markerPath string, cfg HygieneConfig) *Hygiene {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Hygiene{
		backend:      backend,
		snapshotPath: snapshotPath,
		markerPath:   markerPath,
		cfg:          cfg,
		cron:         cron.New(),
	}
}

// Start registers the hygiene job on its schedule and starts the cron
// runner. It is a no-op if Schedule is empty.
func (h *Hygiene) Start() error {
	if h.cfg.Schedule == "" {
		return nil
	}
	id, err := h.cron.AddFunc(h.cfg.Schedule, h.runOnce)
	if err != nil {
		return err
	}
	h.entryID = id
	h.cron.Start()
	return nil
}

// Stop halts the cron runner, waiting for any in-flight run to finish.
func (h *Hygiene) Stop() {
	h.cron.Stop()
}

func (h *Hygiene) runOnce() {
	ctx := context.Background()
	result, err := h.Run(ctx)
	if err != nil {
		h.cfg.Logger.Error("hygiene run failed", "error", err)
		return
	}
	if err := h.writeMarker(); err != nil {
		h.cfg.Logger.Warn("failed to update hygiene marker", "error", err)
	}
	h.cfg.Logger.Info("hygiene run complete",
		"archived", result.Archived, "purged", result.Purged, "trimmed", result.Trimmed)
}

// RunIfDue runs a hygiene pass only if the marker file at markerPath is
// absent, unreadable, or older than DueInterval. Meant to be called
// once at runtime init so a long-stopped process still catches up on a
// missed window, independent of the cron scheduler's own cadence.
func (h *Hygiene) RunIfDue(ctx context.Context) (HygieneResult, error) {
	due, err := h.isDue()
	if err != nil {
		h.cfg.Logger.Warn("hygiene marker unreadable, treating as due", "error", err)
	}
	if !due {
		return HygieneResult{}, nil
	}

	result, err := h.Run(ctx)
	if err != nil {
		return result, err
	}
	if err := h.writeMarker(); err != nil {
		h.cfg.Logger.Warn("failed to update hygiene marker", "error", err)
	}
	return result, nil
}

// Run executes every enabled window once, reporting counts per action.
// It exports a snapshot before any destructive action, if snapshotPath
// is set: a failed export aborts the whole pass rather than risk acting
// with no safety net.
func (h *Hygiene) Run(ctx context.Context) (HygieneResult, error) {
	if h.snapshotPath != "" {
		if _, err := Export(ctx, h.backend, h.snapshotPath); err != nil {
			return HygieneResult{}, err
		}
	}

	var result HygieneResult
	now := time.Now()

	if h.cfg.ArchiveAfterDays > 0 {
		n, err := h.archiveAged(ctx, now)
		result.Archived = n
		if err != nil {
			return result, err
		}
	}
	if h.cfg.PurgeAfterDays > 0 {
		n, err := h.purgeAged(ctx, now)
		result.Purged = n
		if err != nil {
			return result, err
		}
	}
	if h.cfg.ConversationRetentionDays > 0 {
		n, err := h.trimConversations(ctx, now)
		result.Trimmed = n
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// archiveAged moves non-core, non-archive entries older than
// ArchiveAfterDays into the archive category via domain.CategoryMover,
// preserving their original timestamp. Backends that don't implement
// CategoryMover (noop, syncshell) skip this pass rather than fake it
// through a Store call, which would reset the very timestamp archiving
// needs to leave alone.
func (h *Hygiene) archiveAged(ctx context.Context, now time.Time) (int, error) {
	mover, ok := h.backend.(domain.CategoryMover)
	if !ok {
		return 0, nil
	}

	cutoff := now.AddDate(0, 0, -h.cfg.ArchiveAfterDays)
	entries, err := h.backend.List(ctx, nil, nil)
	if err != nil {
		return 0, err
	}

	archived := 0
	for _, e := range entries {
		if e.Category.IsCore() || e.Category == domain.CategoryArchive {
			continue
		}
		if e.Timestamp.After(cutoff) {
			continue
		}
		if moved, err := mover.Recategorize(ctx, e.Key, domain.CategoryArchive); err == nil && moved {
			archived++
		}
	}
	return archived, nil
}

// purgeAged deletes every entry older than PurgeAfterDays, regardless
// of category.
func (h *Hygiene) purgeAged(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -h.cfg.PurgeAfterDays)
	entries, err := h.backend.List(ctx, nil, nil)
	if err != nil {
		return 0, err
	}

	purged := 0
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			continue
		}
		if removed, err := h.backend.Forget(ctx, e.Key); err == nil && removed {
			purged++
		}
	}
	return purged, nil
}

// trimConversations deletes conversation-category entries older than
// ConversationRetentionDays, independent of purgeAged's window.
func (h *Hygiene) trimConversations(ctx context.Context, now time.Time) (int, error) {
	cutoff := now.AddDate(0, 0, -h.cfg.ConversationRetentionDays)
	cat := domain.CategoryConversation
	entries, err := h.backend.List(ctx, &cat, nil)
	if err != nil {
		return 0, err
	}

	trimmed := 0
	for _, e := range entries {
		if e.Timestamp.After(cutoff) {
			continue
		}
		if removed, err := h.backend.Forget(ctx, e.Key); err == nil && removed {
			trimmed++
		}
	}
	return trimmed, nil
}

// hygieneMarker is the on-disk shape of the due-check marker file.
type hygieneMarker struct {
	LastRunAt time.Time `json:"last_run_at"`
}

func (h *Hygiene) isDue() (bool, error) {
	if h.markerPath == "" {
		return true, nil
	}
	data, err := os.ReadFile(h.markerPath)
	if os.IsNotExist(err) {
		return true, nil
	}
	if err != nil {
		return true, err
	}
	var m hygieneMarker
	if err := json.Unmarshal(data, &m); err != nil {
		return true, err
	}
	return time.Since(m.LastRunAt) >= h.dueInterval(), nil
}

func (h *Hygiene) writeMarker() error {
	if h.markerPath == "" {
		return nil
	}
	data, err := json.Marshal(hygieneMarker{LastRunAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(h.markerPath), 0700); err != nil {
		return err
	}
	return os.WriteFile(h.markerPath, data, 0600)
}

func (h *Hygiene) dueInterval() time.Duration {
	if h.cfg.DueInterval > 0 {
		return h.cfg.DueInterval
	}
	return 24 * time.Hour
}
