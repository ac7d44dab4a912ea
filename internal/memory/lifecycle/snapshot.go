package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"lumen/internal/domain"
)

// snapshotEntry is the on-disk shape of one exported memory entry.
type snapshotEntry struct {
	ID        string            `json:"id"`
	Key       string            `json:"key"`
	Content   string            `json:"content"`
	Category  string            `json:"category"`
	SessionID *string           `json:"session_id,omitempty"`
	Tags      []string          `json:"tags,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

// Export writes every entry in backend to path as a single JSON array,
// using a write-temp-then-rename so a crash mid-write never leaves a
// truncated snapshot — grounded on the teacher's MemoryIndex.save in
// adapter/memory/markdown_index.go.
func Export(ctx context.Context, backend domain.Backend, path string) (int, error) {
	entries, err := backend.List(ctx, nil, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: list for export: %v", domain.ErrBackendIO, err)
	}

	out := make([]snapshotEntry, len(entries))
	for i, e := range entries {
		out[i] = snapshotEntry{
			ID:        e.ID,
			Key:       e.Key,
			Content:   e.Content,
			Category:  e.Category.String(),
			SessionID: e.SessionID,
			Tags:      e.Tags,
			Metadata:  e.Metadata,
			Timestamp: e.Timestamp,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("%w: marshal snapshot: %v", domain.ErrSerialization, err)
	}

	if err := writeAtomic(path, data); err != nil {
		return 0, err
	}
	return len(out), nil
}

// Hydrate loads a snapshot written by Export and re-stores every entry
// into backend. It is idempotent: restoring twice just re-upserts the
// same keys. Callers should gate this behind ShouldHydrate rather than
// calling it unconditionally on every runtime init.
func Hydrate(ctx context.Context, backend domain.Backend, path string) (int, error) {
	entries, err := readSnapshot(path)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, e := range entries {
		category := domain.ParseCategory(e.Category)
		if err := backend.Store(ctx, e.Key, e.Content, category, e.SessionID, e.Tags, e.Metadata); err != nil {
			continue
		}
		restored++
	}
	return restored, nil
}

// ShouldHydrate reports whether Hydrate should run: the primary backend
// must be empty (Count() == 0) and the snapshot at path must parse as a
// well-formed entry list. Both conditions must hold, so a restart with
// data already present — or a corrupt/missing snapshot — never triggers
// a restore.
func ShouldHydrate(ctx context.Context, backend domain.Backend, path string) bool {
	count, err := backend.Count(ctx)
	if err != nil || count != 0 {
		return false
	}
	_, err = readSnapshot(path)
	return err == nil
}

// readSnapshot loads and validates a snapshot file without applying it.
func readSnapshot(path string) ([]snapshotEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read snapshot: %v", domain.ErrBackendIO, err)
	}

	var entries []snapshotEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("%w: unmarshal snapshot: %v", domain.ErrSnapshotInvalid, err)
	}
	for _, e := range entries {
		if e.Key == "" {
			return nil, fmt.Errorf("%w: entry missing key", domain.ErrSnapshotInvalid)
		}
	}
	return entries, nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: mkdir snapshot dir: %v", domain.ErrBackendIO, err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("%w: create temp snapshot: %v", domain.ErrBackendIO, err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("%w: write temp snapshot: %v", domain.ErrBackendIO, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: close temp snapshot: %v", domain.ErrBackendIO, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("%w: rename snapshot: %v", domain.ErrBackendIO, err)
	}
	return nil
}
