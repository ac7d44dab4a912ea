package lifecycle

import (
	"context"
	"path/filepath"
	"testing"

	"lumen/internal/domain"
)

type fakeBackend struct {
	entries map[string]domain.MemoryEntry
}

func newFakeBackend() *fakeBackend { return &fakeBackend{entries: map[string]domain.MemoryEntry{}} }

func (f *fakeBackend) Name() string { return "fake" }
func (f *fakeBackend) Store(ctx context.Context, key, content string, category domain.MemoryCategory, sessionID *string, tags []string, metadata map[string]string) error {
	f.entries[key] = domain.MemoryEntry{ID: key, Key: key, Content: content, Category: category, SessionID: sessionID, Tags: tags, Metadata: metadata}
	return nil
}
func (f *fakeBackend) Recall(ctx context.Context, query string, limit int, sessionID *string) ([]domain.MemoryEntry, error) {
	return f.List(ctx, nil, sessionID)
}
func (f *fakeBackend) Get(ctx context.Context, key string) (domain.MemoryEntry, bool, error) {
	e, ok := f.entries[key]
	return e, ok, nil
}
func (f *fakeBackend) List(ctx context.Context, category *domain.MemoryCategory, sessionID *string) ([]domain.MemoryEntry, error) {
	var out []domain.MemoryEntry
	for _, e := range f.entries {
		if category != nil && e.Category.String() != category.String() {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
func (f *fakeBackend) Forget(ctx context.Context, key string) (bool, error) {
	_, ok := f.entries[key]
	delete(f.entries, key)
	return ok, nil
}
func (f *fakeBackend) Count(ctx context.Context) (int, error) { return len(f.entries), nil }
func (f *fakeBackend) HealthCheck(ctx context.Context) bool    { return true }
func (f *fakeBackend) Capabilities() domain.BackendCapabilities {
	return domain.BackendCapabilities{}
}
func (f *fakeBackend) Recategorize(ctx context.Context, key string, category domain.MemoryCategory) (bool, error) {
	e, ok := f.entries[key]
	if !ok {
		return false, nil
	}
	e.Category = category
	f.entries[key] = e
	return true, nil
}

var _ domain.CategoryMover = (*fakeBackend)(nil)

func TestExportThenHydrateRoundTrips(t *testing.T) {
	ctx := context.Background()
	src := newFakeBackend()
	src.Store(ctx, "k1", "hello", domain.CategoryCore, nil, nil, nil)
	src.Store(ctx, "k2", "world", domain.CategoryDaily, nil, nil, nil)

	path := filepath.Join(t.TempDir(), "snapshot.json")
	n, err := Export(ctx, src, path)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 exported entries, got %d", n)
	}

	dst := newFakeBackend()
	restored, err := Hydrate(ctx, dst, path)
	if err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if restored != 2 {
		t.Fatalf("expected 2 restored entries, got %d", restored)
	}
	if dst.entries["k1"].Content != "hello" {
		t.Errorf("expected k1 content 'hello', got %q", dst.entries["k1"].Content)
	}
}

func TestHydrateRejectsCorruptSnapshot(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "bad.json")
	if err := writeAtomic(path, []byte("not json")); err != nil {
		t.Fatalf("write: %v", err)
	}

	dst := newFakeBackend()
	if _, err := Hydrate(ctx, dst, path); err == nil {
		t.Error("expected error hydrating corrupt snapshot")
	}
}

func TestExportThenHydrateRoundTripsTagsAndMetadata(t *testing.T) {
	ctx := context.Background()
	src := newFakeBackend()
	src.Store(ctx, "k1", "hello", domain.CategoryCore, nil, []string{"a", "b"}, map[string]string{"source": "test"})

	path := filepath.Join(t.TempDir(), "snapshot.json")
	if _, err := Export(ctx, src, path); err != nil {
		t.Fatalf("export: %v", err)
	}

	dst := newFakeBackend()
	if _, err := Hydrate(ctx, dst, path); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	got := dst.entries["k1"]
	if len(got.Tags) != 2 || got.Tags[0] != "a" {
		t.Errorf("expected tags [a b], got %v", got.Tags)
	}
	if got.Metadata["source"] != "test" {
		t.Errorf("expected metadata source=test, got %v", got.Metadata)
	}
}

func TestShouldHydrateOnlyWhenEmptyAndWellFormed(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshot.json")

	empty := newFakeBackend()
	if ShouldHydrate(ctx, empty, path) {
		t.Error("expected false when snapshot file is missing")
	}

	src := newFakeBackend()
	src.Store(ctx, "k1", "hello", domain.CategoryCore, nil, nil, nil)
	if _, err := Export(ctx, src, path); err != nil {
		t.Fatalf("export: %v", err)
	}

	if !ShouldHydrate(ctx, empty, path) {
		t.Error("expected true for an empty backend with a well-formed snapshot")
	}

	nonEmpty := newFakeBackend()
	nonEmpty.Store(ctx, "existing", "already here", domain.CategoryCore, nil, nil, nil)
	if ShouldHydrate(ctx, nonEmpty, path) {
		t.Error("expected false when the backend already has entries")
	}

	corruptPath := filepath.Join(t.TempDir(), "bad.json")
	writeAtomic(corruptPath, []byte("not json"))
	if ShouldHydrate(ctx, empty, corruptPath) {
		t.Error("expected false for a corrupt snapshot")
	}
}
