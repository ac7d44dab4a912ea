package memory

import (
	"context"
	"testing"

	"lumen/internal/domain"
	"lumen/internal/memory/rollout"
)

type runtimeFakeBackend struct {
	entries map[string]domain.MemoryEntry
	closed  bool
}

func newRuntimeFakeBackend() *runtimeFakeBackend {
	return &runtimeFakeBackend{entries: map[string]domain.MemoryEntry{}}
}

func (b *runtimeFakeBackend) Name() string { return "fake" }
func (b *runtimeFakeBackend) Store(ctx context.Context, key, content string, category domain.MemoryCategory, sessionID *string, tags []string, metadata map[string]string) error {
	b.entries[key] = domain.MemoryEntry{ID: key, Key: key, Content: content, Category: category, SessionID: sessionID, Tags: tags, Metadata: metadata}
	return nil
}
func (b *runtimeFakeBackend) Recall(ctx context.Context, query string, limit int, sessionID *string) ([]domain.MemoryEntry, error) {
	var out []domain.MemoryEntry
	for _, e := range b.entries {
		out = append(out, e)
	}
	return out, nil
}
func (b *runtimeFakeBackend) Get(ctx context.Context, key string) (domain.MemoryEntry, bool, error) {
	e, ok := b.entries[key]
	return e, ok, nil
}
func (b *runtimeFakeBackend) List(ctx context.Context, category *domain.MemoryCategory, sessionID *string) ([]domain.MemoryEntry, error) {
	return b.Recall(ctx, "", 0, sessionID)
}
func (b *runtimeFakeBackend) Forget(ctx context.Context, key string) (bool, error) {
	_, ok := b.entries[key]
	delete(b.entries, key)
	return ok, nil
}
func (b *runtimeFakeBackend) Count(ctx context.Context) (int, error)     { return len(b.entries), nil }
func (b *runtimeFakeBackend) HealthCheck(ctx context.Context) bool       { return true }
func (b *runtimeFakeBackend) Capabilities() domain.BackendCapabilities   { return domain.BackendCapabilities{} }
func (b *runtimeFakeBackend) Close() error                              { b.closed = true; return nil }

func TestRuntimeStoreThenSearchKeywordOnly(t *testing.T) {
	ctx := context.Background()
	backend := newRuntimeFakeBackend()
	rt := NewRuntime(RuntimeConfig{Backend: backend, Rollout: rollout.Policy{Mode: rollout.ModeOff}})

	if err := rt.Store(ctx, "k1", "hello world", domain.CategoryCore, nil, nil, nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	results, err := rt.Search(ctx, "hello", 10, nil)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 1 || results[0].Key != "k1" {
		t.Fatalf("expected 1 result for k1, got %+v", results)
	}
}

func TestRuntimeForgetRemovesEntry(t *testing.T) {
	ctx := context.Background()
	backend := newRuntimeFakeBackend()
	rt := NewRuntime(RuntimeConfig{Backend: backend, Rollout: rollout.Policy{Mode: rollout.ModeOff}})

	rt.Store(ctx, "k1", "hello", domain.CategoryCore, nil, nil, nil)
	removed, err := rt.Forget(ctx, "k1")
	if err != nil {
		t.Fatalf("forget: %v", err)
	}
	if !removed {
		t.Fatal("expected entry to be removed")
	}

	if _, ok := backend.entries["k1"]; ok {
		t.Error("expected entry gone from backend")
	}
}

func TestRuntimeDeinitClosesBackend(t *testing.T) {
	backend := newRuntimeFakeBackend()
	rt := NewRuntime(RuntimeConfig{Backend: backend})

	if err := rt.Deinit(); err != nil {
		t.Fatalf("deinit: %v", err)
	}
	if !backend.closed {
		t.Error("expected backend to be closed on deinit")
	}
}

func TestRuntimeDrainOutboxNoopWithoutVectorPlane(t *testing.T) {
	ctx := context.Background()
	backend := newRuntimeFakeBackend()
	rt := NewRuntime(RuntimeConfig{Backend: backend})

	n, err := rt.DrainOutbox(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 0 {
		t.Errorf("expected 0 drained without a vector plane, got %d", n)
	}
}
