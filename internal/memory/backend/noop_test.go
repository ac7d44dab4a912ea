package backend

import (
	"context"
	"testing"

	"lumen/internal/domain"
)

func TestNoopBackend(t *testing.T) {
	n := NewNoop()
	ctx := context.Background()

	if err := n.Store(ctx, "k1", "content", domain.CategoryCore, nil, nil, nil); err != nil {
		t.Errorf("Store: %v", err)
	}

	results, err := n.Recall(ctx, "anything", 10, nil)
	if err != nil || len(results) != 0 {
		t.Errorf("Recall: %v, %d results", err, len(results))
	}

	if _, ok, err := n.Get(ctx, "k1"); err != nil || ok {
		t.Errorf("Get: ok=%v err=%v, want ok=false", ok, err)
	}

	if removed, err := n.Forget(ctx, "k1"); err != nil || removed {
		t.Errorf("Forget: removed=%v err=%v, want false", removed, err)
	}

	if count, err := n.Count(ctx); err != nil || count != 0 {
		t.Errorf("Count: %d, %v, want 0", count, err)
	}

	if !n.HealthCheck(ctx) {
		t.Error("HealthCheck() = false, want true")
	}

	if n.Name() != "noop" {
		t.Errorf("Name() = %q, want %q", n.Name(), "noop")
	}
}
