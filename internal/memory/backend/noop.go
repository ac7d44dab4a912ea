package backend

import (
	"context"

	"lumen/internal/domain"
)

// Noop implements domain.Backend by storing nothing and returning empty
// results — used when the memory subsystem is wired up but a primary
// store hasn't been configured yet (e.g. first-run, or a health check
// dry run).
type Noop struct{}

// NewNoop creates a no-op backend.
func NewNoop() *Noop { return &Noop{} }

func (n *Noop) Name() string { return "noop" }

func (n *Noop) Capabilities() domain.BackendCapabilities {
	return domain.BackendCapabilities{}
}

func (n *Noop) Store(_ context.Context, _, _ string, _ domain.MemoryCategory, _ *string, _ []string, _ map[string]string) error {
	return nil
}

func (n *Noop) Recall(_ context.Context, _ string, _ int, _ *string) ([]domain.MemoryEntry, error) {
	return nil, nil
}

func (n *Noop) Get(_ context.Context, _ string) (domain.MemoryEntry, bool, error) {
	return domain.MemoryEntry{}, false, nil
}

func (n *Noop) List(_ context.Context, _ *domain.MemoryCategory, _ *string) ([]domain.MemoryEntry, error) {
	return nil, nil
}

func (n *Noop) Forget(_ context.Context, _ string) (bool, error) { return false, nil }

func (n *Noop) Count(_ context.Context) (int, error) { return 0, nil }

func (n *Noop) HealthCheck(_ context.Context) bool { return true }

var _ domain.Backend = (*Noop)(nil)
