// Package retrieval fuses keyword and vector candidate lists into a
// single ranked result, grounded on the teacher's hybridSearch in
// adapter/memory/vector/search.go.
package retrieval

import (
	"context"

	"lumen/internal/domain"
)

// PrimaryAdapter wraps a domain.Backend as a domain.SourceAdapter so the
// retrieval engine can fan out over it the same way it would a
// secondary, externally-registered source.
type PrimaryAdapter struct {
	backend domain.Backend
}

// NewPrimaryAdapter wraps backend for participation in the retrieval
// engine's fan-out. The caller retains ownership of backend's lifecycle.
func NewPrimaryAdapter(backend domain.Backend) *PrimaryAdapter {
	return &PrimaryAdapter{backend: backend}
}

// Name implements domain.SourceAdapter.
func (p *PrimaryAdapter) Name() string { return p.backend.Name() }

// Capabilities implements domain.SourceAdapter.
func (p *PrimaryAdapter) Capabilities() domain.BackendCapabilities { return p.backend.Capabilities() }

// KeywordCandidates implements domain.SourceAdapter by recalling entries
// from the wrapped backend and ranking them 1-based in return order.
func (p *PrimaryAdapter) KeywordCandidates(ctx context.Context, query string, limit int, sessionID *string) ([]domain.RetrievalCandidate, error) {
	entries, err := p.backend.Recall(ctx, query, limit, sessionID)
	if err != nil {
		return nil, err
	}

	out := make([]domain.RetrievalCandidate, len(entries))
	for i, e := range entries {
		rank := i + 1
		out[i] = domain.RetrievalCandidate{
			ID:          e.ID,
			Key:         e.Key,
			Content:     e.Content,
			Snippet:     snippet(e.Content),
			Category:    e.Category,
			Timestamp:   e.Timestamp,
			KeywordRank: &rank,
			Source:      p.backend.Name(),
		}
	}
	return out, nil
}

// Get implements domain.SourceAdapter.
func (p *PrimaryAdapter) Get(ctx context.Context, key string) (domain.RetrievalCandidate, bool, error) {
	entry, found, err := p.backend.Get(ctx, key)
	if err != nil || !found {
		return domain.RetrievalCandidate{}, found, err
	}
	return domain.RetrievalCandidate{
		ID:        entry.ID,
		Key:       entry.Key,
		Content:   entry.Content,
		Snippet:   snippet(entry.Content),
		Category:  entry.Category,
		Timestamp: entry.Timestamp,
		Source:    p.backend.Name(),
	}, true, nil
}

// HealthCheck implements domain.SourceAdapter.
func (p *PrimaryAdapter) HealthCheck(ctx context.Context) bool { return p.backend.HealthCheck(ctx) }

// Deinit implements domain.SourceAdapter. The primary backend's lifecycle
// belongs to whoever constructed it, not the retrieval engine.
func (p *PrimaryAdapter) Deinit() error { return nil }

// OwnsSelf implements domain.SourceAdapter.
func (p *PrimaryAdapter) OwnsSelf() bool { return false }

const snippetLen = 160

func snippet(content string) string {
	if len(content) <= snippetLen {
		return content
	}
	return content[:snippetLen] + "..."
}

var _ domain.SourceAdapter = (*PrimaryAdapter)(nil)
