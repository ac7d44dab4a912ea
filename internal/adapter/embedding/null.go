package embedding

import (
	"context"

	"lumen/internal/domain"
)

// NullProvider is a placeholder embedding provider for keyword-only
// deployments: it returns a zero error but also zero vectors, so a
// runtime wired with it never populates the vector plane. Grounded on
// the teacher's NoopMemory placeholder.
type NullProvider struct {
	dims int
}

// NewNullProvider creates a no-op embedding provider reporting dims
// dimensions (used only so callers sizing a vector column get a
// consistent answer from Dimensions()).
func NewNullProvider(dims int) *NullProvider {
	return &NullProvider{dims: dims}
}

// Embed implements domain.EmbeddingProvider. It returns one empty
// vector per input text rather than an error, so callers that don't
// check for a configured vector plane degrade quietly instead of
// failing Store.
func (p *NullProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	return out, nil
}

// Dimensions implements domain.EmbeddingProvider.
func (p *NullProvider) Dimensions() int { return p.dims }

// Name implements domain.EmbeddingProvider.
func (p *NullProvider) Name() string { return "null" }

// Compile-time interface check.
var _ domain.EmbeddingProvider = (*NullProvider)(nil)
