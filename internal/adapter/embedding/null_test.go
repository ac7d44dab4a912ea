package embedding

import (
	"context"
	"testing"
)

func TestNullProvider(t *testing.T) {
	p := NewNullProvider(384)
	ctx := context.Background()

	vecs, err := p.Embed(ctx, []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs) != 3 {
		t.Fatalf("Embed returned %d vectors, want 3", len(vecs))
	}
	for i, v := range vecs {
		if len(v) != 0 {
			t.Errorf("vecs[%d] = %v, want empty", i, v)
		}
	}

	if p.Dimensions() != 384 {
		t.Errorf("Dimensions() = %d, want 384", p.Dimensions())
	}
	if p.Name() != "null" {
		t.Errorf("Name() = %q, want %q", p.Name(), "null")
	}
}
