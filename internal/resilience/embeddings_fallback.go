package resilience

import (
	"context"

	"github.com/nventro/ledgerlens/pkg/provider/embeddings"
)

// EmbeddingsFallback implements [embeddings.Provider] with automatic
// failover across multiple embedding backends. Each backend has its own
// circuit breaker; when the primary fails or its breaker is open, the next
// healthy fallback is tried.
//
// All entries must serve the same model: label vectors and transaction
// vectors have to live in one vector space, so failover is for redundant
// endpoints of one model (e.g., two Ollama hosts), never for switching
// models. Swapping models is a taxonomy rebuild, not a failover.
type EmbeddingsFallback struct {
	group *FallbackGroup[embeddings.Provider]
}

// Compile-time interface assertion.
var _ embeddings.Provider = (*EmbeddingsFallback)(nil)

// NewEmbeddingsFallback creates an [EmbeddingsFallback] with primary as the
// preferred backend.
func NewEmbeddingsFallback(primary embeddings.Provider, primaryName string, cfg FallbackConfig) *EmbeddingsFallback {
	return &EmbeddingsFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional embeddings provider as a fallback.
func (f *EmbeddingsFallback) AddFallback(name string, provider embeddings.Provider) {
	f.group.AddFallback(name, provider)
}

// Embed computes the embedding via the first healthy backend.
func (f *EmbeddingsFallback) Embed(ctx context.Context, text string) ([]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([]float32, error) {
		return p.Embed(ctx, text)
	})
}

// EmbedBatch computes embeddings for texts via the first healthy backend.
func (f *EmbeddingsFallback) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return ExecuteWithResult(f.group, func(p embeddings.Provider) ([][]float32, error) {
		return p.EmbedBatch(ctx, texts)
	})
}

// Dimensions returns the primary's vector dimensionality. This does not
// participate in failover because every entry serves the same model.
func (f *EmbeddingsFallback) Dimensions() int {
	return f.group.entries[0].value.Dimensions()
}

// ModelID returns the primary's model identifier.
func (f *EmbeddingsFallback) ModelID() string {
	return f.group.entries[0].value.ModelID()
}
