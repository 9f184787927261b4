package resilience

import (
	"context"

	"github.com/nventro/ledgerlens/pkg/provider/textgen"
)

// TextGenFallback implements [textgen.Provider] with automatic failover
// across multiple text generation backends. Explanations are best-effort
// prose, so unlike embeddings the entries here may be entirely different
// models.
type TextGenFallback struct {
	group *FallbackGroup[textgen.Provider]
}

// Compile-time interface assertion.
var _ textgen.Provider = (*TextGenFallback)(nil)

// NewTextGenFallback creates a [TextGenFallback] with primary as the
// preferred backend.
func NewTextGenFallback(primary textgen.Provider, primaryName string, cfg FallbackConfig) *TextGenFallback {
	return &TextGenFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional text generation provider as a fallback.
func (f *TextGenFallback) AddFallback(name string, provider textgen.Provider) {
	f.group.AddFallback(name, provider)
}

// Generate produces text via the first healthy backend.
func (f *TextGenFallback) Generate(ctx context.Context, system, prompt string) (string, error) {
	return ExecuteWithResult(f.group, func(p textgen.Provider) (string, error) {
		return p.Generate(ctx, system, prompt)
	})
}

// ModelID returns the primary's model identifier.
func (f *TextGenFallback) ModelID() string {
	return f.group.entries[0].value.ModelID()
}
