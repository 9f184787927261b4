// Package mock provides a test double for the embeddings.Provider interface.
//
// Use Provider to return pre-canned embedding vectors without a live model
// and to verify which texts were submitted for embedding. For classification
// tests that need different vectors per input (e.g. a transaction that must
// land closest to a specific label), set EmbedFunc to a map-backed lookup.
//
// Example:
//
//	p := &mock.Provider{
//	    DimensionsValue: 3,
//	    ModelIDValue:    "test-embed-v1",
//	    EmbedFunc: func(text string) ([]float32, error) {
//	        return vectors[text], nil
//	    },
//	}
package mock

import (
	"context"
	"sync"

	"github.com/nventro/ledgerlens/pkg/provider/embeddings"
)

// EmbedCall records a single invocation of Embed.
type EmbedCall struct {
	// Ctx is the context passed to Embed.
	Ctx context.Context
	// Text is the string passed to Embed.
	Text string
}

// EmbedBatchCall records a single invocation of EmbedBatch.
type EmbedBatchCall struct {
	// Ctx is the context passed to EmbedBatch.
	Ctx context.Context
	// Texts is a copy of the string slice passed to EmbedBatch.
	Texts []string
}

// Provider is a mock implementation of embeddings.Provider.
type Provider struct {
	mu sync.Mutex

	// --- Configurable responses ---

	// EmbedFunc, if non-nil, computes the result of Embed per text. It takes
	// precedence over EmbedResult/EmbedErr. EmbedBatch also consults it when
	// EmbedBatchFunc and EmbedBatchResult are unset, calling it once per text
	// so batch and single paths stay consistent in tests.
	EmbedFunc func(text string) ([]float32, error)

	// EmbedResult is returned by Embed when EmbedFunc is nil. If nil, a
	// zero-length slice is returned.
	EmbedResult []float32

	// EmbedErr, if non-nil, is returned as the error from Embed when
	// EmbedFunc is nil.
	EmbedErr error

	// EmbedBatchFunc, if non-nil, computes the result of EmbedBatch.
	EmbedBatchFunc func(texts []string) ([][]float32, error)

	// EmbedBatchResult is returned by EmbedBatch when the func hooks are nil.
	EmbedBatchResult [][]float32

	// EmbedBatchErr, if non-nil, is returned as the error from EmbedBatch
	// when the func hooks are nil.
	EmbedBatchErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// --- Call records ---

	// EmbedCalls records every call to Embed in order.
	EmbedCalls []EmbedCall

	// EmbedBatchCalls records every call to EmbedBatch in order.
	EmbedBatchCalls []EmbedBatchCall
}

// Embed records the call and returns the configured result.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.EmbedCalls = append(p.EmbedCalls, EmbedCall{Ctx: ctx, Text: text})
	fn := p.EmbedFunc
	result, errResult := p.EmbedResult, p.EmbedErr
	p.mu.Unlock()

	if fn != nil {
		return fn(text)
	}
	return result, errResult
}

// EmbedBatch records the call and returns the configured result. With no
// hooks configured it returns a slice of nil slices matching len(texts).
func (p *Provider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cp := make([]string, len(texts))
	copy(cp, texts)

	p.mu.Lock()
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, EmbedBatchCall{Ctx: ctx, Texts: cp})
	batchFn := p.EmbedBatchFunc
	embedFn := p.EmbedFunc
	result, errResult := p.EmbedBatchResult, p.EmbedBatchErr
	p.mu.Unlock()

	if batchFn != nil {
		return batchFn(cp)
	}
	if errResult != nil {
		return nil, errResult
	}
	if result != nil {
		return result, nil
	}
	if embedFn != nil {
		out := make([][]float32, len(cp))
		for i, text := range cp {
			vec, err := embedFn(text)
			if err != nil {
				return nil, err
			}
			out[i] = vec
		}
		return out, nil
	}
	return make([][]float32, len(texts)), nil
}

// Dimensions returns DimensionsValue.
func (p *Provider) Dimensions() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.DimensionsValue
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = nil
	p.EmbedBatchCalls = nil
}

// Ensure Provider implements embeddings.Provider at compile time.
var _ embeddings.Provider = (*Provider)(nil)
