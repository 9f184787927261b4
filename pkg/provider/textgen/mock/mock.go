// Package mock provides a test double for the textgen.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/nventro/ledgerlens/pkg/provider/textgen"
)

// GenerateCall records a single invocation of Generate.
type GenerateCall struct {
	// Ctx is the context passed to Generate.
	Ctx context.Context
	// System is the system instruction passed to Generate.
	System string
	// Prompt is the user prompt passed to Generate.
	Prompt string
}

// Provider is a mock implementation of textgen.Provider.
type Provider struct {
	mu sync.Mutex

	// GenerateResult is returned by Generate.
	GenerateResult string

	// GenerateErr, if non-nil, is returned as the error from Generate.
	GenerateErr error

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// GenerateCalls records every call to Generate in order.
	GenerateCalls []GenerateCall
}

// Generate records the call and returns GenerateResult, GenerateErr.
func (p *Provider) Generate(ctx context.Context, system, prompt string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.GenerateCalls = append(p.GenerateCalls, GenerateCall{Ctx: ctx, System: system, Prompt: prompt})
	return p.GenerateResult, p.GenerateErr
}

// ModelID returns ModelIDValue.
func (p *Provider) ModelID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ModelIDValue
}

// Ensure Provider implements textgen.Provider at compile time.
var _ textgen.Provider = (*Provider)(nil)
