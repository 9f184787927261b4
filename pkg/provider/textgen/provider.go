// Package textgen defines the Provider interface for natural-language text
// generation backends.
//
// The classification core uses text generation for exactly one thing:
// producing a short free-text justification for a prediction ("why was this
// transaction filed under Fuel?"). The core hands the backend a fully
// rendered prompt and takes the generated prose verbatim — it never parses
// or validates the output beyond non-emptiness, so the interface is
// deliberately much narrower than a general chat-completion API.
//
// Implementations must be safe for concurrent use.
package textgen

import "context"

// Provider is the abstraction over any text-generation backend.
type Provider interface {
	// Generate produces a completion for the given prompt. The optional
	// system instruction primes the model's register (e.g. "you are a
	// financial assistant; answer in one sentence"); implementations that
	// have no native system-role support should prepend it to the prompt.
	//
	// Returns an error if the request fails or ctx is cancelled.
	Generate(ctx context.Context, system, prompt string) (string, error)

	// ModelID returns the backend-specific model identifier, used for
	// logging only.
	ModelID() string
}
