// Package embeddings defines the Provider interface for vector embedding backends.
//
// An embeddings provider wraps a pretrained model that maps text strings —
// transaction descriptions and category label descriptions alike — to dense
// float32 vectors. These vectors are the sole representation the classifier
// compares: a transaction is assigned to whichever live label's vector it is
// closest to by cosine similarity.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance must share the same
// dimensionality (returned by Dimensions) and must be deterministic: the same
// text submitted twice against the same model version yields the same vector.
// Vectors from different Provider instances, or from the same provider after a
// model swap, must never be mixed in one similarity computation — the label
// vector cache enforces this via its model-version tag.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails or
	// ctx is cancelled.
	//
	// Providers pass text through verbatim; any normalization (lower-casing,
	// merchant-token stripping) is the caller's responsibility.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call, amortizing the fixed per-request overhead that dominates
	// bulk classification cost. The returned slice has the same length as
	// texts and the i-th element corresponds to texts[i].
	//
	// Returns an error if any single embedding fails or if ctx is cancelled.
	// Partial results are not returned — on error the entire slice is nil.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider. Constant for the lifetime of the Provider instance.
	Dimensions() int

	// ModelID returns the provider-specific model identifier (e.g.
	// "text-embedding-3-small"). The label vector cache stores this alongside
	// every cached vector so stale vectors can be detected after a model swap.
	ModelID() string
}
