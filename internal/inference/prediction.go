package inference

import (
	"time"

	"github.com/nventro/ledgerlens/internal/classify"
)

// Prediction is the immutable result of classifying one transaction
// description against the live taxonomy. It is created once per inference
// call and never modified afterwards; the optional explanation is produced
// by a separate Explain call on demand.
type Prediction struct {
	// ID uniquely identifies this prediction so later feedback can
	// reference it.
	ID string `json:"id"`

	// Text is the raw transaction description as submitted.
	Text string `json:"text"`

	// NormalizedText is the preprocessed form actually embedded, when
	// normalization is enabled. Empty otherwise.
	NormalizedText string `json:"normalized_text,omitempty"`

	// Tier is the confidence verdict for the top label.
	Tier classify.Tier `json:"tier"`

	// Top is the best-scoring label. Zero-valued when Tier is
	// unclassifiable.
	Top classify.Scored `json:"top,omitempty"`

	// Alternatives holds the top-K ranked (label, score) pairs in
	// descending score order, the top label included.
	Alternatives []classify.Scored `json:"alternatives,omitempty"`

	// ModelVersion is the embedding model the ranking was computed under.
	ModelVersion string `json:"model_version"`

	// CreatedAt is when the prediction was made, in UTC.
	CreatedAt time.Time `json:"created_at"`
}

// Outcome is one entry in a bulk classification result: either a prediction
// or the per-item error that prevented one, never both.
type Outcome struct {
	// Prediction is set when the item classified successfully.
	Prediction *Prediction

	// Err is set when the item failed. A failed item never aborts its
	// siblings.
	Err error
}
