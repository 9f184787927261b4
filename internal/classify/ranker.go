// Package classify contains the similarity ranking and confidence
// classification logic at the heart of the prediction pipeline.
//
// Given a transaction's embedding vector and a snapshot of the live label
// vectors, [Rank] scores every label by cosine similarity and [Classify]
// turns the ranked list into a confidence-tiered verdict. Both are pure
// functions over their inputs: all state lives in the taxonomy cache, all
// tuning lives in configuration.
package classify

import (
	"math"
	"slices"
	"strings"

	"github.com/nventro/ledgerlens/internal/taxonomy"
)

// Scored pairs a label with its cosine similarity score against a
// transaction vector.
type Scored struct {
	// LabelID identifies the label.
	LabelID string `json:"label_id"`

	// Name is the label's display name, carried along so callers need not
	// re-resolve IDs for presentation.
	Name string `json:"name"`

	// Score is the cosine similarity in [-1, 1].
	Score float64 `json:"score"`
}

// SkipReason explains why a label was excluded from a ranking pass.
type SkipReason string

const (
	// SkipZeroMagnitude marks a label whose cached vector has zero magnitude.
	// Cosine similarity is undefined against such a vector.
	SkipZeroMagnitude SkipReason = "zero_magnitude"

	// SkipDimensionMismatch marks a label whose cached vector length differs
	// from the transaction vector's. This indicates a cache that was not
	// properly invalidated across a model swap.
	SkipDimensionMismatch SkipReason = "dimension_mismatch"

	// SkipModelMismatch marks a label whose cached vector was produced by a
	// different embedding model version than the transaction vector. Scores
	// across vector spaces are meaningless even when the dimensions happen to
	// agree, so such labels are never ranked.
	SkipModelMismatch SkipReason = "model_mismatch"
)

// Skipped records a label that could not be ranked. A degenerate label is a
// per-label defect, never a whole-request failure: the remaining labels are
// still ranked and the skip is surfaced to the caller for logging.
type Skipped struct {
	LabelID string
	Reason  SkipReason
}

// Rank scores every label in the snapshot against the transaction vector vec
// and returns the labels sorted by descending cosine similarity. Equal scores
// are broken by label ID ascending, so a ranking is fully deterministic and
// reproducible for a fixed taxonomy and transaction.
//
// Labels with degenerate vectors are excluded from the ranking and reported
// in the second return value. An empty snapshot yields an empty ranking; the
// confidence classifier maps that to the unclassifiable outcome.
func Rank(vec []float32, labels []taxonomy.EmbeddedLabel) ([]Scored, []Skipped) {
	ranked := make([]Scored, 0, len(labels))
	var skipped []Skipped

	for _, l := range labels {
		if len(l.Vector) != len(vec) {
			skipped = append(skipped, Skipped{LabelID: l.ID, Reason: SkipDimensionMismatch})
			continue
		}
		score, ok := cosine(vec, l.Vector)
		if !ok {
			skipped = append(skipped, Skipped{LabelID: l.ID, Reason: SkipZeroMagnitude})
			continue
		}
		ranked = append(ranked, Scored{LabelID: l.ID, Name: l.Name, Score: score})
	}

	slices.SortFunc(ranked, func(a, b Scored) int {
		switch {
		case a.Score > b.Score:
			return -1
		case a.Score < b.Score:
			return 1
		default:
			return strings.Compare(a.LabelID, b.LabelID)
		}
	})
	return ranked, skipped
}

// cosine returns the cosine similarity of a and b: their dot product divided
// by the product of their magnitudes. Returns ok=false when either vector has
// zero magnitude. Accumulation is done in float64 to limit rounding drift
// over high-dimensional vectors.
func cosine(a, b []float32) (float64, bool) {
	var dot, magA, magB float64
	for i := range a {
		av, bv := float64(a[i]), float64(b[i])
		dot += av * bv
		magA += av * av
		magB += bv * bv
	}
	if magA == 0 || magB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB)), true
}
