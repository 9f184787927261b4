package classify

import "fmt"

// Tier is the classifier's verdict on how trustworthy the top prediction is.
type Tier string

const (
	// TierAccepted: the top score clears the high-confidence threshold and
	// leads the runner-up by at least the ambiguity margin.
	TierAccepted Tier = "accepted"

	// TierLowConfidence: the ranking is non-empty but the top score falls
	// short of the high-confidence threshold. The prediction is usable but
	// should be routed to human review.
	TierLowConfidence Tier = "low_confidence"

	// TierAmbiguous: the top score clears the threshold but the runner-up is
	// within the ambiguity margin — a near-tie between two or more
	// categories.
	TierAmbiguous Tier = "ambiguous"

	// TierUnclassifiable: the ranking was empty (no live labels). This is an
	// expected operating condition, not an error, and it never defaults to
	// an arbitrary label.
	TierUnclassifiable Tier = "unclassifiable"
)

// IsValid reports whether t is a recognised confidence tier.
func (t Tier) IsValid() bool {
	switch t {
	case TierAccepted, TierLowConfidence, TierAmbiguous, TierUnclassifiable:
		return true
	}
	return false
}

// Config holds the classifier's tuning parameters. The values are
// deployment-specific and must come from external configuration — there are
// no built-in defaults.
type Config struct {
	// HighConfidence is the minimum top score for a prediction to be
	// considered trustworthy on its own.
	HighConfidence float64

	// AmbiguityMargin is the minimum lead the top score must hold over the
	// runner-up for the prediction to be accepted rather than ambiguous.
	AmbiguityMargin float64

	// TopK is the number of ranked alternatives carried in each outcome.
	TopK int
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if c.HighConfidence <= 0 || c.HighConfidence > 1 {
		return fmt.Errorf("classify: high confidence threshold %.3f out of range (0, 1]", c.HighConfidence)
	}
	if c.AmbiguityMargin < 0 {
		return fmt.Errorf("classify: ambiguity margin %.3f must not be negative", c.AmbiguityMargin)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("classify: top-k %d must be positive", c.TopK)
	}
	return nil
}

// Outcome is the classifier's verdict over a ranked list.
type Outcome struct {
	// Tier is the confidence tier. Exactly one tier applies to any ranking.
	Tier Tier `json:"tier"`

	// Top is the best-scoring label. Unset when Tier is TierUnclassifiable.
	Top Scored `json:"top,omitempty"`

	// Alternatives holds the top-K ranked (label, score) pairs, including
	// the top label itself, in descending score order.
	Alternatives []Scored `json:"alternatives,omitempty"`
}

// Classify applies the configured thresholds to a ranking produced by [Rank].
//
// The three non-empty tiers are mutually exclusive and total: for any
// non-empty ranking exactly one of accepted, low-confidence, or ambiguous
// applies. An empty ranking yields TierUnclassifiable. Classify is a pure
// function of its inputs and the configuration.
func Classify(ranking []Scored, cfg Config) Outcome {
	if len(ranking) == 0 {
		return Outcome{Tier: TierUnclassifiable}
	}

	top := ranking[0]
	k := min(cfg.TopK, len(ranking))
	alts := make([]Scored, k)
	copy(alts, ranking[:k])

	tier := TierLowConfidence
	if top.Score >= cfg.HighConfidence {
		// The margin rule only bites when there is a runner-up to tie with.
		if len(ranking) == 1 || top.Score-ranking[1].Score >= cfg.AmbiguityMargin {
			tier = TierAccepted
		} else {
			tier = TierAmbiguous
		}
	}

	return Outcome{Tier: tier, Top: top, Alternatives: alts}
}
