package inference

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/nventro/ledgerlens/internal/classify"
)

// Explainer produces a short natural-language justification for a
// classification. Satisfied by any textgen provider.
type Explainer interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	ModelID() string
}

const explainSystem = `You are a bookkeeping assistant. Given a bank ` +
	`transaction description and the category it was assigned, explain in ` +
	`one or two plain sentences why that category fits. Mention the merchant ` +
	`or purpose if recognizable. Do not invent details that are not in the ` +
	`description.`

// Explain generates a human-readable justification for a prediction's top
// label. Explanations are produced on demand and never stored on the
// prediction itself; the generated text is returned verbatim, with no
// parsing or post-processing beyond an emptiness check.
//
// Returns ErrNothingToExplain for unclassifiable predictions and
// ErrEmptyExplanation when the generator produced no usable prose.
func (s *Service) Explain(ctx context.Context, p *Prediction) (string, error) {
	if s.explainer == nil {
		return "", fmt.Errorf("inference: no text generation provider configured")
	}
	if p == nil || p.Tier == classify.TierUnclassifiable || p.Top.LabelID == "" {
		return "", ErrNothingToExplain
	}

	text := p.Text
	if p.NormalizedText != "" {
		text = p.NormalizedText
	}
	prompt := fmt.Sprintf(
		"Transaction: %q\nAssigned category: %q\nSimilarity score: %.3f\nConfidence: %s",
		text, p.Top.Name, p.Top.Score, p.Tier,
	)

	start := time.Now()
	out, err := s.explainer.Generate(ctx, explainSystem, prompt)
	s.metrics.ExplanationDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.explainer.ModelID(), "textgen")
		return "", fmt.Errorf("inference: explain prediction %s: %w", p.ID, err)
	}
	if strings.TrimSpace(out) == "" {
		return "", ErrEmptyExplanation
	}
	return out, nil
}
