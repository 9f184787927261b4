package inference

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nventro/ledgerlens/internal/observe"
	"github.com/nventro/ledgerlens/internal/taxonomy"
)

// PredictBulk classifies many transaction descriptions in one call. The
// returned slice is index-aligned with texts: outcome i always belongs to
// text i, regardless of completion order. Failed items carry their error in
// the outcome and never abort siblings, so N inputs always produce N
// outcomes.
//
// Items are embedded in batched provider calls of EmbedBatchSize, with at
// most MaxBulkConcurrency batches in flight. The whole batch ranks against
// one taxonomy snapshot taken at the start, so a label mutation arriving
// mid-batch cannot split the batch across two taxonomies.
//
// Context cancellation stops scheduling further work; items not yet
// processed receive the context error as their outcome.
func (s *Service) PredictBulk(ctx context.Context, texts []string) []Outcome {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "inference.PredictBulk")
	defer span.End()

	s.metrics.ActiveBulkJobs.Add(ctx, 1)
	defer s.metrics.ActiveBulkJobs.Add(ctx, -1)

	outcomes := make([]Outcome, len(texts))

	// Validate and normalize up front; unusable items fail immediately and
	// never consume provider quota.
	inputs := make([]string, len(texts))
	norms := make([]string, len(texts))
	var valid []int
	for i, t := range texts {
		input, norm, err := s.embedInput(t)
		if err != nil {
			outcomes[i] = Outcome{Err: err}
			continue
		}
		inputs[i] = input
		norms[i] = norm
		valid = append(valid, i)
	}

	snapshot := s.cache.Snapshot()

	// Each chunk goroutine writes only its own outcome indices, so no
	// further synchronization over the slice is needed.
	var g errgroup.Group
	g.SetLimit(s.cfg.MaxBulkConcurrency)
	for chunkStart := 0; chunkStart < len(valid); chunkStart += s.cfg.EmbedBatchSize {
		chunk := valid[chunkStart:min(chunkStart+s.cfg.EmbedBatchSize, len(valid))]
		g.Go(func() error {
			s.classifyChunk(ctx, chunk, inputs, norms, texts, snapshot, outcomes)
			return nil
		})
	}
	// Workers report through outcomes, never the group.
	_ = g.Wait()

	failed := 0
	for i := range outcomes {
		status := "ok"
		if outcomes[i].Err != nil {
			status = "error"
			failed++
		}
		s.metrics.RecordBulkItem(ctx, status)
	}
	observe.Logger(ctx).Info("bulk classification finished",
		"items", len(texts),
		"failed", failed,
		"duration", time.Since(start),
	)
	return outcomes
}

// classifyChunk embeds one chunk of inputs in a single batched call and
// classifies each. A failed batch call is retried item by item, so one
// poisoned input cannot take down its chunk-mates.
func (s *Service) classifyChunk(ctx context.Context, idx []int, inputs, norms, texts []string, snapshot []taxonomy.EmbeddedLabel, outcomes []Outcome) {
	if err := ctx.Err(); err != nil {
		for _, i := range idx {
			outcomes[i] = Outcome{Err: err}
		}
		return
	}

	batch := make([]string, len(idx))
	for j, i := range idx {
		batch[j] = inputs[i]
	}

	embedStart := time.Now()
	vecs, version, err := s.cache.EmbedTexts(ctx, batch)
	s.metrics.RecordEmbedding(ctx, "batch", time.Since(embedStart))
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.cache.ModelVersion(), "embeddings")
		s.retryChunkItems(ctx, idx, inputs, norms, texts, snapshot, outcomes)
		return
	}

	for j, i := range idx {
		outcomes[i] = Outcome{Prediction: s.classifyVector(ctx, texts[i], norms[i], vecs[j], snapshot, version)}
	}
}

// retryChunkItems embeds each item of a failed chunk individually.
func (s *Service) retryChunkItems(ctx context.Context, idx []int, inputs, norms, texts []string, snapshot []taxonomy.EmbeddedLabel, outcomes []Outcome) {
	for _, i := range idx {
		if err := ctx.Err(); err != nil {
			outcomes[i] = Outcome{Err: err}
			continue
		}
		vec, version, err := s.cache.EmbedText(ctx, inputs[i])
		if err != nil {
			outcomes[i] = Outcome{Err: &EmbeddingError{Err: err}}
			continue
		}
		outcomes[i] = Outcome{Prediction: s.classifyVector(ctx, texts[i], norms[i], vec, snapshot, version)}
	}
}
