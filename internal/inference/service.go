// Package inference orchestrates the classification pipeline: normalize,
// embed, rank against the live taxonomy, classify confidence, and hand out
// immutable predictions. It also owns the taxonomy mutation entry points and
// the feedback capture contract, since both must observe the same live label
// set that predictions rank against.
package inference

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nventro/ledgerlens/internal/classify"
	"github.com/nventro/ledgerlens/internal/feedback"
	"github.com/nventro/ledgerlens/internal/observe"
	"github.com/nventro/ledgerlens/internal/taxonomy"
	"github.com/nventro/ledgerlens/pkg/provider/embeddings"
)

// Config holds the inference service's tuning parameters. All values come
// from external configuration; see config.Validate for the required-field
// rules.
type Config struct {
	// Classifier is the confidence classifier configuration.
	Classifier classify.Config

	// MaxBulkConcurrency bounds the number of embedding calls in flight
	// during bulk classification. This is backpressure, not an optimization:
	// a large upload must not exhaust provider quotas or memory.
	MaxBulkConcurrency int

	// EmbedBatchSize is how many texts are packed into one batched embedding
	// call during bulk classification.
	EmbedBatchSize int

	// Normalize enables transaction text normalization before embedding.
	Normalize bool
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	if err := c.Classifier.Validate(); err != nil {
		return err
	}
	if c.MaxBulkConcurrency <= 0 {
		return fmt.Errorf("inference: max bulk concurrency %d must be positive", c.MaxBulkConcurrency)
	}
	if c.EmbedBatchSize <= 0 {
		return fmt.Errorf("inference: embed batch size %d must be positive", c.EmbedBatchSize)
	}
	return nil
}

// Deps carries the service's collaborators.
type Deps struct {
	// Cache is the label vector cache. Required.
	Cache *taxonomy.VectorCache

	// Labels is the durable label store. Optional; without it taxonomy
	// mutations live only in the cache.
	Labels *taxonomy.LabelStore

	// Feedback is the feedback store. Optional; without it RecordFeedback
	// and ExportTrainingData fail.
	Feedback feedback.Store

	// Explainer generates natural-language justifications. Optional;
	// without it Explain fails.
	Explainer Explainer

	// Metrics receives instrumentation. Defaults to observe.DefaultMetrics.
	Metrics *observe.Metrics
}

// Service implements the classification core's external operations.
// Safe for concurrent use.
type Service struct {
	cache     *taxonomy.VectorCache
	labels    *taxonomy.LabelStore
	feedback  feedback.Store
	explainer Explainer
	metrics   *observe.Metrics
	cfg       Config
}

// New creates a Service. Returns an error when the configuration is invalid
// or a required dependency is missing.
func New(cfg Config, deps Deps) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("inference: label vector cache is required")
	}
	if deps.Metrics == nil {
		deps.Metrics = observe.DefaultMetrics()
	}
	return &Service{
		cache:     deps.Cache,
		labels:    deps.Labels,
		feedback:  deps.Feedback,
		explainer: deps.Explainer,
		metrics:   deps.Metrics,
		cfg:       cfg,
	}, nil
}

// Predict classifies a single transaction description against the live
// taxonomy. An empty taxonomy yields a prediction with the unclassifiable
// tier, not an error; unusable text or a failed model call yields an
// [*EmbeddingError].
func (s *Service) Predict(ctx context.Context, text string) (*Prediction, error) {
	start := time.Now()
	ctx, span := observe.StartSpan(ctx, "inference.Predict")
	defer span.End()

	input, norm, err := s.embedInput(text)
	if err != nil {
		return nil, err
	}

	embedStart := time.Now()
	vec, version, err := s.cache.EmbedText(ctx, input)
	s.metrics.RecordEmbedding(ctx, "single", time.Since(embedStart))
	if err != nil {
		s.metrics.RecordProviderError(ctx, s.cache.ModelVersion(), "embeddings")
		return nil, &EmbeddingError{Err: err}
	}

	pred := s.classifyVector(ctx, text, norm, vec, s.cache.Snapshot(), version)
	s.metrics.RecordPrediction(ctx, string(pred.Tier), time.Since(start))
	return pred, nil
}

// embedInput validates and optionally normalizes raw transaction text,
// returning the string to embed and the normalized form (empty when
// normalization is disabled).
func (s *Service) embedInput(text string) (input, normalized string, err error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", "", &EmbeddingError{Err: ErrEmptyText}
	}
	if !s.cfg.Normalize {
		return trimmed, "", nil
	}
	norm := Normalize(text)
	if norm == "" {
		// Nothing but noise tokens; there is no signal to embed.
		return "", "", &EmbeddingError{Err: ErrEmptyText}
	}
	return norm, norm, nil
}

// classifyVector runs the rank + classify stages over an already-embedded
// transaction and assembles the immutable prediction record.
//
// Only labels embedded under the same model version as the transaction
// vector are ranked: a model swap landing between the transaction embed and
// this ranking pass would otherwise score vectors from two different spaces
// against each other. Mid-swap this can empty the ranking entirely, which
// classifies as unclassifiable for that one request rather than producing a
// silently wrong verdict.
func (s *Service) classifyVector(ctx context.Context, text, normalized string, vec []float32, snapshot []taxonomy.EmbeddedLabel, version string) *Prediction {
	labels := make([]taxonomy.EmbeddedLabel, 0, len(snapshot))
	for _, el := range snapshot {
		if el.ModelVersion != version {
			s.metrics.RecordRankingSkip(ctx, string(classify.SkipModelMismatch))
			observe.Logger(ctx).Warn("label excluded from ranking",
				"label_id", el.ID,
				"reason", classify.SkipModelMismatch,
				"label_model", el.ModelVersion,
				"transaction_model", version,
			)
			continue
		}
		labels = append(labels, el)
	}

	ranked, skipped := classify.Rank(vec, labels)
	for _, sk := range skipped {
		s.metrics.RecordRankingSkip(ctx, string(sk.Reason))
		observe.Logger(ctx).Warn("label excluded from ranking",
			"label_id", sk.LabelID,
			"reason", sk.Reason,
		)
	}

	outcome := classify.Classify(ranked, s.cfg.Classifier)
	return &Prediction{
		ID:             uuid.NewString(),
		Text:           text,
		NormalizedText: normalized,
		Tier:           outcome.Tier,
		Top:            outcome.Top,
		Alternatives:   outcome.Alternatives,
		ModelVersion:   version,
		CreatedAt:      time.Now().UTC(),
	}
}

// UpsertLabel adds or updates a taxonomy label. The sequence is embed,
// persist, then cache: any failure along the way leaves the previously
// cached entry intact, and by the time UpsertLabel returns the new label is
// visible to every subsequent Predict call.
//
// A model swap landing between the embed and the cache write invalidates
// the vector, and by then a row tagged with the old model may already be
// persisted. One retry re-embeds under the new model and re-persists, so
// the durable store and the cache agree on the vector space again.
func (s *Service) UpsertLabel(ctx context.Context, label taxonomy.Label) error {
	if err := label.Validate(); err != nil {
		return err
	}

	isNew := !s.cache.Contains(label.ID)
	var putErr error
	for attempt := 0; attempt < 2; attempt++ {
		embedStart := time.Now()
		vec, version, err := s.cache.EmbedText(ctx, label.EmbeddingText())
		s.metrics.RecordEmbedding(ctx, "single", time.Since(embedStart))
		if err != nil {
			s.metrics.RecordProviderError(ctx, s.cache.ModelVersion(), "embeddings")
			return &EmbeddingError{Err: err}
		}

		el := taxonomy.EmbeddedLabel{Label: label, Vector: vec, ModelVersion: version}
		if s.labels != nil {
			if err := s.labels.Upsert(ctx, el); err != nil {
				return err
			}
		}

		putErr = s.cache.PutEmbedded(el)
		if !errors.Is(putErr, taxonomy.ErrModelSwapped) {
			break
		}
	}
	if putErr != nil {
		return putErr
	}
	if isNew {
		s.metrics.LiveLabels.Add(ctx, 1)
	}
	return nil
}

// UpsertLabels imports labels in bulk, best-effort: a failed label is
// reported but does not stop the rest of the import. Returns the number of
// labels successfully imported and the joined per-label errors, if any.
func (s *Service) UpsertLabels(ctx context.Context, labels []taxonomy.Label) (int, error) {
	count := 0
	var errs []error
	for _, l := range labels {
		if err := s.UpsertLabel(ctx, l); err != nil {
			errs = append(errs, fmt.Errorf("label %q: %w", l.ID, err))
			continue
		}
		count++
	}
	return count, errors.Join(errs...)
}

// RemoveLabel deletes a label from the live taxonomy. The cache purge
// happens first so no ranking started after RemoveLabel returns can see the
// label; the durable delete follows.
func (s *Service) RemoveLabel(ctx context.Context, id string) error {
	existed := s.cache.Contains(id)
	s.cache.Remove(id)
	if existed {
		s.metrics.LiveLabels.Add(ctx, -1)
	}
	if s.labels != nil {
		if err := s.labels.Delete(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SwapModel replaces the embedding provider at runtime. The cache is
// invalidated wholesale and eagerly rebuilt — re-embedding every live label
// under the new model — before SwapModel returns, so old-model and new-model
// vectors are never mixed in a ranking pass. When a durable label store is
// configured, the re-embedded vectors are persisted as well.
//
// Note: the labels table's pgvector column has a fixed dimensionality.
// Swapping to a model with different output dimensions requires a manual
// migration of that table first.
func (s *Service) SwapModel(ctx context.Context, embedder embeddings.Provider) error {
	var labels []taxonomy.Label
	if s.labels != nil {
		stored, err := s.labels.List(ctx)
		if err != nil {
			return fmt.Errorf("inference: swap model: %w", err)
		}
		for _, el := range stored {
			labels = append(labels, el.Label)
		}
	} else {
		for _, el := range s.cache.Snapshot() {
			labels = append(labels, el.Label)
		}
	}

	s.cache.SwapProvider(embedder)
	if err := s.cache.Rebuild(ctx, labels); err != nil {
		return fmt.Errorf("inference: swap model: %w", err)
	}

	if s.labels != nil {
		var errs []error
		for _, el := range s.cache.Snapshot() {
			if err := s.labels.Upsert(ctx, el); err != nil {
				errs = append(errs, err)
			}
		}
		if err := errors.Join(errs...); err != nil {
			return fmt.Errorf("inference: swap model: persist re-embedded labels: %w", err)
		}
	}

	observe.Logger(ctx).Info("embedding model swapped",
		"model", embedder.ModelID(),
		"labels_rebuilt", len(labels),
	)
	return nil
}

// RecordFeedback appends a human correction. The corrected label must be
// live in the taxonomy at the time of recording; corrections referencing
// unknown or deleted labels fail with [feedback.ErrUnknownLabel] and leave
// the training data untouched.
func (s *Service) RecordFeedback(ctx context.Context, fb feedback.Feedback) error {
	if s.feedback == nil {
		return fmt.Errorf("inference: no feedback store configured")
	}
	if err := fb.Validate(); err != nil {
		return err
	}
	if !s.cache.Contains(fb.CorrectedLabelID) {
		return fmt.Errorf("%w: %q", feedback.ErrUnknownLabel, fb.CorrectedLabelID)
	}
	if err := s.feedback.Record(ctx, fb); err != nil {
		return err
	}
	s.metrics.FeedbackRecorded.Add(ctx, 1)
	return nil
}

// ExportTrainingData opens a cursor over all recorded corrections, oldest
// first, for consumption by an external fine-tuning pipeline.
func (s *Service) ExportTrainingData(ctx context.Context) (feedback.Export, error) {
	if s.feedback == nil {
		return nil, fmt.Errorf("inference: no feedback store configured")
	}
	return s.feedback.ExportTrainingData(ctx)
}

// Taxonomy returns the current live labels, ordered by ID.
func (s *Service) Taxonomy() []taxonomy.EmbeddedLabel {
	return s.cache.Snapshot()
}

// ModelVersion returns the embedding model version currently in service.
func (s *Service) ModelVersion() string {
	return s.cache.ModelVersion()
}
