// Package feedback captures human corrections to predictions and exposes
// them as a growing labeled dataset for an external fine-tuning collaborator.
//
// The log is append-only: a feedback entry is written once when a person
// corrects a prediction and is never mutated afterwards. The package does no
// training itself — it only accumulates (transaction text, corrected label)
// pairs and streams them back out on demand.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrUnknownLabel is returned when a correction references a label that is
// not in the live taxonomy. Recording such feedback would poison the
// training set with categories that no longer exist.
var ErrUnknownLabel = errors.New("feedback: corrected label is not in the live taxonomy")

// Feedback is a single human correction. Entries are immutable once
// recorded.
type Feedback struct {
	// ID uniquely identifies this entry.
	ID string `json:"id"`

	// PredictionID references the prediction being corrected, when the
	// caller still has it. May be empty for predictions that were never
	// persisted; TransactionText carries the signal either way.
	PredictionID string `json:"prediction_id,omitempty"`

	// TransactionText is the raw transaction description the prediction was
	// made for.
	TransactionText string `json:"transaction_text"`

	// PredictedLabelID is the label the system originally chose. Empty when
	// the prediction was unclassifiable.
	PredictedLabelID string `json:"predicted_label_id,omitempty"`

	// CorrectedLabelID is the label the human says is right.
	CorrectedLabelID string `json:"corrected_label_id"`

	// CreatedAt is when the correction was recorded, in UTC.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks that the entry carries enough signal to be useful as
// training data.
func (f Feedback) Validate() error {
	if strings.TrimSpace(f.TransactionText) == "" {
		return fmt.Errorf("feedback: transaction text must not be empty")
	}
	if strings.TrimSpace(f.CorrectedLabelID) == "" {
		return fmt.Errorf("feedback: corrected label id must not be empty")
	}
	return nil
}

// TrainingPair is one row of the exported training dataset.
type TrainingPair struct {
	// TransactionText is the model input.
	TransactionText string `json:"transaction_text"`

	// LabelID is the human-verified target label.
	LabelID string `json:"label_id"`
}

// Export is a lazy cursor over training pairs. Iterate with Next/Pair, check
// Err after Next returns false, and always Close. Each call to
// ExportTrainingData opens a fresh cursor positioned at the start, so an
// interrupted export can simply be restarted.
type Export interface {
	// Next advances to the next pair. Returns false at the end of the data
	// or on error.
	Next() bool

	// Pair returns the current pair. Only valid after a true Next.
	Pair() TrainingPair

	// Err returns the first error encountered during iteration, if any.
	Err() error

	// Close releases the cursor's resources.
	Close() error
}

// Store persists feedback entries. Implementations must be safe for
// concurrent use.
type Store interface {
	// Record appends a feedback entry. The entry is validated for shape;
	// liveness of the corrected label is the caller's concern since only the
	// inference service sees the live taxonomy.
	Record(ctx context.Context, fb Feedback) error

	// ExportTrainingData opens a cursor over all feedback recorded up to the
	// call, oldest first. Only corrected predictions appear — the store
	// never holds anything else.
	ExportTrainingData(ctx context.Context) (Export, error)
}
