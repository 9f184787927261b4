package inference

import "errors"

// ErrEmptyText is the cause recorded in an [EmbeddingError] when a
// transaction description is empty or whitespace-only. There is nothing to
// embed, so there is nothing to classify.
var ErrEmptyText = errors.New("transaction text is empty")

// ErrEmptyExplanation is returned by Explain when the text-generation
// collaborator produced no usable prose. The core does not judge the content
// of an explanation, but an empty one is a failed call.
var ErrEmptyExplanation = errors.New("inference: explanation generator returned empty text")

// ErrNothingToExplain is returned by Explain for unclassifiable predictions:
// with no top label there is no claim to justify.
var ErrNothingToExplain = errors.New("inference: prediction has no top label to explain")

// EmbeddingError reports a failure to turn text into a vector — either the
// input was unusable (see ErrEmptyText) or the underlying model call failed.
// Single-item Predict surfaces it to the caller directly; bulk processing
// captures it as the failed item's outcome without touching sibling items.
type EmbeddingError struct {
	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *EmbeddingError) Error() string {
	return "inference: embedding: " + e.Err.Error()
}

// Unwrap returns the underlying cause so errors.Is sees through the wrapper.
func (e *EmbeddingError) Unwrap() error {
	return e.Err
}

// IsEmbeddingError reports whether err is (or wraps) an [EmbeddingError].
func IsEmbeddingError(err error) bool {
	var ee *EmbeddingError
	return errors.As(err, &ee)
}
