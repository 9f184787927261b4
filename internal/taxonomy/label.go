// Package taxonomy manages the live set of category labels and their cached
// embedding vectors.
//
// The taxonomy is the only mutable shared state in the classification core:
// admins add, edit, and remove labels at runtime, and every prediction ranks
// against exactly the set of labels live at that instant. The package
// guarantees that readers never observe a label mid-recomputation and that
// vectors produced by different embedding model versions are never mixed in
// a single ranking pass.
package taxonomy

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors returned by taxonomy operations.
var (
	// ErrNotFound is returned when a label ID does not exist in the live set.
	ErrNotFound = errors.New("taxonomy: label not found")

	// ErrModelSwapped is returned by Upsert when the embedding model was
	// swapped while the label's vector was being computed. The caller should
	// retry against the new model.
	ErrModelSwapped = errors.New("taxonomy: embedding model swapped during upsert")
)

// Label is a single category in the classification taxonomy, as managed by
// the external admin collaborator. The embedding vector is not part of Label;
// it is computed and attached by the cache (see EmbeddedLabel).
type Label struct {
	// ID is the stable, unique identifier for this label. It never changes
	// across edits and is the key used for feedback correction references.
	ID string `json:"id"`

	// Name is the display name shown to users (e.g. "Dining").
	Name string `json:"name"`

	// Description is optional free text that sharpens the label's embedding
	// (e.g. "restaurants, cafes, takeout and food delivery"). When present it
	// is embedded together with the name.
	Description string `json:"description,omitempty"`

	// CreatedAt and UpdatedAt are maintained by the label store.
	CreatedAt time.Time `json:"created_at,omitempty"`
	UpdatedAt time.Time `json:"updated_at,omitempty"`
}

// Validate checks that the label is well-formed.
func (l Label) Validate() error {
	if strings.TrimSpace(l.ID) == "" {
		return fmt.Errorf("taxonomy: label id must not be empty")
	}
	if strings.TrimSpace(l.Name) == "" {
		return fmt.Errorf("taxonomy: label %q: name must not be empty", l.ID)
	}
	return nil
}

// EmbeddingText returns the text that is embedded to represent this label in
// similarity ranking. The description, when present, is appended to the name
// so that "Fuel: gas stations, petrol, EV charging" lands closer to fuel
// transactions than the bare word "Fuel" would.
func (l Label) EmbeddingText() string {
	name := strings.TrimSpace(l.Name)
	desc := strings.TrimSpace(l.Description)
	if desc == "" {
		return name
	}
	return name + ": " + desc
}

// EmbeddedLabel pairs a label with its cached embedding vector and the model
// version that produced it.
type EmbeddedLabel struct {
	Label

	// Vector is the label's embedding under ModelVersion.
	Vector []float32 `json:"-"`

	// ModelVersion identifies the embedding model that produced Vector.
	// Vectors with different model versions are never compared.
	ModelVersion string `json:"model_version,omitempty"`
}
