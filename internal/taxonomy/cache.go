package taxonomy

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/antzucaro/matchr"

	"github.com/nventro/ledgerlens/pkg/provider/embeddings"
)

// nearDuplicateThreshold is the Jaro-Winkler score above which two label
// display names are flagged as probable duplicates on upsert.
const nearDuplicateThreshold = 0.93

// VectorCache is the process-wide store mapping each live label to its
// embedding vector. It sits above the embeddings provider: Upsert computes
// the vector, Snapshot hands a consistent copy of the live set to the ranker.
//
// Concurrency contract: readers (Get, Snapshot, Len) proceed concurrently
// without blocking each other; writers (Upsert, Remove, SwapProvider,
// Rebuild) are serialized by the write lock. Embedding computation — the only
// slow part of an upsert — happens outside the lock, so a snapshot taken
// mid-upsert sees either the previous vector or the new one, never a torn
// state. When two upserts for the same label race, the one whose embedding
// completes last wins and is the only value subsequent reads observe.
type VectorCache struct {
	mu       sync.RWMutex
	entries  map[string]EmbeddedLabel
	embedder embeddings.Provider
	version  string
}

// NewVectorCache creates an empty cache bound to the given embeddings
// provider. The provider's ModelID becomes the cache's model version tag.
func NewVectorCache(embedder embeddings.Provider) *VectorCache {
	return &VectorCache{
		entries:  make(map[string]EmbeddedLabel),
		embedder: embedder,
		version:  embedder.ModelID(),
	}
}

// Get returns the cached embedded label for id.
// Returns ErrNotFound if the label is not live.
func (c *VectorCache) Get(id string) (EmbeddedLabel, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	el, ok := c.entries[id]
	if !ok {
		return EmbeddedLabel{}, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return el, nil
}

// Contains reports whether a label with the given ID is live.
func (c *VectorCache) Contains(id string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.entries[id]
	return ok
}

// Upsert recomputes and stores the embedding for label. On any failure the
// previously cached entry (if one exists) is left intact, so rankings never
// silently run against a missing or half-written vector.
//
// If the embedding model is swapped while the vector is being computed, the
// stale vector is discarded and ErrModelSwapped is returned.
func (c *VectorCache) Upsert(ctx context.Context, label Label) error {
	if err := label.Validate(); err != nil {
		return err
	}

	vec, version, err := c.EmbedText(ctx, label.EmbeddingText())
	if err != nil {
		return fmt.Errorf("taxonomy: embed label %q: %w", label.ID, err)
	}

	return c.PutEmbedded(EmbeddedLabel{
		Label:        label,
		Vector:       vec,
		ModelVersion: version,
	})
}

// PutEmbedded installs an already-embedded label in the cache. Callers that
// persist labels externally use this to make the cache write the final,
// infallible step of an upsert: embed first, persist second, PutEmbedded
// last, so any earlier failure leaves the cache untouched.
//
// Returns ErrModelSwapped when el's vector belongs to a different model
// version than the cache currently serves; stale vectors are never installed.
func (c *VectorCache) PutEmbedded(el EmbeddedLabel) error {
	if err := el.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// A model swap between the embed call and this write would mix vector
	// spaces; discard the stale vector instead.
	if el.ModelVersion != c.version {
		return ErrModelSwapped
	}

	if dup, score, ok := c.nearDuplicateLocked(el.Label); ok {
		slog.Warn("label name is a near-duplicate of an existing label",
			"label_id", el.ID,
			"name", el.Name,
			"existing_id", dup.ID,
			"existing_name", dup.Name,
			"similarity", score,
		)
	}

	c.entries[el.ID] = el
	return nil
}

// EmbedText embeds arbitrary text — a transaction description or a label's
// embedding text — with the cache's current provider and returns the vector
// together with the model version that produced it. Routing transaction
// embedding through the cache guarantees the vector lives in the same space
// as the label vectors a subsequent Snapshot returns.
func (c *VectorCache) EmbedText(ctx context.Context, text string) ([]float32, string, error) {
	c.mu.RLock()
	embedder := c.embedder
	version := c.version
	c.mu.RUnlock()

	vec, err := embedder.Embed(ctx, text)
	if err != nil {
		return nil, "", err
	}
	return vec, version, nil
}

// EmbedTexts is the batched counterpart of EmbedText. The returned slice is
// ordered identically to texts.
func (c *VectorCache) EmbedTexts(ctx context.Context, texts []string) ([][]float32, string, error) {
	c.mu.RLock()
	embedder := c.embedder
	version := c.version
	c.mu.RUnlock()

	vecs, err := embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, "", err
	}
	if len(vecs) != len(texts) {
		return nil, "", fmt.Errorf("taxonomy: expected %d vectors, got %d", len(texts), len(vecs))
	}
	return vecs, version, nil
}

// Remove purges the label from the cache. Removing an unknown ID is not an
// error; the outcome — the label is not live — is the same either way.
func (c *VectorCache) Remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Snapshot returns a copy of all live embedded labels ordered by label ID.
// The copy is detached: concurrent writes after Snapshot returns do not
// affect it, so an in-flight ranking pass works against a frozen taxonomy.
func (c *VectorCache) Snapshot() []EmbeddedLabel {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]EmbeddedLabel, 0, len(c.entries))
	for _, el := range c.entries {
		out = append(out, el)
	}
	slices.SortFunc(out, func(a, b EmbeddedLabel) int {
		return strings.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of live labels.
func (c *VectorCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// ModelVersion returns the model version tag shared by every cached vector.
func (c *VectorCache) ModelVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.version
}

// SwapProvider replaces the embeddings provider and invalidates the entire
// cache in one atomic step. Every cached vector belongs to the old model's
// vector space, so there is nothing worth keeping; callers should follow up
// with Rebuild to re-embed the taxonomy eagerly.
func (c *VectorCache) SwapProvider(embedder embeddings.Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.embedder = embedder
	c.version = embedder.ModelID()
	c.entries = make(map[string]EmbeddedLabel)
}

// Rebuild re-embeds the given labels in one batched provider call and
// replaces the cache contents wholesale. Used to warm the cache at startup
// and to repopulate it after SwapProvider. On error the cache is left as it
// was (empty after a swap, previous contents otherwise).
func (c *VectorCache) Rebuild(ctx context.Context, labels []Label) error {
	for _, l := range labels {
		if err := l.Validate(); err != nil {
			return err
		}
	}

	c.mu.RLock()
	version := c.version
	embedder := c.embedder
	c.mu.RUnlock()

	texts := make([]string, len(labels))
	for i, l := range labels {
		texts[i] = l.EmbeddingText()
	}

	var vecs [][]float32
	if len(labels) > 0 {
		var err error
		vecs, err = embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("taxonomy: rebuild: embed %d labels: %w", len(labels), err)
		}
		if len(vecs) != len(labels) {
			return fmt.Errorf("taxonomy: rebuild: expected %d vectors, got %d", len(labels), len(vecs))
		}
	}

	entries := make(map[string]EmbeddedLabel, len(labels))
	for i, l := range labels {
		entries[l.ID] = EmbeddedLabel{
			Label:        l,
			Vector:       vecs[i],
			ModelVersion: version,
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.version != version {
		return ErrModelSwapped
	}
	c.entries = entries
	return nil
}

// nearDuplicateLocked scans the live set for a different label whose display
// name is suspiciously close to label's. Caller must hold at least the read
// lock.
func (c *VectorCache) nearDuplicateLocked(label Label) (Label, float64, bool) {
	name := strings.ToLower(strings.TrimSpace(label.Name))
	best := Label{}
	bestScore := 0.0
	for _, el := range c.entries {
		if el.ID == label.ID {
			continue
		}
		score := matchr.JaroWinkler(name, strings.ToLower(strings.TrimSpace(el.Name)), true)
		if score > bestScore {
			best = el.Label
			bestScore = score
		}
	}
	if bestScore >= nearDuplicateThreshold {
		return best, bestScore, true
	}
	return Label{}, 0, false
}
