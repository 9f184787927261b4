package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"embeddings": {"openai", "ollama"},
	"textgen":    {"openai", "anthropic", "ollama", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	// Providers
	if cfg.Providers.Embeddings.Name == "" {
		errs = append(errs, errors.New("providers.embeddings.name is required"))
	}
	validateProviderName("embeddings", cfg.Providers.Embeddings.Name)
	validateProviderName("textgen", cfg.Providers.TextGen.Name)
	if cfg.Providers.TextGen.Name == "" {
		slog.Warn("providers.textgen is not configured; prediction explanations will not be available")
	}

	// Classifier thresholds are deployment decisions; high_confidence and
	// top_k are required.
	if cfg.Classifier.HighConfidence <= 0 || cfg.Classifier.HighConfidence > 1 {
		errs = append(errs, fmt.Errorf("classifier.high_confidence %.3f is required and must be in (0, 1]", cfg.Classifier.HighConfidence))
	}
	// A zero margin is a deliberate "never ambiguous" setting, so unlike the
	// other thresholds it is not required to be positive.
	if cfg.Classifier.AmbiguityMargin < 0 || cfg.Classifier.AmbiguityMargin > 1 {
		errs = append(errs, fmt.Errorf("classifier.ambiguity_margin %.3f must be in [0, 1]", cfg.Classifier.AmbiguityMargin))
	}
	if cfg.Classifier.TopK <= 0 {
		errs = append(errs, fmt.Errorf("classifier.top_k %d is required and must be positive", cfg.Classifier.TopK))
	}

	// Inference
	if cfg.Inference.MaxBulkConcurrency <= 0 {
		errs = append(errs, fmt.Errorf("inference.max_bulk_concurrency %d is required and must be positive", cfg.Inference.MaxBulkConcurrency))
	}
	if cfg.Inference.EmbedBatchSize <= 0 {
		errs = append(errs, fmt.Errorf("inference.embed_batch_size %d is required and must be positive", cfg.Inference.EmbedBatchSize))
	}

	// Storage
	if cfg.Storage.PostgresDSN != "" && cfg.Storage.EmbeddingDimensions <= 0 {
		errs = append(errs, errors.New("storage.embedding_dimensions is required when storage.postgres_dsn is set"))
	}
	if cfg.Storage.PostgresDSN == "" {
		slog.Warn("storage.postgres_dsn is empty; labels will not survive a restart")
		if cfg.Storage.FeedbackPath == "" {
			slog.Warn("no postgres_dsn and no feedback_path configured; feedback capture will not be available")
		}
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or a third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
