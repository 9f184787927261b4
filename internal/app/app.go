// Package app wires all LedgerLens subsystems into a running server.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves HTTP until the context is cancelled, and Shutdown
// tears everything down in order.
//
// For testing, inject doubles via functional options (WithFeedbackStore,
// WithMetrics, etc.). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nventro/ledgerlens/internal/classify"
	"github.com/nventro/ledgerlens/internal/config"
	"github.com/nventro/ledgerlens/internal/feedback"
	"github.com/nventro/ledgerlens/internal/health"
	"github.com/nventro/ledgerlens/internal/inference"
	"github.com/nventro/ledgerlens/internal/observe"
	"github.com/nventro/ledgerlens/internal/resilience"
	"github.com/nventro/ledgerlens/internal/server"
	"github.com/nventro/ledgerlens/internal/taxonomy"
	"github.com/nventro/ledgerlens/pkg/provider/embeddings"
	"github.com/nventro/ledgerlens/pkg/provider/textgen"
)

// shutdownHTTPTimeout bounds the in-flight request drain during Shutdown.
const shutdownHTTPTimeout = 10 * time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
type Providers struct {
	Embeddings embeddings.Provider
	TextGen    textgen.Provider
}

// App owns all subsystem lifetimes for the LedgerLens server.
type App struct {
	cfg       *config.Config
	providers *Providers
	registry  *config.Registry

	// Subsystems — initialised in New, torn down in Shutdown.
	pool     *pgxpool.Pool
	cache    *taxonomy.VectorCache
	labels   *taxonomy.LabelStore
	feedback feedback.Store
	metrics  *observe.Metrics
	svc      *inference.Service
	httpSrv  *http.Server

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithFeedbackStore injects a feedback store instead of creating one from config.
func WithFeedbackStore(s feedback.Store) Option {
	return func(a *App) { a.feedback = s }
}

// WithLabelStore injects a label store instead of connecting to PostgreSQL.
func WithLabelStore(s *taxonomy.LabelStore) Option {
	return func(a *App) { a.labels = s }
}

// WithMetrics injects a metrics set instead of using the global default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry).
//
// New performs all initialisation synchronously: database connection and
// migrations, vector cache warm-up from the stored taxonomy, and HTTP route
// assembly. When New returns, the server is ready to answer its first
// prediction.
func New(ctx context.Context, cfg *config.Config, providers *Providers, registry *config.Registry, opts ...Option) (*App, error) {
	if providers == nil || providers.Embeddings == nil {
		return nil, fmt.Errorf("app: an embeddings provider is required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
		registry:  registry,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Resilient providers ───────────────────────────────────────────
	embedder := a.wrapEmbeddings()

	// ── 3. Vector cache warm-up ──────────────────────────────────────────
	a.cache = taxonomy.NewVectorCache(embedder)
	if err := a.warmCache(ctx); err != nil {
		return nil, fmt.Errorf("app: warm cache: %w", err)
	}
	a.metrics.LiveLabels.Add(ctx, int64(a.cache.Len()))

	// ── 4. Inference service ─────────────────────────────────────────────
	svc, err := inference.New(inference.Config{
		Classifier: classify.Config{
			HighConfidence:  cfg.Classifier.HighConfidence,
			AmbiguityMargin: cfg.Classifier.AmbiguityMargin,
			TopK:            cfg.Classifier.TopK,
		},
		MaxBulkConcurrency: cfg.Inference.MaxBulkConcurrency,
		EmbedBatchSize:     cfg.Inference.EmbedBatchSize,
		Normalize:          cfg.Inference.Normalize,
	}, inference.Deps{
		Cache:     a.cache,
		Labels:    a.labels,
		Feedback:  a.feedback,
		Explainer: a.wrapTextGen(),
		Metrics:   a.metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("app: init inference: %w", err)
	}
	a.svc = svc

	// ── 5. HTTP surface ──────────────────────────────────────────────────
	a.httpSrv = &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           server.New(svc, registry, a.healthHandler(), a.metrics).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage connects PostgreSQL when a DSN is configured, runs migrations,
// and selects the feedback store backend. Without a DSN, labels live in
// memory only and feedback falls back to the JSONL file store.
func (a *App) initStorage(ctx context.Context) error {
	dsn := a.cfg.Storage.PostgresDSN
	if dsn == "" {
		if a.feedback == nil && a.cfg.Storage.FeedbackPath != "" {
			a.feedback = feedback.NewFileStore(a.cfg.Storage.FeedbackPath)
			slog.Info("feedback captured to file", "path", a.cfg.Storage.FeedbackPath)
		}
		return nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("ping postgres: %w", err)
	}
	a.pool = pool
	a.closers = append(a.closers, func() error {
		pool.Close()
		return nil
	})

	if a.labels == nil {
		store := taxonomy.NewLabelStore(pool)
		if err := store.Migrate(ctx, a.cfg.Storage.EmbeddingDimensions); err != nil {
			return err
		}
		a.labels = store
	}

	if a.feedback == nil {
		store := feedback.NewPostgresStore(pool)
		if err := store.Migrate(ctx); err != nil {
			return err
		}
		a.feedback = store
	}

	slog.Info("postgres storage ready", "dimensions", a.cfg.Storage.EmbeddingDimensions)
	return nil
}

// wrapEmbeddings puts the configured embeddings provider behind a circuit
// breaker so a dead backend fails fast instead of stalling every request.
func (a *App) wrapEmbeddings() embeddings.Provider {
	name := a.cfg.Providers.Embeddings.Name
	if name == "" {
		name = a.providers.Embeddings.ModelID()
	}
	return resilience.NewEmbeddingsFallback(a.providers.Embeddings, name, resilience.FallbackConfig{})
}

// wrapTextGen does the same for the optional text generation provider.
func (a *App) wrapTextGen() textgen.Provider {
	if a.providers.TextGen == nil {
		return nil
	}
	name := a.cfg.Providers.TextGen.Name
	if name == "" {
		name = a.providers.TextGen.ModelID()
	}
	return resilience.NewTextGenFallback(a.providers.TextGen, name, resilience.FallbackConfig{})
}

// warmCache loads the stored taxonomy into the vector cache. Labels whose
// persisted vectors match the current model version are installed as-is;
// the rest are re-embedded and their fresh vectors written back.
func (a *App) warmCache(ctx context.Context) error {
	if a.labels == nil {
		return nil
	}

	stored, err := a.labels.List(ctx)
	if err != nil {
		return err
	}

	version := a.cache.ModelVersion()
	var stale []taxonomy.Label
	reused := 0
	for _, el := range stored {
		if el.ModelVersion == version && len(el.Vector) > 0 {
			if err := a.cache.PutEmbedded(el); err != nil {
				return err
			}
			reused++
			continue
		}
		stale = append(stale, el.Label)
	}

	for _, l := range stale {
		vec, v, err := a.cache.EmbedText(ctx, l.EmbeddingText())
		if err != nil {
			return fmt.Errorf("re-embed label %q: %w", l.ID, err)
		}
		el := taxonomy.EmbeddedLabel{Label: l, Vector: vec, ModelVersion: v}
		if err := a.labels.Upsert(ctx, el); err != nil {
			return err
		}
		if err := a.cache.PutEmbedded(el); err != nil {
			return err
		}
	}

	slog.Info("taxonomy warmed",
		"labels", a.cache.Len(),
		"reused", reused,
		"re_embedded", len(stale),
		"model", version,
	)
	return nil
}

// healthHandler assembles the readiness checkers available for this
// deployment.
func (a *App) healthHandler() *health.Handler {
	checkers := []health.Checker{health.Embeddings(a.providers.Embeddings)}
	if a.pool != nil {
		checkers = append(checkers, health.Database(a.pool))
	}
	return health.New(checkers...)
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run serves HTTP until ctx is cancelled or the listener fails. On
// cancellation Run drains in-flight requests before returning.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = a.httpSrv.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
		} else {
			err = a.httpSrv.ListenAndServe()
		}
		if !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	slog.Info("server listening",
		"addr", a.cfg.Server.ListenAddr,
		"tls", a.cfg.Server.TLS != nil,
		"labels", a.cache.Len(),
	)

	select {
	case err := <-errCh:
		return fmt.Errorf("app: serve: %w", err)
	case <-ctx.Done():
	}

	drainCtx, cancel := context.WithTimeout(context.Background(), shutdownHTTPTimeout)
	defer cancel()
	if err := a.httpSrv.Shutdown(drainCtx); err != nil {
		slog.Warn("http drain incomplete", "err", err)
	}
	return ctx.Err()
}

// Service exposes the inference service for tests and embedding callers.
func (a *App) Service() *inference.Service {
	return a.svc
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "closers", len(a.closers))

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}
