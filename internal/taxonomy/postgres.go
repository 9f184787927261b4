package taxonomy

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgvector "github.com/pgvector/pgvector-go"
)

// DB is the database interface used by [LabelStore]. Both *pgxpool.Pool and
// *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// LabelStore persists labels and their embedding vectors in PostgreSQL using
// a pgvector column. The store is the durable source of truth for the
// taxonomy; the [VectorCache] is warmed from it at startup and after a model
// swap.
type LabelStore struct {
	db DB
}

// NewLabelStore creates a [LabelStore] backed by the given connection or
// pool. Call [LabelStore.Migrate] before issuing queries.
func NewLabelStore(db DB) *LabelStore {
	return &LabelStore{db: db}
}

// Migrate creates the labels table if it does not exist. dims is the
// embedding dimensionality of the configured model; pgvector requires the
// column dimension to be fixed at table-creation time, so changing models to
// one with a different dimensionality requires a manual migration of this
// table.
func (s *LabelStore) Migrate(ctx context.Context, dims int) error {
	if dims <= 0 {
		return fmt.Errorf("taxonomy: migrate: dims must be positive, got %d", dims)
	}
	ddl := fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS labels (
    id            TEXT PRIMARY KEY,
    name          TEXT NOT NULL,
    description   TEXT NOT NULL DEFAULT '',
    embedding     vector(%d),
    model_version TEXT NOT NULL DEFAULT '',
    created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_labels_name ON labels(name);`, dims)

	if _, err := s.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("taxonomy: migrate: %w", err)
	}
	return nil
}

// Upsert inserts or fully replaces the stored label, including its embedding
// vector and model version.
func (s *LabelStore) Upsert(ctx context.Context, el EmbeddedLabel) error {
	if err := el.Validate(); err != nil {
		return err
	}

	const q = `
		INSERT INTO labels (id, name, description, embedding, model_version)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
		    name          = EXCLUDED.name,
		    description   = EXCLUDED.description,
		    embedding     = EXCLUDED.embedding,
		    model_version = EXCLUDED.model_version,
		    updated_at    = now()`

	vec := pgvector.NewVector(el.Vector)
	if _, err := s.db.Exec(ctx, q, el.ID, el.Name, el.Description, vec, el.ModelVersion); err != nil {
		return fmt.Errorf("taxonomy: upsert label %q: %w", el.ID, err)
	}
	return nil
}

// Delete removes the label. Deleting a non-existent label is not an error.
func (s *LabelStore) Delete(ctx context.Context, id string) error {
	if _, err := s.db.Exec(ctx, `DELETE FROM labels WHERE id = $1`, id); err != nil {
		return fmt.Errorf("taxonomy: delete label %q: %w", id, err)
	}
	return nil
}

// List returns all stored labels ordered by ID, with their persisted vectors
// and model versions. Vectors from an older model version are still returned;
// the caller decides whether to reuse or re-embed them.
func (s *LabelStore) List(ctx context.Context) ([]EmbeddedLabel, error) {
	const q = `
		SELECT id, name, description, embedding, model_version, created_at, updated_at
		FROM   labels
		ORDER  BY id`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("taxonomy: list labels: %w", err)
	}

	labels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (EmbeddedLabel, error) {
		var (
			el  EmbeddedLabel
			vec pgvector.Vector
		)
		if err := row.Scan(&el.ID, &el.Name, &el.Description, &vec, &el.ModelVersion, &el.CreatedAt, &el.UpdatedAt); err != nil {
			return EmbeddedLabel{}, err
		}
		el.Vector = vec.Slice()
		return el, nil
	})
	if err != nil {
		return nil, fmt.Errorf("taxonomy: scan labels: %w", err)
	}
	return labels, nil
}
