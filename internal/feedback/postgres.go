package feedback

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Schema is the SQL DDL for the feedback table. Execute it via
// [PostgresStore.Migrate] or apply it manually during deployment.
const Schema = `
CREATE TABLE IF NOT EXISTS feedback (
    id                 TEXT PRIMARY KEY,
    prediction_id      TEXT NOT NULL DEFAULT '',
    transaction_text   TEXT NOT NULL,
    predicted_label_id TEXT NOT NULL DEFAULT '',
    corrected_label_id TEXT NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_feedback_created_at ON feedback(created_at);
`

// DB is the database interface used by [PostgresStore]. Both *pgxpool.Pool
// and *pgx.Conn satisfy this interface.
type DB interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore is a [Store] backed by PostgreSQL. Safe for concurrent use;
// all synchronisation is delegated to the connection pool.
type PostgresStore struct {
	db DB
}

// NewPostgresStore creates a [PostgresStore] that uses the given database
// connection or pool. Call [PostgresStore.Migrate] before issuing queries.
func NewPostgresStore(db DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Migrate executes the [Schema] DDL against the database.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("feedback: migrate: %w", err)
	}
	return nil
}

// Record implements [Store].
func (s *PostgresStore) Record(ctx context.Context, fb Feedback) error {
	if err := fb.Validate(); err != nil {
		return err
	}
	if fb.ID == "" {
		fb.ID = uuid.NewString()
	}
	if fb.CreatedAt.IsZero() {
		fb.CreatedAt = time.Now().UTC()
	}

	const q = `
		INSERT INTO feedback (id, prediction_id, transaction_text, predicted_label_id, corrected_label_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	if _, err := s.db.Exec(ctx, q,
		fb.ID, fb.PredictionID, fb.TransactionText, fb.PredictedLabelID, fb.CorrectedLabelID, fb.CreatedAt,
	); err != nil {
		return fmt.Errorf("feedback: record: %w", err)
	}
	return nil
}

// ExportTrainingData implements [Store]. The cursor streams rows oldest
// first directly from the database, so arbitrarily large feedback logs can
// be exported without buffering them in memory.
func (s *PostgresStore) ExportTrainingData(ctx context.Context) (Export, error) {
	const q = `
		SELECT transaction_text, corrected_label_id
		FROM   feedback
		ORDER  BY created_at, id`

	rows, err := s.db.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("feedback: export: %w", err)
	}
	return &pgExport{rows: rows}, nil
}

// pgExport adapts pgx.Rows to the [Export] cursor.
type pgExport struct {
	rows    pgx.Rows
	current TrainingPair
	err     error
}

// Next implements [Export].
func (e *pgExport) Next() bool {
	if e.err != nil {
		return false
	}
	if !e.rows.Next() {
		e.err = e.rows.Err()
		return false
	}
	if err := e.rows.Scan(&e.current.TransactionText, &e.current.LabelID); err != nil {
		e.err = fmt.Errorf("feedback: scan export row: %w", err)
		return false
	}
	return true
}

// Pair implements [Export].
func (e *pgExport) Pair() TrainingPair {
	return e.current
}

// Err implements [Export].
func (e *pgExport) Err() error {
	return e.err
}

// Close implements [Export].
func (e *pgExport) Close() error {
	e.rows.Close()
	return nil
}
