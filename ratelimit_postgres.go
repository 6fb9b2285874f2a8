package chatrelay

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/shaharia-lab/chatrelay/observability"
)

// PostgresAdmissionStore is an AdmissionStore backed by a shared Postgres
// table, for deployments running more than one relay instance. The
// check-and-record runs in a single transaction so concurrent admissions for
// one identity cannot both slip under the limit.
type PostgresAdmissionStore struct {
	db     *sql.DB
	logger observability.Logger
}

// NewPostgresAdmissionStore creates the store and its schema if missing.
func NewPostgresAdmissionStore(db *sql.DB, logger observability.Logger) (*PostgresAdmissionStore, error) {
	if logger == nil {
		logger = observability.NewNullLogger()
	}

	store := &PostgresAdmissionStore{db: db, logger: logger}
	if err := store.initSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize admissions schema: %w", err)
	}
	return store, nil
}

func (s *PostgresAdmissionStore) initSchema(ctx context.Context) error {
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS admissions (
		identity TEXT NOT NULL,
		admitted_at TIMESTAMPTZ NOT NULL
	);`

	createIndexSQL := `
	CREATE INDEX IF NOT EXISTS idx_admissions_identity_admitted_at
	ON admissions (identity, admitted_at);`

	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("failed to create admissions table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, createIndexSQL); err != nil {
		return fmt.Errorf("failed to create admissions index: %w", err)
	}
	return nil
}

// Admit implements AdmissionStore.
func (s *PostgresAdmissionStore) Admit(ctx context.Context, identity string, limit int, window time.Duration) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin admission transaction: %w", err)
	}
	defer tx.Rollback()

	windowStart := time.Now().Add(-window)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM admissions WHERE identity = $1 AND admitted_at <= $2`,
		identity, windowStart); err != nil {
		return false, fmt.Errorf("failed to prune admissions: %w", err)
	}

	var count int
	// FOR UPDATE serializes concurrent admissions for the same identity.
	if err := tx.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM (SELECT 1 FROM admissions WHERE identity = $1 FOR UPDATE) AS held`,
		identity).Scan(&count); err != nil {
		return false, fmt.Errorf("failed to count admissions: %w", err)
	}

	if count >= limit {
		if err := tx.Commit(); err != nil {
			return false, fmt.Errorf("failed to commit admission transaction: %w", err)
		}
		return false, nil
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO admissions (identity, admitted_at) VALUES ($1, $2)`,
		identity, time.Now()); err != nil {
		return false, fmt.Errorf("failed to record admission: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit admission transaction: %w", err)
	}
	return true, nil
}

// Sweep implements AdmissionStore.
func (s *PostgresAdmissionStore) Sweep(ctx context.Context, grace time.Duration) error {
	cutoff := time.Now().Add(-grace)
	result, err := s.db.ExecContext(ctx,
		`DELETE FROM admissions WHERE admitted_at <= $1`, cutoff)
	if err != nil {
		return fmt.Errorf("failed to sweep admissions: %w", err)
	}

	if rows, err := result.RowsAffected(); err == nil && rows > 0 {
		s.logger.WithFields(map[string]interface{}{
			"rows": rows,
		}).Debug("swept stale admissions")
	}
	return nil
}
