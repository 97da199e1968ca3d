package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/wonny/scengen/internal/simconfig"
)

// DB pgxpool.Pool subset used by the repository
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresRepository run 이력 (PostgreSQL)
// ⭐ SSOT: run 저장/조회는 여기서만
type PostgresRepository struct {
	db DB
}

// NewPostgresRepository creates a new run repository
func NewPostgresRepository(db DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const schemaSQL = `
	CREATE SCHEMA IF NOT EXISTS scenario;
	CREATE TABLE IF NOT EXISTS scenario.runs (
		id           UUID PRIMARY KEY,
		run_name     TEXT NOT NULL,
		config_hash  TEXT NOT NULL,
		fingerprint  TEXT NOT NULL,
		seed         BIGINT NOT NULL,
		mode         TEXT NOT NULL,
		horizon      INT NOT NULL,
		num_paths    INT NOT NULL,
		products     JSONB NOT NULL,
		diagnostics  JSONB NOT NULL,
		correlation  JSONB NOT NULL,
		degradations JSONB NOT NULL,
		summary      JSONB,
		started_at   TIMESTAMPTZ NOT NULL,
		elapsed_ms   BIGINT NOT NULL,
		created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);
	CREATE INDEX IF NOT EXISTS runs_created_at_idx ON scenario.runs (created_at DESC);
`

// EnsureSchema creates the scenario schema and runs table
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

// SaveRun inserts (or replaces) a run
func (r *PostgresRepository) SaveRun(ctx context.Context, run *RunRecord) error {
	blobs, err := marshalBlobs(run)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO scenario.runs (
			id, run_name, config_hash, fingerprint, seed, mode, horizon, num_paths,
			products, diagnostics, correlation, degradations, summary,
			started_at, elapsed_ms, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		ON CONFLICT (id) DO UPDATE SET
			diagnostics = EXCLUDED.diagnostics,
			correlation = EXCLUDED.correlation,
			degradations = EXCLUDED.degradations,
			summary = EXCLUDED.summary,
			elapsed_ms = EXCLUDED.elapsed_ms
	`

	_, err = r.db.Exec(ctx, query,
		run.ID, run.RunName, run.ConfigHash, run.Fingerprint, run.Seed, string(run.Mode),
		run.Horizon, run.NumPaths,
		blobs.products, blobs.diagnostics, blobs.correlation, blobs.degradations, blobs.summary,
		run.StartedAt, run.Elapsed.Milliseconds(), run.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

const selectColumns = `
	SELECT id, run_name, config_hash, fingerprint, seed, mode, horizon, num_paths,
		products, diagnostics, correlation, degradations, summary,
		started_at, elapsed_ms, created_at
	FROM scenario.runs
`

// GetRun retrieves a run by id
func (r *PostgresRepository) GetRun(ctx context.Context, id uuid.UUID) (*RunRecord, error) {
	run, err := scanRun(r.db.QueryRow(ctx, selectColumns+` WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return run, nil
}

// ListRuns most recent runs first
func (r *PostgresRepository) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := r.db.Query(ctx, selectColumns+` ORDER BY created_at DESC LIMIT $1`, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	runs := make([]RunRecord, 0)
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, *run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// =============================================================================
// JSON columns
// =============================================================================

type runBlobs struct {
	products     []byte
	diagnostics  []byte
	correlation  []byte
	degradations []byte
	summary      []byte
}

func marshalBlobs(run *RunRecord) (*runBlobs, error) {
	var (
		b   runBlobs
		err error
	)
	if b.products, err = json.Marshal(run.Products); err != nil {
		return nil, fmt.Errorf("failed to marshal products: %w", err)
	}
	if b.diagnostics, err = json.Marshal(run.Diagnostics); err != nil {
		return nil, fmt.Errorf("failed to marshal diagnostics: %w", err)
	}
	if b.correlation, err = json.Marshal(run.Correlation); err != nil {
		return nil, fmt.Errorf("failed to marshal correlation: %w", err)
	}
	if b.degradations, err = json.Marshal(run.Degradations); err != nil {
		return nil, fmt.Errorf("failed to marshal degradations: %w", err)
	}
	if run.Summary != nil {
		if b.summary, err = json.Marshal(run.Summary); err != nil {
			return nil, fmt.Errorf("failed to marshal summary: %w", err)
		}
	}
	return &b, nil
}

func scanRun(row pgx.Row) (*RunRecord, error) {
	var (
		run       RunRecord
		mode      string
		elapsedMS int64
		b         runBlobs
	)
	err := row.Scan(
		&run.ID, &run.RunName, &run.ConfigHash, &run.Fingerprint, &run.Seed, &mode,
		&run.Horizon, &run.NumPaths,
		&b.products, &b.diagnostics, &b.correlation, &b.degradations, &b.summary,
		&run.StartedAt, &elapsedMS, &run.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	run.Mode = simconfig.Mode(mode)
	run.Elapsed = time.Duration(elapsedMS) * time.Millisecond

	if err := json.Unmarshal(b.products, &run.Products); err != nil {
		return nil, fmt.Errorf("failed to unmarshal products: %w", err)
	}
	if err := json.Unmarshal(b.diagnostics, &run.Diagnostics); err != nil {
		return nil, fmt.Errorf("failed to unmarshal diagnostics: %w", err)
	}
	if err := json.Unmarshal(b.correlation, &run.Correlation); err != nil {
		return nil, fmt.Errorf("failed to unmarshal correlation: %w", err)
	}
	if err := json.Unmarshal(b.degradations, &run.Degradations); err != nil {
		return nil, fmt.Errorf("failed to unmarshal degradations: %w", err)
	}
	if len(b.summary) > 0 {
		if err := json.Unmarshal(b.summary, &run.Summary); err != nil {
			return nil, fmt.Errorf("failed to unmarshal summary: %w", err)
		}
	}
	return &run, nil
}
