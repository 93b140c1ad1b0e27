package jobstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clincite/clincite/internal/job"
)

// PostgresTier is the authoritative relational tier. The record is stored as
// jsonb alongside a few indexed columns for operational queries.
type PostgresTier struct {
	pool *pgxpool.Pool
}

const createJobsTable = `
CREATE TABLE IF NOT EXISTS jobs (
	id         text PRIMARY KEY,
	status     text NOT NULL,
	record     jsonb NOT NULL,
	updated_at timestamptz NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS jobs_status_idx ON jobs (status);`

// NewPostgresTier connects to the database and ensures the jobs table.
func NewPostgresTier(ctx context.Context, dsn string) (*PostgresTier, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, createJobsTable); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ensure jobs table: %w", err)
	}
	return &PostgresTier{pool: pool}, nil
}

func (p *PostgresTier) Name() string { return "postgres" }

func (p *PostgresTier) Write(ctx context.Context, rec *job.Record) error {
	data, err := encode(rec)
	if err != nil {
		return err
	}
	_, err = p.pool.Exec(ctx, `
		INSERT INTO jobs (id, status, record, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE
		SET status = EXCLUDED.status, record = EXCLUDED.record, updated_at = now()`,
		rec.ID, string(rec.Status), data)
	if err != nil {
		return fmt.Errorf("failed to upsert job record: %w", err)
	}
	return nil
}

func (p *PostgresTier) Read(ctx context.Context, id string) (*job.Record, error) {
	var data []byte
	err := p.pool.QueryRow(ctx, `SELECT record FROM jobs WHERE id = $1`, id).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query job record: %w", err)
	}
	return decode(data)
}

// Close releases the connection pool.
func (p *PostgresTier) Close() {
	p.pool.Close()
}
