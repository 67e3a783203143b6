package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/quartzqueue/internal/model"
	plerr "github.com/bobmcallan/quartzqueue/internal/platform/errors"
)

// PostgresCompletedStore implements store.CompletedStore.
type PostgresCompletedStore struct {
	pool *Pool
}

// NewCompletedStore creates a new PostgresCompletedStore.
func NewCompletedStore(pool *Pool) *PostgresCompletedStore {
	return &PostgresCompletedStore{pool: pool}
}

func (s *PostgresCompletedStore) Insert(ctx context.Context, c *model.CompletedJob) error {
	return insertCompletedTx(ctx, s.pool, c)
}

// insertCompletedTx runs the completion insert against any execer — the
// pool for a standalone Insert, or a transaction shared with the queue
// and concurrency writes a completion commits alongside (spec §4.A).
func insertCompletedTx(ctx context.Context, q execer, c *model.CompletedJob) error {
	const stmt = `
		INSERT INTO job_completed (id, workspace_id, status, result, started_at, completed_at, duration_ms, worker)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (id) DO UPDATE SET
			status = excluded.status, result = excluded.result, completed_at = excluded.completed_at,
			duration_ms = excluded.duration_ms, worker = excluded.worker`
	_, err := q.Exec(ctx, stmt, c.JobID, c.WorkspaceID, string(c.Status), c.Result, c.StartedAt, c.CompletedAt, c.DurationMS, c.Worker)
	if err != nil {
		return fmt.Errorf("failed to insert completed job: %w", err)
	}
	return nil
}

func (s *PostgresCompletedStore) Get(ctx context.Context, jobID uuid.UUID) (*model.CompletedJob, error) {
	const q = `
		SELECT id, workspace_id, status, result, started_at, completed_at, duration_ms, worker
		FROM job_completed WHERE id = $1`

	var c model.CompletedJob
	var status string
	err := s.pool.QueryRow(ctx, q, jobID).Scan(
		&c.JobID, &c.WorkspaceID, &status, &c.Result, &c.StartedAt, &c.CompletedAt, &c.DurationMS, &c.Worker,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plerr.New(plerr.KindNotFound, "store.Completed.Get", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get completed job: %w", err)
	}
	c.Status = model.Status(status)
	return &c, nil
}

// PurgeOlderThan implements JOB_RETENTION_SECS (spec §6).
func (s *PostgresCompletedStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM job_completed WHERE completed_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}
