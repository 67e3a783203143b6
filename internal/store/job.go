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

// PostgresJobStore implements store.JobStore against Postgres.
type PostgresJobStore struct {
	pool *Pool
}

// NewJobStore creates a new PostgresJobStore.
func NewJobStore(pool *Pool) *PostgresJobStore {
	return &PostgresJobStore{pool: pool}
}

func (s *PostgresJobStore) Insert(ctx context.Context, job *model.Job) error {
	var retryMaxAttempts *int
	var retryBackoffMS *int64
	if job.Retry != nil {
		retryMaxAttempts = &job.Retry.MaxAttempts
		backoffMS := job.Retry.Backoff.Milliseconds()
		retryBackoffMS = &backoffMS
	}
	var windowMS *int64
	if job.ConcurrencyWindow > 0 {
		ms := job.ConcurrencyWindow.Milliseconds()
		windowMS = &ms
	}

	const q = `
		INSERT INTO job (
			id, workspace_id, kind, script_lang, raw_code, args, tag, created_at,
			parent_job_id, root_job_id, concurrency_key, concurrency_limit,
			concurrency_window_ms, timeout_seconds, retry_max_attempts,
			retry_backoff_ms, same_worker, visible_to_runner_only,
			delete_after_use, permissioned_as, permissioned_as_email
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21)`

	_, err := s.pool.Exec(ctx, q,
		job.ID, job.WorkspaceID, job.Kind, nullString(job.Language), nullString(job.RawCode),
		job.Args, job.Tag, job.CreatedAt, job.ParentJobID, job.RootJobID,
		nullString(job.ConcurrencyKey), nullInt(job.ConcurrencyLimit), windowMS,
		nullInt(job.TimeoutSeconds), retryMaxAttempts, retryBackoffMS,
		job.SameWorker, job.VisibleToRunnerOnly, job.DeleteAfterUse,
		nullString(job.PermissionedAs), nullString(job.PermissionedAsEmail),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	const q = `
		SELECT id, workspace_id, kind, script_lang, raw_code, args, tag, created_at,
			parent_job_id, root_job_id, concurrency_key, concurrency_limit,
			concurrency_window_ms, timeout_seconds, retry_max_attempts,
			retry_backoff_ms, same_worker, visible_to_runner_only,
			delete_after_use, permissioned_as, permissioned_as_email
		FROM job WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	j, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plerr.New(plerr.KindNotFound, "store.Job.Get", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return j, nil
}

func (s *PostgresJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM job WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*model.Job, error) {
	var j model.Job
	var lang, rawCode, concurrencyKey, permissionedAs, permissionedAsEmail *string
	var concurrencyLimit, timeoutSeconds, retryMaxAttempts *int
	var concurrencyWindowMS, retryBackoffMS *int64

	err := row.Scan(
		&j.ID, &j.WorkspaceID, &j.Kind, &lang, &rawCode, &j.Args, &j.Tag, &j.CreatedAt,
		&j.ParentJobID, &j.RootJobID, &concurrencyKey, &concurrencyLimit,
		&concurrencyWindowMS, &timeoutSeconds, &retryMaxAttempts,
		&retryBackoffMS, &j.SameWorker, &j.VisibleToRunnerOnly,
		&j.DeleteAfterUse, &permissionedAs, &permissionedAsEmail,
	)
	if err != nil {
		return nil, err
	}

	if lang != nil {
		j.Language = *lang
	}
	if rawCode != nil {
		j.RawCode = *rawCode
	}
	if concurrencyKey != nil {
		j.ConcurrencyKey = *concurrencyKey
	}
	if concurrencyLimit != nil {
		j.ConcurrencyLimit = *concurrencyLimit
	}
	if concurrencyWindowMS != nil {
		j.ConcurrencyWindow = msToDuration(*concurrencyWindowMS)
	}
	if timeoutSeconds != nil {
		j.TimeoutSeconds = *timeoutSeconds
	}
	if retryMaxAttempts != nil {
		j.Retry = &model.RetryPolicy{MaxAttempts: *retryMaxAttempts}
		if retryBackoffMS != nil {
			j.Retry.Backoff = msToDuration(*retryBackoffMS)
		}
	}
	if permissionedAs != nil {
		j.PermissionedAs = *permissionedAs
	}
	if permissionedAsEmail != nil {
		j.PermissionedAsEmail = *permissionedAsEmail
	}

	return &j, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullInt(i int) *int {
	if i == 0 {
		return nil
	}
	return &i
}

func msToDuration(ms int64) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
