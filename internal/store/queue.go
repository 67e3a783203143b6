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

// PostgresQueueStore implements store.QueueStore using row-level locking
// (FOR UPDATE SKIP LOCKED) so concurrent workers commit disjoint candidate
// sets without a central dispatcher (spec §4.B, §5).
type PostgresQueueStore struct {
	pool *Pool
}

// NewQueueStore creates a new PostgresQueueStore.
func NewQueueStore(pool *Pool) *PostgresQueueStore {
	return &PostgresQueueStore{pool: pool}
}

func (s *PostgresQueueStore) Push(ctx context.Context, entry *model.QueueEntry) error {
	const q = `
		INSERT INTO job_queue (id, tag, priority, created_at, scheduled_for, same_worker, worker_name)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`
	_, err := s.pool.Exec(ctx, q,
		entry.JobID, entry.Tag, entry.Priority, entry.CreatedAt, entry.ScheduledFor,
		entry.SameWorker, nullString(entry.WorkerName),
	)
	if err != nil {
		return fmt.Errorf("failed to push queue entry: %w", err)
	}
	return nil
}

// Pull selects up to limit runnable candidates for the given tags and
// claims them for workerName in the same transaction, so no other worker
// can observe them as unclaimed once this call returns.
//
// Tie-break order follows spec §5: priority DESC, scheduled_for ASC,
// created_at ASC, id ASC. same_worker rows pinned to a different worker are
// excluded; rows pinned to workerName are always eligible regardless of tag.
func (s *PostgresQueueStore) Pull(ctx context.Context, tags []string, workerName string, limit int) ([]*model.Candidate, error) {
	if limit <= 0 {
		limit = 1
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin pull transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const selectQ = `
		SELECT id, tag, priority, created_at, scheduled_for, same_worker, worker_name
		FROM job_queue
		WHERE NOT running
			AND NOT cancel_requested
			AND scheduled_for <= now()
			AND ((worker_name IS NULL AND tag = ANY($1)) OR worker_name = $2)
		ORDER BY priority DESC, scheduled_for ASC, created_at ASC, id ASC
		LIMIT $3
		FOR UPDATE SKIP LOCKED`

	rows, err := tx.Query(ctx, selectQ, tags, workerName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to select pull candidates: %w", err)
	}

	var candidates []*model.Candidate
	var ids []uuid.UUID
	for rows.Next() {
		var c model.Candidate
		var pinnedWorker *string
		if err := rows.Scan(&c.JobID, &c.Tag, &c.Priority, &c.CreatedAt, &c.ScheduledFor, &c.SameWorker, &pinnedWorker); err != nil {
			rows.Close()
			return nil, fmt.Errorf("failed to scan pull candidate: %w", err)
		}
		if pinnedWorker != nil {
			c.WorkerName = *pinnedWorker
		}
		candidates = append(candidates, &c)
		ids = append(ids, c.JobID)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate pull candidates: %w", err)
	}

	if len(ids) == 0 {
		return nil, tx.Commit(ctx)
	}

	const claimQ = `
		UPDATE job_queue SET running = true, started_at = now(), worker_name = $2, last_ping = now()
		WHERE id = ANY($1)`
	if _, err := tx.Exec(ctx, claimQ, ids, workerName); err != nil {
		return nil, fmt.Errorf("failed to claim pull candidates: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit pull transaction: %w", err)
	}

	// Concurrency-key fields are looked up from the job row by the caller
	// (internal/queue.Engine.Pull), not here — this keeps the pull
	// query index-only against job_queue.
	return candidates, nil
}

func (s *PostgresQueueStore) MarkRunning(ctx context.Context, jobID uuid.UUID, workerName string) error {
	const q = `UPDATE job_queue SET running = true, started_at = now(), worker_name = $2, last_ping = now() WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, jobID, workerName); err != nil {
		return fmt.Errorf("failed to mark job running: %w", err)
	}
	return nil
}

func (s *PostgresQueueStore) Heartbeat(ctx context.Context, jobID uuid.UUID) (bool, error) {
	const q = `UPDATE job_queue SET last_ping = now() WHERE id = $1 RETURNING cancel_requested`
	var cancelRequested bool
	if err := s.pool.QueryRow(ctx, q, jobID).Scan(&cancelRequested); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, plerr.New(plerr.KindNotFound, "store.Queue.Heartbeat", err)
		}
		return false, fmt.Errorf("failed to record heartbeat: %w", err)
	}
	return cancelRequested, nil
}

func (s *PostgresQueueStore) RequestCancel(ctx context.Context, jobID uuid.UUID) error {
	const q = `UPDATE job_queue SET cancel_requested = true WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, jobID); err != nil {
		return fmt.Errorf("failed to request cancel: %w", err)
	}
	return nil
}

// Defer reschedules a job past admission control back into the pending pool
// (spec §4.C "Defer re-schedules with linear backoff").
func (s *PostgresQueueStore) Defer(ctx context.Context, jobID uuid.UUID, until time.Time) error {
	const q = `UPDATE job_queue SET running = false, started_at = NULL, worker_name = NULL, scheduled_for = $2 WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, jobID, until); err != nil {
		return fmt.Errorf("failed to defer job: %w", err)
	}
	return nil
}

func (s *PostgresQueueStore) Complete(ctx context.Context, jobID uuid.UUID) error {
	return completeQueueEntryTx(ctx, s.pool, jobID)
}

// completeQueueEntryTx removes the queue entry against any execer — the
// pool for a standalone Complete, or a transaction shared with the
// completion-row insert and concurrency release (spec §4.A).
func completeQueueEntryTx(ctx context.Context, q execer, jobID uuid.UUID) error {
	if _, err := q.Exec(ctx, `DELETE FROM job_queue WHERE id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to complete queue entry: %w", err)
	}
	return nil
}

// PushToTop re-prioritizes a job above everything currently pending in its
// tag by forcing priority to the tag's current maximum.
func (s *PostgresQueueStore) PushToTop(ctx context.Context, jobID uuid.UUID) error {
	const q = `
		UPDATE job_queue SET priority = (
			SELECT COALESCE(MAX(priority), 0) + 1 FROM job_queue AS jq2 WHERE jq2.tag = job_queue.tag
		)
		WHERE id = $1`
	if _, err := s.pool.Exec(ctx, q, jobID); err != nil {
		return fmt.Errorf("failed to push job to top: %w", err)
	}
	return nil
}

func (s *PostgresQueueStore) Get(ctx context.Context, jobID uuid.UUID) (*model.QueueEntry, error) {
	const q = `
		SELECT id, tag, priority, scheduled_for, created_at, running, started_at,
			last_ping, worker_name, same_worker, cancel_requested
		FROM job_queue WHERE id = $1`
	var e model.QueueEntry
	var workerName *string
	err := s.pool.QueryRow(ctx, q, jobID).Scan(
		&e.JobID, &e.Tag, &e.Priority, &e.ScheduledFor, &e.CreatedAt, &e.Running,
		&e.StartedAt, &e.LastPing, &workerName, &e.SameWorker, &e.CancelRequested,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plerr.New(plerr.KindNotFound, "store.Queue.Get", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get queue entry: %w", err)
	}
	if workerName != nil {
		e.WorkerName = *workerName
	}
	return &e, nil
}

// ListStaleRunning is the liveness monitor's zombie candidate query (spec
// §9): rows still marked running whose last_ping predates cutoff.
func (s *PostgresQueueStore) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*model.QueueEntry, error) {
	const q = `
		SELECT id, tag, priority, scheduled_for, created_at, running, started_at,
			last_ping, worker_name, same_worker, cancel_requested
		FROM job_queue WHERE running AND last_ping < $1`
	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale running entries: %w", err)
	}
	defer rows.Close()

	var entries []*model.QueueEntry
	for rows.Next() {
		var e model.QueueEntry
		var workerName *string
		if err := rows.Scan(
			&e.JobID, &e.Tag, &e.Priority, &e.ScheduledFor, &e.CreatedAt, &e.Running,
			&e.StartedAt, &e.LastPing, &workerName, &e.SameWorker, &e.CancelRequested,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stale running entry: %w", err)
		}
		if workerName != nil {
			e.WorkerName = *workerName
		}
		entries = append(entries, &e)
	}
	return entries, rows.Err()
}

// ResetRunningJobs recovers from a process crash: every entry this process
// thought it owned is still marked running with a stale worker_name after a
// restart, so it would never be picked up again without this reset.
func (s *PostgresQueueStore) ResetRunningJobs(ctx context.Context) (int, error) {
	const q = `UPDATE job_queue SET running = false, started_at = NULL, worker_name = NULL, last_ping = NULL WHERE running`
	tag, err := s.pool.Exec(ctx, q)
	if err != nil {
		return 0, fmt.Errorf("failed to reset running jobs: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresQueueStore) Depth(ctx context.Context, tag string) (int, error) {
	const q = `SELECT count(*) FROM job_queue WHERE tag = $1 AND NOT running`
	var n int
	if err := s.pool.QueryRow(ctx, q, tag).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to get queue depth: %w", err)
	}
	return n, nil
}
