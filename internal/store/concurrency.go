package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/quartzqueue/internal/model"
	plerr "github.com/bobmcallan/quartzqueue/internal/platform/errors"
)

// PostgresConcurrencyStore implements store.ConcurrencyStore. The running
// set lives in concurrency_counter.job_uuids (locked per-key during
// TryReserve); completed holders move into concurrency_key, which acts as a
// time-bounded history so the admission check counts running+recent
// instead of just running (spec §4.C).
type PostgresConcurrencyStore struct {
	pool *Pool
}

// NewConcurrencyStore creates a new PostgresConcurrencyStore.
func NewConcurrencyStore(pool *Pool) *PostgresConcurrencyStore {
	return &PostgresConcurrencyStore{pool: pool}
}

func (s *PostgresConcurrencyStore) TryReserve(ctx context.Context, key string, jobID uuid.UUID, limit int, window time.Duration) (bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to begin reserve transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT job_uuids FROM concurrency_counter WHERE concurrency_id = $1 FOR UPDATE`, key,
	).Scan(&raw)
	var running []uuid.UUID
	if err == nil {
		if jerr := json.Unmarshal(raw, &running); jerr != nil {
			return false, fmt.Errorf("failed to decode concurrency counter: %w", jerr)
		}
	} else {
		if _, insErr := tx.Exec(ctx, `
			INSERT INTO concurrency_counter (concurrency_id, job_uuids) VALUES ($1, '[]')
			ON CONFLICT (concurrency_id) DO NOTHING`, key); insErr != nil {
			return false, fmt.Errorf("failed to initialize concurrency counter: %w", insErr)
		}
	}

	var historyCount int
	cutoff := time.Now().Add(-window)
	if err := tx.QueryRow(ctx, `
		SELECT count(*) FROM concurrency_key WHERE key = $1 AND ended_at >= $2`, key, cutoff,
	).Scan(&historyCount); err != nil {
		return false, fmt.Errorf("failed to count concurrency history: %w", err)
	}

	if len(running)+historyCount >= limit {
		return false, tx.Commit(ctx)
	}

	running = append(running, jobID)
	encoded, err := json.Marshal(running)
	if err != nil {
		return false, fmt.Errorf("failed to encode concurrency counter: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE concurrency_counter SET job_uuids = $2 WHERE concurrency_id = $1`, key, encoded); err != nil {
		return false, fmt.Errorf("failed to update concurrency counter: %w", err)
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO concurrency_key (job_id, key) VALUES ($1, $2)
		ON CONFLICT (job_id) DO UPDATE SET key = excluded.key, ended_at = NULL`, jobID, key); err != nil {
		return false, fmt.Errorf("failed to record concurrency key holder: %w", err)
	}

	return true, tx.Commit(ctx)
}

func (s *PostgresConcurrencyStore) Release(ctx context.Context, key string, jobID uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := releaseConcurrencyTx(ctx, tx, key, jobID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// releaseConcurrencyTx runs the counter/history release against any dbTx —
// a freshly begun transaction for a standalone Release, or a transaction
// shared with the completion-row insert and queue-entry delete a job's
// completion commits alongside (spec §4.A).
func releaseConcurrencyTx(ctx context.Context, tx dbTx, key string, jobID uuid.UUID) error {
	var raw []byte
	if err := tx.QueryRow(ctx, `
		SELECT job_uuids FROM concurrency_counter WHERE concurrency_id = $1 FOR UPDATE`, key,
	).Scan(&raw); err == nil {
		var running []uuid.UUID
		if jerr := json.Unmarshal(raw, &running); jerr == nil {
			filtered := running[:0]
			for _, id := range running {
				if id != jobID {
					filtered = append(filtered, id)
				}
			}
			if encoded, merr := json.Marshal(filtered); merr == nil {
				if _, uerr := tx.Exec(ctx, `
					UPDATE concurrency_counter SET job_uuids = $2 WHERE concurrency_id = $1`, key, encoded); uerr != nil {
					return fmt.Errorf("failed to update concurrency counter on release: %w", uerr)
				}
			}
		}
	}

	if _, err := tx.Exec(ctx, `UPDATE concurrency_key SET ended_at = now() WHERE job_id = $1`, jobID); err != nil {
		return fmt.Errorf("failed to mark concurrency key holder ended: %w", err)
	}

	return nil
}

func (s *PostgresConcurrencyStore) ListGroups(ctx context.Context) ([]model.ConcurrencyGroup, error) {
	const q = `
		SELECT concurrency_id, jsonb_array_length(job_uuids) FROM concurrency_counter
		WHERE jsonb_array_length(job_uuids) > 0`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list concurrency groups: %w", err)
	}
	defer rows.Close()

	var groups []model.ConcurrencyGroup
	for rows.Next() {
		var g model.ConcurrencyGroup
		if err := rows.Scan(&g.Key, &g.RunningCount); err != nil {
			return nil, fmt.Errorf("failed to scan concurrency group: %w", err)
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func (s *PostgresConcurrencyStore) PruneHistory(ctx context.Context, olderThan time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM concurrency_key WHERE ended_at IS NOT NULL AND ended_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to prune concurrency history: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// Prune deletes key's counter and full history outright, the single-key
// admin operation (spec §4.C "prune(K)"), distinct from PruneHistory's
// time-based retention sweep across every key. It refuses to delete while
// any job is still running under key, mirroring
// `prune_concurrency_group`'s running-job guard.
func (s *PostgresConcurrencyStore) Prune(ctx context.Context, key string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin prune transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var raw []byte
	err = tx.QueryRow(ctx, `
		SELECT job_uuids FROM concurrency_counter WHERE concurrency_id = $1 FOR UPDATE`, key,
	).Scan(&raw)
	switch {
	case err == nil:
		var running []uuid.UUID
		if jerr := json.Unmarshal(raw, &running); jerr != nil {
			return fmt.Errorf("failed to decode concurrency counter for %s: %w", key, jerr)
		}
		if len(running) > 0 {
			return plerr.New(plerr.KindConflict, "store.Concurrency.Prune",
				fmt.Errorf("key %s has %d job(s) still running", key, len(running)))
		}
	case errors.Is(err, pgx.ErrNoRows):
		// no counter row for key: nothing running, proceed to clear history.
	default:
		return fmt.Errorf("failed to check running count for %s: %w", key, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM concurrency_counter WHERE concurrency_id = $1`, key); err != nil {
		return fmt.Errorf("failed to delete concurrency counter for %s: %w", key, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM concurrency_key WHERE key = $1`, key); err != nil {
		return fmt.Errorf("failed to delete concurrency history for %s: %w", key, err)
	}
	return tx.Commit(ctx)
}
