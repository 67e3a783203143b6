package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/bobmcallan/quartzqueue/internal/model"
)

// Transactor performs a job's atomic completion (spec §4.A, §3): the
// completion row's insert, the queue entry's delete, and the concurrency
// key's release all commit together or none do, so no observer ever sees
// both a running queue entry and a completion row, or neither (spec §8).
type Transactor interface {
	Complete(ctx context.Context, jobID uuid.UUID, concurrencyKey string, completion *model.CompletedJob) error
}

// PostgresTransactor implements Transactor.
type PostgresTransactor struct {
	pool *Pool
}

// NewTransactor creates a PostgresTransactor.
func NewTransactor(pool *Pool) *PostgresTransactor {
	return &PostgresTransactor{pool: pool}
}

func (s *PostgresTransactor) Complete(ctx context.Context, jobID uuid.UUID, concurrencyKey string, completion *model.CompletedJob) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin completion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertCompletedTx(ctx, tx, completion); err != nil {
		return err
	}
	if err := completeQueueEntryTx(ctx, tx, jobID); err != nil {
		return err
	}
	if concurrencyKey != "" {
		if err := releaseConcurrencyTx(ctx, tx, concurrencyKey, jobID); err != nil {
			return fmt.Errorf("failed to release concurrency key: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit completion transaction: %w", err)
	}
	return nil
}
