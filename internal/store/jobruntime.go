package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// PostgresJobRuntimeStore implements store.JobRuntimeStore.
type PostgresJobRuntimeStore struct {
	pool *Pool
}

// NewJobRuntimeStore creates a new PostgresJobRuntimeStore.
func NewJobRuntimeStore(pool *Pool) *PostgresJobRuntimeStore {
	return &PostgresJobRuntimeStore{pool: pool}
}

func (s *PostgresJobRuntimeStore) Upsert(ctx context.Context, jobID uuid.UUID, memoryPeak, currentMem int64) error {
	const q = `
		INSERT INTO job_runtime (id, memory_peak, current_mem)
		VALUES ($1,$2,$3)
		ON CONFLICT (id) DO UPDATE SET
			memory_peak = GREATEST(job_runtime.memory_peak, excluded.memory_peak),
			current_mem = excluded.current_mem`
	_, err := s.pool.Exec(ctx, q, jobID, memoryPeak, currentMem)
	if err != nil {
		return fmt.Errorf("failed to upsert job runtime: %w", err)
	}
	return nil
}
