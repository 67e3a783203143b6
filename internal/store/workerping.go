package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/bobmcallan/quartzqueue/internal/model"
	plerr "github.com/bobmcallan/quartzqueue/internal/platform/errors"
)

// PostgresWorkerPingStore implements store.WorkerPingStore.
type PostgresWorkerPingStore struct {
	pool *Pool
}

// NewWorkerPingStore creates a new PostgresWorkerPingStore.
func NewWorkerPingStore(pool *Pool) *PostgresWorkerPingStore {
	return &PostgresWorkerPingStore{pool: pool}
}

func (s *PostgresWorkerPingStore) Upsert(ctx context.Context, ping *model.WorkerPing) error {
	const q = `
		INSERT INTO worker_ping (
			worker, worker_group, ip, tags, jobs_executed, last_ping, vcpus, memory,
			memory_usage, wm_memory_usage, occupancy_rate, occupancy_rate_15s,
			occupancy_rate_5m, occupancy_rate_30m, version, native_mode, job_isolation
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
		ON CONFLICT (worker) DO UPDATE SET
			worker_group = excluded.worker_group,
			ip = excluded.ip,
			tags = excluded.tags,
			jobs_executed = excluded.jobs_executed,
			last_ping = excluded.last_ping,
			vcpus = excluded.vcpus,
			memory = excluded.memory,
			memory_usage = excluded.memory_usage,
			wm_memory_usage = excluded.wm_memory_usage,
			occupancy_rate = excluded.occupancy_rate,
			occupancy_rate_15s = excluded.occupancy_rate_15s,
			occupancy_rate_5m = excluded.occupancy_rate_5m,
			occupancy_rate_30m = excluded.occupancy_rate_30m,
			version = excluded.version,
			native_mode = excluded.native_mode,
			job_isolation = excluded.job_isolation`

	_, err := s.pool.Exec(ctx, q,
		ping.Worker, ping.Group, ping.HostIP, ping.Tags, ping.JobsExecuted,
		ping.LastPing, ping.VCPUs, ping.MemoryBytes, ping.MemoryUsage, ping.PlatformMemoryUsage,
		ping.Occupancy.Instant, ping.Occupancy.W15s, ping.Occupancy.W5m, ping.Occupancy.W30m,
		ping.Version, ping.NativeMode, string(ping.IsolationKind),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert worker ping: %w", err)
	}
	return nil
}

func (s *PostgresWorkerPingStore) Get(ctx context.Context, worker string) (*model.WorkerPing, error) {
	const q = `
		SELECT worker, worker_group, ip, tags, jobs_executed, last_ping, vcpus, memory,
			memory_usage, wm_memory_usage, occupancy_rate, occupancy_rate_15s,
			occupancy_rate_5m, occupancy_rate_30m, version, native_mode, job_isolation
		FROM worker_ping WHERE worker = $1`

	var p model.WorkerPing
	var isolation string
	err := s.pool.QueryRow(ctx, q, worker).Scan(
		&p.Worker, &p.Group, &p.HostIP, &p.Tags, &p.JobsExecuted, &p.LastPing,
		&p.VCPUs, &p.MemoryBytes, &p.MemoryUsage, &p.PlatformMemoryUsage,
		&p.Occupancy.Instant, &p.Occupancy.W15s, &p.Occupancy.W5m, &p.Occupancy.W30m,
		&p.Version, &p.NativeMode, &isolation,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, plerr.New(plerr.KindNotFound, "store.WorkerPing.Get", err)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get worker ping: %w", err)
	}
	p.IsolationKind = model.IsolationKind(isolation)
	return &p, nil
}

func (s *PostgresWorkerPingStore) ListStale(ctx context.Context, cutoff time.Time) ([]*model.WorkerPing, error) {
	const q = `
		SELECT worker, worker_group, ip, tags, jobs_executed, last_ping, vcpus, memory,
			memory_usage, wm_memory_usage, occupancy_rate, occupancy_rate_15s,
			occupancy_rate_5m, occupancy_rate_30m, version, native_mode, job_isolation
		FROM worker_ping WHERE last_ping < $1`

	rows, err := s.pool.Query(ctx, q, cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale worker pings: %w", err)
	}
	defer rows.Close()

	var pings []*model.WorkerPing
	for rows.Next() {
		var p model.WorkerPing
		var isolation string
		if err := rows.Scan(
			&p.Worker, &p.Group, &p.HostIP, &p.Tags, &p.JobsExecuted, &p.LastPing,
			&p.VCPUs, &p.MemoryBytes, &p.MemoryUsage, &p.PlatformMemoryUsage,
			&p.Occupancy.Instant, &p.Occupancy.W15s, &p.Occupancy.W5m, &p.Occupancy.W30m,
			&p.Version, &p.NativeMode, &isolation,
		); err != nil {
			return nil, fmt.Errorf("failed to scan stale worker ping: %w", err)
		}
		p.IsolationKind = model.IsolationKind(isolation)
		pings = append(pings, &p)
	}
	return pings, rows.Err()
}
