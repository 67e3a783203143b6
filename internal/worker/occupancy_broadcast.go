package worker

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
)

// occupancyKeyPrefix namespaces the per-worker snapshot key so a shared
// Redis instance can host more than one quartzqueue deployment.
const occupancyKeyPrefix = "quartzqueue:worker:"

// occupancyKeyTTL bounds how long a snapshot survives after its worker
// stops pinging, so a crashed worker's last-known occupancy doesn't linger
// forever for readers that never check LastPing.
const occupancyKeyTTL = 30 * time.Second

// redisOccupancyPublisher mirrors each ping's occupancy snapshot into
// Redis, keyed by worker name, so a cluster-wide view (a status CLI, a
// dashboard) can read current load across every worker without querying
// Postgres. Entirely best-effort: a publish failure is logged, never
// fatal, since the durable copy of the same data already lives in
// worker_ping via Upsert.
type redisOccupancyPublisher struct {
	client *redis.Client
	logger *log.Logger
}

// newRedisOccupancyPublisher creates a publisher against addr/password/db.
// Returns nil if addr is empty — callers treat a nil publisher as "not
// configured" and skip publishing.
func newRedisOccupancyPublisher(addr, password string, db int, logger *log.Logger) *redisOccupancyPublisher {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	return &redisOccupancyPublisher{client: client, logger: logger}
}

func (r *redisOccupancyPublisher) publish(ctx context.Context, ping *model.WorkerPing) {
	if r == nil {
		return
	}
	data, err := sonic.Marshal(ping)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to marshal occupancy snapshot for redis")
		return
	}
	if err := r.client.Set(ctx, occupancyKeyPrefix+ping.Worker, data, occupancyKeyTTL).Err(); err != nil {
		r.logger.Warn().Err(err).Str("worker", ping.Worker).Msg("failed to publish occupancy snapshot to redis")
	}
}

func (r *redisOccupancyPublisher) close() {
	if r != nil {
		r.client.Close()
	}
}
