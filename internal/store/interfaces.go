package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/quartzqueue/internal/model"
)

// JobStore persists job definitions — the immutable row created by Push and
// read by the worker before execution.
type JobStore interface {
	Insert(ctx context.Context, job *model.Job) error
	Get(ctx context.Context, id uuid.UUID) (*model.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// QueueStore implements the dispatch half of the job queue (spec §4.B):
// candidate selection under FOR UPDATE SKIP LOCKED, heartbeat, completion,
// and cancellation.
type QueueStore interface {
	Push(ctx context.Context, entry *model.QueueEntry) error
	// Pull selects and claims up to limit candidates matching tags, honoring
	// (priority DESC, scheduled_for ASC, created_at ASC, id ASC) within each
	// bucket, skipping rows locked by other workers.
	Pull(ctx context.Context, tags []string, workerName string, limit int) ([]*model.Candidate, error)
	MarkRunning(ctx context.Context, jobID uuid.UUID, workerName string) error
	Heartbeat(ctx context.Context, jobID uuid.UUID) (cancelRequested bool, err error)
	RequestCancel(ctx context.Context, jobID uuid.UUID) error
	Defer(ctx context.Context, jobID uuid.UUID, until time.Time) error
	Complete(ctx context.Context, jobID uuid.UUID) error
	PushToTop(ctx context.Context, jobID uuid.UUID) error
	Get(ctx context.Context, jobID uuid.UUID) (*model.QueueEntry, error)
	// ListStaleRunning returns entries still marked running whose last_ping
	// is older than cutoff — the liveness monitor's zombie candidates.
	ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*model.QueueEntry, error)
	// ResetRunningJobs reclaims all running entries on startup (crash
	// recovery), returning the count reset.
	ResetRunningJobs(ctx context.Context) (int, error)
	Depth(ctx context.Context, tag string) (int, error)
}

// CompletedStore persists terminal job outcomes (spec §3, §8).
type CompletedStore interface {
	Insert(ctx context.Context, c *model.CompletedJob) error
	Get(ctx context.Context, jobID uuid.UUID) (*model.CompletedJob, error)
	// PurgeOlderThan deletes completed rows past the retention window,
	// returning the count deleted.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// ConcurrencyStore backs the sliding-window admission controller (spec
// §4.C): a running-set counter per key plus a bounded history of recent
// completions.
type ConcurrencyStore interface {
	// TryReserve atomically admits jobID under key if running+history within
	// window is below limit, locking the counter row for the check.
	TryReserve(ctx context.Context, key string, jobID uuid.UUID, limit int, window time.Duration) (bool, error)
	Release(ctx context.Context, key string, jobID uuid.UUID) error
	ListGroups(ctx context.Context) ([]model.ConcurrencyGroup, error)
	PruneHistory(ctx context.Context, olderThan time.Time) (int, error)
	// Prune deletes key's counter and history rows outright (spec §4.C
	// admin op "prune(K)"), failing rather than deleting if any job is
	// currently running under key.
	Prune(ctx context.Context, key string) error
}

// WorkerPingStore persists the liveness/capacity row each worker upserts
// (spec §3, §6).
type WorkerPingStore interface {
	Upsert(ctx context.Context, ping *model.WorkerPing) error
	Get(ctx context.Context, worker string) (*model.WorkerPing, error)
	ListStale(ctx context.Context, cutoff time.Time) ([]*model.WorkerPing, error)
}

// JobRuntimeStore persists the in-flight memory sample a remote worker
// reports alongside its job-status ping (spec §6 "job_runtime(id,
// memory_peak?, current_mem?)").
type JobRuntimeStore interface {
	Upsert(ctx context.Context, jobID uuid.UUID, memoryPeak, currentMem int64) error
}

// LockCacheStore persists resolved dependency artifacts keyed by language
// and content fingerprint (spec §4.F).
type LockCacheStore interface {
	Get(ctx context.Context, language, fingerprint string) (*model.ResolvedArtifact, error)
	Put(ctx context.Context, artifact *model.ResolvedArtifact) error
	PutError(ctx context.Context, language, fingerprint, resolveErr string) error
}

// SecretStore persists the database-backend half of the secret provider
// (spec §4.H): ciphertext or an external marker, never plaintext.
type SecretStore interface {
	Get(ctx context.Context, workspaceID, path string) (*model.Secret, error)
	Put(ctx context.Context, secret *model.Secret) error
	Delete(ctx context.Context, workspaceID, path string) error
	List(ctx context.Context, workspaceID string) ([]*model.Secret, error)
}

// ResourceStore persists typed connection/config blobs jobs resolve by
// path (spec §6 "resource").
type ResourceStore interface {
	Get(ctx context.Context, workspaceID, path string) (*model.Resource, error)
	Put(ctx context.Context, resource *model.Resource) error
	Delete(ctx context.Context, workspaceID, path string) error
}

// VariableStore persists plain (non-secret) named values jobs resolve by
// path (spec §6 "variable").
type VariableStore interface {
	Get(ctx context.Context, workspaceID, path string) (*model.Variable, error)
	Put(ctx context.Context, variable *model.Variable) error
	Delete(ctx context.Context, workspaceID, path string) error
}
