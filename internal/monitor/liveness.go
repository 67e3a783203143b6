// Package monitor implements the periodic liveness sweep (spec §4.G):
// restarting or terminally failing zombie jobs whose worker stopped
// pinging, and pruning retention-expired completed jobs and concurrency
// history.
package monitor

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/bobmcallan/quartzqueue/internal/concurrency"
	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/queue"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

// sweepLockName is the advisory-lock name used to elect a single monitor
// runner per sweep when multiple store processes are deployed (spec §4.G
// "best-effort single elected runner").
const sweepLockName = "monitor:liveness-sweep"

// Liveness runs the periodic sweep described in spec §4.G.
type Liveness struct {
	pool    *store.Pool
	jobs    store.JobStore
	entries store.QueueStore
	completed store.CompletedStore
	concurrency *concurrency.Controller
	engine  *queue.Engine
	logger  *log.Logger

	pingTimeout     time.Duration
	retentionPeriod time.Duration
	restartZombies  bool

	cron *cron.Cron
}

// New creates a Liveness monitor.
func New(
	pool *store.Pool,
	jobs store.JobStore,
	entries store.QueueStore,
	completed store.CompletedStore,
	c *concurrency.Controller,
	engine *queue.Engine,
	pingTimeout, retentionPeriod time.Duration,
	restartZombies bool,
	logger *log.Logger,
) *Liveness {
	return &Liveness{
		pool:            pool,
		jobs:            jobs,
		entries:         entries,
		completed:       completed,
		concurrency:     c,
		engine:          engine,
		pingTimeout:     pingTimeout,
		retentionPeriod: retentionPeriod,
		restartZombies:  restartZombies,
		logger:          logger,
		cron:            cron.New(),
	}
}

// Start schedules the sweep to run on the given cron spec (e.g.
// "@every 15s") and returns immediately; the cron scheduler runs the sweep
// on its own goroutine.
func (l *Liveness) Start(ctx context.Context, spec string) error {
	_, err := l.cron.AddFunc(spec, func() {
		if err := l.sweep(ctx); err != nil {
			l.logger.Warn().Err(err).Msg("liveness sweep failed")
		}
	})
	if err != nil {
		return fmt.Errorf("failed to schedule liveness sweep %q: %w", spec, err)
	}
	l.cron.Start()
	return nil
}

// Stop halts the scheduler and waits for any in-flight sweep to finish.
func (l *Liveness) Stop() {
	<-l.cron.Stop().Done()
}

// sweep performs one pass: restart or fail zombie jobs, then prune expired
// completed rows and concurrency history. It only proceeds if it wins the
// advisory-lock election for this pass, so redundant store processes don't
// double-restart the same jobs (spec §4.G).
func (l *Liveness) sweep(ctx context.Context) error {
	lockKey := store.AdvisoryKey(sweepLockName)
	acquired, release, err := store.TryAdvisoryLock(ctx, l.pool, lockKey)
	if err != nil {
		return fmt.Errorf("failed to attempt sweep election: %w", err)
	}
	if !acquired {
		return nil
	}
	defer release()

	if err := l.handleZombies(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("zombie handling failed")
	}
	if err := l.pruneCompleted(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("completed-row pruning failed")
	}
	if err := l.pruneConcurrencyHistory(ctx); err != nil {
		l.logger.Warn().Err(err).Msg("concurrency history pruning failed")
	}
	return nil
}

// handleZombies restarts non-flow, non-same_worker entries whose last ping
// is older than pingTimeout (the job is re-queued and another worker may
// pick it up), and terminally fails the rest — same_worker continuations
// and, if restarting is disabled, everything else — since a same_worker
// job cannot migrate to a different worker to retry (spec §4.G, §9).
func (l *Liveness) handleZombies(ctx context.Context) error {
	cutoff := time.Now().Add(-l.pingTimeout)
	stale, err := l.entries.ListStaleRunning(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to list stale running entries: %w", err)
	}

	for _, entry := range stale {
		restartable := l.restartZombies && !entry.SameWorker
		if restartable {
			if job, err := l.jobs.Get(ctx, entry.JobID); err == nil && job.IsFlowStep() {
				restartable = false
			}
		}
		if restartable {
			if err := l.restartJob(ctx, entry); err != nil {
				l.logger.Warn().Err(err).Str("job_id", entry.JobID.String()).Msg("failed to restart zombie job")
				continue
			}
			l.logger.Info().Str("job_id", entry.JobID.String()).Msg("restarted zombie job after ping timeout")
			continue
		}

		if err := l.failJob(ctx, entry); err != nil {
			l.logger.Warn().Err(err).Str("job_id", entry.JobID.String()).Msg("failed to terminally fail zombie job")
			continue
		}
		l.logger.Info().Str("job_id", entry.JobID.String()).Msg("terminally failed zombie job after ping timeout")
	}
	return nil
}

func (l *Liveness) restartJob(ctx context.Context, entry *model.QueueEntry) error {
	return l.entries.Defer(ctx, entry.JobID, time.Now())
}

func (l *Liveness) failJob(ctx context.Context, entry *model.QueueEntry) error {
	// The job row, not the queue entry, carries the concurrency key —
	// look it up so Complete can release the held slot.
	var concurrencyKey string
	if job, err := l.jobs.Get(ctx, entry.JobID); err == nil {
		concurrencyKey = job.ConcurrencyKey
	}

	completion := &model.CompletedJob{
		JobID:       entry.JobID,
		Status:      model.StatusFailure,
		StartedAt:   derefTime(entry.StartedAt),
		CompletedAt: time.Now(),
		Worker:      entry.WorkerName,
	}
	return l.engine.Complete(ctx, entry.JobID, concurrencyKey, completion)
}

// pruneCompleted deletes completed rows older than retentionPeriod (spec
// §4.G, §3 "JOB_RETENTION_SECS").
func (l *Liveness) pruneCompleted(ctx context.Context) error {
	if l.retentionPeriod <= 0 {
		return nil
	}
	cutoff := time.Now().Add(-l.retentionPeriod)
	n, err := l.completed.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to purge completed jobs: %w", err)
	}
	if n > 0 {
		l.logger.Info().Int("count", n).Msg("purged retention-expired completed jobs")
	}
	return nil
}

// pruneConcurrencyHistory ages out history rows used by the sliding-window
// admission check once they can no longer affect any live window (spec
// §4.C).
func (l *Liveness) pruneConcurrencyHistory(ctx context.Context) error {
	n, err := l.concurrency.Prune(ctx, 24*time.Hour)
	if err != nil {
		return fmt.Errorf("failed to prune concurrency history: %w", err)
	}
	if n > 0 {
		l.logger.Info().Int("count", n).Msg("pruned concurrency history")
	}
	return nil
}

func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Now()
	}
	return *t
}
