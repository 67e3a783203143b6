// Package queue implements the queue engine's public operations (spec
// §4.B): push, pull, cancel, and queue-depth observation, layered over the
// durable store and the concurrency controller.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/quartzqueue/internal/concurrency"
	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

// PriorityGroup partitions tags into a priority band pulled as a unit
// (spec §4.B "a configured partition of tags into bands").
type PriorityGroup struct {
	Priority int16
	Tags     []string
}

// Engine is the queue engine.
type Engine struct {
	jobs        store.JobStore
	entries     store.QueueStore
	completed   store.CompletedStore
	concurrency *concurrency.Controller
	tx          store.Transactor
	logger      *log.Logger
}

// New creates a new Engine.
func New(jobs store.JobStore, entries store.QueueStore, completed store.CompletedStore, c *concurrency.Controller, tx store.Transactor, logger *log.Logger) *Engine {
	return &Engine{jobs: jobs, entries: entries, completed: completed, concurrency: c, tx: tx, logger: logger}
}

// Push inserts job and its queue entry. Both rows are written before the
// job becomes visible to pull.
func (e *Engine) Push(ctx context.Context, job *model.Job) error {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now()
	}
	if job.ScheduledFor.IsZero() {
		job.ScheduledFor = job.CreatedAt
	}

	if err := e.jobs.Insert(ctx, job); err != nil {
		return fmt.Errorf("failed to push job: %w", err)
	}

	entry := &model.QueueEntry{
		JobID:        job.ID,
		Tag:          job.Tag,
		Priority:     job.Priority,
		ScheduledFor: job.ScheduledFor,
		CreatedAt:    job.CreatedAt,
		SameWorker:   job.SameWorker,
	}
	if job.SameWorker && job.ParentJobID != nil {
		// Continuation of a flow step: pin to the worker that owns the
		// parent, discovered via the parent's queue entry if it is still
		// running (spec §4.B same_worker semantics).
		if parent, err := e.entries.Get(ctx, *job.ParentJobID); err == nil {
			entry.WorkerName = parent.WorkerName
		}
	}

	if err := e.entries.Push(ctx, entry); err != nil {
		return fmt.Errorf("failed to push queue entry: %w", err)
	}
	return nil
}

// Pull selects and claims runnable candidates for worker across each
// priority group in descending priority, stopping once n slots are filled.
// Candidates carrying a concurrency_key that fails admission are deferred
// in place rather than returned (spec §4.B step 3).
func (e *Engine) Pull(ctx context.Context, worker string, groups []PriorityGroup, n int) ([]*model.Candidate, error) {
	if n <= 0 {
		n = 1
	}

	var admitted []*model.Candidate
	for _, group := range groups {
		remaining := n - len(admitted)
		if remaining <= 0 {
			break
		}

		candidates, err := e.entries.Pull(ctx, group.Tags, worker, remaining)
		if err != nil {
			return nil, fmt.Errorf("failed to pull candidates: %w", err)
		}

		for _, c := range candidates {
			if job, err := e.jobs.Get(ctx, c.JobID); err == nil && job.ConcurrencyKey != "" {
				c.ConcurrencyKey = job.ConcurrencyKey
				c.ConcurrencyLimit = job.ConcurrencyLimit
				c.ConcurrencyWindow = job.ConcurrencyWindow
			}
			if c.ConcurrencyKey == "" {
				admitted = append(admitted, c)
				continue
			}

			ok, err := e.concurrency.Admit(ctx, c, c.JobID)
			if err != nil {
				return nil, fmt.Errorf("failed to admit candidate: %w", err)
			}
			if ok {
				admitted = append(admitted, c)
				continue
			}

			backoff := concurrency.BackoffFor(1)
			if err := e.entries.Defer(ctx, c.JobID, time.Now().Add(backoff)); err != nil {
				return nil, fmt.Errorf("failed to defer rejected candidate: %w", err)
			}
		}
	}

	return admitted, nil
}

// Cancel flags a job for cooperative cancellation. The owning worker
// observes the flag on its next heartbeat (spec §5).
func (e *Engine) Cancel(ctx context.Context, jobID uuid.UUID, reason string) error {
	if err := e.entries.RequestCancel(ctx, jobID); err != nil {
		return fmt.Errorf("failed to cancel job: %w", err)
	}
	e.logger.Info().Str("job_id", jobID.String()).Str("reason", reason).Msg("cancel requested")
	return nil
}

// Complete records the terminal outcome, removes the queue entry, and
// releases any concurrency-key reservation the job held, all in one
// transaction: no observer may see both a running queue entry and a
// completion row, or neither (spec §4.A, §8).
func (e *Engine) Complete(ctx context.Context, jobID uuid.UUID, concurrencyKey string, completion *model.CompletedJob) error {
	if err := e.tx.Complete(ctx, jobID, concurrencyKey, completion); err != nil {
		return fmt.Errorf("failed to complete job: %w", err)
	}
	return nil
}

// ObserveQueueDepths reports the pending (not running) depth for each tag.
func (e *Engine) ObserveQueueDepths(ctx context.Context, tags []string) (map[string]int, error) {
	depths := make(map[string]int, len(tags))
	for _, tag := range tags {
		d, err := e.entries.Depth(ctx, tag)
		if err != nil {
			return nil, fmt.Errorf("failed to observe queue depth for tag %s: %w", tag, err)
		}
		depths[tag] = d
	}
	return depths, nil
}

// PushToTop re-prioritizes a pending job ahead of everything else in its
// tag, used by administrative "run now" requests.
func (e *Engine) PushToTop(ctx context.Context, jobID uuid.UUID) error {
	if err := e.entries.PushToTop(ctx, jobID); err != nil {
		return fmt.Errorf("failed to push job to top: %w", err)
	}
	return nil
}
