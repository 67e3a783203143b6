// Package concurrency implements sliding-window admission control for
// jobs sharing a concurrency_key (spec §4.C).
package concurrency

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

// DefaultDeferBackoff is the linear backoff step applied each time a job is
// deferred for lacking concurrency-key admission (spec §4.C "Defer
// re-schedules with linear backoff").
const DefaultDeferBackoff = 2 * time.Second

// MaxDeferBackoff bounds the linear backoff so a perpetually-contended key
// does not push scheduled_for arbitrarily far into the future.
const MaxDeferBackoff = 30 * time.Second

// Controller admits or defers candidates carrying a concurrency_key.
type Controller struct {
	store  store.ConcurrencyStore
	logger *log.Logger
}

// New creates a new Controller.
func New(st store.ConcurrencyStore, logger *log.Logger) *Controller {
	return &Controller{store: st, logger: logger}
}

// Admit reports whether jobID may proceed under candidate's concurrency
// key. Candidates with no concurrency_key are always admitted. On
// rejection the caller (internal/queue.Engine) Defers the job by
// BackoffFor(1); no per-job defer count is kept, so every defer of a job
// uses that same first-step backoff.
func (c *Controller) Admit(ctx context.Context, candidate *model.Candidate, jobID uuid.UUID) (bool, error) {
	if candidate.ConcurrencyKey == "" {
		return true, nil
	}

	window := candidate.ConcurrencyWindow
	if window <= 0 {
		window = time.Minute
	}

	admitted, err := c.store.TryReserve(ctx, candidate.ConcurrencyKey, jobID, candidate.ConcurrencyLimit, window)
	if err != nil {
		return false, fmt.Errorf("failed to check concurrency admission: %w", err)
	}
	if !admitted {
		c.logger.Debug().Str("concurrency_key", candidate.ConcurrencyKey).Str("job_id", jobID.String()).Msg("concurrency admission rejected, deferring")
	}
	return admitted, nil
}

// Release frees jobID's hold on key, moving it from the running set into
// the time-bounded history the next Admit call counts against.
func (c *Controller) Release(ctx context.Context, key string, jobID uuid.UUID) error {
	if key == "" {
		return nil
	}
	if err := c.store.Release(ctx, key, jobID); err != nil {
		return fmt.Errorf("failed to release concurrency key: %w", err)
	}
	return nil
}

// BackoffFor computes the linear-backoff defer duration for the given retry
// attempt (1-indexed), capped at MaxDeferBackoff.
func BackoffFor(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	backoff := time.Duration(attempt) * DefaultDeferBackoff
	if backoff > MaxDeferBackoff {
		backoff = MaxDeferBackoff
	}
	return backoff
}

// ListGroups returns every concurrency key with at least one running
// holder, for admin/diagnostic listing.
func (c *Controller) ListGroups(ctx context.Context) ([]model.ConcurrencyGroup, error) {
	groups, err := c.store.ListGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list concurrency groups: %w", err)
	}
	return groups, nil
}

// Prune removes history entries older than retention, called periodically
// by the liveness monitor's sweep pass.
func (c *Controller) Prune(ctx context.Context, retention time.Duration) (int, error) {
	n, err := c.store.PruneHistory(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, fmt.Errorf("failed to prune concurrency history: %w", err)
	}
	return n, nil
}

// PruneGroup deletes every counter and history row for a single key,
// the admin op spec §4.C names "prune(K)" — distinct from Prune's
// periodic, retention-window sweep across every key. It fails if key
// currently has a running holder.
func (c *Controller) PruneGroup(ctx context.Context, key string) error {
	if err := c.store.Prune(ctx, key); err != nil {
		return fmt.Errorf("failed to prune concurrency group %s: %w", key, err)
	}
	return nil
}
