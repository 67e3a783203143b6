// Package worker implements the worker loop: pull, dispatch up to
// max_parallelism concurrent jobs, heartbeat, complete (spec §4.D).
package worker

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/bobmcallan/quartzqueue/internal/exec"
	"github.com/bobmcallan/quartzqueue/internal/exec/lang"
	"github.com/bobmcallan/quartzqueue/internal/exec/logstream"
	"github.com/bobmcallan/quartzqueue/internal/lockcache"
	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/config"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/queue"
	"github.com/bobmcallan/quartzqueue/internal/secret"
	"github.com/bobmcallan/quartzqueue/internal/store"
)

// pollMin/pollMax bound the randomized sleep a worker takes when a pull
// returns nothing (spec §5 "Backpressure").
const (
	pollMin = 200 * time.Millisecond
	pollMax = 1500 * time.Millisecond
)

// heartbeatReactionBudget is how long a worker has to act on a cancel
// request observed via heartbeat before the liveness monitor would
// otherwise classify the job as a zombie (spec §4.D).
const heartbeatReactionBudget = 5 * time.Second

// Worker runs the pull/dispatch/heartbeat/complete loop for one process.
type Worker struct {
	name   string
	group  string
	tags   []string
	cfg    *config.WorkerConfig
	execCfg *config.ExecConfig

	engine   *queue.Engine
	jobs     store.JobStore
	entries  store.QueueStore
	pings    store.WorkerPingStore
	secrets  *secret.Provider
	harness  *exec.Harness
	hub      *logstream.Hub
	occupancy *occupancyTracker
	materializer *materializer
	resolvers    map[string]*lockcache.Resolver
	redisPub     *redisOccupancyPublisher

	logger *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	jobsExecuted int64
}

// New creates a Worker.
func New(
	cfg *config.WorkerConfig,
	execCfg *config.ExecConfig,
	engine *queue.Engine,
	jobs store.JobStore,
	entries store.QueueStore,
	pings store.WorkerPingStore,
	variables store.VariableStore,
	resources store.ResourceStore,
	secrets *secret.Provider,
	resolvers map[string]*lockcache.Resolver,
	redisCfg *config.RedisConfig,
	logger *log.Logger,
) *Worker {
	var redisPub *redisOccupancyPublisher
	if redisCfg != nil {
		redisPub = newRedisOccupancyPublisher(redisCfg.Addr, redisCfg.Password, redisCfg.DB, logger)
	}
	return &Worker{
		name:         cfg.Name,
		group:        cfg.Group,
		tags:         cfg.Tags,
		cfg:          cfg,
		execCfg:      execCfg,
		engine:       engine,
		jobs:         jobs,
		entries:      entries,
		pings:        pings,
		secrets:      secrets,
		harness:      exec.NewHarness(execCfg.CacheRoot),
		hub:          logstream.NewHub(logger),
		occupancy:    newOccupancyTracker(),
		materializer: newMaterializer(variables, resources, secrets),
		resolvers:    resolvers,
		redisPub:     redisPub,
		logger:       logger,
	}
}

// safeGo launches a goroutine with panic recovery and logging, mirroring
// the manager's supervised-goroutine pattern.
func (w *Worker) safeGo(name string, fn func()) {
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				w.logger.Error().
					Str("goroutine", name).
					Str("panic", fmt.Sprintf("%v", r)).
					Str("stack", string(debug.Stack())).
					Msg("recovered from panic in worker goroutine")
			}
		}()
		fn()
	}()
}

// Start launches the poll loop and the log-streaming hub.
func (w *Worker) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.safeGo("logstream-hub", func() { w.hub.Run() })
	w.safeGo("poll-loop", func() { w.pollLoop(ctx) })
	w.safeGo("ping-loop", func() { w.pingLoop(ctx) })

	w.logger.Info().Str("worker", w.name).Strs("tags", w.tags).Msg("worker started")
}

// Stop cancels the loop and waits for in-flight jobs to return.
func (w *Worker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.hub.Stop()
	w.wg.Wait()
	w.redisPub.close()
	w.logger.Info().Str("worker", w.name).Msg("worker stopped")
}

// Hub exposes the log-streaming hub for HTTP route registration.
func (w *Worker) Hub() *logstream.Hub { return w.hub }

func (w *Worker) pollLoop(ctx context.Context) {
	sem := make(chan struct{}, maxInt(w.cfg.MaxParallelism, 1))

	groups := []queue.PriorityGroup{{Priority: 0, Tags: w.tags}}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		candidates, err := w.engine.Pull(ctx, w.name, groups, w.cfg.MaxParallelism)
		if err != nil {
			w.logger.Warn().Err(err).Msg("pull failed")
			select {
			case <-ctx.Done():
				return
			case <-time.After(time.Second):
				continue
			}
		}

		if len(candidates) == 0 {
			jitter := pollMin + time.Duration(rand.Int63n(int64(pollMax-pollMin)))
			select {
			case <-ctx.Done():
				return
			case <-time.After(jitter):
			}
			continue
		}

		for _, c := range candidates {
			c := c
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				return
			}
			w.safeGo(fmt.Sprintf("run-job-%s", c.JobID), func() {
				defer func() { <-sem }()
				w.runJob(ctx, c)
			})
		}
	}
}

func (w *Worker) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.GetPingInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sendPing(ctx)
		}
	}
}

func (w *Worker) sendPing(ctx context.Context) {
	w.mu.Lock()
	executed := w.jobsExecuted
	w.mu.Unlock()

	ping := &model.WorkerPing{
		Worker:       w.name,
		Group:        w.group,
		Tags:         w.tags,
		LastPing:     time.Now(),
		JobsExecuted: executed,
		Occupancy:    w.occupancy.Snapshot(),
		IsolationKind: model.IsolationKind(w.execCfg.Isolation),
	}
	collectHostMetrics(ping)

	if err := w.pings.Upsert(ctx, ping); err != nil {
		w.logger.Warn().Err(err).Msg("failed to upsert worker ping")
	}
	w.redisPub.publish(ctx, ping)
}

// runJob implements spec §4.D's run_job: prepare scratch, materialize
// inputs, invoke the harness with a heartbeat goroutine racing the
// execution, then record completion and release any concurrency hold.
func (w *Worker) runJob(ctx context.Context, c *model.Candidate) {
	start := time.Now()
	w.occupancy.MarkStart(c.JobID)
	defer w.occupancy.MarkEnd(c.JobID)

	completion := w.execute(ctx, c, start)

	if err := w.engine.Complete(ctx, c.JobID, c.ConcurrencyKey, completion); err != nil {
		w.logger.Error().Err(err).Str("job_id", c.JobID.String()).Msg("failed to record completion")
	}

	w.mu.Lock()
	w.jobsExecuted++
	w.mu.Unlock()
}

// execute runs the job end to end and always returns a CompletedJob — any
// failure along the way (bad job row, unsupported language, harness error)
// becomes a failure result rather than propagating, since run_job has no
// caller left to hand an error to once it has claimed the job.
func (w *Worker) execute(ctx context.Context, c *model.Candidate, start time.Time) *model.CompletedJob {
	fail := func(format string, args ...any) *model.CompletedJob {
		msg := fmt.Sprintf(format, args...)
		w.logger.Error().Str("job_id", c.JobID.String()).Msg(msg)
		result, _ := sonic.Marshal(model.ErrorResult{Error: model.ErrorDetail{Message: msg}})
		return &model.CompletedJob{
			JobID:       c.JobID,
			Status:      model.StatusFailure,
			Result:      result,
			StartedAt:   start,
			CompletedAt: time.Now(),
			DurationMS:  time.Since(start).Milliseconds(),
			Worker:      w.name,
		}
	}

	job, err := w.jobs.Get(ctx, c.JobID)
	if err != nil {
		return fail("failed to load job row: %v", err)
	}

	variant := lang.Get(lang.Name(job.Language))
	if variant == nil {
		return fail("unsupported language variant: %s", job.Language)
	}

	var rawArgs map[string]any
	if len(job.Args) > 0 {
		if err := sonic.Unmarshal(job.Args, &rawArgs); err != nil {
			return fail("failed to parse job args: %v", err)
		}
	}
	args, err := w.materializer.Resolve(ctx, job.WorkspaceID, rawArgs)
	if err != nil {
		return fail("failed to materialize args: %v", err)
	}

	scratchDir, cleanup, err := newScratchDir(c.JobID)
	if err != nil {
		return fail("failed to create scratch directory: %v", err)
	}
	defer cleanup()

	if variant.NeedsLockfile {
		if err := w.resolveDependencies(ctx, variant, job, scratchDir); err != nil {
			return fail("failed to resolve dependencies: %v", err)
		}
	}

	if err := writeUserCode(scratchDir, variant, job.RawCode); err != nil {
		return fail("failed to write user code: %v", err)
	}

	timeout := time.Duration(job.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = w.execCfg.GetGraceTimeout() * 12 // falls back to a generous multiple of the grace window
	}

	jobCtx, jobCancel := context.WithCancelCause(ctx)
	defer jobCancel(nil)

	heartbeatDone := make(chan struct{})
	w.safeGo(fmt.Sprintf("heartbeat-%s", c.JobID), func() {
		defer close(heartbeatDone)
		w.heartbeatJob(jobCtx, c.JobID, func() { jobCancel(exec.ErrCanceled) })
	})

	isolation := variant.DefaultSandbox
	if isolation == "" {
		isolation = w.execCfg.Isolation
	}

	outcome, err := w.harness.Run(jobCtx, scratchDir, variant, args, timeout, w.execCfg.GetGraceTimeout(), isolation,
		func(offset int64, data []byte) { w.hub.Publish(c.JobID.String(), offset, data) })

	jobCancel(nil)
	<-heartbeatDone

	if err != nil {
		return fail("execution failed: %v", err)
	}

	completion := &model.CompletedJob{
		JobID:       c.JobID,
		WorkspaceID: job.WorkspaceID,
		StartedAt:   start,
		CompletedAt: time.Now(),
		DurationMS:  time.Since(start).Milliseconds(),
		Worker:      w.name,
	}
	switch {
	case outcome.Success:
		completion.Status = model.StatusSuccess
		completion.Result = outcome.Result
	case outcome.Canceled:
		// Cooperative cancellation (spec §7 "Cancelled: terminal, status =
		// canceled"), distinct from a failed or timed-out run.
		completion.Status = model.StatusCanceled
		result, _ := sonic.Marshal(outcome.Error)
		completion.Result = result
	default:
		completion.Status = model.StatusFailure
		result, _ := sonic.Marshal(outcome.Error)
		completion.Result = result
	}
	return completion
}

// resolveDependencies runs (or reuses the cache for) the job's dependency
// lock before execution (spec §4.D step 3, §4.F). The lockfile is written
// into the scratch directory so the wrapper's language tooling can see it.
func (w *Worker) resolveDependencies(ctx context.Context, variant *lang.Variant, job *model.Job, scratchDir string) error {
	resolver, ok := w.resolvers[string(variant.Name)]
	if !ok {
		return nil // no resolver configured for this language; proceed without a lock
	}

	fingerprint := fingerprintSource(job.RawCode)
	artifact, err := resolver.Resolve(ctx, fingerprint, []byte(job.RawCode))
	if err != nil {
		return err
	}
	if len(artifact.Lockfile) > 0 {
		lockPath := filepath.Join(scratchDir, "lockfile")
		if err := os.WriteFile(lockPath, artifact.Lockfile, 0o644); err != nil {
			return fmt.Errorf("failed to write lockfile: %w", err)
		}
	}
	return nil
}

// heartbeatJob pings the store on an interval well under
// heartbeatReactionBudget and cancels jobCtx the moment cancel_requested is
// observed, so the child process teardown has the full reaction budget to
// work with (spec §4.D "Cooperative cancellation").
func (w *Worker) heartbeatJob(ctx context.Context, jobID uuid.UUID, onCancel func()) {
	interval := heartbeatReactionBudget / 2
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cancelRequested, err := w.entries.Heartbeat(ctx, jobID)
			if err != nil {
				w.logger.Warn().Err(err).Str("job_id", jobID.String()).Msg("heartbeat failed")
				continue
			}
			if cancelRequested {
				onCancel()
				return
			}
		}
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
