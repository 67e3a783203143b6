package monitor

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quartzqueue/internal/concurrency"
	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
	"github.com/bobmcallan/quartzqueue/internal/queue"
)

type fakeJobStore struct {
	rows map[uuid.UUID]*model.Job
}

func (f *fakeJobStore) Insert(ctx context.Context, job *model.Job) error { return nil }
func (f *fakeJobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	j, ok := f.rows[id]
	if !ok {
		return nil, assert.AnError
	}
	return j, nil
}
func (f *fakeJobStore) Delete(ctx context.Context, id uuid.UUID) error { return nil }

type fakeEntryStore struct {
	stale     []*model.QueueEntry
	deferred  map[uuid.UUID]time.Time
	completed []uuid.UUID
}

func (f *fakeEntryStore) Push(ctx context.Context, entry *model.QueueEntry) error { return nil }
func (f *fakeEntryStore) Pull(ctx context.Context, tags []string, workerName string, limit int) ([]*model.Candidate, error) {
	return nil, nil
}
func (f *fakeEntryStore) MarkRunning(ctx context.Context, jobID uuid.UUID, workerName string) error {
	return nil
}
func (f *fakeEntryStore) Heartbeat(ctx context.Context, jobID uuid.UUID) (bool, error) {
	return false, nil
}
func (f *fakeEntryStore) RequestCancel(ctx context.Context, jobID uuid.UUID) error { return nil }
func (f *fakeEntryStore) Defer(ctx context.Context, jobID uuid.UUID, until time.Time) error {
	if f.deferred == nil {
		f.deferred = make(map[uuid.UUID]time.Time)
	}
	f.deferred[jobID] = until
	return nil
}
func (f *fakeEntryStore) Complete(ctx context.Context, jobID uuid.UUID) error {
	f.completed = append(f.completed, jobID)
	return nil
}
func (f *fakeEntryStore) PushToTop(ctx context.Context, jobID uuid.UUID) error { return nil }
func (f *fakeEntryStore) Get(ctx context.Context, jobID uuid.UUID) (*model.QueueEntry, error) {
	return nil, assert.AnError
}
func (f *fakeEntryStore) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*model.QueueEntry, error) {
	return f.stale, nil
}
func (f *fakeEntryStore) ResetRunningJobs(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeEntryStore) Depth(ctx context.Context, tag string) (int, error) { return 0, nil }

type fakeCompletedStore struct {
	inserted    []*model.CompletedJob
	purgeN      int
	purgeCalls  int
	purgeCutoff time.Time
}

func (f *fakeCompletedStore) Insert(ctx context.Context, c *model.CompletedJob) error {
	f.inserted = append(f.inserted, c)
	return nil
}
func (f *fakeCompletedStore) Get(ctx context.Context, jobID uuid.UUID) (*model.CompletedJob, error) {
	return nil, assert.AnError
}
func (f *fakeCompletedStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	f.purgeCalls++
	f.purgeCutoff = cutoff
	return f.purgeN, nil
}

type fakeConcurrencyStore struct {
	pruned   time.Time
	released []string
}

func (f *fakeConcurrencyStore) TryReserve(ctx context.Context, key string, jobID uuid.UUID, limit int, window time.Duration) (bool, error) {
	return true, nil
}
func (f *fakeConcurrencyStore) Release(ctx context.Context, key string, jobID uuid.UUID) error {
	f.released = append(f.released, key)
	return nil
}
func (f *fakeConcurrencyStore) ListGroups(ctx context.Context) ([]model.ConcurrencyGroup, error) {
	return nil, nil
}
func (f *fakeConcurrencyStore) PruneHistory(ctx context.Context, olderThan time.Time) (int, error) {
	f.pruned = olderThan
	return 2, nil
}
func (f *fakeConcurrencyStore) Prune(ctx context.Context, key string) error { return nil }

type fakeTransactor struct {
	completed *fakeCompletedStore
	entries   *fakeEntryStore
	conc      *fakeConcurrencyStore
}

func (f *fakeTransactor) Complete(ctx context.Context, jobID uuid.UUID, concurrencyKey string, completion *model.CompletedJob) error {
	if err := f.completed.Insert(ctx, completion); err != nil {
		return err
	}
	if err := f.entries.Complete(ctx, jobID); err != nil {
		return err
	}
	if concurrencyKey != "" {
		return f.conc.Release(ctx, concurrencyKey, jobID)
	}
	return nil
}

func newTestLiveness(restartZombies bool) (*Liveness, *fakeJobStore, *fakeEntryStore, *fakeCompletedStore, *fakeConcurrencyStore) {
	jobs := &fakeJobStore{rows: make(map[uuid.UUID]*model.Job)}
	entries := &fakeEntryStore{}
	completed := &fakeCompletedStore{}
	concStore := &fakeConcurrencyStore{}
	controller := concurrency.New(concStore, log.NewSilent())
	tx := &fakeTransactor{completed: completed, entries: entries, conc: concStore}
	engine := queue.New(jobs, entries, completed, controller, tx, log.NewSilent())

	l := &Liveness{
		jobs:            jobs,
		entries:         entries,
		completed:       completed,
		concurrency:     controller,
		engine:          engine,
		pingTimeout:     time.Minute,
		retentionPeriod: time.Hour,
		restartZombies:  restartZombies,
		logger:          log.NewSilent(),
	}
	return l, jobs, entries, completed, concStore
}

func TestHandleZombiesRestartsNonSameWorkerEntriesWhenEnabled(t *testing.T) {
	l, _, entries, _, _ := newTestLiveness(true)
	jobID := uuid.New()
	entries.stale = []*model.QueueEntry{{JobID: jobID, SameWorker: false}}

	require.NoError(t, l.handleZombies(context.Background()))

	_, deferred := entries.deferred[jobID]
	assert.True(t, deferred, "non-same_worker zombie should be requeued via Defer")
	assert.Empty(t, entries.completed)
}

func TestHandleZombiesNeverRestartsSameWorkerEntries(t *testing.T) {
	l, _, entries, completed, _ := newTestLiveness(true)
	jobID := uuid.New()
	entries.stale = []*model.QueueEntry{{JobID: jobID, SameWorker: true}}

	require.NoError(t, l.handleZombies(context.Background()))

	_, deferred := entries.deferred[jobID]
	assert.False(t, deferred, "same_worker continuations cannot migrate to a new worker, so they must fail rather than restart")
	assert.Contains(t, entries.completed, jobID)
	require.Len(t, completed.inserted, 1)
	assert.Equal(t, model.StatusFailure, completed.inserted[0].Status)
}

func TestHandleZombiesFailsEverythingWhenRestartDisabled(t *testing.T) {
	l, _, entries, completed, _ := newTestLiveness(false)
	jobID := uuid.New()
	entries.stale = []*model.QueueEntry{{JobID: jobID, SameWorker: false}}

	require.NoError(t, l.handleZombies(context.Background()))

	assert.Empty(t, entries.deferred)
	assert.Contains(t, entries.completed, jobID)
	require.Len(t, completed.inserted, 1)
}

func TestHandleZombiesCarriesConcurrencyKeyFromJobRowIntoCompletion(t *testing.T) {
	l, jobs, entries, _, concStore := newTestLiveness(false)
	jobID := uuid.New()
	jobs.rows[jobID] = &model.Job{ID: jobID, ConcurrencyKey: "k"}
	entries.stale = []*model.QueueEntry{{JobID: jobID, SameWorker: false}}

	require.NoError(t, l.handleZombies(context.Background()))
	assert.Contains(t, entries.completed, jobID)
	assert.Equal(t, []string{"k"}, concStore.released)
}

func TestPruneCompletedSkippedWhenRetentionNonPositive(t *testing.T) {
	l, _, _, completed, _ := newTestLiveness(true)
	l.retentionPeriod = 0

	require.NoError(t, l.pruneCompleted(context.Background()))
	assert.Equal(t, 0, completed.purgeN)
	assert.Equal(t, 0, completed.purgeCalls)
}

func TestPruneCompletedPassesCutoffToStore(t *testing.T) {
	l, _, _, completed, _ := newTestLiveness(true)
	completed.purgeN = 4

	require.NoError(t, l.pruneCompleted(context.Background()))
	assert.Equal(t, 1, completed.purgeCalls)
	assert.WithinDuration(t, time.Now().Add(-time.Hour), completed.purgeCutoff, 2*time.Second)
}

func TestPruneConcurrencyHistoryDelegatesToController(t *testing.T) {
	l, _, _, _, concStore := newTestLiveness(true)
	require.NoError(t, l.pruneConcurrencyHistory(context.Background()))
	assert.False(t, concStore.pruned.IsZero())
}
