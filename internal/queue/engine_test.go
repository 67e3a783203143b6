package queue

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
)

type fakeJobStore struct {
	rows map[uuid.UUID]*model.Job
}

func newFakeJobStore() *fakeJobStore { return &fakeJobStore{rows: make(map[uuid.UUID]*model.Job)} }

func (f *fakeJobStore) Insert(ctx context.Context, job *model.Job) error {
	cp := *job
	f.rows[job.ID] = &cp
	return nil
}
func (f *fakeJobStore) Get(ctx context.Context, id uuid.UUID) (*model.Job, error) {
	j, ok := f.rows[id]
	if !ok {
		return nil, assert.AnError
	}
	return j, nil
}
func (f *fakeJobStore) Delete(ctx context.Context, id uuid.UUID) error {
	delete(f.rows, id)
	return nil
}

type fakeEntryStore struct {
	entries     map[uuid.UUID]*model.QueueEntry
	pullFn      func(tags []string, worker string, limit int) ([]*model.Candidate, error)
	deferred    map[uuid.UUID]time.Time
	completed   []uuid.UUID
	pushedToTop []uuid.UUID
}

func newFakeEntryStore() *fakeEntryStore {
	return &fakeEntryStore{entries: make(map[uuid.UUID]*model.QueueEntry), deferred: make(map[uuid.UUID]time.Time)}
}

func (f *fakeEntryStore) Push(ctx context.Context, entry *model.QueueEntry) error {
	cp := *entry
	f.entries[entry.JobID] = &cp
	return nil
}
func (f *fakeEntryStore) Pull(ctx context.Context, tags []string, workerName string, limit int) ([]*model.Candidate, error) {
	if f.pullFn != nil {
		return f.pullFn(tags, workerName, limit)
	}
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
	f.deferred[jobID] = until
	return nil
}
func (f *fakeEntryStore) Complete(ctx context.Context, jobID uuid.UUID) error {
	f.completed = append(f.completed, jobID)
	delete(f.entries, jobID)
	return nil
}
func (f *fakeEntryStore) PushToTop(ctx context.Context, jobID uuid.UUID) error {
	f.pushedToTop = append(f.pushedToTop, jobID)
	return nil
}
func (f *fakeEntryStore) Get(ctx context.Context, jobID uuid.UUID) (*model.QueueEntry, error) {
	e, ok := f.entries[jobID]
	if !ok {
		return nil, assert.AnError
	}
	return e, nil
}
func (f *fakeEntryStore) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*model.QueueEntry, error) {
	return nil, nil
}
func (f *fakeEntryStore) ResetRunningJobs(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeEntryStore) Depth(ctx context.Context, tag string) (int, error) {
	n := 0
	for _, e := range f.entries {
		if e.Tag == tag {
			n++
		}
	}
	return n, nil
}

type fakeCompletedStore struct {
	inserted []*model.CompletedJob
}

func (f *fakeCompletedStore) Insert(ctx context.Context, c *model.CompletedJob) error {
	f.inserted = append(f.inserted, c)
	return nil
}
func (f *fakeCompletedStore) Get(ctx context.Context, jobID uuid.UUID) (*model.CompletedJob, error) {
	for _, c := range f.inserted {
		if c.JobID == jobID {
			return c, nil
		}
	}
	return nil, assert.AnError
}
func (f *fakeCompletedStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	return 0, nil
}

type fakeConcurrencyStore struct {
	admit bool
}

func (f *fakeConcurrencyStore) TryReserve(ctx context.Context, key string, jobID uuid.UUID, limit int, window time.Duration) (bool, error) {
	return f.admit, nil
}
func (f *fakeConcurrencyStore) Release(ctx context.Context, key string, jobID uuid.UUID) error {
	return nil
}
func (f *fakeConcurrencyStore) ListGroups(ctx context.Context) ([]model.ConcurrencyGroup, error) {
	return nil, nil
}
func (f *fakeConcurrencyStore) PruneHistory(ctx context.Context, olderThan time.Time) (int, error) {
	return 0, nil
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

func newTestEngine(admit bool) (*Engine, *fakeJobStore, *fakeEntryStore, *fakeCompletedStore) {
	jobs := newFakeJobStore()
	entries := newFakeEntryStore()
	completed := &fakeCompletedStore{}
	concStore := &fakeConcurrencyStore{admit: admit}
	controller := concurrency.New(concStore, log.NewSilent())
	tx := &fakeTransactor{completed: completed, entries: entries, conc: concStore}
	return New(jobs, entries, completed, controller, tx, log.NewSilent()), jobs, entries, completed
}

func TestPushAssignsIDAndTimestampsWhenMissing(t *testing.T) {
	e, jobs, entries, _ := newTestEngine(true)
	job := &model.Job{Tag: "default"}

	require.NoError(t, e.Push(context.Background(), job))

	assert.NotEqual(t, uuid.Nil, job.ID)
	stored, ok := jobs.rows[job.ID]
	require.True(t, ok)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.Equal(t, stored.CreatedAt, stored.ScheduledFor)

	entry, ok := entries.entries[job.ID]
	require.True(t, ok)
	assert.Equal(t, "default", entry.Tag)
}

func TestPushPinsContinuationToParentWorker(t *testing.T) {
	e, _, entries, _ := newTestEngine(true)
	parentID := uuid.New()
	entries.entries[parentID] = &model.QueueEntry{JobID: parentID, WorkerName: "worker-7"}

	child := &model.Job{Tag: "default", SameWorker: true, ParentJobID: &parentID}
	require.NoError(t, e.Push(context.Background(), child))

	entry := entries.entries[child.ID]
	assert.Equal(t, "worker-7", entry.WorkerName)
}

func TestPullAdmitsCandidatesWithoutConcurrencyKey(t *testing.T) {
	e, _, entries, _ := newTestEngine(true)
	jobID := uuid.New()
	entries.pullFn = func(tags []string, worker string, limit int) ([]*model.Candidate, error) {
		return []*model.Candidate{{JobID: jobID, Tag: "default"}}, nil
	}

	admitted, err := e.Pull(context.Background(), "w1", []PriorityGroup{{Priority: 1, Tags: []string{"default"}}}, 5)
	require.NoError(t, err)
	require.Len(t, admitted, 1)
	assert.Equal(t, jobID, admitted[0].JobID)
}

func TestPullDefersCandidateRejectedByConcurrencyControl(t *testing.T) {
	e, _, entries, _ := newTestEngine(false)
	jobID := uuid.New()
	entries.pullFn = func(tags []string, worker string, limit int) ([]*model.Candidate, error) {
		return []*model.Candidate{{JobID: jobID, Tag: "default", ConcurrencyKey: "k", ConcurrencyLimit: 1}}, nil
	}

	admitted, err := e.Pull(context.Background(), "w1", []PriorityGroup{{Priority: 1, Tags: []string{"default"}}}, 5)
	require.NoError(t, err)
	assert.Empty(t, admitted)
	_, deferred := entries.deferred[jobID]
	assert.True(t, deferred)
}

func TestPullStopsOnceNSlotsAreFilledAcrossGroups(t *testing.T) {
	e, _, entries, _ := newTestEngine(true)
	calls := 0
	entries.pullFn = func(tags []string, worker string, limit int) ([]*model.Candidate, error) {
		calls++
		out := make([]*model.Candidate, 0, limit)
		for i := 0; i < limit; i++ {
			out = append(out, &model.Candidate{JobID: uuid.New()})
		}
		return out, nil
	}

	groups := []PriorityGroup{{Priority: 2, Tags: []string{"high"}}, {Priority: 1, Tags: []string{"low"}}}
	admitted, err := e.Pull(context.Background(), "w1", groups, 3)
	require.NoError(t, err)
	assert.Len(t, admitted, 3)
	assert.Equal(t, 1, calls, "second group should not be queried once the first fills every slot")
}

func TestCompleteInsertsRemovesAndReleases(t *testing.T) {
	e, _, entries, completed := newTestEngine(true)
	jobID := uuid.New()
	entries.entries[jobID] = &model.QueueEntry{JobID: jobID}

	err := e.Complete(context.Background(), jobID, "k", &model.CompletedJob{JobID: jobID, Status: model.StatusSuccess})
	require.NoError(t, err)

	assert.Len(t, completed.inserted, 1)
	_, stillQueued := entries.entries[jobID]
	assert.False(t, stillQueued)
	assert.Contains(t, entries.completed, jobID)
}

func TestObserveQueueDepthsCountsPendingEntriesPerTag(t *testing.T) {
	e, _, entries, _ := newTestEngine(true)
	entries.entries[uuid.New()] = &model.QueueEntry{Tag: "default"}
	entries.entries[uuid.New()] = &model.QueueEntry{Tag: "default"}
	entries.entries[uuid.New()] = &model.QueueEntry{Tag: "other"}

	depths, err := e.ObserveQueueDepths(context.Background(), []string{"default", "other", "empty"})
	require.NoError(t, err)
	assert.Equal(t, 2, depths["default"])
	assert.Equal(t, 1, depths["other"])
	assert.Equal(t, 0, depths["empty"])
}

func TestPushToTopDelegatesToStore(t *testing.T) {
	e, _, entries, _ := newTestEngine(true)
	jobID := uuid.New()

	require.NoError(t, e.PushToTop(context.Background(), jobID))
	assert.Equal(t, []uuid.UUID{jobID}, entries.pushedToTop)
}
