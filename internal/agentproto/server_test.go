package agentproto

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobmcallan/quartzqueue/internal/model"
	"github.com/bobmcallan/quartzqueue/internal/platform/log"
)

type fakePingStore struct {
	rows map[string]*model.WorkerPing
}

func newFakePingStore() *fakePingStore {
	return &fakePingStore{rows: make(map[string]*model.WorkerPing)}
}

func (f *fakePingStore) Upsert(ctx context.Context, ping *model.WorkerPing) error {
	cp := *ping
	f.rows[ping.Worker] = &cp
	return nil
}
func (f *fakePingStore) Get(ctx context.Context, worker string) (*model.WorkerPing, error) {
	p, ok := f.rows[worker]
	if !ok {
		return nil, assert.AnError
	}
	cp := *p
	return &cp, nil
}
func (f *fakePingStore) ListStale(ctx context.Context, cutoff time.Time) ([]*model.WorkerPing, error) {
	return nil, nil
}

type fakeQueueStore struct {
	cancelRequested bool
	heartbeatErr    error
	lastHeartbeat   uuid.UUID
}

func (f *fakeQueueStore) Push(ctx context.Context, entry *model.QueueEntry) error { return nil }
func (f *fakeQueueStore) Pull(ctx context.Context, tags []string, workerName string, limit int) ([]*model.Candidate, error) {
	return nil, nil
}
func (f *fakeQueueStore) MarkRunning(ctx context.Context, jobID uuid.UUID, workerName string) error {
	return nil
}
func (f *fakeQueueStore) Heartbeat(ctx context.Context, jobID uuid.UUID) (bool, error) {
	f.lastHeartbeat = jobID
	return f.cancelRequested, f.heartbeatErr
}
func (f *fakeQueueStore) RequestCancel(ctx context.Context, jobID uuid.UUID) error { return nil }
func (f *fakeQueueStore) Defer(ctx context.Context, jobID uuid.UUID, until time.Time) error {
	return nil
}
func (f *fakeQueueStore) Complete(ctx context.Context, jobID uuid.UUID) error { return nil }
func (f *fakeQueueStore) PushToTop(ctx context.Context, jobID uuid.UUID) error { return nil }
func (f *fakeQueueStore) Get(ctx context.Context, jobID uuid.UUID) (*model.QueueEntry, error) {
	return nil, assert.AnError
}
func (f *fakeQueueStore) ListStaleRunning(ctx context.Context, cutoff time.Time) ([]*model.QueueEntry, error) {
	return nil, nil
}
func (f *fakeQueueStore) ResetRunningJobs(ctx context.Context) (int, error) { return 0, nil }
func (f *fakeQueueStore) Depth(ctx context.Context, tag string) (int, error) { return 0, nil }

type fakeRuntimeStore struct {
	peak, current int64
	calls         int
}

func (f *fakeRuntimeStore) Upsert(ctx context.Context, jobID uuid.UUID, memoryPeak, currentMem int64) error {
	f.calls++
	f.peak = memoryPeak
	f.current = currentMem
	return nil
}

func newTestServer() (*Server, *fakePingStore, *fakeQueueStore, *fakeRuntimeStore) {
	pings := newFakePingStore()
	entries := &fakeQueueStore{}
	runtime := &fakeRuntimeStore{}
	return NewServer(pings, entries, runtime, log.NewSilent()), pings, entries, runtime
}

func TestHandleUpdatePingRequiresWorkerQueryParam(t *testing.T) {
	s, _, _, _ := newTestServer()
	mux := http.NewServeMux()
	s.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/agent_workers/update_ping", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdatePingRejectsMalformedBody(t *testing.T) {
	s, _, _, _ := newTestServer()
	mux := http.NewServeMux()
	s.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/agent_workers/update_ping?worker=w1", bytes.NewBufferString(`not-json`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleUpdatePingCreatesNewPingRow(t *testing.T) {
	s, pings, _, _ := newTestServer()
	mux := http.NewServeMux()
	s.Register(mux)

	jobsExecuted := int64(5)
	body, err := json.Marshal(UpdatePingRequest{PingType: PingMainLoop, JobsExecuted: &jobsExecuted})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/agent_workers/update_ping?worker=w1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	row, ok := pings.rows["w1"]
	require.True(t, ok)
	assert.Equal(t, int64(5), row.JobsExecuted)
}

func TestHandleUpdatePingMergesIntoExistingRow(t *testing.T) {
	s, pings, _, _ := newTestServer()
	pings.rows["w1"] = &model.WorkerPing{Worker: "w1", Tags: []string{"default"}, JobsExecuted: 10}
	mux := http.NewServeMux()
	s.Register(mux)

	occ := 0.5
	body, err := json.Marshal(UpdatePingRequest{PingType: PingMainLoop, OccupancyRate: &occ})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/agent_workers/update_ping?worker=w1", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusNoContent, rec.Code)
	row := pings.rows["w1"]
	assert.Equal(t, int64(10), row.JobsExecuted, "fields not present in the request are preserved")
	assert.Equal(t, 0.5, row.Occupancy.Instant)
	assert.Equal(t, []string{"default"}, row.Tags)
}

func TestHandlePingJobStatusRejectsInvalidJobID(t *testing.T) {
	s, _, _, _ := newTestServer()
	mux := http.NewServeMux()
	s.Register(mux)

	req := httptest.NewRequest(http.MethodPost, "/agent_workers/ping_job_status/not-a-uuid", bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandlePingJobStatusUpsertsRuntimeSampleAndReturnsCancelFlag(t *testing.T) {
	s, _, entries, runtime := newTestServer()
	entries.cancelRequested = true
	mux := http.NewServeMux()
	s.Register(mux)

	jobID := uuid.New()
	peak := int64(1024)
	body, err := json.Marshal(PingJobStatusRequest{MemPeak: &peak})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/agent_workers/ping_job_status/"+jobID.String(), bytes.NewReader(body))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, runtime.calls)
	assert.Equal(t, int64(1024), runtime.peak)
	assert.Equal(t, jobID, entries.lastHeartbeat)

	var resp PingJobStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.True(t, resp.ShouldCancel)
}

func TestHandlePingJobStatusSkipsRuntimeUpsertWhenNoMemoryFieldsSent(t *testing.T) {
	s, _, _, runtime := newTestServer()
	mux := http.NewServeMux()
	s.Register(mux)

	jobID := uuid.New()
	req := httptest.NewRequest(http.MethodPost, "/agent_workers/ping_job_status/"+jobID.String(), bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, runtime.calls)
}
