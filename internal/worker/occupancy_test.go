package worker

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestOccupancySnapshotZeroWhenIdle(t *testing.T) {
	tr := newOccupancyTracker()
	snap := tr.Snapshot()
	assert.Equal(t, 0.0, snap.Instant)
	assert.Equal(t, 0.0, snap.W15s)
	assert.Equal(t, 0.0, snap.W5m)
	assert.Equal(t, 0.0, snap.W30m)
}

func TestOccupancyInstantIsOneWhileJobRunning(t *testing.T) {
	tr := newOccupancyTracker()
	jobID := uuid.New()
	tr.MarkStart(jobID)

	snap := tr.Snapshot()
	assert.Equal(t, 1.0, snap.Instant)
}

func TestOccupancyInstantDropsAfterMarkEnd(t *testing.T) {
	tr := newOccupancyTracker()
	jobID := uuid.New()
	tr.MarkStart(jobID)
	tr.MarkEnd(jobID)

	snap := tr.Snapshot()
	assert.Equal(t, 0.0, snap.Instant)
}

func TestOccupancyMarkEndWithoutStartIsNoOp(t *testing.T) {
	tr := newOccupancyTracker()
	tr.MarkEnd(uuid.New())

	snap := tr.Snapshot()
	assert.Equal(t, 0.0, snap.Instant)
	assert.Empty(t, tr.history)
}

func TestOccupancyFractionReflectsCompletedSpan(t *testing.T) {
	tr := newOccupancyTracker()
	jobID := uuid.New()

	start := time.Now()
	tr.running[jobID] = start.Add(-10 * time.Second)
	delete(tr.running, jobID)
	tr.history = append(tr.history, interval{start: start.Add(-10 * time.Second), end: start})

	snap := tr.Snapshot()
	assert.InDelta(t, 10.0/15.0, snap.W15s, 0.1)
	assert.Less(t, snap.W5m, snap.W15s)
}

func TestOccupancyFractionClampsAtOne(t *testing.T) {
	tr := newOccupancyTracker()
	now := time.Now()
	tr.history = append(tr.history, interval{start: now.Add(-time.Hour), end: now})

	snap := tr.Snapshot()
	assert.Equal(t, 1.0, snap.W15s)
	assert.Equal(t, 1.0, snap.W5m)
	assert.Equal(t, 1.0, snap.W30m)
}

func TestOccupancyPruneDropsFullyAgedHistory(t *testing.T) {
	tr := newOccupancyTracker()
	longAgo := time.Now().Add(-time.Hour)
	tr.history = append(tr.history, interval{start: longAgo.Add(-time.Minute), end: longAgo})

	tr.prune()
	assert.Empty(t, tr.history)
}

func TestOccupancyRunningJobCountsTowardSnapshotEvenBeforeMarkEnd(t *testing.T) {
	tr := newOccupancyTracker()
	jobID := uuid.New()
	tr.running[jobID] = time.Now().Add(-5 * time.Second)

	snap := tr.Snapshot()
	assert.Greater(t, snap.W15s, 0.0)
}
