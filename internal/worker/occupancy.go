package worker

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bobmcallan/quartzqueue/internal/model"
)

// occupancyWindows are the sliding windows occupancy is reported over
// (spec §4.D "sliding windows 15 s / 5 min / 30 min").
var occupancyWindows = []time.Duration{15 * time.Second, 5 * time.Minute, 30 * time.Minute}

// interval is one job's [start, end) execution span. end is zero while the
// job is still running.
type interval struct {
	start time.Time
	end   time.Time
}

// occupancyTracker records job execution spans and reports the fraction of
// wallclock time spent executing over each of occupancyWindows, trimming
// spans older than the largest window as it goes.
type occupancyTracker struct {
	mu      sync.Mutex
	running map[uuid.UUID]time.Time
	history []interval
}

func newOccupancyTracker() *occupancyTracker {
	return &occupancyTracker{running: make(map[uuid.UUID]time.Time)}
}

func (t *occupancyTracker) MarkStart(jobID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.running[jobID] = time.Now()
}

func (t *occupancyTracker) MarkEnd(jobID uuid.UUID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	start, ok := t.running[jobID]
	if !ok {
		return
	}
	delete(t.running, jobID)
	t.history = append(t.history, interval{start: start, end: time.Now()})
	t.prune()
}

// prune drops history entries that have fully aged out of the largest
// tracked window.
func (t *occupancyTracker) prune() {
	cutoff := time.Now().Add(-occupancyWindows[len(occupancyWindows)-1])
	kept := t.history[:0]
	for _, iv := range t.history {
		if iv.end.After(cutoff) {
			kept = append(kept, iv)
		}
	}
	t.history = kept
}

// Snapshot computes occupancy at this instant: Instant is 1 if any job is
// currently running, else 0; W15s/W5m/W30m are the fraction of each
// window's wallclock time spent executing, clamped to [0,1].
func (t *occupancyTracker) Snapshot() model.Occupancy {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	t.prune()

	instant := 0.0
	if len(t.running) > 0 {
		instant = 1.0
	}

	spans := make([]interval, 0, len(t.history)+len(t.running))
	spans = append(spans, t.history...)
	for _, start := range t.running {
		spans = append(spans, interval{start: start, end: now})
	}

	occ := model.Occupancy{Instant: instant}
	for i, window := range occupancyWindows {
		windowStart := now.Add(-window)
		var busy time.Duration
		for _, iv := range spans {
			overlapStart := iv.start
			if overlapStart.Before(windowStart) {
				overlapStart = windowStart
			}
			overlapEnd := iv.end
			if overlapEnd.After(now) {
				overlapEnd = now
			}
			if overlapEnd.After(overlapStart) {
				busy += overlapEnd.Sub(overlapStart)
			}
		}
		fraction := float64(busy) / float64(window)
		if fraction > 1 {
			fraction = 1
		}
		switch i {
		case 0:
			occ.W15s = fraction
		case 1:
			occ.W5m = fraction
		case 2:
			occ.W30m = fraction
		}
	}
	return occ
}
