package model

import (
	"time"

	"github.com/google/uuid"
)

// QueueEntry tracks the mutable dispatch state of a job while it has not
// reached a terminal state. Invariant (spec §3): at most one QueueEntry per
// job id, and Running implies StartedAt and WorkerName are both set.
type QueueEntry struct {
	JobID        uuid.UUID
	Tag          string
	Priority     int16
	ScheduledFor time.Time
	CreatedAt    time.Time
	Running      bool
	StartedAt    *time.Time
	LastPing     *time.Time
	WorkerName   string
	SameWorker   bool
	CancelRequested bool
}

// Candidate is the row shape returned by a dequeue selection, before the
// caller has admitted it past concurrency control and marked it running.
type Candidate struct {
	JobID        uuid.UUID
	Tag          string
	Priority     int16
	ScheduledFor time.Time
	CreatedAt    time.Time
	SameWorker   bool
	WorkerName   string // non-empty only for same_worker continuations
	ConcurrencyKey    string
	ConcurrencyLimit  int
	ConcurrencyWindow time.Duration
}
