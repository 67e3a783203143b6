package model

import (
	"time"

	"github.com/google/uuid"
)

// ConcurrencyGroup summarizes one concurrency key for admin listing
// (spec §4.C list_groups).
type ConcurrencyGroup struct {
	Key          string
	RunningCount int
}

// ConcurrencyHistoryEntry records when a job holding key K finished, so the
// sliding-window admission check in §4.C can count it until it ages out of
// the window.
type ConcurrencyHistoryEntry struct {
	Key     string
	JobID   uuid.UUID
	EndedAt time.Time
}
