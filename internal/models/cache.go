package models

import "time"

// CacheRecordVersion tags the persisted record layout so a stored cache can
// be rejected instead of silently re-interpreted when the shape changes.
const CacheRecordVersion = 1

// CacheRecord is one buffered, not-yet-confirmed delivery. Records are
// created when delivery fails, removed only after a transport confirms
// success, and otherwise retained indefinitely.
type CacheRecord struct {
	Version    int       `json:"version"`
	Event      Event     `json:"event"`
	EnqueuedAt time.Time `json:"enqueued_at"`
	Attempts   int       `json:"attempts"`
}
