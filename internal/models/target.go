package models

import "time"

// Target identifies a downstream system the dispatcher delivers to.
type Target string

const (
	TargetDatabase         Target = "database"
	TargetPrimaryChannel   Target = "primary_channel"
	TargetSecondaryChannel Target = "secondary_channel"
	TargetPrinter          Target = "printer"
	TargetCamera           Target = "camera"
)

// TargetStatus is the monitor's current belief about a target.
type TargetStatus string

const (
	StatusUnknown TargetStatus = "unknown"
	StatusProbing TargetStatus = "probing"
	StatusUp      TargetStatus = "up"
	StatusDown    TargetStatus = "down"
)

// TargetState is the snapshot kept per target. Status transitions happen
// only via an explicit probe or a delivery attempt outcome.
type TargetState struct {
	Status       TargetStatus `json:"status"`
	LastProbedAt time.Time    `json:"last_probed_at"`
	LastError    string       `json:"last_error,omitempty"`
}
