package models

import "time"

// EventKind classifies a decoded device event.
type EventKind string

const (
	KindVehicleEntry EventKind = "vehicle_entry"
	KindManualEntry  EventKind = "manual_entry"
	KindManualExit   EventKind = "manual_exit"
	KindEmergency    EventKind = "emergency"
)

// Event is one decoded unit of work derived from a device line.
//
// TicketID is assigned once at decode time and never mutated; it is the
// de-duplication and idempotency key for every downstream delivery.
type Event struct {
	TicketID   string    `json:"ticket_id"`
	VehicleID  string    `json:"vehicle_id"`
	Kind       EventKind `json:"kind"`
	Raw        string    `json:"raw"`
	Attachment string    `json:"attachment,omitempty"`
	Args       string    `json:"args,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// IsEntry reports whether the event creates a vehicle record.
func (e Event) IsEntry() bool {
	return e.Kind == KindVehicleEntry || e.Kind == KindManualEntry
}
