package models

import "time"

// VehiclePayload is the wire shape sent to the primary and secondary
// channels for an entry event.
type VehiclePayload struct {
	VehicleID   string    `json:"vehicleId"`
	TicketID    string    `json:"ticketId"`
	PlateNumber string    `json:"plateNumber"`
	VehicleType string    `json:"vehicleType"`
	Timestamp   time.Time `json:"timestamp"`
}

// EmergencyAlert is published on the primary channel when the emergency
// button is pressed.
type EmergencyAlert struct {
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// DeviceStatus describes this bridge to the backend. Published periodically
// and in response to status/ping commands.
type DeviceStatus struct {
	DeviceID          string                 `json:"deviceId"`
	Status            string                 `json:"status"`
	Timestamp         time.Time              `json:"timestamp"`
	DatabaseConnected bool                   `json:"databaseConnected"`
	ServerConnected   bool                   `json:"serverConnected"`
	CachedItems       int                    `json:"cacheItems"`
	Targets           map[Target]TargetState `json:"targets,omitempty"`
	MemoryUsedPercent float64                `json:"memoryUsedPercent,omitempty"`
	CPUUsedPercent    float64                `json:"cpuUsedPercent,omitempty"`
}
