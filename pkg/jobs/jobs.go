// Package jobs defines the marketplace queues and their handlers: email
// delivery, AI vehicle scans and maintenance reminders.
package jobs

import (
	"encoding/json"
	"time"

	"github.com/partline/partline/pkg/errx"
	"github.com/partline/partline/pkg/scanx"
)

// Queue names. Consumers and producers share these constants.
const (
	QueueEmail       = "email"
	QueueScan        = "scan"
	QueueMaintenance = "maintenance"
)

var jobsErrors = errx.NewRegistry("JOBS")

var (
	ErrBadPayload      = jobsErrors.Register("BAD_PAYLOAD", errx.TypeValidation, 400, "Job payload is invalid")
	ErrVehicleNotFound = jobsErrors.Register("VEHICLE_NOT_FOUND", errx.TypeNotFound, 404, "Vehicle not found")
	ErrDirectoryQuery  = jobsErrors.Register("DIRECTORY_QUERY", errx.TypeExternal, 500, "Vehicle directory query failed")
)

// EmailPayload asks the email queue to render a template and send it.
type EmailPayload struct {
	To       []string       `json:"to"`
	Template string         `json:"template"`
	Data     map[string]any `json:"data,omitempty"`
}

// ScanPayload asks the scan queue to run an AI scan over vehicle images.
type ScanPayload struct {
	ScanID    string         `json:"scan_id"`
	ScanType  scanx.ScanType `json:"scan_type"`
	Images    []string       `json:"images"`
	UserID    string         `json:"user_id"`
	VehicleID string         `json:"vehicle_id,omitempty"`
}

// MaintenancePayload asks the maintenance queue to remind a vehicle's owner
// about due service.
type MaintenancePayload struct {
	VehicleID    string    `json:"vehicle_id"`
	ReminderType string    `json:"reminder_type"`
	DueAt        time.Time `json:"due_at"`
}

func decodePayload(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return jobsErrors.NewWithCause(ErrBadPayload, err)
	}
	return nil
}
