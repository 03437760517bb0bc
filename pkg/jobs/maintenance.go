package jobs

import (
	"context"
	"encoding/json"

	"github.com/partline/partline/pkg/queuex"
)

// Enqueuer is the producer side of a queue. The maintenance handler uses it
// to hand reminder emails to the email queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, payload json.RawMessage, opts ...queuex.EnqueueOption) (*queuex.Job, error)
}

// VehicleDirectory resolves vehicles and their owners.
type VehicleDirectory interface {
	FindVehicle(ctx context.Context, id string) (*Vehicle, error)
}

// Vehicle is a registered vehicle with its owner's contact details.
type Vehicle struct {
	ID         string `json:"id"`
	Make       string `json:"make"`
	Model      string `json:"model"`
	Year       int    `json:"year"`
	OwnerName  string `json:"owner_name"`
	OwnerEmail string `json:"owner_email"`
}

// MaintenanceHandler resolves the vehicle owner and enqueues a reminder
// email. Handlers are producers too; the email job carries its own retries.
type MaintenanceHandler struct {
	vehicles VehicleDirectory
	emails   Enqueuer
}

// NewMaintenanceHandler creates the maintenance queue handler.
func NewMaintenanceHandler(vehicles VehicleDirectory, emails Enqueuer) *MaintenanceHandler {
	return &MaintenanceHandler{vehicles: vehicles, emails: emails}
}

// Handle looks up the vehicle and enqueues the owner's reminder email. The
// result records the id of the email job produced.
func (h *MaintenanceHandler) Handle(ctx context.Context, job *queuex.Job) ([]byte, error) {
	var p MaintenancePayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return nil, err
	}
	if p.VehicleID == "" {
		return nil, jobsErrors.New(ErrBadPayload).WithDetail("reason", "missing vehicle_id")
	}

	vehicle, err := h.vehicles.FindVehicle(ctx, p.VehicleID)
	if err != nil {
		return nil, err
	}

	payload, err := json.Marshal(EmailPayload{
		To:       []string{vehicle.OwnerEmail},
		Template: TemplateMaintenanceReminder,
		Data: map[string]any{
			"owner_name":    vehicle.OwnerName,
			"make":          vehicle.Make,
			"model":         vehicle.Model,
			"year":          vehicle.Year,
			"reminder_type": p.ReminderType,
			"due_at":        p.DueAt.Format("January 2, 2006"),
		},
	})
	if err != nil {
		return nil, jobsErrors.NewWithCause(ErrBadPayload, err)
	}

	emailJob, err := h.emails.Enqueue(ctx, payload)
	if err != nil {
		return nil, err
	}

	return json.Marshal(map[string]string{"email_job_id": emailJob.ID})
}
