package jobs_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/partline/partline/pkg/errx"
	"github.com/partline/partline/pkg/jobs"
	"github.com/partline/partline/pkg/queuex"
)

type fakeDirectory struct {
	vehicles map[string]*jobs.Vehicle
}

func (d *fakeDirectory) FindVehicle(ctx context.Context, id string) (*jobs.Vehicle, error) {
	v, ok := d.vehicles[id]
	if !ok {
		return nil, &errx.Error{
			Code:       jobs.ErrVehicleNotFound.Code,
			Message:    jobs.ErrVehicleNotFound.Message,
			Type:       jobs.ErrVehicleNotFound.Type,
			HTTPStatus: jobs.ErrVehicleNotFound.HTTPStatus,
		}
	}
	return v, nil
}

type fakeEnqueuer struct {
	payloads []json.RawMessage
	err      error
}

func (e *fakeEnqueuer) Enqueue(ctx context.Context, payload json.RawMessage, opts ...queuex.EnqueueOption) (*queuex.Job, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.payloads = append(e.payloads, payload)
	return &queuex.Job{ID: "email-job-9", Queue: jobs.QueueEmail, Payload: payload}, nil
}

func newMaintenanceJob(t *testing.T, p jobs.MaintenancePayload) *queuex.Job {
	t.Helper()
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queuex.Job{ID: "job-1", Queue: jobs.QueueMaintenance, Payload: payload}
}

func TestMaintenanceHandler_EnqueuesReminderEmail(t *testing.T) {
	directory := &fakeDirectory{vehicles: map[string]*jobs.Vehicle{
		"veh-1": {
			ID:         "veh-1",
			Make:       "Toyota",
			Model:      "Tacoma",
			Year:       2021,
			OwnerName:  "Sam",
			OwnerEmail: "sam@example.com",
		},
	}}
	enqueuer := &fakeEnqueuer{}
	handler := jobs.NewMaintenanceHandler(directory, enqueuer)

	due := time.Date(2026, time.September, 14, 0, 0, 0, 0, time.UTC)
	result, err := handler.Handle(context.Background(), newMaintenanceJob(t, jobs.MaintenancePayload{
		VehicleID:    "veh-1",
		ReminderType: "brake inspection",
		DueAt:        due,
	}))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	if len(enqueuer.payloads) != 1 {
		t.Fatalf("expected 1 email enqueued, got %d", len(enqueuer.payloads))
	}

	var p jobs.EmailPayload
	if err := json.Unmarshal(enqueuer.payloads[0], &p); err != nil {
		t.Fatalf("decode email payload: %v", err)
	}
	if p.Template != jobs.TemplateMaintenanceReminder {
		t.Fatalf("unexpected template %q", p.Template)
	}
	if len(p.To) != 1 || p.To[0] != "sam@example.com" {
		t.Fatalf("unexpected recipients %v", p.To)
	}
	if p.Data["owner_name"] != "Sam" || p.Data["reminder_type"] != "brake inspection" {
		t.Fatalf("unexpected data %v", p.Data)
	}
	if p.Data["due_at"] != "September 14, 2026" {
		t.Fatalf("unexpected due date %v", p.Data["due_at"])
	}

	var res map[string]string
	if err := json.Unmarshal(result, &res); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if res["email_job_id"] != "email-job-9" {
		t.Fatalf("unexpected result %v", res)
	}
}

func TestMaintenanceHandler_VehicleNotFound(t *testing.T) {
	handler := jobs.NewMaintenanceHandler(
		&fakeDirectory{vehicles: map[string]*jobs.Vehicle{}},
		&fakeEnqueuer{},
	)

	_, err := handler.Handle(context.Background(), newMaintenanceJob(t, jobs.MaintenancePayload{
		VehicleID:    "veh-missing",
		ReminderType: "oil change",
		DueAt:        time.Now(),
	}))
	if !errx.IsCode(err, jobs.ErrVehicleNotFound) {
		t.Fatalf("expected vehicle not found, got %v", err)
	}
}

func TestMaintenanceHandler_MissingVehicleID(t *testing.T) {
	handler := jobs.NewMaintenanceHandler(
		&fakeDirectory{vehicles: map[string]*jobs.Vehicle{}},
		&fakeEnqueuer{},
	)

	_, err := handler.Handle(context.Background(), newMaintenanceJob(t, jobs.MaintenancePayload{
		ReminderType: "oil change",
		DueAt:        time.Now(),
	}))
	if !errx.IsCode(err, jobs.ErrBadPayload) {
		t.Fatalf("expected bad payload, got %v", err)
	}
}
