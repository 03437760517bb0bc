package jobs_test

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/partline/partline/pkg/errx"
	"github.com/partline/partline/pkg/jobs"
	"github.com/partline/partline/pkg/notifx"
	"github.com/partline/partline/pkg/queuex"
)

type fakeSender struct {
	sent []sentEmail
	err  error
}

type sentEmail struct {
	msg  notifx.EmailMessage
	opts notifx.SendOptions
}

func (f *fakeSender) SendEmail(ctx context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentEmail{msg: msg, opts: notifx.ApplySendOptions(opts)})
	return nil
}

func newEmailJob(t *testing.T, p jobs.EmailPayload) *queuex.Job {
	t.Helper()
	payload, err := json.Marshal(p)
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &queuex.Job{ID: "job-1", Queue: jobs.QueueEmail, Payload: payload}
}

func newEmailClient(t *testing.T, sender *fakeSender) *notifx.Client {
	t.Helper()
	client := notifx.NewClient(sender, notifx.WithDefaultFrom("Partline <no-reply@partline.io>"))
	if err := jobs.RegisterEmailTemplates(client); err != nil {
		t.Fatalf("register templates: %v", err)
	}
	return client
}

func TestEmailHandler_SendsMaintenanceReminder(t *testing.T) {
	sender := &fakeSender{}
	handler := jobs.NewEmailHandler(newEmailClient(t, sender))

	job := newEmailJob(t, jobs.EmailPayload{
		To:       []string{"owner@example.com"},
		Template: jobs.TemplateMaintenanceReminder,
		Data: map[string]any{
			"owner_name":    "Dana",
			"make":          "Subaru",
			"model":         "Outback",
			"year":          2019,
			"reminder_type": "oil change",
			"due_at":        "September 1, 2026",
		},
	})

	if _, err := handler.Handle(context.Background(), job); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(sender.sent) != 1 {
		t.Fatalf("expected 1 email, got %d", len(sender.sent))
	}

	got := sender.sent[0]
	if got.msg.To[0] != "owner@example.com" {
		t.Fatalf("unexpected recipient %q", got.msg.To[0])
	}
	if got.msg.Subject != "Maintenance due for your 2019 Subaru Outback" {
		t.Fatalf("unexpected subject %q", got.msg.Subject)
	}
	if !strings.Contains(got.msg.HTMLBody, "oil change") {
		t.Fatalf("body missing reminder type: %q", got.msg.HTMLBody)
	}
	if got.msg.From == "" {
		t.Fatal("expected default sender applied")
	}
	if got.opts.Tags["job_id"] != job.ID || got.opts.Tags["queue"] != jobs.QueueEmail {
		t.Fatalf("unexpected tags %v", got.opts.Tags)
	}
}

func TestEmailHandler_BadPayload(t *testing.T) {
	sender := &fakeSender{}
	handler := jobs.NewEmailHandler(newEmailClient(t, sender))

	cases := []struct {
		name string
		job  *queuex.Job
	}{
		{
			name: "malformed json",
			job:  &queuex.Job{ID: "j", Queue: jobs.QueueEmail, Payload: json.RawMessage(`{broken`)},
		},
		{
			name: "no recipients",
			job: newEmailJob(t, jobs.EmailPayload{
				Template: jobs.TemplateMaintenanceReminder,
			}),
		},
		{
			name: "no template",
			job: newEmailJob(t, jobs.EmailPayload{
				To: []string{"owner@example.com"},
			}),
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := handler.Handle(context.Background(), tc.job)
			if !errx.IsCode(err, jobs.ErrBadPayload) {
				t.Fatalf("expected bad payload error, got %v", err)
			}
		})
	}
	if len(sender.sent) != 0 {
		t.Fatalf("rejected payloads still sent %d emails", len(sender.sent))
	}
}

func TestEmailHandler_UnknownTemplate(t *testing.T) {
	sender := &fakeSender{}
	handler := jobs.NewEmailHandler(newEmailClient(t, sender))

	job := newEmailJob(t, jobs.EmailPayload{
		To:       []string{"owner@example.com"},
		Template: "no_such_template",
	})

	_, err := handler.Handle(context.Background(), job)
	if !errx.IsCode(err, notifx.ErrTemplateNotFound) {
		t.Fatalf("expected template not found, got %v", err)
	}
}
