package jobs

import (
	"context"

	"github.com/partline/partline/pkg/notifx"
	"github.com/partline/partline/pkg/queuex"
)

// Template names registered by RegisterEmailTemplates.
const (
	TemplateMaintenanceReminder = "maintenance_reminder"
	TemplateScanComplete        = "scan_complete"
)

// EmailHandler delivers templated email through notifx. Sends are idempotent
// only in the at-least-once sense: a retry after a stall may deliver twice.
type EmailHandler struct {
	notifier *notifx.Client
}

// NewEmailHandler creates the email queue handler.
func NewEmailHandler(notifier *notifx.Client) *EmailHandler {
	return &EmailHandler{notifier: notifier}
}

// Handle renders the payload's template and sends the email. Tags carry the
// job id so bounces can be traced back to the queue.
func (h *EmailHandler) Handle(ctx context.Context, job *queuex.Job) ([]byte, error) {
	var p EmailPayload
	if err := decodePayload(job.Payload, &p); err != nil {
		return nil, err
	}
	if len(p.To) == 0 {
		return nil, jobsErrors.New(ErrBadPayload).WithDetail("reason", "no recipients")
	}
	if p.Template == "" {
		return nil, jobsErrors.New(ErrBadPayload).WithDetail("reason", "no template")
	}

	msg := notifx.EmailMessage{To: p.To}
	err := h.notifier.SendTemplated(ctx, p.Template, p.Data, msg,
		notifx.WithTags(map[string]string{
			"queue":  job.Queue,
			"job_id": job.ID,
		}),
	)
	if err != nil {
		return nil, err
	}
	return nil, nil
}

// RegisterEmailTemplates installs the built-in marketplace templates.
func RegisterEmailTemplates(c *notifx.Client) error {
	templates := []struct {
		name, subject, body string
	}{
		{
			name:    TemplateMaintenanceReminder,
			subject: "Maintenance due for your {{.year}} {{.make}} {{.model}}",
			body: `<p>Hi {{.owner_name}},</p>
<p>Your {{.year}} {{.make}} {{.model}} is due for <strong>{{.reminder_type}}</strong> on {{.due_at}}.</p>
<p>Browse compatible parts on Partline before your appointment.</p>`,
		},
		{
			name:    TemplateScanComplete,
			subject: "Your vehicle scan is ready",
			body: `<p>Hi {{.owner_name}},</p>
<p>We finished analyzing your scan. {{.parts_found}} parts were identified.</p>
<p>Open the app to review the results.</p>`,
		},
	}

	for _, t := range templates {
		if err := c.RegisterTemplate(t.name, t.subject, t.body); err != nil {
			return err
		}
	}
	return nil
}
