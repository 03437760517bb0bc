package notifx

import (
	"bytes"
	"html/template"
	"sync"
	texttemplate "text/template"
)

type emailTemplate struct {
	subject *texttemplate.Template
	body    *template.Template
}

// TemplateRegistry stores named email templates. Each entry is a subject
// template (text) paired with a body template (HTML-escaped).
type TemplateRegistry struct {
	mu        sync.RWMutex
	templates map[string]emailTemplate
}

// NewTemplateRegistry creates an empty template registry.
func NewTemplateRegistry() *TemplateRegistry {
	return &TemplateRegistry{
		templates: make(map[string]emailTemplate),
	}
}

// Register parses and stores a subject and body template pair by name.
// Re-registering a name replaces the previous pair.
func (r *TemplateRegistry) Register(name, subject, body string) error {
	st, err := texttemplate.New(name + ".subject").Parse(subject)
	if err != nil {
		return notifxErrors.NewWithCause(ErrTemplateParse, err).WithDetail("template", name)
	}
	bt, err := template.New(name).Parse(body)
	if err != nil {
		return notifxErrors.NewWithCause(ErrTemplateParse, err).WithDetail("template", name)
	}

	r.mu.Lock()
	r.templates[name] = emailTemplate{subject: st, body: bt}
	r.mu.Unlock()
	return nil
}

// Render executes the named pair with the given data and returns the rendered
// subject and HTML body.
func (r *TemplateRegistry) Render(name string, data any) (subject, body string, err error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return "", "", notifxErrors.New(ErrTemplateNotFound).WithDetail("template", name)
	}

	var sb, bb bytes.Buffer
	if err := t.subject.Execute(&sb, data); err != nil {
		return "", "", notifxErrors.NewWithCause(ErrTemplateRender, err).WithDetail("template", name)
	}
	if err := t.body.Execute(&bb, data); err != nil {
		return "", "", notifxErrors.NewWithCause(ErrTemplateRender, err).WithDetail("template", name)
	}
	return sb.String(), bb.String(), nil
}
