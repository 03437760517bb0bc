// Package notifx sends transactional email for the marketplace: order and
// maintenance notices, scan completion alerts. Providers implement the
// EmailSender port; the Client adds validation and template rendering on top.
package notifx

import (
	"context"
)

// EmailSender sends a single email.
type EmailSender interface {
	SendEmail(ctx context.Context, msg EmailMessage, opts ...Option) error
}

// Client is the entry point for sending notifications. It validates messages,
// fills in the default sender and renders registered templates before handing
// off to the provider.
type Client struct {
	provider    EmailSender
	templates   *TemplateRegistry
	defaultFrom string
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithDefaultFrom sets the sender used when a message carries no From.
func WithDefaultFrom(from string) ClientOption {
	return func(c *Client) {
		c.defaultFrom = from
	}
}

// NewClient creates a notification client on the given provider.
func NewClient(provider EmailSender, opts ...ClientOption) *Client {
	c := &Client{
		provider:  provider,
		templates: NewTemplateRegistry(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SendEmail validates and sends an email through the configured provider.
func (c *Client) SendEmail(ctx context.Context, msg EmailMessage, opts ...Option) error {
	if c.provider == nil {
		return notifxErrors.New(ErrNoProvider)
	}
	if msg.From == "" {
		msg.From = c.defaultFrom
	}
	if msg.From == "" {
		return notifxErrors.New(ErrInvalidMessage).WithDetail("reason", "no sender")
	}
	if len(msg.To) == 0 {
		return notifxErrors.New(ErrInvalidMessage).WithDetail("reason", "no recipients")
	}
	if msg.Subject == "" {
		return notifxErrors.New(ErrInvalidMessage).WithDetail("reason", "empty subject")
	}
	if msg.TextBody == "" && msg.HTMLBody == "" {
		return notifxErrors.New(ErrInvalidMessage).WithDetail("reason", "empty body")
	}
	return c.provider.SendEmail(ctx, msg, opts...)
}

// RegisterTemplate parses and stores a named subject and body template pair.
func (c *Client) RegisterTemplate(name, subject, body string) error {
	return c.templates.Register(name, subject, body)
}

// SendTemplated renders the named template with the given data, filling in
// the message subject and HTML body, then sends the result.
func (c *Client) SendTemplated(ctx context.Context, name string, data any, msg EmailMessage, opts ...Option) error {
	subject, body, err := c.templates.Render(name, data)
	if err != nil {
		return err
	}
	msg.Subject = subject
	msg.HTMLBody = body
	return c.SendEmail(ctx, msg, opts...)
}
