// Package notifxconsole logs emails instead of sending them. It is the
// provider used in local development and tests.
package notifxconsole

import (
	"context"
	"strings"

	"github.com/partline/partline/pkg/logx"
	"github.com/partline/partline/pkg/notifx"
)

// Provider prints emails through logx instead of delivering them.
type Provider struct{}

// NewProvider creates a console email provider.
func NewProvider() *Provider {
	return &Provider{}
}

// SendEmail logs the email details instead of sending it.
func (p *Provider) SendEmail(_ context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	so := notifx.ApplySendOptions(opts)

	fields := logx.Fields{
		"from":    msg.From,
		"to":      strings.Join(msg.To, ", "),
		"subject": msg.Subject,
	}
	for k, v := range so.Tags {
		fields["tag_"+k] = v
	}
	logx.WithFields(fields).Info("email sent (console provider)")

	if msg.TextBody != "" {
		logx.Debugf("email text body:\n%s", msg.TextBody)
	}
	if msg.HTMLBody != "" {
		logx.Debugf("email html body:\n%s", msg.HTMLBody)
	}
	return nil
}

var _ notifx.EmailSender = (*Provider)(nil)
