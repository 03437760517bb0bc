// Package notifxses implements the notifx provider port on AWS SES.
package notifxses

import (
	"context"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/partline/partline/pkg/notifx"
)

// Provider sends email through AWS SES. Send options map onto SES features:
// tags become message tags, ConfigID selects the configuration set.
type Provider struct {
	client *ses.Client
}

// NewProvider creates an SES email provider on an existing client.
func NewProvider(client *ses.Client) *Provider {
	return &Provider{client: client}
}

// SendEmail sends a single email via SES.
func (p *Provider) SendEmail(ctx context.Context, msg notifx.EmailMessage, opts ...notifx.Option) error {
	so := notifx.ApplySendOptions(opts)

	body := &types.Body{}
	if msg.TextBody != "" {
		body.Text = content(msg.TextBody)
	}
	if msg.HTMLBody != "" {
		body.Html = content(msg.HTMLBody)
	}

	input := &ses.SendEmailInput{
		Source: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses:  msg.To,
			CcAddresses:  msg.CC,
			BccAddresses: msg.BCC,
		},
		Message: &types.Message{
			Subject: content(msg.Subject),
			Body:    body,
		},
	}
	if msg.ReplyTo != "" {
		input.ReplyToAddresses = []string{msg.ReplyTo}
	}
	if so.ConfigID != "" {
		input.ConfigurationSetName = aws.String(so.ConfigID)
	}
	if len(so.Tags) > 0 {
		input.Tags = messageTags(so.Tags)
	}

	if _, err := p.client.SendEmail(ctx, input); err != nil {
		return sesErrors.NewWithCause(ErrSendFailed, err).
			WithDetail("to", msg.To).
			WithDetail("subject", msg.Subject)
	}
	return nil
}

func content(data string) *types.Content {
	return &types.Content{
		Data:    aws.String(data),
		Charset: aws.String("UTF-8"),
	}
}

func messageTags(tags map[string]string) []types.MessageTag {
	out := make([]types.MessageTag, 0, len(tags))
	for k, v := range tags {
		out = append(out, types.MessageTag{
			Name:  aws.String(k),
			Value: aws.String(v),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		return aws.ToString(out[i].Name) < aws.ToString(out[j].Name)
	})
	return out
}

var _ notifx.EmailSender = (*Provider)(nil)
