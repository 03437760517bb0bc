package notifx

// SendOptions holds optional per-send configuration.
type SendOptions struct {
	// Tags are provider metadata attached to the send, used for delivery
	// analytics (queue name, job id).
	Tags map[string]string
	// ConfigID selects a provider-specific configuration set.
	ConfigID string
}

// Option is a functional option for send operations.
type Option func(*SendOptions)

// WithTags attaches metadata tags to the send.
func WithTags(tags map[string]string) Option {
	return func(o *SendOptions) {
		o.Tags = tags
	}
}

// WithConfigID selects a provider configuration set for the send.
func WithConfigID(id string) Option {
	return func(o *SendOptions) {
		o.ConfigID = id
	}
}

// ApplySendOptions folds options into a SendOptions. Providers call this.
func ApplySendOptions(opts []Option) SendOptions {
	var so SendOptions
	for _, o := range opts {
		o(&so)
	}
	return so
}
