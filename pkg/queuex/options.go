package queuex

import "time"

// RetentionPolicy bounds how many terminal jobs a queue keeps and for how
// long. Zero values mean unbounded on that axis.
type RetentionPolicy struct {
	MaxCount int
	MaxAge   time.Duration
}

// QueueConfig carries the per-queue defaults applied to enqueued jobs.
type QueueConfig struct {
	// Concurrency is the maximum number of simultaneously active jobs.
	Concurrency int

	// DefaultMaxAttempts applies to jobs enqueued without WithMaxAttempts.
	DefaultMaxAttempts int

	// DefaultBackoff applies to jobs enqueued without WithBackoff.
	DefaultBackoff Backoff

	// CompletedRetention bounds retained completed jobs.
	CompletedRetention RetentionPolicy

	// FailedRetention bounds retained failed jobs, typically longer than
	// completed so operators can inspect failures.
	FailedRetention RetentionPolicy
}

// DefaultQueueConfig returns the config applied where the caller leaves
// fields zero.
func DefaultQueueConfig() QueueConfig {
	return QueueConfig{
		Concurrency:        4,
		DefaultMaxAttempts: 3,
		DefaultBackoff:     DefaultBackoff(),
		CompletedRetention: RetentionPolicy{MaxCount: 1000, MaxAge: 24 * time.Hour},
		FailedRetention:    RetentionPolicy{MaxCount: 5000, MaxAge: 7 * 24 * time.Hour},
	}
}

func (c QueueConfig) withDefaults() QueueConfig {
	def := DefaultQueueConfig()
	if c.Concurrency <= 0 {
		c.Concurrency = def.Concurrency
	}
	if c.DefaultMaxAttempts <= 0 {
		c.DefaultMaxAttempts = def.DefaultMaxAttempts
	}
	if c.DefaultBackoff.Base <= 0 {
		c.DefaultBackoff = def.DefaultBackoff
	}
	if c.CompletedRetention == (RetentionPolicy{}) {
		c.CompletedRetention = def.CompletedRetention
	}
	if c.FailedRetention == (RetentionPolicy{}) {
		c.FailedRetention = def.FailedRetention
	}
	return c
}

// enqueueOptions collects per-job overrides.
type enqueueOptions struct {
	priority    int
	delay       time.Duration
	maxAttempts int
	backoff     *Backoff
}

// EnqueueOption customizes a single enqueued job.
type EnqueueOption func(*enqueueOptions)

// WithPriority sets the dispatch priority, higher first. Default 0.
func WithPriority(p int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.priority = p
	}
}

// WithDelay holds the job back for d before it becomes eligible.
func WithDelay(d time.Duration) EnqueueOption {
	return func(o *enqueueOptions) {
		o.delay = d
	}
}

// WithMaxAttempts overrides the queue's default attempt bound.
func WithMaxAttempts(n int) EnqueueOption {
	return func(o *enqueueOptions) {
		o.maxAttempts = n
	}
}

// WithBackoff overrides the queue's default backoff curve.
func WithBackoff(b Backoff) EnqueueOption {
	return func(o *enqueueOptions) {
		o.backoff = &b
	}
}
