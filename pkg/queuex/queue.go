package queuex

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Queue is a named view over the job store. Producers enqueue through it,
// the worker pool claims through it, and admin tooling queries it. A job
// belongs to exactly one queue for its lifetime.
type Queue struct {
	name  string
	store Store
	cfg   QueueConfig
}

// NewQueue creates a queue view bound to a store.
func NewQueue(name string, store Store, cfg QueueConfig) *Queue {
	return &Queue{
		name:  name,
		store: store,
		cfg:   cfg.withDefaults(),
	}
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Config returns the queue configuration.
func (q *Queue) Config() QueueConfig { return q.cfg }

// Store exposes the underlying store port. The worker pool claims through it.
func (q *Queue) Store() Store { return q.store }

// Enqueue validates the arguments, persists a new job and returns it. The
// job starts waiting, or delayed when WithDelay is given. Store errors are
// returned to the caller, never swallowed.
func (q *Queue) Enqueue(ctx context.Context, payload json.RawMessage, opts ...EnqueueOption) (*Job, error) {
	o := enqueueOptions{
		maxAttempts: q.cfg.DefaultMaxAttempts,
	}
	for _, opt := range opts {
		opt(&o)
	}

	if len(payload) == 0 {
		return nil, queuexErrors.New(ErrValidation).WithDetail("reason", "empty payload")
	}
	if !json.Valid(payload) {
		return nil, queuexErrors.New(ErrValidation).WithDetail("reason", "payload is not valid JSON")
	}
	if o.delay < 0 {
		return nil, queuexErrors.New(ErrValidation).WithDetail("reason", "negative delay")
	}
	if o.maxAttempts < 1 {
		return nil, queuexErrors.New(ErrValidation).WithDetail("reason", "maxAttempts must be at least 1")
	}

	backoff := q.cfg.DefaultBackoff
	if o.backoff != nil {
		if o.backoff.Base <= 0 {
			return nil, queuexErrors.New(ErrValidation).WithDetail("reason", "backoff base must be positive")
		}
		backoff = *o.backoff
	}

	now := time.Now().UTC()
	job := &Job{
		ID:          uuid.New().String(),
		Queue:       q.name,
		Payload:     payload,
		Priority:    o.priority,
		State:       StateWaiting,
		MaxAttempts: o.maxAttempts,
		Backoff:     backoff,
		CreatedAt:   now,
	}
	if o.delay > 0 {
		job.State = StateDelayed
		job.DelayUntil = now.Add(o.delay)
	}

	if err := q.store.Enqueue(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// GetJob returns the current record for the id.
func (q *Queue) GetJob(ctx context.Context, id string) (*Job, error) {
	return q.store.GetJob(ctx, id)
}

// Status returns the externally visible snapshot of a job.
func (q *Queue) Status(ctx context.Context, id string) (*JobStatus, error) {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return nil, err
	}
	st := job.Status()
	return &st, nil
}

// Retry moves a failed job back to waiting. AttemptsMade is preserved; the
// job is granted one additional attempt so the bound still holds.
func (q *Queue) Retry(ctx context.Context, id string) error {
	job, err := q.store.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State != StateFailed {
		return queuexErrors.New(ErrNotRetryable).
			WithDetail("job_id", id).
			WithDetail("state", string(job.State))
	}
	return q.store.Retry(ctx, id)
}

// Clean removes terminal jobs whose FinishedAt predates now-olderThan and
// returns the removed ids. Waiting, delayed and active jobs are never touched.
func (q *Queue) Clean(ctx context.Context, state State, olderThan time.Duration) ([]string, error) {
	if !state.Terminal() {
		return nil, queuexErrors.New(ErrBadCleanState).WithDetail("state", string(state))
	}
	return q.store.Clean(ctx, q.name, state, olderThan)
}

// Stats returns per-state counts, samples and the paused flag.
func (q *Queue) Stats(ctx context.Context) (*Stats, error) {
	return q.store.Stats(ctx, q.name)
}

// Pause stops new dispatch into active. Already-active jobs run to completion.
func (q *Queue) Pause(ctx context.Context) error {
	return q.store.SetPaused(ctx, q.name, true)
}

// Resume restores dispatch.
func (q *Queue) Resume(ctx context.Context) error {
	return q.store.SetPaused(ctx, q.name, false)
}

// applyRetention trims a terminal bucket back to the queue's retention
// policy. Called by the worker pool after each terminal transition.
func (q *Queue) applyRetention(ctx context.Context, state State) error {
	var policy RetentionPolicy
	switch state {
	case StateCompleted:
		policy = q.cfg.CompletedRetention
	case StateFailed:
		policy = q.cfg.FailedRetention
	default:
		return queuexErrors.New(ErrBadCleanState).WithDetail("state", string(state))
	}

	if policy.MaxCount > 0 {
		if _, err := q.store.Trim(ctx, q.name, state, policy.MaxCount); err != nil {
			return err
		}
	}
	if policy.MaxAge > 0 {
		if _, err := q.store.Clean(ctx, q.name, state, policy.MaxAge); err != nil {
			return err
		}
	}
	return nil
}
