package queuex

import (
	"context"
	"time"
)

// Stats summarizes one queue for observability. Samples carry a handful of
// job ids per state so operators can drill into a bucket.
type Stats struct {
	Queue       string             `json:"queue"`
	Counts      map[State]int      `json:"counts"`
	Samples     map[State][]string `json:"samples,omitempty"`
	Paused      bool               `json:"paused"`
	TotalStalls int64              `json:"total_stalls"`
}

// ReclaimResult reports the outcome of one reclaim pass over expired leases.
type ReclaimResult struct {
	// Stalled are jobs whose lease was found expired on this pass. They stay
	// in the stalled state until the next pass requeues them.
	Stalled []string
	// Requeued are previously stalled jobs moved back to waiting.
	Requeued []string
	// Failed are previously stalled jobs that were out of attempts.
	Failed []string
}

// Total returns the number of jobs touched by the pass.
func (r *ReclaimResult) Total() int {
	return len(r.Stalled) + len(r.Requeued) + len(r.Failed)
}

// Store is the port every job store adapter implements. It is the single
// source of truth for job state; all transitions are atomic per job so two
// workers can never both claim the same job. Adapters exist for Redis,
// Postgres and memory.
type Store interface {
	// Enqueue persists a new job in the waiting or delayed state.
	Enqueue(ctx context.Context, job *Job) error

	// GetJob returns the current record for the id, or ErrJobNotFound.
	GetJob(ctx context.Context, id string) (*Job, error)

	// Claim atomically selects the highest-priority eligible waiting job
	// (priority desc, then FIFO by creation), transitions it to active with a
	// fresh lease token and increments AttemptsMade. Returns nil when the
	// queue is paused or nothing is eligible.
	Claim(ctx context.Context, queue string, leaseTimeout time.Duration) (*Job, error)

	// Complete transitions an active job to completed and stores the result.
	// The lease token must match the active lease.
	Complete(ctx context.Context, id, leaseToken string, result []byte) error

	// Fail records a failed attempt. A non-zero retryAt transitions the job
	// to delayed until retryAt; a zero retryAt makes the failure terminal.
	// The lease token must match the active lease.
	Fail(ctx context.Context, id, leaseToken, reason string, retryAt time.Time) error

	// Retry transitions a failed job back to waiting, keeping AttemptsMade
	// and granting one additional attempt.
	Retry(ctx context.Context, id string) error

	// PromoteDelayed moves delayed jobs whose DelayUntil has passed into
	// waiting. Returns the number of jobs promoted.
	PromoteDelayed(ctx context.Context, queue string) (int, error)

	// ReclaimStalled marks active jobs with expired leases as stalled, and
	// requeues (or terminally fails, when out of attempts) jobs stalled on a
	// previous pass.
	ReclaimStalled(ctx context.Context, queue string) (*ReclaimResult, error)

	// Clean removes terminal jobs whose FinishedAt predates the cutoff and
	// returns their ids. Non-terminal jobs are never touched.
	Clean(ctx context.Context, queue string, state State, olderThan time.Duration) ([]string, error)

	// Trim removes the oldest terminal jobs beyond keep, by FinishedAt.
	// Returns the number removed.
	Trim(ctx context.Context, queue string, state State, keep int) (int, error)

	// Stats returns per-state counts and samples for the queue.
	Stats(ctx context.Context, queue string) (*Stats, error)

	// SetPaused toggles dispatch for the queue. Active jobs are unaffected.
	SetPaused(ctx context.Context, queue string, paused bool) error

	// Ping verifies the store is reachable.
	Ping(ctx context.Context) error

	// Close releases store resources.
	Close() error
}
