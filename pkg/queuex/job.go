package queuex

import (
	"encoding/json"
	"time"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is eligible for dispatch.
	StateWaiting State = "waiting"
	// StateDelayed means the job becomes eligible at DelayUntil.
	StateDelayed State = "delayed"
	// StateActive means a worker holds the lease and is executing the job.
	StateActive State = "active"
	// StateCompleted means the handler succeeded. Terminal.
	StateCompleted State = "completed"
	// StateFailed means retries are exhausted or the job was force-failed. Terminal.
	StateFailed State = "failed"
	// StateStalled means the lease expired without a completion or failure
	// report. Stalled jobs are requeued on the next reclaim pass.
	StateStalled State = "stalled"
)

// Terminal reports whether the state admits no further transitions other
// than removal by cleanup.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed, StateStalled:
		return true
	}
	return false
}

// BackoffType selects the delay curve applied between retries.
type BackoffType string

const (
	// BackoffFixed waits a constant Base between attempts.
	BackoffFixed BackoffType = "fixed"
	// BackoffExponential doubles the delay per failed attempt, capped at Cap.
	BackoffExponential BackoffType = "exponential"
)

// Backoff describes the retry delay curve of a job.
type Backoff struct {
	Type BackoffType   `json:"type"`
	Base time.Duration `json:"base"`
	Cap  time.Duration `json:"cap"`
}

// DefaultBackoff is the backoff applied when the producer specifies none.
func DefaultBackoff() Backoff {
	return Backoff{
		Type: BackoffExponential,
		Base: time.Second,
		Cap:  time.Minute,
	}
}

// Job is a unit of deferred work. The store is the source of truth for every
// field; workers operate on snapshots and report transitions back through
// lease-guarded store operations.
type Job struct {
	ID      string          `json:"id"`
	Queue   string          `json:"queue"`
	Payload json.RawMessage `json:"payload"`

	// Priority orders dispatch within a queue, higher first. Jobs of equal
	// priority dispatch FIFO by CreatedAt.
	Priority int `json:"priority"`

	State State `json:"state"`

	// DelayUntil is the earliest instant the job may be claimed. Zero means
	// immediately eligible.
	DelayUntil time.Time `json:"delay_until,omitzero"`

	// AttemptsMade counts claims, including the one a worker currently holds.
	AttemptsMade int     `json:"attempts_made"`
	MaxAttempts  int     `json:"max_attempts"`
	Backoff      Backoff `json:"backoff"`

	// Stalls counts lease expirations observed for this job.
	Stalls int `json:"stalls"`

	CreatedAt time.Time `json:"created_at"`

	// LeaseToken identifies the worker's exclusive claim while active. Only
	// the holder may transition the job out of active.
	LeaseToken     string    `json:"lease_token,omitempty"`
	LeaseExpiresAt time.Time `json:"lease_expires_at,omitzero"`

	FinishedAt    time.Time       `json:"finished_at,omitzero"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// JobStatus is the externally visible snapshot of a job, served to admin
// tooling and the ops endpoint.
type JobStatus struct {
	ID            string          `json:"id"`
	Queue         string          `json:"queue"`
	State         State           `json:"state"`
	Priority      int             `json:"priority"`
	AttemptsMade  int             `json:"attempts_made"`
	MaxAttempts   int             `json:"max_attempts"`
	Stalls        int             `json:"stalls"`
	CreatedAt     time.Time       `json:"created_at"`
	DelayUntil    time.Time       `json:"delay_until,omitzero"`
	FinishedAt    time.Time       `json:"finished_at,omitzero"`
	Result        json.RawMessage `json:"result,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
}

// Status returns the externally visible snapshot of the job.
func (j *Job) Status() JobStatus {
	return JobStatus{
		ID:            j.ID,
		Queue:         j.Queue,
		State:         j.State,
		Priority:      j.Priority,
		AttemptsMade:  j.AttemptsMade,
		MaxAttempts:   j.MaxAttempts,
		Stalls:        j.Stalls,
		CreatedAt:     j.CreatedAt,
		DelayUntil:    j.DelayUntil,
		FinishedAt:    j.FinishedAt,
		Result:        j.Result,
		FailureReason: j.FailureReason,
	}
}

// Clone returns a copy of the job. Payload and Result share backing arrays;
// both are treated as immutable once written.
func (j *Job) Clone() *Job {
	c := *j
	return &c
}
