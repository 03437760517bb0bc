package queuex

import "github.com/partline/partline/pkg/errx"

var queuexErrors = errx.NewRegistry("QUEUEX")

var (
	// ErrValidation covers malformed enqueue arguments. The job is never created.
	ErrValidation = queuexErrors.Register("VALIDATION", errx.TypeValidation, 400, "Invalid job arguments")

	// ErrStoreFailure covers an unreachable or misbehaving backing store.
	ErrStoreFailure = queuexErrors.Register("STORE_FAILURE", errx.TypeExternal, 502, "Job store unavailable")

	// ErrJobNotFound is returned when no job exists for the given id.
	ErrJobNotFound = queuexErrors.Register("JOB_NOT_FOUND", errx.TypeNotFound, 404, "Job not found")

	// ErrQueueNotFound is returned when no queue is registered under the name.
	ErrQueueNotFound = queuexErrors.Register("QUEUE_NOT_FOUND", errx.TypeNotFound, 404, "Queue not found")

	// ErrQueueExists is returned when registering a duplicate queue name.
	ErrQueueExists = queuexErrors.Register("QUEUE_EXISTS", errx.TypeConflict, 409, "Queue already registered")

	// ErrNotRetryable is returned by Retry on a job that is not in the failed state.
	ErrNotRetryable = queuexErrors.Register("NOT_RETRYABLE", errx.TypeConflict, 409, "Only failed jobs can be retried")

	// ErrLeaseMismatch is returned when a worker reports a transition with a
	// stale lease token, typically after the job stalled and was reclaimed.
	ErrLeaseMismatch = queuexErrors.Register("LEASE_MISMATCH", errx.TypeConflict, 409, "Lease token does not match")

	// ErrInvalidTransition is returned when a store operation targets a job
	// whose state does not admit it.
	ErrInvalidTransition = queuexErrors.Register("INVALID_TRANSITION", errx.TypeConflict, 409, "Job state does not allow this transition")

	// ErrBadCleanState is returned when clean targets a non-terminal state.
	ErrBadCleanState = queuexErrors.Register("BAD_CLEAN_STATE", errx.TypeValidation, 400, "Clean only applies to completed or failed jobs")

	// ErrAlreadyRunning is returned when starting a component twice.
	ErrAlreadyRunning = queuexErrors.Register("ALREADY_RUNNING", errx.TypeConflict, 409, "Already running")

	// ErrShutdownTimeout is returned when draining did not finish within the
	// shutdown grace period. The process should exit non-zero.
	ErrShutdownTimeout = queuexErrors.Register("SHUTDOWN_TIMEOUT", errx.TypeTimeout, 504, "Graceful shutdown timed out")
)

// NotFoundError builds the shared job-not-found error. Store adapters use
// these constructors so every backend reports the same codes.
func NotFoundError(jobID string) *errx.Error {
	return queuexErrors.New(ErrJobNotFound).WithDetail("job_id", jobID)
}

// LeaseError builds the shared stale-lease error.
func LeaseError(jobID string) *errx.Error {
	return queuexErrors.New(ErrLeaseMismatch).WithDetail("job_id", jobID)
}

// TransitionError builds the shared invalid-transition error.
func TransitionError(jobID string, state State) *errx.Error {
	return queuexErrors.New(ErrInvalidTransition).
		WithDetail("job_id", jobID).
		WithDetail("state", string(state))
}

// StoreError wraps a backend failure in the shared store-failure code.
func StoreError(op string, cause error) *errx.Error {
	return queuexErrors.NewWithCause(ErrStoreFailure, cause).WithDetail("op", op)
}
