// Package queuexmem implements the queuex store port on process memory.
// It backs the test suite and local development; it shares no state across
// processes and loses everything on restart.
package queuexmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/partline/partline/pkg/queuex"
)

const sampleSize = 5

type queueMeta struct {
	paused      bool
	totalStalls int64
}

// Store is an in-memory queuex.Store. All operations are serialized by one
// mutex, which makes every transition trivially atomic per job.
type Store struct {
	mu      sync.Mutex
	jobs    map[string]*queuex.Job
	seqs    map[string]int64
	queues  map[string]*queueMeta
	nextSeq int64
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		jobs:   make(map[string]*queuex.Job),
		seqs:   make(map[string]int64),
		queues: make(map[string]*queueMeta),
	}
}

func (s *Store) meta(queue string) *queueMeta {
	m, ok := s.queues[queue]
	if !ok {
		m = &queueMeta{}
		s.queues[queue] = m
	}
	return m
}

// Enqueue stores a copy of the job.
func (s *Store) Enqueue(ctx context.Context, job *queuex.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	s.jobs[job.ID] = job.Clone()
	s.seqs[job.ID] = s.nextSeq
	s.meta(job.Queue)
	return nil
}

// GetJob returns a copy of the job record.
func (s *Store) GetJob(ctx context.Context, id string) (*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return nil, queuex.NotFoundError(id)
	}
	return job.Clone(), nil
}

// Claim picks the highest-priority waiting job (FIFO within a priority) and
// moves it to active under a fresh lease.
func (s *Store) Claim(ctx context.Context, queue string, leaseTimeout time.Duration) (*queuex.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.meta(queue).paused {
		return nil, nil
	}

	now := time.Now().UTC()
	var best *queuex.Job
	for _, job := range s.jobs {
		if job.Queue != queue || job.State != queuex.StateWaiting {
			continue
		}
		if !job.DelayUntil.IsZero() && job.DelayUntil.After(now) {
			continue
		}
		if best == nil || s.before(job, best) {
			best = job
		}
	}
	if best == nil {
		return nil, nil
	}

	best.State = queuex.StateActive
	best.AttemptsMade++
	best.LeaseToken = uuid.New().String()
	best.LeaseExpiresAt = now.Add(leaseTimeout)
	return best.Clone(), nil
}

// before reports whether a dispatches ahead of b: priority desc, then FIFO
// by enqueue order.
func (s *Store) before(a, b *queuex.Job) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	return s.seqs[a.ID] < s.seqs[b.ID]
}

// Complete transitions an active job to completed, lease permitting.
func (s *Store) Complete(ctx context.Context, id, leaseToken string, result []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(id, leaseToken)
	if err != nil {
		return err
	}

	job.State = queuex.StateCompleted
	job.Result = result
	job.FinishedAt = time.Now().UTC()
	job.LeaseToken = ""
	job.LeaseExpiresAt = time.Time{}
	return nil
}

// Fail records a failed attempt: delayed until retryAt when set, terminal
// failed otherwise.
func (s *Store) Fail(ctx context.Context, id, leaseToken, reason string, retryAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, err := s.activeJob(id, leaseToken)
	if err != nil {
		return err
	}

	job.FailureReason = reason
	job.LeaseToken = ""
	job.LeaseExpiresAt = time.Time{}

	if retryAt.IsZero() {
		job.State = queuex.StateFailed
		job.FinishedAt = time.Now().UTC()
		return nil
	}

	job.State = queuex.StateDelayed
	job.DelayUntil = retryAt
	return nil
}

func (s *Store) activeJob(id, leaseToken string) (*queuex.Job, error) {
	job, ok := s.jobs[id]
	if !ok {
		return nil, queuex.NotFoundError(id)
	}
	if job.State != queuex.StateActive {
		return nil, queuex.TransitionError(id, job.State)
	}
	if job.LeaseToken != leaseToken {
		return nil, queuex.LeaseError(id)
	}
	return job, nil
}

// Retry moves a failed job back to waiting with one extra attempt granted.
func (s *Store) Retry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	job, ok := s.jobs[id]
	if !ok {
		return queuex.NotFoundError(id)
	}
	if job.State != queuex.StateFailed {
		return queuex.TransitionError(id, job.State)
	}

	job.State = queuex.StateWaiting
	job.MaxAttempts = job.AttemptsMade + 1
	job.FinishedAt = time.Time{}
	job.DelayUntil = time.Time{}

	s.nextSeq++
	s.seqs[id] = s.nextSeq
	return nil
}

// PromoteDelayed moves due delayed jobs to waiting.
func (s *Store) PromoteDelayed(ctx context.Context, queue string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	promoted := 0
	for _, job := range s.jobs {
		if job.Queue != queue || job.State != queuex.StateDelayed {
			continue
		}
		if job.DelayUntil.After(now) {
			continue
		}
		job.State = queuex.StateWaiting
		promoted++
	}
	return promoted, nil
}

// ReclaimStalled runs the two-phase reclaim: expired actives become stalled,
// previously stalled jobs go back to waiting or fail terminally when out of
// attempts.
func (s *Store) ReclaimStalled(ctx context.Context, queue string) (*queuex.ReclaimResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	res := &queuex.ReclaimResult{}
	meta := s.meta(queue)

	for _, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		switch job.State {
		case queuex.StateStalled:
			if job.AttemptsMade >= job.MaxAttempts {
				job.State = queuex.StateFailed
				job.FailureReason = "stalled with no attempts left"
				job.FinishedAt = now
				res.Failed = append(res.Failed, job.ID)
			} else {
				job.State = queuex.StateWaiting
				res.Requeued = append(res.Requeued, job.ID)
			}
		case queuex.StateActive:
			if job.LeaseExpiresAt.IsZero() || job.LeaseExpiresAt.After(now) {
				continue
			}
			job.State = queuex.StateStalled
			job.Stalls++
			job.LeaseToken = ""
			job.LeaseExpiresAt = time.Time{}
			meta.totalStalls++
			res.Stalled = append(res.Stalled, job.ID)
		}
	}
	return res, nil
}

// Clean removes terminal jobs older than the cutoff.
func (s *Store) Clean(ctx context.Context, queue string, state queuex.State, olderThan time.Duration) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-olderThan)
	var removed []string
	for id, job := range s.jobs {
		if job.Queue != queue || job.State != state || !state.Terminal() {
			continue
		}
		if job.FinishedAt.Before(cutoff) {
			delete(s.jobs, id)
			delete(s.seqs, id)
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// Trim removes the oldest terminal jobs beyond keep.
func (s *Store) Trim(ctx context.Context, queue string, state queuex.State, keep int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var terminal []*queuex.Job
	for _, job := range s.jobs {
		if job.Queue == queue && job.State == state && state.Terminal() {
			terminal = append(terminal, job)
		}
	}
	if len(terminal) <= keep {
		return 0, nil
	}

	sort.Slice(terminal, func(i, j int) bool {
		return terminal[i].FinishedAt.Before(terminal[j].FinishedAt)
	})

	excess := terminal[:len(terminal)-keep]
	for _, job := range excess {
		delete(s.jobs, job.ID)
		delete(s.seqs, job.ID)
	}
	return len(excess), nil
}

// Stats counts jobs per state and samples a few ids per bucket.
func (s *Store) Stats(ctx context.Context, queue string) (*queuex.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	meta := s.meta(queue)
	stats := &queuex.Stats{
		Queue:       queue,
		Counts:      make(map[queuex.State]int),
		Samples:     make(map[queuex.State][]string),
		Paused:      meta.paused,
		TotalStalls: meta.totalStalls,
	}

	for id, job := range s.jobs {
		if job.Queue != queue {
			continue
		}
		stats.Counts[job.State]++
		if len(stats.Samples[job.State]) < sampleSize {
			stats.Samples[job.State] = append(stats.Samples[job.State], id)
		}
	}
	return stats, nil
}

// SetPaused toggles dispatch for the queue.
func (s *Store) SetPaused(ctx context.Context, queue string, paused bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta(queue).paused = paused
	return nil
}

// Ping always succeeds.
func (s *Store) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op.
func (s *Store) Close() error {
	return nil
}

var _ queuex.Store = (*Store)(nil)
