// Package queuexredis implements the queuex store port on Redis. Job bodies
// live as JSON strings; per-queue sorted sets order the waiting, delayed,
// active, stalled and terminal buckets, and Lua scripts make every set move
// atomic so concurrent workers and the janitor never race over a job id.
package queuexredis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/partline/partline/pkg/queuex"
)

const (
	keyPrefix   = "queuex:"
	leasePrefix = keyPrefix + "lease:"
	sampleSize  = 5
)

func jobKey(id string) string {
	return keyPrefix + "job:" + id
}

func queueKey(kind, queue string) string {
	return keyPrefix + kind + ":" + queue
}

func stateKey(queue string, state queuex.State) string {
	return queueKey(string(state), queue)
}

// waitingScore orders the waiting set: priority descending, then FIFO by
// sequence. A priority step of 1e9 dwarfs any realistic sequence range.
func waitingScore(seq int64, priority int) float64 {
	return float64(seq) - float64(priority)*1e9
}

func unixMilli(t time.Time) int64 {
	return t.UnixMilli()
}

// Store is a Redis-backed queuex.Store targeting a single Redis instance.
type Store struct {
	rdb *redis.Client
}

// NewStore wraps an existing client. The store takes ownership and closes
// the client on Close.
func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Enqueue persists the job body and places its id in the waiting or delayed
// set.
func (s *Store) Enqueue(ctx context.Context, job *queuex.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return queuex.StoreError("enqueue", err)
	}

	var score float64
	var set string
	if job.State == queuex.StateDelayed {
		set = stateKey(job.Queue, queuex.StateDelayed)
		score = float64(unixMilli(job.DelayUntil))
	} else {
		seq, err := s.rdb.Incr(ctx, queueKey("seq", job.Queue)).Result()
		if err != nil {
			return queuex.StoreError("enqueue", err)
		}
		set = stateKey(job.Queue, queuex.StateWaiting)
		score = waitingScore(seq, job.Priority)
	}

	_, err = s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, jobKey(job.ID), body, 0)
		pipe.HSet(ctx, queueKey("prio", job.Queue), job.ID, job.Priority)
		pipe.ZAdd(ctx, set, redis.Z{Score: score, Member: job.ID})
		return nil
	})
	if err != nil {
		return queuex.StoreError("enqueue", err)
	}
	return nil
}

// GetJob loads the job body.
func (s *Store) GetJob(ctx context.Context, id string) (*queuex.Job, error) {
	return s.loadJob(ctx, id)
}

func (s *Store) loadJob(ctx context.Context, id string) (*queuex.Job, error) {
	body, err := s.rdb.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, queuex.NotFoundError(id)
	}
	if err != nil {
		return nil, queuex.StoreError("get_job", err)
	}

	var job queuex.Job
	if err := json.Unmarshal(body, &job); err != nil {
		return nil, queuex.StoreError("get_job", err)
	}
	return &job, nil
}

func (s *Store) saveJob(ctx context.Context, job *queuex.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return queuex.StoreError("save_job", err)
	}
	if err := s.rdb.Set(ctx, jobKey(job.ID), body, 0).Err(); err != nil {
		return queuex.StoreError("save_job", err)
	}
	return nil
}

// saveJobIf writes the body only while the job still sits in setKey. The
// janitor rewrites bodies after a set move; a concurrent claimer may have
// moved the job on already and owns the body then.
func (s *Store) saveJobIf(ctx context.Context, setKey string, job *queuex.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return queuex.StoreError("save_job", err)
	}
	if err := saveIfMemberScript.Run(ctx, s.rdb,
		[]string{setKey, jobKey(job.ID)}, job.ID, body,
	).Err(); err != nil {
		return queuex.StoreError("save_job", err)
	}
	return nil
}

// Claim pops the best waiting id, grants a lease and rewrites the body as
// active.
func (s *Store) Claim(ctx context.Context, queue string, leaseTimeout time.Duration) (*queuex.Job, error) {
	now := time.Now().UTC()
	expires := now.Add(leaseTimeout)
	token := uuid.New().String()

	keys := []string{
		queueKey("paused", queue),
		stateKey(queue, queuex.StateWaiting),
		stateKey(queue, queuex.StateActive),
	}
	id, err := claimScript.Run(ctx, s.rdb, keys,
		unixMilli(expires), token, leaseTimeout.Milliseconds(), leasePrefix,
	).Text()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, queuex.StoreError("claim", err)
	}

	job, err := s.loadJob(ctx, id)
	if err != nil {
		return nil, err
	}
	job.State = queuex.StateActive
	job.AttemptsMade++
	job.LeaseToken = token
	job.LeaseExpiresAt = expires
	if err := s.saveJob(ctx, job); err != nil {
		return nil, err
	}
	return job, nil
}

// Complete moves an active job to completed, lease permitting.
func (s *Store) Complete(ctx context.Context, id, leaseToken string, result []byte) error {
	now := time.Now().UTC()

	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}

	n, err := completeScript.Run(ctx, s.rdb,
		[]string{
			stateKey(job.Queue, queuex.StateActive),
			stateKey(job.Queue, queuex.StateCompleted),
		},
		id, leaseToken, unixMilli(now), leasePrefix,
	).Int()
	if err != nil {
		return queuex.StoreError("complete", err)
	}
	if n != 1 {
		return s.transitionErr(ctx, id, n)
	}

	job.State = queuex.StateCompleted
	job.Result = result
	job.FinishedAt = now
	job.LeaseToken = ""
	job.LeaseExpiresAt = time.Time{}
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	return s.rdb.HDel(ctx, queueKey("prio", job.Queue), id).Err()
}

// Fail records a failed attempt: into delayed when retryAt is set, terminal
// failed otherwise.
func (s *Store) Fail(ctx context.Context, id, leaseToken, reason string, retryAt time.Time) error {
	now := time.Now().UTC()

	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}

	retryMs := int64(0)
	if !retryAt.IsZero() {
		retryMs = unixMilli(retryAt)
	}

	n, err := failScript.Run(ctx, s.rdb,
		[]string{
			stateKey(job.Queue, queuex.StateActive),
			stateKey(job.Queue, queuex.StateDelayed),
			stateKey(job.Queue, queuex.StateFailed),
		},
		id, leaseToken, retryMs, unixMilli(now), leasePrefix,
	).Int()
	if err != nil {
		return queuex.StoreError("fail", err)
	}
	if n != 1 {
		return s.transitionErr(ctx, id, n)
	}

	job.FailureReason = reason
	job.LeaseToken = ""
	job.LeaseExpiresAt = time.Time{}
	if retryAt.IsZero() {
		job.State = queuex.StateFailed
		job.FinishedAt = now
	} else {
		job.State = queuex.StateDelayed
		job.DelayUntil = retryAt
	}
	if err := s.saveJob(ctx, job); err != nil {
		return err
	}
	if retryAt.IsZero() {
		return s.rdb.HDel(ctx, queueKey("prio", job.Queue), id).Err()
	}
	return nil
}

// transitionErr maps a script result code to the shared store errors, using
// the current body to tell a lease mismatch from a bad state.
func (s *Store) transitionErr(ctx context.Context, id string, code int) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if code == -1 && job.State == queuex.StateActive {
		return queuex.LeaseError(id)
	}
	return queuex.TransitionError(id, job.State)
}

// Retry moves a failed job back to waiting with one extra attempt granted.
func (s *Store) Retry(ctx context.Context, id string) error {
	job, err := s.loadJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State != queuex.StateFailed {
		return queuex.TransitionError(id, job.State)
	}

	seq, err := s.rdb.Incr(ctx, queueKey("seq", job.Queue)).Result()
	if err != nil {
		return queuex.StoreError("retry", err)
	}

	moved, err := moveScript.Run(ctx, s.rdb,
		[]string{
			stateKey(job.Queue, queuex.StateFailed),
			stateKey(job.Queue, queuex.StateWaiting),
		},
		id, fmt.Sprintf("%f", waitingScore(seq, job.Priority)),
	).Int()
	if err != nil {
		return queuex.StoreError("retry", err)
	}
	if moved != 1 {
		return queuex.TransitionError(id, job.State)
	}

	job.State = queuex.StateWaiting
	job.MaxAttempts = job.AttemptsMade + 1
	job.FinishedAt = time.Time{}
	job.DelayUntil = time.Time{}
	if err := s.saveJobIf(ctx, stateKey(job.Queue, queuex.StateWaiting), job); err != nil {
		return err
	}
	return s.rdb.HSet(ctx, queueKey("prio", job.Queue), id, job.Priority).Err()
}

// PromoteDelayed moves due delayed jobs into the waiting set.
func (s *Store) PromoteDelayed(ctx context.Context, queue string) (int, error) {
	now := time.Now().UTC()
	ids, err := promoteScript.Run(ctx, s.rdb,
		[]string{
			stateKey(queue, queuex.StateDelayed),
			stateKey(queue, queuex.StateWaiting),
			queueKey("seq", queue),
			queueKey("prio", queue),
		},
		unixMilli(now),
	).StringSlice()
	if err != nil {
		return 0, queuex.StoreError("promote_delayed", err)
	}

	waitingKey := stateKey(queue, queuex.StateWaiting)
	for _, id := range ids {
		job, err := s.loadJob(ctx, id)
		if err != nil {
			continue
		}
		job.State = queuex.StateWaiting
		if err := s.saveJobIf(ctx, waitingKey, job); err != nil {
			return len(ids), err
		}
	}
	return len(ids), nil
}

// ReclaimStalled requeues or terminally fails jobs stalled on a previous
// pass, then marks actives with expired leases as stalled.
func (s *Store) ReclaimStalled(ctx context.Context, queue string) (*queuex.ReclaimResult, error) {
	now := time.Now().UTC()
	res := &queuex.ReclaimResult{}
	stalledKey := stateKey(queue, queuex.StateStalled)

	prev, err := s.rdb.ZRange(ctx, stalledKey, 0, -1).Result()
	if err != nil {
		return nil, queuex.StoreError("reclaim_stalled", err)
	}

	for _, id := range prev {
		job, err := s.loadJob(ctx, id)
		if err != nil {
			continue
		}
		if job.AttemptsMade >= job.MaxAttempts {
			moved, err := moveScript.Run(ctx, s.rdb,
				[]string{stalledKey, stateKey(queue, queuex.StateFailed)},
				id, unixMilli(now),
			).Int()
			if err != nil || moved != 1 {
				continue
			}
			job.State = queuex.StateFailed
			job.FailureReason = "stalled with no attempts left"
			job.FinishedAt = now
			if err := s.saveJobIf(ctx, stateKey(queue, queuex.StateFailed), job); err != nil {
				return res, err
			}
			s.rdb.HDel(ctx, queueKey("prio", queue), id)
			res.Failed = append(res.Failed, id)
			continue
		}

		seq, err := s.rdb.Incr(ctx, queueKey("seq", queue)).Result()
		if err != nil {
			return res, queuex.StoreError("reclaim_stalled", err)
		}
		moved, err := moveScript.Run(ctx, s.rdb,
			[]string{stalledKey, stateKey(queue, queuex.StateWaiting)},
			id, fmt.Sprintf("%f", waitingScore(seq, job.Priority)),
		).Int()
		if err != nil || moved != 1 {
			continue
		}
		job.State = queuex.StateWaiting
		if err := s.saveJobIf(ctx, stateKey(queue, queuex.StateWaiting), job); err != nil {
			return res, err
		}
		res.Requeued = append(res.Requeued, id)
	}

	expired, err := expireLeasesScript.Run(ctx, s.rdb,
		[]string{
			stateKey(queue, queuex.StateActive),
			stalledKey,
			queueKey("stalls", queue),
		},
		unixMilli(now), leasePrefix,
	).StringSlice()
	if err != nil {
		return res, queuex.StoreError("reclaim_stalled", err)
	}

	for _, id := range expired {
		job, err := s.loadJob(ctx, id)
		if err != nil {
			continue
		}
		job.State = queuex.StateStalled
		job.Stalls++
		job.LeaseToken = ""
		job.LeaseExpiresAt = time.Time{}
		if err := s.saveJobIf(ctx, stalledKey, job); err != nil {
			return res, err
		}
		res.Stalled = append(res.Stalled, id)
	}
	return res, nil
}

// Clean removes terminal jobs whose FinishedAt predates the cutoff.
func (s *Store) Clean(ctx context.Context, queue string, state queuex.State, olderThan time.Duration) ([]string, error) {
	if !state.Terminal() {
		return nil, nil
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	key := stateKey(queue, state)
	ids, err := s.rdb.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("%d", unixMilli(cutoff)),
	}).Result()
	if err != nil {
		return nil, queuex.StoreError("clean", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}
	if err := s.removeJobs(ctx, queue, key, ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Trim removes the oldest terminal jobs beyond keep.
func (s *Store) Trim(ctx context.Context, queue string, state queuex.State, keep int) (int, error) {
	if !state.Terminal() {
		return 0, nil
	}

	key := stateKey(queue, state)
	count, err := s.rdb.ZCard(ctx, key).Result()
	if err != nil {
		return 0, queuex.StoreError("trim", err)
	}
	excess := count - int64(keep)
	if excess <= 0 {
		return 0, nil
	}

	ids, err := s.rdb.ZRange(ctx, key, 0, excess-1).Result()
	if err != nil {
		return 0, queuex.StoreError("trim", err)
	}
	if err := s.removeJobs(ctx, queue, key, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

func (s *Store) removeJobs(ctx context.Context, queue, setKey string, ids []string) error {
	members := make([]interface{}, len(ids))
	jobKeys := make([]string, len(ids))
	for i, id := range ids {
		members[i] = id
		jobKeys[i] = jobKey(id)
	}

	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, setKey, members...)
		pipe.Del(ctx, jobKeys...)
		pipe.HDel(ctx, queueKey("prio", queue), ids...)
		return nil
	})
	if err != nil {
		return queuex.StoreError("remove_jobs", err)
	}
	return nil
}

// Stats counts jobs per state and samples a few ids per bucket.
func (s *Store) Stats(ctx context.Context, queue string) (*queuex.Stats, error) {
	states := []queuex.State{
		queuex.StateWaiting, queuex.StateDelayed, queuex.StateActive,
		queuex.StateStalled, queuex.StateCompleted, queuex.StateFailed,
	}

	cards := make(map[queuex.State]*redis.IntCmd, len(states))
	samples := make(map[queuex.State]*redis.StringSliceCmd, len(states))
	var pausedCmd *redis.IntCmd
	var stallsCmd *redis.StringCmd

	_, err := s.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, st := range states {
			key := stateKey(queue, st)
			cards[st] = pipe.ZCard(ctx, key)
			samples[st] = pipe.ZRange(ctx, key, 0, sampleSize-1)
		}
		pausedCmd = pipe.Exists(ctx, queueKey("paused", queue))
		stallsCmd = pipe.Get(ctx, queueKey("stalls", queue))
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, queuex.StoreError("stats", err)
	}

	stats := &queuex.Stats{
		Queue:   queue,
		Counts:  make(map[queuex.State]int),
		Samples: make(map[queuex.State][]string),
		Paused:  pausedCmd.Val() == 1,
	}
	for _, st := range states {
		n := int(cards[st].Val())
		if n == 0 {
			continue
		}
		stats.Counts[st] = n
		stats.Samples[st] = samples[st].Val()
	}
	if stalls, err := stallsCmd.Int64(); err == nil {
		stats.TotalStalls = stalls
	}
	return stats, nil
}

// SetPaused toggles dispatch for the queue.
func (s *Store) SetPaused(ctx context.Context, queue string, paused bool) error {
	var err error
	if paused {
		err = s.rdb.Set(ctx, queueKey("paused", queue), "1", 0).Err()
	} else {
		err = s.rdb.Del(ctx, queueKey("paused", queue)).Err()
	}
	if err != nil {
		return queuex.StoreError("set_paused", err)
	}
	return nil
}

// Ping verifies the Redis connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		return queuex.StoreError("ping", err)
	}
	return nil
}

// Close closes the underlying client.
func (s *Store) Close() error {
	return s.rdb.Close()
}

var _ queuex.Store = (*Store)(nil)
