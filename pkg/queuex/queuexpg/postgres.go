// Package queuexpg implements the queuex store port on PostgreSQL. Claims go
// through FOR UPDATE SKIP LOCKED so concurrent workers never pick the same
// row, and every transition is a single guarded UPDATE, which keeps the
// lease invariants inside the database.
package queuexpg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/partline/partline/pkg/queuex"
)

const sampleSize = 5

// Store is a PostgreSQL-backed queuex.Store.
type Store struct {
	db *sqlx.DB
}

// NewStore wraps an existing connection pool. The store takes ownership and
// closes the pool on Close.
func NewStore(db *sqlx.DB) *Store {
	return &Store{db: db}
}

type jobRow struct {
	ID             string         `db:"id"`
	Queue          string         `db:"queue"`
	Payload        []byte         `db:"payload"`
	Priority       int            `db:"priority"`
	State          string         `db:"state"`
	DelayUntil     sql.NullTime   `db:"delay_until"`
	AttemptsMade   int            `db:"attempts_made"`
	MaxAttempts    int            `db:"max_attempts"`
	BackoffType    string         `db:"backoff_type"`
	BackoffBaseMs  int64          `db:"backoff_base_ms"`
	BackoffCapMs   int64          `db:"backoff_cap_ms"`
	Stalls         int            `db:"stalls"`
	Seq            int64          `db:"seq"`
	CreatedAt      time.Time      `db:"created_at"`
	LeaseToken     sql.NullString `db:"lease_token"`
	LeaseExpiresAt sql.NullTime   `db:"lease_expires_at"`
	FinishedAt     sql.NullTime   `db:"finished_at"`
	Result         []byte         `db:"result"`
	FailureReason  sql.NullString `db:"failure_reason"`
}

func toDomain(r jobRow) *queuex.Job {
	job := &queuex.Job{
		ID:           r.ID,
		Queue:        r.Queue,
		Payload:      json.RawMessage(r.Payload),
		Priority:     r.Priority,
		State:        queuex.State(r.State),
		AttemptsMade: r.AttemptsMade,
		MaxAttempts:  r.MaxAttempts,
		Backoff: queuex.Backoff{
			Type: queuex.BackoffType(r.BackoffType),
			Base: time.Duration(r.BackoffBaseMs) * time.Millisecond,
			Cap:  time.Duration(r.BackoffCapMs) * time.Millisecond,
		},
		Stalls:        r.Stalls,
		CreatedAt:     r.CreatedAt,
		Result:        json.RawMessage(r.Result),
		LeaseToken:    r.LeaseToken.String,
		FailureReason: r.FailureReason.String,
	}
	if r.DelayUntil.Valid {
		job.DelayUntil = r.DelayUntil.Time
	}
	if r.LeaseExpiresAt.Valid {
		job.LeaseExpiresAt = r.LeaseExpiresAt.Time
	}
	if r.FinishedAt.Valid {
		job.FinishedAt = r.FinishedAt.Time
	}
	return job
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

// Enqueue inserts the job row and makes sure the queue row exists.
func (s *Store) Enqueue(ctx context.Context, job *queuex.Job) error {
	const insert = `
		INSERT INTO queuex_jobs (
			id, queue, payload, priority, state, delay_until,
			attempts_made, max_attempts, backoff_type, backoff_base_ms,
			backoff_cap_ms, stalls, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13
		)`

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return queuex.StoreError("enqueue", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO queuex_queues (name) VALUES ($1) ON CONFLICT (name) DO NOTHING`,
		job.Queue,
	)
	if err != nil {
		return queuex.StoreError("enqueue", err)
	}

	_, err = tx.ExecContext(ctx, insert,
		job.ID, job.Queue, []byte(job.Payload), job.Priority, string(job.State),
		nullTime(job.DelayUntil), job.AttemptsMade, job.MaxAttempts,
		string(job.Backoff.Type), job.Backoff.Base.Milliseconds(),
		job.Backoff.Cap.Milliseconds(), job.Stalls, job.CreatedAt,
	)
	if err != nil {
		return queuex.StoreError("enqueue", err)
	}

	if err := tx.Commit(); err != nil {
		return queuex.StoreError("enqueue", err)
	}
	return nil
}

// GetJob loads one job row.
func (s *Store) GetJob(ctx context.Context, id string) (*queuex.Job, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM queuex_jobs WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, queuex.NotFoundError(id)
	}
	if err != nil {
		return nil, queuex.StoreError("get_job", err)
	}
	return toDomain(row), nil
}

// Claim locks the best eligible waiting row and transitions it to active.
// SKIP LOCKED keeps concurrent claimers from blocking on each other. The
// paused flag is checked inside the claim statement itself so a claim racing
// a pause can never slip past it.
func (s *Store) Claim(ctx context.Context, queue string, leaseTimeout time.Duration) (*queuex.Job, error) {
	const claim = `
		UPDATE queuex_jobs SET
			state = 'active',
			attempts_made = attempts_made + 1,
			lease_token = $3,
			lease_expires_at = $4
		WHERE id = (
			SELECT j.id FROM queuex_jobs j
			WHERE j.queue = $1 AND j.state = 'waiting'
			  AND (j.delay_until IS NULL OR j.delay_until <= $2)
			  AND NOT EXISTS (
				SELECT 1 FROM queuex_queues q
				WHERE q.name = $1 AND q.paused
			  )
			ORDER BY j.priority DESC, j.seq ASC
			LIMIT 1
			FOR UPDATE OF j SKIP LOCKED
		)
		RETURNING *`

	now := time.Now().UTC()
	token := uuid.New().String()

	var row jobRow
	err := s.db.GetContext(ctx, &row, claim, queue, now, token, now.Add(leaseTimeout))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, queuex.StoreError("claim", err)
	}
	return toDomain(row), nil
}

// Complete transitions an active job to completed, lease permitting.
func (s *Store) Complete(ctx context.Context, id, leaseToken string, result []byte) error {
	const complete = `
		UPDATE queuex_jobs SET
			state = 'completed',
			result = $3,
			finished_at = $4,
			lease_token = NULL,
			lease_expires_at = NULL
		WHERE id = $1 AND state = 'active' AND lease_token = $2`

	res, err := s.db.ExecContext(ctx, complete, id, leaseToken, result, time.Now().UTC())
	if err != nil {
		return queuex.StoreError("complete", err)
	}
	return s.requireUpdated(ctx, res, id)
}

// Fail records a failed attempt: delayed until retryAt when set, terminal
// failed otherwise.
func (s *Store) Fail(ctx context.Context, id, leaseToken, reason string, retryAt time.Time) error {
	var res sql.Result
	var err error
	now := time.Now().UTC()

	if retryAt.IsZero() {
		const fail = `
			UPDATE queuex_jobs SET
				state = 'failed',
				failure_reason = $3,
				finished_at = $4,
				lease_token = NULL,
				lease_expires_at = NULL
			WHERE id = $1 AND state = 'active' AND lease_token = $2`
		res, err = s.db.ExecContext(ctx, fail, id, leaseToken, reason, now)
	} else {
		const retry = `
			UPDATE queuex_jobs SET
				state = 'delayed',
				failure_reason = $3,
				delay_until = $4,
				lease_token = NULL,
				lease_expires_at = NULL
			WHERE id = $1 AND state = 'active' AND lease_token = $2`
		res, err = s.db.ExecContext(ctx, retry, id, leaseToken, reason, retryAt)
	}
	if err != nil {
		return queuex.StoreError("fail", err)
	}
	return s.requireUpdated(ctx, res, id)
}

// requireUpdated maps a zero-row guarded UPDATE to the shared store errors.
func (s *Store) requireUpdated(ctx context.Context, res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return queuex.StoreError("rows_affected", err)
	}
	if n > 0 {
		return nil
	}

	job, err := s.GetJob(ctx, id)
	if err != nil {
		return err
	}
	if job.State == queuex.StateActive {
		return queuex.LeaseError(id)
	}
	return queuex.TransitionError(id, job.State)
}

// Retry moves a failed job back to waiting with one extra attempt granted.
// A fresh seq puts it at the back of its priority band.
func (s *Store) Retry(ctx context.Context, id string) error {
	const retry = `
		UPDATE queuex_jobs SET
			state = 'waiting',
			max_attempts = attempts_made + 1,
			finished_at = NULL,
			delay_until = NULL,
			seq = nextval(pg_get_serial_sequence('queuex_jobs', 'seq'))
		WHERE id = $1 AND state = 'failed'`

	res, err := s.db.ExecContext(ctx, retry, id)
	if err != nil {
		return queuex.StoreError("retry", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return queuex.StoreError("retry", err)
	}
	if n == 0 {
		job, err := s.GetJob(ctx, id)
		if err != nil {
			return err
		}
		return queuex.TransitionError(id, job.State)
	}
	return nil
}

// PromoteDelayed moves due delayed jobs to waiting.
func (s *Store) PromoteDelayed(ctx context.Context, queue string) (int, error) {
	const promote = `
		UPDATE queuex_jobs SET state = 'waiting'
		WHERE queue = $1 AND state = 'delayed' AND delay_until <= $2`

	res, err := s.db.ExecContext(ctx, promote, queue, time.Now().UTC())
	if err != nil {
		return 0, queuex.StoreError("promote_delayed", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queuex.StoreError("promote_delayed", err)
	}
	return int(n), nil
}

// ReclaimStalled requeues or terminally fails previously stalled jobs, then
// stalls actives with expired leases. One transaction keeps the two phases
// consistent with the stall counter.
func (s *Store) ReclaimStalled(ctx context.Context, queue string) (*queuex.ReclaimResult, error) {
	now := time.Now().UTC()
	res := &queuex.ReclaimResult{}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, queuex.StoreError("reclaim_stalled", err)
	}
	defer tx.Rollback()

	const requeue = `
		UPDATE queuex_jobs SET state = 'waiting'
		WHERE queue = $1 AND state = 'stalled' AND attempts_made < max_attempts
		RETURNING id`
	if err := tx.SelectContext(ctx, &res.Requeued, requeue, queue); err != nil {
		return nil, queuex.StoreError("reclaim_stalled", err)
	}

	const failOut = `
		UPDATE queuex_jobs SET
			state = 'failed',
			failure_reason = 'stalled with no attempts left',
			finished_at = $2
		WHERE queue = $1 AND state = 'stalled' AND attempts_made >= max_attempts
		RETURNING id`
	if err := tx.SelectContext(ctx, &res.Failed, failOut, queue, now); err != nil {
		return nil, queuex.StoreError("reclaim_stalled", err)
	}

	const stall = `
		UPDATE queuex_jobs SET
			state = 'stalled',
			stalls = stalls + 1,
			lease_token = NULL,
			lease_expires_at = NULL
		WHERE queue = $1 AND state = 'active' AND lease_expires_at <= $2
		RETURNING id`
	if err := tx.SelectContext(ctx, &res.Stalled, stall, queue, now); err != nil {
		return nil, queuex.StoreError("reclaim_stalled", err)
	}

	if len(res.Stalled) > 0 {
		_, err = tx.ExecContext(ctx,
			`UPDATE queuex_queues SET total_stalls = total_stalls + $2 WHERE name = $1`,
			queue, len(res.Stalled),
		)
		if err != nil {
			return nil, queuex.StoreError("reclaim_stalled", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, queuex.StoreError("reclaim_stalled", err)
	}
	return res, nil
}

// Clean removes terminal jobs whose FinishedAt predates the cutoff.
func (s *Store) Clean(ctx context.Context, queue string, state queuex.State, olderThan time.Duration) ([]string, error) {
	if !state.Terminal() {
		return nil, nil
	}

	const clean = `
		DELETE FROM queuex_jobs
		WHERE queue = $1 AND state = $2 AND finished_at < $3
		RETURNING id`

	cutoff := time.Now().UTC().Add(-olderThan)
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, clean, queue, string(state), cutoff); err != nil {
		return nil, queuex.StoreError("clean", err)
	}
	return ids, nil
}

// Trim removes the oldest terminal jobs beyond keep, by FinishedAt.
func (s *Store) Trim(ctx context.Context, queue string, state queuex.State, keep int) (int, error) {
	if !state.Terminal() {
		return 0, nil
	}

	const trim = `
		DELETE FROM queuex_jobs
		WHERE id IN (
			SELECT id FROM queuex_jobs
			WHERE queue = $1 AND state = $2
			ORDER BY finished_at DESC
			OFFSET $3
		)`

	res, err := s.db.ExecContext(ctx, trim, queue, string(state), keep)
	if err != nil {
		return 0, queuex.StoreError("trim", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, queuex.StoreError("trim", err)
	}
	return int(n), nil
}

// Stats counts jobs per state and samples a few ids per bucket.
func (s *Store) Stats(ctx context.Context, queue string) (*queuex.Stats, error) {
	stats := &queuex.Stats{
		Queue:   queue,
		Counts:  make(map[queuex.State]int),
		Samples: make(map[queuex.State][]string),
	}

	var buckets []struct {
		State string `db:"state"`
		Count int    `db:"count"`
	}
	err := s.db.SelectContext(ctx, &buckets,
		`SELECT state, COUNT(*) AS count FROM queuex_jobs WHERE queue = $1 GROUP BY state`,
		queue,
	)
	if err != nil {
		return nil, queuex.StoreError("stats", err)
	}

	for _, b := range buckets {
		state := queuex.State(b.State)
		stats.Counts[state] = b.Count

		var ids []string
		err := s.db.SelectContext(ctx, &ids,
			`SELECT id FROM queuex_jobs WHERE queue = $1 AND state = $2 ORDER BY seq ASC LIMIT $3`,
			queue, b.State, sampleSize,
		)
		if err != nil {
			return nil, queuex.StoreError("stats", err)
		}
		stats.Samples[state] = ids
	}

	var meta struct {
		Paused      bool  `db:"paused"`
		TotalStalls int64 `db:"total_stalls"`
	}
	err = s.db.GetContext(ctx, &meta,
		`SELECT paused, total_stalls FROM queuex_queues WHERE name = $1`, queue)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, queuex.StoreError("stats", err)
	}
	stats.Paused = meta.Paused
	stats.TotalStalls = meta.TotalStalls
	return stats, nil
}

// SetPaused toggles dispatch for the queue.
func (s *Store) SetPaused(ctx context.Context, queue string, paused bool) error {
	const upsert = `
		INSERT INTO queuex_queues (name, paused) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET paused = EXCLUDED.paused`

	if _, err := s.db.ExecContext(ctx, upsert, queue, paused); err != nil {
		return queuex.StoreError("set_paused", err)
	}
	return nil
}

// Ping verifies the database connection.
func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return queuex.StoreError("ping", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ queuex.Store = (*Store)(nil)
