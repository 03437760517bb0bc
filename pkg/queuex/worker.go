package queuex

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/partline/partline/pkg/logx"
)

// Handler processes one job. The returned bytes are stored as the job
// result on success; any error (or panic, or timeout) drives the retry
// policy. Handlers must tolerate at-least-once delivery: a stalled job is
// re-executed, so handlers are expected to be idempotent.
type Handler func(ctx context.Context, job *Job) ([]byte, error)

// PoolOptions configures a worker pool.
type PoolOptions struct {
	// Concurrency is the number of independent pull-execute slots.
	Concurrency int

	// LeaseTimeout is how long a claim stays exclusive without a report.
	// It must exceed JobTimeout or jobs stall while their handler still runs.
	LeaseTimeout time.Duration

	// JobTimeout bounds one handler invocation. Cancellation of the handler
	// is best-effort: the context is cancelled but the goroutine may keep
	// running in the background.
	JobTimeout time.Duration

	// PollInterval is the idle sleep between claim attempts, and the cadence
	// of delayed-job promotion.
	PollInterval time.Duration

	// ReclaimInterval is the cadence of expired-lease reclaim passes.
	ReclaimInterval time.Duration

	// Events receives lifecycle events. Optional.
	Events chan<- Event
}

func (o PoolOptions) withDefaults() PoolOptions {
	if o.Concurrency <= 0 {
		o.Concurrency = 4
	}
	if o.JobTimeout <= 0 {
		o.JobTimeout = 2 * time.Minute
	}
	if o.LeaseTimeout <= o.JobTimeout {
		o.LeaseTimeout = o.JobTimeout + 30*time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	if o.ReclaimInterval <= 0 {
		o.ReclaimInterval = 5 * time.Second
	}
	return o
}

// WorkerPool runs a queue's handler on a bounded set of concurrent slots.
// Each slot loops: claim the next eligible job, execute the handler, report
// the outcome to the store. A janitor goroutine promotes due delayed jobs
// and reclaims expired leases. One failing handler never stops the loop for
// other jobs or slots.
type WorkerPool struct {
	queue   *Queue
	handler Handler
	opts    PoolOptions
	sink    *eventSink

	active   atomic.Int64
	running  atomic.Bool
	draining atomic.Bool
}

// NewWorkerPool binds a handler to a queue. Concurrency defaults to the
// queue's configured concurrency when the option is zero.
func NewWorkerPool(queue *Queue, handler Handler, opts PoolOptions) *WorkerPool {
	if opts.Concurrency <= 0 {
		opts.Concurrency = queue.Config().Concurrency
	}
	opts = opts.withDefaults()
	return &WorkerPool{
		queue:   queue,
		handler: handler,
		opts:    opts,
		sink:    newEventSink(opts.Events),
	}
}

// Queue returns the queue this pool serves.
func (p *WorkerPool) Queue() *Queue { return p.queue }

// ActiveCount returns how many jobs this pool is executing right now.
func (p *WorkerPool) ActiveCount() int64 { return p.active.Load() }

// DroppedEvents returns how many lifecycle events were discarded because
// the event channel was full.
func (p *WorkerPool) DroppedEvents() int64 { return p.sink.Dropped() }

// Drain stops the pool from claiming new jobs. The drain flag is local to
// this process, so a restarted worker starts dispatching again without any
// operator action. In-flight jobs run to completion and the janitor keeps
// going until the Start context is cancelled.
func (p *WorkerPool) Drain() { p.draining.Store(true) }

// Start runs the pool until ctx is cancelled, then waits for in-flight
// handlers to return. Pausing the queue (or cancelling ctx) stops new
// claims; already-claimed jobs run to completion.
func (p *WorkerPool) Start(ctx context.Context) error {
	if !p.running.CompareAndSwap(false, true) {
		return queuexErrors.New(ErrAlreadyRunning).WithDetail("queue", p.queue.Name())
	}
	defer p.running.Store(false)

	logx.WithFields(logx.Fields{
		"queue":       p.queue.Name(),
		"concurrency": p.opts.Concurrency,
	}).Info("queuex: worker pool starting")

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		p.janitorLoop(ctx)
	}()

	for i := 0; i < p.opts.Concurrency; i++ {
		wg.Add(1)
		go func(slot int) {
			defer wg.Done()
			p.workerLoop(ctx, slot)
		}(i)
	}

	wg.Wait()
	logx.WithField("queue", p.queue.Name()).Info("queuex: worker pool stopped")
	return nil
}

func (p *WorkerPool) workerLoop(ctx context.Context, slot int) {
	for {
		if p.draining.Load() {
			return
		}
		select {
		case <-ctx.Done():
			return
		default:
		}

		job, err := p.queue.Store().Claim(ctx, p.queue.Name(), p.opts.LeaseTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logx.WithError(err).WithFields(logx.Fields{
				"queue": p.queue.Name(),
				"slot":  slot,
			}).Warn("queuex: claim failed")
			p.sleep(ctx, p.opts.PollInterval)
			continue
		}
		if job == nil {
			p.sleep(ctx, p.opts.PollInterval)
			continue
		}

		p.execute(ctx, job)
	}
}

// execute runs the handler for one claimed job and reports the outcome.
// Outcome reporting uses a context detached from pool shutdown so a drain
// never loses a finished job's transition.
func (p *WorkerPool) execute(ctx context.Context, job *Job) {
	p.active.Add(1)
	defer p.active.Add(-1)

	p.sink.publish(Event{Type: EventActive, Queue: job.Queue, JobID: job.ID, Attempt: job.AttemptsMade, At: time.Now().UTC()})
	logx.WithFields(logx.Fields{
		"queue":   job.Queue,
		"job_id":  job.ID,
		"attempt": job.AttemptsMade,
	}).Info("queuex: job active")

	result, err := p.invoke(ctx, job)

	reportCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 15*time.Second)
	defer cancel()

	if err == nil {
		p.reportSuccess(reportCtx, job, result)
		return
	}
	p.reportFailure(reportCtx, job, err)
}

// invoke runs the handler in its own goroutine so a hung handler cannot
// occupy the slot past JobTimeout.
func (p *WorkerPool) invoke(ctx context.Context, job *Job) (result []byte, err error) {
	type outcome struct {
		result []byte
		err    error
	}

	handlerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	defer cancel()

	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		res, herr := p.handler(handlerCtx, job)
		done <- outcome{result: res, err: herr}
	}()

	timer := time.NewTimer(p.opts.JobTimeout)
	defer timer.Stop()

	select {
	case out := <-done:
		return out.result, out.err
	case <-timer.C:
		cancel()
		return nil, fmt.Errorf("handler timeout after %s", p.opts.JobTimeout)
	}
}

func (p *WorkerPool) reportSuccess(ctx context.Context, job *Job, result []byte) {
	if err := p.queue.Store().Complete(ctx, job.ID, job.LeaseToken, result); err != nil {
		p.reportStoreError(job, "complete", err)
		return
	}

	p.sink.publish(Event{Type: EventCompleted, Queue: job.Queue, JobID: job.ID, Attempt: job.AttemptsMade, At: time.Now().UTC()})
	logx.WithFields(logx.Fields{
		"queue":   job.Queue,
		"job_id":  job.ID,
		"attempt": job.AttemptsMade,
	}).Info("queuex: job completed")

	if err := p.queue.applyRetention(ctx, StateCompleted); err != nil {
		logx.WithError(err).WithField("queue", job.Queue).Warn("queuex: completed retention failed")
	}
}

func (p *WorkerPool) reportFailure(ctx context.Context, job *Job, cause error) {
	logx.WithError(cause).WithFields(logx.Fields{
		"queue":   job.Queue,
		"job_id":  job.ID,
		"attempt": job.AttemptsMade,
	}).Warn("queuex: job failed")

	delay, retry := PolicyFor(job).NextDelay(job.AttemptsMade)

	var retryAt time.Time
	if retry {
		retryAt = time.Now().UTC().Add(delay)
	}

	if err := p.queue.Store().Fail(ctx, job.ID, job.LeaseToken, cause.Error(), retryAt); err != nil {
		p.reportStoreError(job, "fail", err)
		return
	}

	if retry {
		p.sink.publish(Event{Type: EventRetried, Queue: job.Queue, JobID: job.ID, Attempt: job.AttemptsMade, Err: cause.Error(), At: time.Now().UTC()})
		logx.WithFields(logx.Fields{
			"queue":    job.Queue,
			"job_id":   job.ID,
			"attempt":  job.AttemptsMade,
			"retry_in": delay.String(),
		}).Info("queuex: job retry scheduled")
		return
	}

	p.sink.publish(Event{Type: EventFailed, Queue: job.Queue, JobID: job.ID, Attempt: job.AttemptsMade, Err: cause.Error(), At: time.Now().UTC()})
	logx.WithFields(logx.Fields{
		"queue":    job.Queue,
		"job_id":   job.ID,
		"attempts": job.AttemptsMade,
	}).Error("queuex: job failed terminally, retries exhausted")

	if err := p.queue.applyRetention(ctx, StateFailed); err != nil {
		logx.WithError(err).WithField("queue", job.Queue).Warn("queuex: failed retention failed")
	}
}

func (p *WorkerPool) reportStoreError(job *Job, op string, err error) {
	// A lease mismatch means the job stalled and was reclaimed while the
	// handler ran; the other holder's outcome wins.
	p.sink.publish(Event{Type: EventError, Queue: job.Queue, JobID: job.ID, Err: err.Error(), At: time.Now().UTC()})
	logx.WithError(err).WithFields(logx.Fields{
		"queue":  job.Queue,
		"job_id": job.ID,
		"op":     op,
	}).Error("queuex: failed to report job outcome")
}

// janitorLoop promotes due delayed jobs on the poll cadence and reclaims
// expired leases on the reclaim cadence.
func (p *WorkerPool) janitorLoop(ctx context.Context) {
	promote := time.NewTicker(p.opts.PollInterval)
	defer promote.Stop()
	reclaim := time.NewTicker(p.opts.ReclaimInterval)
	defer reclaim.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-promote.C:
			if _, err := p.queue.Store().PromoteDelayed(ctx, p.queue.Name()); err != nil && ctx.Err() == nil {
				logx.WithError(err).WithField("queue", p.queue.Name()).Warn("queuex: promote delayed failed")
			}
		case <-reclaim.C:
			p.reclaim(ctx)
		}
	}
}

func (p *WorkerPool) reclaim(ctx context.Context) {
	res, err := p.queue.Store().ReclaimStalled(ctx, p.queue.Name())
	if err != nil {
		if ctx.Err() == nil {
			logx.WithError(err).WithField("queue", p.queue.Name()).Warn("queuex: reclaim failed")
		}
		return
	}
	if res.Total() == 0 {
		return
	}

	now := time.Now().UTC()
	for _, id := range res.Stalled {
		p.sink.publish(Event{Type: EventStalled, Queue: p.queue.Name(), JobID: id, At: now})
		logx.WithFields(logx.Fields{
			"queue":  p.queue.Name(),
			"job_id": id,
		}).Warn("queuex: job stalled, lease expired without report")
	}
	for _, id := range res.Requeued {
		logx.WithFields(logx.Fields{
			"queue":  p.queue.Name(),
			"job_id": id,
		}).Info("queuex: stalled job requeued")
	}
	for _, id := range res.Failed {
		p.sink.publish(Event{Type: EventFailed, Queue: p.queue.Name(), JobID: id, Err: "stalled with no attempts left", At: now})
		logx.WithFields(logx.Fields{
			"queue":  p.queue.Name(),
			"job_id": id,
		}).Error("queuex: stalled job failed terminally")
	}
}

func (p *WorkerPool) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
