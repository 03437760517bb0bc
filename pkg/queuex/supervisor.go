package queuex

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/partline/partline/pkg/asyncx"
	"github.com/partline/partline/pkg/logx"
)

// Phase is the supervisor's position in the process lifecycle.
type Phase int32

const (
	// PhaseStarting means queues and handlers are being wired.
	PhaseStarting Phase = iota
	// PhaseRunning means pools and timers are live.
	PhaseRunning
	// PhaseDraining means dispatch is stopped and in-flight jobs are finishing.
	PhaseDraining
	// PhaseStopped means the supervisor has returned.
	PhaseStopped
)

// String returns the phase name.
func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseRunning:
		return "running"
	case PhaseDraining:
		return "draining"
	case PhaseStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SupervisorOptions configures the process-level orchestrator.
type SupervisorOptions struct {
	// MetricsInterval is the cadence of metrics reports.
	MetricsInterval time.Duration
	// HealthInterval is the cadence of health checks.
	HealthInterval time.Duration
	// CleanupInterval is the cadence of terminal-job cleanup.
	CleanupInterval time.Duration
	// ShutdownTimeout bounds how long draining waits for active jobs.
	ShutdownTimeout time.Duration

	// CompletedMaxAge is the cleanup cutoff for completed jobs.
	CompletedMaxAge time.Duration
	// FailedMaxAge is the cleanup cutoff for failed jobs, longer so that
	// failures stay inspectable.
	FailedMaxAge time.Duration

	// Pool is the base configuration applied to every worker pool.
	Pool PoolOptions

	// Thresholds configure the health monitor.
	Thresholds HealthThresholds

	// EventBuffer sizes the lifecycle event channel.
	EventBuffer int
}

func (o SupervisorOptions) withDefaults() SupervisorOptions {
	if o.MetricsInterval <= 0 {
		o.MetricsInterval = time.Minute
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 30 * time.Second
	}
	if o.CleanupInterval <= 0 {
		o.CleanupInterval = time.Hour
	}
	if o.ShutdownTimeout <= 0 {
		o.ShutdownTimeout = 30 * time.Second
	}
	if o.CompletedMaxAge <= 0 {
		o.CompletedMaxAge = 24 * time.Hour
	}
	if o.FailedMaxAge <= 0 {
		o.FailedMaxAge = 7 * 24 * time.Hour
	}
	if o.EventBuffer <= 0 {
		o.EventBuffer = 1024
	}
	return o
}

// Supervisor orchestrates the worker process: it owns the queue registry,
// the worker pools, the lifecycle event stream and the periodic timers, and
// it drives graceful shutdown when its context is cancelled.
type Supervisor struct {
	registry *Registry
	health   *HealthMonitor
	opts     SupervisorOptions

	pools  []*WorkerPool
	events chan Event

	phase     atomic.Int32
	running   atomic.Bool
	startedAt time.Time

	processed atomic.Int64
	failed    atomic.Int64
	retried   atomic.Int64
	stalled   atomic.Int64
}

// NewSupervisor creates a supervisor over the registry.
func NewSupervisor(registry *Registry, opts SupervisorOptions) *Supervisor {
	opts = opts.withDefaults()
	return &Supervisor{
		registry: registry,
		health:   NewHealthMonitor(registry, opts.Thresholds),
		opts:     opts,
		events:   make(chan Event, opts.EventBuffer),
	}
}

// Register wires a queue to its handler: the queue joins the registry and a
// worker pool is created for it. Must be called before Run.
func (s *Supervisor) Register(queue *Queue, handler Handler) error {
	if err := s.registry.Register(queue); err != nil {
		return err
	}

	poolOpts := s.opts.Pool
	poolOpts.Concurrency = queue.Config().Concurrency
	poolOpts.Events = s.events

	s.pools = append(s.pools, NewWorkerPool(queue, handler, poolOpts))
	return nil
}

// Phase returns the current lifecycle phase.
func (s *Supervisor) Phase() Phase {
	return Phase(s.phase.Load())
}

// ActiveJobs returns the number of jobs currently executing across pools.
func (s *Supervisor) ActiveJobs() int64 {
	var n int64
	for _, p := range s.pools {
		n += p.ActiveCount()
	}
	return n
}

// Counters is a snapshot of the aggregate lifecycle counters.
type Counters struct {
	Processed int64 `json:"processed"`
	Failed    int64 `json:"failed"`
	Retried   int64 `json:"retried"`
	Stalled   int64 `json:"stalled"`
	Active    int64 `json:"active"`
}

// Counters returns the aggregate counters maintained from lifecycle events.
func (s *Supervisor) Counters() Counters {
	return Counters{
		Processed: s.processed.Load(),
		Failed:    s.failed.Load(),
		Retried:   s.retried.Load(),
		Stalled:   s.stalled.Load(),
		Active:    s.ActiveJobs(),
	}
}

// Registry returns the queue registry.
func (s *Supervisor) Registry() *Registry {
	return s.registry
}

// Uptime returns how long the supervisor has been running.
func (s *Supervisor) Uptime() time.Duration {
	if s.startedAt.IsZero() {
		return 0
	}
	return time.Since(s.startedAt)
}

// Run starts the pools and timers and blocks until ctx is cancelled, then
// drains: the pools stop claiming, active jobs get ShutdownTimeout to finish
// and a final metrics report is emitted. Returns ErrShutdownTimeout when
// in-flight jobs outlived the grace period.
func (s *Supervisor) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return queuexErrors.New(ErrAlreadyRunning)
	}
	defer s.running.Store(false)

	s.phase.Store(int32(PhaseStarting))
	s.startedAt = time.Now()

	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		s.consumeEvents()
	}()

	// Pools run on their own context so draining can let actives finish
	// after the run context is already cancelled.
	poolCtx, stopPools := context.WithCancel(context.Background())
	defer stopPools()

	var wg sync.WaitGroup
	for _, pool := range s.pools {
		wg.Add(1)
		go func(p *WorkerPool) {
			defer wg.Done()
			if err := p.Start(poolCtx); err != nil {
				logx.WithError(err).WithField("queue", p.Queue().Name()).Error("queuex: pool exited with error")
			}
		}(pool)
	}

	s.phase.Store(int32(PhaseRunning))
	logx.WithFields(logx.Fields{
		"queues": s.registry.Names(),
		"pools":  len(s.pools),
	}).Info("queuex: supervisor running")

	metricsTicker := time.NewTicker(s.opts.MetricsInterval)
	defer metricsTicker.Stop()
	healthTicker := time.NewTicker(s.opts.HealthInterval)
	defer healthTicker.Stop()
	cleanupTicker := time.NewTicker(s.opts.CleanupInterval)
	defer cleanupTicker.Stop()

running:
	for {
		select {
		case <-ctx.Done():
			break running
		case <-metricsTicker.C:
			s.reportMetrics(context.Background())
		case <-healthTicker.C:
			s.health.Check(context.Background())
		case <-cleanupTicker.C:
			s.cleanup(context.Background())
		}
	}

	poolsStopped, err := s.drain(stopPools, &wg)

	// The event channel can only be closed once no pool can publish to it.
	// On a timed-out drain the pools (and the consumer) are abandoned; the
	// process is about to exit non-zero anyway.
	if poolsStopped {
		close(s.events)
		<-consumerDone
	}

	s.phase.Store(int32(PhaseStopped))
	logx.Info("queuex: supervisor stopped")
	return err
}

// drain stops dispatch, waits for active jobs to finish within the
// shutdown grace period, emits a final metrics report and stops the pools.
// Dispatch is stopped on the pools themselves, never through the store's
// persistent pause flag, so a restarted worker resumes claiming on its own
// and an operator pause set before the shutdown survives it untouched.
func (s *Supervisor) drain(stopPools context.CancelFunc, wg *sync.WaitGroup) (bool, error) {
	s.phase.Store(int32(PhaseDraining))
	logx.Info("queuex: draining, dispatch stopped")

	drainCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()

	for _, pool := range s.pools {
		pool.Drain()
	}

	timedOut := false
	poll := time.NewTicker(100 * time.Millisecond)
	defer poll.Stop()

wait:
	for s.ActiveJobs() > 0 {
		select {
		case <-drainCtx.Done():
			timedOut = true
			break wait
		case <-poll.C:
		}
	}

	s.reportMetrics(context.Background())

	stopPools()
	poolsDone := make(chan struct{})
	go func() {
		wg.Wait()
		close(poolsDone)
	}()
	poolsStopped := true
	select {
	case <-poolsDone:
	case <-time.After(s.opts.ShutdownTimeout):
		timedOut = true
		poolsStopped = false
	}

	if timedOut {
		logx.WithField("active", s.ActiveJobs()).Warn("queuex: shutdown timed out with jobs still active")
		return poolsStopped, queuexErrors.New(ErrShutdownTimeout).WithDetail("active", s.ActiveJobs())
	}

	logx.Info("queuex: drain complete")
	return poolsStopped, nil
}

func (s *Supervisor) consumeEvents() {
	for ev := range s.events {
		switch ev.Type {
		case EventCompleted:
			s.processed.Add(1)
		case EventFailed:
			s.failed.Add(1)
		case EventRetried:
			s.retried.Add(1)
		case EventStalled:
			s.stalled.Add(1)
		}
	}
}

// reportMetrics logs one structured metrics record: uptime, aggregate
// counters, process memory and per-queue stats.
func (s *Supervisor) reportMetrics(ctx context.Context) {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	counters := s.Counters()

	fields := logx.Fields{
		"phase":      s.Phase().String(),
		"uptime":     s.Uptime().Round(time.Second).String(),
		"processed":  counters.Processed,
		"failed":     counters.Failed,
		"retried":    counters.Retried,
		"stalled":    counters.Stalled,
		"active":     counters.Active,
		"goroutines": runtime.NumGoroutine(),
		"heap_bytes": mem.HeapAlloc,
	}

	var dropped int64
	for _, p := range s.pools {
		dropped += p.DroppedEvents()
	}
	if dropped > 0 {
		fields["events_dropped"] = dropped
	}

	queues := s.registry.All()
	results := asyncx.AllSettled(ctx, statFuncs(queues)...)
	for i, res := range results {
		if !res.OK() {
			continue
		}
		name := queues[i].Name()
		for state, count := range res.Value.Counts {
			if count > 0 {
				fields["queue_"+name+"_"+string(state)] = count
			}
		}
		if res.Value.Paused {
			fields["queue_"+name+"_paused"] = true
		}
	}

	logx.WithFields(fields).Info("queuex: metrics report")
}

// cleanup removes aged terminal jobs from every queue.
func (s *Supervisor) cleanup(ctx context.Context) {
	for _, q := range s.registry.All() {
		removedCompleted, err := q.Clean(ctx, StateCompleted, s.opts.CompletedMaxAge)
		if err != nil {
			logx.WithError(err).WithField("queue", q.Name()).Warn("queuex: completed cleanup failed")
		}
		removedFailed, err := q.Clean(ctx, StateFailed, s.opts.FailedMaxAge)
		if err != nil {
			logx.WithError(err).WithField("queue", q.Name()).Warn("queuex: failed cleanup failed")
		}
		if len(removedCompleted)+len(removedFailed) > 0 {
			logx.WithFields(logx.Fields{
				"queue":     q.Name(),
				"completed": len(removedCompleted),
				"failed":    len(removedFailed),
			}).Info("queuex: cleanup removed aged jobs")
		}
	}
}
