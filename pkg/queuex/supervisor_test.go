package queuex_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/partline/partline/pkg/queuex"
	"github.com/partline/partline/pkg/queuex/queuexmem"
)

func newTestSupervisor(t *testing.T) (*queuex.Supervisor, *queuex.Queue) {
	t.Helper()

	store := queuexmem.NewStore()
	q := queuex.NewQueue("email", store, queuex.DefaultQueueConfig())

	registry := queuex.NewRegistry()
	sup := queuex.NewSupervisor(registry, queuex.SupervisorOptions{
		MetricsInterval: 50 * time.Millisecond,
		HealthInterval:  50 * time.Millisecond,
		CleanupInterval: time.Hour,
		ShutdownTimeout: 2 * time.Second,
		Pool: queuex.PoolOptions{
			JobTimeout:      time.Second,
			PollInterval:    5 * time.Millisecond,
			ReclaimInterval: 10 * time.Millisecond,
		},
	})
	return sup, q
}

func TestSupervisor_RunProcessesAndDrains(t *testing.T) {
	sup, q := newTestSupervisor(t)

	handler := func(ctx context.Context, job *queuex.Job) ([]byte, error) {
		return nil, nil
	}
	if err := sup.Register(q, handler); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- sup.Run(ctx)
	}()

	job, err := q.Enqueue(context.Background(), json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	waitForState(t, q, job.ID, queuex.StateCompleted)

	if phase := sup.Phase(); phase != queuex.PhaseRunning {
		t.Fatalf("expected running phase, got %s", phase)
	}

	cancel()
	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("expected clean drain, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	if phase := sup.Phase(); phase != queuex.PhaseStopped {
		t.Fatalf("expected stopped phase, got %s", phase)
	}
	if c := sup.Counters(); c.Processed != 1 {
		t.Fatalf("expected 1 processed, counters are %+v", c)
	}
}

func TestSupervisor_DrainFinishesActiveJobs(t *testing.T) {
	sup, q := newTestSupervisor(t)

	started := make(chan struct{})
	handler := func(ctx context.Context, job *queuex.Job) ([]byte, error) {
		close(started)
		time.Sleep(100 * time.Millisecond)
		return nil, nil
	}
	if err := sup.Register(q, handler); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	runErr := make(chan error, 1)
	go func() {
		runErr <- sup.Run(ctx)
	}()

	job, _ := q.Enqueue(context.Background(), json.RawMessage(`{}`))
	<-started
	cancel()

	select {
	case err := <-runErr:
		if err != nil {
			t.Fatalf("expected clean drain, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("supervisor did not stop")
	}

	got, _ := q.GetJob(context.Background(), job.ID)
	if got.State != queuex.StateCompleted {
		t.Fatalf("expected active job finished during drain, state is %s", got.State)
	}
}

func TestSupervisor_RestartAfterDrainDispatches(t *testing.T) {
	store := queuexmem.NewStore()
	handler := func(ctx context.Context, job *queuex.Job) ([]byte, error) {
		return nil, nil
	}

	// Two supervisor generations over one store, the way a rolling restart
	// sees it.
	runOnce := func(jobLabel string) {
		q := queuex.NewQueue("email", store, queuex.DefaultQueueConfig())
		sup := queuex.NewSupervisor(queuex.NewRegistry(), queuex.SupervisorOptions{
			ShutdownTimeout: 2 * time.Second,
			Pool: queuex.PoolOptions{
				JobTimeout:      time.Second,
				PollInterval:    5 * time.Millisecond,
				ReclaimInterval: 10 * time.Millisecond,
			},
		})
		if err := sup.Register(q, handler); err != nil {
			t.Fatalf("%s register: %v", jobLabel, err)
		}

		ctx, cancel := context.WithCancel(context.Background())
		runErr := make(chan error, 1)
		go func() {
			runErr <- sup.Run(ctx)
		}()

		job, err := q.Enqueue(context.Background(), json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("%s enqueue: %v", jobLabel, err)
		}
		waitForState(t, q, job.ID, queuex.StateCompleted)

		cancel()
		select {
		case err := <-runErr:
			if err != nil {
				t.Fatalf("%s drain: %v", jobLabel, err)
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("%s supervisor did not stop", jobLabel)
		}
	}

	runOnce("first run")
	runOnce("after restart")

	// Draining must never leave the durable pause flag behind.
	stats, err := store.Stats(context.Background(), "email")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Paused {
		t.Fatal("queue left paused in the store after drain")
	}
}

func TestSupervisor_SecondRunRejected(t *testing.T) {
	sup, q := newTestSupervisor(t)
	if err := sup.Register(q, func(ctx context.Context, job *queuex.Job) ([]byte, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)
	time.Sleep(20 * time.Millisecond)

	if err := sup.Run(context.Background()); err == nil {
		t.Fatal("expected second Run to fail")
	}
}

func TestSupervisor_RegisterDuplicateQueue(t *testing.T) {
	sup, q := newTestSupervisor(t)
	handler := func(ctx context.Context, job *queuex.Job) ([]byte, error) {
		return nil, nil
	}

	if err := sup.Register(q, handler); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := sup.Register(q, handler); err == nil {
		t.Fatal("expected duplicate register to fail")
	}
}
