package queuex_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/partline/partline/pkg/queuex"
	"github.com/partline/partline/pkg/queuex/queuexmem"
)

func alertReasons(alerts []queuex.Alert) map[string]bool {
	reasons := make(map[string]bool, len(alerts))
	for _, a := range alerts {
		reasons[a.Reason] = true
	}
	return reasons
}

func TestHealthMonitor_NoAlertsOnHealthyQueue(t *testing.T) {
	q := newTestQueue(t, "email")
	registry := queuex.NewRegistry()
	if err := registry.Register(q); err != nil {
		t.Fatalf("register: %v", err)
	}

	monitor := queuex.NewHealthMonitor(registry, queuex.DefaultHealthThresholds())
	if alerts := monitor.Check(context.Background()); len(alerts) != 0 {
		t.Fatalf("expected no alerts, got %+v", alerts)
	}
}

func TestHealthMonitor_Thresholds(t *testing.T) {
	ctx := context.Background()
	store := queuexmem.NewStore()
	q := queuex.NewQueue("email", store, queuex.DefaultQueueConfig())

	registry := queuex.NewRegistry()
	if err := registry.Register(q); err != nil {
		t.Fatalf("register: %v", err)
	}

	// Tight thresholds so a handful of jobs trips every rule.
	monitor := queuex.NewHealthMonitor(registry, queuex.HealthThresholds{
		FailedCount:  1,
		WaitingCount: 2,
		TotalStalls:  100,
	})

	// Backlog: three waiting jobs exceed the threshold of two.
	for i := 0; i < 3; i++ {
		if _, err := q.Enqueue(ctx, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	// Failures: terminally fail two claimed jobs.
	for i := 0; i < 2; i++ {
		job, err := store.Claim(ctx, q.Name(), time.Minute)
		if err != nil || job == nil {
			t.Fatalf("claim: %v (job=%v)", err, job)
		}
		if err := store.Fail(ctx, job.ID, job.LeaseToken, "boom", time.Time{}); err != nil {
			t.Fatalf("fail: %v", err)
		}
	}
	// Refill the backlog drained by the claims.
	for i := 0; i < 2; i++ {
		if _, err := q.Enqueue(ctx, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	reasons := alertReasons(monitor.Check(ctx))
	if !reasons["high failure rate"] {
		t.Fatalf("expected failure alert, got %v", reasons)
	}
	if !reasons["backlog growing"] {
		t.Fatalf("expected backlog alert, got %v", reasons)
	}
	if reasons["repeated stalls"] {
		t.Fatalf("unexpected stall alert, got %v", reasons)
	}
}

func TestHealthMonitor_PausedQueueAlert(t *testing.T) {
	q := newTestQueue(t, "email")
	registry := queuex.NewRegistry()
	if err := registry.Register(q); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := q.Pause(context.Background()); err != nil {
		t.Fatalf("pause: %v", err)
	}

	monitor := queuex.NewHealthMonitor(registry, queuex.DefaultHealthThresholds())
	reasons := alertReasons(monitor.Check(context.Background()))
	if !reasons["queue paused"] {
		t.Fatalf("expected paused alert, got %v", reasons)
	}
}

func TestHealthMonitor_NeverMutates(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, "email")
	registry := queuex.NewRegistry()
	if err := registry.Register(q); err != nil {
		t.Fatalf("register: %v", err)
	}

	job, _ := q.Enqueue(ctx, json.RawMessage(`{}`))

	monitor := queuex.NewHealthMonitor(registry, queuex.HealthThresholds{
		FailedCount: 1, WaitingCount: 1, TotalStalls: 1,
	})
	monitor.Check(ctx)

	got, err := q.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.State != queuex.StateWaiting {
		t.Fatalf("health check mutated job state to %s", got.State)
	}
}
