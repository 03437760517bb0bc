package queuexmem_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/partline/partline/pkg/errx"
	"github.com/partline/partline/pkg/queuex"
	"github.com/partline/partline/pkg/queuex/queuexmem"
)

func newJob(queue string, priority int) *queuex.Job {
	return &queuex.Job{
		ID:          uuid.New().String(),
		Queue:       queue,
		Payload:     json.RawMessage(`{}`),
		Priority:    priority,
		State:       queuex.StateWaiting,
		MaxAttempts: 3,
		Backoff:     queuex.DefaultBackoff(),
		CreatedAt:   time.Now().UTC(),
	}
}

func mustEnqueue(t *testing.T, s *queuexmem.Store, job *queuex.Job) *queuex.Job {
	t.Helper()
	if err := s.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return job
}

func TestStore_ClaimOrdering(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()

	first := mustEnqueue(t, s, newJob("q", 0))
	second := mustEnqueue(t, s, newJob("q", 0))
	urgent := mustEnqueue(t, s, newJob("q", 10))

	want := []string{urgent.ID, first.ID, second.ID}
	for i, expected := range want {
		job, err := s.Claim(ctx, "q", time.Minute)
		if err != nil {
			t.Fatalf("claim %d: %v", i, err)
		}
		if job == nil || job.ID != expected {
			t.Fatalf("claim %d: expected %s, got %+v", i, expected, job)
		}
	}

	if job, _ := s.Claim(ctx, "q", time.Minute); job != nil {
		t.Fatalf("expected empty queue, claimed %s", job.ID)
	}
}

func TestStore_ClaimSetsLease(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()
	mustEnqueue(t, s, newJob("q", 0))

	job, err := s.Claim(ctx, "q", time.Minute)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}

	if job.State != queuex.StateActive {
		t.Fatalf("expected active, got %s", job.State)
	}
	if job.AttemptsMade != 1 {
		t.Fatalf("expected 1 attempt after claim, got %d", job.AttemptsMade)
	}
	if job.LeaseToken == "" || job.LeaseExpiresAt.IsZero() {
		t.Fatal("expected lease token and expiry set")
	}
}

func TestStore_LeaseExclusivity(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()
	mustEnqueue(t, s, newJob("q", 0))

	job, _ := s.Claim(ctx, "q", time.Minute)

	err := s.Complete(ctx, job.ID, "wrong-token", nil)
	if !errx.IsCode(err, queuex.ErrLeaseMismatch) {
		t.Fatalf("expected lease mismatch, got %v", err)
	}

	if err := s.Complete(ctx, job.ID, job.LeaseToken, []byte(`"ok"`)); err != nil {
		t.Fatalf("complete with valid lease: %v", err)
	}

	// The job is terminal now; the old lease no longer transitions it.
	err = s.Fail(ctx, job.ID, job.LeaseToken, "late", time.Time{})
	if !errx.IsCode(err, queuex.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestStore_FailSchedulesRetry(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()
	mustEnqueue(t, s, newJob("q", 0))

	job, _ := s.Claim(ctx, "q", time.Minute)
	retryAt := time.Now().UTC().Add(10 * time.Millisecond)
	if err := s.Fail(ctx, job.ID, job.LeaseToken, "transient", retryAt); err != nil {
		t.Fatalf("fail: %v", err)
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.State != queuex.StateDelayed {
		t.Fatalf("expected delayed, got %s", got.State)
	}

	// Not claimable until promoted past retryAt.
	if j, _ := s.Claim(ctx, "q", time.Minute); j != nil {
		t.Fatalf("claimed delayed retry %s early", j.ID)
	}

	time.Sleep(20 * time.Millisecond)
	n, err := s.PromoteDelayed(ctx, "q")
	if err != nil || n != 1 {
		t.Fatalf("promote: n=%d err=%v", n, err)
	}

	j, _ := s.Claim(ctx, "q", time.Minute)
	if j == nil || j.ID != job.ID {
		t.Fatalf("expected retried job claimable, got %+v", j)
	}
	if j.AttemptsMade != 2 {
		t.Fatalf("expected 2 attempts, got %d", j.AttemptsMade)
	}
}

func TestStore_ReclaimTwoPhases(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()
	mustEnqueue(t, s, newJob("q", 0))

	job, _ := s.Claim(ctx, "q", time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	// First pass: the expired lease marks the job stalled.
	res, err := s.ReclaimStalled(ctx, "q")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(res.Stalled) != 1 || res.Stalled[0] != job.ID {
		t.Fatalf("expected job stalled, got %+v", res)
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.State != queuex.StateStalled {
		t.Fatalf("expected stalled, got %s", got.State)
	}
	if got.Stalls != 1 {
		t.Fatalf("expected 1 stall recorded, got %d", got.Stalls)
	}
	if got.LeaseToken != "" {
		t.Fatal("expected lease cleared on stall")
	}

	// Second pass: the stalled job returns to waiting.
	res, err = s.ReclaimStalled(ctx, "q")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(res.Requeued) != 1 || res.Requeued[0] != job.ID {
		t.Fatalf("expected job requeued, got %+v", res)
	}

	got, _ = s.GetJob(ctx, job.ID)
	if got.State != queuex.StateWaiting {
		t.Fatalf("expected waiting, got %s", got.State)
	}

	stats, _ := s.Stats(ctx, "q")
	if stats.TotalStalls != 1 {
		t.Fatalf("expected 1 total stall, got %d", stats.TotalStalls)
	}
}

func TestStore_ReclaimFailsExhaustedJob(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()

	job := newJob("q", 0)
	job.MaxAttempts = 1
	mustEnqueue(t, s, job)

	if _, err := s.Claim(ctx, "q", time.Millisecond); err != nil {
		t.Fatalf("claim: %v", err)
	}
	time.Sleep(5 * time.Millisecond)

	if _, err := s.ReclaimStalled(ctx, "q"); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	res, err := s.ReclaimStalled(ctx, "q")
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if len(res.Failed) != 1 || res.Failed[0] != job.ID {
		t.Fatalf("expected exhausted job failed, got %+v", res)
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.State != queuex.StateFailed {
		t.Fatalf("expected failed, got %s", got.State)
	}
	if got.FailureReason == "" {
		t.Fatal("expected failure reason recorded")
	}
}

func TestStore_RetryGrantsExtraAttempt(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()

	job := newJob("q", 0)
	job.MaxAttempts = 1
	mustEnqueue(t, s, job)

	claimed, _ := s.Claim(ctx, "q", time.Minute)
	if err := s.Fail(ctx, claimed.ID, claimed.LeaseToken, "boom", time.Time{}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	if err := s.Retry(ctx, job.ID); err != nil {
		t.Fatalf("retry: %v", err)
	}

	got, _ := s.GetJob(ctx, job.ID)
	if got.State != queuex.StateWaiting {
		t.Fatalf("expected waiting, got %s", got.State)
	}
	if got.AttemptsMade != 1 || got.MaxAttempts != 2 {
		t.Fatalf("expected attempts=1 max=2, got attempts=%d max=%d",
			got.AttemptsMade, got.MaxAttempts)
	}
	if !got.FinishedAt.IsZero() {
		t.Fatal("expected FinishedAt cleared on retry")
	}
}

func TestStore_CleanAndTrim(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()

	var completed []string
	for i := 0; i < 5; i++ {
		job := mustEnqueue(t, s, newJob("q", 0))
		claimed, _ := s.Claim(ctx, "q", time.Minute)
		if err := s.Complete(ctx, claimed.ID, claimed.LeaseToken, nil); err != nil {
			t.Fatalf("complete: %v", err)
		}
		completed = append(completed, job.ID)
	}

	// All five finished just now; a 1h cutoff removes nothing.
	removed, err := s.Clean(ctx, "q", queuex.StateCompleted, time.Hour)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected nothing cleaned, got %v", removed)
	}

	// Trim keeps the newest two.
	n, err := s.Trim(ctx, "q", queuex.StateCompleted, 2)
	if err != nil {
		t.Fatalf("trim: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 trimmed, got %d", n)
	}

	stats, _ := s.Stats(ctx, "q")
	if stats.Counts[queuex.StateCompleted] != 2 {
		t.Fatalf("expected 2 completed left, got %d", stats.Counts[queuex.StateCompleted])
	}

	// A zero cutoff removes everything terminal.
	removed, err = s.Clean(ctx, "q", queuex.StateCompleted, 0)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if len(removed) != 2 {
		t.Fatalf("expected 2 cleaned, got %v", removed)
	}

	if _, err := s.GetJob(ctx, completed[4]); !errx.IsCode(err, queuex.ErrJobNotFound) {
		t.Fatalf("expected cleaned job gone, got %v", err)
	}
}

func TestStore_CleanIgnoresNonTerminal(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()
	job := mustEnqueue(t, s, newJob("q", 0))

	removed, err := s.Clean(ctx, "q", queuex.StateWaiting, 0)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("clean removed non-terminal jobs: %v", removed)
	}
	if _, err := s.GetJob(ctx, job.ID); err != nil {
		t.Fatalf("waiting job should survive clean: %v", err)
	}
}

func TestStore_StatsSamples(t *testing.T) {
	s := queuexmem.NewStore()
	ctx := context.Background()

	for i := 0; i < 8; i++ {
		mustEnqueue(t, s, newJob("q", 0))
	}

	stats, err := s.Stats(ctx, "q")
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Counts[queuex.StateWaiting] != 8 {
		t.Fatalf("expected 8 waiting, got %d", stats.Counts[queuex.StateWaiting])
	}
	if len(stats.Samples[queuex.StateWaiting]) != 5 {
		t.Fatalf("expected 5 samples, got %d", len(stats.Samples[queuex.StateWaiting]))
	}
}
