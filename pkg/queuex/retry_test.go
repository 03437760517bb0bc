package queuex_test

import (
	"testing"
	"time"

	"github.com/partline/partline/pkg/queuex"
)

func TestRetryPolicy_FixedBackoff(t *testing.T) {
	p := queuex.RetryPolicy{
		MaxAttempts: 3,
		Backoff:     queuex.Backoff{Type: queuex.BackoffFixed, Base: 2 * time.Second},
	}

	for attempt := 1; attempt < 3; attempt++ {
		delay, retry := p.NextDelay(attempt)
		if !retry {
			t.Fatalf("attempt %d: expected retry", attempt)
		}
		if delay != 2*time.Second {
			t.Fatalf("attempt %d: expected fixed 2s, got %s", attempt, delay)
		}
	}

	if _, retry := p.NextDelay(3); retry {
		t.Fatal("expected retries exhausted at max attempts")
	}
}

func TestRetryPolicy_ExponentialBackoff(t *testing.T) {
	p := queuex.RetryPolicy{
		MaxAttempts: 10,
		Backoff:     queuex.Backoff{Type: queuex.BackoffExponential, Base: time.Second, Cap: time.Minute},
	}

	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	for i, expected := range want {
		delay, retry := p.NextDelay(i + 1)
		if !retry {
			t.Fatalf("attempt %d: expected retry", i+1)
		}
		if delay != expected {
			t.Fatalf("attempt %d: expected %s, got %s", i+1, expected, delay)
		}
	}

	// 2^8 seconds would be 256s; the cap bounds it to one minute.
	delay, retry := p.NextDelay(9)
	if !retry || delay != time.Minute {
		t.Fatalf("expected capped delay of 1m, got %s (retry=%v)", delay, retry)
	}
}

func TestRetryPolicy_Exhausted(t *testing.T) {
	p := queuex.RetryPolicy{
		MaxAttempts: 1,
		Backoff:     queuex.DefaultBackoff(),
	}

	if _, retry := p.NextDelay(1); retry {
		t.Fatal("expected no retry after single allowed attempt")
	}
	if _, retry := p.NextDelay(5); retry {
		t.Fatal("expected no retry past max attempts")
	}
}

func TestRetryPolicy_JitterBounds(t *testing.T) {
	p := queuex.RetryPolicy{
		MaxAttempts:    5,
		Backoff:        queuex.Backoff{Type: queuex.BackoffFixed, Base: time.Second},
		JitterFraction: 0.5,
	}

	for i := 0; i < 50; i++ {
		delay, retry := p.NextDelay(1)
		if !retry {
			t.Fatal("expected retry")
		}
		if delay < time.Second || delay > 1500*time.Millisecond {
			t.Fatalf("jittered delay %s out of [1s, 1.5s]", delay)
		}
	}
}

func TestPolicyFor_UsesJobSettings(t *testing.T) {
	job := &queuex.Job{
		MaxAttempts: 7,
		Backoff:     queuex.Backoff{Type: queuex.BackoffFixed, Base: 3 * time.Second},
	}

	p := queuex.PolicyFor(job)
	if p.MaxAttempts != 7 {
		t.Fatalf("expected max attempts 7, got %d", p.MaxAttempts)
	}
	if p.Backoff.Type != queuex.BackoffFixed || p.Backoff.Base != 3*time.Second {
		t.Fatalf("expected job backoff carried over, got %+v", p.Backoff)
	}
}
