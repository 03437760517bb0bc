package asyncx_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/partline/partline/pkg/asyncx"
)

func TestAllSettled_CollectsEveryOutcome(t *testing.T) {
	boom := errors.New("boom")
	results := asyncx.AllSettled(context.Background(),
		func(ctx context.Context) (int, error) { return 1, nil },
		func(ctx context.Context) (int, error) { return 0, boom },
		func(ctx context.Context) (int, error) { return 3, nil },
	)

	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}
	if !results[0].OK() || results[0].Value != 1 {
		t.Fatalf("unexpected first result %+v", results[0])
	}
	if results[1].OK() || !errors.Is(results[1].Err, boom) {
		t.Fatalf("expected second result to carry the error, got %+v", results[1])
	}
	if !results[2].OK() || results[2].Value != 3 {
		t.Fatalf("unexpected third result %+v", results[2])
	}
}

func TestMap_PreservesInputOrder(t *testing.T) {
	items := []int{5, 3, 8, 1}
	out, err := asyncx.Map(context.Background(), items,
		func(ctx context.Context, n int) (string, error) {
			return fmt.Sprintf("job-%d", n), nil
		})
	if err != nil {
		t.Fatalf("map: %v", err)
	}

	want := []string{"job-5", "job-3", "job-8", "job-1"}
	for i, s := range want {
		if out[i] != s {
			t.Fatalf("position %d: expected %q, got %q", i, s, out[i])
		}
	}
}

func TestMap_ErrorStillAwaitsAll(t *testing.T) {
	var finished atomic.Int64
	boom := errors.New("boom")

	_, err := asyncx.Map(context.Background(), []int{0, 1, 2, 3},
		func(ctx context.Context, n int) (int, error) {
			defer finished.Add(1)
			if n == 1 {
				return 0, boom
			}
			return n, nil
		})
	if !errors.Is(err, boom) {
		t.Fatalf("expected the item error, got %v", err)
	}
	if n := finished.Load(); n != 4 {
		t.Fatalf("expected all 4 items awaited, %d finished", n)
	}
}
