package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

func testPolicy(attempts int) RetryPolicy {
	return RetryPolicy{Attempts: attempts, Floor: time.Millisecond, Ceiling: 2 * time.Millisecond}
}

func TestRetryPolicy_SucceedsAfterTransientFailures(t *testing.T) {
	calls := 0
	err := testPolicy(5).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do failed: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestRetryPolicy_ExhaustsAttemptBudget(t *testing.T) {
	calls := 0
	wantErr := errors.New("still down")
	err := testPolicy(3).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if calls != 3 {
		t.Errorf("calls = %d, want exactly the attempt budget", calls)
	}
}

func TestRetryPolicy_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := testPolicy(10).Do(ctx, func(ctx context.Context) error {
		calls++
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		t.Fatal("expected error after cancellation")
	}
	if calls > 2 {
		t.Errorf("calls = %d, cancellation should stop retries", calls)
	}
}

func TestRetryPolicy_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = RetryPolicy{}.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New("nope")
	})
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
