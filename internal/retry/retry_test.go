package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"subflow/internal/services"
)

type recordingSleeper struct {
	delays []time.Duration
}

func (r *recordingSleeper) sleep(_ context.Context, d time.Duration) error {
	r.delays = append(r.delays, d)
	return nil
}

func TestExecuteLinearBackoffAcrossTransientFailures(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := NewPolicy(3, 3*time.Second).WithSleeper(sleeper.sleep)

	transient := services.Wrap(services.ErrTransient, "test", "call", "connection reset", nil)
	records, err := policy.Execute(context.Background(), "funasr-a", func(context.Context) error {
		return transient
	})
	if err == nil {
		t.Fatal("expected exhaustion error")
	}
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected wrapped transient error, got %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected exactly 3 attempt records, got %d", len(records))
	}

	// Linear backoff: 3s after the first failure, 6s after the second.
	want := []time.Duration{3 * time.Second, 6 * time.Second}
	if len(sleeper.delays) != len(want) {
		t.Fatalf("expected %d sleeps, got %v", len(want), sleeper.delays)
	}
	var total time.Duration
	for i, delay := range sleeper.delays {
		if delay != want[i] {
			t.Fatalf("sleep %d = %v, want %v", i, delay, want[i])
		}
		total += delay
	}
	if total < 9*time.Second {
		t.Fatalf("total backoff %v, want at least 9s", total)
	}
}

func TestExecuteStopsOnSuccess(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := NewPolicy(3, time.Second).WithSleeper(sleeper.sleep)

	calls := 0
	records, err := policy.Execute(context.Background(), "deeplx", func(context.Context) error {
		calls++
		if calls < 2 {
			return services.Wrap(services.ErrTransient, "test", "call", "timeout", context.DeadlineExceeded)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 calls, got %d", calls)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Outcome != OutcomeTimeout {
		t.Fatalf("first record outcome = %s, want timeout", records[0].Outcome)
	}
	if records[1].Outcome != OutcomeSuccess {
		t.Fatalf("second record outcome = %s, want success", records[1].Outcome)
	}
}

func TestExecuteAbortsImmediatelyOnTerminalFailure(t *testing.T) {
	sleeper := &recordingSleeper{}
	policy := NewPolicy(5, time.Second).WithSleeper(sleeper.sleep)

	terminal := services.Wrap(services.ErrTerminal, "test", "call", "invalid credentials", nil)
	calls := 0
	records, err := policy.Execute(context.Background(), "deepl", func(context.Context) error {
		calls++
		return terminal
	})
	if !errors.Is(err, services.ErrTerminal) {
		t.Fatalf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("terminal failure must not be retried, got %d calls", calls)
	}
	if len(sleeper.delays) != 0 {
		t.Fatalf("no backoff expected for terminal failure, got %v", sleeper.delays)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
}

func TestExecuteHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	policy := NewPolicy(3, time.Second).WithSleeper(func(context.Context, time.Duration) error {
		cancel()
		return ctx.Err()
	})

	_, err := policy.Execute(ctx, "funasr-a", func(context.Context) error {
		return services.Wrap(services.ErrTransient, "test", "call", "flaky", nil)
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context cancellation, got %v", err)
	}
}
