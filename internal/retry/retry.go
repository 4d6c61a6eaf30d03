// Package retry runs remote calls with linear backoff and a max-attempt
// ceiling. Both engines share one policy so backoff semantics never drift
// between transcription and translation.
package retry

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"subflow/internal/services"
)

// Outcome classifies one attempt for diagnostics.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

// AttemptRecord captures one remote call. Records live only for the duration
// of a job; they feed failover decisions and error reports, nothing else.
type AttemptRecord struct {
	Provider string
	Attempt  int
	Outcome  Outcome
	Latency  time.Duration
	Err      error
}

// Sleeper waits out a backoff delay. The default honors context cancellation;
// tests substitute a recorder.
type Sleeper func(ctx context.Context, d time.Duration) error

func defaultSleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Policy retries an operation up to MaxAttempts times, waiting
// BaseDelay * attemptNumber between failures.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	sleep       Sleeper
}

// NewPolicy builds a policy with the default context-aware sleeper.
func NewPolicy(maxAttempts int, baseDelay time.Duration) Policy {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return Policy{MaxAttempts: maxAttempts, BaseDelay: baseDelay, sleep: defaultSleep}
}

// WithSleeper returns a copy of the policy using the supplied sleeper.
func (p Policy) WithSleeper(sleep Sleeper) Policy {
	p.sleep = sleep
	return p
}

// Execute runs op until it succeeds, the attempt budget is exhausted, or a
// terminal failure occurs. Terminal failures abort immediately without
// consuming further budget so the caller can fail over to another provider.
// The returned records cover every attempt made, including the final one.
func (p Policy) Execute(ctx context.Context, provider string, op func(ctx context.Context) error) ([]AttemptRecord, error) {
	sleep := p.sleep
	if sleep == nil {
		sleep = defaultSleep
	}

	var records []AttemptRecord
	var lastErr error
	for attempt := 1; attempt <= p.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		started := time.Now()
		err := op(ctx)
		latency := time.Since(started)
		if err == nil {
			records = append(records, AttemptRecord{
				Provider: provider,
				Attempt:  attempt,
				Outcome:  OutcomeSuccess,
				Latency:  latency,
			})
			return records, nil
		}

		records = append(records, AttemptRecord{
			Provider: provider,
			Attempt:  attempt,
			Outcome:  classifyOutcome(err),
			Latency:  latency,
			Err:      err,
		})
		lastErr = err

		if !services.IsRetriable(err) {
			return records, err
		}
		if attempt == p.MaxAttempts {
			break
		}
		if err := sleep(ctx, p.BaseDelay*time.Duration(attempt)); err != nil {
			return records, err
		}
	}
	return records, fmt.Errorf("all %d attempts against %s failed: %w", p.MaxAttempts, provider, lastErr)
}

func classifyOutcome(err error) Outcome {
	if errors.Is(err, context.DeadlineExceeded) {
		return OutcomeTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return OutcomeTimeout
	}
	return OutcomeFailure
}
