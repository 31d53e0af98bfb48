package saga

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"travelsaga/internal/app/policies"
	"travelsaga/internal/app/reconcile"
	domainsaga "travelsaga/internal/domain/saga"
)

const defaultStepTimeout = 5 * time.Second

// CompensationError reports a cancel call that kept failing after every retry.
type CompensationError struct {
	SagaID    string
	Step      domainsaga.Step
	BookingID string
	Attempts  int
	Err       error
}

func (e *CompensationError) Error() string {
	return fmt.Sprintf("saga %s: cancel %s %s failed after %d attempt(s): %v", e.SagaID, e.Step, e.BookingID, e.Attempts, e.Err)
}

func (e *CompensationError) Unwrap() error { return e.Err }

// StepRunner calls step providers with a per-call deadline. A deadline hit is
// reported as an ordinary step failure.
type StepRunner struct {
	Steps   policies.StepDirectory
	Timeout time.Duration
	Metrics Metrics
}

func (r StepRunner) Book(ctx context.Context, step domainsaga.Step, trip policies.Trip) (string, error) {
	svc, err := r.Steps.Lookup(step)
	if err != nil {
		return "", err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	start := time.Now()
	id, err := svc.Book(callCtx, trip)
	r.metrics().StepCall(step, "book", outcomeLabel(err), time.Since(start))
	if err != nil {
		return "", r.wrap(step, err)
	}
	return id, nil
}

func (r StepRunner) Cancel(ctx context.Context, step domainsaga.Step, bookingID string) error {
	svc, err := r.Steps.Lookup(step)
	if err != nil {
		return err
	}
	callCtx, cancel := context.WithTimeout(ctx, r.timeout())
	defer cancel()
	start := time.Now()
	err = svc.Cancel(callCtx, bookingID)
	r.metrics().StepCall(step, "cancel", outcomeLabel(err), time.Since(start))
	if err != nil {
		return r.wrap(step, err)
	}
	return nil
}

func (r StepRunner) wrap(step domainsaga.Step, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s call timed out after %s: %w", step.Lower(), r.timeout(), err)
	}
	return err
}

func (r StepRunner) timeout() time.Duration {
	if r.Timeout <= 0 {
		return defaultStepTimeout
	}
	return r.Timeout
}

func (r StepRunner) metrics() Metrics {
	if r.Metrics == nil {
		return nopMetrics{}
	}
	return r.Metrics
}

var _ reconcile.Canceller = StepRunner{}

func outcomeLabel(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, policies.ErrStepUnavailable):
		return "unavailable"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}

// Compensator cancels a booked step, retrying with backoff. When every attempt
// fails the booking is logged and counted, and a *CompensationError is
// returned for the caller to record on the saga. Queueing it for
// reconciliation is a separate Park call made once that record is stored.
type Compensator struct {
	Runner  StepRunner
	Backoff []time.Duration
	Queue   reconcile.Queue
	Metrics Metrics
	Logger  *slog.Logger
}

func (c *Compensator) Cancel(ctx context.Context, sagaID string, step domainsaga.Step, bookingID string) error {
	log := c.logger().With("saga_id", sagaID, "step", step, "booking_id", bookingID)
	var lastErr error
	attempts := 0
	for attempts < 1+len(c.Backoff) {
		if attempts > 0 {
			if err := sleep(ctx, c.Backoff[attempts-1]); err != nil {
				lastErr = errors.Join(lastErr, err)
				break
			}
		}
		attempts++
		lastErr = c.Runner.Cancel(ctx, step, bookingID)
		if lastErr == nil {
			log.Info("step compensated", "attempts", attempts)
			return nil
		}
		log.Warn("cancel attempt failed", "attempt", attempts, "error", lastErr)
	}

	c.metrics().CompensationFailed(step)
	log.Error("compensation failed, booking left for reconciliation", "attempts", attempts, "error", lastErr)
	return &CompensationError{SagaID: sagaID, Step: step, BookingID: bookingID, Attempts: attempts, Err: lastErr}
}

// Park hands a failed compensation to the reconcile queue.
func (c *Compensator) Park(ctx context.Context, compErr *CompensationError) {
	if c.Queue == nil || compErr == nil {
		return
	}
	item := reconcile.Item{
		SagaID:    compErr.SagaID,
		Step:      compErr.Step,
		BookingID: compErr.BookingID,
		Attempts:  compErr.Attempts,
		LastError: compErr.Err.Error(),
	}
	if err := c.Queue.Enqueue(ctx, item); err != nil {
		c.logger().Error("reconcile enqueue failed", "saga_id", compErr.SagaID, "step", compErr.Step, "error", err)
	}
}

func (c *Compensator) metrics() Metrics {
	if c.Metrics == nil {
		return nopMetrics{}
	}
	return c.Metrics
}

func (c *Compensator) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
