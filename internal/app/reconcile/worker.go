package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"travelsaga/internal/domain/saga"
)

var ErrWorkerNotConfigured = errors.New("reconcile: worker missing dependencies")

// Item is a booking whose compensation failed and still has to be cancelled.
type Item struct {
	SagaID      string
	Step        saga.Step
	BookingID   string
	Attempts    int
	LastError   string
	NextAttempt time.Time
	CreatedAt   time.Time
}

// Queue holds unresolved compensations until a cancel succeeds.
type Queue interface {
	Enqueue(ctx context.Context, item Item) error
	Due(ctx context.Context, now time.Time, limit int) ([]Item, error)
	Reschedule(ctx context.Context, item Item) error
	Remove(ctx context.Context, sagaID string, step saga.Step) error
}

// Canceller cancels a booking at the provider responsible for step.
type Canceller interface {
	Cancel(ctx context.Context, step saga.Step, bookingID string) error
}

// EventPublisher journals the events recorded on a resolved saga.
type EventPublisher interface {
	PublishAll(ctx context.Context, evs []saga.BookingEvent) error
}

type Metrics interface {
	Reconciled(step saga.Step, resolved bool)
}

type nopMetrics struct{}

func (nopMetrics) Reconciled(saga.Step, bool) {}

// Worker periodically retries unresolved compensations.
type Worker struct {
	Queue     Queue
	Repo      saga.Repository
	Cancel    Canceller
	Publisher EventPublisher
	Metrics   Metrics
	Logger    *slog.Logger
	Interval  time.Duration
	Backoff   []time.Duration
	BatchSize int
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Queue == nil || w.Repo == nil || w.Cancel == nil {
		return ErrWorkerNotConfigured
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil {
				w.logger().Error("reconcile pass failed", "error", err)
			}
		}
	}
}

// ProcessOnce handles every due item and reports how many were resolved.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	items, err := w.Queue.Due(ctx, time.Now().UTC(), w.batchSize())
	if err != nil {
		return 0, err
	}
	resolved := 0
	var errs []error
	for _, item := range items {
		ok, err := w.process(ctx, item)
		if err != nil {
			errs = append(errs, err)
		}
		if ok {
			resolved++
		}
	}
	return resolved, errors.Join(errs...)
}

// process retries one item. Items of sagas that are still being coordinated
// wait, since the coordinator owns the saga until it is terminal.
func (w *Worker) process(ctx context.Context, item Item) (bool, error) {
	log := w.logger().With("saga_id", item.SagaID, "step", item.Step, "booking_id", item.BookingID)
	state, err := w.Repo.FindBySagaID(ctx, item.SagaID)
	switch {
	case errors.Is(err, saga.ErrSagaNotFound):
		state = nil
	case err != nil:
		return false, err
	case !state.Status.Terminal():
		item.NextAttempt = w.nextRetry(item.Attempts)
		log.Debug("saga still running, reconcile deferred", "status", state.Status)
		return false, w.Queue.Reschedule(ctx, item)
	case !state.IsUnresolved(item.Step):
		log.Warn("saga has no matching unresolved compensation")
		return true, w.Queue.Remove(ctx, item.SagaID, item.Step)
	}

	if err := w.Cancel.Cancel(ctx, item.Step, item.BookingID); err != nil {
		w.metrics().Reconciled(item.Step, false)
		item.Attempts++
		item.LastError = err.Error()
		item.NextAttempt = w.nextRetry(item.Attempts)
		log.Warn("reconcile cancel failed", "attempts", item.Attempts, "error", err)
		return false, w.Queue.Reschedule(ctx, item)
	}
	w.metrics().Reconciled(item.Step, true)

	if state == nil {
		log.Warn("reconciled booking of unknown saga")
		return true, w.Queue.Remove(ctx, item.SagaID, item.Step)
	}
	if err := state.ResolveCompensation(item.Step, time.Now()); err != nil {
		return false, fmt.Errorf("reconcile: resolve %s of saga %s: %w", item.Step, item.SagaID, err)
	}
	evs := state.DrainEvents()
	if err := w.Repo.Save(ctx, state); err != nil {
		// cancel is idempotent, so the next pass can redo the whole item
		return false, fmt.Errorf("reconcile: save saga %s: %w", item.SagaID, err)
	}
	if w.Publisher != nil {
		if err := w.Publisher.PublishAll(ctx, evs); err != nil {
			log.Error("journal resolved compensation", "error", err)
		}
	}
	log.Info("compensation resolved", "attempts", item.Attempts+1)
	return true, w.Queue.Remove(ctx, item.SagaID, item.Step)
}

func (w *Worker) nextRetry(attempts int) time.Time {
	now := time.Now().UTC()
	if attempts < len(w.Backoff) {
		return now.Add(w.Backoff[attempts])
	}
	if len(w.Backoff) > 0 {
		return now.Add(w.Backoff[len(w.Backoff)-1])
	}
	return now.Add(30 * time.Second)
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 10 * time.Second
	}
	return w.Interval
}

func (w *Worker) batchSize() int {
	if w.BatchSize <= 0 {
		return 50
	}
	return w.BatchSize
}

func (w *Worker) metrics() Metrics {
	if w.Metrics == nil {
		return nopMetrics{}
	}
	return w.Metrics
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
