package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelsaga/internal/app/reconcile"
	"travelsaga/internal/domain/saga"
	"travelsaga/internal/domain/shared/daterange"
	"travelsaga/internal/infra/storage/memory"
)

type flakyCanceller struct {
	mu       sync.Mutex
	failures int
	calls    int
}

func (c *flakyCanceller) Cancel(context.Context, saga.Step, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.failures > 0 {
		c.failures--
		return errors.New("provider still down")
	}
	return nil
}

type capturePublisher struct {
	evs []saga.BookingEvent
}

func (p *capturePublisher) PublishAll(_ context.Context, evs []saga.BookingEvent) error {
	p.evs = append(p.evs, evs...)
	return nil
}

func compensatedWithUnresolvedHotel(t *testing.T, repo *memory.SagaRepository) *saga.State {
	t.Helper()
	dates, err := daterange.Parse("2026-03-01", "2026-03-03")
	require.NoError(t, err)
	now := time.Now()
	s, err := saga.New("saga-r", saga.TripRequest{CustomerID: "c", Destination: "Paris", Dates: dates, GuestCount: 1}, saga.TypeOrchestration, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(context.Background(), s))
	require.NoError(t, s.Start(now))
	require.NoError(t, s.RecordBooked(saga.StepFlight, "FL-1", now))
	require.NoError(t, s.RecordBooked(saga.StepHotel, "HT-1", now))
	require.NoError(t, s.FailStep(saga.StepCar, errors.New("sold out"), now))
	require.NoError(t, s.RecordCompensationFailure(saga.StepHotel, errors.New("timeout"), now))
	require.NoError(t, s.RecordCancelled(saga.StepFlight, now))
	require.NoError(t, s.MarkCompensated(now))
	s.DrainEvents()
	require.NoError(t, repo.Save(context.Background(), s))
	return s
}

func TestWorkerResolvesAfterRetry(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSagaRepository()
	queue := memory.NewReconcileQueue()
	s := compensatedWithUnresolvedHotel(t, repo)
	require.NoError(t, queue.Enqueue(ctx, reconcile.Item{SagaID: s.ID, Step: saga.StepHotel, BookingID: "HT-1", Attempts: 3}))

	canceller := &flakyCanceller{failures: 1}
	pub := &capturePublisher{}
	w := &reconcile.Worker{Queue: queue, Repo: repo, Cancel: canceller, Publisher: pub, Backoff: []time.Duration{0}}

	resolved, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
	items := queue.List()
	require.Len(t, items, 1)
	assert.Equal(t, 4, items[0].Attempts)
	assert.Equal(t, "provider still down", items[0].LastError)

	resolved, err = w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, queue.List())
	assert.Equal(t, 2, canceller.calls)

	stored, err := repo.FindBySagaID(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, stored.Unresolved)
	assert.Empty(t, stored.CompletedSteps)
	assert.Equal(t, saga.StatusCompensated, stored.Status)
	require.Len(t, pub.evs, 1)
	assert.Equal(t, saga.EventCompensationResolved, pub.evs[0].Type)
}

func TestWorkerDefersItemsOfRunningSagas(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSagaRepository()
	queue := memory.NewReconcileQueue()
	dates, err := daterange.Parse("2026-03-01", "2026-03-03")
	require.NoError(t, err)
	now := time.Now()
	s, err := saga.New("saga-live", saga.TripRequest{CustomerID: "c", Destination: "Rome", Dates: dates, GuestCount: 1}, saga.TypeOrchestration, now)
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, s))
	require.NoError(t, s.Start(now))
	require.NoError(t, s.RecordBooked(saga.StepFlight, "FL-1", now))
	require.NoError(t, s.RecordBooked(saga.StepHotel, "HT-1", now))
	require.NoError(t, s.FailStep(saga.StepCar, errors.New("sold out"), now))
	require.NoError(t, s.RecordCompensationFailure(saga.StepHotel, errors.New("timeout"), now))
	s.DrainEvents()
	require.NoError(t, repo.Save(ctx, s))
	require.NoError(t, queue.Enqueue(ctx, reconcile.Item{SagaID: s.ID, Step: saga.StepHotel, BookingID: "HT-1", Attempts: 3}))

	canceller := &flakyCanceller{}
	w := &reconcile.Worker{Queue: queue, Repo: repo, Cancel: canceller, Backoff: []time.Duration{0}}
	resolved, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Zero(t, canceller.calls, "the coordinator still owns the saga")

	items := queue.List()
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Attempts)
	stored, err := repo.FindBySagaID(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.Version, stored.Version)
	assert.True(t, stored.IsUnresolved(saga.StepHotel))
}

func TestWorkerDropsItemsWithoutUnresolvedEntry(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSagaRepository()
	queue := memory.NewReconcileQueue()
	s := compensatedWithUnresolvedHotel(t, repo)
	require.NoError(t, queue.Enqueue(ctx, reconcile.Item{SagaID: s.ID, Step: saga.StepFlight, BookingID: "FL-1"}))

	canceller := &flakyCanceller{}
	w := &reconcile.Worker{Queue: queue, Repo: repo, Cancel: canceller}
	resolved, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, queue.List())
	assert.Zero(t, canceller.calls)
}

func TestWorkerDropsItemsOfUnknownSagas(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewReconcileQueue()
	require.NoError(t, queue.Enqueue(ctx, reconcile.Item{SagaID: "ghost", Step: saga.StepCar, BookingID: "CR-9"}))
	w := &reconcile.Worker{Queue: queue, Repo: memory.NewSagaRepository(), Cancel: &flakyCanceller{}}

	resolved, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, resolved)
	assert.Empty(t, queue.List())
}

func TestWorkerSkipsItemsNotYetDue(t *testing.T) {
	ctx := context.Background()
	queue := memory.NewReconcileQueue()
	require.NoError(t, queue.Enqueue(ctx, reconcile.Item{SagaID: "s", Step: saga.StepCar, NextAttempt: time.Now().Add(time.Hour)}))
	canceller := &flakyCanceller{}
	w := &reconcile.Worker{Queue: queue, Repo: memory.NewSagaRepository(), Cancel: canceller}

	resolved, err := w.ProcessOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, resolved)
	assert.Zero(t, canceller.calls)
}

func TestRunRequiresDependencies(t *testing.T) {
	w := &reconcile.Worker{}
	assert.ErrorIs(t, w.Run(context.Background()), reconcile.ErrWorkerNotConfigured)
}
