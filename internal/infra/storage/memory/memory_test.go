package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelsaga/internal/app/middleware"
	"travelsaga/internal/app/reconcile"
	"travelsaga/internal/domain/saga"
	"travelsaga/internal/domain/shared/daterange"
)

func newState(t *testing.T, id string) *saga.State {
	t.Helper()
	dates, err := daterange.Parse("2026-09-01", "2026-09-04")
	require.NoError(t, err)
	s, err := saga.New(id, saga.TripRequest{CustomerID: "c-1", Destination: "Rome", Dates: dates, GuestCount: 1}, saga.TypeOrchestration, time.Now())
	require.NoError(t, err)
	return s
}

func TestSagaRepositoryVersioning(t *testing.T) {
	ctx := context.Background()
	repo := NewSagaRepository()
	s := newState(t, "saga-1")
	require.NoError(t, repo.Create(ctx, s))
	assert.Equal(t, int64(1), s.Version)
	assert.ErrorIs(t, repo.Create(ctx, newState(t, "saga-1")), ErrSagaExists)

	stale, err := repo.FindBySagaID(ctx, "saga-1")
	require.NoError(t, err)

	require.NoError(t, s.Start(time.Now()))
	require.NoError(t, repo.Save(ctx, s))
	assert.Equal(t, int64(2), s.Version)

	require.NoError(t, stale.MarkFailed("late writer", time.Now()))
	assert.ErrorIs(t, repo.Save(ctx, stale), saga.ErrConcurrentUpdate)

	got, err := repo.FindBySagaID(ctx, "saga-1")
	require.NoError(t, err)
	assert.Equal(t, saga.StatusInProgress, got.Status)
	assert.Empty(t, got.PendingEvents(), "stored copies carry no pending events")

	got.Bookings[saga.StepFlight] = "mutated"
	again, err := repo.FindBySagaID(ctx, "saga-1")
	require.NoError(t, err)
	assert.Empty(t, again.FlightBookingID())

	_, err = repo.FindBySagaID(ctx, "missing")
	assert.ErrorIs(t, err, saga.ErrSagaNotFound)
	assert.ErrorIs(t, repo.Save(ctx, newState(t, "missing")), saga.ErrSagaNotFound)
}

func TestJournalOrdersBySequenceWithinTimestamp(t *testing.T) {
	ctx := context.Background()
	j := NewJournal()
	ts := time.Now().UTC()
	first, err := j.Append(ctx, saga.NewEvent("s1", saga.EventSagaStarted, nil, ts))
	require.NoError(t, err)
	_, err = j.Append(ctx, saga.NewEvent("s2", saga.EventSagaStarted, nil, ts))
	require.NoError(t, err)
	second, err := j.Append(ctx, saga.NewEvent("s1", saga.EventFlightBooked, nil, ts))
	require.NoError(t, err)

	assert.NotEmpty(t, first.ID)
	assert.Less(t, first.Sequence, second.Sequence)

	evs, err := j.ListBySagaID(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, saga.EventSagaStarted, evs[0].Type)
	assert.Equal(t, saga.EventFlightBooked, evs[1].Type)

	empty, err := j.ListBySagaID(ctx, "none")
	require.NoError(t, err)
	assert.Empty(t, empty)

	_, err = j.Append(ctx, saga.BookingEvent{Type: saga.EventSagaStarted})
	assert.Error(t, err)
}

func TestReconcileQueueDueOrdering(t *testing.T) {
	ctx := context.Background()
	q := NewReconcileQueue()
	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, reconcile.Item{SagaID: "a", Step: saga.StepHotel, NextAttempt: now.Add(-time.Second)}))
	require.NoError(t, q.Enqueue(ctx, reconcile.Item{SagaID: "b", Step: saga.StepFlight, NextAttempt: now.Add(-time.Minute)}))
	require.NoError(t, q.Enqueue(ctx, reconcile.Item{SagaID: "c", Step: saga.StepCar, NextAttempt: now.Add(time.Hour)}))

	due, err := q.Due(ctx, now, 0)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "b", due[0].SagaID)
	assert.Equal(t, "a", due[1].SagaID)

	limited, err := q.Due(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, q.Remove(ctx, "b", saga.StepFlight))
	assert.Len(t, q.List(), 2)
}

func TestIdempotencyStoreExpires(t *testing.T) {
	ctx := context.Background()
	store := NewIdempotencyStore(time.Minute)
	require.NoError(t, store.Save(ctx, middleware.IdempotencyRecord{Key: "fresh", Payload: []byte(`1`)}))
	require.NoError(t, store.Save(ctx, middleware.IdempotencyRecord{Key: "old", OccurredAt: time.Now().Add(-time.Hour)}))

	rec, ok, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []byte(`1`), rec.Payload)

	_, ok, err = store.Get(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestInboxSeen(t *testing.T) {
	in := NewInbox()
	seen, err := in.Seen(context.Background(), "e1")
	require.NoError(t, err)
	assert.False(t, seen)
	seen, err = in.Seen(context.Background(), "e1")
	require.NoError(t, err)
	assert.True(t, seen)
}
