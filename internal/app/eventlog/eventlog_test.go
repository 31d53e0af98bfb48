package eventlog

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelsaga/internal/app/outbox"
	"travelsaga/internal/domain/saga"
)

type sliceJournal struct {
	mu  sync.Mutex
	seq int64
	evs []saga.BookingEvent
}

func (j *sliceJournal) Append(_ context.Context, ev saga.BookingEvent) (saga.BookingEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	ev.Sequence = j.seq
	ev.ID = fmt.Sprintf("ev-%d", j.seq)
	j.evs = append(j.evs, ev)
	return ev, nil
}

func (j *sliceJournal) ListBySagaID(_ context.Context, sagaID string) ([]saga.BookingEvent, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	var out []saga.BookingEvent
	for _, ev := range j.evs {
		if ev.SagaID == sagaID {
			out = append(out, ev)
		}
	}
	return out, nil
}

type recordingOutbox struct {
	mu      sync.Mutex
	records []outbox.EventRecord
}

func (o *recordingOutbox) Add(_ context.Context, rec outbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.records = append(o.records, rec)
	return nil
}

func closeDispatcher(t *testing.T, d *KeyedDispatcher) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
}

func TestDispatcherSerializesPerSaga(t *testing.T) {
	var (
		mu       sync.Mutex
		seen     = map[string][]int64{}
		inFlight = map[string]*atomic.Int32{}
		overlap  atomic.Bool
	)
	for _, id := range []string{"a", "b", "c"} {
		inFlight[id] = &atomic.Int32{}
	}
	table := NewTable().Route(saga.EventFlightBooked, ListenerFunc(func(_ context.Context, ev saga.BookingEvent) error {
		if inFlight[ev.SagaID].Add(1) > 1 {
			overlap.Store(true)
		}
		time.Sleep(time.Millisecond)
		mu.Lock()
		seen[ev.SagaID] = append(seen[ev.SagaID], ev.Sequence)
		mu.Unlock()
		inFlight[ev.SagaID].Add(-1)
		return nil
	}))
	d := NewKeyedDispatcher(table, 2, nil)

	for i := int64(1); i <= 10; i++ {
		for _, id := range []string{"a", "b", "c"} {
			require.NoError(t, d.Submit(saga.BookingEvent{SagaID: id, Type: saga.EventFlightBooked, Sequence: i}))
		}
	}
	closeDispatcher(t, d)

	assert.False(t, overlap.Load(), "listeners overlapped for one saga")
	for _, id := range []string{"a", "b", "c"} {
		assert.Equal(t, []int64{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, seen[id])
	}
	assert.Zero(t, d.Pending())
}

func TestSubmitDoesNotWaitForListeners(t *testing.T) {
	release := make(chan struct{})
	table := NewTable().Route(saga.EventSagaStarted, ListenerFunc(func(context.Context, saga.BookingEvent) error {
		<-release
		return nil
	}))
	d := NewKeyedDispatcher(table, 1, nil)
	pub := NewPublisher(&sliceJournal{}, WithDispatcher(d))

	done := make(chan error, 1)
	go func() { done <- pub.Emit(context.Background(), "s1", saga.EventSagaStarted, nil) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish blocked on listener")
	}
	close(release)
	closeDispatcher(t, d)
}

func TestListenerEventsQueueBehindCurrentOne(t *testing.T) {
	var order []saga.EventType
	var mu sync.Mutex
	journal := &sliceJournal{}
	table := NewTable()
	d := NewKeyedDispatcher(table, 4, nil)
	pub := NewPublisher(journal, WithDispatcher(d))
	record := func(ev saga.BookingEvent) {
		mu.Lock()
		order = append(order, ev.Type)
		mu.Unlock()
	}
	table.Route(saga.EventSagaStarted, ListenerFunc(func(ctx context.Context, ev saga.BookingEvent) error {
		assert.NoError(t, pub.Emit(ctx, ev.SagaID, saga.EventFlightBooked, nil))
		record(ev)
		return nil
	}))
	table.Route(saga.EventFlightBooked, ListenerFunc(func(_ context.Context, ev saga.BookingEvent) error {
		record(ev)
		return nil
	}))

	require.NoError(t, pub.Emit(context.Background(), "s1", saga.EventSagaStarted, nil))
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 2
	}, time.Second, 5*time.Millisecond)
	closeDispatcher(t, d)
	assert.Equal(t, []saga.EventType{saga.EventSagaStarted, saga.EventFlightBooked}, order)
}

func TestListenerPanicIsContained(t *testing.T) {
	var calls atomic.Int32
	table := NewTable().
		Route(saga.EventCarBooked, ListenerFunc(func(context.Context, saga.BookingEvent) error { panic("boom") })).
		Route(saga.EventCarBooked, ListenerFunc(func(context.Context, saga.BookingEvent) error {
			calls.Add(1)
			return nil
		}))
	d := NewKeyedDispatcher(table, 1, nil)
	require.NoError(t, d.Submit(saga.BookingEvent{SagaID: "s", Type: saga.EventCarBooked}))
	closeDispatcher(t, d)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSubmitAfterCloseFails(t *testing.T) {
	d := NewKeyedDispatcher(NewTable(), 1, nil)
	closeDispatcher(t, d)
	assert.ErrorIs(t, d.Submit(saga.BookingEvent{SagaID: "s"}), ErrDispatcherClosed)
}

func TestPublisherStagesOutboxRecords(t *testing.T) {
	box := &recordingOutbox{}
	journal := &sliceJournal{}
	pub := NewPublisher(journal, WithOutbox(box, nil))

	require.NoError(t, pub.Emit(context.Background(), "s1", saga.EventHotelBooked, saga.StepPayload{Step: saga.StepHotel, BookingID: "HT-1"}))
	require.Len(t, box.records, 1)
	rec := box.records[0]
	assert.Equal(t, "booking.HOTEL_BOOKED", rec.Name)
	assert.Equal(t, "s1", rec.Aggregate)
	assert.Equal(t, "ev-1", rec.ID)
	assert.Contains(t, string(rec.Payload), `"bookingId":"HT-1"`)

	evs, err := pub.Events(context.Background(), "s1")
	require.NoError(t, err)
	require.Len(t, evs, 1)
}

func TestTableValidate(t *testing.T) {
	table := NewTable().Route(saga.EventSagaStarted, ListenerFunc(func(context.Context, saga.BookingEvent) error { return nil }))
	require.NoError(t, table.Validate(saga.EventSagaStarted))
	err := table.Validate(saga.EventSagaStarted, saga.EventHotelBooked)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HOTEL_BOOKED")
	assert.Equal(t, []saga.EventType{saga.EventSagaStarted}, table.Routed())
}
