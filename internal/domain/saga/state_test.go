package saga

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelsaga/internal/domain/shared/daterange"
)

func testTrip(t *testing.T) TripRequest {
	t.Helper()
	dates, err := daterange.Parse("2026-07-01", "2026-07-08")
	require.NoError(t, err)
	return TripRequest{CustomerID: "cust-1", Destination: "Lisbon", Dates: dates, GuestCount: 2}
}

func startedSaga(t *testing.T) *State {
	t.Helper()
	s, err := New("saga-1", testTrip(t), TypeOrchestration, time.Now())
	require.NoError(t, err)
	require.NoError(t, s.Start(time.Now()))
	return s
}

func eventTypes(evs []BookingEvent) []EventType {
	out := make([]EventType, 0, len(evs))
	for _, ev := range evs {
		out = append(out, ev.Type)
	}
	return out
}

func TestNewRejectsInvalidTrip(t *testing.T) {
	_, err := New("saga-1", TripRequest{}, TypeOrchestration, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidTrip))
}

func TestNewDefaultsToOrchestration(t *testing.T) {
	s, err := New("saga-1", testTrip(t), Type("bogus"), time.Now())
	require.NoError(t, err)
	assert.Equal(t, TypeOrchestration, s.Type)
	assert.Equal(t, StatusPending, s.Status)
}

func TestParseType(t *testing.T) {
	assert.Equal(t, TypeChoreography, ParseType("choreography"))
	assert.Equal(t, TypeOrchestration, ParseType(""))
	assert.Equal(t, TypeOrchestration, ParseType("SOMETHING"))
}

func TestStatusTransitions(t *testing.T) {
	cases := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusInProgress, true},
		{StatusPending, StatusFailed, true},
		{StatusPending, StatusCompleted, false},
		{StatusInProgress, StatusCompleted, true},
		{StatusInProgress, StatusCompensating, true},
		{StatusInProgress, StatusCompensated, false},
		{StatusCompensating, StatusCompensated, true},
		{StatusCompensating, StatusInProgress, false},
		{StatusCompleted, StatusCompensating, false},
		{StatusCompensated, StatusFailed, false},
		{StatusFailed, StatusPending, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestHappyPathRecordsEvents(t *testing.T) {
	s := startedSaga(t)
	now := time.Now()
	require.NoError(t, s.RecordBooked(StepFlight, "FL-1", now))
	require.NoError(t, s.RecordBooked(StepHotel, "HT-1", now))
	require.NoError(t, s.RecordBooked(StepCar, "CR-1", now))
	require.NoError(t, s.MarkCompleted(now))

	assert.Equal(t, StatusCompleted, s.Status)
	assert.Equal(t, []Step{StepFlight, StepHotel, StepCar}, s.CompletedSteps)
	assert.Equal(t, "FL-1", s.FlightBookingID())
	assert.Equal(t, "HT-1", s.HotelBookingID())
	assert.Equal(t, "CR-1", s.CarRentalID())
	assert.Equal(t, []EventType{
		EventSagaStarted, EventFlightBooked, EventHotelBooked, EventCarBooked, EventSagaCompleted,
	}, eventTypes(s.DrainEvents()))
	assert.Empty(t, s.DrainEvents())
}

func TestMarkCompletedRequiresAllSteps(t *testing.T) {
	s := startedSaga(t)
	require.NoError(t, s.RecordBooked(StepFlight, "FL-1", time.Now()))
	assert.ErrorIs(t, s.MarkCompleted(time.Now()), ErrIncomplete)
}

func TestRecordBookedTwiceFails(t *testing.T) {
	s := startedSaga(t)
	require.NoError(t, s.RecordBooked(StepFlight, "FL-1", time.Now()))
	assert.ErrorIs(t, s.RecordBooked(StepFlight, "FL-2", time.Now()), ErrStepAlreadyBooked)
	assert.Equal(t, "FL-1", s.FlightBookingID())
}

func TestFailureReasonSetOnce(t *testing.T) {
	s := startedSaga(t)
	require.NoError(t, s.FailStep(StepHotel, errors.New("no rooms"), time.Now()))
	first := s.FailureReason
	assert.Contains(t, first, "no rooms")
	require.NoError(t, s.MarkFailed("store unavailable", time.Now()))
	assert.Equal(t, first, s.FailureReason)
}

func TestCompensationKeepsInvariant(t *testing.T) {
	s := startedSaga(t)
	now := time.Now()
	require.NoError(t, s.RecordBooked(StepFlight, "FL-1", now))
	require.NoError(t, s.RecordBooked(StepHotel, "HT-1", now))
	require.NoError(t, s.FailStep(StepCar, errors.New("sold out"), now))
	assert.Equal(t, []Step{StepHotel, StepFlight}, s.CompensationOrder())

	require.NoError(t, s.RecordCancelled(StepHotel, now))
	assert.Equal(t, []Step{StepFlight}, s.CompletedSteps)
	assert.Empty(t, s.HotelBookingID())

	require.NoError(t, s.RecordCompensationFailure(StepFlight, errors.New("timeout"), now))
	assert.Equal(t, []Step{StepFlight}, s.CompletedSteps, "failed cancel leaves the booking in place")
	require.Len(t, s.Unresolved, 1)
	assert.Equal(t, "FL-1", s.Unresolved[0].BookingID)

	require.NoError(t, s.MarkCompensated(now))
	require.NoError(t, s.ResolveCompensation(StepFlight, now))
	assert.Empty(t, s.CompletedSteps)
	assert.Empty(t, s.Unresolved)
	assert.Empty(t, s.Bookings)

	assert.Equal(t, []EventType{
		EventSagaStarted, EventFlightBooked, EventHotelBooked, EventCarFailed,
		EventHotelCancelled, EventCompensationFailed, EventSagaCompensated, EventCompensationResolved,
	}, eventTypes(s.DrainEvents()))
}

func TestCancelUnbookedStepFails(t *testing.T) {
	s := startedSaga(t)
	require.NoError(t, s.FailStep(StepFlight, nil, time.Now()))
	assert.ErrorIs(t, s.RecordCancelled(StepFlight, time.Now()), ErrStepNotBooked)
}

func TestCloneIsIndependent(t *testing.T) {
	s := startedSaga(t)
	require.NoError(t, s.RecordBooked(StepFlight, "FL-1", time.Now()))
	c := s.Clone()
	c.Bookings[StepFlight] = "changed"
	c.CompletedSteps[0] = StepCar
	assert.Equal(t, "FL-1", s.FlightBookingID())
	assert.Equal(t, StepFlight, s.CompletedSteps[0])
	assert.Empty(t, c.PendingEvents())
}

func TestEventHelpersCoverEveryStep(t *testing.T) {
	for _, step := range Steps() {
		assert.NotEmpty(t, BookedEvent(step))
		assert.NotEmpty(t, FailedEvent(step))
		assert.NotEmpty(t, CompensateEvent(step))
		assert.NotEmpty(t, CancelledEvent(step))
	}
	for _, typ := range AllEventTypes() {
		parsed, err := ParseEventType(string(typ))
		require.NoError(t, err)
		assert.Equal(t, typ, parsed)
	}
	_, err := ParseEventType("NOPE")
	assert.ErrorIs(t, err, ErrUnknownEvent)
}

func TestSortEventsBreaksTiesBySequence(t *testing.T) {
	ts := time.Now()
	evs := []BookingEvent{
		{Sequence: 3, Timestamp: ts},
		{Sequence: 1, Timestamp: ts},
		{Sequence: 2, Timestamp: ts.Add(-time.Second)},
	}
	SortEvents(evs)
	assert.Equal(t, []int64{2, 1, 3}, []int64{evs[0].Sequence, evs[1].Sequence, evs[2].Sequence})
}
