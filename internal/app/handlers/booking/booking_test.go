package booking

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"travelsaga/internal/app/dto"
	appsaga "travelsaga/internal/app/saga"
	domainsaga "travelsaga/internal/domain/saga"
	"travelsaga/internal/domain/shared/daterange"
	"travelsaga/internal/infra/storage/memory"
)

type stubCoordinator struct {
	typ domainsaga.Type
	out appsaga.Outcome
	got []domainsaga.TripRequest
}

func (s *stubCoordinator) Type() domainsaga.Type { return s.typ }

func (s *stubCoordinator) Execute(_ context.Context, req domainsaga.TripRequest) (appsaga.Outcome, error) {
	s.got = append(s.got, req)
	return s.out, nil
}

func validCommand() BookTripCommand {
	return BookTripCommand{
		CustomerID:   "cust-1",
		Destination:  "Rome",
		CheckInDate:  "2026-05-01",
		CheckOutDate: "2026-05-04",
		GuestCount:   2,
	}
}

func TestBookTripRoutesBySagaType(t *testing.T) {
	orch := &stubCoordinator{typ: domainsaga.TypeOrchestration, out: appsaga.Outcome{
		SagaID: "s-1", Type: domainsaga.TypeOrchestration, Status: domainsaga.StatusCompleted, Message: "ok",
	}}
	chor := &stubCoordinator{typ: domainsaga.TypeChoreography, out: appsaga.Outcome{
		SagaID: "s-2", Type: domainsaga.TypeChoreography, Status: domainsaga.StatusCompensated, Message: "Booking failed: x",
	}}
	h := NewBookTripHandler(nil, orch, chor)

	res, err := h.Handle(context.Background(), validCommand())
	require.NoError(t, err)
	assert.Equal(t, dto.BookingResponse{BookingID: "s-1", Status: dto.BookingSucceeded, Message: "ok", SagaType: "ORCHESTRATION"}, res)
	require.Len(t, orch.got, 1)
	assert.Equal(t, 3, orch.got[0].Dates.Nights())

	cmd := validCommand()
	cmd.SagaType = "choreography"
	res, err = h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.Equal(t, dto.BookingFailed, res.Status)
	assert.Equal(t, "CHOREOGRAPHY", res.SagaType)
	assert.Len(t, chor.got, 1)

	cmd.SagaType = "unheard-of"
	_, err = h.Handle(context.Background(), cmd)
	require.NoError(t, err)
	assert.Len(t, orch.got, 2, "unknown types fall back to orchestration")
}

func TestBookTripRejectsReversedDates(t *testing.T) {
	cmd := validCommand()
	cmd.CheckInDate, cmd.CheckOutDate = cmd.CheckOutDate, cmd.CheckInDate
	assert.Error(t, cmd.Validate())

	h := NewBookTripHandler(nil, &stubCoordinator{typ: domainsaga.TypeOrchestration})
	_, err := h.Handle(context.Background(), cmd)
	assert.ErrorIs(t, err, domainsaga.ErrInvalidTrip)
}

func TestBookTripWithoutCoordinator(t *testing.T) {
	h := NewBookTripHandler(nil)
	_, err := h.Handle(context.Background(), validCommand())
	assert.ErrorIs(t, err, ErrNoCoordinator)
}

func TestSagaQueries(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSagaRepository()
	journal := memory.NewJournal()
	dates, err := daterange.Parse("2026-05-01", "2026-05-04")
	require.NoError(t, err)
	state, err := domainsaga.New("s-1", domainsaga.TripRequest{CustomerID: "c", Destination: "Rome", Dates: dates, GuestCount: 1}, domainsaga.TypeOrchestration, time.Now())
	require.NoError(t, err)
	require.NoError(t, repo.Create(ctx, state))
	require.NoError(t, state.Start(time.Now()))
	for _, ev := range state.DrainEvents() {
		_, err := journal.Append(ctx, ev)
		require.NoError(t, err)
	}

	view, err := (&GetSagaHandler{Repo: repo}).Handle(ctx, GetSagaQuery{SagaID: "s-1"})
	require.NoError(t, err)
	assert.Equal(t, "PENDING", view.Status)
	assert.Equal(t, "2026-05-01", view.Trip.CheckInDate)

	evs, err := (&ListSagaEventsHandler{Repo: repo, Journal: journal}).Handle(ctx, ListSagaEventsQuery{SagaID: "s-1"})
	require.NoError(t, err)
	require.Len(t, evs.Items, 1)
	assert.Equal(t, "SAGA_STARTED", evs.Items[0].EventType)

	_, err = (&GetSagaHandler{Repo: repo}).Handle(ctx, GetSagaQuery{SagaID: "missing"})
	assert.ErrorIs(t, err, domainsaga.ErrSagaNotFound)
	_, err = (&ListSagaEventsHandler{Repo: repo, Journal: journal}).Handle(ctx, ListSagaEventsQuery{SagaID: "missing"})
	assert.ErrorIs(t, err, domainsaga.ErrSagaNotFound)
}
