package booking

import (
	"context"

	"travelsaga/internal/app/dto"
	"travelsaga/internal/app/queries"
	domainsaga "travelsaga/internal/domain/saga"
)

const (
	getSagaKey        = "booking.get_saga"
	listSagaEventsKey = "booking.list_saga_events"
)

type GetSagaQuery struct {
	SagaID string `validate:"required"`
}

func (GetSagaQuery) Key() string { return getSagaKey }

type GetSagaHandler struct {
	Repo domainsaga.Repository
}

func (h *GetSagaHandler) Handle(ctx context.Context, q GetSagaQuery) (dto.SagaView, error) {
	state, err := h.Repo.FindBySagaID(ctx, q.SagaID)
	if err != nil {
		return dto.SagaView{}, err
	}
	return dto.MapSagaView(state), nil
}

// ListSagaEventsQuery returns the journal of one saga in order.
type ListSagaEventsQuery struct {
	SagaID string `validate:"required"`
}

func (ListSagaEventsQuery) Key() string { return listSagaEventsKey }

type ListSagaEventsHandler struct {
	Repo    domainsaga.Repository
	Journal domainsaga.Journal
}

func (h *ListSagaEventsHandler) Handle(ctx context.Context, q ListSagaEventsQuery) (dto.EventCollection, error) {
	if _, err := h.Repo.FindBySagaID(ctx, q.SagaID); err != nil {
		return dto.EventCollection{}, err
	}
	evs, err := h.Journal.ListBySagaID(ctx, q.SagaID)
	if err != nil {
		return dto.EventCollection{}, err
	}
	return dto.MapEventCollection(q.SagaID, evs), nil
}

var _ queries.Handler[GetSagaQuery, dto.SagaView] = (*GetSagaHandler)(nil)
var _ queries.Handler[ListSagaEventsQuery, dto.EventCollection] = (*ListSagaEventsHandler)(nil)
