package booking

import (
	"errors"

	"travelsaga/internal/app/commands"
	"travelsaga/internal/app/dto"
	"travelsaga/internal/app/queries"
)

// Register attaches the booking handlers to the buses.
func Register(cmdBus *commands.InMemoryBus, queryBus *queries.InMemoryBus, book *BookTripHandler, get *GetSagaHandler, events *ListSagaEventsHandler) error {
	return errors.Join(
		commands.RegisterHandler[BookTripCommand, dto.BookingResponse](cmdBus, bookTripKey, book),
		queries.RegisterHandler[GetSagaQuery, dto.SagaView](queryBus, getSagaKey, get),
		queries.RegisterHandler[ListSagaEventsQuery, dto.EventCollection](queryBus, listSagaEventsKey, events),
	)
}
