package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"travelsaga/internal/app/commands"
	"travelsaga/internal/app/dto"
	"travelsaga/internal/app/middleware"
	appsaga "travelsaga/internal/app/saga"
	domainsaga "travelsaga/internal/domain/saga"
	"travelsaga/internal/domain/shared/daterange"
)

const bookTripKey = "booking.book_trip"

var ErrNoCoordinator = errors.New("booking: no coordinator for saga type")

// BookTripCommand starts one booking saga.
type BookTripCommand struct {
	CustomerID      string `validate:"required"`
	Destination     string `validate:"required"`
	CheckInDate     string `validate:"required,datetime=2006-01-02"`
	CheckOutDate    string `validate:"required,datetime=2006-01-02"`
	GuestCount      int    `validate:"gte=1"`
	SagaType        string
	IdempotencyKeyV string
}

func (c BookTripCommand) Key() string { return bookTripKey }

func (c BookTripCommand) IdempotencyKey() string { return c.IdempotencyKeyV }

func (c BookTripCommand) ResultPrototype() any { return &dto.BookingResponse{} }

// Validate checks what struct tags cannot: the date order.
func (c BookTripCommand) Validate() error {
	_, err := c.Trip()
	return err
}

func (c BookTripCommand) Trip() (domainsaga.TripRequest, error) {
	dates, err := daterange.Parse(c.CheckInDate, c.CheckOutDate)
	if err != nil {
		return domainsaga.TripRequest{}, err
	}
	return domainsaga.TripRequest{
		CustomerID:  c.CustomerID,
		Destination: c.Destination,
		Dates:       dates,
		GuestCount:  c.GuestCount,
	}, nil
}

// BookTripHandler hands the trip to the coordinator selected by SagaType.
type BookTripHandler struct {
	coordinators map[domainsaga.Type]appsaga.Coordinator
	Logger       *slog.Logger
}

func NewBookTripHandler(logger *slog.Logger, coordinators ...appsaga.Coordinator) *BookTripHandler {
	h := &BookTripHandler{coordinators: make(map[domainsaga.Type]appsaga.Coordinator, len(coordinators)), Logger: logger}
	for _, c := range coordinators {
		h.coordinators[c.Type()] = c
	}
	if h.Logger == nil {
		h.Logger = slog.Default()
	}
	return h
}

func (h *BookTripHandler) Handle(ctx context.Context, cmd BookTripCommand) (dto.BookingResponse, error) {
	trip, err := cmd.Trip()
	if err != nil {
		return dto.BookingResponse{}, fmt.Errorf("%w: %w", domainsaga.ErrInvalidTrip, err)
	}
	typ := domainsaga.ParseType(cmd.SagaType)
	coordinator, ok := h.coordinators[typ]
	if !ok {
		return dto.BookingResponse{}, fmt.Errorf("%w: %s", ErrNoCoordinator, typ)
	}
	out, err := coordinator.Execute(ctx, trip)
	if err != nil {
		return dto.BookingResponse{}, err
	}
	h.Logger.InfoContext(ctx, "booking saga finished",
		"saga_id", out.SagaID, "saga_type", out.Type, "status", out.Status, "unresolved", len(out.Unresolved))
	return dto.MapBookingResponse(out), nil
}

var _ commands.Handler[BookTripCommand, dto.BookingResponse] = (*BookTripHandler)(nil)
var _ middleware.IdempotentCommand = BookTripCommand{}
var _ middleware.SelfValidating = BookTripCommand{}
