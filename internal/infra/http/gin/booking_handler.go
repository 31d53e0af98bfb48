package ginserver

import (
	"errors"
	"net/http"

	gin "github.com/gin-gonic/gin"

	"travelsaga/internal/app/commands"
	"travelsaga/internal/app/dto"
	bookingapp "travelsaga/internal/app/handlers/booking"
	"travelsaga/internal/app/middleware"
	"travelsaga/internal/app/queries"
	domainsaga "travelsaga/internal/domain/saga"
	"travelsaga/internal/domain/shared/daterange"
)

const healthMessage = "Booking service is healthy"

type BookingHandler struct {
	Commands commands.Bus
	Queries  queries.Bus
}

type createBookingRequest struct {
	CustomerID   string `json:"customerId"`
	Destination  string `json:"destination"`
	CheckInDate  string `json:"checkInDate"`
	CheckOutDate string `json:"checkOutDate"`
	GuestCount   int    `json:"guestCount"`
	SagaType     string `json:"sagaType"`
}

func (h BookingHandler) Create(c *gin.Context) {
	if h.Commands == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "commands unavailable"})
		return
	}
	var req createBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": err.Error()})
		return
	}
	cmd := bookingapp.BookTripCommand{
		CustomerID:      req.CustomerID,
		Destination:     req.Destination,
		CheckInDate:     req.CheckInDate,
		CheckOutDate:    req.CheckOutDate,
		GuestCount:      req.GuestCount,
		SagaType:        req.SagaType,
		IdempotencyKeyV: c.GetHeader("Idempotency-Key"),
	}
	result, err := commands.Dispatch[bookingapp.BookTripCommand, dto.BookingResponse](c.Request.Context(), h.Commands, cmd)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h BookingHandler) Health(c *gin.Context) {
	c.String(http.StatusOK, healthMessage)
}

func (h BookingHandler) Get(c *gin.Context) {
	view, err := queries.Ask[bookingapp.GetSagaQuery, dto.SagaView](c.Request.Context(), h.Queries, bookingapp.GetSagaQuery{SagaID: c.Param("id")})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (h BookingHandler) Events(c *gin.Context) {
	evs, err := queries.Ask[bookingapp.ListSagaEventsQuery, dto.EventCollection](c.Request.Context(), h.Queries, bookingapp.ListSagaEventsQuery{SagaID: c.Param("id")})
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, evs)
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, middleware.ErrValidation),
		errors.Is(err, domainsaga.ErrInvalidTrip),
		errors.Is(err, daterange.ErrInvalidRange):
		c.JSON(http.StatusBadRequest, gin.H{"code": "INVALID_REQUEST", "error": err.Error()})
	case errors.Is(err, domainsaga.ErrSagaNotFound):
		c.JSON(http.StatusNotFound, gin.H{"code": "SAGA_NOT_FOUND", "error": err.Error()})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"code": "INTERNAL", "error": "internal error"})
	}
}

var _ BookingHTTP = BookingHandler{}
