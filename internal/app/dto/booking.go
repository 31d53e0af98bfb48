package dto

import (
	"encoding/json"
	"time"

	appsaga "travelsaga/internal/app/saga"
	domainsaga "travelsaga/internal/domain/saga"
)

const (
	BookingSucceeded = "SUCCESS"
	BookingFailed    = "FAILED"
)

// BookingResponse is the body returned by POST /bookings.
type BookingResponse struct {
	BookingID string `json:"bookingId"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	SagaType  string `json:"sagaType"`
}

func MapBookingResponse(out appsaga.Outcome) BookingResponse {
	status := BookingFailed
	if out.Succeeded() {
		status = BookingSucceeded
	}
	return BookingResponse{
		BookingID: out.SagaID,
		Status:    status,
		Message:   out.Message,
		SagaType:  string(out.Type),
	}
}

type TripView struct {
	CustomerID   string `json:"customerId"`
	Destination  string `json:"destination"`
	CheckInDate  string `json:"checkInDate"`
	CheckOutDate string `json:"checkOutDate"`
	GuestCount   int    `json:"guestCount"`
}

type UnresolvedView struct {
	Step      string    `json:"step"`
	BookingID string    `json:"bookingId"`
	Error     string    `json:"error"`
	At        time.Time `json:"at"`
}

// SagaView is the full persisted state of one saga.
type SagaView struct {
	SagaID          string           `json:"sagaId"`
	SagaType        string           `json:"sagaType"`
	Status          string           `json:"status"`
	Trip            TripView         `json:"trip"`
	FlightBookingID string           `json:"flightBookingId,omitempty"`
	HotelBookingID  string           `json:"hotelBookingId,omitempty"`
	CarRentalID     string           `json:"carRentalId,omitempty"`
	CompletedSteps  []string         `json:"completedSteps"`
	FailureReason   string           `json:"failureReason,omitempty"`
	Unresolved      []UnresolvedView `json:"unresolvedCompensations,omitempty"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	Version         int64            `json:"version"`
}

func MapSagaView(s *domainsaga.State) SagaView {
	view := SagaView{
		SagaID:   s.ID,
		SagaType: string(s.Type),
		Status:   string(s.Status),
		Trip: TripView{
			CustomerID:   s.Trip.CustomerID,
			Destination:  s.Trip.Destination,
			CheckInDate:  s.Trip.Dates.CheckInDate(),
			CheckOutDate: s.Trip.Dates.CheckOutDate(),
			GuestCount:   s.Trip.GuestCount,
		},
		FlightBookingID: s.FlightBookingID(),
		HotelBookingID:  s.HotelBookingID(),
		CarRentalID:     s.CarRentalID(),
		CompletedSteps:  make([]string, 0, len(s.CompletedSteps)),
		FailureReason:   s.FailureReason,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		Version:         s.Version,
	}
	for _, step := range s.CompletedSteps {
		view.CompletedSteps = append(view.CompletedSteps, string(step))
	}
	for _, u := range s.Unresolved {
		view.Unresolved = append(view.Unresolved, UnresolvedView{
			Step:      string(u.Step),
			BookingID: u.BookingID,
			Error:     u.Error,
			At:        u.At,
		})
	}
	return view
}

type EventView struct {
	ID        string          `json:"id"`
	SagaID    string          `json:"sagaId"`
	EventType string          `json:"eventType"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

type EventCollection struct {
	SagaID string      `json:"sagaId"`
	Items  []EventView `json:"items"`
}

func MapEventCollection(sagaID string, evs []domainsaga.BookingEvent) EventCollection {
	out := EventCollection{SagaID: sagaID, Items: make([]EventView, 0, len(evs))}
	for _, ev := range evs {
		out.Items = append(out.Items, EventView{
			ID:        ev.ID,
			SagaID:    ev.SagaID,
			EventType: string(ev.Type),
			Payload:   ev.Payload,
			Timestamp: ev.Timestamp,
			Sequence:  ev.Sequence,
		})
	}
	return out
}
