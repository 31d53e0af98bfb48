package saga

import (
	"context"
	"fmt"
	"strings"
	"time"

	domainsaga "travelsaga/internal/domain/saga"
)

// Coordinator runs a booking saga to a terminal outcome.
type Coordinator interface {
	Type() domainsaga.Type
	Execute(ctx context.Context, req domainsaga.TripRequest) (Outcome, error)
}

// Outcome is what the caller learns about a finished (or still running) saga.
type Outcome struct {
	SagaID     string
	Type       domainsaga.Type
	Status     domainsaga.Status
	Message    string
	Unresolved []domainsaga.UnresolvedCompensation
}

func (o Outcome) Succeeded() bool {
	return o.Status == domainsaga.StatusCompleted
}

// Metrics observes saga lifecycle and step calls.
type Metrics interface {
	SagaStarted(typ domainsaga.Type)
	SagaFinished(typ domainsaga.Type, status domainsaga.Status, elapsed time.Duration)
	StepCall(step domainsaga.Step, action, outcome string, elapsed time.Duration)
	CompensationFailed(step domainsaga.Step)
}

type nopMetrics struct{}

func (nopMetrics) SagaStarted(domainsaga.Type)                                    {}
func (nopMetrics) SagaFinished(domainsaga.Type, domainsaga.Status, time.Duration) {}
func (nopMetrics) StepCall(domainsaga.Step, string, string, time.Duration)        {}
func (nopMetrics) CompensationFailed(domainsaga.Step)                             {}

// outcomeOf describes state in the words returned to the caller.
func outcomeOf(state *domainsaga.State) Outcome {
	out := Outcome{
		SagaID:     state.ID,
		Type:       state.Type,
		Status:     state.Status,
		Unresolved: append([]domainsaga.UnresolvedCompensation(nil), state.Unresolved...),
	}
	switch state.Status {
	case domainsaga.StatusCompleted:
		out.Message = fmt.Sprintf("Trip booked: flight %s, hotel %s, car %s",
			state.FlightBookingID(), state.HotelBookingID(), state.CarRentalID())
	case domainsaga.StatusCompensated:
		out.Message = "Booking failed: " + state.FailureReason + "; "
		if len(state.Unresolved) == 0 {
			out.Message += "all reservations were cancelled"
		} else {
			out.Message += "cancellation pending reconciliation for " + describeUnresolved(state.Unresolved)
		}
	case domainsaga.StatusFailed:
		out.Message = "Booking failed: " + state.FailureReason
		if len(state.Unresolved) > 0 {
			out.Message += "; cancellation pending reconciliation for " + describeUnresolved(state.Unresolved)
		}
	default:
		out.Message = "Booking is still being processed; query the saga for its final status"
	}
	return out
}

func describeUnresolved(items []domainsaga.UnresolvedCompensation) string {
	parts := make([]string, 0, len(items))
	for _, u := range items {
		parts = append(parts, fmt.Sprintf("%s %s", strings.ToLower(string(u.Step)), u.BookingID))
	}
	return strings.Join(parts, ", ")
}
