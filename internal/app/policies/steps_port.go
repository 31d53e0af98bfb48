package policies

import (
	"context"
	"errors"

	"travelsaga/internal/domain/saga"
	"travelsaga/internal/domain/shared/daterange"
)

// ErrStepUnavailable is returned by Book when the provider refuses the reservation.
var ErrStepUnavailable = errors.New("policies: step unavailable")

// Trip is what a step provider needs to place a reservation.
type Trip struct {
	SagaID      string
	CustomerID  string
	Destination string
	Dates       daterange.DateRange
	GuestCount  int
}

// TripFromState extracts the provider parameters of a saga.
func TripFromState(s *saga.State) Trip {
	return Trip{
		SagaID:      s.ID,
		CustomerID:  s.Trip.CustomerID,
		Destination: s.Trip.Destination,
		Dates:       s.Trip.Dates,
		GuestCount:  s.Trip.GuestCount,
	}
}

// StepService books and cancels one leg of a trip. Cancel must be idempotent.
type StepService interface {
	Step() saga.Step
	Book(ctx context.Context, trip Trip) (string, error)
	Cancel(ctx context.Context, bookingID string) error
}

// StepDirectory resolves the provider responsible for a step.
type StepDirectory map[saga.Step]StepService

// NewStepDirectory indexes services by their step.
func NewStepDirectory(services ...StepService) StepDirectory {
	dir := make(StepDirectory, len(services))
	for _, svc := range services {
		if svc != nil {
			dir[svc.Step()] = svc
		}
	}
	return dir
}

// Lookup returns the provider for step or an error naming the missing step.
func (d StepDirectory) Lookup(step saga.Step) (StepService, error) {
	svc, ok := d[step]
	if !ok {
		return nil, errors.New("policies: no step service for " + string(step))
	}
	return svc, nil
}
