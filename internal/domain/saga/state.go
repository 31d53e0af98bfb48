package saga

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"travelsaga/internal/domain/shared/daterange"
	"travelsaga/internal/domain/shared/events"
)

var (
	ErrSagaNotFound      = errors.New("saga: not found")
	ErrInvalidTransition = errors.New("saga: invalid status transition")
	ErrConcurrentUpdate  = errors.New("saga: concurrent update detected")
	ErrInvalidTrip       = errors.New("saga: invalid trip request")
	ErrStepAlreadyBooked = errors.New("saga: step already booked")
	ErrStepNotBooked     = errors.New("saga: step not booked")
	ErrIncomplete        = errors.New("saga: not every step is booked")
	ErrUnknownEvent      = errors.New("saga: unknown event type")
)

type Status string

const (
	StatusPending      Status = "PENDING"
	StatusInProgress   Status = "IN_PROGRESS"
	StatusCompleted    Status = "COMPLETED"
	StatusCompensating Status = "COMPENSATING"
	StatusCompensated  Status = "COMPENSATED"
	StatusFailed       Status = "FAILED"
)

var transitions = map[Status][]Status{
	StatusPending:      {StatusInProgress, StatusFailed},
	StatusInProgress:   {StatusCompleted, StatusCompensating, StatusFailed},
	StatusCompensating: {StatusCompensated, StatusFailed},
}

// CanTransition reports whether moving from s to next is allowed.
func (s Status) CanTransition(next Status) bool {
	return slices.Contains(transitions[s], next)
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCompensated || s == StatusFailed
}

// Type selects the coordination strategy of a saga.
type Type string

const (
	TypeOrchestration Type = "ORCHESTRATION"
	TypeChoreography  Type = "CHOREOGRAPHY"
)

// ParseType defaults unknown or empty values to orchestration.
func ParseType(raw string) Type {
	if strings.EqualFold(strings.TrimSpace(raw), string(TypeChoreography)) {
		return TypeChoreography
	}
	return TypeOrchestration
}

type Step string

const (
	StepFlight Step = "FLIGHT"
	StepHotel  Step = "HOTEL"
	StepCar    Step = "CAR"
)

// Steps returns the booking order.
func Steps() []Step {
	return []Step{StepFlight, StepHotel, StepCar}
}

// Lower is the lowercase label used in log and metric labels.
func (s Step) Lower() string {
	return strings.ToLower(string(s))
}

// TripRequest carries the immutable trip parameters of a saga.
type TripRequest struct {
	CustomerID  string
	Destination string
	Dates       daterange.DateRange
	GuestCount  int
}

func (r TripRequest) Validate() error {
	var problems []string
	if strings.TrimSpace(r.CustomerID) == "" {
		problems = append(problems, "customer id required")
	}
	if strings.TrimSpace(r.Destination) == "" {
		problems = append(problems, "destination required")
	}
	if r.GuestCount <= 0 {
		problems = append(problems, "guest count must be positive")
	}
	if err := r.Dates.Validate(); err != nil {
		problems = append(problems, err.Error())
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidTrip, strings.Join(problems, "; "))
	}
	return nil
}

// UnresolvedCompensation is a booking whose cancel call never succeeded.
type UnresolvedCompensation struct {
	Step      Step
	BookingID string
	Error     string
	At        time.Time
}

// State is the saga aggregate. Mutations go through the methods below, which
// enforce the status machine and record journal events for the caller to publish.
type State struct {
	ID             string
	Trip           TripRequest
	Type           Type
	Status         Status
	Bookings       map[Step]string
	CompletedSteps []Step
	FailureReason  string
	Unresolved     []UnresolvedCompensation
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Version        int64
	events.Recorder[BookingEvent]
}

// New creates a PENDING saga for the trip.
func New(id string, trip TripRequest, typ Type, now time.Time) (*State, error) {
	if id == "" {
		return nil, errors.New("saga: id required")
	}
	if err := trip.Validate(); err != nil {
		return nil, err
	}
	if typ != TypeChoreography {
		typ = TypeOrchestration
	}
	now = now.UTC()
	return &State{
		ID:        id,
		Trip:      trip,
		Type:      typ,
		Status:    StatusPending,
		Bookings:  make(map[Step]string, len(Steps())),
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *State) FlightBookingID() string { return s.Bookings[StepFlight] }
func (s *State) HotelBookingID() string  { return s.Bookings[StepHotel] }
func (s *State) CarRentalID() string     { return s.Bookings[StepCar] }

// IsUnresolved reports whether a cancel for step already failed.
func (s *State) IsUnresolved(step Step) bool {
	return slices.ContainsFunc(s.Unresolved, func(u UnresolvedCompensation) bool { return u.Step == step })
}

// HasCompleted reports whether step holds an uncompensated booking.
func (s *State) HasCompleted(step Step) bool {
	return slices.Contains(s.CompletedSteps, step)
}

// CompensationOrder returns completed steps newest first.
func (s *State) CompensationOrder() []Step {
	out := slices.Clone(s.CompletedSteps)
	slices.Reverse(out)
	return out
}

func (s *State) Start(now time.Time) error {
	if err := s.transition(StatusInProgress, now); err != nil {
		return err
	}
	s.record(EventSagaStarted, tripPayload{
		CustomerID:   s.Trip.CustomerID,
		Destination:  s.Trip.Destination,
		CheckInDate:  s.Trip.Dates.CheckInDate(),
		CheckOutDate: s.Trip.Dates.CheckOutDate(),
		GuestCount:   s.Trip.GuestCount,
		SagaType:     s.Type,
	})
	return nil
}

// RecordBooked stores the booking id of a successful step call.
func (s *State) RecordBooked(step Step, bookingID string, now time.Time) error {
	if s.Status != StatusInProgress {
		return fmt.Errorf("%w: book %s while %s", ErrInvalidTransition, step, s.Status)
	}
	if bookingID == "" {
		return fmt.Errorf("saga: empty booking id for %s", step)
	}
	if s.HasCompleted(step) {
		return fmt.Errorf("%w: %s", ErrStepAlreadyBooked, step)
	}
	if s.Bookings == nil {
		s.Bookings = make(map[Step]string, len(Steps()))
	}
	s.Bookings[step] = bookingID
	s.CompletedSteps = append(s.CompletedSteps, step)
	s.UpdatedAt = now.UTC()
	s.record(BookedEvent(step), StepPayload{Step: step, BookingID: bookingID})
	return nil
}

// FailStep records the first failure reason and moves the saga to COMPENSATING.
func (s *State) FailStep(step Step, cause error, now time.Time) error {
	reason := fmt.Sprintf("%s booking failed", step.Lower())
	if cause != nil {
		reason = fmt.Sprintf("%s: %v", reason, cause)
	}
	if err := s.BeginCompensation(reason, now); err != nil {
		return err
	}
	s.record(FailedEvent(step), StepPayload{Step: step, Reason: reason})
	return nil
}

// BeginCompensation moves an in-progress saga to COMPENSATING without blaming a step.
func (s *State) BeginCompensation(reason string, now time.Time) error {
	if err := s.transition(StatusCompensating, now); err != nil {
		return err
	}
	s.setFailureReason(reason)
	return nil
}

// RecordCancelled clears a step after its cancel call succeeded.
func (s *State) RecordCancelled(step Step, now time.Time) error {
	if s.Status != StatusCompensating {
		return fmt.Errorf("%w: cancel %s while %s", ErrInvalidTransition, step, s.Status)
	}
	bookingID, err := s.release(step)
	if err != nil {
		return err
	}
	s.UpdatedAt = now.UTC()
	s.record(CancelledEvent(step), StepPayload{Step: step, BookingID: bookingID})
	return nil
}

// RecordCompensationFailure keeps the step booked and remembers it for
// reconciliation. The saga continues compensating the remaining steps.
func (s *State) RecordCompensationFailure(step Step, cause error, now time.Time) error {
	if s.Status != StatusCompensating {
		return fmt.Errorf("%w: compensation failure for %s while %s", ErrInvalidTransition, step, s.Status)
	}
	if !s.HasCompleted(step) {
		return fmt.Errorf("%w: %s", ErrStepNotBooked, step)
	}
	msg := "cancel failed"
	if cause != nil {
		msg = cause.Error()
	}
	now = now.UTC()
	entry := UnresolvedCompensation{Step: step, BookingID: s.Bookings[step], Error: msg, At: now}
	s.Unresolved = append(s.Unresolved, entry)
	s.UpdatedAt = now
	s.record(EventCompensationFailed, StepPayload{Step: step, BookingID: entry.BookingID, Reason: msg})
	return nil
}

// ResolveCompensation clears an unresolved step once a later cancel succeeded.
func (s *State) ResolveCompensation(step Step, now time.Time) error {
	idx := slices.IndexFunc(s.Unresolved, func(u UnresolvedCompensation) bool { return u.Step == step })
	if idx < 0 {
		return fmt.Errorf("%w: no unresolved compensation for %s", ErrStepNotBooked, step)
	}
	bookingID, err := s.release(step)
	if err != nil {
		return err
	}
	s.Unresolved = slices.Delete(s.Unresolved, idx, idx+1)
	s.UpdatedAt = now.UTC()
	s.record(EventCompensationResolved, StepPayload{Step: step, BookingID: bookingID})
	return nil
}

func (s *State) MarkCompleted(now time.Time) error {
	if len(s.CompletedSteps) != len(Steps()) {
		return ErrIncomplete
	}
	if err := s.transition(StatusCompleted, now); err != nil {
		return err
	}
	s.record(EventSagaCompleted, TerminalPayload{Status: StatusCompleted})
	return nil
}

func (s *State) MarkCompensated(now time.Time) error {
	if err := s.transition(StatusCompensated, now); err != nil {
		return err
	}
	s.record(EventSagaCompensated, TerminalPayload{
		Status:        StatusCompensated,
		FailureReason: s.FailureReason,
		Unresolved:    len(s.Unresolved),
	})
	return nil
}

// MarkFailed closes the saga after an infrastructure error.
func (s *State) MarkFailed(reason string, now time.Time) error {
	if err := s.transition(StatusFailed, now); err != nil {
		return err
	}
	s.setFailureReason(reason)
	s.record(EventSagaFailed, TerminalPayload{Status: StatusFailed, FailureReason: s.FailureReason})
	return nil
}

// Clone returns a deep copy without pending events.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	c := &State{
		ID:             s.ID,
		Trip:           s.Trip,
		Type:           s.Type,
		Status:         s.Status,
		Bookings:       make(map[Step]string, len(s.Bookings)),
		CompletedSteps: slices.Clone(s.CompletedSteps),
		FailureReason:  s.FailureReason,
		Unresolved:     slices.Clone(s.Unresolved),
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Version:        s.Version,
	}
	for k, v := range s.Bookings {
		c.Bookings[k] = v
	}
	return c
}

func (s *State) transition(next Status, now time.Time) error {
	if !s.Status.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, next)
	}
	s.Status = next
	s.UpdatedAt = now.UTC()
	return nil
}

func (s *State) release(step Step) (string, error) {
	idx := slices.Index(s.CompletedSteps, step)
	if idx < 0 {
		return "", fmt.Errorf("%w: %s", ErrStepNotBooked, step)
	}
	bookingID := s.Bookings[step]
	s.CompletedSteps = slices.Delete(s.CompletedSteps, idx, idx+1)
	delete(s.Bookings, step)
	return bookingID, nil
}

func (s *State) setFailureReason(reason string) {
	if s.FailureReason == "" {
		s.FailureReason = reason
	}
}

func (s *State) record(typ EventType, payload any) {
	s.Record(NewEvent(s.ID, typ, payload, s.UpdatedAt))
}

type tripPayload struct {
	CustomerID   string `json:"customerId"`
	Destination  string `json:"destination"`
	CheckInDate  string `json:"checkInDate"`
	CheckOutDate string `json:"checkOutDate"`
	GuestCount   int    `json:"guestCount"`
	SagaType     Type   `json:"sagaType"`
}
