package saga

import (
	"encoding/json"
	"fmt"
	"time"
)

// EventType names a fact recorded in the booking journal.
type EventType string

const (
	EventSagaStarted          EventType = "SAGA_STARTED"
	EventFlightBooked         EventType = "FLIGHT_BOOKED"
	EventFlightFailed         EventType = "FLIGHT_FAILED"
	EventHotelBooked          EventType = "HOTEL_BOOKED"
	EventHotelFailed          EventType = "HOTEL_FAILED"
	EventCarBooked            EventType = "CAR_BOOKED"
	EventCarFailed            EventType = "CAR_FAILED"
	EventCompensateFlight     EventType = "COMPENSATE_FLIGHT"
	EventCompensateHotel      EventType = "COMPENSATE_HOTEL"
	EventCompensateCar        EventType = "COMPENSATE_CAR"
	EventFlightCancelled      EventType = "FLIGHT_CANCELLED"
	EventHotelCancelled       EventType = "HOTEL_CANCELLED"
	EventCarCancelled         EventType = "CAR_CANCELLED"
	EventCompensationFailed   EventType = "COMPENSATION_FAILED"
	EventCompensationResolved EventType = "COMPENSATION_RESOLVED"
	EventSagaCompleted        EventType = "SAGA_COMPLETED"
	EventSagaCompensated      EventType = "SAGA_COMPENSATED"
	EventSagaFailed           EventType = "SAGA_FAILED"
)

// AllEventTypes lists every journal event kind.
func AllEventTypes() []EventType {
	return []EventType{
		EventSagaStarted,
		EventFlightBooked, EventFlightFailed,
		EventHotelBooked, EventHotelFailed,
		EventCarBooked, EventCarFailed,
		EventCompensateFlight, EventCompensateHotel, EventCompensateCar,
		EventFlightCancelled, EventHotelCancelled, EventCarCancelled,
		EventCompensationFailed, EventCompensationResolved,
		EventSagaCompleted, EventSagaCompensated, EventSagaFailed,
	}
}

// ParseEventType maps a wire name back to a known kind.
func ParseEventType(raw string) (EventType, error) {
	for _, t := range AllEventTypes() {
		if string(t) == raw {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownEvent, raw)
}

// Terminal reports whether the event closes a saga.
func (t EventType) Terminal() bool {
	switch t {
	case EventSagaCompleted, EventSagaCompensated, EventSagaFailed:
		return true
	default:
		return false
	}
}

type stepEvents struct {
	booked, failed, compensate, cancelled EventType
}

var eventsByStep = map[Step]stepEvents{
	StepFlight: {EventFlightBooked, EventFlightFailed, EventCompensateFlight, EventFlightCancelled},
	StepHotel:  {EventHotelBooked, EventHotelFailed, EventCompensateHotel, EventHotelCancelled},
	StepCar:    {EventCarBooked, EventCarFailed, EventCompensateCar, EventCarCancelled},
}

func BookedEvent(s Step) EventType     { return eventsByStep[s].booked }
func FailedEvent(s Step) EventType     { return eventsByStep[s].failed }
func CompensateEvent(s Step) EventType { return eventsByStep[s].compensate }
func CancelledEvent(s Step) EventType  { return eventsByStep[s].cancelled }

// BookingEvent is one entry of the append-only journal.
type BookingEvent struct {
	ID        string          `json:"id"`
	SagaID    string          `json:"sagaId"`
	Type      EventType       `json:"eventType"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp time.Time       `json:"timestamp"`
	Sequence  int64           `json:"sequence"`
}

func (e BookingEvent) EventName() string     { return string(e.Type) }
func (e BookingEvent) AggregateID() string   { return e.SagaID }
func (e BookingEvent) OccurredAt() time.Time { return e.Timestamp }
func (e BookingEvent) EventID() string       { return e.ID }

// NewEvent builds an unsaved journal entry; the journal assigns ID and Sequence.
func NewEvent(sagaID string, typ EventType, payload any, at time.Time) BookingEvent {
	return BookingEvent{
		SagaID:    sagaID,
		Type:      typ,
		Payload:   encodePayload(payload),
		Timestamp: at.UTC(),
	}
}

// DecodePayload unmarshals the event payload into out.
func (e BookingEvent) DecodePayload(out any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, out)
}

func encodePayload(payload any) json.RawMessage {
	if payload == nil {
		return json.RawMessage(`{}`)
	}
	if raw, ok := payload.(json.RawMessage); ok {
		return raw
	}
	data, err := json.Marshal(payload)
	if err != nil {
		data, _ = json.Marshal(map[string]string{"encodeError": err.Error()})
	}
	return data
}

// StepPayload accompanies booked, failed and cancelled events.
type StepPayload struct {
	Step      Step   `json:"step"`
	BookingID string `json:"bookingId,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// TerminalPayload accompanies the closing event of a saga.
type TerminalPayload struct {
	Status        Status `json:"status"`
	FailureReason string `json:"failureReason,omitempty"`
	Unresolved    int    `json:"unresolvedCompensations,omitempty"`
}
