package events

import "time"

// DomainEvent is a fact an aggregate raised that still has to be published.
type DomainEvent interface {
	EventName() string
	AggregateID() string
	OccurredAt() time.Time
}

// Recorder holds the events an aggregate raised since it was last drained.
// The zero value is ready to use.
type Recorder[E DomainEvent] struct {
	pending []E
}

func (r *Recorder[E]) Record(ev E) {
	r.pending = append(r.pending, ev)
}

// PendingEvents returns a copy of the undrained events.
func (r *Recorder[E]) PendingEvents() []E {
	out := make([]E, len(r.pending))
	copy(out, r.pending)
	return out
}

// DrainEvents returns the undrained events in raise order and forgets them.
func (r *Recorder[E]) DrainEvents() []E {
	out := r.pending
	r.pending = nil
	return out
}
