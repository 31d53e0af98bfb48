package eventlog

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"travelsaga/internal/domain/saga"
)

// Listener reacts to a journal event.
type Listener interface {
	Handle(ctx context.Context, ev saga.BookingEvent) error
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(ctx context.Context, ev saga.BookingEvent) error

func (f ListenerFunc) Handle(ctx context.Context, ev saga.BookingEvent) error {
	return f(ctx, ev)
}

// Table routes event kinds to listeners. It is built once at wiring time and
// read concurrently afterwards.
type Table struct {
	routes map[saga.EventType][]Listener
}

func NewTable() *Table {
	return &Table{routes: make(map[saga.EventType][]Listener)}
}

// Route appends listeners for typ, keeping registration order.
func (t *Table) Route(typ saga.EventType, listeners ...Listener) *Table {
	for _, l := range listeners {
		if l == nil {
			panic("eventlog: nil listener for " + string(typ))
		}
		t.routes[typ] = append(t.routes[typ], l)
	}
	return t
}

func (t *Table) Listeners(typ saga.EventType) []Listener {
	if t == nil {
		return nil
	}
	return t.routes[typ]
}

// Routed lists the event kinds that have at least one listener.
func (t *Table) Routed() []saga.EventType {
	out := make([]saga.EventType, 0, len(t.routes))
	for _, typ := range saga.AllEventTypes() {
		if len(t.routes[typ]) > 0 {
			out = append(out, typ)
		}
	}
	return out
}

// Validate fails when any of the required kinds has no listener.
func (t *Table) Validate(required ...saga.EventType) error {
	var missing []string
	for _, typ := range required {
		if !slices.Contains(t.Routed(), typ) {
			missing = append(missing, string(typ))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("eventlog: no listener for %s", strings.Join(missing, ", "))
	}
	return nil
}
