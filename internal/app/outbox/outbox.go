package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"travelsaga/internal/domain/shared/events"
)

// EventRecord is a journal event staged for the broker relay. Name is
// "<namespace>.<event>" and Aggregate is the partition key.
type EventRecord struct {
	ID         string
	Name       string
	Payload    []byte
	OccurredAt time.Time
	Aggregate  string
	Headers    map[string]string
}

type Outbox interface {
	Add(ctx context.Context, record EventRecord) error
}

type EventEncoder interface {
	Encode(ev events.DomainEvent) (EventRecord, error)
}

// Identified events keep their journal id through the relay, which is what
// consumer inboxes deduplicate on.
type Identified interface {
	EventID() string
}

type JSONEventEncoder struct {
	Namespace string
	NewID     func() string
}

func (e JSONEventEncoder) Encode(ev events.DomainEvent) (EventRecord, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return EventRecord{}, fmt.Errorf("outbox: encode %s: %w", ev.EventName(), err)
	}
	var id string
	if identified, ok := ev.(Identified); ok {
		id = identified.EventID()
	}
	if id == "" {
		if e.NewID != nil {
			id = e.NewID()
		} else {
			id = uuid.NewString()
		}
	}
	name := ev.EventName()
	if e.Namespace != "" {
		name = e.Namespace + "." + name
	}
	return EventRecord{
		ID:         id,
		Name:       name,
		Payload:    payload,
		OccurredAt: ev.OccurredAt().UTC(),
		Aggregate:  ev.AggregateID(),
		Headers:    map[string]string{"event-name": ev.EventName()},
	}, nil
}

// Stage encodes evs in order and adds them to box. It stops at the first error.
func Stage(ctx context.Context, box Outbox, encoder EventEncoder, evs ...events.DomainEvent) error {
	if box == nil {
		return nil
	}
	if encoder == nil {
		encoder = JSONEventEncoder{}
	}
	for _, ev := range evs {
		rec, err := encoder.Encode(ev)
		if err != nil {
			return err
		}
		if err := box.Add(ctx, rec); err != nil {
			return fmt.Errorf("outbox: add %s: %w", rec.Name, err)
		}
	}
	return nil
}
