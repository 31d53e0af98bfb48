package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/IBM/sarama"

	domainsaga "travelsaga/internal/domain/saga"
	"travelsaga/internal/infra/outbox"
)

var ErrMalformedEvent = errors.New("kafka: malformed journal event")

// Inbox remembers consumed event ids.
type Inbox interface {
	Seen(ctx context.Context, eventID string) (bool, error)
}

// Dispatcher is the local listener dispatcher events are fed into.
type Dispatcher interface {
	Submit(ev domainsaga.BookingEvent) error
}

// JournalHandler turns relayed CloudEvents back into journal events and feeds
// them to the local dispatcher once per event id.
type JournalHandler struct {
	Inbox      Inbox
	Dispatcher Dispatcher
	Logger     *slog.Logger
}

func (h *JournalHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	ev, err := DecodeJournalEvent(msg.Value)
	if err != nil {
		// a poison message would otherwise block the partition
		h.logger().Error("drop malformed journal event", "offset", msg.Offset, "error", err)
		return nil
	}
	seen, err := h.Inbox.Seen(ctx, ev.ID)
	if err != nil {
		return fmt.Errorf("kafka: inbox: %w", err)
	}
	if seen {
		h.logger().Debug("skip redelivered event", "event_id", ev.ID, "saga_id", ev.SagaID)
		return nil
	}
	return h.Dispatcher.Submit(ev)
}

// DecodeJournalEvent unwraps a CloudEvent whose data is a BookingEvent.
func DecodeJournalEvent(value []byte) (domainsaga.BookingEvent, error) {
	var ce outbox.CloudEvent
	if err := json.Unmarshal(value, &ce); err != nil {
		return domainsaga.BookingEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	var ev domainsaga.BookingEvent
	if err := json.Unmarshal(ce.Data, &ev); err != nil {
		return domainsaga.BookingEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	if ev.ID == "" {
		ev.ID = ce.ID
	}
	if ev.SagaID == "" {
		ev.SagaID = ce.Subject
	}
	if ev.ID == "" || ev.SagaID == "" {
		return domainsaga.BookingEvent{}, fmt.Errorf("%w: missing id or saga id", ErrMalformedEvent)
	}
	typ, err := domainsaga.ParseEventType(string(ev.Type))
	if err != nil {
		return domainsaga.BookingEvent{}, fmt.Errorf("%w: %w", ErrMalformedEvent, err)
	}
	ev.Type = typ
	return ev, nil
}

func (h *JournalHandler) logger() *slog.Logger {
	if h.Logger == nil {
		return slog.Default()
	}
	return h.Logger
}

var _ MessageHandler = (*JournalHandler)(nil)
