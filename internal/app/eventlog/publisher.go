package eventlog

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"travelsaga/internal/app/outbox"
	"travelsaga/internal/domain/saga"
)

// Metrics observes journal appends.
type Metrics interface {
	EventPublished(typ saga.EventType)
}

type nopMetrics struct{}

func (nopMetrics) EventPublished(saga.EventType) {}

// Publisher appends events to the journal and then forwards them. Forwarding
// goes to the in-process dispatcher, the outbox relay, or both; neither waits
// for listeners to run.
type Publisher struct {
	journal    saga.Journal
	dispatcher Dispatcher
	box        outbox.Outbox
	encoder    outbox.EventEncoder
	metrics    Metrics
	logger     *slog.Logger
}

type Option func(*Publisher)

// WithDispatcher delivers appended events to in-process listeners.
func WithDispatcher(d Dispatcher) Option {
	return func(p *Publisher) { p.dispatcher = d }
}

// WithOutbox stages appended events for relay to the broker.
func WithOutbox(box outbox.Outbox, encoder outbox.EventEncoder) Option {
	return func(p *Publisher) {
		p.box = box
		if encoder != nil {
			p.encoder = encoder
		}
	}
}

func WithMetrics(m Metrics) Option {
	return func(p *Publisher) {
		if m != nil {
			p.metrics = m
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(p *Publisher) {
		if l != nil {
			p.logger = l
		}
	}
}

func NewPublisher(journal saga.Journal, opts ...Option) *Publisher {
	if journal == nil {
		panic("eventlog: journal required")
	}
	p := &Publisher{
		journal: journal,
		encoder: outbox.JSONEventEncoder{Namespace: TopicNamespace},
		metrics: nopMetrics{},
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// TopicNamespace prefixes relayed event names, which also selects the broker topic.
const TopicNamespace = "booking"

// Publish appends ev and forwards the stored copy.
func (p *Publisher) Publish(ctx context.Context, ev saga.BookingEvent) (saga.BookingEvent, error) {
	stored, err := p.journal.Append(ctx, ev)
	if err != nil {
		return saga.BookingEvent{}, fmt.Errorf("eventlog: append %s: %w", ev.Type, err)
	}
	p.metrics.EventPublished(stored.Type)
	if p.box != nil {
		if err := outbox.Stage(ctx, p.box, p.encoder, stored); err != nil {
			return stored, fmt.Errorf("eventlog: stage %s: %w", stored.Type, err)
		}
	}
	if p.dispatcher != nil {
		if err := p.dispatcher.Submit(stored); err != nil {
			return stored, fmt.Errorf("eventlog: dispatch %s: %w", stored.Type, err)
		}
	}
	p.logger.Debug("event published", "saga_id", stored.SagaID, "event_type", stored.Type, "sequence", stored.Sequence)
	return stored, nil
}

// Emit builds and publishes an event in one call.
func (p *Publisher) Emit(ctx context.Context, sagaID string, typ saga.EventType, payload any) error {
	_, err := p.Publish(ctx, saga.NewEvent(sagaID, typ, payload, time.Now()))
	return err
}

// PublishAll publishes evs in order and stops at the first error.
func (p *Publisher) PublishAll(ctx context.Context, evs []saga.BookingEvent) error {
	for _, ev := range evs {
		if _, err := p.Publish(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// Events reads the journal for one saga.
func (p *Publisher) Events(ctx context.Context, sagaID string) ([]saga.BookingEvent, error) {
	return p.journal.ListBySagaID(ctx, sagaID)
}
