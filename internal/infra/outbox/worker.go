package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrWorkerNotConfigured = errors.New("outbox: worker missing dependencies")
	ErrMalformedRecord     = errors.New("outbox: record payload is not JSON")
)

type Producer interface {
	Publish(ctx context.Context, topic string, key string, payload []byte, headers map[string]string) error
}

// CloudEvent is the structured-mode envelope published for every record.
type CloudEvent struct {
	SpecVersion     string          `json:"specversion"`
	ID              string          `json:"id"`
	Type            string          `json:"type"`
	Source          string          `json:"source"`
	Subject         string          `json:"subject"`
	Time            time.Time       `json:"time"`
	DataContentType string          `json:"datacontenttype"`
	Data            json.RawMessage `json:"data"`
	TraceParent     string          `json:"traceparent,omitempty"`
}

// Worker relays outbox records to the broker, keyed by aggregate so one
// partition carries a saga's events in journal order.
type Worker struct {
	Store       ClaimStore
	Producer    Producer
	Logger      *slog.Logger
	Interval    time.Duration
	TopicPrefix string
	Source      string
	ID          string
	Backoff     []time.Duration
}

func (w *Worker) Run(ctx context.Context) error {
	if w.Store == nil || w.Producer == nil {
		return ErrWorkerNotConfigured
	}
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()
	for {
		if err := w.drain(ctx); err != nil {
			w.logger().Error("outbox relay failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (w *Worker) drain(ctx context.Context) error {
	for ctx.Err() == nil {
		relayed, err := w.ProcessOnce(ctx)
		if err != nil || !relayed {
			return err
		}
	}
	return nil
}

// ProcessOnce relays at most one record. It reports false when nothing was
// claimable or the broker refused the record.
func (w *Worker) ProcessOnce(ctx context.Context) (bool, error) {
	doc, err := w.Store.Claim(ctx, w.workerID())
	if err != nil || doc == nil {
		return false, err
	}
	topic := TopicFor(w.TopicPrefix, doc.Name)
	payload, headers, err := w.envelope(doc)
	if err != nil {
		w.logger().Error("outbox record malformed", "id", doc.ID, "aggregate", doc.Aggregate, "error", err)
		return true, w.Store.MarkFailed(ctx, doc.ID, w.nextRetry(doc.Attempts), err.Error())
	}
	if err := w.Producer.Publish(ctx, topic, doc.Aggregate, payload, headers); err != nil {
		w.logger().Warn("outbox publish failed", "id", doc.ID, "topic", topic, "attempts", doc.Attempts+1, "error", err)
		if markErr := w.Store.MarkFailed(ctx, doc.ID, w.nextRetry(doc.Attempts), err.Error()); markErr != nil {
			return false, markErr
		}
		return false, nil
	}
	w.logger().Debug("outbox record relayed", "id", doc.ID, "topic", topic, "aggregate", doc.Aggregate)
	return true, w.Store.MarkSent(ctx, doc.ID)
}

func (w *Worker) envelope(doc *EventDocument) ([]byte, map[string]string, error) {
	if !json.Valid(doc.Payload) {
		return nil, nil, ErrMalformedRecord
	}
	ce := CloudEvent{
		SpecVersion:     "1.0",
		ID:              doc.ID,
		Type:            doc.Name + ".v1",
		Source:          w.source(),
		Subject:         doc.Aggregate,
		Time:            doc.OccurredAt.UTC(),
		DataContentType: "application/json",
		Data:            doc.Payload,
		TraceParent:     doc.Headers["traceparent"],
	}
	payload, err := json.Marshal(ce)
	if err != nil {
		return nil, nil, fmt.Errorf("outbox: envelope %s: %w", doc.ID, err)
	}
	headers := make(map[string]string, len(doc.Headers)+2)
	for k, v := range doc.Headers {
		headers[k] = v
	}
	headers["content-type"] = "application/cloudevents+json"
	headers["ce-id"] = doc.ID
	return payload, headers, nil
}

// TopicFor maps "booking.SAGA_STARTED" to "<prefix>booking.events.v1".
func TopicFor(prefix, name string) string {
	base, _, _ := strings.Cut(name, ".")
	if base == "" {
		base = name
	}
	return prefix + base + ".events.v1"
}

func (w *Worker) workerID() string {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	return w.ID
}

func (w *Worker) interval() time.Duration {
	if w.Interval <= 0 {
		return 500 * time.Millisecond
	}
	return w.Interval
}

func (w *Worker) nextRetry(attempts int) time.Time {
	switch {
	case attempts < len(w.Backoff):
		return time.Now().Add(w.Backoff[attempts])
	case len(w.Backoff) > 0:
		return time.Now().Add(w.Backoff[len(w.Backoff)-1])
	default:
		return time.Now().Add(5 * time.Second)
	}
}

func (w *Worker) source() string {
	if w.Source != "" {
		return w.Source
	}
	return "app://travelsaga"
}

func (w *Worker) logger() *slog.Logger {
	if w.Logger == nil {
		return slog.Default()
	}
	return w.Logger
}
