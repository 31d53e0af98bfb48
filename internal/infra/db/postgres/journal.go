package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	domainsaga "travelsaga/internal/domain/saga"
)

// Journal appends to booking_events; the BIGSERIAL column supplies the sequence.
type Journal struct {
	db *sql.DB
}

func NewJournal(db *sql.DB) *Journal {
	return &Journal{db: db}
}

func (j *Journal) Append(ctx context.Context, ev domainsaga.BookingEvent) (domainsaga.BookingEvent, error) {
	if ev.SagaID == "" {
		return domainsaga.BookingEvent{}, errors.New("postgres: event without saga id")
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	payload := []byte(ev.Payload)
	if len(payload) == 0 {
		payload = []byte(`{}`)
	}
	err := j.db.QueryRowContext(ctx, `INSERT INTO booking_events (id, saga_id, event_type, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING sequence`,
		ev.ID, ev.SagaID, string(ev.Type), payload, ev.Timestamp,
	).Scan(&ev.Sequence)
	if err != nil {
		return domainsaga.BookingEvent{}, fmt.Errorf("postgres: append event: %w", err)
	}
	return ev, nil
}

func (j *Journal) ListBySagaID(ctx context.Context, sagaID string) ([]domainsaga.BookingEvent, error) {
	rows, err := j.db.QueryContext(ctx, `SELECT id, saga_id, event_type, payload, occurred_at, sequence
		FROM booking_events WHERE saga_id = $1 ORDER BY occurred_at, sequence`, sagaID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", err)
	}
	defer rows.Close()
	var out []domainsaga.BookingEvent
	for rows.Next() {
		var (
			ev      domainsaga.BookingEvent
			typ     string
			payload []byte
		)
		if err := rows.Scan(&ev.ID, &ev.SagaID, &typ, &payload, &ev.Timestamp, &ev.Sequence); err != nil {
			return nil, err
		}
		ev.Type = domainsaga.EventType(typ)
		ev.Payload = payload
		ev.Timestamp = ev.Timestamp.UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

var _ domainsaga.Journal = (*Journal)(nil)
