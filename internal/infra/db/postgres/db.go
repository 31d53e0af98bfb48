package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

const schema = `
CREATE TABLE IF NOT EXISTS saga_state (
	saga_id         TEXT PRIMARY KEY,
	saga_type       TEXT NOT NULL,
	status          TEXT NOT NULL,
	customer_id     TEXT NOT NULL,
	destination     TEXT NOT NULL,
	check_in        DATE NOT NULL,
	check_out       DATE NOT NULL,
	guest_count     INTEGER NOT NULL,
	bookings        JSONB NOT NULL DEFAULT '{}',
	completed_steps JSONB NOT NULL DEFAULT '[]',
	failure_reason  TEXT NOT NULL DEFAULT '',
	unresolved      JSONB NOT NULL DEFAULT '[]',
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL,
	version         BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_saga_state_status ON saga_state (status, updated_at);
CREATE TABLE IF NOT EXISTS booking_events (
	id          TEXT PRIMARY KEY,
	sequence    BIGSERIAL UNIQUE,
	saga_id     TEXT NOT NULL,
	event_type  TEXT NOT NULL,
	payload     JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_booking_events_saga ON booking_events (saga_id, occurred_at, sequence);
CREATE TABLE IF NOT EXISTS saga_reconcile (
	saga_id      TEXT NOT NULL,
	step         TEXT NOT NULL,
	booking_id   TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	last_error   TEXT NOT NULL DEFAULT '',
	next_attempt TIMESTAMPTZ NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (saga_id, step)
);
CREATE INDEX IF NOT EXISTS idx_saga_reconcile_due ON saga_reconcile (next_attempt);
`

// Open connects with lib/pq and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return db, nil
}

// Migrate creates the saga tables if missing.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("postgres: migrate: %w", err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}
