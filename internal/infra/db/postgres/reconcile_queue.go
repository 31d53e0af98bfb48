package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"travelsaga/internal/app/reconcile"
	domainsaga "travelsaga/internal/domain/saga"
)

type ReconcileQueue struct {
	db *sql.DB
}

func NewReconcileQueue(db *sql.DB) *ReconcileQueue {
	return &ReconcileQueue{db: db}
}

func (q *ReconcileQueue) Enqueue(ctx context.Context, item reconcile.Item) error {
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextAttempt.IsZero() {
		item.NextAttempt = now
	}
	return q.upsert(ctx, item)
}

func (q *ReconcileQueue) Due(ctx context.Context, now time.Time, limit int) ([]reconcile.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.db.QueryContext(ctx, `SELECT saga_id, step, booking_id, attempts, last_error, next_attempt, created_at
		FROM saga_reconcile WHERE next_attempt <= $1 ORDER BY next_attempt LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: due reconcile items: %w", err)
	}
	defer rows.Close()
	var out []reconcile.Item
	for rows.Next() {
		var (
			item reconcile.Item
			step string
		)
		if err := rows.Scan(&item.SagaID, &step, &item.BookingID, &item.Attempts, &item.LastError, &item.NextAttempt, &item.CreatedAt); err != nil {
			return nil, err
		}
		item.Step = domainsaga.Step(step)
		out = append(out, item)
	}
	return out, rows.Err()
}

func (q *ReconcileQueue) Reschedule(ctx context.Context, item reconcile.Item) error {
	return q.upsert(ctx, item)
}

func (q *ReconcileQueue) Remove(ctx context.Context, sagaID string, step domainsaga.Step) error {
	_, err := q.db.ExecContext(ctx, `DELETE FROM saga_reconcile WHERE saga_id = $1 AND step = $2`, sagaID, string(step))
	return err
}

func (q *ReconcileQueue) upsert(ctx context.Context, item reconcile.Item) error {
	_, err := q.db.ExecContext(ctx, `INSERT INTO saga_reconcile (saga_id, step, booking_id, attempts, last_error, next_attempt, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (saga_id, step) DO UPDATE SET
			booking_id = EXCLUDED.booking_id, attempts = EXCLUDED.attempts,
			last_error = EXCLUDED.last_error, next_attempt = EXCLUDED.next_attempt`,
		item.SagaID, string(item.Step), item.BookingID, item.Attempts, item.LastError, item.NextAttempt.UTC(), item.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("postgres: upsert reconcile item: %w", err)
	}
	return nil
}

var _ reconcile.Queue = (*ReconcileQueue)(nil)
