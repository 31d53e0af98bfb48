package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"travelsaga/internal/app/reconcile"
	"travelsaga/internal/domain/saga"
)

// ReconcileQueue stores unresolved compensations keyed by saga and step.
type ReconcileQueue struct {
	mu    sync.Mutex
	items map[string]reconcile.Item
}

func NewReconcileQueue() *ReconcileQueue {
	return &ReconcileQueue{items: make(map[string]reconcile.Item)}
}

func (q *ReconcileQueue) Enqueue(ctx context.Context, item reconcile.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}
	if item.NextAttempt.IsZero() {
		item.NextAttempt = item.CreatedAt
	}
	q.items[queueKey(item.SagaID, item.Step)] = item
	return nil
}

func (q *ReconcileQueue) Due(ctx context.Context, now time.Time, limit int) ([]reconcile.Item, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]reconcile.Item, 0, len(q.items))
	for _, item := range q.items {
		if !item.NextAttempt.After(now) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NextAttempt.Before(out[j].NextAttempt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (q *ReconcileQueue) Reschedule(ctx context.Context, item reconcile.Item) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items[queueKey(item.SagaID, item.Step)] = item
	return nil
}

func (q *ReconcileQueue) Remove(ctx context.Context, sagaID string, step saga.Step) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.items, queueKey(sagaID, step))
	return nil
}

// List returns every queued item regardless of schedule.
func (q *ReconcileQueue) List() []reconcile.Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]reconcile.Item, 0, len(q.items))
	for _, item := range q.items {
		out = append(out, item)
	}
	return out
}

func queueKey(sagaID string, step saga.Step) string {
	return sagaID + "/" + string(step)
}

var _ reconcile.Queue = (*ReconcileQueue)(nil)
