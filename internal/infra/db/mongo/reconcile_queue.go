package mongo

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"travelsaga/internal/app/reconcile"
	domainsaga "travelsaga/internal/domain/saga"
)

type ReconcileQueue struct {
	col *mongo.Collection
}

func NewReconcileQueue(db *mongo.Database) *ReconcileQueue {
	col := db.Collection("saga_reconcile")
	ensureIndexes(col, mongo.IndexModel{Keys: bson.D{{Key: "next_attempt", Value: 1}}})
	return &ReconcileQueue{col: col}
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
	opts := options.Find().SetSort(bson.D{{Key: "next_attempt", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	cur, err := q.col.Find(ctx, bson.M{"next_attempt": bson.M{"$lte": now}}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var docs []reconcileDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	items := make([]reconcile.Item, 0, len(docs))
	for _, d := range docs {
		items = append(items, d.toItem())
	}
	return items, nil
}

func (q *ReconcileQueue) Reschedule(ctx context.Context, item reconcile.Item) error {
	return q.upsert(ctx, item)
}

func (q *ReconcileQueue) Remove(ctx context.Context, sagaID string, step domainsaga.Step) error {
	_, err := q.col.DeleteOne(ctx, bson.M{"_id": reconcileKey(sagaID, step)})
	return err
}

func (q *ReconcileQueue) upsert(ctx context.Context, item reconcile.Item) error {
	doc := reconcileDocument{
		SagaID:      item.SagaID,
		Step:        string(item.Step),
		BookingID:   item.BookingID,
		Attempts:    item.Attempts,
		LastError:   item.LastError,
		NextAttempt: item.NextAttempt.UTC(),
		CreatedAt:   item.CreatedAt.UTC(),
	}
	_, err := q.col.UpdateByID(ctx, reconcileKey(item.SagaID, item.Step), bson.M{"$set": doc}, options.Update().SetUpsert(true))
	return err
}

type reconcileDocument struct {
	SagaID      string    `bson:"saga_id"`
	Step        string    `bson:"step"`
	BookingID   string    `bson:"booking_id"`
	Attempts    int       `bson:"attempts"`
	LastError   string    `bson:"last_error"`
	NextAttempt time.Time `bson:"next_attempt"`
	CreatedAt   time.Time `bson:"created_at"`
}

func (d reconcileDocument) toItem() reconcile.Item {
	return reconcile.Item{
		SagaID:      d.SagaID,
		Step:        domainsaga.Step(d.Step),
		BookingID:   d.BookingID,
		Attempts:    d.Attempts,
		LastError:   d.LastError,
		NextAttempt: d.NextAttempt.UTC(),
		CreatedAt:   d.CreatedAt.UTC(),
	}
}

func reconcileKey(sagaID string, step domainsaga.Step) string {
	return sagaID + "/" + string(step)
}

var _ reconcile.Queue = (*ReconcileQueue)(nil)
