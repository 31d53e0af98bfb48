package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainsaga "travelsaga/internal/domain/saga"
)

const journalSequenceKey = "booking_events"

// Journal appends booking events to booking_events. Sequence numbers come
// from a counter document so ties on timestamp stay ordered across writers.
type Journal struct {
	col      *mongo.Collection
	counters *mongo.Collection
}

func NewJournal(db *mongo.Database) *Journal {
	col := db.Collection("booking_events")
	ensureIndexes(col, mongo.IndexModel{
		Keys: bson.D{{Key: "saga_id", Value: 1}, {Key: "timestamp", Value: 1}, {Key: "sequence", Value: 1}},
	})
	return &Journal{col: col, counters: db.Collection("counters")}
}

func (j *Journal) Append(ctx context.Context, ev domainsaga.BookingEvent) (domainsaga.BookingEvent, error) {
	if ev.SagaID == "" {
		return domainsaga.BookingEvent{}, errors.New("mongo: event without saga id")
	}
	seq, err := j.nextSequence(ctx)
	if err != nil {
		return domainsaga.BookingEvent{}, fmt.Errorf("mongo: journal sequence: %w", err)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.Sequence = seq
	doc := eventDocument{
		ID:        ev.ID,
		SagaID:    ev.SagaID,
		Type:      string(ev.Type),
		Payload:   string(ev.Payload),
		Timestamp: ev.Timestamp,
		Sequence:  ev.Sequence,
	}
	if _, err := j.col.InsertOne(ctx, doc); err != nil {
		return domainsaga.BookingEvent{}, err
	}
	return ev, nil
}

func (j *Journal) ListBySagaID(ctx context.Context, sagaID string) ([]domainsaga.BookingEvent, error) {
	opts := options.Find().SetSort(bson.D{{Key: "timestamp", Value: 1}, {Key: "sequence", Value: 1}})
	cur, err := j.col.Find(ctx, bson.M{"saga_id": sagaID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)
	var out []domainsaga.BookingEvent
	for cur.Next(ctx) {
		var doc eventDocument
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		out = append(out, doc.toEvent())
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	domainsaga.SortEvents(out)
	return out, nil
}

func (j *Journal) nextSequence(ctx context.Context) (int64, error) {
	var counter struct {
		Value int64 `bson:"value"`
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)
	err := j.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": journalSequenceKey},
		bson.M{"$inc": bson.M{"value": 1}},
		opts,
	).Decode(&counter)
	return counter.Value, err
}

type eventDocument struct {
	ID        string    `bson:"_id"`
	SagaID    string    `bson:"saga_id"`
	Type      string    `bson:"event_type"`
	Payload   string    `bson:"payload"`
	Timestamp time.Time `bson:"timestamp"`
	Sequence  int64     `bson:"sequence"`
}

func (d eventDocument) toEvent() domainsaga.BookingEvent {
	return domainsaga.BookingEvent{
		ID:        d.ID,
		SagaID:    d.SagaID,
		Type:      domainsaga.EventType(d.Type),
		Payload:   []byte(d.Payload),
		Timestamp: d.Timestamp.UTC(),
		Sequence:  d.Sequence,
	}
}

var _ domainsaga.Journal = (*Journal)(nil)
