package outbox

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	appoutbox "travelsaga/internal/app/outbox"
)

const (
	StateNew     = "NEW"
	StateClaimed = "CLAIMED"
	StateSent    = "SENT"
	StateFailed  = "FAILED"
)

// DefaultLease is how long a claim holds before another relay may take the
// record over.
const DefaultLease = time.Minute

// ClaimStore is the relay side of an outbox. Claim never hands out a record
// while an older record of the same aggregate is still unsent and not due.
type ClaimStore interface {
	Claim(ctx context.Context, workerID string) (*EventDocument, error)
	MarkSent(ctx context.Context, id string) error
	MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error
}

type EventDocument struct {
	ID          string            `bson:"_id"`
	Name        string            `bson:"name"`
	Payload     []byte            `bson:"payload"`
	OccurredAt  time.Time         `bson:"occurred_at"`
	Aggregate   string            `bson:"aggregate"`
	Headers     map[string]string `bson:"headers"`
	State       string            `bson:"state"`
	Attempts    int               `bson:"attempts"`
	NextAttempt time.Time         `bson:"next_attempt_at"`
	ClaimedBy   string            `bson:"claimed_by,omitempty"`
	ClaimedAt   time.Time         `bson:"claimed_at,omitempty"`
	SentAt      time.Time         `bson:"sent_at,omitempty"`
	LastError   string            `bson:"last_error,omitempty"`
	CreatedAt   time.Time         `bson:"created_at"`
}

// Claimable reports whether the relay may take doc at now.
func (d EventDocument) Claimable(now time.Time, lease time.Duration) bool {
	switch d.State {
	case StateNew, StateFailed:
		return !d.NextAttempt.After(now)
	case StateClaimed:
		return !d.ClaimedAt.Add(lease).After(now)
	default:
		return false
	}
}

// Store keeps staged journal events in booking_outbox. Sent records expire
// after a week.
type Store struct {
	col   *mongo.Collection
	lease time.Duration
}

func NewStore(db *mongo.Database) *Store {
	col := db.Collection("booking_outbox")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_, _ = col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "state", Value: 1}, {Key: "next_attempt_at", Value: 1}, {Key: "occurred_at", Value: 1}}},
		{Keys: bson.D{{Key: "aggregate", Value: 1}, {Key: "state", Value: 1}}},
		{
			Keys:    bson.D{{Key: "sent_at", Value: 1}},
			Options: options.Index().SetExpireAfterSeconds(int32((7 * 24 * time.Hour).Seconds())).SetPartialFilterExpression(bson.M{"state": StateSent}),
		},
	})
	return &Store{col: col, lease: DefaultLease}
}

func (s *Store) Add(ctx context.Context, record appoutbox.EventRecord) error {
	now := time.Now().UTC()
	doc := EventDocument{
		ID:          record.ID,
		Name:        record.Name,
		Payload:     record.Payload,
		OccurredAt:  record.OccurredAt,
		Aggregate:   record.Aggregate,
		Headers:     record.Headers,
		State:       StateNew,
		NextAttempt: now,
		CreatedAt:   now,
	}
	_, err := s.col.InsertOne(ctx, doc)
	if mongo.IsDuplicateKeyError(err) {
		return nil
	}
	return err
}

// Claim takes the oldest claimable record whose aggregate has nothing older
// still waiting on a retry or held by another relay.
func (s *Store) Claim(ctx context.Context, workerID string) (*EventDocument, error) {
	now := time.Now().UTC()
	staleClaim := now.Add(-s.lease)
	blocked, err := s.col.Distinct(ctx, "aggregate", bson.M{"$or": bson.A{
		bson.M{"state": StateFailed, "next_attempt_at": bson.M{"$gt": now}},
		bson.M{"state": StateClaimed, "claimed_at": bson.M{"$gt": staleClaim}},
	}})
	if err != nil {
		return nil, err
	}
	filter := bson.M{
		"$or": bson.A{
			bson.M{"state": bson.M{"$in": bson.A{StateNew, StateFailed}}, "next_attempt_at": bson.M{"$lte": now}},
			bson.M{"state": StateClaimed, "claimed_at": bson.M{"$lte": staleClaim}},
		},
	}
	if len(blocked) > 0 {
		filter["aggregate"] = bson.M{"$nin": blocked}
	}
	update := bson.M{"$set": bson.M{"state": StateClaimed, "claimed_by": workerID, "claimed_at": now}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "occurred_at", Value: 1}, {Key: "created_at", Value: 1}})
	var doc EventDocument
	if err := s.col.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, err
	}
	return &doc, nil
}

func (s *Store) MarkSent(ctx context.Context, id string) error {
	_, err := s.col.UpdateByID(ctx, id, bson.M{"$set": bson.M{"state": StateSent, "sent_at": time.Now().UTC()}})
	return err
}

func (s *Store) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	_, err := s.col.UpdateByID(ctx, id, bson.M{
		"$set": bson.M{"state": StateFailed, "next_attempt_at": next.UTC(), "last_error": errMsg},
		"$inc": bson.M{"attempts": 1},
	})
	return err
}

var (
	_ appoutbox.Outbox = (*Store)(nil)
	_ ClaimStore       = (*Store)(nil)
)
