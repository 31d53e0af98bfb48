package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	domainsaga "travelsaga/internal/domain/saga"
	"travelsaga/internal/domain/shared/daterange"
)

var ErrSagaExists = errors.New("mongo: saga already exists")

// SagaRepository stores one document per saga in saga_state.
type SagaRepository struct {
	col *mongo.Collection
}

func NewSagaRepository(db *mongo.Database) *SagaRepository {
	col := db.Collection("saga_state")
	ensureIndexes(col,
		mongo.IndexModel{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: -1}}},
		mongo.IndexModel{Keys: bson.D{{Key: "trip.customer_id", Value: 1}}},
	)
	return &SagaRepository{col: col}
}

func (r *SagaRepository) Create(ctx context.Context, state *domainsaga.State) error {
	doc := newSagaDocument(state)
	doc.Version = 1
	if _, err := r.col.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("%w: %s", ErrSagaExists, state.ID)
		}
		return err
	}
	state.Version = 1
	return nil
}

func (r *SagaRepository) Save(ctx context.Context, state *domainsaga.State) error {
	doc := newSagaDocument(state)
	doc.Version = state.Version + 1
	res, err := r.col.UpdateOne(ctx,
		bson.M{"_id": doc.ID, "version": state.Version},
		bson.M{"$set": doc},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		n, err := r.col.CountDocuments(ctx, bson.M{"_id": doc.ID}, options.Count().SetLimit(1))
		if err != nil {
			return err
		}
		if n == 0 {
			return domainsaga.ErrSagaNotFound
		}
		return domainsaga.ErrConcurrentUpdate
	}
	state.Version = doc.Version
	return nil
}

func (r *SagaRepository) FindBySagaID(ctx context.Context, id string) (*domainsaga.State, error) {
	var doc sagaDocument
	if err := r.col.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, domainsaga.ErrSagaNotFound
		}
		return nil, err
	}
	return doc.toAggregate(), nil
}

type sagaDocument struct {
	ID             string               `bson:"_id"`
	Type           string               `bson:"saga_type"`
	Status         string               `bson:"status"`
	Trip           tripDocument         `bson:"trip"`
	Bookings       map[string]string    `bson:"bookings"`
	CompletedSteps []string             `bson:"completed_steps"`
	FailureReason  string               `bson:"failure_reason,omitempty"`
	Unresolved     []unresolvedDocument `bson:"unresolved,omitempty"`
	CreatedAt      time.Time            `bson:"created_at"`
	UpdatedAt      time.Time            `bson:"updated_at"`
	Version        int64                `bson:"version"`
}

type tripDocument struct {
	CustomerID  string    `bson:"customer_id"`
	Destination string    `bson:"destination"`
	CheckIn     time.Time `bson:"check_in"`
	CheckOut    time.Time `bson:"check_out"`
	GuestCount  int       `bson:"guest_count"`
}

type unresolvedDocument struct {
	Step      string    `bson:"step"`
	BookingID string    `bson:"booking_id"`
	Error     string    `bson:"error"`
	At        time.Time `bson:"at"`
}

func newSagaDocument(s *domainsaga.State) sagaDocument {
	doc := sagaDocument{
		ID:     s.ID,
		Type:   string(s.Type),
		Status: string(s.Status),
		Trip: tripDocument{
			CustomerID:  s.Trip.CustomerID,
			Destination: s.Trip.Destination,
			CheckIn:     s.Trip.Dates.CheckIn,
			CheckOut:    s.Trip.Dates.CheckOut,
			GuestCount:  s.Trip.GuestCount,
		},
		Bookings:       make(map[string]string, len(s.Bookings)),
		CompletedSteps: make([]string, 0, len(s.CompletedSteps)),
		FailureReason:  s.FailureReason,
		CreatedAt:      s.CreatedAt,
		UpdatedAt:      s.UpdatedAt,
		Version:        s.Version,
	}
	for step, id := range s.Bookings {
		doc.Bookings[string(step)] = id
	}
	for _, step := range s.CompletedSteps {
		doc.CompletedSteps = append(doc.CompletedSteps, string(step))
	}
	for _, u := range s.Unresolved {
		doc.Unresolved = append(doc.Unresolved, unresolvedDocument{Step: string(u.Step), BookingID: u.BookingID, Error: u.Error, At: u.At})
	}
	return doc
}

func (d sagaDocument) toAggregate() *domainsaga.State {
	s := &domainsaga.State{
		ID:     d.ID,
		Type:   domainsaga.Type(d.Type),
		Status: domainsaga.Status(d.Status),
		Trip: domainsaga.TripRequest{
			CustomerID:  d.Trip.CustomerID,
			Destination: d.Trip.Destination,
			Dates:       daterange.DateRange{CheckIn: d.Trip.CheckIn.UTC(), CheckOut: d.Trip.CheckOut.UTC()},
			GuestCount:  d.Trip.GuestCount,
		},
		Bookings:       make(map[domainsaga.Step]string, len(d.Bookings)),
		CompletedSteps: make([]domainsaga.Step, 0, len(d.CompletedSteps)),
		FailureReason:  d.FailureReason,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
		Version:        d.Version,
	}
	for step, id := range d.Bookings {
		s.Bookings[domainsaga.Step(step)] = id
	}
	for _, step := range d.CompletedSteps {
		s.CompletedSteps = append(s.CompletedSteps, domainsaga.Step(step))
	}
	for _, u := range d.Unresolved {
		s.Unresolved = append(s.Unresolved, domainsaga.UnresolvedCompensation{
			Step: domainsaga.Step(u.Step), BookingID: u.BookingID, Error: u.Error, At: u.At.UTC(),
		})
	}
	return s
}

var _ domainsaga.Repository = (*SagaRepository)(nil)
