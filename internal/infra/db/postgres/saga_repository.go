package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	domainsaga "travelsaga/internal/domain/saga"
	"travelsaga/internal/domain/shared/daterange"
)

var ErrSagaExists = errors.New("postgres: saga already exists")

const sagaColumns = `saga_id, saga_type, status, customer_id, destination, check_in, check_out, guest_count,
	bookings, completed_steps, failure_reason, unresolved, created_at, updated_at, version`

// SagaRepository stores one row per saga in saga_state.
type SagaRepository struct {
	db *sql.DB
}

func NewSagaRepository(db *sql.DB) *SagaRepository {
	return &SagaRepository{db: db}
}

func (r *SagaRepository) Create(ctx context.Context, state *domainsaga.State) error {
	row, err := newSagaRow(state)
	if err != nil {
		return err
	}
	_, err = r.db.ExecContext(ctx, `INSERT INTO saga_state (`+sagaColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, 1)`,
		row.id, row.sagaType, row.status, row.customerID, row.destination, row.checkIn, row.checkOut, row.guestCount,
		row.bookings, row.completedSteps, row.failureReason, row.unresolved, row.createdAt, row.updatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrSagaExists, state.ID)
		}
		return fmt.Errorf("postgres: insert saga: %w", err)
	}
	state.Version = 1
	return nil
}

func (r *SagaRepository) Save(ctx context.Context, state *domainsaga.State) error {
	row, err := newSagaRow(state)
	if err != nil {
		return err
	}
	res, err := r.db.ExecContext(ctx, `UPDATE saga_state SET
		status = $2, bookings = $3, completed_steps = $4, failure_reason = $5, unresolved = $6,
		updated_at = $7, version = version + 1
		WHERE saga_id = $1 AND version = $8`,
		row.id, row.status, row.bookings, row.completedSteps, row.failureReason, row.unresolved,
		row.updatedAt, state.Version,
	)
	if err != nil {
		return fmt.Errorf("postgres: update saga: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM saga_state WHERE saga_id = $1)`, state.ID).Scan(&exists); err != nil {
			return fmt.Errorf("postgres: check saga: %w", err)
		}
		if !exists {
			return domainsaga.ErrSagaNotFound
		}
		return domainsaga.ErrConcurrentUpdate
	}
	state.Version++
	return nil
}

func (r *SagaRepository) FindBySagaID(ctx context.Context, id string) (*domainsaga.State, error) {
	var row sagaRow
	err := r.db.QueryRowContext(ctx, `SELECT `+sagaColumns+` FROM saga_state WHERE saga_id = $1`, id).Scan(
		&row.id, &row.sagaType, &row.status, &row.customerID, &row.destination, &row.checkIn, &row.checkOut, &row.guestCount,
		&row.bookings, &row.completedSteps, &row.failureReason, &row.unresolved, &row.createdAt, &row.updatedAt, &row.version,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domainsaga.ErrSagaNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load saga: %w", err)
	}
	return row.toAggregate()
}

type sagaRow struct {
	id             string
	sagaType       string
	status         string
	customerID     string
	destination    string
	checkIn        sql.NullTime
	checkOut       sql.NullTime
	guestCount     int
	bookings       []byte
	completedSteps []byte
	failureReason  string
	unresolved     []byte
	createdAt      sql.NullTime
	updatedAt      sql.NullTime
	version        int64
}

func newSagaRow(s *domainsaga.State) (sagaRow, error) {
	bookings, err := json.Marshal(s.Bookings)
	if err != nil {
		return sagaRow{}, err
	}
	steps := s.CompletedSteps
	if steps == nil {
		steps = []domainsaga.Step{}
	}
	completed, err := json.Marshal(steps)
	if err != nil {
		return sagaRow{}, err
	}
	pending := s.Unresolved
	if pending == nil {
		pending = []domainsaga.UnresolvedCompensation{}
	}
	unresolved, err := json.Marshal(pending)
	if err != nil {
		return sagaRow{}, err
	}
	return sagaRow{
		id:             s.ID,
		sagaType:       string(s.Type),
		status:         string(s.Status),
		customerID:     s.Trip.CustomerID,
		destination:    s.Trip.Destination,
		checkIn:        sql.NullTime{Time: s.Trip.Dates.CheckIn, Valid: true},
		checkOut:       sql.NullTime{Time: s.Trip.Dates.CheckOut, Valid: true},
		guestCount:     s.Trip.GuestCount,
		bookings:       bookings,
		completedSteps: completed,
		failureReason:  s.FailureReason,
		unresolved:     unresolved,
		createdAt:      sql.NullTime{Time: s.CreatedAt, Valid: true},
		updatedAt:      sql.NullTime{Time: s.UpdatedAt, Valid: true},
		version:        s.Version,
	}, nil
}

func (row sagaRow) toAggregate() (*domainsaga.State, error) {
	s := &domainsaga.State{
		ID:     row.id,
		Type:   domainsaga.Type(row.sagaType),
		Status: domainsaga.Status(row.status),
		Trip: domainsaga.TripRequest{
			CustomerID:  row.customerID,
			Destination: row.destination,
			Dates:       daterange.DateRange{CheckIn: row.checkIn.Time.UTC(), CheckOut: row.checkOut.Time.UTC()},
			GuestCount:  row.guestCount,
		},
		Bookings:      map[domainsaga.Step]string{},
		FailureReason: row.failureReason,
		CreatedAt:     row.createdAt.Time.UTC(),
		UpdatedAt:     row.updatedAt.Time.UTC(),
		Version:       row.version,
	}
	if len(row.bookings) > 0 {
		if err := json.Unmarshal(row.bookings, &s.Bookings); err != nil {
			return nil, fmt.Errorf("postgres: decode bookings: %w", err)
		}
	}
	if len(row.completedSteps) > 0 {
		if err := json.Unmarshal(row.completedSteps, &s.CompletedSteps); err != nil {
			return nil, fmt.Errorf("postgres: decode completed steps: %w", err)
		}
	}
	if len(row.unresolved) > 0 {
		if err := json.Unmarshal(row.unresolved, &s.Unresolved); err != nil {
			return nil, fmt.Errorf("postgres: decode unresolved: %w", err)
		}
		if len(s.Unresolved) == 0 {
			s.Unresolved = nil
		}
	}
	return s, nil
}

var _ domainsaga.Repository = (*SagaRepository)(nil)
