package saga

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	domainsaga "travelsaga/internal/domain/saga"
)

// EventPublisher journals saga events.
type EventPublisher interface {
	PublishAll(ctx context.Context, evs []domainsaga.BookingEvent) error
	Emit(ctx context.Context, sagaID string, typ domainsaga.EventType, payload any) error
}

// Deps is shared by both coordination strategies.
type Deps struct {
	Repo        domainsaga.Repository
	Publisher   EventPublisher
	Runner      StepRunner
	Compensator *Compensator
	Metrics     Metrics
	Logger      *slog.Logger
	NewID       func() string
}

func (d Deps) withDefaults() Deps {
	if d.Repo == nil || d.Publisher == nil || d.Compensator == nil {
		panic("saga: repository, publisher and compensator are required")
	}
	if d.Metrics == nil {
		d.Metrics = nopMetrics{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.NewID == nil {
		d.NewID = uuid.NewString
	}
	return d
}

// commit saves state and then journals the events it recorded. On a failed
// save the events are put back so a later commit still journals them.
func (d Deps) commit(ctx context.Context, state *domainsaga.State) error {
	evs := state.DrainEvents()
	if err := d.Repo.Save(ctx, state); err != nil {
		for _, ev := range evs {
			state.Record(ev)
		}
		return err
	}
	if err := d.Publisher.PublishAll(ctx, evs); err != nil {
		return err
	}
	for _, ev := range evs {
		if ev.Type.Terminal() {
			d.Metrics.SagaFinished(state.Type, state.Status, time.Since(state.CreatedAt))
		}
	}
	return nil
}

const commitAttempts = 3

// apply runs change on state and commits it. When another writer saved the
// saga first, state is replaced by the stored copy, change is applied again
// and the commit retried.
func (d Deps) apply(ctx context.Context, state *domainsaga.State, change func(*domainsaga.State) error) error {
	for attempt := 1; ; attempt++ {
		if err := change(state); err != nil {
			return err
		}
		err := d.commit(ctx, state)
		if !errors.Is(err, domainsaga.ErrConcurrentUpdate) || attempt == commitAttempts {
			return err
		}
		fresh, findErr := d.Repo.FindBySagaID(ctx, state.ID)
		if findErr != nil {
			return errors.Join(err, findErr)
		}
		d.Logger.Warn("saga changed concurrently, reapplying", "saga_id", state.ID, "attempt", attempt, "version", fresh.Version)
		*state = *fresh
	}
}

// create builds, stores and starts a saga.
func (d Deps) create(ctx context.Context, req domainsaga.TripRequest, typ domainsaga.Type) (*domainsaga.State, error) {
	state, err := domainsaga.New(d.NewID(), req, typ, time.Now())
	if err != nil {
		return nil, err
	}
	if err := d.Repo.Create(ctx, state); err != nil {
		return nil, err
	}
	if err := state.Start(time.Now()); err != nil {
		return nil, err
	}
	d.Metrics.SagaStarted(typ)
	return state, nil
}

// unwind cancels completed steps newest first. A failed cancel never stops
// the loop.
func (d Deps) unwind(ctx context.Context, state *domainsaga.State) {
	for _, step := range state.CompensationOrder() {
		if err := d.compensateStep(ctx, state, step); err != nil {
			d.Logger.Error("persist compensation progress", "saga_id", state.ID, "step", step, "error", err)
		}
	}
}

// compensateStep cancels step and commits the outcome. A booking that stays
// booked is parked for reconciliation after the commit, so the worker never
// sees a queue item before the saga records it.
func (d Deps) compensateStep(ctx context.Context, state *domainsaga.State, step domainsaga.Step) error {
	cancelErr := d.Compensator.Cancel(ctx, state.ID, step, state.Bookings[step])
	err := d.apply(ctx, state, func(s *domainsaga.State) error {
		if cancelErr != nil {
			return s.RecordCompensationFailure(step, cancelErr, time.Now())
		}
		return s.RecordCancelled(step, time.Now())
	})
	var compErr *CompensationError
	if errors.As(cancelErr, &compErr) {
		d.Compensator.Park(ctx, compErr)
	}
	return err
}

// abort ends a saga after an infrastructure error: it releases whatever is
// still booked and marks the saga FAILED.
func (d Deps) abort(ctx context.Context, state *domainsaga.State, cause error) Outcome {
	reason := "saga aborted: " + cause.Error()
	d.Logger.Error("saga aborted", "saga_id", state.ID, "status", state.Status, "error", cause)
	if state.Status == domainsaga.StatusInProgress {
		err := d.apply(ctx, state, func(s *domainsaga.State) error {
			return s.BeginCompensation(reason, time.Now())
		})
		if err != nil {
			d.Logger.Error("begin compensation", "saga_id", state.ID, "error", err)
		}
	}
	if state.Status == domainsaga.StatusCompensating {
		for _, step := range state.CompensationOrder() {
			if err := d.compensateStep(ctx, state, step); err != nil {
				d.Logger.Error("persist compensation progress", "saga_id", state.ID, "step", step, "error", err)
			}
		}
	}
	err := d.apply(ctx, state, func(s *domainsaga.State) error {
		return s.MarkFailed(reason, time.Now())
	})
	if err != nil {
		d.Logger.Error("persist failed saga", "saga_id", state.ID, "error", err)
	}
	return outcomeOf(state)
}
