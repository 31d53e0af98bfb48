package saga

import (
	"context"
	"fmt"
	"time"

	"travelsaga/internal/app/policies"
	domainsaga "travelsaga/internal/domain/saga"
)

// Orchestrator books flight, hotel and car in that order from a single
// goroutine. On the first failure it cancels what was booked, newest first,
// and always finishes COMPENSATED. Events are journaled but not dispatched.
type Orchestrator struct {
	deps Deps
}

func NewOrchestrator(deps Deps) *Orchestrator {
	return &Orchestrator{deps: deps.withDefaults()}
}

func (o *Orchestrator) Type() domainsaga.Type { return domainsaga.TypeOrchestration }

func (o *Orchestrator) Execute(ctx context.Context, req domainsaga.TripRequest) (Outcome, error) {
	// the saga must reach a terminal state even if the caller goes away
	ctx = context.WithoutCancel(ctx)
	d := o.deps

	state, err := d.create(ctx, req, domainsaga.TypeOrchestration)
	if err != nil {
		return Outcome{}, err
	}
	log := d.Logger.With("saga_id", state.ID, "saga_type", state.Type)
	if err := d.commit(ctx, state); err != nil {
		return d.abort(ctx, state, err), nil
	}
	log.Info("saga started", "destination", req.Destination)

	trip := policies.TripFromState(state)
	for _, step := range domainsaga.Steps() {
		bookingID, err := d.Runner.Book(ctx, step, trip)
		if err != nil {
			log.Warn("step failed", "step", step, "error", err)
			return o.compensate(ctx, state, step, err), nil
		}
		err = d.apply(ctx, state, func(s *domainsaga.State) error {
			return s.RecordBooked(step, bookingID, time.Now())
		})
		if err != nil {
			return d.abort(ctx, state, fmt.Errorf("record %s booking: %w", step, err)), nil
		}
		log.Info("step booked", "step", step, "booking_id", bookingID)
	}

	if err := d.apply(ctx, state, func(s *domainsaga.State) error { return s.MarkCompleted(time.Now()) }); err != nil {
		return d.abort(ctx, state, err), nil
	}
	log.Info("saga completed")
	return outcomeOf(state), nil
}

func (o *Orchestrator) compensate(ctx context.Context, state *domainsaga.State, failed domainsaga.Step, cause error) Outcome {
	d := o.deps
	err := d.apply(ctx, state, func(s *domainsaga.State) error {
		return s.FailStep(failed, cause, time.Now())
	})
	if err != nil {
		if state.Status != domainsaga.StatusCompensating {
			return d.abort(ctx, state, err)
		}
		d.Logger.Error("persist step failure", "saga_id", state.ID, "step", failed, "error", err)
	}
	d.unwind(ctx, state)
	err = d.apply(ctx, state, func(s *domainsaga.State) error {
		return s.MarkCompensated(time.Now())
	})
	if err != nil {
		if state.Status != domainsaga.StatusCompensated {
			return d.abort(ctx, state, err)
		}
		d.Logger.Error("persist compensated saga", "saga_id", state.ID, "error", err)
	}
	d.Logger.Info("saga compensated", "saga_id", state.ID, "reason", state.FailureReason, "unresolved", len(state.Unresolved))
	return outcomeOf(state)
}

var _ Coordinator = (*Orchestrator)(nil)
