package saga

import (
	"context"
	"sync"
	"time"

	"travelsaga/internal/app/eventlog"
	"travelsaga/internal/app/policies"
	domainsaga "travelsaga/internal/domain/saga"
)

const defaultSagaTimeout = 30 * time.Second

// Choreography starts a saga by publishing SAGA_STARTED and lets the step
// listeners drive it. Execute blocks until a terminal event or the timeout.
type Choreography struct {
	deps    Deps
	waiter  *Waiter
	timeout time.Duration
}

func NewChoreography(deps Deps, waiter *Waiter, timeout time.Duration) *Choreography {
	if waiter == nil {
		panic("saga: choreography requires a waiter")
	}
	if timeout <= 0 {
		timeout = defaultSagaTimeout
	}
	return &Choreography{deps: deps.withDefaults(), waiter: waiter, timeout: timeout}
}

func (c *Choreography) Type() domainsaga.Type { return domainsaga.TypeChoreography }

func (c *Choreography) Execute(ctx context.Context, req domainsaga.TripRequest) (Outcome, error) {
	d := c.deps
	state, err := d.create(ctx, req, domainsaga.TypeChoreography)
	if err != nil {
		return Outcome{}, err
	}
	done, release := c.waiter.Register(state.ID)
	defer release()
	if err := d.commit(ctx, state); err != nil {
		return d.abort(context.WithoutCancel(ctx), state, err), nil
	}
	d.Logger.Info("saga started", "saga_id", state.ID, "saga_type", state.Type, "destination", req.Destination)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		d.Logger.Warn("saga still running at response deadline", "saga_id", state.ID, "timeout", c.timeout)
	case <-ctx.Done():
	}
	final, err := d.Repo.FindBySagaID(context.WithoutCancel(ctx), state.ID)
	if err != nil {
		return Outcome{}, err
	}
	return outcomeOf(final), nil
}

// StepListener owns one step of the choreography. It only knows the step
// before it (whose booking triggers it and whose compensation it requests)
// and whether it is the last step.
type StepListener struct {
	deps Deps
	step domainsaga.Step
	prev domainsaga.Step
	last bool
}

// NewStepListeners builds the FLIGHT -> HOTEL -> CAR chain.
func NewStepListeners(deps Deps) []*StepListener {
	deps = deps.withDefaults()
	steps := domainsaga.Steps()
	out := make([]*StepListener, 0, len(steps))
	for i, step := range steps {
		l := &StepListener{deps: deps, step: step, last: i == len(steps)-1}
		if i > 0 {
			l.prev = steps[i-1]
		}
		out = append(out, l)
	}
	return out
}

func (l *StepListener) Step() domainsaga.Step { return l.step }

// Trigger is the event that makes this step book.
func (l *StepListener) Trigger() domainsaga.EventType {
	if l.prev == "" {
		return domainsaga.EventSagaStarted
	}
	return domainsaga.BookedEvent(l.prev)
}

func (l *StepListener) Handle(ctx context.Context, ev domainsaga.BookingEvent) error {
	switch ev.Type {
	case l.Trigger():
		return l.book(ctx, ev.SagaID)
	case domainsaga.CompensateEvent(l.step):
		return l.compensate(ctx, ev.SagaID)
	default:
		return nil
	}
}

func (l *StepListener) book(ctx context.Context, sagaID string) error {
	d := l.deps
	state, err := d.Repo.FindBySagaID(ctx, sagaID)
	if err != nil {
		return err
	}
	if state.Type != domainsaga.TypeChoreography || state.Status != domainsaga.StatusInProgress || state.HasCompleted(l.step) {
		d.Logger.Debug("booking trigger ignored", "saga_id", sagaID, "step", l.step, "status", state.Status)
		return nil
	}
	bookingID, err := d.Runner.Book(ctx, l.step, policies.TripFromState(state))
	if err != nil {
		d.Logger.Warn("step failed", "saga_id", sagaID, "step", l.step, "error", err)
		return l.fail(ctx, state, err)
	}
	err = d.apply(ctx, state, func(s *domainsaga.State) error {
		if err := s.RecordBooked(l.step, bookingID, time.Now()); err != nil {
			return err
		}
		if l.last {
			return s.MarkCompleted(time.Now())
		}
		return nil
	})
	if err != nil {
		d.abort(ctx, state, err)
		return err
	}
	d.Logger.Info("step booked", "saga_id", sagaID, "step", l.step, "booking_id", bookingID)
	return nil
}

func (l *StepListener) fail(ctx context.Context, state *domainsaga.State, cause error) error {
	d := l.deps
	err := d.apply(ctx, state, func(s *domainsaga.State) error {
		if err := s.FailStep(l.step, cause, time.Now()); err != nil {
			return err
		}
		if l.prev == "" {
			return s.MarkCompensated(time.Now())
		}
		return nil
	})
	if err != nil {
		d.abort(ctx, state, err)
		return err
	}
	return l.requestPrevious(ctx, state)
}

func (l *StepListener) compensate(ctx context.Context, sagaID string) error {
	d := l.deps
	state, err := d.Repo.FindBySagaID(ctx, sagaID)
	if err != nil {
		return err
	}
	if state.Type != domainsaga.TypeChoreography || state.Status != domainsaga.StatusCompensating {
		d.Logger.Debug("compensation request ignored", "saga_id", sagaID, "step", l.step, "status", state.Status)
		return nil
	}
	if state.HasCompleted(l.step) && !state.IsUnresolved(l.step) {
		if err := d.compensateStep(ctx, state, l.step); err != nil {
			d.abort(ctx, state, err)
			return err
		}
	}
	if l.prev != "" {
		return l.requestPrevious(ctx, state)
	}
	if err := d.apply(ctx, state, func(s *domainsaga.State) error { return s.MarkCompensated(time.Now()) }); err != nil {
		d.abort(ctx, state, err)
		return err
	}
	d.Logger.Info("saga compensated", "saga_id", sagaID, "reason", state.FailureReason, "unresolved", len(state.Unresolved))
	return nil
}

func (l *StepListener) requestPrevious(ctx context.Context, state *domainsaga.State) error {
	if l.prev == "" {
		return nil
	}
	payload := domainsaga.StepPayload{Step: l.prev, BookingID: state.Bookings[l.prev], Reason: state.FailureReason}
	return l.deps.Publisher.Emit(ctx, state.ID, domainsaga.CompensateEvent(l.prev), payload)
}

// Waiter wakes Execute callers when their saga publishes a terminal event.
type Waiter struct {
	mu      sync.Mutex
	waiting map[string]chan domainsaga.BookingEvent
}

func NewWaiter() *Waiter {
	return &Waiter{waiting: make(map[string]chan domainsaga.BookingEvent)}
}

// Register must be called before the saga's first event is published.
func (w *Waiter) Register(sagaID string) (<-chan domainsaga.BookingEvent, func()) {
	ch := make(chan domainsaga.BookingEvent, 1)
	w.mu.Lock()
	w.waiting[sagaID] = ch
	w.mu.Unlock()
	return ch, func() {
		w.mu.Lock()
		if w.waiting[sagaID] == ch {
			delete(w.waiting, sagaID)
		}
		w.mu.Unlock()
	}
}

func (w *Waiter) Handle(_ context.Context, ev domainsaga.BookingEvent) error {
	if !ev.Type.Terminal() {
		return nil
	}
	w.mu.Lock()
	ch, ok := w.waiting[ev.SagaID]
	delete(w.waiting, ev.SagaID)
	w.mu.Unlock()
	if ok {
		ch <- ev
	}
	return nil
}

// RegisterRoutes fills table with the choreography chain. Listeners are
// routed by trigger and by their own compensation request; the waiter gets
// every terminal event.
func RegisterRoutes(table *eventlog.Table, listeners []*StepListener, waiter *Waiter) {
	for _, l := range listeners {
		table.Route(l.Trigger(), l)
		table.Route(domainsaga.CompensateEvent(l.step), l)
	}
	if waiter != nil {
		table.Route(domainsaga.EventSagaCompleted, waiter)
		table.Route(domainsaga.EventSagaCompensated, waiter)
		table.Route(domainsaga.EventSagaFailed, waiter)
	}
}

// RequiredRoutes lists the events the choreography chain cannot run without.
func RequiredRoutes() []domainsaga.EventType {
	out := []domainsaga.EventType{domainsaga.EventSagaStarted}
	steps := domainsaga.Steps()
	for i, step := range steps {
		if i < len(steps)-1 {
			out = append(out, domainsaga.BookedEvent(step))
		}
		if i > 0 {
			out = append(out, domainsaga.CompensateEvent(steps[i-1]))
		}
	}
	return append(out, domainsaga.EventSagaCompleted, domainsaga.EventSagaCompensated, domainsaga.EventSagaFailed)
}

var (
	_ Coordinator       = (*Choreography)(nil)
	_ eventlog.Listener = (*StepListener)(nil)
	_ eventlog.Listener = (*Waiter)(nil)
)
