package providers

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v3"

	"travelsaga/internal/app/policies"
	"travelsaga/internal/domain/saga"
)

var (
	ErrCancelRejected = errors.New("providers: cancel rejected")
	ErrUnknownBooking = errors.New("providers: unknown booking")
)

// FaultPolicy controls how often a simulated provider misbehaves.
type FaultPolicy struct {
	FailureRate       float64
	CancelFailureRate float64
	Latency           time.Duration
	// FailBook and FailCancel force every call to fail.
	FailBook   bool
	FailCancel bool
	// Rand overrides the random source, mostly for tests.
	Rand func() float64
}

func (p FaultPolicy) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	r := p.Rand
	if r == nil {
		r = rand.Float64
	}
	return r() < rate
}

type reservation struct {
	trip      policies.Trip
	bookedAt  time.Time
	cancelled bool
}

// Simulator is an in-process stand-in for an external flight, hotel or car API.
type Simulator struct {
	step   saga.Step
	prefix string
	logger *slog.Logger

	mu     sync.RWMutex
	policy FaultPolicy

	bookings *xsync.MapOf[string, reservation]

	bookCalls   atomic.Int64
	cancelCalls atomic.Int64
	cancelled   atomic.Int64
}

func NewFlightService(policy FaultPolicy, logger *slog.Logger) *Simulator {
	return newSimulator(saga.StepFlight, "FL", policy, logger)
}

func NewHotelService(policy FaultPolicy, logger *slog.Logger) *Simulator {
	return newSimulator(saga.StepHotel, "HT", policy, logger)
}

func NewCarService(policy FaultPolicy, logger *slog.Logger) *Simulator {
	return newSimulator(saga.StepCar, "CR", policy, logger)
}

func newSimulator(step saga.Step, prefix string, policy FaultPolicy, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Simulator{
		step:     step,
		prefix:   prefix,
		policy:   policy,
		logger:   logger.With("provider", step.Lower()),
		bookings: xsync.NewMapOf[string, reservation](),
	}
}

func (s *Simulator) Step() saga.Step { return s.step }

// SetPolicy swaps the fault policy at runtime.
func (s *Simulator) SetPolicy(p FaultPolicy) {
	s.mu.Lock()
	s.policy = p
	s.mu.Unlock()
}

func (s *Simulator) Policy() FaultPolicy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.policy
}

func (s *Simulator) Book(ctx context.Context, trip policies.Trip) (string, error) {
	s.bookCalls.Add(1)
	policy := s.Policy()
	if err := wait(ctx, policy.Latency); err != nil {
		return "", err
	}
	if policy.FailBook || policy.roll(policy.FailureRate) {
		s.logger.Info("booking refused", "saga_id", trip.SagaID, "destination", trip.Destination)
		return "", fmt.Errorf("%w: %s unavailable for %s", policies.ErrStepUnavailable, s.step.Lower(), trip.Destination)
	}
	id := fmt.Sprintf("%s-%s", s.prefix, uuid.NewString())
	s.bookings.Store(id, reservation{trip: trip, bookedAt: time.Now().UTC()})
	s.logger.Info("booking confirmed", "saga_id", trip.SagaID, "booking_id", id)
	return id, nil
}

// Cancel releases a reservation. Cancelling twice succeeds without a second effect.
func (s *Simulator) Cancel(ctx context.Context, bookingID string) error {
	s.cancelCalls.Add(1)
	policy := s.Policy()
	if err := wait(ctx, policy.Latency); err != nil {
		return err
	}
	if policy.FailCancel || policy.roll(policy.CancelFailureRate) {
		return fmt.Errorf("%w: %s %s", ErrCancelRejected, s.step.Lower(), bookingID)
	}
	var effective, found bool
	s.bookings.Compute(bookingID, func(old reservation, loaded bool) (reservation, bool) {
		found = loaded
		if !loaded {
			return old, true
		}
		if !old.cancelled {
			effective = true
			old.cancelled = true
		}
		return old, false
	})
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownBooking, bookingID)
	}
	if effective {
		s.cancelled.Add(1)
		s.logger.Info("booking cancelled", "booking_id", bookingID)
	}
	return nil
}

// Active reports whether bookingID exists and is not cancelled.
func (s *Simulator) Active(bookingID string) bool {
	r, ok := s.bookings.Load(bookingID)
	return ok && !r.cancelled
}

// Stats is a snapshot of call counters.
type Stats struct {
	BookCalls   int64
	CancelCalls int64
	Cancelled   int64
	Active      int
}

func (s *Simulator) Stats() Stats {
	active := 0
	s.bookings.Range(func(_ string, r reservation) bool {
		if !r.cancelled {
			active++
		}
		return true
	})
	return Stats{
		BookCalls:   s.bookCalls.Load(),
		CancelCalls: s.cancelCalls.Load(),
		Cancelled:   s.cancelled.Load(),
		Active:      active,
	}
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ policies.StepService = (*Simulator)(nil)
