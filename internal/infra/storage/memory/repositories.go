package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"travelsaga/internal/domain/saga"
)

// ErrSagaExists is returned when Create is called twice for the same id.
var ErrSagaExists = errors.New("memory: saga already exists")

// SagaRepository keeps saga state in a map guarded by a RWMutex.
type SagaRepository struct {
	mu    sync.RWMutex
	items map[string]*saga.State
}

func NewSagaRepository() *SagaRepository {
	return &SagaRepository{items: make(map[string]*saga.State)}
}

func (r *SagaRepository) Create(ctx context.Context, state *saga.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.items[state.ID]; ok {
		return ErrSagaExists
	}
	state.Version = 1
	r.items[state.ID] = state.Clone()
	return nil
}

func (r *SagaRepository) Save(ctx context.Context, state *saga.State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.items[state.ID]
	if !ok {
		return saga.ErrSagaNotFound
	}
	if current.Version != state.Version {
		return saga.ErrConcurrentUpdate
	}
	state.Version++
	r.items[state.ID] = state.Clone()
	return nil
}

func (r *SagaRepository) FindBySagaID(ctx context.Context, id string) (*saga.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.items[id]
	if !ok {
		return nil, saga.ErrSagaNotFound
	}
	return state.Clone(), nil
}

// Journal is an append-only in-memory event log.
type Journal struct {
	mu     sync.RWMutex
	seq    int64
	bySaga map[string][]saga.BookingEvent
}

func NewJournal() *Journal {
	return &Journal{bySaga: make(map[string][]saga.BookingEvent)}
}

func (j *Journal) Append(ctx context.Context, ev saga.BookingEvent) (saga.BookingEvent, error) {
	if ev.SagaID == "" {
		return saga.BookingEvent{}, errors.New("memory: event without saga id")
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	j.seq++
	ev.Sequence = j.seq
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	j.bySaga[ev.SagaID] = append(j.bySaga[ev.SagaID], ev)
	return ev, nil
}

func (j *Journal) ListBySagaID(ctx context.Context, sagaID string) ([]saga.BookingEvent, error) {
	j.mu.RLock()
	out := append([]saga.BookingEvent(nil), j.bySaga[sagaID]...)
	j.mu.RUnlock()
	saga.SortEvents(out)
	return out, nil
}

var (
	_ saga.Repository = (*SagaRepository)(nil)
	_ saga.Journal    = (*Journal)(nil)
)
