package saga

import (
	"context"
	"sort"
)

// Repository persists saga state keyed by saga id.
type Repository interface {
	// Create stores a freshly built saga; it fails if the id already exists.
	Create(ctx context.Context, state *State) error
	// Save writes state when the stored version equals state.Version and
	// bumps state.Version on success. A stale version yields ErrConcurrentUpdate.
	Save(ctx context.Context, state *State) error
	// FindBySagaID returns a private copy or ErrSagaNotFound.
	FindBySagaID(ctx context.Context, id string) (*State, error)
}

// Journal is the append-only booking event log.
type Journal interface {
	// Append assigns id, sequence and (if missing) timestamp, and returns the stored event.
	Append(ctx context.Context, ev BookingEvent) (BookingEvent, error)
	// ListBySagaID returns events ordered by timestamp, then sequence.
	ListBySagaID(ctx context.Context, sagaID string) ([]BookingEvent, error)
}

// SortEvents orders events by timestamp with sequence as tie-breaker.
func SortEvents(evs []BookingEvent) {
	sort.SliceStable(evs, func(i, j int) bool {
		if evs[i].Timestamp.Equal(evs[j].Timestamp) {
			return evs[i].Sequence < evs[j].Sequence
		}
		return evs[i].Timestamp.Before(evs[j].Timestamp)
	})
}
