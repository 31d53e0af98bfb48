package memory

import (
	"context"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"travelsaga/internal/app/middleware"
)

// IdempotencyStore keeps command results in process. Records older than the
// TTL are treated as absent and dropped when read.
type IdempotencyStore struct {
	ttl   time.Duration
	items *xsync.MapOf[string, middleware.IdempotencyRecord]
}

func NewIdempotencyStore(ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{ttl: ttl, items: xsync.NewMapOf[string, middleware.IdempotencyRecord]()}
}

func (s *IdempotencyStore) Get(_ context.Context, key string) (middleware.IdempotencyRecord, bool, error) {
	rec, ok := s.items.Load(key)
	if !ok {
		return middleware.IdempotencyRecord{}, false, nil
	}
	if s.ttl > 0 && time.Since(rec.OccurredAt) > s.ttl {
		s.items.Delete(key)
		return middleware.IdempotencyRecord{}, false, nil
	}
	return rec, true, nil
}

func (s *IdempotencyStore) Save(_ context.Context, rec middleware.IdempotencyRecord) error {
	if rec.OccurredAt.IsZero() {
		rec.OccurredAt = time.Now().UTC()
	}
	s.items.Store(rec.Key, rec)
	return nil
}

var _ middleware.IdempotencyStore = (*IdempotencyStore)(nil)
