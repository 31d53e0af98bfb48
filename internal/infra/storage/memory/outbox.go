package memory

import (
	"context"
	"sync"
	"time"

	appoutbox "travelsaga/internal/app/outbox"
	infraoutbox "travelsaga/internal/infra/outbox"
)

// Outbox is the in-process outbox used when Mongo is not configured.
type Outbox struct {
	mu    sync.Mutex
	order []string
	docs  map[string]*infraoutbox.EventDocument
}

func NewOutbox() *Outbox {
	return &Outbox{docs: make(map[string]*infraoutbox.EventDocument)}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.docs[record.ID]; ok {
		return nil
	}
	now := time.Now().UTC()
	o.docs[record.ID] = &infraoutbox.EventDocument{
		ID:          record.ID,
		Name:        record.Name,
		Payload:     record.Payload,
		OccurredAt:  record.OccurredAt,
		Aggregate:   record.Aggregate,
		Headers:     record.Headers,
		State:       infraoutbox.StateNew,
		NextAttempt: now,
		CreatedAt:   now,
	}
	o.order = append(o.order, record.ID)
	return nil
}

// Claim returns the oldest claimable record, skipping aggregates whose older
// records are still waiting.
func (o *Outbox) Claim(ctx context.Context, workerID string) (*infraoutbox.EventDocument, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := time.Now().UTC()
	blocked := make(map[string]struct{})
	for _, id := range o.order {
		doc := o.docs[id]
		if doc.State == infraoutbox.StateSent {
			continue
		}
		if _, ok := blocked[doc.Aggregate]; ok {
			continue
		}
		if !doc.Claimable(now, infraoutbox.DefaultLease) {
			blocked[doc.Aggregate] = struct{}{}
			continue
		}
		doc.State = infraoutbox.StateClaimed
		doc.ClaimedBy = workerID
		doc.ClaimedAt = now
		cp := *doc
		return &cp, nil
	}
	return nil, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if doc, ok := o.docs[id]; ok {
		doc.State = infraoutbox.StateSent
		doc.SentAt = time.Now().UTC()
	}
	o.compact()
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if doc, ok := o.docs[id]; ok {
		doc.State = infraoutbox.StateFailed
		doc.NextAttempt = next
		doc.LastError = errMsg
		doc.Attempts++
	}
	return nil
}

// Pending counts records not yet sent.
func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, doc := range o.docs {
		if doc.State != infraoutbox.StateSent {
			n++
		}
	}
	return n
}

// compact drops sent records from the head of the queue.
func (o *Outbox) compact() {
	i := 0
	for ; i < len(o.order); i++ {
		if o.docs[o.order[i]].State != infraoutbox.StateSent {
			break
		}
		delete(o.docs, o.order[i])
	}
	o.order = o.order[i:]
}

var (
	_ appoutbox.Outbox       = (*Outbox)(nil)
	_ infraoutbox.ClaimStore = (*Outbox)(nil)
)
