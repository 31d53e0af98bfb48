package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"travelsaga/internal/domain/saga"
)

var ErrDispatcherClosed = errors.New("eventlog: dispatcher closed")

// Dispatcher hands journal events to listeners without waiting for them.
type Dispatcher interface {
	Submit(ev saga.BookingEvent) error
}

// KeyedDispatcher keeps one FIFO mailbox per saga id. A single goroutine drains
// each mailbox, so listeners never run concurrently for the same saga. Distinct
// sagas proceed in parallel up to the worker limit.
type KeyedDispatcher struct {
	table  *Table
	logger *slog.Logger
	slots  chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	closed    bool
	wg        sync.WaitGroup
}

type mailbox struct {
	queue []saga.BookingEvent
}

// NewKeyedDispatcher starts a dispatcher bounded to workers concurrent sagas.
func NewKeyedDispatcher(table *Table, workers int, logger *slog.Logger) *KeyedDispatcher {
	if table == nil {
		panic("eventlog: dispatch table required")
	}
	if workers <= 0 {
		workers = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &KeyedDispatcher{
		table:     table,
		logger:    logger,
		slots:     make(chan struct{}, workers),
		ctx:       ctx,
		cancel:    cancel,
		mailboxes: make(map[string]*mailbox),
	}
}

// Submit enqueues ev on its saga mailbox and returns immediately.
func (d *KeyedDispatcher) Submit(ev saga.BookingEvent) error {
	if ev.SagaID == "" {
		return errors.New("eventlog: event without saga id")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return ErrDispatcherClosed
	}
	mb, ok := d.mailboxes[ev.SagaID]
	if !ok {
		mb = &mailbox{}
		d.mailboxes[ev.SagaID] = mb
		d.wg.Add(1)
		go d.drain(ev.SagaID, mb)
	}
	mb.queue = append(mb.queue, ev)
	return nil
}

func (d *KeyedDispatcher) drain(sagaID string, mb *mailbox) {
	defer d.wg.Done()
	d.slots <- struct{}{}
	defer func() { <-d.slots }()
	for {
		d.mu.Lock()
		if len(mb.queue) == 0 {
			delete(d.mailboxes, sagaID)
			d.mu.Unlock()
			return
		}
		ev := mb.queue[0]
		mb.queue = mb.queue[1:]
		d.mu.Unlock()
		d.deliver(ev)
	}
}

func (d *KeyedDispatcher) deliver(ev saga.BookingEvent) {
	for _, l := range d.table.Listeners(ev.Type) {
		if err := d.invoke(l, ev); err != nil {
			d.logger.Error("listener failed", "saga_id", ev.SagaID, "event_type", ev.Type, "event_id", ev.ID, "error", err)
		}
	}
}

func (d *KeyedDispatcher) invoke(l Listener, ev saga.BookingEvent) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("eventlog: listener panic: %v", r)
		}
	}()
	return l.Handle(d.ctx, ev)
}

// Pending reports how many sagas currently have queued or running work.
func (d *KeyedDispatcher) Pending() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

// Close stops accepting events and waits for mailboxes to drain. When ctx ends
// first, in-flight listeners see a cancelled context.
func (d *KeyedDispatcher) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		return ctx.Err()
	}
}
