package bus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

const defaultBufferSize = 100

// MessageBus queues inbound events, routes them through a dispatch table
// built at startup, and fans pipeline events out to subscribers.
type MessageBus struct {
	inbound  chan InboundEvent
	handlers map[EventKind]Handler

	eventSubscribers      map[uint64]chan Event
	nextEventSubscriberID uint64

	done      chan struct{}
	closeOnce sync.Once
	inflight  sync.WaitGroup

	mu sync.RWMutex
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:          make(chan InboundEvent, defaultBufferSize),
		handlers:         make(map[EventKind]Handler),
		eventSubscribers: make(map[uint64]chan Event),
		done:             make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, event InboundEvent) bool {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	default:
	}

	if event.ID == "" {
		event.ID = NewEventID()
	}
	if event.ReceivedAt.IsZero() {
		event.ReceivedAt = time.Now().UTC()
	}

	select {
	case <-ctx.Done():
		return false
	case <-mb.done:
		return false
	case mb.inbound <- event:
		return true
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundEvent, bool) {
	if ctx == nil {
		ctx = context.Background()
	}

	select {
	case <-ctx.Done():
		return InboundEvent{}, false
	case <-mb.done:
		return InboundEvent{}, false
	case event := <-mb.inbound:
		return event, true
	}
}

func (mb *MessageBus) RegisterHandler(kind EventKind, handler Handler) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.handlers[kind] = handler
}

func (mb *MessageBus) GetHandler(kind EventKind) (Handler, bool) {
	mb.mu.RLock()
	defer mb.mu.RUnlock()
	handler, ok := mb.handlers[kind]
	return handler, ok
}

// Run consumes inbound events until ctx is done or the bus closes. Every event
// runs in its own goroutine so a slow download never blocks unrelated updates.
// A panicking handler is logged and does not stop the loop.
func (mb *MessageBus) Run(ctx context.Context, log *slog.Logger) error {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "bus.dispatch")

	for {
		event, ok := mb.ConsumeInbound(ctx)
		if !ok {
			mb.inflight.Wait()
			if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		}

		handler, found := mb.GetHandler(event.Kind)
		if !found {
			log.Warn("No handler registered for event", "kind", event.Kind, "request_id", event.ID)
			continue
		}

		mb.inflight.Add(1)
		go func() {
			defer mb.inflight.Done()
			defer func() {
				if r := recover(); r != nil {
					log.Error("Event handler panicked", "kind", event.Kind, "request_id", event.ID, "error", fmt.Sprint(r))
				}
			}()
			handler(ctx, event)
		}()
	}
}

// Wait blocks until every dispatched handler has returned.
func (mb *MessageBus) Wait() {
	mb.inflight.Wait()
}

func (mb *MessageBus) Close() {
	mb.closeOnce.Do(func() {
		close(mb.done)

		mb.mu.Lock()
		for id, ch := range mb.eventSubscribers {
			close(ch)
			delete(mb.eventSubscribers, id)
		}
		mb.mu.Unlock()
	})
}
