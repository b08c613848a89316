package events

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// Handler consumes a published event. Handlers must be fast; slow consumers
// should queue internally.
type Handler func(Event)

// Bus is an in-process fan-out with a bounded queue. When the queue is full
// the publisher delivers synchronously instead of dropping.
type Bus struct {
	mu       sync.RWMutex
	handlers []Handler
	queue    chan Event
	log      zerolog.Logger
	wg       sync.WaitGroup
	cancel   context.CancelFunc
}

// NewBus creates a bus with the given queue capacity and starts its dispatch
// goroutine.
func NewBus(capacity int, log zerolog.Logger) *Bus {
	ctx, cancel := context.WithCancel(context.Background())
	b := &Bus{
		queue:  make(chan Event, capacity),
		log:    log.With().Str("component", "event_bus").Logger(),
		cancel: cancel,
	}
	b.wg.Add(1)
	go b.run(ctx)
	return b
}

// Subscribe registers a handler for every published event.
func (b *Bus) Subscribe(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
}

// Publish enqueues the event, falling back to a synchronous dispatch when
// the queue is full. Events are never dropped.
func (b *Bus) Publish(e Event) {
	select {
	case b.queue <- e:
	default:
		b.log.Warn().Str("type", string(e.Type)).Msg("event queue full, dispatching inline")
		b.dispatch(e)
	}
}

func (b *Bus) run(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			// Drain what is already queued before exiting.
			for {
				select {
				case e := <-b.queue:
					b.dispatch(e)
				default:
					return
				}
			}
		case e := <-b.queue:
			b.dispatch(e)
		}
	}
}

func (b *Bus) dispatch(e Event) {
	b.mu.RLock()
	handlers := make([]Handler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()
	for _, h := range handlers {
		h(e)
	}
}

// Close stops the dispatch goroutine after draining the queue.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}
