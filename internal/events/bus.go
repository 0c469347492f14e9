package events

import "sync"

// Subscriber is a function that receives task events.
type Subscriber func(TaskEvent)

// Bus is a non-blocking publish/subscribe fan-out for task events.
// Events are delivered asynchronously via buffered channels. If a
// subscriber's channel is full, the event is dropped for that subscriber.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[EventKind][]chan TaskEvent
	allSubs     []chan TaskEvent
	bufferSize  int
	closed      bool
}

// NewBus creates an event bus with the given buffer size per subscriber.
func NewBus(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	return &Bus{
		subscribers: make(map[EventKind][]chan TaskEvent),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a subscriber for one event kind. The subscriber
// function runs on its own goroutine. Returns an unsubscribe function.
func (b *Bus) Subscribe(kind EventKind, fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan TaskEvent, b.bufferSize)
	b.subscribers[kind] = append(b.subscribers[kind], ch)
	go deliver(ch, fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		subs := b.subscribers[kind]
		for i, subCh := range subs {
			if subCh == ch {
				b.subscribers[kind] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

// SubscribeAll registers a subscriber for every event kind.
func (b *Bus) SubscribeAll(fn Subscriber) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan TaskEvent, b.bufferSize)
	b.allSubs = append(b.allSubs, ch)
	go deliver(ch, fn)

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		for i, subCh := range b.allSubs {
			if subCh == ch {
				b.allSubs = append(b.allSubs[:i], b.allSubs[i+1:]...)
				close(ch)
				break
			}
		}
	}
}

func deliver(ch <-chan TaskEvent, fn Subscriber) {
	for event := range ch {
		// Recover so a panicking subscriber cannot stall the bus.
		func() {
			defer func() {
				_ = recover()
			}()
			fn(event)
		}()
	}
}

// Publish sends an event to kind-scoped and catch-all subscribers.
// Uses select with default so a slow subscriber never blocks the caller.
func (b *Bus) Publish(event TaskEvent) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subscribers[event.Type] {
		select {
		case ch <- event:
		default:
			// Channel full, drop for this subscriber.
		}
	}
	for _, ch := range b.allSubs {
		select {
		case ch <- event:
		default:
		}
	}
}

// Close closes all subscriber channels and clears subscriptions.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for kind, subs := range b.subscribers {
		for _, ch := range subs {
			close(ch)
		}
		delete(b.subscribers, kind)
	}
	for _, ch := range b.allSubs {
		close(ch)
	}
	b.allSubs = nil
}
