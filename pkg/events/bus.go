// Package events implements an ordered, asynchronous event bus.
//
// Events are delivered on a single goroutine in the order they were
// published, after the publisher has returned. Handlers therefore never
// run while the publisher holds its own locks.
package events

import (
	"reflect"
	"sync"

	"github.com/go-delve/jsdebug/pkg/logflags"
)

type subscriber struct {
	id      int
	deliver func(interface{})
}

// Bus dispatches published events to subscribers.
type Bus struct {
	mu         sync.Mutex
	cond       *sync.Cond
	queue      []interface{}
	subs       []subscriber
	nextID     int
	delivering bool
	closed     bool
	done       chan struct{}
}

// NewBus returns a running bus. Call Close to stop its goroutine.
func NewBus() *Bus {
	b := &Bus{done: make(chan struct{})}
	b.cond = sync.NewCond(&b.mu)
	go b.loop()
	return b
}

// Subscribe registers fn for every event of type T published on b. The
// returned function removes the subscription.
func Subscribe[T any](b *Bus, fn func(T)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	b.subs = append(b.subs, subscriber{id: id, deliver: func(ev interface{}) {
		if t, ok := ev.(T); ok {
			fn(t)
		}
	}})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i := range b.subs {
			if b.subs[i].id == id {
				b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
				return
			}
		}
	}
}

// Publish enqueues ev. Events published after Close are dropped.
func (b *Bus) Publish(ev interface{}) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		logflags.DebuggerLogger().Debugf("event %s published after close", reflect.TypeOf(ev))
		return
	}
	b.queue = append(b.queue, ev)
	b.cond.Broadcast()
}

// Flush blocks until every event published before the call has been
// delivered. It must not be called from a handler.
func (b *Bus) Flush() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for (len(b.queue) > 0 || b.delivering) && !b.closed {
		b.cond.Wait()
	}
}

// Close delivers the events already queued and stops the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		<-b.done
		return
	}
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
	<-b.done
}

func (b *Bus) loop() {
	defer close(b.done)
	b.mu.Lock()
	for {
		for len(b.queue) == 0 && !b.closed {
			b.cond.Wait()
		}
		if len(b.queue) == 0 {
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue[0] = nil
		b.queue = b.queue[1:]
		subs := append([]subscriber(nil), b.subs...)
		b.delivering = true
		b.mu.Unlock()

		for _, s := range subs {
			s.deliver(ev)
		}

		b.mu.Lock()
		b.delivering = false
		b.cond.Broadcast()
	}
}
