// Package events implements the named publish/subscribe bus behind SignalClient events.
package events

import (
	"sync"

	"github.com/luciancaetano/mws"
)

type subscription struct {
	handle  mws.Handle
	handler mws.Handler
}

// Bus dispatches events to handlers subscribed by event name.
// The zero value is ready to use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[mws.EventName][]subscription
	nextID mws.Handle
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers h for name and returns a handle unique within this bus.
func (b *Bus) Subscribe(name mws.EventName, h mws.Handler) mws.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs == nil {
		b.subs = make(map[mws.EventName][]subscription)
	}
	b.nextID++
	b.subs[name] = append(b.subs[name], subscription{handle: b.nextID, handler: h})
	return b.nextID
}

// Unsubscribe removes the handler registered under handle for name.
func (b *Bus) Unsubscribe(name mws.EventName, handle mws.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[name]
	for i, s := range subs {
		if s.handle == handle {
			// Copy so that a Publish iterating the old slice is unaffected
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[name] = next
			return
		}
	}
}

// UnsubscribeAll removes every handler for name.
func (b *Bus) UnsubscribeAll(name mws.EventName) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, name)
}

// Clear removes every handler for every name.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = nil
}

// Count returns the number of handlers subscribed to name.
func (b *Bus) Count(name mws.EventName) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[name])
}

// Publish calls every handler subscribed to ev.Name() in subscription order.
//
// The result is false if any handler returned false; the remaining handlers still run.
// Handlers are called without holding the bus lock, so they may subscribe or unsubscribe.
// A panicking handler propagates to the caller.
func (b *Bus) Publish(ev mws.Event) bool {
	b.mu.RLock()
	subs := b.subs[ev.Name()]
	b.mu.RUnlock()

	result := true
	for _, s := range subs {
		if !s.handler(ev) {
			result = false
		}
	}
	return result
}
