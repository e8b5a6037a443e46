// Package observable provides a value holder with a synchronous current-value
// read and change subscriptions.
package observable

import "sync"

// Cell holds a value of type T and notifies subscribers on every Set.
//
// Notifications are delivered synchronously, in Set order, outside the value
// lock: a subscriber may call Get but must not call Set on the same cell.
type Cell[T any] struct {
	mu       sync.RWMutex
	notifyMu sync.Mutex
	value    T
	nextID   uint64
	subs     map[uint64]func(prev, next T)
}

// NewCell returns a cell holding initial.
func NewCell[T any](initial T) *Cell[T] {
	return &Cell[T]{
		value: initial,
		subs:  make(map[uint64]func(prev, next T)),
	}
}

// Get returns the current value.
func (c *Cell[T]) Get() T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.value
}

// Set replaces the value and notifies every subscriber with the previous and
// new values.
func (c *Cell[T]) Set(next T) {
	c.notifyMu.Lock()
	defer c.notifyMu.Unlock()

	c.mu.Lock()
	prev := c.value
	c.value = next
	subs := make([]func(prev, next T), 0, len(c.subs))
	for id := uint64(0); id < c.nextID; id++ {
		if fn, ok := c.subs[id]; ok {
			subs = append(subs, fn)
		}
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(prev, next)
	}
}

// Subscribe registers fn for future changes and returns a function that
// removes the subscription. Subscribers are called in registration order.
func (c *Cell[T]) Subscribe(fn func(prev, next T)) (unsubscribe func()) {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.subs, id)
			c.mu.Unlock()
		})
	}
}
