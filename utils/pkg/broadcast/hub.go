package broadcast

import (
	"sort"
	"sync"
)

// Hub fans values out to registered listeners. Listeners are called synchronously, in
// registration order, on the publishing goroutine and never under the hub lock, so a
// listener may subscribe or unsubscribe from within its callback.
type Hub[T any] struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(T)
}

func NewHub[T any]() *Hub[T] {
	return &Hub[T]{listeners: make(map[int]func(T))}
}

// Subscribe registers fn and returns a function that removes it. The returned function
// is idempotent.
func (h *Hub[T]) Subscribe(fn func(T)) (unsubscribe func()) {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.listeners, id)
			h.mu.Unlock()
		})
	}
}

// Publish delivers v to every listener registered at the time of the call.
func (h *Hub[T]) Publish(v T) {
	h.mu.Lock()
	ids := make([]int, 0, len(h.listeners))
	for id := range h.listeners {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(T), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, h.listeners[id])
	}
	h.mu.Unlock()

	for _, fn := range fns {
		fn(v)
	}
}

// Len returns the number of registered listeners.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}
