package storage

import (
	"context"
	"sync"
	"time"
)

// ChangeNotice announces that a session wrote a new profile version to the
// shared local tier. Other sessions of the same identity re-reconcile on it.
type ChangeNotice struct {
	ID          string    `json:"id"`
	Origin      string    `json:"origin"`
	LastUpdated time.Time `json:"lastUpdated"`
}

// Notifier fans change notices out to every subscribed session.
type Notifier interface {
	Publish(ctx context.Context, n ChangeNotice) error
	Subscribe(fn func(ChangeNotice)) (unsubscribe func())
}

// MemoryNotifier delivers notices in-process, synchronously.
type MemoryNotifier struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]func(ChangeNotice)
}

func NewMemoryNotifier() *MemoryNotifier {
	return &MemoryNotifier{handlers: make(map[int]func(ChangeNotice))}
}

func (m *MemoryNotifier) Publish(_ context.Context, n ChangeNotice) error {
	m.deliver(n)
	return nil
}

func (m *MemoryNotifier) deliver(n ChangeNotice) {
	m.mu.RLock()
	handlers := make([]func(ChangeNotice), 0, len(m.handlers))
	for _, h := range m.handlers {
		handlers = append(handlers, h)
	}
	m.mu.RUnlock()
	for _, h := range handlers {
		h(n)
	}
}

func (m *MemoryNotifier) Subscribe(fn func(ChangeNotice)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.handlers, id)
			m.mu.Unlock()
		})
	}
}
