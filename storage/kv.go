// Package storage holds the three profile tiers (local, session, remote) and
// the key/value backends and change notices they are built on.
package storage

import (
	"errors"
	"sort"
	"strings"
	"sync"
	"time"
)

// ErrTierUnavailable wraps any backend failure; callers treat it as "absent".
var ErrTierUnavailable = errors.New("tier unavailable")

// KV is a synchronous key/value backend for a tier.
type KV interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte) error
	Delete(key string) error
	Keys(prefix string) ([]string, error)
}

// MemoryKV is an in-process KV with optional expiry. It backs the session tier
// when no redis is configured, and every tier in tests.
type MemoryKV struct {
	mu      sync.Mutex
	ttl     time.Duration
	now     func() time.Time
	entries map[string]memoryEntry
}

type memoryEntry struct {
	value     []byte
	expiresAt time.Time
}

func NewMemoryKV() *MemoryKV {
	return NewMemoryKVWithTTL(0, time.Now)
}

// NewMemoryKVWithTTL expires entries ttl after their last write; ttl <= 0 disables expiry.
func NewMemoryKVWithTTL(ttl time.Duration, now func() time.Time) *MemoryKV {
	if now == nil {
		now = time.Now
	}
	return &MemoryKV{ttl: ttl, now: now, entries: make(map[string]memoryEntry)}
}

func (m *MemoryKV) Get(key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.IsZero() && !m.now().Before(e.expiresAt) {
		delete(m.entries, key)
		return nil, false, nil
	}
	return append([]byte(nil), e.value...), true, nil
}

func (m *MemoryKV) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memoryEntry{value: append([]byte(nil), value...)}
	if m.ttl > 0 {
		e.expiresAt = m.now().Add(m.ttl)
	}
	m.entries[key] = e
	return nil
}

func (m *MemoryKV) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *MemoryKV) Keys(prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k := range m.entries {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
