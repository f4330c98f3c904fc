package services

import "sync"

// IdentityHints is whatever partial metadata the auth collaborator knows.
type IdentityHints struct {
	Username    string `json:"username,omitempty"`
	DisplayName string `json:"displayName,omitempty"`
	Email       string `json:"email,omitempty"`
}

type Identity struct {
	ID    string
	Hints IdentityHints
}

// IdentityProvider exposes the signed-in identity and announces changes
// (login, logout, token refresh).
type IdentityProvider interface {
	CurrentIdentity() (Identity, bool)
	Subscribe(fn func(Identity, bool)) (unsubscribe func())
}

// StaticIdentity never changes; used per request or per CLI invocation.
type StaticIdentity struct {
	identity Identity
}

func NewStaticIdentity(id string, hints IdentityHints) *StaticIdentity {
	return &StaticIdentity{identity: Identity{ID: id, Hints: hints}}
}

func (s *StaticIdentity) CurrentIdentity() (Identity, bool) {
	return s.identity, s.identity.ID != ""
}

func (s *StaticIdentity) Subscribe(func(Identity, bool)) func() { return func() {} }

// MutableIdentity follows login/logout events.
type MutableIdentity struct {
	mu       sync.RWMutex
	identity Identity
	signedIn bool
	nextID   int
	subs     map[int]func(Identity, bool)
}

func NewMutableIdentity() *MutableIdentity {
	return &MutableIdentity{subs: make(map[int]func(Identity, bool))}
}

func (m *MutableIdentity) CurrentIdentity() (Identity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.identity, m.signedIn
}

// SignIn switches to identity and notifies subscribers.
func (m *MutableIdentity) SignIn(identity Identity) {
	m.set(identity, identity.ID != "")
}

// SignOut clears the identity and notifies subscribers.
func (m *MutableIdentity) SignOut() {
	m.set(Identity{}, false)
}

func (m *MutableIdentity) set(identity Identity, signedIn bool) {
	m.mu.Lock()
	m.identity = identity
	m.signedIn = signedIn
	subs := make([]func(Identity, bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(identity, signedIn)
	}
}

func (m *MutableIdentity) Subscribe(fn func(Identity, bool)) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.subs[id] = fn
	m.mu.Unlock()
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}
