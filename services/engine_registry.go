package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"game-profile-engine/utils"
)

// EngineRegistry keeps one ProfileEngine per signed-in user for the HTTP
// surface. All engines share the tiers and notifier of the base config.
type EngineRegistry struct {
	base EngineConfig
	log  *utils.Logger
	now  func() time.Time

	mu      sync.Mutex
	engines map[string]*registryEntry
	closed  bool
}

type registryEntry struct {
	engine   *ProfileEngine
	lastUsed time.Time
}

var ErrRegistryClosed = errors.New("engine registry is closed")

// NewEngineRegistry uses base for every engine it builds; base.Identity is
// ignored and replaced by a per-user StaticIdentity.
func NewEngineRegistry(base EngineConfig) *EngineRegistry {
	log := base.Logger
	if log == nil {
		log = utils.NopLogger()
	}
	now := base.Clock
	if now == nil {
		now = time.Now
	}
	if base.Achievements == nil {
		base.Achievements = DefaultAchievementEngine()
	}
	return &EngineRegistry{
		base:    base,
		log:     log.With("service", "EngineRegistry"),
		now:     now,
		engines: make(map[string]*registryEntry),
	}
}

// Get returns the engine for id, creating and starting it on first use.
func (r *EngineRegistry) Get(ctx context.Context, id string, hints IdentityHints) (*ProfileEngine, error) {
	if id == "" {
		return nil, ErrNotAuthenticated
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, ErrRegistryClosed
	}
	if entry, ok := r.engines[id]; ok {
		entry.lastUsed = r.now()
		return entry.engine, nil
	}

	cfg := r.base
	cfg.Identity = NewStaticIdentity(id, hints)
	engine, err := NewProfileEngine(cfg)
	if err != nil {
		return nil, err
	}
	if err := engine.Start(ctx); err != nil {
		_ = engine.Close()
		return nil, err
	}
	r.engines[id] = &registryEntry{engine: engine, lastUsed: r.now()}
	r.log.Debug("[REGISTRY] engine created", "user_id", id, "engines", len(r.engines))
	return engine, nil
}

// Reap closes engines that have not been used for longer than idle and
// returns how many were closed. Their tiers keep the data.
func (r *EngineRegistry) Reap(idle time.Duration) int {
	cutoff := r.now().Add(-idle)

	r.mu.Lock()
	var stale []*ProfileEngine
	for id, entry := range r.engines {
		if entry.lastUsed.Before(cutoff) {
			stale = append(stale, entry.engine)
			delete(r.engines, id)
		}
	}
	r.mu.Unlock()

	for _, engine := range stale {
		if err := engine.Close(); err != nil {
			r.log.Warn("[REGISTRY] closing idle engine failed", "error", err)
		}
	}
	if len(stale) > 0 {
		r.log.Info("[REGISTRY] reaped idle engines", "count", len(stale))
	}
	return len(stale)
}

// Forget closes and drops the engine for id, e.g. after account deletion.
func (r *EngineRegistry) Forget(id string) {
	r.mu.Lock()
	entry, ok := r.engines[id]
	delete(r.engines, id)
	r.mu.Unlock()
	if ok {
		_ = entry.engine.Close()
	}
}

func (r *EngineRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.engines)
}

// CloseAll closes every engine and refuses new ones.
func (r *EngineRegistry) CloseAll() error {
	r.mu.Lock()
	r.closed = true
	engines := make([]*ProfileEngine, 0, len(r.engines))
	for _, entry := range r.engines {
		engines = append(engines, entry.engine)
	}
	r.engines = make(map[string]*registryEntry)
	r.mu.Unlock()

	var errs []error
	for _, engine := range engines {
		if err := engine.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
