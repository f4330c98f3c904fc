package services

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"game-profile-engine/models"
	"game-profile-engine/schema"
	"game-profile-engine/storage"
)

const testUserID = "user-123456"

var t0 = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock(t time.Time) *testClock { return &testClock{t: t} }

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var errRemoteDown = errors.New("remote unreachable")

// fakeRemote mimics the remote store, including its newer-wins rule, with
// switchable failures.
type fakeRemote struct {
	mu         sync.Mutex
	docs       map[string][]byte
	daily      map[string]bool
	failSaves  int
	failLoads  bool
	failLedger bool
	failMarks  bool
	saves      int

	// saveGate, when set, holds every save until closed; saveEntered is
	// signalled as a save starts waiting.
	saveGate    chan struct{}
	saveEntered chan struct{}
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{docs: map[string][]byte{}, daily: map[string]bool{}}
}

func (f *fakeRemote) LoadProfile(_ context.Context, id string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLoads {
		return nil, false, errRemoteDown
	}
	raw, ok := f.docs[id]
	return append([]byte(nil), raw...), ok, nil
}

func (f *fakeRemote) SaveProfile(_ context.Context, id string, p models.Profile) error {
	f.mu.Lock()
	gate, entered := f.saveGate, f.saveEntered
	f.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.saves++
	if f.failSaves > 0 {
		f.failSaves--
		return errRemoteDown
	}
	if old, ok := f.docs[id]; ok && schema.LastUpdatedOf(old).After(p.LastUpdated) {
		return storage.ErrRemoteConflict
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return err
	}
	f.docs[id] = raw
	return nil
}

func (f *fakeRemote) HasCompletedDaily(_ context.Context, id, day string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLedger {
		return false, errRemoteDown
	}
	return f.daily[id+"/"+day], nil
}

func (f *fakeRemote) MarkDailyCompleted(_ context.Context, id, day string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failLedger || f.failMarks {
		return errRemoteDown
	}
	f.daily[id+"/"+day] = true
	return nil
}

func (f *fakeRemote) DeleteProfile(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.docs, id)
	return nil
}

func (f *fakeRemote) put(t *testing.T, p models.Profile) {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	f.mu.Lock()
	f.docs[p.ID] = raw
	f.mu.Unlock()
}

func (f *fakeRemote) profile(t *testing.T, id string) (models.Profile, bool) {
	t.Helper()
	f.mu.Lock()
	raw, ok := f.docs[id]
	f.mu.Unlock()
	if !ok {
		return models.Profile{}, false
	}
	var p models.Profile
	require.NoError(t, json.Unmarshal(raw, &p))
	return p, true
}

func (f *fakeRemote) saveCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saves
}

func (f *fakeRemote) set(fn func(f *fakeRemote)) {
	f.mu.Lock()
	fn(f)
	f.mu.Unlock()
}

// seedProfile returns a fully derived profile, as the engine itself would store it.
func seedProfile(id string, xp int64, at time.Time) models.Profile {
	p := schema.RepairProfile(nil, id, at)
	p.XP = xp
	p.Level = schema.LevelForXP(xp)
	p, _ = DefaultAchievementEngine().Apply(p)
	p.LastUpdated = at
	return p
}

type harness struct {
	engine   *ProfileEngine
	kv       *storage.MemoryKV
	local    *storage.LocalTier
	session  *storage.SessionTier
	remote   *fakeRemote
	notifier *storage.MemoryNotifier
	clock    *testClock
}

type harnessOption func(*harnessConfig)

type harnessConfig struct {
	identity IdentityProvider
	kv       *storage.MemoryKV
	notifier *storage.MemoryNotifier
	remote   *fakeRemote
	clock    *testClock
}

func withIdentity(p IdentityProvider) harnessOption {
	return func(c *harnessConfig) { c.identity = p }
}

// withShared makes the harness reuse another harness's local store, bus and remote,
// like a second browser tab on the same device.
func withShared(other *harness) harnessOption {
	return func(c *harnessConfig) {
		c.kv = other.kv
		c.notifier = other.notifier
		c.remote = other.remote
		c.clock = other.clock
	}
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()
	cfg := harnessConfig{
		identity: NewStaticIdentity(testUserID, IdentityHints{Username: "ann"}),
		kv:       storage.NewMemoryKV(),
		notifier: storage.NewMemoryNotifier(),
		remote:   newFakeRemote(),
		clock:    newTestClock(t0.Add(time.Hour)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &harness{
		kv:       cfg.kv,
		remote:   cfg.remote,
		notifier: cfg.notifier,
		clock:    cfg.clock,
		local:    storage.NewLocalTier(cfg.kv, nil, storage.WithLocalClock(cfg.clock.Now)),
		session:  storage.NewSessionTier(storage.NewMemoryKV()),
	}
	engine, err := NewProfileEngine(EngineConfig{
		Local:        h.local,
		Session:      h.session,
		Remote:       h.remote,
		Notifier:     h.notifier,
		Identity:     cfg.identity,
		Clock:        h.clock.Now,
		RetryInitial: time.Millisecond,
	})
	require.NoError(t, err)
	h.engine = engine
	t.Cleanup(func() { _ = engine.Close() })
	return h
}

func (h *harness) localProfile(t *testing.T, id string) models.Profile {
	t.Helper()
	raw, ok, err := h.local.Read(id)
	require.NoError(t, err)
	require.True(t, ok, "local tier holds no profile for %s", id)
	var p models.Profile
	require.NoError(t, json.Unmarshal(raw, &p))
	return p
}

func perfectDailyWin() models.GameResult {
	return models.GameResult{
		Won:      true,
		Attempts: 1,
		Mode:     models.ModeDaily,
		PlayTime: 45,
		Song:     &models.Song{Title: "Overworld", Franchise: "Zelda"},
	}
}
