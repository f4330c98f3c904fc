package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"game-profile-engine/models"
	"game-profile-engine/schema"
	"game-profile-engine/storage"
	"game-profile-engine/utils"
)

type EngineConfig struct {
	Local    storage.Tier
	Session  storage.Tier
	Remote   storage.RemoteTransport
	Notifier storage.Notifier
	Identity IdentityProvider

	Achievements *AchievementEngine
	Logger       *utils.Logger
	Clock        func() time.Time

	SyncInterval  time.Duration
	RetryAttempts uint
	RetryInitial  time.Duration
}

// GameOutcome is what ApplyGameResult reports back. Skipped is set (and
// Applied false) when the result was not folded in.
type GameOutcome struct {
	Profile         models.Profile `json:"profile"`
	Applied         bool           `json:"applied"`
	XPEarned        int64          `json:"xpEarned"`
	NewAchievements []string       `json:"newAchievements"`
	NewBadges       []string       `json:"newBadges"`
	LevelBefore     int            `json:"levelBefore"`
	LevelAfter      int            `json:"levelAfter"`
	Skipped         error          `json:"-"`
}

func (o GameOutcome) LevelUps() int { return o.LevelAfter - o.LevelBefore }

type EngineStatus struct {
	UserID      string    `json:"userId,omitempty"`
	SignedIn    bool      `json:"signedIn"`
	State       SyncState `json:"state"`
	Dirty       bool      `json:"dirty"`
	Emergency   bool      `json:"emergency"`
	LastSync    time.Time `json:"lastSync"`
	LastUpdated time.Time `json:"lastUpdated"`
	LastError   string    `json:"lastError,omitempty"`
}

// ProfileEngine owns the in-memory profile for one client session and is the
// only writer of the tiers on its behalf.
type ProfileEngine struct {
	local        storage.Tier
	session      storage.Tier
	remote       storage.RemoteTransport
	notifier     storage.Notifier
	identity     IdentityProvider
	achievements *AchievementEngine
	reconciler   *Reconciler
	scheduler    *SyncScheduler
	log          *utils.Logger
	now          func() time.Time

	origin        string
	retryAttempts uint
	retryInitial  time.Duration

	// opMu serializes reconcile passes and mutations.
	opMu sync.Mutex

	stateMu sync.RWMutex
	current *models.Profile
	dirty   bool
	// deletedID blocks tier writes for an identity whose account was deleted,
	// until another identity signs in.
	deletedID string

	// pushMu serializes remote writes against account deletion.
	pushMu sync.Mutex

	dailyMu      sync.Mutex
	pendingDaily map[dailyMark]struct{}

	subMu   sync.Mutex
	subs    map[int]func(models.Profile)
	nextSub int

	flight singleflight.Group

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	unsubs []func()
}

func NewProfileEngine(cfg EngineConfig) (*ProfileEngine, error) {
	if cfg.Local == nil {
		return nil, errors.New("profile engine requires a local tier")
	}
	if cfg.Identity == nil {
		return nil, errors.New("profile engine requires an identity provider")
	}
	if cfg.Logger == nil {
		cfg.Logger = utils.NopLogger()
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Achievements == nil {
		cfg.Achievements = DefaultAchievementEngine()
	}
	if cfg.RetryAttempts == 0 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryInitial <= 0 {
		cfg.RetryInitial = 500 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(context.Background())
	e := &ProfileEngine{
		local:         cfg.Local,
		session:       cfg.Session,
		remote:        cfg.Remote,
		notifier:      cfg.Notifier,
		identity:      cfg.Identity,
		achievements:  cfg.Achievements,
		log:           cfg.Logger,
		now:           cfg.Clock,
		origin:        uuid.NewString(),
		retryAttempts: cfg.RetryAttempts,
		retryInitial:  cfg.RetryInitial,
		subs:          make(map[int]func(models.Profile)),
		pendingDaily:  make(map[dailyMark]struct{}),
		ctx:           ctx,
		cancel:        cancel,
	}
	e.reconciler = NewReconciler(cfg.Local, cfg.Session, cfg.Remote, cfg.Achievements, cfg.Logger, cfg.Clock)
	e.scheduler = NewSyncScheduler(cfg.SyncInterval, e.runSync, cfg.Logger)
	return e, nil
}

// Start wires identity and change-notice listeners, starts the interval job
// and kicks off an initial sync when someone is already signed in.
func (e *ProfileEngine) Start(ctx context.Context) error {
	e.unsubs = append(e.unsubs, e.identity.Subscribe(e.onIdentity))
	if e.notifier != nil {
		e.unsubs = append(e.unsubs, e.notifier.Subscribe(e.onNotice))
	}
	if err := e.scheduler.Start(e.ctx); err != nil {
		return err
	}
	if _, ok := e.identity.CurrentIdentity(); ok {
		e.trigger(TriggerIdentity)
	}
	return nil
}

// Close stops background work and waits for in-flight passes.
func (e *ProfileEngine) Close() error {
	for _, unsub := range e.unsubs {
		unsub()
	}
	e.unsubs = nil
	err := e.scheduler.Stop()
	e.cancel()
	e.wg.Wait()
	return err
}

// WaitIdle blocks until background passes started so far have finished.
func (e *ProfileEngine) WaitIdle() { e.wg.Wait() }

func (e *ProfileEngine) Origin() string { return e.origin }

// Scheduler exposes sync state transitions.
func (e *ProfileEngine) Scheduler() *SyncScheduler { return e.scheduler }

// Current returns the in-memory profile, if loaded.
func (e *ProfileEngine) Current() (models.Profile, bool) {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	if e.current == nil {
		return models.Profile{}, false
	}
	return e.current.Clone(), true
}

// EnsureProfile returns the signed-in identity's profile, reconciling the tiers
// on first use. It never fails for a signed-in identity; the bool is false
// only when no one is signed in or the account was deleted in this session.
func (e *ProfileEngine) EnsureProfile(ctx context.Context) (models.Profile, bool) {
	ident, ok := e.identity.CurrentIdentity()
	if !ok {
		return models.Profile{}, false
	}
	if e.isDeleted(ident.ID) {
		return models.Profile{}, false
	}
	if p, ok := e.Current(); ok && p.ID == ident.ID {
		return p, true
	}

	v, err, _ := e.flight.Do(ident.ID, func() (interface{}, error) {
		out := e.syncOnce(ctx, ident)
		if out.deleted {
			return nil, ErrAccountDeleted
		}
		if out.push {
			p := out.profile
			e.goBackground(func(bg context.Context) {
				if err := e.pushRemote(bg, ident.ID, p); err != nil {
					e.log.Warn("[SYNC] background push failed", "user_id", ident.ID, "error", err)
				}
			})
		}
		return out.profile, nil
	})
	if err != nil {
		return models.Profile{}, false
	}
	return v.(models.Profile).Clone(), true
}

// SyncNow runs a full reconcile-and-push pass and returns once the scheduler
// is idle, including any pass the request was folded into.
func (e *ProfileEngine) SyncNow(ctx context.Context) error {
	return e.scheduler.Trigger(ctx, TriggerFocus)
}

// NotifyFocus schedules a pass in the background, e.g. when a tab regains focus.
func (e *ProfileEngine) NotifyFocus() {
	e.trigger(TriggerFocus)
}

func (e *ProfileEngine) Status() EngineStatus {
	ident, signedIn := e.identity.CurrentIdentity()
	st := EngineStatus{
		UserID:   ident.ID,
		SignedIn: signedIn,
		State:    e.scheduler.State(),
		LastSync: e.scheduler.LastSync(),
	}
	if err := e.scheduler.LastError(); err != nil {
		st.LastError = err.Error()
	}
	e.stateMu.RLock()
	st.Dirty = e.dirty
	if e.current != nil {
		st.Emergency = e.current.Emergency != nil
		st.LastUpdated = e.current.LastUpdated
	}
	e.stateMu.RUnlock()
	return st
}

// Subscribe registers fn for every new profile version. fn runs on the
// goroutine that produced the version and must not call back into mutating
// engine methods.
func (e *ProfileEngine) Subscribe(fn func(models.Profile)) func() {
	e.subMu.Lock()
	id := e.nextSub
	e.nextSub++
	e.subs[id] = fn
	e.subMu.Unlock()
	return func() {
		e.subMu.Lock()
		delete(e.subs, id)
		e.subMu.Unlock()
	}
}

// Achievements lists catalog progress for the current profile.
func (e *ProfileEngine) Achievements(ctx context.Context) ([]models.EntryProgress, error) {
	p, ok := e.EnsureProfile(ctx)
	if !ok {
		return nil, e.unavailable()
	}
	return e.achievements.Progress(p), nil
}

// ApplyGameResult folds one finished game into the profile. It never returns
// an error: a result that cannot be applied comes back with Applied=false and
// the reason in Skipped.
func (e *ProfileEngine) ApplyGameResult(ctx context.Context, ev models.GameResult) GameOutcome {
	if err := ValidateGameResult(ev); err != nil {
		cur, _ := e.Current()
		return GameOutcome{Profile: cur, Skipped: err, LevelBefore: cur.Level, LevelAfter: cur.Level}
	}

	var (
		summary MutationSummary
		before  int
		day     string
	)
	next, eval, err := e.mutate(ctx, "game_result", func(ctx context.Context, p *models.Profile) error {
		before = p.Level
		if ev.Mode == models.ModeDaily {
			played := ev.PlayedAt
			if played.IsZero() {
				played = e.now()
			}
			day = dayOf(played)
			if e.dailyCompleted(ctx, p.ID, day, *p) {
				return ErrDailyAlreadyCompleted
			}
		}
		*p, summary = ApplyGameResult(*p, ev, e.now())
		return nil
	})
	if err != nil {
		cur, _ := e.Current()
		e.log.Info("[GAME] result skipped", "reason", err.Error(), "mode", ev.Mode)
		return GameOutcome{Profile: cur, Skipped: err, LevelBefore: cur.Level, LevelAfter: cur.Level}
	}

	if day != "" {
		id := next.ID
		e.goBackground(func(bg context.Context) { e.markDaily(bg, id, day) })
	}
	return GameOutcome{
		Profile:         next,
		Applied:         true,
		XPEarned:        summary.XPEarned + eval.XPBonus,
		NewAchievements: nonNil(eval.NewAchievements),
		NewBadges:       nonNil(eval.NewBadges),
		LevelBefore:     before,
		LevelAfter:      next.Level,
	}
}

// mutate is the single write path for user-driven changes: load, repair,
// apply fn, re-derive, stamp, write through, notify, schedule the remote push.
func (e *ProfileEngine) mutate(ctx context.Context, op string, fn func(context.Context, *models.Profile) error) (models.Profile, Evaluation, error) {
	ident, ok := e.identity.CurrentIdentity()
	if !ok {
		return models.Profile{}, Evaluation{}, ErrNotAuthenticated
	}
	if e.isDeleted(ident.ID) {
		return models.Profile{}, Evaluation{}, ErrAccountDeleted
	}
	if _, ok := e.EnsureProfile(ctx); !ok {
		return models.Profile{}, Evaluation{}, e.unavailable()
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.isDeleted(ident.ID) {
		return models.Profile{}, Evaluation{}, ErrAccountDeleted
	}
	base, ok := e.Current()
	if !ok || base.ID != ident.ID {
		return models.Profile{}, Evaluation{}, ErrNotAuthenticated
	}
	base = e.prepare(base)

	next := base.Clone()
	if err := fn(ctx, &next); err != nil {
		return models.Profile{}, Evaluation{}, err
	}
	next.ID = base.ID
	// Once the player acts on a synthesized profile it holds real progress.
	next.Emergency = nil
	next, eval := e.achievements.Apply(next)
	schema.NormalizeProfile(&next)
	next.LastUpdated = nextStamp(base.LastUpdated, e.now())

	e.commitLocked(ctx, next)
	e.log.Debug("[PROFILE] mutation applied", "op", op, "user_id", next.ID, "xp", next.XP, "level", next.Level)
	e.trigger(TriggerMutation)
	return next, eval, nil
}

// prepare runs the in-memory profile through repair so a mutation always
// starts from a schema-valid, invariant-consistent value.
func (e *ProfileEngine) prepare(p models.Profile) models.Profile {
	raw, err := json.Marshal(p)
	if err != nil {
		return p
	}
	if !schema.CheckIntegrity(raw) {
		e.log.Warn("[PROFILE] repairing in-memory profile before mutation", "user_id", p.ID)
	}
	return schema.RepairProfile(raw, p.ID, e.now())
}

// commitLocked writes p to the local tiers, announces it and makes it current.
// Requires opMu.
func (e *ProfileEngine) commitLocked(ctx context.Context, p models.Profile) {
	for _, err := range e.reconciler.WriteLocal(p.ID, p) {
		e.log.Warn("[PROFILE] write-through failed", "user_id", p.ID, "error", err)
	}
	e.publish(ctx, p)
	e.stateMu.Lock()
	e.dirty = true
	e.stateMu.Unlock()
	e.setCurrent(p)
}

type syncOutcome struct {
	profile         models.Profile
	push            bool
	remoteReachable bool
	deleted         bool
}

// syncOnce reconciles the tiers for ident, falling back to an emergency
// profile when nothing usable exists anywhere.
func (e *ProfileEngine) syncOnce(ctx context.Context, ident Identity) syncOutcome {
	e.opMu.Lock()
	defer e.opMu.Unlock()

	if e.isDeleted(ident.ID) {
		return syncOutcome{deleted: true}
	}
	res := e.reconciler.Reconcile(ctx, ident.ID)
	if res.Err != nil {
		if cur, ok := e.Current(); ok && cur.ID == ident.ID && !errors.Is(res.Err, ErrNoValidCandidate) {
			return syncOutcome{profile: cur, remoteReachable: res.RemoteReachable}
		}
		reason := ReasonAllTiersEmpty
		if len(res.Recovered) > 0 {
			reason = ReasonAllTiersFailed
		}
		p := NewEmergencyProfile(ident.ID, ident.Hints, reason, e.now())
		p, _ = e.achievements.Apply(p)
		e.log.Warn("[SYNC] no usable profile in any tier, synthesized one", "user_id", ident.ID, "reason", reason)
		e.commitLocked(ctx, p)
		return syncOutcome{profile: p, push: res.RemoteReachable, remoteReachable: res.RemoteReachable}
	}

	p := res.Profile
	if res.LocalWritten {
		e.publish(ctx, p)
	}
	e.stateMu.Lock()
	if res.RemoteReachable {
		e.dirty = res.RemoteStale
	}
	e.stateMu.Unlock()
	e.setCurrent(p)
	return syncOutcome{
		profile:         p,
		push:            res.RemoteReachable && res.RemoteStale,
		remoteReachable: res.RemoteReachable,
	}
}

// runSync is the scheduler's pass: reconcile, then push with retry.
func (e *ProfileEngine) runSync(ctx context.Context, trigger Trigger) error {
	ident, ok := e.identity.CurrentIdentity()
	if !ok {
		return nil
	}
	e.log.Debug("[SYNC] pass", "trigger", trigger, "user_id", ident.ID)

	out := e.syncOnce(ctx, ident)
	if out.deleted {
		return nil
	}
	if !out.remoteReachable {
		if e.remote == nil {
			return nil
		}
		return recoverable(ErrTierUnavailable, storage.TierRemote, nil)
	}
	e.flushPendingDaily(ctx)
	if !out.push {
		return nil
	}
	err := e.pushRemote(ctx, ident.ID, out.profile)
	if errors.Is(err, storage.ErrRemoteConflict) {
		// Someone stored a newer version meanwhile; adopt it.
		out = e.syncOnce(ctx, ident)
		if !out.push {
			return nil
		}
		err = e.pushRemote(ctx, ident.ID, out.profile)
	}
	return err
}

// pushRemote saves p with bounded exponential backoff. A conflict is final.
func (e *ProfileEngine) pushRemote(ctx context.Context, id string, p models.Profile) error {
	if e.remote == nil {
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = e.retryInitial
	b.MaxInterval = 8 * e.retryInitial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		e.pushMu.Lock()
		defer e.pushMu.Unlock()
		if e.isDeleted(id) {
			return struct{}{}, backoff.Permanent(ErrAccountDeleted)
		}
		err := e.remote.SaveProfile(ctx, id, p)
		if errors.Is(err, storage.ErrRemoteConflict) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(e.retryAttempts),
		backoff.WithNotify(func(err error, next time.Duration) {
			e.log.Warn("[SYNC] remote save failed, retrying", "user_id", id, "error", err, "retry_in", next)
		}),
	)
	if errors.Is(err, ErrAccountDeleted) {
		e.log.Info("[SYNC] dropping push for deleted account", "user_id", id)
		return nil
	}
	if err != nil {
		if !errors.Is(err, storage.ErrRemoteConflict) {
			e.log.Error("[SYNC] remote save gave up, local tier stays authoritative", "user_id", id, "error", err)
		}
		return fmt.Errorf("save remote profile: %w", err)
	}

	e.stateMu.Lock()
	if e.current != nil && e.current.ID == id && !e.current.LastUpdated.After(p.LastUpdated) {
		e.dirty = false
	}
	e.stateMu.Unlock()
	e.log.Debug("[SYNC] remote saved", "user_id", id, "last_updated", p.LastUpdated)
	return nil
}

// dailyCompleted reports whether id already finished the daily game on day.
// A daily record in the profile's own history is final; otherwise the remote
// ledger decides, and an unreachable ledger counts as not completed.
func (e *ProfileEngine) dailyCompleted(ctx context.Context, id, day string, p models.Profile) bool {
	if playedDailyOn(p, day) {
		return true
	}
	ledger, ok := e.remote.(storage.DailyLedger)
	if !ok {
		return false
	}
	done, err := ledger.HasCompletedDaily(ctx, id, day)
	if err != nil {
		e.log.Warn("[GAME] daily ledger unreachable, using local history", "user_id", id, "error", err)
		return false
	}
	return done
}

func playedDailyOn(p models.Profile, day string) bool {
	for _, rec := range p.GameHistory {
		if rec.Mode == models.ModeDaily && dayOf(rec.PlayedAt) == day {
			return true
		}
	}
	return false
}

type dailyMark struct {
	id  string
	day string
}

// markDaily records the completion in the ledger. A failed mark stays
// pending and is retried on every sync pass until it lands.
func (e *ProfileEngine) markDaily(ctx context.Context, id, day string) {
	ledger, ok := e.remote.(storage.DailyLedger)
	if !ok || e.isDeleted(id) {
		return
	}
	mark := dailyMark{id: id, day: day}
	if err := ledger.MarkDailyCompleted(ctx, id, day); err != nil {
		e.log.Warn("[GAME] could not record daily completion, will retry", "user_id", id, "day", day, "error", err)
		e.dailyMu.Lock()
		e.pendingDaily[mark] = struct{}{}
		e.dailyMu.Unlock()
		return
	}
	e.dailyMu.Lock()
	delete(e.pendingDaily, mark)
	e.dailyMu.Unlock()
}

func (e *ProfileEngine) flushPendingDaily(ctx context.Context) {
	e.dailyMu.Lock()
	marks := make([]dailyMark, 0, len(e.pendingDaily))
	for m := range e.pendingDaily {
		marks = append(marks, m)
	}
	e.dailyMu.Unlock()
	for _, m := range marks {
		e.markDaily(ctx, m.id, m.day)
	}
}

// PendingDailyMarks is the number of daily completions not yet in the ledger.
func (e *ProfileEngine) PendingDailyMarks() int {
	e.dailyMu.Lock()
	defer e.dailyMu.Unlock()
	return len(e.pendingDaily)
}

// unavailable explains why EnsureProfile came back empty.
func (e *ProfileEngine) unavailable() error {
	if ident, ok := e.identity.CurrentIdentity(); ok && e.isDeleted(ident.ID) {
		return ErrAccountDeleted
	}
	return ErrNotAuthenticated
}

func (e *ProfileEngine) isDeleted(id string) bool {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return id != "" && e.deletedID == id
}

func (e *ProfileEngine) publish(ctx context.Context, p models.Profile) {
	if e.notifier == nil {
		return
	}
	n := storage.ChangeNotice{ID: p.ID, Origin: e.origin, LastUpdated: p.LastUpdated}
	if err := e.notifier.Publish(ctx, n); err != nil {
		e.log.Warn("[PROFILE] change notice failed", "user_id", p.ID, "error", err)
	}
}

func (e *ProfileEngine) setCurrent(p models.Profile) {
	e.stateMu.Lock()
	unchanged := e.current != nil && e.current.ID == p.ID && e.current.LastUpdated.Equal(p.LastUpdated) &&
		sameProfile(*e.current, p)
	cp := p.Clone()
	e.current = &cp
	e.stateMu.Unlock()
	if unchanged {
		return
	}

	e.subMu.Lock()
	fns := make([]func(models.Profile), 0, len(e.subs))
	for _, fn := range e.subs {
		fns = append(fns, fn)
	}
	e.subMu.Unlock()
	for _, fn := range fns {
		fn(p.Clone())
	}
}

func sameProfile(a, b models.Profile) bool {
	x, err1 := json.Marshal(a)
	y, err2 := json.Marshal(b)
	return err1 == nil && err2 == nil && string(x) == string(y)
}

func (e *ProfileEngine) onIdentity(ident Identity, signedIn bool) {
	e.stateMu.Lock()
	switched := e.current == nil || !signedIn || e.current.ID != ident.ID
	if switched {
		e.current = nil
		e.dirty = false
	}
	if !signedIn || ident.ID != e.deletedID {
		e.deletedID = ""
	}
	e.stateMu.Unlock()

	if !signedIn {
		e.scheduler.Reset()
		return
	}
	if switched {
		e.trigger(TriggerIdentity)
	}
}

func (e *ProfileEngine) onNotice(n storage.ChangeNotice) {
	if n.Origin == e.origin {
		return
	}
	ident, ok := e.identity.CurrentIdentity()
	if !ok || ident.ID != n.ID {
		return
	}
	if cur, ok := e.Current(); ok && !n.LastUpdated.After(cur.LastUpdated) {
		return
	}
	e.trigger(TriggerForeignChange)
}

func (e *ProfileEngine) trigger(t Trigger) {
	e.goBackground(func(ctx context.Context) {
		if err := e.scheduler.Trigger(ctx, t); err != nil {
			e.log.Warn("[SYNC] pass failed", "trigger", t, "error", err)
		}
	})
}

func (e *ProfileEngine) goBackground(fn func(context.Context)) {
	if e.ctx.Err() != nil {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		fn(e.ctx)
	}()
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
