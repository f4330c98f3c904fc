// services/sync_scheduler.go
package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"

	"game-profile-engine/utils"
)

type SyncState string

const (
	StateIdle        SyncState = "idle"
	StateReconciling SyncState = "reconciling"
	StateSynced      SyncState = "synced"
	// StateDegraded: the last pass could not reach or write the remote.
	StateDegraded SyncState = "degraded"
)

type Trigger string

const (
	TriggerIdentity      Trigger = "identity"
	TriggerFocus         Trigger = "focus"
	TriggerInterval      Trigger = "interval"
	TriggerMutation      Trigger = "mutation"
	TriggerForeignChange Trigger = "foreign_change"
	TriggerCoalesced     Trigger = "coalesced"
)

// SyncFunc runs one reconcile-and-push pass.
type SyncFunc func(ctx context.Context, trigger Trigger) error

// SyncScheduler serializes sync passes. A trigger that arrives while a pass
// is running is folded into a single rerun once it finishes.
type SyncScheduler struct {
	run      SyncFunc
	interval time.Duration
	log      *utils.Logger

	mu        sync.Mutex
	state     SyncState
	running   bool
	pending   bool
	idle      chan struct{}
	lastErr   error
	lastSync  time.Time
	listeners map[int]func(SyncState)
	nextID    int

	sched  gocron.Scheduler
	cancel context.CancelFunc
}

func NewSyncScheduler(interval time.Duration, run SyncFunc, log *utils.Logger) *SyncScheduler {
	if log == nil {
		log = utils.NopLogger()
	}
	return &SyncScheduler{
		run:       run,
		interval:  interval,
		log:       log,
		state:     StateIdle,
		listeners: make(map[int]func(SyncState)),
	}
}

// Start registers the interval job. A non-positive interval disables it.
func (s *SyncScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sched != nil || s.interval <= 0 {
		return nil
	}

	sched, err := gocron.NewScheduler()
	if err != nil {
		return fmt.Errorf("create sync scheduler: %w", err)
	}
	jobCtx, cancel := context.WithCancel(ctx)

	_, err = sched.NewJob(
		gocron.DurationJob(s.interval),
		gocron.NewTask(func() {
			if err := s.Trigger(jobCtx, TriggerInterval); err != nil {
				s.log.Warn("[SYNC] interval pass failed", "error", err)
			}
		}),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		cancel()
		_ = sched.Shutdown()
		return fmt.Errorf("register sync job: %w", err)
	}
	sched.Start()
	s.sched = sched
	s.cancel = cancel
	return nil
}

// Stop cancels the interval job and any pass it started.
func (s *SyncScheduler) Stop() error {
	s.mu.Lock()
	sched, cancel := s.sched, s.cancel
	s.sched, s.cancel = nil, nil
	s.mu.Unlock()

	if sched == nil {
		return nil
	}
	cancel()
	return sched.Shutdown()
}

// Trigger runs a pass now and returns its error. If a pass is already in
// flight, Trigger marks a rerun and waits until the scheduler is idle again,
// then returns the error of the last pass.
func (s *SyncScheduler) Trigger(ctx context.Context, trigger Trigger) error {
	s.mu.Lock()
	if s.running {
		s.pending = true
		idle := s.idle
		s.mu.Unlock()
		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
		return s.LastError()
	}
	s.running = true
	s.idle = make(chan struct{})
	s.setStateLocked(StateReconciling)
	s.mu.Unlock()

	for {
		err := s.run(ctx, trigger)

		s.mu.Lock()
		s.lastErr = err
		if err != nil {
			s.setStateLocked(StateDegraded)
		} else {
			s.lastSync = time.Now()
			s.setStateLocked(StateSynced)
		}
		if !s.pending || ctx.Err() != nil {
			s.running = false
			s.pending = false
			close(s.idle)
			s.idle = nil
			s.mu.Unlock()
			return err
		}
		s.pending = false
		s.setStateLocked(StateReconciling)
		s.mu.Unlock()
		trigger = TriggerCoalesced
	}
}

// Reset returns to Idle, e.g. after sign-out.
func (s *SyncScheduler) Reset() {
	s.mu.Lock()
	s.lastErr = nil
	s.setStateLocked(StateIdle)
	s.mu.Unlock()
}

func (s *SyncScheduler) State() SyncState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *SyncScheduler) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

func (s *SyncScheduler) LastSync() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSync
}

// OnStateChange registers fn for every state transition.
func (s *SyncScheduler) OnStateChange(fn func(SyncState)) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = fn
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

// setStateLocked requires s.mu; listeners run synchronously and must not call back in.
func (s *SyncScheduler) setStateLocked(next SyncState) {
	if s.state == next {
		return
	}
	s.state = next
	for _, fn := range s.listeners {
		fn(next)
	}
}
