package services

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSchedulerCoalescesTriggersDuringAPass(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	var mu sync.Mutex
	var triggers []Trigger

	s := NewSyncScheduler(0, func(ctx context.Context, tr Trigger) error {
		mu.Lock()
		triggers = append(triggers, tr)
		first := len(triggers) == 1
		mu.Unlock()
		if first {
			started <- struct{}{}
			<-release
		}
		return nil
	}, nil)

	done := make(chan error, 1)
	go func() { done <- s.Trigger(context.Background(), TriggerIdentity) }()
	<-started
	assert.Equal(t, StateReconciling, s.State())

	waiter := make(chan int, 1)
	go func() {
		_ = s.Trigger(context.Background(), TriggerFocus)
		mu.Lock()
		waiter <- len(triggers)
		mu.Unlock()
	}()
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return s.pending
	}, time.Second, time.Millisecond)
	select {
	case <-waiter:
		t.Fatal("a waiting trigger returned before the rerun")
	default:
	}

	// Callers that give up waiting do not queue extra passes.
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 5; i++ {
		assert.ErrorIs(t, s.Trigger(cancelled, TriggerFocus), context.Canceled)
	}

	close(release)
	require.NoError(t, <-done)
	assert.Equal(t, 2, <-waiter, "the waiting trigger returns after the coalesced rerun")

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Trigger{TriggerIdentity, TriggerCoalesced}, triggers)
	assert.Equal(t, StateSynced, s.State())
}

func TestSchedulerStateMachine(t *testing.T) {
	fail := true
	s := NewSyncScheduler(0, func(context.Context, Trigger) error {
		if fail {
			return errors.New("remote timeout")
		}
		return nil
	}, nil)

	var seen []SyncState
	unsub := s.OnStateChange(func(st SyncState) { seen = append(seen, st) })
	defer unsub()

	assert.Equal(t, StateIdle, s.State())
	assert.Error(t, s.Trigger(context.Background(), TriggerMutation))
	assert.Equal(t, StateDegraded, s.State())
	assert.Error(t, s.LastError())

	fail = false
	assert.NoError(t, s.Trigger(context.Background(), TriggerInterval))
	assert.Equal(t, StateSynced, s.State())
	assert.False(t, s.LastSync().IsZero())

	s.Reset()
	assert.Equal(t, []SyncState{StateReconciling, StateDegraded, StateReconciling, StateSynced, StateIdle}, seen)
}

func TestSchedulerIntervalJobRunsUntilStopped(t *testing.T) {
	var runs atomic.Int32
	s := NewSyncScheduler(20*time.Millisecond, func(_ context.Context, tr Trigger) error {
		if tr == TriggerInterval {
			runs.Add(1)
		}
		return nil
	}, nil)
	require.NoError(t, s.Start(context.Background()))

	require.Eventually(t, func() bool { return runs.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop())

	after := runs.Load()
	time.Sleep(80 * time.Millisecond)
	assert.LessOrEqual(t, runs.Load(), after+1, "no further runs once stopped")
	assert.NoError(t, s.Stop(), "stopping twice is harmless")
}
