package workers

import (
	"context"
	"sync"
	"time"

	"game-profile-engine/utils"
)

// Reaper closes sessions idle for longer than the given duration.
type Reaper interface {
	Reap(idle time.Duration) int
}

// SessionReaper periodically closes idle profile engines so a long-running
// server does not keep one per user forever.
type SessionReaper struct {
	reaper   Reaper
	interval time.Duration
	idle     time.Duration
	log      *utils.Logger
	wg       sync.WaitGroup
}

func NewSessionReaper(reaper Reaper, idle time.Duration, log *utils.Logger) *SessionReaper {
	if log == nil {
		log = utils.NopLogger()
	}
	interval := idle / 3
	if interval < time.Second {
		interval = time.Second
	}
	return &SessionReaper{
		reaper:   reaper,
		interval: interval,
		idle:     idle,
		log:      log.With("worker", "SessionReaper"),
	}
}

func (w *SessionReaper) Start(ctx context.Context) {
	w.log.Info("[REAPER] starting session reaper", "idle_timeout", w.idle, "interval", w.interval)
	w.wg.Add(1)
	go w.run(ctx)
}

func (w *SessionReaper) Wait() { w.wg.Wait() }

func (w *SessionReaper) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if n := w.reaper.Reap(w.idle); n > 0 {
				w.log.Debug("[REAPER] closed idle sessions", "count", n)
			}
		case <-ctx.Done():
			w.log.Info("[REAPER] session reaper stopped")
			return
		}
	}
}
