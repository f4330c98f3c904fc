package workers

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"

	"game-profile-engine/utils"
)

// Archiver stores one object, e.g. utils.R2Archiver.
type Archiver interface {
	Archive(ctx context.Context, key string, body []byte) error
}

type snapshotJob struct {
	id   string
	slot string
	body []byte
}

// SnapshotArchiver copies hourly local snapshots off the device. It is the
// storage.SnapshotSink of the local tier; uploads run on one goroutine.
type SnapshotArchiver struct {
	archiver Archiver
	log      *utils.Logger
	queue    chan snapshotJob
	attempts uint
	initial  time.Duration
	wg       sync.WaitGroup

	mu       sync.Mutex
	uploaded int
	dropped  int
}

func NewSnapshotArchiver(archiver Archiver, queueSize int, log *utils.Logger) *SnapshotArchiver {
	if log == nil {
		log = utils.NopLogger()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &SnapshotArchiver{
		archiver: archiver,
		log:      log.With("worker", "SnapshotArchiver"),
		queue:    make(chan snapshotJob, queueSize),
		attempts: 3,
		initial:  time.Second,
	}
}

// SnapshotKey is the object key of one snapshot slot.
func SnapshotKey(id, slot string) string {
	return fmt.Sprintf("profiles/%s/snapshots/%s.json", id, slot)
}

// EnqueueSnapshot never blocks; when the queue is full the snapshot is
// dropped, since the next hour brings a fresh one.
func (a *SnapshotArchiver) EnqueueSnapshot(id, slot string, body []byte) {
	job := snapshotJob{id: id, slot: slot, body: append([]byte(nil), body...)}
	select {
	case a.queue <- job:
	default:
		a.mu.Lock()
		a.dropped++
		a.mu.Unlock()
		a.log.Warn("[ARCHIVE] queue full, dropping snapshot", "user_id", id, "slot", slot)
	}
}

func (a *SnapshotArchiver) Start(ctx context.Context) {
	a.log.Info("[ARCHIVE] starting snapshot archiver")
	a.wg.Add(1)
	go a.run(ctx)
}

// Wait blocks until the worker has stopped.
func (a *SnapshotArchiver) Wait() { a.wg.Wait() }

func (a *SnapshotArchiver) run(ctx context.Context) {
	defer a.wg.Done()
	for {
		select {
		case job := <-a.queue:
			a.upload(ctx, job)
		case <-ctx.Done():
			a.drain()
			a.log.Info("[ARCHIVE] snapshot archiver stopped")
			return
		}
	}
}

// drain gives queued snapshots one last short-lived attempt on shutdown.
func (a *SnapshotArchiver) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for {
		select {
		case job := <-a.queue:
			a.upload(ctx, job)
		default:
			return
		}
	}
}

func (a *SnapshotArchiver) upload(ctx context.Context, job snapshotJob) {
	key := SnapshotKey(job.id, job.slot)
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = a.initial

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, a.archiver.Archive(ctx, key, job.body)
	}, backoff.WithBackOff(b), backoff.WithMaxTries(a.attempts))
	if err != nil {
		a.log.Error("[ARCHIVE] snapshot upload failed", "user_id", job.id, "key", key, "error", err)
		return
	}
	a.mu.Lock()
	a.uploaded++
	a.mu.Unlock()
	a.log.Debug("[ARCHIVE] snapshot uploaded", "user_id", job.id, "key", key)
}

// Stats reports uploaded and dropped snapshot counts.
func (a *SnapshotArchiver) Stats() (uploaded, dropped int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.uploaded, a.dropped
}
