package storage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"game-profile-engine/models"
	"game-profile-engine/schema"
	"game-profile-engine/utils"
)

const (
	snapshotSlotLayout  = "2006010215"
	defaultMaxSnapshots = 24
)

// SnapshotSink receives every newly written hourly snapshot (e.g. for off-device archiving).
type SnapshotSink interface {
	EnqueueSnapshot(id, slot string, body []byte)
}

// LocalTier is the persistent per-device store: a primary slot, one rolling
// backup and at most one snapshot per hour.
type LocalTier struct {
	kv           KV
	log          *utils.Logger
	now          func() time.Time
	sink         SnapshotSink
	maxSnapshots int
}

type LocalOption func(*LocalTier)

func WithLocalClock(now func() time.Time) LocalOption {
	return func(t *LocalTier) { t.now = now }
}

func WithSnapshotSink(sink SnapshotSink) LocalOption {
	return func(t *LocalTier) { t.sink = sink }
}

func WithMaxSnapshots(n int) LocalOption {
	return func(t *LocalTier) {
		if n > 0 {
			t.maxSnapshots = n
		}
	}
}

func NewLocalTier(kv KV, log *utils.Logger, opts ...LocalOption) *LocalTier {
	if log == nil {
		log = utils.NopLogger()
	}
	t := &LocalTier{
		kv:           kv,
		log:          log.With("tier", TierLocal),
		now:          time.Now,
		maxSnapshots: defaultMaxSnapshots,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *LocalTier) Name() TierName { return TierLocal }

// The slot name precedes the id so no id can reach into another slot.
func primaryKey(id string) string     { return "profile:primary:" + id }
func backupKey(id string) string      { return "profile:backup:" + id }
func snapshotPrefix(id string) string { return "profile:snapshot:" + id + ":" }

// snapshotKeys lists id's snapshot keys oldest first, skipping keys of other
// ids that share the prefix (e.g. "a" and "a:b").
func (t *LocalTier) snapshotKeys(id string) ([]string, error) {
	prefix := snapshotPrefix(id)
	keys, err := t.kv.Keys(prefix)
	if err != nil {
		return nil, err
	}
	out := keys[:0]
	for _, k := range keys {
		if isSlot(k[len(prefix):]) {
			out = append(out, k)
		}
	}
	return out, nil
}

func isSlot(s string) bool {
	if len(s) != len(snapshotSlotLayout) {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// Write rotates the current primary into the backup slot, stores p, and takes
// the hourly snapshot if this hour has none yet.
func (t *LocalTier) Write(id string, p models.Profile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}

	prev, ok, err := t.kv.Get(primaryKey(id))
	if err != nil {
		t.log.Warn("[LOCAL_TIER] could not read primary before write", "user_id", id, "error", err)
	} else if ok && schema.CheckIntegrity(prev) && !bytes.Equal(prev, body) {
		if err := t.kv.Set(backupKey(id), prev); err != nil {
			t.log.Warn("[LOCAL_TIER] backup rotation failed", "user_id", id, "error", err)
		}
	}

	if err := t.kv.Set(primaryKey(id), body); err != nil {
		return err
	}
	t.snapshot(id, body)
	return nil
}

// Read returns the first entry that passes the integrity check, trying primary,
// then backup, then snapshots newest first. A fallback hit is promoted to primary.
func (t *LocalTier) Read(id string) ([]byte, bool, error) {
	keys := []string{primaryKey(id), backupKey(id)}
	snaps, err := t.snapshotKeys(id)
	if err != nil {
		t.log.Warn("[LOCAL_TIER] listing snapshots failed", "user_id", id, "error", err)
	}
	for i := len(snaps) - 1; i >= 0; i-- {
		keys = append(keys, snaps[i])
	}

	var lastErr error
	for _, key := range keys {
		val, ok, err := t.kv.Get(key)
		if err != nil {
			lastErr = err
			continue
		}
		if !ok {
			continue
		}
		if !schema.CheckIntegrity(val) {
			t.log.Warn("[LOCAL_TIER] ignoring corrupted entry", "user_id", id, "key", key)
			continue
		}
		if key != primaryKey(id) {
			t.log.Info("[LOCAL_TIER] promoting fallback entry to primary", "user_id", id, "key", key)
			if err := t.kv.Set(primaryKey(id), val); err != nil {
				t.log.Warn("[LOCAL_TIER] promotion failed", "user_id", id, "error", err)
			}
		}
		return val, true, nil
	}
	if lastErr != nil {
		return nil, false, lastErr
	}
	return nil, false, nil
}

// Purge removes primary, backup and every snapshot for id.
func (t *LocalTier) Purge(id string) error {
	keys, err := t.snapshotKeys(id)
	if err != nil {
		return err
	}
	keys = append(keys, primaryKey(id), backupKey(id))
	for _, key := range keys {
		if err := t.kv.Delete(key); err != nil {
			return err
		}
	}
	return nil
}

// Snapshots lists the snapshot slots (YYYYMMDDHH) held for id, oldest first.
func (t *LocalTier) Snapshots(id string) ([]string, error) {
	keys, err := t.snapshotKeys(id)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k[len(snapshotPrefix(id)):])
	}
	return out, nil
}

func (t *LocalTier) snapshot(id string, body []byte) {
	slot := t.now().UTC().Format(snapshotSlotLayout)
	key := snapshotPrefix(id) + slot
	if _, exists, err := t.kv.Get(key); err != nil || exists {
		return
	}
	if err := t.kv.Set(key, body); err != nil {
		t.log.Warn("[LOCAL_TIER] hourly snapshot failed", "user_id", id, "error", err)
		return
	}
	if t.sink != nil {
		t.sink.EnqueueSnapshot(id, slot, body)
	}

	keys, err := t.snapshotKeys(id)
	if err != nil {
		return
	}
	for len(keys) > t.maxSnapshots {
		if err := t.kv.Delete(keys[0]); err != nil {
			t.log.Warn("[LOCAL_TIER] snapshot pruning failed", "user_id", id, "error", err)
			return
		}
		keys = keys[1:]
	}
}
