package storage

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-profile-engine/models"
	"game-profile-engine/schema"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) Now() time.Time          { return c.t }
func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

type recordingSink struct{ slots []string }

func (s *recordingSink) EnqueueSnapshot(id, slot string, _ []byte) {
	s.slots = append(s.slots, id+"@"+slot)
}

func profileWithXP(id string, xp int64, at time.Time) models.Profile {
	p := schema.RepairProfile(nil, id, at)
	p.XP = xp
	p.Level = schema.LevelForXP(xp)
	p.LastUpdated = at
	return p
}

func decodeXP(t *testing.T, raw []byte) int64 {
	t.Helper()
	var p models.Profile
	require.NoError(t, json.Unmarshal(raw, &p))
	return p.XP
}

func TestLocalTierRotatesBackupAndSnapshotsHourly(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC)}
	kv := NewMemoryKV()
	sink := &recordingSink{}
	tier := NewLocalTier(kv, nil, WithLocalClock(clock.Now), WithSnapshotSink(sink))

	require.NoError(t, tier.Write("u1", profileWithXP("u1", 100, clock.Now())))
	clock.Advance(10 * time.Minute)
	require.NoError(t, tier.Write("u1", profileWithXP("u1", 200, clock.Now())))

	backup, ok, err := kv.Get(backupKey("u1"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), decodeXP(t, backup))

	slots, err := tier.Snapshots("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026050110"}, slots, "one snapshot per hour")

	clock.Advance(time.Hour)
	require.NoError(t, tier.Write("u1", profileWithXP("u1", 300, clock.Now())))
	slots, err = tier.Snapshots("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026050110", "2026050111"}, slots)
	assert.Equal(t, []string{"u1@2026050110", "u1@2026050111"}, sink.slots)
}

func TestLocalTierPrunesOldSnapshots(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)}
	tier := NewLocalTier(NewMemoryKV(), nil, WithLocalClock(clock.Now), WithMaxSnapshots(3))
	for i := 0; i < 5; i++ {
		require.NoError(t, tier.Write("u1", profileWithXP("u1", int64(i), clock.Now())))
		clock.Advance(time.Hour)
	}
	slots, err := tier.Snapshots("u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"2026050102", "2026050103", "2026050104"}, slots)
}

func TestLocalTierReadFallsBackAndPromotes(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	kv := NewMemoryKV()
	tier := NewLocalTier(kv, nil, WithLocalClock(clock.Now))

	require.NoError(t, tier.Write("u1", profileWithXP("u1", 100, clock.Now())))
	clock.Advance(time.Minute)
	require.NoError(t, tier.Write("u1", profileWithXP("u1", 200, clock.Now())))

	// Corrupt primary: backup (xp 100) must be served and promoted.
	require.NoError(t, kv.Set(primaryKey("u1"), []byte("{not json")))
	raw, ok, err := tier.Read("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), decodeXP(t, raw))

	promoted, _, _ := kv.Get(primaryKey("u1"))
	assert.Equal(t, raw, promoted)

	// Corrupt primary and backup: the snapshot is the last resort.
	require.NoError(t, kv.Set(primaryKey("u1"), []byte(`{"id":"u1"}`)))
	require.NoError(t, kv.Delete(backupKey("u1")))
	raw, ok, err = tier.Read("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(100), decodeXP(t, raw), "snapshot holds the first write of the hour")
}

func TestLocalTierKeepsLookalikeIDsApart(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	tier := NewLocalTier(NewMemoryKV(), nil, WithLocalClock(clock.Now))

	ids := []string{"a", "a_backup", "a_snapshot_2026050110", "a:b", "backup:a"}
	for i, id := range ids {
		require.NoError(t, tier.Write(id, profileWithXP(id, int64(100*(i+1)), clock.Now())))
	}
	for i, id := range ids {
		raw, ok, err := tier.Read(id)
		require.NoError(t, err)
		require.True(t, ok, id)
		assert.Equal(t, int64(100*(i+1)), decodeXP(t, raw), id)

		slots, err := tier.Snapshots(id)
		require.NoError(t, err)
		assert.Equal(t, []string{"2026050110"}, slots, id)
	}

	require.NoError(t, tier.Purge("a"))
	_, ok, err := tier.Read("a")
	require.NoError(t, err)
	assert.False(t, ok)
	for _, id := range ids[1:] {
		_, ok, err := tier.Read(id)
		require.NoError(t, err)
		assert.True(t, ok, "purging a must leave %s alone", id)
	}
}

func TestLocalTierReadMissingAndPurge(t *testing.T) {
	tier := NewLocalTier(NewMemoryKV(), nil)
	_, ok, err := tier.Read("ghost")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tier.Write("u1", profileWithXP("u1", 1, time.Now().UTC())))
	require.NoError(t, tier.Write("u1", profileWithXP("u1", 2, time.Now().UTC())))
	require.NoError(t, tier.Purge("u1"))
	_, ok, err = tier.Read("u1")
	require.NoError(t, err)
	assert.False(t, ok)
	slots, _ := tier.Snapshots("u1")
	assert.Empty(t, slots)
}

func TestSessionTierExpiresAndDropsCorruption(t *testing.T) {
	clock := &fakeClock{t: time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)}
	kv := NewMemoryKVWithTTL(time.Minute, clock.Now)
	tier := NewSessionTier(kv)

	require.NoError(t, tier.Write("u1", profileWithXP("u1", 50, clock.Now())))
	raw, ok, err := tier.Read("u1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(50), decodeXP(t, raw))

	clock.Advance(2 * time.Minute)
	_, ok, err = tier.Read("u1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, kv.Set(sessionKey("u1"), []byte("garbage")))
	_, ok, err = tier.Read("u1")
	require.NoError(t, err)
	assert.False(t, ok)
	_, present, _ := kv.Get(sessionKey("u1"))
	assert.False(t, present, "corrupted session entries are cleared")
}

func TestMemoryNotifierFanOutAndUnsubscribe(t *testing.T) {
	n := NewMemoryNotifier()
	var a, b []string
	unsubA := n.Subscribe(func(c ChangeNotice) { a = append(a, c.Origin) })
	n.Subscribe(func(c ChangeNotice) { b = append(b, c.Origin) })

	require.NoError(t, n.Publish(context.Background(), ChangeNotice{ID: "u1", Origin: "tab-1"}))
	unsubA()
	unsubA()
	require.NoError(t, n.Publish(context.Background(), ChangeNotice{ID: "u1", Origin: "tab-2"}))

	assert.Equal(t, []string{"tab-1"}, a)
	assert.Equal(t, []string{"tab-1", "tab-2"}, b)
}
