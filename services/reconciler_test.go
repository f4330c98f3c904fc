package services

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"game-profile-engine/storage"
)

func rawProfile(t *testing.T, id string, xp int64, at time.Time) []byte {
	t.Helper()
	raw, err := json.Marshal(seedProfile(id, xp, at))
	require.NoError(t, err)
	return raw
}

func permutations(c []Candidate) [][]Candidate {
	if len(c) <= 1 {
		return [][]Candidate{c}
	}
	var out [][]Candidate
	for i := range c {
		rest := append(append([]Candidate{}, c[:i]...), c[i+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]Candidate{c[i]}, p...))
		}
	}
	return out
}

func TestSelectCandidatePicksNewestRegardlessOfOrder(t *testing.T) {
	cands := []Candidate{
		{Tier: storage.TierRemote, Raw: rawProfile(t, "u", 100, t0)},
		{Tier: storage.TierLocal, Raw: rawProfile(t, "u", 300, t0.Add(2*time.Minute))},
		{Tier: storage.TierSession, Raw: rawProfile(t, "u", 200, t0.Add(time.Minute))},
	}
	for _, perm := range permutations(cands) {
		got, err := SelectCandidate(perm)
		require.NoError(t, err)
		assert.Equal(t, storage.TierLocal, got.Tier)
	}
}

func TestSelectCandidateTieBreaksByTier(t *testing.T) {
	same := t0.Add(time.Minute)
	cands := []Candidate{
		{Tier: storage.TierSession, Raw: rawProfile(t, "u", 1, same)},
		{Tier: storage.TierLocal, Raw: rawProfile(t, "u", 2, same)},
		{Tier: storage.TierRemote, Raw: rawProfile(t, "u", 3, same)},
	}
	for _, perm := range permutations(cands) {
		got, err := SelectCandidate(perm)
		require.NoError(t, err)
		assert.Equal(t, storage.TierRemote, got.Tier)
	}

	got, err := SelectCandidate(cands[:2])
	require.NoError(t, err)
	assert.Equal(t, storage.TierLocal, got.Tier)
}

func TestSelectCandidateDiscardsInvalidAndEmergency(t *testing.T) {
	placeholder := NewEmergencyProfile("u", IdentityHints{}, ReasonAllTiersEmpty, t0.Add(time.Hour))
	phRaw, err := json.Marshal(placeholder)
	require.NoError(t, err)

	got, err := SelectCandidate([]Candidate{
		{Tier: storage.TierLocal, Raw: phRaw},
		{Tier: storage.TierSession, Raw: []byte(`{"id":"u","username":"x","stats":{},"achievements":[],"lastUpdated":"2030-01-01T00:00:00Z"}`)},
		{Tier: storage.TierRemote, Raw: rawProfile(t, "u", 900, t0)},
	})
	require.NoError(t, err)
	assert.Equal(t, storage.TierRemote, got.Tier, "the only real, valid candidate wins")

	_, err = SelectCandidate([]Candidate{{Tier: storage.TierLocal, Raw: []byte(`{broken`)}})
	assert.ErrorIs(t, err, ErrNoValidCandidate)
	_, err = SelectCandidate(nil)
	assert.ErrorIs(t, err, ErrNoValidCandidate)
}

func TestReconcileWritesWinnerBackToStaleTiers(t *testing.T) {
	kv := storage.NewMemoryKV()
	local := storage.NewLocalTier(kv, nil)
	session := storage.NewSessionTier(storage.NewMemoryKV())
	remote := newFakeRemote()

	require.NoError(t, local.Write("u", seedProfile("u", 300, t0)))
	require.NoError(t, session.Write("u", seedProfile("u", 900, t0.Add(time.Minute))))
	remote.put(t, seedProfile("u", 600, t0.Add(30*time.Second)))

	r := NewReconciler(local, session, remote, DefaultAchievementEngine(), nil, func() time.Time { return t0.Add(time.Hour) })
	res := r.Reconcile(context.Background(), "u")
	require.NoError(t, res.Err)
	assert.Equal(t, storage.TierSession, res.Source)
	assert.Equal(t, int64(900), res.Profile.XP)
	assert.True(t, res.LocalWritten)
	assert.True(t, res.RemoteStale)
	assert.True(t, res.RemoteReachable)

	raw, ok, err := local.Read("u")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, sameDocument(raw, mustJSON(t, res.Profile)))

	// A second pass finds every local tier current.
	res = r.Reconcile(context.Background(), "u")
	assert.False(t, res.LocalWritten)
}

func TestReconcileSurvivesCorruptionAndRemoteOutage(t *testing.T) {
	kv := storage.NewMemoryKV()
	require.NoError(t, kv.Set("profile:primary:u", []byte(`{"id":"u"`)))
	local := storage.NewLocalTier(kv, nil)
	remote := newFakeRemote()
	remote.failLoads = true

	r := NewReconciler(local, nil, remote, nil, nil, nil)
	res := r.Reconcile(context.Background(), "u")
	assert.ErrorIs(t, res.Err, ErrNoValidCandidate)
	assert.False(t, res.RemoteReachable)
	assert.NotEmpty(t, res.Recovered)
}

func TestSameDocumentIgnoresKeyOrder(t *testing.T) {
	assert.True(t, sameDocument([]byte(`{"a":1,"b":[1,2]}`), []byte(`{ "b":[1,2], "a":1 }`)))
	assert.False(t, sameDocument([]byte(`{"a":1}`), []byte(`{"a":2}`)))
	assert.False(t, sameDocument(nil, []byte(`{}`)))
}

func mustJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}
