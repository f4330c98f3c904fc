package services

import (
	"bytes"
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"time"

	"game-profile-engine/models"
	"game-profile-engine/schema"
	"game-profile-engine/storage"
	"game-profile-engine/utils"
)

// Candidate is one tier's raw document for an identity.
type Candidate struct {
	Tier storage.TierName
	Raw  []byte

	lastUpdated time.Time
	emergency   bool
}

// SelectCandidate picks the newest valid candidate. Synthesized (emergency)
// documents lose to any real one; equal timestamps go to the higher-priority
// tier. The result does not depend on input order.
func SelectCandidate(cands []Candidate) (Candidate, error) {
	valid := make([]Candidate, 0, len(cands))
	for _, c := range cands {
		if !schema.CheckIntegrity(c.Raw) {
			continue
		}
		c.lastUpdated = schema.LastUpdatedOf(c.Raw)
		c.emergency = schema.IsEmergency(c.Raw)
		valid = append(valid, c)
	}
	if len(valid) == 0 {
		return Candidate{}, ErrNoValidCandidate
	}
	sort.SliceStable(valid, func(i, j int) bool {
		a, b := valid[i], valid[j]
		if a.emergency != b.emergency {
			return !a.emergency
		}
		if !a.lastUpdated.Equal(b.lastUpdated) {
			return a.lastUpdated.After(b.lastUpdated)
		}
		if a.Tier.Priority() != b.Tier.Priority() {
			return a.Tier.Priority() > b.Tier.Priority()
		}
		return bytes.Compare(a.Raw, b.Raw) < 0
	})
	return valid[0], nil
}

// Reconciler gathers all tiers, selects a winner, repairs it and writes it back
// to the local tiers. Pushing to the remote is left to the caller.
type Reconciler struct {
	local        storage.Tier
	session      storage.Tier
	remote       storage.RemoteTransport
	achievements *AchievementEngine
	log          *utils.Logger
	now          func() time.Time
}

func NewReconciler(local, session storage.Tier, remote storage.RemoteTransport, ach *AchievementEngine, log *utils.Logger, now func() time.Time) *Reconciler {
	if log == nil {
		log = utils.NopLogger()
	}
	if now == nil {
		now = time.Now
	}
	return &Reconciler{local: local, session: session, remote: remote, achievements: ach, log: log, now: now}
}

func (r *Reconciler) Reconcile(ctx context.Context, id string) Result {
	res := Result{RemoteReachable: true}
	var cands []Candidate
	held := map[storage.TierName][]byte{}

	for _, tier := range []storage.Tier{r.local, r.session} {
		if tier == nil {
			continue
		}
		raw, ok, err := tier.Read(id)
		if err != nil {
			r.log.Warn("[RECONCILE] tier read failed", "tier", tier.Name(), "user_id", id, "error", err)
			res.Recovered = append(res.Recovered, recoverable(ErrTierUnavailable, tier.Name(), err))
			continue
		}
		if ok {
			cands = append(cands, Candidate{Tier: tier.Name(), Raw: raw})
			held[tier.Name()] = raw
		}
	}

	if r.remote == nil {
		res.RemoteReachable = false
	} else {
		raw, ok, err := r.remote.LoadProfile(ctx, id)
		switch {
		case err != nil:
			r.log.Warn("[RECONCILE] remote load failed", "user_id", id, "error", err)
			res.RemoteReachable = false
			res.Recovered = append(res.Recovered, recoverable(ErrTierUnavailable, storage.TierRemote, err))
		case ok:
			cands = append(cands, Candidate{Tier: storage.TierRemote, Raw: raw})
			held[storage.TierRemote] = raw
		}
	}

	for _, c := range cands {
		if !schema.CheckIntegrity(c.Raw) {
			r.log.Warn("[RECONCILE] discarding invalid candidate", "tier", c.Tier, "user_id", id)
			res.Recovered = append(res.Recovered, recoverable(ErrSchemaViolation, c.Tier, nil))
		}
	}

	winner, err := SelectCandidate(cands)
	if err != nil {
		res.Err = recoverable(ErrNoValidCandidate, "", nil)
		return res
	}

	p := schema.RepairProfile(winner.Raw, id, r.now())
	if r.achievements != nil {
		p, _ = r.achievements.Apply(p)
	}
	res.Profile = p
	res.Source = winner.Tier

	encoded, err := json.Marshal(p)
	if err != nil {
		res.Err = err
		return res
	}

	for _, tier := range []storage.Tier{r.local, r.session} {
		if tier == nil || sameDocument(held[tier.Name()], encoded) {
			continue
		}
		if err := tier.Write(id, p); err != nil {
			r.log.Warn("[RECONCILE] tier write failed", "tier", tier.Name(), "user_id", id, "error", err)
			res.Recovered = append(res.Recovered, recoverable(ErrTierUnavailable, tier.Name(), err))
			continue
		}
		if tier.Name() == storage.TierLocal {
			res.LocalWritten = true
		}
	}
	res.RemoteStale = !sameDocument(held[storage.TierRemote], encoded)

	r.log.Debug("[RECONCILE] done", "user_id", id, "source", winner.Tier, "candidates", len(cands), "remote_stale", res.RemoteStale)
	return res
}

// WriteLocal writes p to the local and session tiers.
func (r *Reconciler) WriteLocal(id string, p models.Profile) []error {
	var errs []error
	for _, tier := range []storage.Tier{r.local, r.session} {
		if tier == nil {
			continue
		}
		if err := tier.Write(id, p); err != nil {
			r.log.Warn("[RECONCILE] tier write failed", "tier", tier.Name(), "user_id", id, "error", err)
			errs = append(errs, recoverable(ErrTierUnavailable, tier.Name(), err))
		}
	}
	return errs
}

// sameDocument compares two JSON documents structurally; key order and
// whitespace (e.g. after a jsonb round trip) do not matter.
func sameDocument(a, b []byte) bool {
	if a == nil || b == nil {
		return false
	}
	if bytes.Equal(a, b) {
		return true
	}
	var x, y interface{}
	if json.Unmarshal(a, &x) != nil || json.Unmarshal(b, &y) != nil {
		return false
	}
	return reflect.DeepEqual(x, y)
}
