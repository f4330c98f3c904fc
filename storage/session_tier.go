package storage

import (
	"encoding/json"
	"fmt"

	"game-profile-engine/models"
	"game-profile-engine/schema"
)

// SessionTier is the ephemeral per-session slot. The backing KV decides expiry.
type SessionTier struct {
	kv KV
}

func NewSessionTier(kv KV) *SessionTier {
	return &SessionTier{kv: kv}
}

func (t *SessionTier) Name() TierName { return TierSession }

func sessionKey(id string) string { return "session:profile:" + id }

func (t *SessionTier) Read(id string) ([]byte, bool, error) {
	val, ok, err := t.kv.Get(sessionKey(id))
	if err != nil || !ok {
		return nil, false, err
	}
	if !schema.CheckIntegrity(val) {
		_ = t.kv.Delete(sessionKey(id))
		return nil, false, nil
	}
	return val, true, nil
}

func (t *SessionTier) Write(id string, p models.Profile) error {
	body, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	return t.kv.Set(sessionKey(id), body)
}

func (t *SessionTier) Purge(id string) error {
	return t.kv.Delete(sessionKey(id))
}
