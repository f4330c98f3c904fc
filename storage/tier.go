package storage

import "game-profile-engine/models"

// TierName identifies where a candidate profile came from.
type TierName string

const (
	TierRemote  TierName = "remote"
	TierLocal   TierName = "local"
	TierSession TierName = "session"
)

// Priority orders tiers for timestamp ties: remote is the system of record.
func (n TierName) Priority() int {
	switch n {
	case TierRemote:
		return 3
	case TierLocal:
		return 2
	case TierSession:
		return 1
	}
	return 0
}

// Tier is a synchronous profile store keyed by identity. Read returns the raw
// document so that schema checks and repair run on exactly what was stored.
type Tier interface {
	Name() TierName
	Read(id string) ([]byte, bool, error)
	Write(id string, p models.Profile) error
	Purge(id string) error
}
