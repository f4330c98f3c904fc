package storage

import (
	"context"
	"errors"

	"game-profile-engine/models"
)

// ErrRemoteConflict means the remote already holds a strictly newer document.
var ErrRemoteConflict = errors.New("remote holds a newer profile")

// RemoteTransport is the durable system of record. Both calls may fail or time
// out; SaveProfile must be idempotent so retries are safe.
type RemoteTransport interface {
	LoadProfile(ctx context.Context, id string) ([]byte, bool, error)
	SaveProfile(ctx context.Context, id string, p models.Profile) error
}

// DailyLedger is the authoritative record of daily-mode completions.
type DailyLedger interface {
	HasCompletedDaily(ctx context.Context, id, day string) (bool, error)
	MarkDailyCompleted(ctx context.Context, id, day string) error
}

// Purger deletes everything the remote holds for an identity.
type Purger interface {
	DeleteProfile(ctx context.Context, id string) error
}
