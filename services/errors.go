package services

import (
	"errors"
	"fmt"

	"game-profile-engine/models"
	"game-profile-engine/storage"
)

var (
	// ErrNotAuthenticated: no identity; every mutating operation is a no-op.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrTierUnavailable: a tier read/write failed; treated as absence.
	ErrTierUnavailable = storage.ErrTierUnavailable
	// ErrSchemaViolation: a candidate failed the integrity check and was discarded.
	ErrSchemaViolation = errors.New("profile failed integrity check")
	// ErrRemoteConflict: another writer stored a newer version; resolved by reconciling.
	ErrRemoteConflict = storage.ErrRemoteConflict
	// ErrStatsInconsistency: an arithmetic invariant was violated and silently repaired.
	ErrStatsInconsistency = errors.New("profile stats violate invariants")

	ErrNoValidCandidate      = errors.New("no valid profile candidate in any tier")
	ErrDailyAlreadyCompleted = errors.New("daily game already completed today")
	ErrInvalidGameResult     = errors.New("invalid game result")
	ErrInvalidAvatar         = errors.New("invalid avatar")
	ErrInvalidImport         = errors.New("invalid profile import")
	ErrInvalidProfileUpdate  = errors.New("invalid profile update")
	// ErrAccountDeleted: the signed-in identity deleted its account in this session.
	ErrAccountDeleted = errors.New("account deleted")
)

// RecoverableError records a failure the engine recovered from internally.
type RecoverableError struct {
	Kind error
	Tier storage.TierName
	Err  error
}

func (e *RecoverableError) Error() string {
	switch {
	case e.Tier != "" && e.Err != nil:
		return fmt.Sprintf("%v (%s tier): %v", e.Kind, e.Tier, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%v: %v", e.Kind, e.Err)
	default:
		return e.Kind.Error()
	}
}

func (e *RecoverableError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func recoverable(kind error, tier storage.TierName, err error) *RecoverableError {
	return &RecoverableError{Kind: kind, Tier: tier, Err: err}
}

// Result is the internal outcome of a reconciliation pass.
type Result struct {
	Profile models.Profile
	Source  storage.TierName
	Err     error

	// Recovered lists every failure absorbed along the way.
	Recovered []error
	// RemoteReachable is false when the remote load failed.
	RemoteReachable bool
	// RemoteStale is true when the remote does not hold Profile yet.
	RemoteStale bool
	// LocalWritten is true when the local tier was rewritten.
	LocalWritten bool
}

func (r Result) OK() bool { return r.Err == nil }
