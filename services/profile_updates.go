package services

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/text/language"

	"game-profile-engine/models"
	"game-profile-engine/schema"
	"game-profile-engine/storage"
)

const (
	MaxAvatarBytes     = 512 * 1024
	maxDisplayNameLen  = 48
	maxBioLen          = 280
	SnapshotFormat     = "profile-export"
	SnapshotVersion    = 1
	minUsernameLen     = 3
	maxImportDocLength = 4 << 20
)

// Snapshot is the portable export/import envelope.
type Snapshot struct {
	Format     string         `json:"format"`
	Version    int            `json:"version"`
	ExportedAt time.Time      `json:"exportedAt"`
	Profile    models.Profile `json:"profile"`
}

type NotificationPatch struct {
	DailyReminder  *bool `json:"dailyReminder,omitempty"`
	Achievements   *bool `json:"achievements,omitempty"`
	FriendActivity *bool `json:"friendActivity,omitempty"`
}

// PreferencesPatch updates only the fields that are set.
type PreferencesPatch struct {
	Theme         *string            `json:"theme,omitempty"`
	Language      *string            `json:"language,omitempty"`
	SoundEnabled  *bool              `json:"soundEnabled,omitempty"`
	MusicVolume   *int               `json:"musicVolume,omitempty"`
	Notifications *NotificationPatch `json:"notifications,omitempty"`
}

type ProfileInfoPatch struct {
	Username    *string `json:"username,omitempty"`
	DisplayName *string `json:"displayName,omitempty"`
	Bio         *string `json:"bio,omitempty"`
}

func invalidUpdate(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrInvalidProfileUpdate, fmt.Sprintf(format, args...))
}

// Apply validates the patch and merges it into prefs.
func (pp PreferencesPatch) Apply(prefs *models.Preferences) error {
	if pp.Theme != nil {
		if !schema.ValidTheme(*pp.Theme) {
			return invalidUpdate("unknown theme %q", *pp.Theme)
		}
		prefs.Theme = *pp.Theme
	}
	if pp.Language != nil {
		tag, err := language.Parse(*pp.Language)
		if err != nil {
			return invalidUpdate("invalid language %q", *pp.Language)
		}
		prefs.Language = tag.String()
	}
	if pp.MusicVolume != nil {
		if *pp.MusicVolume < 0 || *pp.MusicVolume > 100 {
			return invalidUpdate("musicVolume must be between 0 and 100")
		}
		prefs.MusicVolume = *pp.MusicVolume
	}
	if pp.SoundEnabled != nil {
		prefs.SoundEnabled = *pp.SoundEnabled
	}
	if n := pp.Notifications; n != nil {
		if n.DailyReminder != nil {
			prefs.Notifications.DailyReminder = *n.DailyReminder
		}
		if n.Achievements != nil {
			prefs.Notifications.Achievements = *n.Achievements
		}
		if n.FriendActivity != nil {
			prefs.Notifications.FriendActivity = *n.FriendActivity
		}
	}
	return nil
}

// ValidateAvatar accepts "" (clear), an http(s) URL or an image data URI.
func ValidateAvatar(v string) error {
	if v == "" {
		return nil
	}
	if len(v) > MaxAvatarBytes {
		return fmt.Errorf("%w: larger than %d bytes", ErrInvalidAvatar, MaxAvatarBytes)
	}
	if strings.HasPrefix(v, "data:image/") {
		if !strings.Contains(v, ",") {
			return fmt.Errorf("%w: malformed data URI", ErrInvalidAvatar)
		}
		return nil
	}
	u, err := url.Parse(v)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: must be an http(s) URL or an image data URI", ErrInvalidAvatar)
	}
	return nil
}

func (e *ProfileEngine) UpdatePreferences(ctx context.Context, patch PreferencesPatch) (models.Profile, error) {
	p, _, err := e.mutate(ctx, "preferences", func(_ context.Context, p *models.Profile) error {
		return patch.Apply(&p.Preferences)
	})
	return p, err
}

func (e *ProfileEngine) UpdateAvatar(ctx context.Context, avatar string) (models.Profile, error) {
	if err := ValidateAvatar(avatar); err != nil {
		return models.Profile{}, err
	}
	p, _, err := e.mutate(ctx, "avatar", func(_ context.Context, p *models.Profile) error {
		p.Avatar = avatar
		return nil
	})
	return p, err
}

func (e *ProfileEngine) UpdateProfileInfo(ctx context.Context, patch ProfileInfoPatch) (models.Profile, error) {
	if patch.Username != nil {
		u := *patch.Username
		if len(u) < minUsernameLen || len(u) > maxUsernameLen || sanitizeUsername(u) != u {
			return models.Profile{}, invalidUpdate("username must be %d-%d characters of a-z, 0-9 or _", minUsernameLen, maxUsernameLen)
		}
	}
	if patch.DisplayName != nil {
		n := utf8.RuneCountInString(strings.TrimSpace(*patch.DisplayName))
		if n == 0 || n > maxDisplayNameLen {
			return models.Profile{}, invalidUpdate("displayName must be 1-%d characters", maxDisplayNameLen)
		}
	}
	if patch.Bio != nil && utf8.RuneCountInString(*patch.Bio) > maxBioLen {
		return models.Profile{}, invalidUpdate("bio must be at most %d characters", maxBioLen)
	}

	p, _, err := e.mutate(ctx, "info", func(_ context.Context, p *models.Profile) error {
		if patch.Username != nil {
			p.Username = *patch.Username
		}
		if patch.DisplayName != nil {
			p.DisplayName = strings.TrimSpace(*patch.DisplayName)
		}
		if patch.Bio != nil {
			p.Bio = *patch.Bio
		}
		return nil
	})
	return p, err
}

// RecordSocialAction bumps a social counter; social achievements may unlock.
func (e *ProfileEngine) RecordSocialAction(ctx context.Context, action models.SocialAction) (models.Profile, Evaluation, error) {
	switch action {
	case models.SocialShare, models.SocialReferral, models.SocialInvite, models.SocialFriend:
	default:
		return models.Profile{}, Evaluation{}, invalidUpdate("unknown social action %q", action)
	}
	return e.mutate(ctx, "social", func(_ context.Context, p *models.Profile) error {
		switch action {
		case models.SocialShare:
			p.SocialStats.Shares++
		case models.SocialReferral:
			p.SocialStats.Referrals++
		case models.SocialInvite:
			p.SocialStats.Invites++
		case models.SocialFriend:
			p.SocialStats.FriendsAdded++
		}
		return nil
	})
}

// ResetProfile wipes progression but keeps who the player is and how they
// like the game set up. This is the only operation that shrinks unlocks.
func (e *ProfileEngine) ResetProfile(ctx context.Context) (models.Profile, error) {
	p, _, err := e.mutate(ctx, "reset", func(_ context.Context, p *models.Profile) error {
		fresh := schema.RepairProfile(nil, p.ID, e.now())
		fresh.Username = p.Username
		fresh.DisplayName = p.DisplayName
		fresh.Bio = p.Bio
		fresh.Avatar = p.Avatar
		fresh.Preferences = p.Preferences
		fresh.CreatedAt = p.CreatedAt
		*p = fresh
		return nil
	})
	return p, err
}

func (e *ProfileEngine) ExportProfile(ctx context.Context) (Snapshot, error) {
	p, ok := e.EnsureProfile(ctx)
	if !ok {
		return Snapshot{}, e.unavailable()
	}
	return Snapshot{
		Format:     SnapshotFormat,
		Version:    SnapshotVersion,
		ExportedAt: e.now().UTC(),
		Profile:    p,
	}, nil
}

// ImportProfile replaces progression with an exported snapshot (or a bare
// profile document). Unlocks already held are kept.
func (e *ProfileEngine) ImportProfile(ctx context.Context, raw []byte) (models.Profile, error) {
	doc, err := unwrapSnapshot(raw)
	if err != nil {
		return models.Profile{}, err
	}
	p, _, err := e.mutate(ctx, "import", func(_ context.Context, p *models.Profile) error {
		imported := schema.RepairProfile(doc, p.ID, e.now())
		imported.Achievements = union(p.Achievements, imported.Achievements)
		imported.Badges = union(p.Badges, imported.Badges)
		if !p.CreatedAt.IsZero() && (imported.CreatedAt.IsZero() || p.CreatedAt.Before(imported.CreatedAt)) {
			imported.CreatedAt = p.CreatedAt
		}
		imported.Emergency = nil
		*p = imported
		return nil
	})
	return p, err
}

func unwrapSnapshot(raw []byte) ([]byte, error) {
	if len(raw) == 0 || len(raw) > maxImportDocLength || !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("%w: not a JSON document", ErrInvalidImport)
	}
	doc := raw
	if gjson.GetBytes(raw, "format").String() == SnapshotFormat {
		if v := gjson.GetBytes(raw, "version").Int(); v < 1 || v > SnapshotVersion {
			return nil, fmt.Errorf("%w: unsupported snapshot version %d", ErrInvalidImport, v)
		}
		doc = []byte(gjson.GetBytes(raw, "profile").Raw)
	}
	if !schema.CheckIntegrity(doc) {
		return nil, fmt.Errorf("%w: %v", ErrInvalidImport, ErrSchemaViolation)
	}
	return doc, nil
}

func union(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	seen := make(map[string]struct{}, len(a)+len(b))
	for _, s := range append(append([]string{}, a...), b...) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// DeleteAccount purges every tier for the signed-in identity. Until another
// identity signs in, the engine no longer reads or writes any tier for it.
func (e *ProfileEngine) DeleteAccount(ctx context.Context) error {
	ident, ok := e.identity.CurrentIdentity()
	if !ok {
		return ErrNotAuthenticated
	}

	e.opMu.Lock()
	defer e.opMu.Unlock()
	// Waits out any remote write in flight; later ones see the deletion mark.
	e.pushMu.Lock()
	defer e.pushMu.Unlock()

	e.stateMu.Lock()
	e.deletedID = ident.ID
	e.current = nil
	e.dirty = false
	e.stateMu.Unlock()

	e.dailyMu.Lock()
	for m := range e.pendingDaily {
		if m.id == ident.ID {
			delete(e.pendingDaily, m)
		}
	}
	e.dailyMu.Unlock()

	var errs []error
	for _, tier := range []storage.Tier{e.local, e.session} {
		if tier == nil {
			continue
		}
		if err := tier.Purge(ident.ID); err != nil {
			errs = append(errs, fmt.Errorf("purge %s tier: %w", tier.Name(), err))
		}
	}
	if purger, ok := e.remote.(storage.Purger); ok {
		if err := purger.DeleteProfile(ctx, ident.ID); err != nil {
			errs = append(errs, fmt.Errorf("purge remote tier: %w", err))
		}
	}

	e.scheduler.Reset()

	if err := errors.Join(errs...); err != nil {
		e.log.Error("[PROFILE] account deletion incomplete", "user_id", ident.ID, "error", err)
		return err
	}
	e.log.Info("[PROFILE] account deleted", "user_id", ident.ID)
	return nil
}
