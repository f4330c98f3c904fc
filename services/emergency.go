package services

import (
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/gosimple/unidecode"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"game-profile-engine/models"
	"game-profile-engine/schema"
)

const maxUsernameLen = 24

// Emergency reasons recorded in the diagnostic tag.
const (
	ReasonAllTiersEmpty  = "all_tiers_empty"
	ReasonAllTiersFailed = "all_tiers_unrecoverable"
)

// NewEmergencyProfile synthesizes a minimal valid profile for an identity that
// has no usable data anywhere. It cannot fail.
func NewEmergencyProfile(id string, hints IdentityHints, reason string, now time.Time) models.Profile {
	now = now.UTC().Truncate(time.Millisecond)
	p := schema.RepairProfile(nil, id, now)
	p.Username = deriveUsername(id, hints)
	p.DisplayName = strings.TrimSpace(hints.DisplayName)
	if p.DisplayName == "" {
		p.DisplayName = cases.Title(language.English).String(strings.ReplaceAll(p.Username, "_", " "))
	}
	p.CreatedAt = now
	p.LastUpdated = now
	p.Emergency = &models.EmergencyTag{Reason: reason, CreatedAt: now}
	return p
}

func deriveUsername(id string, hints IdentityHints) string {
	if u := sanitizeUsername(hints.Username); u != "" {
		return u
	}
	if hints.DisplayName != "" {
		if u := sanitizeUsername(slug.Make(hints.DisplayName)); u != "" {
			return u
		}
	}
	if at := strings.IndexByte(hints.Email, '@'); at > 0 {
		if u := sanitizeUsername(hints.Email[:at]); u != "" {
			return u
		}
	}
	return schema.DefaultUsername(id)
}

// sanitizeUsername folds to ASCII and keeps [a-z0-9_], mapping separators to '_'.
func sanitizeUsername(s string) string {
	s = strings.ToLower(unidecode.Unidecode(strings.TrimSpace(s)))
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			lastUnderscore = false
		case r == '_' || r == '-' || r == '.' || r == ' ':
			if b.Len() > 0 && !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "_")
	if len(out) > maxUsernameLen {
		out = strings.TrimRight(out[:maxUsernameLen], "_")
	}
	if len(out) < 3 {
		return ""
	}
	return out
}
