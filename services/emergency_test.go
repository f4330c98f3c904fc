package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"game-profile-engine/schema"
)

func TestEmergencyUsernameDerivation(t *testing.T) {
	cases := []struct {
		name  string
		hints IdentityHints
		user  string
		disp  string
	}{
		{"hint username", IdentityHints{Username: "Ann.Lee"}, "ann_lee", "Ann Lee"},
		{"display name", IdentityHints{DisplayName: "Zoë Quinn"}, "zoe_quinn", "Zoë Quinn"},
		{"email", IdentityHints{Email: "mark.r@example.com"}, "mark_r", "Mark R"},
		{"too short hints fall through", IdentityHints{Username: "x", Email: "@nowhere"}, "player_456789", "Player 456789"},
		{"nothing", IdentityHints{}, "player_456789", "Player 456789"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := NewEmergencyProfile("user-123456789", tc.hints, ReasonAllTiersEmpty, t0)
			assert.Equal(t, tc.user, p.Username)
			assert.Equal(t, tc.disp, p.DisplayName)
			assert.Equal(t, "user-123456789", p.ID)
			assert.True(t, schema.CheckProfile(&p))
			assert.Equal(t, 1, p.Level)
			assert.Zero(t, p.XP)
			assert.NotNil(t, p.Emergency)
			assert.Equal(t, t0, p.LastUpdated)
		})
	}
}

func TestSanitizeUsernameLimits(t *testing.T) {
	assert.Equal(t, "", sanitizeUsername("ab"))
	assert.Equal(t, "a_b_c", sanitizeUsername("a--b  c__"))
	assert.Len(t, sanitizeUsername("abcdefghijklmnopqrstuvwxyz0123456789"), maxUsernameLen)
}
