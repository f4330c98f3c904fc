package models

import "time"

// GameResult is one finished game as reported by the client.
// Optional fields are pointers so "absent" and "zero" stay distinguishable.
type GameResult struct {
	Won            bool      `json:"won"`
	Attempts       int       `json:"attempts"`
	Mode           GameMode  `json:"mode"`
	Song           *Song     `json:"song,omitempty"`
	PlayTime       int64     `json:"playTime"` // seconds
	Streak         *int64    `json:"streak,omitempty"`
	SongsCompleted *int64    `json:"songsCompleted,omitempty"`
	Points         *int64    `json:"points,omitempty"`
	PlayedAt       time.Time `json:"playedAt,omitempty"`
}

type Song struct {
	Title     string `json:"title"`
	Franchise string `json:"franchise,omitempty"`
}

// Franchise returns the song's franchise, or "" when none was reported.
func (r GameResult) Franchise() string {
	if r.Song == nil {
		return ""
	}
	return r.Song.Franchise
}

// SocialAction names the social counters that feed achievements.
type SocialAction string

const (
	SocialShare    SocialAction = "share"
	SocialReferral SocialAction = "referral"
	SocialInvite   SocialAction = "invite"
	SocialFriend   SocialAction = "friend"
)
