package models

import (
	"time"
)

// GameMode identifies which stats bucket a game result belongs to.
type GameMode string

const (
	ModeDaily       GameMode = "daily"
	ModeInfinite    GameMode = "infinite"
	ModeMultiplayer GameMode = "multiplayer"
)

// GameModes lists every mode that owns a modeStats bucket.
var GameModes = []GameMode{ModeDaily, ModeInfinite, ModeMultiplayer}

// Valid reports whether m is one of the known modes.
func (m GameMode) Valid() bool {
	switch m {
	case ModeDaily, ModeInfinite, ModeMultiplayer:
		return true
	}
	return false
}

const (
	// MaxGameHistory bounds gameHistory; the oldest records are dropped first.
	MaxGameHistory = 100
	// XPPerLevelUnit is the divisor in level = floor(sqrt(xp / 300)) + 1.
	XPPerLevelUnit = 300
)

// Profile is the single aggregate persisted per identity, in all three tiers.
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Bio         string `json:"bio"`
	Avatar      string `json:"avatar"` // opaque reference (URL or data URI)
	Title       string `json:"title"`

	// Level is derived from XP and never stored out of sync with it.
	Level int   `json:"level"`
	XP    int64 `json:"xp"`

	Stats          Stats                    `json:"stats"`
	Achievements   []string                 `json:"achievements"`
	Badges         []string                 `json:"badges"`
	GameHistory    []GameRecord             `json:"gameHistory"` // most recent first
	FranchiseStats map[string]FranchiseStat `json:"franchiseStats"`
	Preferences    Preferences              `json:"preferences"`
	SocialStats    SocialStats              `json:"socialStats"`

	CreatedAt   time.Time `json:"createdAt"`
	LastUpdated time.Time `json:"lastUpdated"`

	// Emergency is set only on profiles synthesized because no tier held usable data.
	Emergency *EmergencyTag `json:"emergency,omitempty"`
}

// EmergencyTag marks a synthesized profile. Observability only.
type EmergencyTag struct {
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"createdAt"`
}

type Stats struct {
	TotalGames      int64   `json:"totalGames"`
	Wins            int64   `json:"wins"`
	Losses          int64   `json:"losses"`
	WinRate         float64 `json:"winRate"` // percent, 0..100
	CurrentStreak   int64   `json:"currentStreak"`
	BestStreak      int64   `json:"bestStreak"`
	TotalPlayTime   int64   `json:"totalPlayTime"` // seconds
	PerfectGames    int64   `json:"perfectGames"`
	AverageAttempts float64 `json:"averageAttempts"`
	FastestWin      int64   `json:"fastestWin"` // seconds, 0 = no win yet
	LongestSession  int64   `json:"longestSession"`

	ModeStats map[GameMode]ModeStats `json:"modeStats"`
}

// ModeStats holds per-mode counters. Not every field is meaningful for every mode:
// daily uses streaks and lastPlayedDay, infinite uses songsCompleted, multiplayer uses points.
type ModeStats struct {
	Games              int64  `json:"games"`
	Wins               int64  `json:"wins"`
	Losses             int64  `json:"losses"`
	CurrentStreak      int64  `json:"currentStreak"`
	BestStreak         int64  `json:"bestStreak"`
	PerfectGames       int64  `json:"perfectGames"`
	TotalPoints        int64  `json:"totalPoints"`
	BestScore          int64  `json:"bestScore"`
	SongsCompleted     int64  `json:"songsCompleted"`
	BestSongsCompleted int64  `json:"bestSongsCompleted"`
	TotalPlayTime      int64  `json:"totalPlayTime"`
	LastPlayedDay      string `json:"lastPlayedDay,omitempty"` // YYYY-MM-DD (UTC)
}

type GameRecord struct {
	ID        string    `json:"id"`
	PlayedAt  time.Time `json:"playedAt"`
	Mode      GameMode  `json:"mode"`
	Won       bool      `json:"won"`
	Attempts  int       `json:"attempts"`
	PlayTime  int64     `json:"playTime"`
	Song      string    `json:"song,omitempty"`
	Franchise string    `json:"franchise,omitempty"`
	Points    int64     `json:"points,omitempty"`
	XPEarned  int64     `json:"xpEarned"`
}

type FranchiseStat struct {
	GamesPlayed int64   `json:"gamesPlayed"`
	Wins        int64   `json:"wins"`
	WinRate     float64 `json:"winRate"`
}

type Preferences struct {
	Theme         string            `json:"theme"` // light | dark | system
	Language      string            `json:"language"`
	SoundEnabled  bool              `json:"soundEnabled"`
	MusicVolume   int               `json:"musicVolume"` // 0..100
	Notifications NotificationPrefs `json:"notifications"`
}

type NotificationPrefs struct {
	DailyReminder  bool `json:"dailyReminder"`
	Achievements   bool `json:"achievements"`
	FriendActivity bool `json:"friendActivity"`
}

type SocialStats struct {
	Shares       int64 `json:"shares"`
	Referrals    int64 `json:"referrals"`
	Invites      int64 `json:"invites"`
	FriendsAdded int64 `json:"friendsAdded"`
}

// DefaultPreferences is what every missing preference key falls back to.
func DefaultPreferences() Preferences {
	return Preferences{
		Theme:        "system",
		Language:     "en",
		SoundEnabled: true,
		MusicVolume:  70,
		Notifications: NotificationPrefs{
			DailyReminder:  true,
			Achievements:   true,
			FriendActivity: true,
		},
	}
}

// NewModeStatsMap returns one zeroed bucket per known mode.
func NewModeStatsMap() map[GameMode]ModeStats {
	out := make(map[GameMode]ModeStats, len(GameModes))
	for _, m := range GameModes {
		out[m] = ModeStats{}
	}
	return out
}

// HasAchievement reports whether id is already unlocked.
func (p *Profile) HasAchievement(id string) bool {
	for _, a := range p.Achievements {
		if a == id {
			return true
		}
	}
	return false
}

// HasBadge reports whether id is already awarded.
func (p *Profile) HasBadge(id string) bool {
	for _, b := range p.Badges {
		if b == id {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so that mutations never alias tier-held values.
func (p Profile) Clone() Profile {
	out := p
	out.Achievements = append(make([]string, 0, len(p.Achievements)), p.Achievements...)
	out.Badges = append(make([]string, 0, len(p.Badges)), p.Badges...)
	out.GameHistory = append(make([]GameRecord, 0, len(p.GameHistory)), p.GameHistory...)
	if p.FranchiseStats != nil {
		out.FranchiseStats = make(map[string]FranchiseStat, len(p.FranchiseStats))
		for k, v := range p.FranchiseStats {
			out.FranchiseStats[k] = v
		}
	}
	if p.Stats.ModeStats != nil {
		out.Stats.ModeStats = make(map[GameMode]ModeStats, len(p.Stats.ModeStats))
		for k, v := range p.Stats.ModeStats {
			out.Stats.ModeStats[k] = v
		}
	}
	if p.Emergency != nil {
		tag := *p.Emergency
		out.Emergency = &tag
	}
	return out
}
