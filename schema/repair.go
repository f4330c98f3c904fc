package schema

import (
	"math"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"game-profile-engine/models"
)

const maxAvatarBytes = 512 * 1024

// RepairProfile rebuilds a conforming Profile from an arbitrary document.
// Every present, well-typed field is kept verbatim; everything else falls back
// to its schema default. Achievements and badges are only ever salvaged, never
// invented. The identity id always wins over whatever id the document carries.
func RepairProfile(raw []byte, id string, now time.Time) models.Profile {
	doc := gjson.Parse("{}")
	if len(raw) > 0 && gjson.ValidBytes(raw) {
		if parsed := gjson.ParseBytes(raw); parsed.IsObject() {
			doc = parsed
		}
	}

	p := models.Profile{
		ID:          id,
		Username:    str(doc.Get("username"), ""),
		DisplayName: str(doc.Get("displayName"), ""),
		Bio:         str(doc.Get("bio"), ""),
		Avatar:      str(doc.Get("avatar"), ""),
		Title:       str(doc.Get("title"), ""),
		XP:          integer(doc.Get("xp"), 0),
	}
	if strings.TrimSpace(p.Username) == "" {
		p.Username = DefaultUsername(id)
	}
	if p.DisplayName == "" {
		p.DisplayName = p.Username
	}
	if len(p.Avatar) > maxAvatarBytes {
		p.Avatar = ""
	}

	p.Stats = repairStats(doc.Get("stats"))
	p.Achievements = stringSet(doc.Get("achievements"))
	p.Badges = stringSet(doc.Get("badges"))
	p.GameHistory = repairHistory(doc.Get("gameHistory"))
	p.FranchiseStats = repairFranchises(doc.Get("franchiseStats"))
	p.Preferences = repairPreferences(doc.Get("preferences"))
	p.SocialStats = models.SocialStats{
		Shares:       integer(doc.Get("socialStats.shares"), 0),
		Referrals:    integer(doc.Get("socialStats.referrals"), 0),
		Invites:      integer(doc.Get("socialStats.invites"), 0),
		FriendsAdded: integer(doc.Get("socialStats.friendsAdded"), 0),
	}

	if t, ok := parseTime(doc.Get("lastUpdated")); ok {
		p.LastUpdated = t
	} else {
		p.LastUpdated = now.UTC()
	}
	if t, ok := parseTime(doc.Get("createdAt")); ok {
		p.CreatedAt = t
	} else {
		p.CreatedAt = p.LastUpdated
	}

	if tag := doc.Get("emergency"); tag.IsObject() {
		reason := str(tag.Get("reason"), "unknown")
		createdAt, _ := parseTime(tag.Get("createdAt"))
		p.Emergency = &models.EmergencyTag{Reason: reason, CreatedAt: createdAt}
	}

	NormalizeProfile(&p)
	return p
}

// NormalizeProfile restores the arithmetic invariants of a structurally valid
// profile in place and reports whether anything had to change.
func NormalizeProfile(p *models.Profile) bool {
	changed := false
	fixInt := func(v *int64) {
		if *v < 0 {
			*v = 0
			changed = true
		}
	}
	s := &p.Stats

	fixInt(&p.XP)
	for _, v := range []*int64{&s.TotalGames, &s.Wins, &s.Losses, &s.CurrentStreak, &s.BestStreak,
		&s.TotalPlayTime, &s.PerfectGames, &s.FastestWin, &s.LongestSession} {
		fixInt(v)
	}
	if s.TotalGames != s.Wins+s.Losses {
		s.TotalGames = s.Wins + s.Losses
		changed = true
	}
	if s.PerfectGames > s.Wins {
		s.PerfectGames = s.Wins
		changed = true
	}
	if rate := WinRate(s.Wins, s.TotalGames); s.WinRate != rate {
		s.WinRate = rate
		changed = true
	}
	if s.BestStreak < s.CurrentStreak {
		s.BestStreak = s.CurrentStreak
		changed = true
	}
	if s.AverageAttempts < 0 || math.IsNaN(s.AverageAttempts) || math.IsInf(s.AverageAttempts, 0) {
		s.AverageAttempts = 0
		changed = true
	}
	if s.TotalGames == 0 && s.AverageAttempts != 0 {
		s.AverageAttempts = 0
		changed = true
	}

	if s.ModeStats == nil {
		s.ModeStats = make(map[models.GameMode]models.ModeStats, len(models.GameModes))
		changed = true
	}
	for _, mode := range models.GameModes {
		if _, ok := s.ModeStats[mode]; !ok {
			s.ModeStats[mode] = models.ModeStats{}
			changed = true
		}
	}
	for mode, ms := range s.ModeStats {
		before := ms
		for _, v := range []*int64{&ms.Games, &ms.Wins, &ms.Losses, &ms.CurrentStreak, &ms.BestStreak,
			&ms.PerfectGames, &ms.TotalPoints, &ms.BestScore, &ms.SongsCompleted, &ms.BestSongsCompleted,
			&ms.TotalPlayTime} {
			if *v < 0 {
				*v = 0
			}
		}
		if ms.Games < ms.Wins+ms.Losses {
			ms.Games = ms.Wins + ms.Losses
		}
		if ms.BestStreak < ms.CurrentStreak {
			ms.BestStreak = ms.CurrentStreak
		}
		if ms != before {
			s.ModeStats[mode] = ms
			changed = true
		}
	}

	if p.FranchiseStats == nil {
		p.FranchiseStats = map[string]models.FranchiseStat{}
		changed = true
	}
	for name, fs := range p.FranchiseStats {
		before := fs
		if fs.GamesPlayed < 0 {
			fs.GamesPlayed = 0
		}
		if fs.Wins < 0 {
			fs.Wins = 0
		}
		if fs.Wins > fs.GamesPlayed {
			fs.GamesPlayed = fs.Wins
		}
		fs.WinRate = WinRate(fs.Wins, fs.GamesPlayed)
		if fs != before {
			p.FranchiseStats[name] = fs
			changed = true
		}
	}

	if p.Achievements == nil {
		p.Achievements = []string{}
		changed = true
	}
	if p.Badges == nil {
		p.Badges = []string{}
		changed = true
	}
	if p.GameHistory == nil {
		p.GameHistory = []models.GameRecord{}
		changed = true
	}
	if len(p.GameHistory) > models.MaxGameHistory {
		p.GameHistory = p.GameHistory[:models.MaxGameHistory]
		changed = true
	}

	if p.Preferences.MusicVolume < 0 || p.Preferences.MusicVolume > 100 {
		p.Preferences.MusicVolume = models.DefaultPreferences().MusicVolume
		changed = true
	}
	if !ValidTheme(p.Preferences.Theme) {
		p.Preferences.Theme = models.DefaultPreferences().Theme
		changed = true
	}
	if p.Preferences.Language == "" {
		p.Preferences.Language = models.DefaultPreferences().Language
		changed = true
	}

	if lvl := LevelForXP(p.XP); p.Level != lvl {
		p.Level = lvl
		changed = true
	}
	return changed
}

// WinRate is wins/total*100, or 0 for no games.
func WinRate(wins, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(wins) / float64(total) * 100
}

// ValidTheme reports whether theme is one of the supported UI themes.
func ValidTheme(theme string) bool {
	switch theme {
	case "light", "dark", "system":
		return true
	}
	return false
}

// DefaultUsername derives a stable placeholder username from the identity.
func DefaultUsername(id string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(id) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	clean := b.String()
	if len(clean) > 6 {
		clean = clean[len(clean)-6:]
	}
	if clean == "" {
		clean = "guest"
	}
	return "player_" + clean
}

func repairStats(doc gjson.Result) models.Stats {
	s := models.Stats{
		TotalGames:      integer(doc.Get("totalGames"), 0),
		Wins:            integer(doc.Get("wins"), 0),
		Losses:          integer(doc.Get("losses"), 0),
		WinRate:         float(doc.Get("winRate"), 0),
		CurrentStreak:   integer(doc.Get("currentStreak"), 0),
		BestStreak:      integer(doc.Get("bestStreak"), 0),
		TotalPlayTime:   integer(doc.Get("totalPlayTime"), 0),
		PerfectGames:    integer(doc.Get("perfectGames"), 0),
		AverageAttempts: float(doc.Get("averageAttempts"), 0),
		FastestWin:      integer(doc.Get("fastestWin"), 0),
		LongestSession:  integer(doc.Get("longestSession"), 0),
		ModeStats:       models.NewModeStatsMap(),
	}
	// Older documents only carried wins + totalGames.
	if doc.Get("losses").Type != gjson.Number && s.TotalGames > s.Wins {
		s.Losses = s.TotalGames - s.Wins
	}
	if modes := doc.Get("modeStats"); modes.IsObject() {
		modes.ForEach(func(key, value gjson.Result) bool {
			if value.IsObject() {
				s.ModeStats[models.GameMode(key.String())] = repairModeStats(value)
			}
			return true
		})
	}
	return s
}

func repairModeStats(doc gjson.Result) models.ModeStats {
	return models.ModeStats{
		Games:              integer(doc.Get("games"), 0),
		Wins:               integer(doc.Get("wins"), 0),
		Losses:             integer(doc.Get("losses"), 0),
		CurrentStreak:      integer(doc.Get("currentStreak"), 0),
		BestStreak:         integer(doc.Get("bestStreak"), 0),
		PerfectGames:       integer(doc.Get("perfectGames"), 0),
		TotalPoints:        integer(doc.Get("totalPoints"), 0),
		BestScore:          integer(doc.Get("bestScore"), 0),
		SongsCompleted:     integer(doc.Get("songsCompleted"), 0),
		BestSongsCompleted: integer(doc.Get("bestSongsCompleted"), 0),
		TotalPlayTime:      integer(doc.Get("totalPlayTime"), 0),
		LastPlayedDay:      str(doc.Get("lastPlayedDay"), ""),
	}
}

func repairHistory(doc gjson.Result) []models.GameRecord {
	out := []models.GameRecord{}
	if !doc.IsArray() {
		return out
	}
	doc.ForEach(func(_, rec gjson.Result) bool {
		if !rec.IsObject() {
			return true
		}
		playedAt, _ := parseTime(rec.Get("playedAt"))
		out = append(out, models.GameRecord{
			ID:        str(rec.Get("id"), ""),
			PlayedAt:  playedAt,
			Mode:      models.GameMode(str(rec.Get("mode"), string(models.ModeInfinite))),
			Won:       boolean(rec.Get("won"), false),
			Attempts:  int(integer(rec.Get("attempts"), 0)),
			PlayTime:  integer(rec.Get("playTime"), 0),
			Song:      str(rec.Get("song"), ""),
			Franchise: str(rec.Get("franchise"), ""),
			Points:    integer(rec.Get("points"), 0),
			XPEarned:  integer(rec.Get("xpEarned"), 0),
		})
		return len(out) < models.MaxGameHistory
	})
	return out
}

func repairFranchises(doc gjson.Result) map[string]models.FranchiseStat {
	out := map[string]models.FranchiseStat{}
	if !doc.IsObject() {
		return out
	}
	doc.ForEach(func(key, value gjson.Result) bool {
		if name := key.String(); name != "" && value.IsObject() {
			out[name] = models.FranchiseStat{
				GamesPlayed: integer(value.Get("gamesPlayed"), 0),
				Wins:        integer(value.Get("wins"), 0),
				WinRate:     float(value.Get("winRate"), 0),
			}
		}
		return true
	})
	return out
}

func repairPreferences(doc gjson.Result) models.Preferences {
	def := models.DefaultPreferences()
	return models.Preferences{
		Theme:        str(doc.Get("theme"), def.Theme),
		Language:     str(doc.Get("language"), def.Language),
		SoundEnabled: boolean(doc.Get("soundEnabled"), def.SoundEnabled),
		MusicVolume:  int(integer(doc.Get("musicVolume"), int64(def.MusicVolume))),
		Notifications: models.NotificationPrefs{
			DailyReminder:  boolean(doc.Get("notifications.dailyReminder"), def.Notifications.DailyReminder),
			Achievements:   boolean(doc.Get("notifications.achievements"), def.Notifications.Achievements),
			FriendActivity: boolean(doc.Get("notifications.friendActivity"), def.Notifications.FriendActivity),
		},
	}
}

// stringSet keeps string members (or objects carrying a string id) in first-seen order.
func stringSet(doc gjson.Result) []string {
	out := []string{}
	if !doc.IsArray() {
		return out
	}
	seen := make(map[string]struct{})
	doc.ForEach(func(_, v gjson.Result) bool {
		var id string
		switch {
		case v.Type == gjson.String:
			id = v.Str
		case v.IsObject() && v.Get("id").Type == gjson.String:
			id = v.Get("id").Str
		}
		if id == "" {
			return true
		}
		if _, dup := seen[id]; !dup {
			seen[id] = struct{}{}
			out = append(out, id)
		}
		return true
	})
	return out
}

func str(r gjson.Result, def string) string {
	if r.Type == gjson.String {
		return r.Str
	}
	return def
}

func integer(r gjson.Result, def int64) int64 {
	if r.Type == gjson.Number {
		if math.IsNaN(r.Num) || math.IsInf(r.Num, 0) {
			return def
		}
		return r.Int()
	}
	return def
}

func float(r gjson.Result, def float64) float64 {
	if r.Type == gjson.Number {
		return r.Num
	}
	return def
}

func boolean(r gjson.Result, def bool) bool {
	if r.Type == gjson.True || r.Type == gjson.False {
		return r.Bool()
	}
	return def
}

func parseTime(r gjson.Result) (time.Time, bool) {
	if r.Type != gjson.String {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, r.Str)
	if err != nil || t.IsZero() {
		return time.Time{}, false
	}
	return t.UTC(), true
}
