package services

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"game-profile-engine/models"
	"game-profile-engine/schema"
)

// XP rules for a single game.
const (
	xpWin           = 50
	xpLoss          = 10
	xpStreakStep    = 5  // every 5 consecutive wins...
	xpStreakBonus   = 10 // ...adds this much
	maxAttempts     = 100
	maxGamePlayTime = 24 * 60 * 60
)

// attemptBonus rewards winning in few attempts; attempts == 0 means "not reported".
func attemptBonus(attempts int) int64 {
	switch {
	case attempts <= 0:
		return 0
	case attempts == 1:
		return 50
	case attempts == 2:
		return 30
	case attempts == 3:
		return 20
	case attempts == 4:
		return 10
	}
	return 0
}

// MutationSummary describes what ApplyGameResult did besides the new profile.
type MutationSummary struct {
	Record   models.GameRecord
	XPEarned int64
}

// ValidateGameResult rejects events that could not have come from a real game.
func ValidateGameResult(ev models.GameResult) error {
	if !ev.Mode.Valid() {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidGameResult, ev.Mode)
	}
	if ev.Attempts < 0 || ev.Attempts > maxAttempts {
		return fmt.Errorf("%w: attempts %d out of range", ErrInvalidGameResult, ev.Attempts)
	}
	if ev.PlayTime < 0 || ev.PlayTime > maxGamePlayTime {
		return fmt.Errorf("%w: playTime %d out of range", ErrInvalidGameResult, ev.PlayTime)
	}
	for name, v := range map[string]*int64{"streak": ev.Streak, "songsCompleted": ev.SongsCompleted, "points": ev.Points} {
		if v != nil && *v < 0 {
			return fmt.Errorf("%w: negative %s", ErrInvalidGameResult, name)
		}
	}
	return nil
}

// ApplyGameResult folds one finished game into a copy of p. The caller is
// expected to have validated ev; the input profile is never modified.
func ApplyGameResult(p models.Profile, ev models.GameResult, now time.Time) (models.Profile, MutationSummary) {
	out := p.Clone()
	if out.Stats.ModeStats == nil {
		out.Stats.ModeStats = models.NewModeStatsMap()
	}
	if out.FranchiseStats == nil {
		out.FranchiseStats = map[string]models.FranchiseStat{}
	}

	playedAt := ev.PlayedAt
	if playedAt.IsZero() {
		playedAt = now
	}
	playedAt = playedAt.UTC().Truncate(time.Millisecond)

	s := &out.Stats
	s.TotalGames++
	s.TotalPlayTime += ev.PlayTime
	if ev.PlayTime > s.LongestSession {
		s.LongestSession = ev.PlayTime
	}
	// Running mean over every game; zero attempts is a real value.
	prev := float64(s.TotalGames - 1)
	s.AverageAttempts = (s.AverageAttempts*prev + float64(ev.Attempts)) / float64(s.TotalGames)

	var xp int64
	if ev.Won {
		s.Wins++
		s.CurrentStreak++
		if s.CurrentStreak > s.BestStreak {
			s.BestStreak = s.CurrentStreak
		}
		if ev.Attempts == 1 {
			s.PerfectGames++
		}
		if ev.PlayTime > 0 && (s.FastestWin == 0 || ev.PlayTime < s.FastestWin) {
			s.FastestWin = ev.PlayTime
		}
		xp = xpWin + attemptBonus(ev.Attempts) + xpStreakBonus*(s.CurrentStreak/xpStreakStep)
	} else {
		s.Losses++
		s.CurrentStreak = 0
		xp = xpLoss
	}
	s.WinRate = schema.WinRate(s.Wins, s.TotalGames)

	s.ModeStats[ev.Mode] = applyModeStats(s.ModeStats[ev.Mode], ev, playedAt)

	franchise := strings.TrimSpace(ev.Franchise())
	if franchise != "" {
		fs := out.FranchiseStats[franchise]
		fs.GamesPlayed++
		if ev.Won {
			fs.Wins++
		}
		fs.WinRate = schema.WinRate(fs.Wins, fs.GamesPlayed)
		out.FranchiseStats[franchise] = fs
	}

	record := models.GameRecord{
		ID:        uuid.NewString(),
		PlayedAt:  playedAt,
		Mode:      ev.Mode,
		Won:       ev.Won,
		Attempts:  ev.Attempts,
		PlayTime:  ev.PlayTime,
		Franchise: franchise,
		XPEarned:  xp,
	}
	if ev.Song != nil {
		record.Song = ev.Song.Title
	}
	if ev.Points != nil {
		record.Points = *ev.Points
	}
	out.GameHistory = append([]models.GameRecord{record}, out.GameHistory...)
	if len(out.GameHistory) > models.MaxGameHistory {
		out.GameHistory = out.GameHistory[:models.MaxGameHistory]
	}

	out.XP += xp
	out.Level = schema.LevelForXP(out.XP)
	out.LastUpdated = nextStamp(p.LastUpdated, now)
	return out, MutationSummary{Record: record, XPEarned: xp}
}

func applyModeStats(ms models.ModeStats, ev models.GameResult, playedAt time.Time) models.ModeStats {
	ms.Games++
	ms.TotalPlayTime += ev.PlayTime
	if ev.Won {
		ms.Wins++
		if ev.Attempts == 1 {
			ms.PerfectGames++
		}
	} else {
		ms.Losses++
	}

	switch ev.Mode {
	case models.ModeDaily:
		// Daily streaks count consecutive calendar days won.
		day := playedAt.Format(dayLayout)
		yesterday := playedAt.AddDate(0, 0, -1).Format(dayLayout)
		switch {
		case !ev.Won:
			ms.CurrentStreak = 0
		case ms.LastPlayedDay == yesterday:
			ms.CurrentStreak++
		case ms.LastPlayedDay == day && ms.CurrentStreak > 0:
		default:
			ms.CurrentStreak = 1
		}
		ms.LastPlayedDay = day
	case models.ModeInfinite:
		if ev.Won {
			ms.CurrentStreak++
		} else {
			ms.CurrentStreak = 0
		}
		if ev.SongsCompleted != nil {
			ms.SongsCompleted += *ev.SongsCompleted
			if *ev.SongsCompleted > ms.BestSongsCompleted {
				ms.BestSongsCompleted = *ev.SongsCompleted
			}
		}
		if ev.Streak != nil && *ev.Streak > ms.BestStreak {
			ms.BestStreak = *ev.Streak
		}
	case models.ModeMultiplayer:
		if ev.Won {
			ms.CurrentStreak++
		} else {
			ms.CurrentStreak = 0
		}
		if ev.Points != nil {
			ms.TotalPoints += *ev.Points
			if *ev.Points > ms.BestScore {
				ms.BestScore = *ev.Points
			}
		}
	}
	if ms.CurrentStreak > ms.BestStreak {
		ms.BestStreak = ms.CurrentStreak
	}
	return ms
}

const dayLayout = "2006-01-02"

// dayOf is the UTC calendar day a timestamp belongs to.
func dayOf(t time.Time) string { return t.UTC().Format(dayLayout) }

// nextStamp returns a millisecond-precision UTC time strictly after prev.
func nextStamp(prev, now time.Time) time.Time {
	t := now.UTC().Truncate(time.Millisecond)
	if !t.After(prev) {
		t = prev.UTC().Truncate(time.Millisecond).Add(time.Millisecond)
	}
	return t
}
