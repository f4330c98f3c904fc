package services

import (
	_ "embed"
	"fmt"
	"math"
	"sort"

	"gopkg.in/yaml.v3"

	"game-profile-engine/models"
	"game-profile-engine/schema"
)

//go:embed catalog.yaml
var defaultCatalogYAML []byte

// MetricFunc measures one quantity an entry's progress is computed from.
type MetricFunc func(s models.Stats, p models.Profile) float64

func modeStat(s models.Stats, m models.GameMode) models.ModeStats {
	return s.ModeStats[m]
}

var metricRegistry = map[string]MetricFunc{
	"total_games":     func(s models.Stats, _ models.Profile) float64 { return float64(s.TotalGames) },
	"wins":            func(s models.Stats, _ models.Profile) float64 { return float64(s.Wins) },
	"perfect_games":   func(s models.Stats, _ models.Profile) float64 { return float64(s.PerfectGames) },
	"best_streak":     func(s models.Stats, _ models.Profile) float64 { return float64(s.BestStreak) },
	"total_play_time": func(s models.Stats, _ models.Profile) float64 { return float64(s.TotalPlayTime) },
	"level":           func(_ models.Stats, p models.Profile) float64 { return float64(p.Level) },
	"xp":              func(_ models.Stats, p models.Profile) float64 { return float64(p.XP) },
	"quick_win": func(s models.Stats, _ models.Profile) float64 {
		if s.FastestWin > 0 && s.FastestWin <= 10 {
			return 1
		}
		return 0
	},
	"daily_games": func(s models.Stats, _ models.Profile) float64 {
		return float64(modeStat(s, models.ModeDaily).Games)
	},
	"daily_best_streak": func(s models.Stats, _ models.Profile) float64 {
		return float64(modeStat(s, models.ModeDaily).BestStreak)
	},
	"infinite_songs_completed": func(s models.Stats, _ models.Profile) float64 {
		return float64(modeStat(s, models.ModeInfinite).SongsCompleted)
	},
	"infinite_best_run": func(s models.Stats, _ models.Profile) float64 {
		return float64(modeStat(s, models.ModeInfinite).BestSongsCompleted)
	},
	"multiplayer_wins": func(s models.Stats, _ models.Profile) float64 {
		return float64(modeStat(s, models.ModeMultiplayer).Wins)
	},
	"multiplayer_points": func(s models.Stats, _ models.Profile) float64 {
		return float64(modeStat(s, models.ModeMultiplayer).TotalPoints)
	},
	"franchises_played": func(_ models.Stats, p models.Profile) float64 {
		return float64(len(p.FranchiseStats))
	},
	"franchise_best_wins": func(_ models.Stats, p models.Profile) float64 {
		var best int64
		for _, fs := range p.FranchiseStats {
			if fs.Wins > best {
				best = fs.Wins
			}
		}
		return float64(best)
	},
	"shares":            func(_ models.Stats, p models.Profile) float64 { return float64(p.SocialStats.Shares) },
	"referrals":         func(_ models.Stats, p models.Profile) float64 { return float64(p.SocialStats.Referrals) },
	"invites":           func(_ models.Stats, p models.Profile) float64 { return float64(p.SocialStats.Invites) },
	"friends_added":     func(_ models.Stats, p models.Profile) float64 { return float64(p.SocialStats.FriendsAdded) },
	"achievement_count": func(_ models.Stats, p models.Profile) float64 { return float64(len(p.Achievements)) },
}

// LoadCatalog parses and validates a YAML catalog.
func LoadCatalog(raw []byte) (models.Catalog, error) {
	var cat models.Catalog
	if err := yaml.Unmarshal(raw, &cat); err != nil {
		return models.Catalog{}, fmt.Errorf("parse achievement catalog: %w", err)
	}
	seen := make(map[string]bool, len(cat.Entries))
	for i, e := range cat.Entries {
		switch {
		case e.ID == "":
			return models.Catalog{}, fmt.Errorf("catalog entry %d has no id", i)
		case seen[e.ID]:
			return models.Catalog{}, fmt.Errorf("duplicate catalog entry %q", e.ID)
		case e.Kind != models.KindAchievement && e.Kind != models.KindBadge:
			return models.Catalog{}, fmt.Errorf("catalog entry %q: unknown kind %q", e.ID, e.Kind)
		case metricRegistry[e.Metric] == nil:
			return models.Catalog{}, fmt.Errorf("catalog entry %q: unknown metric %q", e.ID, e.Metric)
		case e.Target <= 0:
			return models.Catalog{}, fmt.Errorf("catalog entry %q: target must be positive", e.ID)
		case e.XPReward < 0:
			return models.Catalog{}, fmt.Errorf("catalog entry %q: negative xp reward", e.ID)
		}
		seen[e.ID] = true
	}
	sort.SliceStable(cat.Titles, func(i, j int) bool { return cat.Titles[i].MinLevel < cat.Titles[j].MinLevel })
	return cat, nil
}

// Evaluation is what one pass over the catalog found.
type Evaluation struct {
	NewAchievements []string `json:"newAchievements"`
	NewBadges       []string `json:"newBadges"`
	XPBonus         int64    `json:"xpBonus"`
	Title           string   `json:"title"`
}

func (e Evaluation) Empty() bool {
	return len(e.NewAchievements) == 0 && len(e.NewBadges) == 0
}

type AchievementEngine struct {
	catalog models.Catalog
}

func NewAchievementEngine(cat models.Catalog) *AchievementEngine {
	return &AchievementEngine{catalog: cat}
}

// DefaultAchievementEngine uses the embedded catalog.
func DefaultAchievementEngine() *AchievementEngine {
	cat, err := LoadCatalog(defaultCatalogYAML)
	if err != nil {
		panic(err)
	}
	return NewAchievementEngine(cat)
}

func (e *AchievementEngine) Catalog() models.Catalog { return e.catalog }

func percent(entry models.CatalogEntry, s models.Stats, p models.Profile) int {
	fn := metricRegistry[entry.Metric]
	if fn == nil {
		return 0
	}
	v := math.Floor(fn(s, p) * 100 / entry.Target)
	switch {
	case v >= 100:
		return 100
	case v <= 0 || math.IsNaN(v):
		return 0
	}
	return int(v)
}

func unlocked(entry models.CatalogEntry, p *models.Profile) bool {
	if entry.Kind == models.KindBadge {
		return p.HasBadge(entry.ID)
	}
	return p.HasAchievement(entry.ID)
}

// Evaluate is pure: it reports entries that reached 100% and are not yet held.
func (e *AchievementEngine) Evaluate(s models.Stats, p models.Profile) Evaluation {
	var out Evaluation
	for _, entry := range e.catalog.Entries {
		if unlocked(entry, &p) || percent(entry, s, p) < 100 {
			continue
		}
		if entry.Kind == models.KindBadge {
			out.NewBadges = append(out.NewBadges, entry.ID)
		} else {
			out.NewAchievements = append(out.NewAchievements, entry.ID)
		}
		out.XPBonus += entry.XPReward
	}
	out.Title = e.TitleFor(p.Level)
	return out
}

// Apply unlocks everything p qualifies for, folding XP bonuses back in until
// nothing new unlocks. The returned evaluation is the union of all passes.
func (e *AchievementEngine) Apply(p models.Profile) (models.Profile, Evaluation) {
	out := p.Clone()
	if out.Achievements == nil {
		out.Achievements = []string{}
	}
	if out.Badges == nil {
		out.Badges = []string{}
	}
	var total Evaluation
	// Each pass unlocks at least one entry, so this terminates.
	for range len(e.catalog.Entries) + 1 {
		ev := e.Evaluate(out.Stats, out)
		if ev.Empty() {
			break
		}
		out.Achievements = append(out.Achievements, ev.NewAchievements...)
		out.Badges = append(out.Badges, ev.NewBadges...)
		out.XP += ev.XPBonus
		out.Level = schema.LevelForXP(out.XP)

		total.NewAchievements = append(total.NewAchievements, ev.NewAchievements...)
		total.NewBadges = append(total.NewBadges, ev.NewBadges...)
		total.XPBonus += ev.XPBonus
	}
	out.Title = e.TitleFor(out.Level)
	total.Title = out.Title
	return out, total
}

// TitleFor returns the highest title whose bracket level has been reached.
func (e *AchievementEngine) TitleFor(level int) string {
	title := ""
	for _, t := range e.catalog.Titles {
		if level >= t.MinLevel {
			title = t.Title
		}
	}
	return title
}

// Progress lists every catalog entry with the profile's completion percentage.
func (e *AchievementEngine) Progress(p models.Profile) []models.EntryProgress {
	out := make([]models.EntryProgress, 0, len(e.catalog.Entries))
	for _, entry := range e.catalog.Entries {
		has := unlocked(entry, &p)
		pct := percent(entry, p.Stats, p)
		if has {
			pct = 100
		}
		out = append(out, models.EntryProgress{CatalogEntry: entry, Percent: pct, Unlocked: has})
	}
	return out
}
