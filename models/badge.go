package models

// UnlockKind separates achievements (award XP) from badges (cosmetic, derived).
type UnlockKind string

const (
	KindAchievement UnlockKind = "achievement"
	KindBadge       UnlockKind = "badge"
)

// CatalogEntry is one static achievement or badge definition.
// Progress is value(metric) / Target, capped at 100%.
type CatalogEntry struct {
	ID          string     `yaml:"id" json:"id"`
	Kind        UnlockKind `yaml:"kind" json:"kind"`
	Name        string     `yaml:"name" json:"name"`
	Description string     `yaml:"description" json:"description"`
	Rarity      string     `yaml:"rarity" json:"rarity"` // common, rare, epic, legendary
	Metric      string     `yaml:"metric" json:"metric"`
	Target      float64    `yaml:"target" json:"target"`
	XPReward    int64      `yaml:"xp_reward" json:"xpReward"`
}

// TitleTier maps a minimum level to a display title.
type TitleTier struct {
	MinLevel int    `yaml:"min_level" json:"minLevel"`
	Title    string `yaml:"title" json:"title"`
}

// Catalog is the full read-only table consumed by the achievement engine.
type Catalog struct {
	Entries []CatalogEntry `yaml:"entries"`
	Titles  []TitleTier    `yaml:"titles"`
}

// EntryProgress is a UI-facing view of one catalog entry for one profile.
type EntryProgress struct {
	CatalogEntry
	Percent  int  `json:"percent"`
	Unlocked bool `json:"unlocked"`
}
