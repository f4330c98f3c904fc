package schema

import (
	"math"

	"game-profile-engine/models"
)

// LevelForXP is floor(sqrt(xp / 300)) + 1, computed in integers.
func LevelForXP(xp int64) int {
	if xp <= 0 {
		return 1
	}
	q := xp / models.XPPerLevelUnit
	r := int64(math.Sqrt(float64(q)))
	for r > 0 && r*r > q {
		r--
	}
	for (r+1)*(r+1) <= q {
		r++
	}
	return int(r) + 1
}

// XPForLevel returns the minimum XP at which level is reached.
func XPForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level - 1)
	return n * n * models.XPPerLevelUnit
}

// XPToNextLevel returns how much XP is still missing to reach the next level.
func XPToNextLevel(xp int64) int64 {
	next := XPForLevel(LevelForXP(xp) + 1)
	if xp < 0 {
		xp = 0
	}
	return next - xp
}
