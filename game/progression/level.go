// Package progression maps accumulated experience to character level and
// defines the stat growth granted per level.
package progression

import "math"

// ExpPerLevelUnit scales the level curve: level = floor(sqrt(exp/100)) + 1.
const ExpPerLevelUnit = 100

// Per-level growth.
const (
	GrowthMaxHP   = 10
	GrowthMaxMP   = 5
	GrowthAttack  = 2
	GrowthDefense = 1
)

// Growth is the stat delta granted by one or more level-ups.
type Growth struct {
	MaxHP   int
	MaxMP   int
	Attack  int
	Defense int
}

// LevelForExp returns the level reached with exp total experience.
// 0-99 → 1, 100-399 → 2, 400-899 → 3, ...
func LevelForExp(exp int64) int {
	if exp <= 0 {
		return 1
	}
	// floor(sqrt(exp/100)) == floor(sqrt(floor(exp/100))), so work on whole units.
	units := exp / ExpPerLevelUnit
	lvl := int64(math.Sqrt(float64(units)))
	// Correct float rounding at exact squares in both directions.
	for lvl > 0 && lvl > units/lvl {
		lvl--
	}
	for lvl+1 <= units/(lvl+1) {
		lvl++
	}
	return int(lvl) + 1
}

// ExpForLevel returns the minimum experience required for level.
func ExpForLevel(level int) int64 {
	if level <= 1 {
		return 0
	}
	n := int64(level - 1)
	return n * n * ExpPerLevelUnit
}

// GrowthFor returns the cumulative growth for gaining the given number of levels.
func GrowthFor(levels int) Growth {
	if levels <= 0 {
		return Growth{}
	}
	return Growth{
		MaxHP:   GrowthMaxHP * levels,
		MaxMP:   GrowthMaxMP * levels,
		Attack:  GrowthAttack * levels,
		Defense: GrowthDefense * levels,
	}
}
