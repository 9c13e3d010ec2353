package model

import (
	"math"

	"github.com/kasuganosora/combatcore/game/progression"
)

// TakeDamage subtracts up to amount HP and returns the damage actually applied.
// Dead characters and non-positive amounts are ignored.
func (c *Character) TakeDamage(amount int) int {
	if !c.Alive || amount <= 0 {
		return 0
	}
	actual := min(amount, c.HP)
	c.HP -= actual
	if c.HP == 0 {
		c.Alive = false
	}
	return actual
}

// Heal restores up to amount HP, capped at MaxHP, and returns the amount healed.
// A dead character's HP only changes through Revive.
func (c *Character) Heal(amount int) int {
	if amount <= 0 || !c.Alive {
		return 0
	}
	actual := min(amount, c.MaxHP-c.HP)
	if actual <= 0 {
		return 0
	}
	c.HP += actual
	return actual
}

// ConsumeMP spends cost MP. It reports false without mutating when cost is
// non-positive or exceeds the current MP.
func (c *Character) ConsumeMP(cost int) bool {
	if cost <= 0 || c.MP < cost {
		return false
	}
	c.MP -= cost
	return true
}

// RestoreMP restores up to amount MP, capped at MaxMP.
func (c *Character) RestoreMP(amount int) int {
	if amount <= 0 {
		return 0
	}
	actual := min(amount, c.MaxMP-c.MP)
	if actual <= 0 {
		return 0
	}
	c.MP += actual
	return actual
}

// DefaultReviveRatio is the HP fraction restored by a plain revive.
const DefaultReviveRatio = 0.5

// Revive brings a dead character back with floor(MaxHP*ratio) HP, at least 1.
// The ratio is clamped to [0,1]. Returns false if the character was already alive.
func (c *Character) Revive(ratio float64) bool {
	if c.Alive {
		return false
	}
	ratio = math.Max(0, math.Min(1, ratio))
	c.Alive = true
	c.HP = max(1, int(math.Floor(float64(c.MaxHP)*ratio)))
	return true
}

// ReviveAt revives and relocates the character.
func (c *Character) ReviveAt(ratio, x, y float64) bool {
	if !c.Revive(ratio) {
		return false
	}
	c.X, c.Y = x, y
	return true
}

// StatUpdate replaces base maximums. Nil fields are left unchanged.
type StatUpdate struct {
	MaxHP   *int `json:"max_hp,omitempty"`
	MaxMP   *int `json:"max_mp,omitempty"`
	Attack  *int `json:"attack,omitempty"`
	Defense *int `json:"defense,omitempty"`
}

// UpdateStats applies u. MaxHP and Attack are floored at 1, MaxMP and Defense
// at 0. Current HP/MP are clamped down to the new maximums, never raised.
func (c *Character) UpdateStats(u StatUpdate) {
	if u.MaxHP != nil {
		c.MaxHP = max(1, *u.MaxHP)
		c.HP = min(c.HP, c.MaxHP)
	}
	if u.MaxMP != nil {
		c.MaxMP = max(0, *u.MaxMP)
		c.MP = min(c.MP, c.MaxMP)
	}
	if u.Attack != nil {
		c.Atk = max(1, *u.Attack)
	}
	if u.Defense != nil {
		c.Def = max(0, *u.Defense)
	}
}

// GainExperience adds amount experience. On level-up the per-level growth is
// applied for every level gained and HP/MP are refilled; the new level is
// returned. Returns 0 when no level was gained. Experience saturates at
// math.MaxInt64.
func (c *Character) GainExperience(amount int64) int {
	if amount <= 0 {
		return 0
	}
	c.Exp += min(amount, math.MaxInt64-c.Exp)
	newLevel := progression.LevelForExp(c.Exp)
	if newLevel <= c.Level {
		return 0
	}
	g := progression.GrowthFor(newLevel - c.Level)
	c.Level = newLevel
	c.MaxHP += g.MaxHP
	c.MaxMP += g.MaxMP
	c.Atk += g.Attack
	c.Def += g.Defense
	if c.Alive {
		c.HP = c.MaxHP
	}
	c.MP = c.MaxMP
	return newLevel
}

// UpdatePosition moves the character. Rotation is kept when nil.
func (c *Character) UpdatePosition(x, y float64, rotation *float64) {
	c.X, c.Y = x, y
	if rotation != nil {
		c.Rotation = *rotation
	}
}

// DistanceTo returns the planar distance between two characters.
func (c *Character) DistanceTo(o *Character) float64 {
	return math.Hypot(o.X-c.X, o.Y-c.Y)
}

// InAttackRange reports whether (x, y) lies within r of the character.
func (c *Character) InAttackRange(x, y, r float64) bool {
	return math.Hypot(x-c.X, y-c.Y) <= r
}
