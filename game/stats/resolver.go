// Package stats resolves a character's effective stats from its base
// combat state and the modifiers of its active effects.
package stats

import (
	"context"
	"math"

	"github.com/kasuganosora/combatcore/game/effect"
	"github.com/kasuganosora/combatcore/model"
)

// Effective holds base values scaled by effect modifiers.
type Effective struct {
	MaxHP   int     `json:"max_hp"`
	MaxMP   int     `json:"max_mp"`
	Attack  int     `json:"attack"`
	Defense int     `json:"defense"`
	Speed   float64 `json:"speed"`

	Modifiers effect.Modifiers `json:"modifiers"`
}

// Resolve applies mods to base. Each dimension becomes
// base * (1 + modifier/100); integer stats are rounded down and never drop
// below zero.
func Resolve(base *model.Character, mods effect.Modifiers) Effective {
	return Effective{
		MaxHP:     scaleInt(base.MaxHP, mods.Health),
		MaxMP:     scaleInt(base.MaxMP, mods.Mana),
		Attack:    scaleInt(base.Atk, mods.Attack),
		Defense:   scaleInt(base.Def, mods.Defense),
		Speed:     math.Max(0, base.Speed*(1+mods.Speed/100)),
		Modifiers: mods,
	}
}

// epsilon absorbs float error so 100 * 1.15 floors to 115, not 114.
const epsilon = 1e-9

func scaleInt(base int, pct float64) int {
	v := math.Floor(float64(base)*(1+pct/100) + epsilon)
	if v < 0 {
		return 0
	}
	return int(v)
}

// StateLoader loads a character's base combat state.
type StateLoader interface {
	LoadCombatState(ctx context.Context, id int64) (*model.Character, error)
}

// ModifierSource aggregates a character's effect modifiers.
type ModifierSource interface {
	AggregateModifiers(ctx context.Context, charID int64) (effect.Modifiers, error)
}

// Resolver computes effective stats on demand. Nothing is cached, so every
// call reflects the current effects.
type Resolver struct {
	states StateLoader
	mods   ModifierSource
}

// NewResolver creates a Resolver.
func NewResolver(states StateLoader, mods ModifierSource) *Resolver {
	return &Resolver{states: states, mods: mods}
}

// Resolve returns the effective stats of charID.
func (r *Resolver) Resolve(ctx context.Context, charID int64) (Effective, error) {
	base, err := r.states.LoadCombatState(ctx, charID)
	if err != nil {
		return Effective{}, err
	}
	mods, err := r.mods.AggregateModifiers(ctx, charID)
	if err != nil {
		return Effective{}, err
	}
	return Resolve(base, mods), nil
}
