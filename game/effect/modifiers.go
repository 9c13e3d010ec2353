package effect

import (
	"github.com/kasuganosora/combatcore/game/catalog"
	"github.com/kasuganosora/combatcore/model"
)

// Modifiers is the percentage bonus per stat contributed by active effects.
type Modifiers struct {
	Attack  float64 `json:"attack"`
	Defense float64 `json:"defense"`
	Health  float64 `json:"health"`
	Mana    float64 `json:"mana"`
	Speed   float64 `json:"speed"`
}

// Aggregate sums definition modifier * stacks * level over effects. Effects
// whose definition is missing from cat are skipped.
func Aggregate(cat *catalog.Catalog, effects []*model.Effect) Modifiers {
	var m Modifiers
	for _, e := range effects {
		def, err := cat.Lookup(e.DefinitionID)
		if err != nil {
			continue
		}
		mult := float64(e.Stacks * e.Level)
		m.Attack += def.AttackMod * mult
		m.Defense += def.DefenseMod * mult
		m.Health += def.HealthMod * mult
		m.Mana += def.ManaMod * mult
		m.Speed += def.SpeedMod * mult
	}
	return m
}
