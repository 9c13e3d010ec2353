// Package catalog holds the immutable set of effect definitions. A Catalog is
// built once at startup and passed to the engine and resolver explicitly.
package catalog

import (
	"errors"
	"fmt"
	"sort"

	"github.com/kasuganosora/combatcore/model"
)

// ErrUnknownEffect is returned when a definition id has no catalog entry.
var ErrUnknownEffect = errors.New("catalog: unknown effect")

// Catalog is a read-only index of effect definitions. Safe for concurrent use.
type Catalog struct {
	defs  map[int]model.EffectDefinition
	order []int // ascending ids
}

// New validates defs and builds a Catalog. Definitions are copied.
func New(defs []model.EffectDefinition) (*Catalog, error) {
	c := &Catalog{defs: make(map[int]model.EffectDefinition, len(defs))}
	for _, d := range defs {
		if d.ID <= 0 {
			return nil, fmt.Errorf("catalog: invalid id %d (%q)", d.ID, d.Name)
		}
		if _, dup := c.defs[d.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate id %d", d.ID)
		}
		if d.MaxStacks < 1 {
			d.MaxStacks = 1
		}
		if d.DefaultDurationS == 0 || d.DefaultDurationS < model.PermanentDuration {
			d.DefaultDurationS = model.PermanentDuration
		}
		if d.DecayIntervalS < 0 {
			d.DecayIntervalS = 0
		}
		c.defs[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	sort.Ints(c.order)
	return c, nil
}

// Lookup returns the definition for id, or ErrUnknownEffect.
func (c *Catalog) Lookup(id int) (model.EffectDefinition, error) {
	d, ok := c.defs[id]
	if !ok {
		return model.EffectDefinition{}, fmt.Errorf("%w: %d", ErrUnknownEffect, id)
	}
	return d, nil
}

// Len returns the number of definitions.
func (c *Catalog) Len() int { return len(c.defs) }

// All returns every definition ordered by id.
func (c *Catalog) All() []model.EffectDefinition {
	return c.filter(func(model.EffectDefinition) bool { return true })
}

func (c *Catalog) filter(keep func(model.EffectDefinition) bool) []model.EffectDefinition {
	out := make([]model.EffectDefinition, 0, len(c.order))
	for _, id := range c.order {
		if d := c.defs[id]; keep(d) {
			out = append(out, d)
		}
	}
	return out
}

// ByType returns definitions of the given type.
func (c *Catalog) ByType(t model.EffectType) []model.EffectDefinition {
	return c.filter(func(d model.EffectDefinition) bool { return d.Type == t })
}

// Stackable returns definitions that stack beyond one.
func (c *Catalog) Stackable() []model.EffectDefinition {
	return c.filter(func(d model.EffectDefinition) bool { return d.CanStack && d.MaxStacks > 1 })
}

// Dispellable returns definitions that can be removed before expiry.
func (c *Catalog) Dispellable() []model.EffectDefinition {
	return c.filter(func(d model.EffectDefinition) bool { return d.CanDispel })
}

// Permanent returns definitions without a default duration.
func (c *Catalog) Permanent() []model.EffectDefinition {
	return c.filter(func(d model.EffectDefinition) bool { return d.IsPermanent() })
}

// Decaying returns definitions whose stacks decay over time.
func (c *Catalog) Decaying() []model.EffectDefinition {
	return c.filter(func(d model.EffectDefinition) bool { return d.Decays() })
}

// ByPriority returns every definition ordered by priority descending, then name.
func (c *Catalog) ByPriority() []model.EffectDefinition {
	out := c.All()
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Stats summarises the catalog for admin views.
func (c *Catalog) Stats() map[string]int {
	return map[string]int{
		"total":       c.Len(),
		"buffs":       len(c.ByType(model.EffectBuff)),
		"debuffs":     len(c.ByType(model.EffectDebuff)),
		"abnormal":    len(c.ByType(model.EffectAbnormal)),
		"stackable":   len(c.Stackable()),
		"dispellable": len(c.Dispellable()),
		"permanent":   len(c.Permanent()),
		"decaying":    len(c.Decaying()),
	}
}
