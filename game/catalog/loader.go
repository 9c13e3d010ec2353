package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kasuganosora/combatcore/model"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

// fileEntry mirrors model.EffectDefinition with optional fields so omitted
// keys take the catalog defaults (stackable, dispellable, permanent).
type fileEntry struct {
	ID               int              `json:"id" yaml:"id"`
	Name             string           `json:"name" yaml:"name"`
	Description      string           `json:"description" yaml:"description"`
	Type             model.EffectType `json:"type" yaml:"type"`
	MaxStacks        *int             `json:"max_stacks" yaml:"max_stacks"`
	DefaultDurationS *int             `json:"default_duration_s" yaml:"default_duration_s"`
	DecayIntervalS   int              `json:"decay_interval_s" yaml:"decay_interval_s"`
	IconPath         string           `json:"icon_path" yaml:"icon_path"`
	Priority         int              `json:"priority" yaml:"priority"`
	CanStack         *bool            `json:"can_stack" yaml:"can_stack"`
	CanDispel        *bool            `json:"can_dispel" yaml:"can_dispel"`
	AttackMod        float64          `json:"attack_mod" yaml:"attack_mod"`
	DefenseMod       float64          `json:"defense_mod" yaml:"defense_mod"`
	HealthMod        float64          `json:"health_mod" yaml:"health_mod"`
	ManaMod          float64          `json:"mana_mod" yaml:"mana_mod"`
	SpeedMod         float64          `json:"speed_mod" yaml:"speed_mod"`
}

func (e fileEntry) definition() model.EffectDefinition {
	d := model.EffectDefinition{
		ID:               e.ID,
		Name:             e.Name,
		Description:      e.Description,
		Type:             e.Type,
		MaxStacks:        1,
		DefaultDurationS: model.PermanentDuration,
		DecayIntervalS:   e.DecayIntervalS,
		IconPath:         e.IconPath,
		Priority:         e.Priority,
		CanStack:         true,
		CanDispel:        true,
		AttackMod:        e.AttackMod,
		DefenseMod:       e.DefenseMod,
		HealthMod:        e.HealthMod,
		ManaMod:          e.ManaMod,
		SpeedMod:         e.SpeedMod,
	}
	if e.MaxStacks != nil {
		d.MaxStacks = *e.MaxStacks
	}
	if e.DefaultDurationS != nil {
		d.DefaultDurationS = *e.DefaultDurationS
	}
	if e.CanStack != nil {
		d.CanStack = *e.CanStack
	}
	if e.CanDispel != nil {
		d.CanDispel = *e.CanDispel
	}
	return d
}

type fileDoc struct {
	Effects []fileEntry `json:"effects" yaml:"effects"`
}

// LoadFile reads a catalog from a JSON or YAML file, chosen by extension.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var doc fileDoc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	case ".json":
		err = json.Unmarshal(data, &doc)
	default:
		return nil, fmt.Errorf("catalog: unsupported file type %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: parse %s: %w", path, err)
	}
	defs := make([]model.EffectDefinition, 0, len(doc.Effects))
	for _, e := range doc.Effects {
		defs = append(defs, e.definition())
	}
	return New(defs)
}

// LoadDB reads every row of the effect_definitions table.
func LoadDB(db *gorm.DB) (*Catalog, error) {
	var defs []model.EffectDefinition
	if err := db.Order("id").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("catalog: load definitions: %w", err)
	}
	return New(defs)
}
