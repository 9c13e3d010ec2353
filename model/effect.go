package model

import (
	"fmt"
	"time"
)

// EffectType classifies an effect definition.
type EffectType int

const (
	EffectBuff EffectType = iota
	EffectDebuff
	EffectAbnormal
)

func (t EffectType) String() string {
	switch t {
	case EffectBuff:
		return "buff"
	case EffectDebuff:
		return "debuff"
	case EffectAbnormal:
		return "abnormal"
	default:
		return fmt.Sprintf("effect_type(%d)", int(t))
	}
}

// ParseEffectType parses "buff", "debuff" or "abnormal".
func ParseEffectType(s string) (EffectType, error) {
	switch s {
	case "buff":
		return EffectBuff, nil
	case "debuff":
		return EffectDebuff, nil
	case "abnormal":
		return EffectAbnormal, nil
	}
	return 0, fmt.Errorf("model: unknown effect type %q", s)
}

func (t EffectType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

func (t *EffectType) UnmarshalText(b []byte) error {
	v, err := ParseEffectType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// PermanentDuration marks an effect without an end time.
const PermanentDuration = -1

// Effect is one applied effect on one character. There is at most one active
// row per (CharID, DefinitionID); 1 <= Stacks <= the definition's MaxStacks.
type Effect struct {
	ID             int64      `gorm:"primaryKey;autoIncrement" json:"id"`
	CharID         int64      `gorm:"index:idx_effect_char;not null" json:"char_id"`
	DefinitionID   int        `gorm:"index:idx_effect_char;not null" json:"definition_id"`
	Type           EffectType `gorm:"not null" json:"type"`
	Level          int        `gorm:"not null" json:"level"`
	Stacks         int        `gorm:"not null" json:"stacks"`
	StartAt        time.Time  `gorm:"not null" json:"start_at"`
	EndAt          *time.Time `json:"end_at"`
	DurationS      int        `gorm:"not null" json:"duration_s"` // -1 = permanent
	NextDecayAt    *time.Time `json:"next_decay_at"`
	DecayIntervalS int        `gorm:"not null" json:"decay_interval_s"` // 0 = never decays
	Active         bool       `gorm:"index;not null" json:"active"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPermanent reports whether the effect never expires.
func (e *Effect) IsPermanent() bool {
	return e.DurationS == PermanentDuration || e.EndAt == nil
}

// IsExpired reports whether the effect's end time has passed.
func (e *Effect) IsExpired(now time.Time) bool {
	if e.IsPermanent() {
		return false
	}
	return now.After(*e.EndAt)
}

// ShouldDecay reports whether a stack decay is due.
func (e *Effect) ShouldDecay(now time.Time) bool {
	if e.DecayIntervalS <= 0 || e.NextDecayAt == nil {
		return false
	}
	return !now.Before(*e.NextDecayAt)
}

// DecayInterval returns the decay interval as a duration.
func (e *Effect) DecayInterval() time.Duration {
	return time.Duration(e.DecayIntervalS) * time.Second
}

// EffectDefinition is the static rule set of one effect, loaded once into the
// catalog and never mutated at runtime.
type EffectDefinition struct {
	ID               int        `gorm:"primaryKey;autoIncrement:false" json:"id" yaml:"id"`
	Name             string     `gorm:"size:64;not null" json:"name" yaml:"name"`
	Description      string     `gorm:"size:255" json:"description" yaml:"description"`
	Type             EffectType `gorm:"not null" json:"type" yaml:"type"`
	MaxStacks        int        `gorm:"not null" json:"max_stacks" yaml:"max_stacks"`
	DefaultDurationS int        `gorm:"not null" json:"default_duration_s" yaml:"default_duration_s"` // -1 = permanent
	DecayIntervalS   int        `gorm:"not null" json:"decay_interval_s" yaml:"decay_interval_s"`
	IconPath         string     `gorm:"size:255" json:"icon_path" yaml:"icon_path"`
	Priority         int        `gorm:"not null" json:"priority" yaml:"priority"`
	CanStack         bool       `gorm:"not null" json:"can_stack" yaml:"can_stack"`
	CanDispel        bool       `gorm:"not null" json:"can_dispel" yaml:"can_dispel"`
	// Percentage modifiers per stack per level.
	AttackMod  float64 `gorm:"not null" json:"attack_mod" yaml:"attack_mod"`
	DefenseMod float64 `gorm:"not null" json:"defense_mod" yaml:"defense_mod"`
	HealthMod  float64 `gorm:"not null" json:"health_mod" yaml:"health_mod"`
	ManaMod    float64 `gorm:"not null" json:"mana_mod" yaml:"mana_mod"`
	SpeedMod   float64 `gorm:"not null" json:"speed_mod" yaml:"speed_mod"`
}

// IsPermanent reports whether the definition's default duration is unlimited.
func (d *EffectDefinition) IsPermanent() bool { return d.DefaultDurationS == PermanentDuration }

// Decays reports whether stacks decay over time.
func (d *EffectDefinition) Decays() bool { return d.DecayIntervalS > 0 }
