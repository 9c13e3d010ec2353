// Package store persists combat state and effect rows with gorm.
//
// Effect rows are never hard-deleted: removal clears the active flag and
// every read filters on it.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/kasuganosora/combatcore/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound is returned when a character row does not exist.
	ErrNotFound = errors.New("store: not found")
	// ErrDuplicate is returned when a row violates a unique constraint.
	ErrDuplicate = errors.New("store: duplicate")
)

// Gorm implements effect.Store and the combat state persistence used by
// combat.Service.
type Gorm struct {
	db *gorm.DB
}

// New creates a Gorm store.
func New(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// ---- effects ----

// LoadActiveEffects returns charID's active effects ordered by type then start time.
func (s *Gorm) LoadActiveEffects(ctx context.Context, charID int64) ([]*model.Effect, error) {
	var effects []*model.Effect
	err := s.db.WithContext(ctx).
		Where("char_id = ? AND active = ?", charID, true).
		Order("type, start_at, id").
		Find(&effects).Error
	return effects, err
}

// LoadAllActiveEffects returns every active effect ordered by character.
func (s *Gorm) LoadAllActiveEffects(ctx context.Context) ([]*model.Effect, error) {
	var effects []*model.Effect
	err := s.db.WithContext(ctx).
		Where("active = ?", true).
		Order("char_id, type, start_at, id").
		Find(&effects).Error
	return effects, err
}

// LoadEffect returns the active effect with id, or nil if it is gone.
func (s *Gorm) LoadEffect(ctx context.Context, id int64) (*model.Effect, error) {
	var e model.Effect
	err := s.db.WithContext(ctx).Where("id = ? AND active = ?", id, true).First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// SaveEffect inserts e when its ID is zero and updates every column otherwise.
func (s *Gorm) SaveEffect(ctx context.Context, e *model.Effect) error {
	e.Active = true
	if e.ID == 0 {
		return s.db.WithContext(ctx).Create(e).Error
	}
	return s.db.WithContext(ctx).Save(e).Error
}

// DeleteEffect deactivates the effect with id.
func (s *Gorm) DeleteEffect(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Model(&model.Effect{}).
		Where("id = ?", id).
		Update("active", false).Error
}

// PurgeInactiveEffects hard-deletes deactivated rows and returns how many
// were removed.
func (s *Gorm) PurgeInactiveEffects(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Where("active = ?", false).Delete(&model.Effect{})
	return res.RowsAffected, res.Error
}

// ---- combat state ----

// CreateCharacter inserts a new character row.
func (s *Gorm) CreateCharacter(ctx context.Context, c *model.Character) error {
	err := s.db.WithContext(ctx).Create(c).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: character %q", ErrDuplicate, c.Name)
	}
	return err
}

// LoadCombatState returns the character with id.
func (s *Gorm) LoadCombatState(ctx context.Context, id int64) (*model.Character, error) {
	var c model.Character
	err := s.db.WithContext(ctx).First(&c, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: character %d", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CharacterExists reports whether the character row with id exists.
func (s *Gorm) CharacterExists(ctx context.Context, id int64) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&model.Character{}).Where("id = ?", id).Count(&n).Error; err != nil {
		return false, err
	}
	return n > 0, nil
}

// SaveCombatState writes every column of c.
func (s *Gorm) SaveCombatState(ctx context.Context, c *model.Character) error {
	return s.db.WithContext(ctx).Save(c).Error
}

// DeleteCharacter removes the character row.
func (s *Gorm) DeleteCharacter(ctx context.Context, id int64) error {
	res := s.db.WithContext(ctx).Delete(&model.Character{}, id)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("%w: character %d", ErrNotFound, id)
	}
	return nil
}

// ---- definitions ----

// SaveDefinitions upserts catalog rows into the effect_definitions table.
func (s *Gorm) SaveDefinitions(ctx context.Context, defs []model.EffectDefinition) error {
	if len(defs) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&defs).Error
}
