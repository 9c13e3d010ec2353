// Package combat serializes combat-state mutations per character. Every
// operation locks the character, loads its row, applies one model mutator
// and saves the result.
package combat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/kasuganosora/combatcore/game/charlock"
	"github.com/kasuganosora/combatcore/model"
	"github.com/kasuganosora/combatcore/store"
	"go.uber.org/zap"
)

var (
	// ErrCharacterNotFound is returned when the character row does not exist.
	ErrCharacterNotFound = errors.New("combat: character not found")
	// ErrInvalidAmount is returned for non-positive amounts.
	ErrInvalidAmount = errors.New("combat: amount must be positive")
	// ErrInvalidName is returned when creating a character without a name.
	ErrInvalidName = errors.New("combat: invalid character name")
	// ErrNameTaken is returned when another character already has the name.
	ErrNameTaken = errors.New("combat: character name already taken")
	// ErrPersistence wraps store failures other than a missing row.
	ErrPersistence = errors.New("combat: persistence failure")
)

// MaxNameLen bounds character names.
const MaxNameLen = 32

// Reason explains the outcome of a mutation.
type Reason string

const (
	ReasonOK             Reason = "ok"
	ReasonDead           Reason = "dead"
	ReasonNoop           Reason = "noop"
	ReasonInsufficientMP Reason = "insufficient_mp"
	ReasonAlreadyAlive   Reason = "already_alive"
)

// Result is the outcome of one mutation and the state after it.
type Result struct {
	Applied int              `json:"applied"`
	Reason  Reason           `json:"reason"`
	Level   int              `json:"level,omitempty"` // new level after a level-up
	State   *model.Character `json:"state"`
}

// StateStore persists combat state.
type StateStore interface {
	CreateCharacter(ctx context.Context, c *model.Character) error
	LoadCombatState(ctx context.Context, id int64) (*model.Character, error)
	SaveCombatState(ctx context.Context, c *model.Character) error
	DeleteCharacter(ctx context.Context, id int64) error
}

// EffectClearer removes every effect of a character whose lock the caller
// already holds.
type EffectClearer interface {
	ClearHeld(ctx context.Context, charID int64) (int, error)
}

// Service is the single writer of combat state.
type Service struct {
	store   StateStore
	locks   *charlock.Set
	effects EffectClearer
	logger  *zap.Logger
}

// NewService creates a Service. locks should be the set shared with the
// effect engine; effects may be nil.
func NewService(st StateStore, locks *charlock.Set, effects EffectClearer, logger *zap.Logger) *Service {
	if locks == nil {
		locks = &charlock.Set{}
	}
	return &Service{store: st, locks: locks, effects: effects, logger: logger}
}

func wrapStore(err error) error {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return fmt.Errorf("%w: %w", ErrCharacterNotFound, err)
	case errors.Is(err, store.ErrDuplicate):
		return fmt.Errorf("%w: %w", ErrNameTaken, err)
	}
	return fmt.Errorf("%w: %w", ErrPersistence, err)
}

// mutate runs fn on the locked, freshly loaded character and saves it when
// fn reports a change.
func (s *Service) mutate(ctx context.Context, id int64, fn func(c *model.Character) (Result, bool)) (Result, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	c, err := s.store.LoadCombatState(ctx, id)
	if err != nil {
		return Result{}, wrapStore(err)
	}
	res, changed := fn(c)
	if changed {
		if err := s.store.SaveCombatState(ctx, c); err != nil {
			return Result{}, wrapStore(err)
		}
	}
	res.State = c
	return res, nil
}

// Create inserts a new level 1 character with the starting values.
func (s *Service) Create(ctx context.Context, name string) (*model.Character, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > MaxNameLen {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	c := model.NewCharacter(name)
	if err := s.store.CreateCharacter(ctx, c); err != nil {
		return nil, wrapStore(err)
	}
	s.logger.Info("character created", zap.Int64("char_id", c.ID), zap.String("name", c.Name))
	return c, nil
}

// Get returns the current combat state of id.
func (s *Service) Get(ctx context.Context, id int64) (*model.Character, error) {
	c, err := s.store.LoadCombatState(ctx, id)
	if err != nil {
		return nil, wrapStore(err)
	}
	return c, nil
}

// Delete removes the character and every effect on it. Both happen under the
// character lock, so an effect applied concurrently either lands before the
// clear or sees the character gone.
func (s *Service) Delete(ctx context.Context, id int64) error {
	unlock := s.locks.Lock(id)
	defer unlock()
	if s.effects != nil {
		if _, err := s.effects.ClearHeld(ctx, id); err != nil {
			return err
		}
	}
	if err := s.store.DeleteCharacter(ctx, id); err != nil {
		return wrapStore(err)
	}
	s.logger.Info("character deleted", zap.Int64("char_id", id))
	return nil
}

// Damage subtracts HP. Dead characters take no damage.
func (s *Service) Damage(ctx context.Context, id int64, amount int) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	return s.mutate(ctx, id, func(c *model.Character) (Result, bool) {
		if !c.Alive {
			return Result{Reason: ReasonDead}, false
		}
		applied := c.TakeDamage(amount)
		if !c.Alive {
			s.logger.Debug("character died", zap.Int64("char_id", c.ID))
		}
		return Result{Applied: applied, Reason: ReasonOK}, true
	})
}

// Heal restores HP up to MaxHP. Dead characters cannot be healed.
func (s *Service) Heal(ctx context.Context, id int64, amount int) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	return s.mutate(ctx, id, func(c *model.Character) (Result, bool) {
		if !c.Alive {
			return Result{Reason: ReasonDead}, false
		}
		applied := c.Heal(amount)
		if applied == 0 {
			return Result{Reason: ReasonNoop}, false
		}
		return Result{Applied: applied, Reason: ReasonOK}, true
	})
}

// ConsumeMP spends MP. Nothing changes when MP is insufficient.
func (s *Service) ConsumeMP(ctx context.Context, id int64, cost int) (Result, error) {
	if cost <= 0 {
		return Result{}, ErrInvalidAmount
	}
	return s.mutate(ctx, id, func(c *model.Character) (Result, bool) {
		if !c.ConsumeMP(cost) {
			return Result{Reason: ReasonInsufficientMP}, false
		}
		return Result{Applied: cost, Reason: ReasonOK}, true
	})
}

// RestoreMP restores MP up to MaxMP.
func (s *Service) RestoreMP(ctx context.Context, id int64, amount int) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	return s.mutate(ctx, id, func(c *model.Character) (Result, bool) {
		applied := c.RestoreMP(amount)
		if applied == 0 {
			return Result{Reason: ReasonNoop}, false
		}
		return Result{Applied: applied, Reason: ReasonOK}, true
	})
}

// ReviveParams are the optional inputs of Revive.
type ReviveParams struct {
	Ratio *float64 `json:"ratio,omitempty"` // HP fraction, default model.DefaultReviveRatio
	X     *float64 `json:"x,omitempty"`     // relocate when both X and Y are set
	Y     *float64 `json:"y,omitempty"`
}

// Revive brings a dead character back to life.
func (s *Service) Revive(ctx context.Context, id int64, p ReviveParams) (Result, error) {
	ratio := model.DefaultReviveRatio
	if p.Ratio != nil {
		ratio = *p.Ratio
	}
	return s.mutate(ctx, id, func(c *model.Character) (Result, bool) {
		var ok bool
		if p.X != nil && p.Y != nil {
			ok = c.ReviveAt(ratio, *p.X, *p.Y)
		} else {
			ok = c.Revive(ratio)
		}
		if !ok {
			return Result{Reason: ReasonAlreadyAlive}, false
		}
		return Result{Applied: c.HP, Reason: ReasonOK}, true
	})
}

// UpdateStats replaces base maximums and attack/defense.
func (s *Service) UpdateStats(ctx context.Context, id int64, u model.StatUpdate) (Result, error) {
	return s.mutate(ctx, id, func(c *model.Character) (Result, bool) {
		c.UpdateStats(u)
		return Result{Reason: ReasonOK}, true
	})
}

// GainExperience adds experience and applies any level-ups.
func (s *Service) GainExperience(ctx context.Context, id int64, amount int64) (Result, error) {
	if amount <= 0 {
		return Result{}, ErrInvalidAmount
	}
	return s.mutate(ctx, id, func(c *model.Character) (Result, bool) {
		before := c.Exp
		level := c.GainExperience(amount)
		if level > 0 {
			s.logger.Info("character leveled up", zap.Int64("char_id", c.ID), zap.Int("level", level))
		}
		gained := c.Exp - before
		if gained == 0 {
			return Result{Reason: ReasonNoop}, false
		}
		return Result{Applied: int(gained), Reason: ReasonOK, Level: level}, true
	})
}

// Move updates the character's position and optionally its rotation.
func (s *Service) Move(ctx context.Context, id int64, x, y float64, rotation *float64) (Result, error) {
	return s.mutate(ctx, id, func(c *model.Character) (Result, bool) {
		c.UpdatePosition(x, y, rotation)
		return Result{Reason: ReasonOK}, true
	})
}

// InRange reports whether target lies within r of attacker.
func (s *Service) InRange(ctx context.Context, attackerID, targetID int64, r float64) (bool, float64, error) {
	a, err := s.Get(ctx, attackerID)
	if err != nil {
		return false, 0, err
	}
	t, err := s.Get(ctx, targetID)
	if err != nil {
		return false, 0, err
	}
	return a.InAttackRange(t.X, t.Y, r), a.DistanceTo(t), nil
}
