// Package effect runs the lifecycle of timed effects on characters: apply,
// stack, remove, decay and expiry, plus the modifier aggregate they produce.
//
// All operations on one character are serialized through a charlock.Set that
// may be shared with other per-character services. Time is read from an
// injectable clock; nothing here schedules timers. Periodic work happens only
// when Sweep is called.
package effect

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/combatcore/game/catalog"
	"github.com/kasuganosora/combatcore/game/charlock"
	"github.com/kasuganosora/combatcore/model"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var (
	// ErrPersistence wraps every error returned by the Store.
	ErrPersistence = errors.New("effect: persistence failure")
	// ErrInvalidArgument is returned for negative levels, stacks or durations.
	ErrInvalidArgument = errors.New("effect: invalid argument")
	// ErrCharacterNotFound is returned by Apply when a CharacterChecker is
	// configured and the character does not exist.
	ErrCharacterNotFound = errors.New("effect: character not found")
)

func persistErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrPersistence, op, err)
}

// RemoveOutcome is the reason code of a Remove call.
type RemoveOutcome int

const (
	RemoveNotFound RemoveOutcome = iota
	RemoveNotDispellable
	RemoveDecremented
	RemoveDeleted
)

// OK reports whether the call changed the effect.
func (o RemoveOutcome) OK() bool { return o == RemoveDecremented || o == RemoveDeleted }

func (o RemoveOutcome) String() string {
	switch o {
	case RemoveNotFound:
		return "not_found"
	case RemoveNotDispellable:
		return "not_dispellable"
	case RemoveDecremented:
		return "decremented"
	case RemoveDeleted:
		return "deleted"
	}
	return "unknown"
}

// ApplyParams are the optional inputs of Apply. Zero values select defaults:
// level 1, one stack, the definition's default duration.
type ApplyParams struct {
	Level int `json:"level"`
	// DurationS overrides the definition duration in seconds; <= 0 is permanent.
	DurationS *int `json:"duration_s,omitempty"`
	Stacks    int  `json:"stacks"`
}

// Engine applies and maintains effect instances.
type Engine struct {
	catalog  *catalog.Catalog
	store    Store
	locks    *charlock.Set
	notifier Notifier
	chars    CharacterChecker
	now      func() time.Time
	logger   *zap.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithLocks shares a per-character lock set with other services.
func WithLocks(l *charlock.Set) Option { return func(e *Engine) { e.locks = l } }

// WithNotifier publishes lifecycle events to n.
func WithNotifier(n Notifier) Option { return func(e *Engine) { e.notifier = n } }

// WithCharacterCheck makes Apply verify, under the character lock, that the
// character exists.
func WithCharacterCheck(c CharacterChecker) Option { return func(e *Engine) { e.chars = c } }

// NewEngine creates an Engine over an immutable catalog and a store.
func NewEngine(cat *catalog.Catalog, store Store, logger *zap.Logger, opts ...Option) *Engine {
	e := &Engine{
		catalog:  cat,
		store:    store,
		locks:    &charlock.Set{},
		notifier: nopNotifier{},
		now:      time.Now,
		logger:   logger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Catalog returns the engine's catalog.
func (e *Engine) Catalog() *catalog.Catalog { return e.catalog }

// Apply applies definition defID to charID and returns the resulting instance.
//
// A new instance starts with min(stacks, MaxStacks). On an existing instance
// a stackable definition adds stacks up to MaxStacks, keeps the higher level
// and only ever extends the end time; a non-stackable one is overwritten and
// restarted from the new application.
func (e *Engine) Apply(ctx context.Context, charID int64, defID int, p ApplyParams) (*model.Effect, error) {
	def, err := e.catalog.Lookup(defID)
	if err != nil {
		return nil, err
	}
	if p.Level < 0 || p.Stacks < 0 {
		return nil, fmt.Errorf("%w: level=%d stacks=%d", ErrInvalidArgument, p.Level, p.Stacks)
	}
	if p.Level == 0 {
		p.Level = 1
	}
	if p.Stacks == 0 {
		p.Stacks = 1
	}
	p.Stacks = min(p.Stacks, def.MaxStacks)
	duration := def.DefaultDurationS
	if p.DurationS != nil {
		duration = *p.DurationS
	}

	unlock := e.locks.Lock(charID)
	defer unlock()

	if e.chars != nil {
		ok, err := e.chars.CharacterExists(ctx, charID)
		if err != nil {
			return nil, persistErr("check character", err)
		}
		if !ok {
			return nil, fmt.Errorf("%w: %d", ErrCharacterNotFound, charID)
		}
	}

	existing, err := e.find(ctx, charID, defID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	var kind EventKind
	inst := existing
	switch {
	case existing == nil:
		kind = EventApplied
		inst = &model.Effect{
			CharID:       charID,
			DefinitionID: defID,
			Type:         def.Type,
			Level:        p.Level,
			Stacks:       p.Stacks,
			StartAt:      now,
			Active:       true,
		}
		setDuration(inst, now, duration)
		setDecay(inst, now, def.DecayIntervalS)

	case def.CanStack:
		kind = EventStacked
		inst.Stacks = addStacks(inst.Stacks, p.Stacks, def.MaxStacks)
		inst.Level = max(inst.Level, p.Level)
		if duration <= 0 {
			setDuration(inst, now, duration)
		} else if inst.EndAt != nil {
			if end := now.Add(time.Duration(duration) * time.Second); end.After(*inst.EndAt) {
				inst.EndAt = &end
				inst.DurationS = duration
			}
		}

	default:
		kind = EventReapplied
		inst.Type = def.Type
		inst.Level = p.Level
		inst.Stacks = p.Stacks
		inst.StartAt = now
		setDuration(inst, now, duration)
		setDecay(inst, now, def.DecayIntervalS)
	}

	if err := e.store.SaveEffect(ctx, inst); err != nil {
		return nil, persistErr("save effect", err)
	}
	e.notify(ctx, kind, inst, now)
	return inst, nil
}

// addStacks returns cur+delta capped at limit without overflowing.
func addStacks(cur, delta, limit int) int {
	if delta >= limit-cur {
		return limit
	}
	return cur + delta
}

func setDuration(inst *model.Effect, now time.Time, seconds int) {
	if seconds > 0 {
		end := now.Add(time.Duration(seconds) * time.Second)
		inst.EndAt = &end
		inst.DurationS = seconds
		return
	}
	inst.EndAt = nil
	inst.DurationS = model.PermanentDuration
}

func setDecay(inst *model.Effect, now time.Time, intervalS int) {
	inst.DecayIntervalS = intervalS
	if intervalS > 0 {
		next := now.Add(time.Duration(intervalS) * time.Second)
		inst.NextDecayAt = &next
		return
	}
	inst.NextDecayAt = nil
}

// Remove dispels stacks of defID from charID. stacks == 0, or stacks at or
// above the current count, removes the instance entirely. Definitions that
// cannot be dispelled are left untouched.
func (e *Engine) Remove(ctx context.Context, charID int64, defID int, stacks int) (RemoveOutcome, error) {
	if stacks < 0 {
		return RemoveNotFound, fmt.Errorf("%w: stacks=%d", ErrInvalidArgument, stacks)
	}

	unlock := e.locks.Lock(charID)
	defer unlock()

	inst, err := e.find(ctx, charID, defID)
	if err != nil {
		return RemoveNotFound, err
	}
	if inst == nil {
		return RemoveNotFound, nil
	}
	if def, err := e.catalog.Lookup(defID); err == nil && !def.CanDispel {
		e.logger.Warn("attempted to remove non-dispellable effect",
			zap.Int64("char_id", charID), zap.Int("definition_id", defID))
		return RemoveNotDispellable, nil
	}

	now := e.now()
	if stacks > 0 && stacks < inst.Stacks {
		inst.Stacks -= stacks
		if err := e.store.SaveEffect(ctx, inst); err != nil {
			return RemoveNotFound, persistErr("save effect", err)
		}
		e.notify(ctx, EventRemoved, inst, now)
		return RemoveDecremented, nil
	}
	if err := e.store.DeleteEffect(ctx, inst.ID); err != nil {
		return RemoveNotFound, persistErr("delete effect", err)
	}
	inst.Stacks = 0
	e.notify(ctx, EventRemoved, inst, now)
	return RemoveDeleted, nil
}

// RemoveByType dispels every dispellable effect of type t on charID and
// returns how many were removed.
func (e *Engine) RemoveByType(ctx context.Context, charID int64, t model.EffectType) (int, error) {
	unlock := e.locks.Lock(charID)
	defer unlock()

	effects, err := e.store.LoadActiveEffects(ctx, charID)
	if err != nil {
		return 0, persistErr("load effects", err)
	}
	now := e.now()
	removed := 0
	for _, inst := range effects {
		if inst.Type != t {
			continue
		}
		if def, err := e.catalog.Lookup(inst.DefinitionID); err == nil && !def.CanDispel {
			continue
		}
		if err := e.store.DeleteEffect(ctx, inst.ID); err != nil {
			return removed, persistErr("delete effect", err)
		}
		inst.Stacks = 0
		e.notify(ctx, EventRemoved, inst, now)
		removed++
	}
	return removed, nil
}

// Clear removes every effect of charID regardless of dispel rules.
func (e *Engine) Clear(ctx context.Context, charID int64) (int, error) {
	unlock := e.locks.Lock(charID)
	defer unlock()
	return e.ClearHeld(ctx, charID)
}

// ClearHeld is Clear for callers that already hold charID's lock in the
// shared lock set. Character deletion uses it to clear and delete in one
// critical section.
func (e *Engine) ClearHeld(ctx context.Context, charID int64) (int, error) {
	effects, err := e.store.LoadActiveEffects(ctx, charID)
	if err != nil {
		return 0, persistErr("load effects", err)
	}
	for i, inst := range effects {
		if err := e.store.DeleteEffect(ctx, inst.ID); err != nil {
			return i, persistErr("delete effect", err)
		}
	}
	return len(effects), nil
}

// List returns the active effects of charID.
func (e *Engine) List(ctx context.Context, charID int64) ([]*model.Effect, error) {
	effects, err := e.store.LoadActiveEffects(ctx, charID)
	if err != nil {
		return nil, persistErr("load effects", err)
	}
	return effects, nil
}

// AggregateModifiers sums the modifiers of charID's active effects.
func (e *Engine) AggregateModifiers(ctx context.Context, charID int64) (Modifiers, error) {
	effects, err := e.store.LoadActiveEffects(ctx, charID)
	if err != nil {
		return Modifiers{}, persistErr("load effects", err)
	}
	return Aggregate(e.catalog, effects), nil
}

// SweepCharacter expires and decays charID's effects. See SweepAll.
func (e *Engine) SweepCharacter(ctx context.Context, charID int64) (int, error) {
	effects, err := e.store.LoadActiveEffects(ctx, charID)
	if err != nil {
		return 0, persistErr("load effects", err)
	}
	return e.sweep(ctx, effects, nil)
}

// SweepAll expires and decays every active effect and returns the number of
// instances mutated or removed. When limiter is non-nil each instance waits
// for a token first. A failure on one instance is logged and skipped.
// Cancellation is honoured between instances, never in the middle of one.
func (e *Engine) SweepAll(ctx context.Context, limiter *rate.Limiter) (int, error) {
	effects, err := e.store.LoadAllActiveEffects(ctx)
	if err != nil {
		return 0, persistErr("load all effects", err)
	}
	return e.sweep(ctx, effects, limiter)
}

func (e *Engine) sweep(ctx context.Context, snapshot []*model.Effect, limiter *rate.Limiter) (int, error) {
	processed := 0
	for _, snap := range snapshot {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return processed, err
			}
		}
		changed, err := e.sweepOne(ctx, snap.CharID, snap.ID)
		if err != nil {
			e.logger.Error("effect sweep failed",
				zap.Int64("char_id", snap.CharID),
				zap.Int64("effect_id", snap.ID),
				zap.Int("definition_id", snap.DefinitionID),
				zap.Error(err))
			continue
		}
		if changed {
			processed++
		}
	}
	return processed, nil
}

// sweepOne re-reads a single instance under its character's lock so that a
// concurrent Apply or Remove is never overwritten with a stale snapshot.
func (e *Engine) sweepOne(ctx context.Context, charID, effectID int64) (bool, error) {
	unlock := e.locks.Lock(charID)
	defer unlock()

	inst, err := e.store.LoadEffect(ctx, effectID)
	if err != nil {
		return false, persistErr("load effect", err)
	}
	if inst == nil {
		return false, nil
	}
	now := e.now()

	switch {
	case inst.IsExpired(now):
		if err := e.store.DeleteEffect(ctx, inst.ID); err != nil {
			return false, persistErr("delete effect", err)
		}
		inst.Stacks = 0
		e.notify(ctx, EventExpired, inst, now)
		return true, nil

	case inst.ShouldDecay(now):
		inst.Stacks--
		if inst.Stacks <= 0 {
			if err := e.store.DeleteEffect(ctx, inst.ID); err != nil {
				return false, persistErr("delete effect", err)
			}
			inst.Stacks = 0
			e.notify(ctx, EventExpired, inst, now)
			return true, nil
		}
		next := now.Add(inst.DecayInterval())
		inst.NextDecayAt = &next
		if err := e.store.SaveEffect(ctx, inst); err != nil {
			return false, persistErr("save effect", err)
		}
		e.notify(ctx, EventDecayed, inst, now)
		return true, nil

	case inst.Stacks <= 0:
		if err := e.store.DeleteEffect(ctx, inst.ID); err != nil {
			return false, persistErr("delete effect", err)
		}
		return true, nil
	}
	return false, nil
}

func (e *Engine) find(ctx context.Context, charID int64, defID int) (*model.Effect, error) {
	effects, err := e.store.LoadActiveEffects(ctx, charID)
	if err != nil {
		return nil, persistErr("load effects", err)
	}
	for _, inst := range effects {
		if inst.DefinitionID == defID {
			return inst, nil
		}
	}
	return nil, nil
}

func (e *Engine) notify(ctx context.Context, kind EventKind, inst *model.Effect, at time.Time) {
	ev := Event{
		Kind:         kind,
		CharID:       inst.CharID,
		EffectID:     inst.ID,
		DefinitionID: inst.DefinitionID,
		Level:        inst.Level,
		Stacks:       inst.Stacks,
		At:           at,
	}
	if err := e.notifier.Notify(ctx, ev); err != nil {
		e.logger.Warn("effect event publish failed",
			zap.String("kind", string(kind)),
			zap.Int64("char_id", inst.CharID),
			zap.Error(err))
	}
}
