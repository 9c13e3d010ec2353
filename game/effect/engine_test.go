package effect

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/kasuganosora/combatcore/game/catalog"
	"github.com/kasuganosora/combatcore/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	defMight    = 1 // stackable buff, max 5, 60s, +10% atk
	defFrailty  = 2 // stackable debuff, max 3, 300s, decays every 20s
	defBlessing = 3 // non-stackable, non-dispellable, permanent
	defFocus    = 4 // stackable buff, max 5, 60s, +5% atk
	defSigil    = 5 // non-stackable, 30s, decays every 10s, max 3
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.New([]model.EffectDefinition{
		{ID: defMight, Name: "Might", Type: model.EffectBuff, MaxStacks: 5, DefaultDurationS: 60, CanStack: true, CanDispel: true, AttackMod: 10},
		{ID: defFrailty, Name: "Frailty", Type: model.EffectDebuff, MaxStacks: 3, DefaultDurationS: 300, DecayIntervalS: 20, CanStack: true, CanDispel: true, DefenseMod: -5},
		{ID: defBlessing, Name: "Blessing", Type: model.EffectBuff, MaxStacks: 1, DefaultDurationS: -1, HealthMod: 20, ManaMod: 10},
		{ID: defFocus, Name: "Focus", Type: model.EffectBuff, MaxStacks: 5, DefaultDurationS: 60, CanStack: true, CanDispel: true, AttackMod: 5, SpeedMod: 2},
		{ID: defSigil, Name: "Sigil", Type: model.EffectAbnormal, MaxStacks: 3, DefaultDurationS: 30, DecayIntervalS: 10, CanDispel: true},
	})
	require.NoError(t, err)
	return c
}

type fixture struct {
	engine *Engine
	store  *memStore
	clock  *clock
	events *recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{store: newMemStore(), clock: newClock(), events: &recorder{}}
	f.engine = NewEngine(testCatalog(t), f.store, zap.NewNop(),
		WithClock(f.clock.Now), WithNotifier(f.events))
	return f
}

func durp(v int) *int { return &v }

var ctx = context.Background()

// ---- Apply ----

func TestApply_UnknownEffect(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, 999, ApplyParams{})
	assert.True(t, errors.Is(err, catalog.ErrUnknownEffect))
	assert.Equal(t, 0, f.store.activeCount())
}

func TestApply_InvalidArguments(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: -1})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	_, err = f.engine.Apply(ctx, 1, defMight, ApplyParams{Level: -2})
	assert.True(t, errors.Is(err, ErrInvalidArgument))
	assert.Equal(t, 0, f.store.activeCount())
}

type knownChars map[int64]bool

func (k knownChars) CharacterExists(_ context.Context, id int64) (bool, error) { return k[id], nil }

func TestApply_CharacterCheck(t *testing.T) {
	store := newMemStore()
	e := NewEngine(testCatalog(t), store, zap.NewNop(), WithCharacterCheck(knownChars{1: true}))

	_, err := e.Apply(ctx, 1, defMight, ApplyParams{})
	require.NoError(t, err)

	_, err = e.Apply(ctx, 2, defMight, ApplyParams{})
	assert.ErrorIs(t, err, ErrCharacterNotFound)
	assert.Equal(t, 1, store.activeCount())
}

func TestApply_CreatesWithDefaults(t *testing.T) {
	f := newFixture(t)
	now := f.clock.Now()

	inst, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	require.NoError(t, err)
	assert.NotZero(t, inst.ID)
	assert.Equal(t, 1, inst.Level)
	assert.Equal(t, 1, inst.Stacks)
	assert.Equal(t, model.EffectBuff, inst.Type)
	assert.Equal(t, 60, inst.DurationS)
	require.NotNil(t, inst.EndAt)
	assert.Equal(t, now.Add(60*time.Second), *inst.EndAt)
	assert.Nil(t, inst.NextDecayAt)
	assert.Equal(t, []EventKind{EventApplied}, f.events.kinds())
}

func TestApply_CreateCapsStacks(t *testing.T) {
	f := newFixture(t)
	inst, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: 9})
	require.NoError(t, err)
	assert.Equal(t, 5, inst.Stacks)
}

func TestApply_CreateSetsDecayTimer(t *testing.T) {
	f := newFixture(t)
	inst, err := f.engine.Apply(ctx, 1, defFrailty, ApplyParams{})
	require.NoError(t, err)
	require.NotNil(t, inst.NextDecayAt)
	assert.Equal(t, f.clock.Now().Add(20*time.Second), *inst.NextDecayAt)
	assert.Equal(t, 20, inst.DecayIntervalS)
}

func TestApply_PermanentOverride(t *testing.T) {
	f := newFixture(t)
	inst, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{DurationS: durp(0)})
	require.NoError(t, err)
	assert.Nil(t, inst.EndAt)
	assert.Equal(t, model.PermanentDuration, inst.DurationS)
	assert.True(t, inst.IsPermanent())
}

func TestApply_PermanentDefinition(t *testing.T) {
	f := newFixture(t)
	inst, err := f.engine.Apply(ctx, 1, defBlessing, ApplyParams{})
	require.NoError(t, err)
	assert.Nil(t, inst.EndAt)
	assert.Equal(t, -1, inst.DurationS)
}

// Scenario B: stack 4 @ level 1, then 3 @ level 2 → capped at 5, level 2.
func TestApply_StackCapsAndKeepsHighestLevel(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: 4, Level: 1})
	require.NoError(t, err)
	inst, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: 3, Level: 2})
	require.NoError(t, err)
	assert.Equal(t, 5, inst.Stacks)
	assert.Equal(t, 2, inst.Level)

	inst, err = f.engine.Apply(ctx, 1, defMight, ApplyParams{Level: 1})
	require.NoError(t, err)
	assert.Equal(t, 2, inst.Level, "level never downgrades")
	assert.Equal(t, 1, f.store.activeCount())
	assert.Equal(t, []EventKind{EventApplied, EventStacked, EventStacked}, f.events.kinds())
}

func TestApply_HugeStackDeltaSaturates(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	require.NoError(t, err)

	inst, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: math.MaxInt})
	require.NoError(t, err)
	assert.Equal(t, 5, inst.Stacks)

	mods, err := f.engine.AggregateModifiers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 50.0, mods.Attack)
}

func TestApply_HugeStackDeltaOnCreateAndOverwrite(t *testing.T) {
	f := newFixture(t)
	inst, err := f.engine.Apply(ctx, 1, defSigil, ApplyParams{Stacks: math.MaxInt})
	require.NoError(t, err)
	assert.Equal(t, 3, inst.Stacks)

	inst, err = f.engine.Apply(ctx, 1, defSigil, ApplyParams{Stacks: math.MaxInt})
	require.NoError(t, err)
	assert.Equal(t, 3, inst.Stacks)
}

func TestAddStacks(t *testing.T) {
	assert.Equal(t, 3, addStacks(1, 2, 5))
	assert.Equal(t, 5, addStacks(4, 3, 5))
	assert.Equal(t, 5, addStacks(5, math.MaxInt, 5))
}

func TestApply_StackMonotonic(t *testing.T) {
	f := newFixture(t)
	for n := 1; n <= 8; n++ {
		inst, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, inst.Stacks, min(n, 5))
		assert.LessOrEqual(t, inst.Stacks, 5)
	}
}

func TestApply_StackExtendsButNeverShortens(t *testing.T) {
	f := newFixture(t)
	first, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{DurationS: durp(100)})
	require.NoError(t, err)
	end := *first.EndAt

	f.clock.Advance(10 * time.Second)
	inst, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{DurationS: durp(30)})
	require.NoError(t, err)
	assert.Equal(t, end, *inst.EndAt, "shorter application keeps the later end")
	assert.Equal(t, 100, inst.DurationS)

	inst, err = f.engine.Apply(ctx, 1, defMight, ApplyParams{DurationS: durp(200)})
	require.NoError(t, err)
	assert.Equal(t, f.clock.Now().Add(200*time.Second), *inst.EndAt)
	assert.Equal(t, 200, inst.DurationS)
}

func TestApply_StackWithPermanentDurationClearsEnd(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	require.NoError(t, err)
	inst, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{DurationS: durp(-1)})
	require.NoError(t, err)
	assert.Nil(t, inst.EndAt)
	assert.Equal(t, -1, inst.DurationS)

	// A timed application never shortens a permanent effect.
	inst, err = f.engine.Apply(ctx, 1, defMight, ApplyParams{DurationS: durp(10)})
	require.NoError(t, err)
	assert.Nil(t, inst.EndAt)
}

func TestApply_StackKeepsDecayTimer(t *testing.T) {
	f := newFixture(t)
	first, err := f.engine.Apply(ctx, 1, defFrailty, ApplyParams{})
	require.NoError(t, err)
	next := *first.NextDecayAt

	f.clock.Advance(5 * time.Second)
	inst, err := f.engine.Apply(ctx, 1, defFrailty, ApplyParams{})
	require.NoError(t, err)
	assert.Equal(t, next, *inst.NextDecayAt)
	assert.Equal(t, 2, inst.Stacks)
}

func TestApply_NonStackableOverwrites(t *testing.T) {
	f := newFixture(t)
	first, err := f.engine.Apply(ctx, 1, defSigil, ApplyParams{Level: 3, Stacks: 2})
	require.NoError(t, err)

	f.clock.Advance(15 * time.Second)
	inst, err := f.engine.Apply(ctx, 1, defSigil, ApplyParams{Level: 1, Stacks: 1})
	require.NoError(t, err)
	assert.Equal(t, first.ID, inst.ID, "row is overwritten in place")
	assert.Equal(t, 1, inst.Level, "level is reset, not maxed")
	assert.Equal(t, 1, inst.Stacks)
	assert.Equal(t, f.clock.Now(), inst.StartAt)
	assert.Equal(t, f.clock.Now().Add(30*time.Second), *inst.EndAt)
	assert.Equal(t, f.clock.Now().Add(10*time.Second), *inst.NextDecayAt)
	assert.Equal(t, 1, f.store.activeCount())
	assert.Equal(t, []EventKind{EventApplied, EventReapplied}, f.events.kinds())
}

func TestApply_NonStackableOverwriteCapsStacks(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defSigil, ApplyParams{})
	require.NoError(t, err)
	inst, err := f.engine.Apply(ctx, 1, defSigil, ApplyParams{Stacks: 10})
	require.NoError(t, err)
	assert.Equal(t, 3, inst.Stacks)
}

func TestApply_SeparateCharacters(t *testing.T) {
	f := newFixture(t)
	a, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	require.NoError(t, err)
	b, err := f.engine.Apply(ctx, 2, defMight, ApplyParams{})
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, 1, b.Stacks)
}

func TestApply_PersistenceFailure(t *testing.T) {
	e := NewEngine(testCatalog(t), failingStore{}, zap.NewNop())
	_, err := e.Apply(ctx, 1, defMight, ApplyParams{})
	assert.True(t, errors.Is(err, ErrPersistence))
	assert.True(t, errors.Is(err, errInjected))
}

// ---- Remove ----

func TestRemove_NotFound(t *testing.T) {
	f := newFixture(t)
	out, err := f.engine.Remove(ctx, 1, defMight, 0)
	require.NoError(t, err)
	assert.Equal(t, RemoveNotFound, out)
	assert.False(t, out.OK())
}

func TestRemove_RoundTrip(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: 3})
	require.NoError(t, err)

	out, err := f.engine.Remove(ctx, 1, defMight, 0)
	require.NoError(t, err)
	assert.Equal(t, RemoveDeleted, out)
	assert.True(t, out.OK())
	assert.Equal(t, 0, f.store.activeCount())
	list, _ := f.engine.List(ctx, 1)
	assert.Empty(t, list)
}

func TestRemove_PartialStacks(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: 4})
	require.NoError(t, err)

	out, err := f.engine.Remove(ctx, 1, defMight, 3)
	require.NoError(t, err)
	assert.Equal(t, RemoveDecremented, out)
	list, _ := f.engine.List(ctx, 1)
	require.Len(t, list, 1)
	assert.Equal(t, 1, list[0].Stacks)
}

func TestRemove_StacksAtOrAboveCountDeletes(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: 2})
	require.NoError(t, err)

	out, err := f.engine.Remove(ctx, 1, defMight, 2)
	require.NoError(t, err)
	assert.Equal(t, RemoveDeleted, out)
	assert.Equal(t, 0, f.store.activeCount())
}

func TestRemove_NotDispellable(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defBlessing, ApplyParams{})
	require.NoError(t, err)

	out, err := f.engine.Remove(ctx, 1, defBlessing, 0)
	require.NoError(t, err)
	assert.Equal(t, RemoveNotDispellable, out)
	assert.Equal(t, 1, f.store.activeCount())
}

func TestRemove_NegativeStacks(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Remove(ctx, 1, defMight, -1)
	assert.True(t, errors.Is(err, ErrInvalidArgument))
}

func TestRemove_ThenApplyCreatesNewInstance(t *testing.T) {
	f := newFixture(t)
	first, _ := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: 3, Level: 4})
	_, err := f.engine.Remove(ctx, 1, defMight, 0)
	require.NoError(t, err)

	second, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 1, second.Stacks)
	assert.Equal(t, 1, second.Level)
}

// ---- RemoveByType / Clear ----

func TestRemoveByType_SkipsNonDispellable(t *testing.T) {
	f := newFixture(t)
	_, _ = f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 1, defFocus, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 1, defBlessing, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 1, defFrailty, ApplyParams{})

	n, err := f.engine.RemoveByType(ctx, 1, model.EffectBuff)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	list, _ := f.engine.List(ctx, 1)
	require.Len(t, list, 2)
	ids := []int{list[0].DefinitionID, list[1].DefinitionID}
	assert.ElementsMatch(t, []int{defBlessing, defFrailty}, ids)
}

func TestClear_RemovesEverything(t *testing.T) {
	f := newFixture(t)
	_, _ = f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 1, defBlessing, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 2, defMight, ApplyParams{})

	n, err := f.engine.Clear(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.store.activeCount())
}

// ---- AggregateModifiers ----

// Scenario E: (+10% × 3 stacks × level 2) + (+5% × 1 × 1) = 65.
func TestAggregateModifiers_LinearSum(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defMight, ApplyParams{Stacks: 3, Level: 2})
	require.NoError(t, err)
	_, err = f.engine.Apply(ctx, 1, defFocus, ApplyParams{})
	require.NoError(t, err)

	m, err := f.engine.AggregateModifiers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 65.0, m.Attack)
	assert.Equal(t, 2.0, m.Speed)
	assert.Zero(t, m.Defense)
}

func TestAggregateModifiers_SkipsUnknownDefinitions(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.Effect{CharID: 1, DefinitionID: 777, Level: 1, Stacks: 3, DurationS: -1})
	_, err := f.engine.Apply(ctx, 1, defBlessing, ApplyParams{})
	require.NoError(t, err)

	m, err := f.engine.AggregateModifiers(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 20.0, m.Health)
	assert.Equal(t, 10.0, m.Mana)
}

func TestAggregateModifiers_Empty(t *testing.T) {
	f := newFixture(t)
	m, err := f.engine.AggregateModifiers(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, Modifiers{}, m)
}

// ---- Sweep ----

func TestSweep_ExpiresTimedEffects(t *testing.T) {
	f := newFixture(t)
	_, _ = f.engine.Apply(ctx, 1, defMight, ApplyParams{})     // 60s
	_, _ = f.engine.Apply(ctx, 1, defBlessing, ApplyParams{}) // permanent

	f.clock.Advance(60 * time.Second)
	n, err := f.engine.SweepAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n, "end time equal to now is not expired")

	f.clock.Advance(time.Second)
	n, err = f.engine.SweepAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, _ := f.engine.List(ctx, 1)
	require.Len(t, list, 1)
	assert.Equal(t, defBlessing, list[0].DefinitionID)
	assert.Contains(t, f.events.kinds(), EventExpired)
}

// Scenario C: decay interval 20s from 3 stacks.
func TestSweep_DecaysOneStackPerInterval(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.Apply(ctx, 1, defFrailty, ApplyParams{Stacks: 3})
	require.NoError(t, err)

	f.clock.Advance(20 * time.Second)
	n, err := f.engine.SweepCharacter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, _ := f.engine.List(ctx, 1)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Stacks)
	assert.Equal(t, f.clock.Now().Add(20*time.Second), *list[0].NextDecayAt)

	f.clock.Advance(20 * time.Second)
	_, err = f.engine.SweepCharacter(ctx, 1)
	require.NoError(t, err)
	f.clock.Advance(20 * time.Second)
	n, err = f.engine.SweepCharacter(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, _ = f.engine.List(ctx, 1)
	assert.Empty(t, list, "three elapsed decays from 3 stacks remove the instance")
}

func TestSweep_Idempotent(t *testing.T) {
	f := newFixture(t)
	_, _ = f.engine.Apply(ctx, 1, defFrailty, ApplyParams{Stacks: 3})
	_, _ = f.engine.Apply(ctx, 2, defMight, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 3, defSigil, ApplyParams{})

	f.clock.Advance(61 * time.Second)
	first, err := f.engine.SweepAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, first)

	second, err := f.engine.SweepAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, second)
}

func TestSweep_NothingDue(t *testing.T) {
	f := newFixture(t)
	_, _ = f.engine.Apply(ctx, 1, defFrailty, ApplyParams{})
	n, err := f.engine.SweepAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweep_RemovesZeroStackRows(t *testing.T) {
	f := newFixture(t)
	f.store.put(model.Effect{CharID: 1, DefinitionID: defMight, Level: 1, Stacks: 0, DurationS: -1})

	n, err := f.engine.SweepAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, f.store.activeCount())
}

func TestSweep_ContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	bad, _ := f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 2, defMight, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 3, defMight, ApplyParams{})
	f.store.failIDs[bad.ID] = true

	f.clock.Advance(2 * time.Minute)
	n, err := f.engine.SweepAll(ctx, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 1, f.store.activeCount())
}

func TestSweep_CancelledBetweenInstances(t *testing.T) {
	f := newFixture(t)
	_, _ = f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	_, _ = f.engine.Apply(ctx, 2, defMight, ApplyParams{})
	f.clock.Advance(2 * time.Minute)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	n, err := f.engine.SweepAll(cctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, n)
	assert.Equal(t, 2, f.store.activeCount())
}

func TestSweep_SkipsInstanceRemovedAfterSnapshot(t *testing.T) {
	f := newFixture(t)
	_, _ = f.engine.Apply(ctx, 1, defMight, ApplyParams{})
	f.clock.Advance(2 * time.Minute)

	snapshot, _ := f.store.LoadAllActiveEffects(ctx)
	_, err := f.engine.Remove(ctx, 1, defMight, 0)
	require.NoError(t, err)

	n, err := f.engine.sweep(ctx, snapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestSweep_DoesNotOverwriteConcurrentStack(t *testing.T) {
	f := newFixture(t)
	_, _ = f.engine.Apply(ctx, 1, defFrailty, ApplyParams{Stacks: 1})
	f.clock.Advance(20 * time.Second)

	// Snapshot taken before a concurrent stack lands.
	snapshot, _ := f.store.LoadAllActiveEffects(ctx)
	_, err := f.engine.Apply(ctx, 1, defFrailty, ApplyParams{Stacks: 2})
	require.NoError(t, err)

	n, err := f.engine.sweep(ctx, snapshot, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	list, _ := f.engine.List(ctx, 1)
	require.Len(t, list, 1)
	assert.Equal(t, 2, list[0].Stacks, "decay applies to the fresh row (3 → 2), not the stale one (1 → 0)")
}

func TestSweep_ConcurrentWithApply(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	for c := int64(1); c <= 10; c++ {
		wg.Add(1)
		go func(charID int64) {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				_, err := f.engine.Apply(ctx, charID, defMight, ApplyParams{})
				assert.NoError(t, err)
			}
		}(c)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			_, err := f.engine.SweepAll(ctx, nil)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	all, _ := f.store.LoadAllActiveEffects(ctx)
	assert.Len(t, all, 10)
	for _, inst := range all {
		assert.Equal(t, 5, inst.Stacks)
	}
}

func TestSweep_LoadFailure(t *testing.T) {
	e := NewEngine(testCatalog(t), failingStore{}, zap.NewNop())
	_, err := e.SweepAll(ctx, nil)
	assert.True(t, errors.Is(err, ErrPersistence))
}
