package effect

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/kasuganosora/combatcore/model"
)

// memStore is an in-memory Store. Rows are copied in and out so callers never
// share pointers with the stored state.
type memStore struct {
	mu      sync.Mutex
	nextID  int64
	rows    map[int64]model.Effect
	failIDs map[int64]bool // SaveEffect/DeleteEffect fail for these ids
	saves   int
}

var errInjected = errors.New("injected failure")

func newMemStore() *memStore {
	return &memStore{rows: make(map[int64]model.Effect), failIDs: make(map[int64]bool)}
}

func (s *memStore) LoadActiveEffects(_ context.Context, charID int64) ([]*model.Effect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Effect
	for _, r := range s.rows {
		if r.Active && r.CharID == charID {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) LoadAllActiveEffects(_ context.Context) ([]*model.Effect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Effect
	for _, r := range s.rows {
		if r.Active {
			r := r
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *memStore) LoadEffect(_ context.Context, id int64) (*model.Effect, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rows[id]
	if !ok || !r.Active {
		return nil, nil
	}
	return &r, nil
}

func (s *memStore) SaveEffect(_ context.Context, e *model.Effect) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[e.ID] {
		return errInjected
	}
	if e.ID == 0 {
		s.nextID++
		e.ID = s.nextID
	}
	e.Active = true
	s.rows[e.ID] = *e
	s.saves++
	return nil
}

func (s *memStore) DeleteEffect(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failIDs[id] {
		return errInjected
	}
	if r, ok := s.rows[id]; ok {
		r.Active = false
		s.rows[id] = r
	}
	return nil
}

// put inserts a raw row, bypassing engine rules.
func (s *memStore) put(e model.Effect) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	e.ID = s.nextID
	e.Active = true
	s.rows[e.ID] = e
	return e.ID
}

func (s *memStore) activeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, r := range s.rows {
		if r.Active {
			n++
		}
	}
	return n
}

// failingStore fails every call.
type failingStore struct{}

func (failingStore) LoadActiveEffects(context.Context, int64) ([]*model.Effect, error) {
	return nil, errInjected
}
func (failingStore) LoadAllActiveEffects(context.Context) ([]*model.Effect, error) {
	return nil, errInjected
}
func (failingStore) LoadEffect(context.Context, int64) (*model.Effect, error) { return nil, errInjected }
func (failingStore) SaveEffect(context.Context, *model.Effect) error         { return errInjected }
func (failingStore) DeleteEffect(context.Context, int64) error               { return errInjected }

// clock is a manually advanced time source.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *clock { return &clock{now: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) Notify(_ context.Context, ev Event) error {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	return nil
}

func (r *recorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Kind
	}
	return out
}
