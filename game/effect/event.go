package effect

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/kasuganosora/combatcore/cache"
)

// EventKind names an effect lifecycle transition.
type EventKind string

const (
	EventApplied   EventKind = "applied"
	EventStacked   EventKind = "stacked"
	EventReapplied EventKind = "reapplied"
	EventDecayed   EventKind = "decayed"
	EventExpired   EventKind = "expired"
	EventRemoved   EventKind = "removed"
)

// Event describes one lifecycle transition of an effect instance.
type Event struct {
	Kind         EventKind `json:"kind"`
	CharID       int64     `json:"char_id"`
	EffectID     int64     `json:"effect_id"`
	DefinitionID int       `json:"definition_id"`
	Level        int       `json:"level"`
	Stacks       int       `json:"stacks"` // 0 once the instance is gone
	At           time.Time `json:"at"`
}

// Notifier receives effect events after they are persisted.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

// PubSubNotifier publishes events as JSON on "<prefix>:<char_id>".
type PubSubNotifier struct {
	ps     cache.PubSub
	prefix string
}

// NewPubSubNotifier creates a notifier publishing on ps.
func NewPubSubNotifier(ps cache.PubSub, prefix string) *PubSubNotifier {
	if prefix == "" {
		prefix = "effects"
	}
	return &PubSubNotifier{ps: ps, prefix: prefix}
}

// Channel returns the channel carrying charID's events.
func (n *PubSubNotifier) Channel(charID int64) string {
	return fmt.Sprintf("%s:%d", n.prefix, charID)
}

// Notify implements Notifier.
func (n *PubSubNotifier) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return n.ps.Publish(ctx, n.Channel(ev.CharID), string(b))
}

// DefaultHistoryLen is the number of events HistoryNotifier keeps per
// character when no length is given.
const DefaultHistoryLen = 50

// HistoryNotifier keeps the most recent events of each character in a
// capped cache list, newest first.
type HistoryNotifier struct {
	c      cache.Cache
	prefix string
	keep   int64
}

// NewHistoryNotifier creates a HistoryNotifier storing keep events per
// character under "<prefix>:history:<char_id>".
func NewHistoryNotifier(c cache.Cache, prefix string, keep int) *HistoryNotifier {
	if prefix == "" {
		prefix = "effects"
	}
	if keep <= 0 {
		keep = DefaultHistoryLen
	}
	return &HistoryNotifier{c: c, prefix: prefix, keep: int64(keep)}
}

func (h *HistoryNotifier) key(charID int64) string {
	return fmt.Sprintf("%s:history:%d", h.prefix, charID)
}

// Notify implements Notifier.
func (h *HistoryNotifier) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	key := h.key(ev.CharID)
	if err := h.c.LPush(ctx, key, string(b)); err != nil {
		return err
	}
	return h.c.LTrim(ctx, key, 0, h.keep-1)
}

// Recent returns up to limit of charID's latest events, newest first.
// Entries that fail to decode are skipped.
func (h *HistoryNotifier) Recent(ctx context.Context, charID int64, limit int) ([]Event, error) {
	if limit <= 0 || int64(limit) > h.keep {
		limit = int(h.keep)
	}
	raw, err := h.c.LRange(ctx, h.key(charID), 0, int64(limit-1))
	if err != nil {
		return nil, err
	}
	out := make([]Event, 0, len(raw))
	for _, s := range raw {
		var ev Event
		if json.Unmarshal([]byte(s), &ev) == nil {
			out = append(out, ev)
		}
	}
	return out, nil
}

// Notifiers fans an event out to several notifiers. Every notifier is
// called; the first error is returned.
type Notifiers []Notifier

// Notify implements Notifier.
func (ns Notifiers) Notify(ctx context.Context, ev Event) error {
	var first error
	for _, n := range ns {
		if err := n.Notify(ctx, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}
