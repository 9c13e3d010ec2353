package effect

import (
	"context"

	"github.com/kasuganosora/combatcore/model"
)

// Store is the persistence collaborator for effect rows. It is the only path
// through which effect rows are read or written.
type Store interface {
	// LoadActiveEffects returns the active effects of one character.
	LoadActiveEffects(ctx context.Context, charID int64) ([]*model.Effect, error)
	// LoadAllActiveEffects returns every active effect, ordered by character.
	LoadAllActiveEffects(ctx context.Context) ([]*model.Effect, error)
	// LoadEffect returns the active effect with id, or nil if it no longer exists.
	LoadEffect(ctx context.Context, id int64) (*model.Effect, error)
	// SaveEffect inserts (ID == 0) or updates the effect.
	SaveEffect(ctx context.Context, e *model.Effect) error
	// DeleteEffect deactivates the effect with id.
	DeleteEffect(ctx context.Context, id int64) error
}

// CharacterChecker reports whether a character row exists.
type CharacterChecker interface {
	CharacterExists(ctx context.Context, charID int64) (bool, error)
}
