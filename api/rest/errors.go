package rest

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/combatcore/game/catalog"
	"github.com/kasuganosora/combatcore/game/combat"
	"github.com/kasuganosora/combatcore/game/effect"
	"github.com/kasuganosora/combatcore/store"
)

// respondError maps a service error to an HTTP status and a short message.
// Internal failures are not echoed to the caller.
func respondError(c *gin.Context, err error) {
	_ = c.Error(err)
	switch {
	case errors.Is(err, catalog.ErrUnknownEffect):
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown effect"})
	case errors.Is(err, combat.ErrCharacterNotFound),
		errors.Is(err, effect.ErrCharacterNotFound),
		errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "character not found"})
	case errors.Is(err, combat.ErrInvalidAmount),
		errors.Is(err, combat.ErrInvalidName),
		errors.Is(err, effect.ErrInvalidArgument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, combat.ErrNameTaken):
		c.JSON(http.StatusConflict, gin.H{"error": "character name already taken"})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// paramID parses a positive int64 path parameter. On failure it writes a 400
// and returns false.
func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}

// queryInt reads an optional integer query parameter.
func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return v, true
}
