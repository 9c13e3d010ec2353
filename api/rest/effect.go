package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/combatcore/audit"
	"github.com/kasuganosora/combatcore/game/effect"
	"github.com/kasuganosora/combatcore/game/stats"
	"github.com/kasuganosora/combatcore/model"
)

// EffectHandler exposes the effect engine over REST.
type EffectHandler struct {
	engine   *effect.Engine
	resolver *stats.Resolver
	history  *effect.HistoryNotifier
	audit    auditor
}

// NewEffectHandler creates an EffectHandler. history and auditSvc may be nil.
// The engine should be built WithCharacterCheck so applies to unknown
// characters fail.
func NewEffectHandler(
	engine *effect.Engine,
	resolver *stats.Resolver,
	history *effect.HistoryNotifier,
	auditSvc *audit.Service,
) *EffectHandler {
	return &EffectHandler{
		engine:   engine,
		resolver: resolver,
		history:  history,
		audit:    auditor{svc: auditSvc},
	}
}

type applyEffectRequest struct {
	DefinitionID int `json:"definition_id" binding:"required"`
	effect.ApplyParams
}

// List handles GET /api/characters/:id/effects.
func (h *EffectHandler) List(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	effects, err := h.engine.List(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	if effects == nil {
		effects = []*model.Effect{}
	}
	c.JSON(http.StatusOK, gin.H{"effects": effects})
}

// Apply handles POST /api/characters/:id/effects.
func (h *EffectHandler) Apply(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req applyEffectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	inst, err := h.engine.Apply(c.Request.Context(), id, req.DefinitionID, req.ApplyParams)
	h.audit.record(c, audit.ActionEffectApply, id, req, inst, err, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

// Remove handles DELETE /api/characters/:id/effects/:def?stacks=n. Without
// stacks the whole instance is removed.
func (h *EffectHandler) Remove(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	defID, err := strconv.Atoi(c.Param("def"))
	if err != nil || defID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid def"})
		return
	}
	stacks, ok := queryInt(c, "stacks", 0)
	if !ok {
		return
	}
	out, err := h.engine.Remove(c.Request.Context(), id, defID, stacks)
	req := gin.H{"definition_id": defID, "stacks": stacks}
	if err != nil {
		h.audit.record(c, audit.ActionEffectRemove, id, req, nil, err, start)
		respondError(c, err)
		return
	}
	resp := gin.H{"removed": out.OK(), "reason": out.String()}
	if out.OK() {
		h.audit.record(c, audit.ActionEffectRemove, id, req, resp, nil, start)
	}
	c.JSON(http.StatusOK, resp)
}

// RemoveByType handles DELETE /api/characters/:id/effects?type=debuff.
func (h *EffectHandler) RemoveByType(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	t, err := model.ParseEffectType(c.Query("type"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
		return
	}
	n, err := h.engine.RemoveByType(c.Request.Context(), id, t)
	resp := gin.H{"removed": n}
	h.audit.record(c, audit.ActionEffectDispel, id, gin.H{"type": t}, resp, err, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Modifiers handles GET /api/characters/:id/modifiers.
func (h *EffectHandler) Modifiers(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	m, err := h.engine.AggregateModifiers(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, m)
}

// Stats handles GET /api/characters/:id/stats.
func (h *EffectHandler) Stats(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	eff, err := h.resolver.Resolve(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, eff)
}

// Sweep handles POST /api/characters/:id/effects/sweep.
func (h *EffectHandler) Sweep(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	n, err := h.engine.SweepCharacter(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"processed": n})
}

// History handles GET /api/characters/:id/effects/history?limit=n.
func (h *EffectHandler) History(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 0)
	if !ok {
		return
	}
	if h.history == nil {
		c.JSON(http.StatusOK, gin.H{"events": []effect.Event{}})
		return
	}
	events, err := h.history.Recent(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
