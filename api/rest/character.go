package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/combatcore/audit"
	"github.com/kasuganosora/combatcore/game/combat"
	"github.com/kasuganosora/combatcore/model"
)

// CharacterHandler exposes combat state mutations over REST.
type CharacterHandler struct {
	svc   *combat.Service
	audit auditor
}

// NewCharacterHandler creates a CharacterHandler. auditSvc may be nil.
func NewCharacterHandler(svc *combat.Service, auditSvc *audit.Service) *CharacterHandler {
	return &CharacterHandler{svc: svc, audit: auditor{svc: auditSvc}}
}

type createCharacterRequest struct {
	Name string `json:"name" binding:"required,max=32"`
}

type amountRequest struct {
	Amount int `json:"amount"`
}

type experienceRequest struct {
	Amount int64 `json:"amount"`
}

type moveRequest struct {
	X        float64  `json:"x"`
	Y        float64  `json:"y"`
	Rotation *float64 `json:"rotation,omitempty"`
}

// Create handles POST /api/characters.
func (h *CharacterHandler) Create(c *gin.Context) {
	start := time.Now()
	var req createCharacterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	char, err := h.svc.Create(c.Request.Context(), req.Name)
	if err != nil {
		h.audit.record(c, audit.ActionCreate, 0, req, nil, err, start)
		respondError(c, err)
		return
	}
	h.audit.record(c, audit.ActionCreate, char.ID, req, char, nil, start)
	c.JSON(http.StatusCreated, char)
}

// Get handles GET /api/characters/:id.
func (h *CharacterHandler) Get(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	char, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, char)
}

// Delete handles DELETE /api/characters/:id. Effects are cleared with it.
func (h *CharacterHandler) Delete(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	err := h.svc.Delete(c.Request.Context(), id)
	h.audit.record(c, audit.ActionDelete, id, nil, nil, err, start)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted"})
}

// amountOp adapts a combat operation taking an int amount into a handler.
func (h *CharacterHandler) amountOp(action string, op func(ctx context.Context, id int64, amount int) (combat.Result, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		id, ok := paramID(c, "id")
		if !ok {
			return
		}
		var req amountRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		res, err := op(c.Request.Context(), id, req.Amount)
		h.respondResult(c, action, id, req, res, err, start)
	}
}

func (h *CharacterHandler) respondResult(c *gin.Context, action string, id int64, req interface{}, res combat.Result, err error, start time.Time) {
	if err != nil {
		h.audit.record(c, action, id, req, nil, err, start)
		respondError(c, err)
		return
	}
	// Rejected mutations are not audited; nothing changed.
	if res.Reason == combat.ReasonOK {
		h.audit.record(c, action, id, req, res, nil, start)
	}
	c.JSON(http.StatusOK, res)
}

// Damage handles POST /api/characters/:id/damage.
func (h *CharacterHandler) Damage(c *gin.Context) { h.amountOp(audit.ActionDamage, h.svc.Damage)(c) }

// Heal handles POST /api/characters/:id/heal.
func (h *CharacterHandler) Heal(c *gin.Context) { h.amountOp(audit.ActionHeal, h.svc.Heal)(c) }

// ConsumeMP handles POST /api/characters/:id/mp/consume.
func (h *CharacterHandler) ConsumeMP(c *gin.Context) { h.amountOp(audit.ActionConsumeMP, h.svc.ConsumeMP)(c) }

// RestoreMP handles POST /api/characters/:id/mp/restore.
func (h *CharacterHandler) RestoreMP(c *gin.Context) { h.amountOp(audit.ActionRestoreMP, h.svc.RestoreMP)(c) }

// Revive handles POST /api/characters/:id/revive. The body is optional.
func (h *CharacterHandler) Revive(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req combat.ReviveParams
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	res, err := h.svc.Revive(c.Request.Context(), id, req)
	h.respondResult(c, audit.ActionRevive, id, req, res, err, start)
}

// UpdateStats handles POST /api/characters/:id/stats.
func (h *CharacterHandler) UpdateStats(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req model.StatUpdate
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.UpdateStats(c.Request.Context(), id, req)
	h.respondResult(c, audit.ActionUpdateStats, id, req, res, err, start)
}

// GainExperience handles POST /api/characters/:id/experience.
func (h *CharacterHandler) GainExperience(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req experienceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.GainExperience(c.Request.Context(), id, req.Amount)
	h.respondResult(c, audit.ActionExperience, id, req, res, err, start)
}

// Move handles POST /api/characters/:id/move.
func (h *CharacterHandler) Move(c *gin.Context) {
	start := time.Now()
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req moveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := h.svc.Move(c.Request.Context(), id, req.X, req.Y, req.Rotation)
	h.respondResult(c, audit.ActionMove, id, req, res, err, start)
}

// InRange handles GET /api/characters/:id/range/:target?r=<range>.
func (h *CharacterHandler) InRange(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	target, ok := paramID(c, "target")
	if !ok {
		return
	}
	r, err := strconv.ParseFloat(c.Query("r"), 64)
	if err != nil || r < 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid r"})
		return
	}
	in, dist, err := h.svc.InRange(c.Request.Context(), id, target, r)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"in_range": in, "distance": dist})
}

// AuditLog handles GET /api/characters/:id/audit?limit=n.
func (h *CharacterHandler) AuditLog(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	limit, ok := queryInt(c, "limit", 50)
	if !ok {
		return
	}
	if h.audit.svc == nil {
		c.JSON(http.StatusOK, gin.H{"entries": []model.AuditLog{}})
		return
	}
	logs, err := h.audit.svc.Recent(c.Request.Context(), id, limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"entries": logs})
}
