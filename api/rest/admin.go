package rest

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/combatcore/audit"
	"github.com/kasuganosora/combatcore/cache"
	"github.com/kasuganosora/combatcore/config"
	"github.com/kasuganosora/combatcore/game/catalog"
	"github.com/kasuganosora/combatcore/game/effect"
	mw "github.com/kasuganosora/combatcore/middleware"
	"github.com/kasuganosora/combatcore/model"
	"github.com/kasuganosora/combatcore/scheduler"
	"go.uber.org/zap"
)

// Purger hard-deletes effect rows that were logically removed.
type Purger interface {
	PurgeInactiveEffects(ctx context.Context) (int64, error)
}

// AdminHandler handles admin-only REST endpoints.
// Routes should be protected by middleware.AdminAuth.
type AdminHandler struct {
	catalog *catalog.Catalog
	sweeper *effect.Sweeper
	sched   *scheduler.Scheduler
	purger  Purger
	c       cache.Cache
	sec     config.SecurityConfig
	audit   auditor
	logger  *zap.Logger
}

// AdminDeps groups the collaborators of AdminHandler.
type AdminDeps struct {
	Catalog  *catalog.Catalog
	Sweeper  *effect.Sweeper
	Sched    *scheduler.Scheduler
	Purger   Purger
	Cache    cache.Cache
	Security config.SecurityConfig
	Audit    *audit.Service
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(d AdminDeps, logger *zap.Logger) *AdminHandler {
	return &AdminHandler{
		catalog: d.Catalog,
		sweeper: d.Sweeper,
		sched:   d.Sched,
		purger:  d.Purger,
		c:       d.Cache,
		sec:     d.Security,
		audit:   auditor{svc: d.Audit},
		logger:  logger,
	}
}

// Sweep runs one bulk expiry/decay sweep immediately.
// POST /api/admin/sweep
func (h *AdminHandler) Sweep(c *gin.Context) {
	start := time.Now()
	n, err := h.sweeper.RunOnce(c.Request.Context())
	if errors.Is(err, effect.ErrSweepBusy) {
		c.JSON(http.StatusConflict, gin.H{"error": "sweep already running"})
		return
	}
	resp := gin.H{"processed": n}
	h.audit.record(c, audit.ActionSweep, 0, nil, resp, err, start)
	if err != nil {
		h.logger.Warn("admin sweep failed", zap.Error(err))
		respondError(c, err)
		return
	}
	h.logger.Info("admin sweep", zap.Int("processed", n))
	c.JSON(http.StatusOK, resp)
}

// Scheduler returns the registered tasks and the last sweep outcome, both
// local and as recorded in the shared cache.
// GET /api/admin/scheduler
func (h *AdminHandler) Scheduler(c *gin.Context) {
	lastRun, processed := h.sweeper.LastRun()
	shared, err := h.sweeper.SharedStatus(c.Request.Context())
	if err != nil {
		h.logger.Debug("shared sweep status unavailable", zap.Error(err))
		shared = map[string]string{}
	}
	c.JSON(http.StatusOK, gin.H{
		"tasks": h.sched.Status(),
		"sweep": gin.H{
			"last_run":  lastRun,
			"processed": processed,
			"shared":    shared,
		},
	})
}

// Catalog lists the effect definitions, optionally filtered by ?type=.
// GET /api/admin/catalog
func (h *AdminHandler) Catalog(c *gin.Context) {
	defs := h.catalog.ByPriority()
	if raw := c.Query("type"); raw != "" {
		t, err := model.ParseEffectType(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid type"})
			return
		}
		defs = h.catalog.ByType(t)
	}
	c.JSON(http.StatusOK, gin.H{"definitions": defs, "stats": h.catalog.Stats()})
}

// Purge hard-deletes removed effect rows.
// POST /api/admin/purge
func (h *AdminHandler) Purge(c *gin.Context) {
	n, err := h.purger.PurgeInactiveEffects(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("purged inactive effects", zap.Int64("rows", n))
	c.JSON(http.StatusOK, gin.H{"purged": n})
}

type issueTokenRequest struct {
	Service string `json:"service" binding:"required,max=64"`
	// TTL is a Go duration string; empty uses security.jwt_ttl.
	TTL string `json:"ttl"`
}

// IssueToken signs a bearer token for a calling service.
// POST /api/admin/tokens
func (h *AdminHandler) IssueToken(c *gin.Context) {
	var req issueTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ttl := h.sec.JWTTTL
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil || d <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid ttl"})
			return
		}
		ttl = d
	}
	tok, claims, err := mw.GenerateToken(req.Service, h.sec.JWTSecret, ttl)
	if err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("service token issued", zap.String("service", req.Service), zap.String("jti", claims.ID))
	c.JSON(http.StatusCreated, gin.H{
		"token":      tok,
		"jti":        claims.ID,
		"expires_at": claims.ExpiresAt.Time,
	})
}

type revokeTokenRequest struct {
	Token string `json:"token" binding:"required"`
}

// RevokeToken blocks a service token until it expires.
// POST /api/admin/tokens/revoke
func (h *AdminHandler) RevokeToken(c *gin.Context) {
	var req revokeTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	claims, err := mw.ParseToken(req.Token, h.sec.JWTSecret)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token"})
		return
	}
	if err := mw.RevokeToken(c.Request.Context(), h.c, claims.ID, claims.ExpiresAt.Time); err != nil {
		respondError(c, err)
		return
	}
	h.logger.Info("service token revoked", zap.String("service", claims.Service), zap.String("jti", claims.ID))
	c.JSON(http.StatusOK, gin.H{"revoked": claims.ID})
}
