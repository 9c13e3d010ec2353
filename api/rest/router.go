package rest

import "github.com/gin-gonic/gin"

// Routes bundles the REST handlers. A nil handler skips its routes.
type Routes struct {
	Characters *CharacterHandler
	Effects    *EffectHandler
	Admin      *AdminHandler
}

// Register mounts the routes on api. protected guards character and effect
// routes; admin guards /admin.
func (rt Routes) Register(api *gin.RouterGroup, protected, admin []gin.HandlerFunc) {
	chars := api.Group("/characters", protected...)
	if h := rt.Characters; h != nil {
		chars.POST("", h.Create)
		chars.GET("/:id", h.Get)
		chars.DELETE("/:id", h.Delete)
		chars.POST("/:id/damage", h.Damage)
		chars.POST("/:id/heal", h.Heal)
		chars.POST("/:id/mp/consume", h.ConsumeMP)
		chars.POST("/:id/mp/restore", h.RestoreMP)
		chars.POST("/:id/revive", h.Revive)
		chars.POST("/:id/stats", h.UpdateStats)
		chars.POST("/:id/experience", h.GainExperience)
		chars.POST("/:id/move", h.Move)
		chars.GET("/:id/range/:target", h.InRange)
		chars.GET("/:id/audit", h.AuditLog)
	}
	if h := rt.Effects; h != nil {
		chars.GET("/:id/effects", h.List)
		chars.POST("/:id/effects", h.Apply)
		chars.DELETE("/:id/effects", h.RemoveByType)
		chars.DELETE("/:id/effects/:def", h.Remove)
		chars.POST("/:id/effects/sweep", h.Sweep)
		chars.GET("/:id/effects/history", h.History)
		chars.GET("/:id/modifiers", h.Modifiers)
		chars.GET("/:id/stats", h.Stats)
	}
	if h := rt.Admin; h != nil {
		adminG := api.Group("/admin", admin...)
		adminG.POST("/sweep", h.Sweep)
		adminG.GET("/scheduler", h.Scheduler)
		adminG.GET("/catalog", h.Catalog)
		adminG.POST("/purge", h.Purge)
		adminG.POST("/tokens", h.IssueToken)
		adminG.POST("/tokens/revoke", h.RevokeToken)
	}
}
