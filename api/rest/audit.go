package rest

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/combatcore/audit"
	mw "github.com/kasuganosora/combatcore/middleware"
)

// auditor records mutations through an optional audit.Service.
type auditor struct {
	svc *audit.Service
}

func (a auditor) record(c *gin.Context, action string, charID int64, req, resp interface{}, err error, start time.Time) {
	if a.svc == nil {
		return
	}
	e := audit.Entry{
		TraceID:  mw.GetTraceID(c),
		Action:   action,
		Request:  req,
		Response: resp,
		Err:      err,
		IP:       c.ClientIP(),
		Duration: time.Since(start),
	}
	if charID > 0 {
		e.CharID = &charID
	}
	a.svc.Log(e)
}
