package middleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit provides token-bucket rate limiting per caller. Authenticated
// requests are keyed by service name, others by client IP, so it should be
// installed after Auth where both are in play.
// r = requests per second, b = burst size.
func RateLimit(r rate.Limit, b int) gin.HandlerFunc {
	var mu sync.Mutex
	limiters := make(map[string]*clientLimiter)
	lastSweep := time.Now()

	get := func(key string, now time.Time) *rate.Limiter {
		mu.Lock()
		defer mu.Unlock()
		if now.Sub(lastSweep) > 5*time.Minute {
			cutoff := now.Add(-10 * time.Minute)
			for k, cl := range limiters {
				if cl.lastSeen.Before(cutoff) {
					delete(limiters, k)
				}
			}
			lastSweep = now
		}
		cl, ok := limiters[key]
		if !ok {
			cl = &clientLimiter{limiter: rate.NewLimiter(r, b)}
			limiters[key] = cl
		}
		cl.lastSeen = now
		return cl.limiter
	}

	return func(c *gin.Context) {
		key := GetService(c)
		if key == "" {
			key = "ip:" + c.ClientIP()
		}
		if !get(key, time.Now()).Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "rate limit exceeded"})
			return
		}
		c.Next()
	}
}
