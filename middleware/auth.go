package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/combatcore/cache"
	"github.com/kasuganosora/combatcore/config"
)

const (
	ServiceKey     = "service"
	AdminKeyHeader = "X-Admin-Key"
)

// ErrTokenRevoked is returned for a valid token whose jti was revoked.
var ErrTokenRevoked = errors.New("token revoked")

func revokedKey(jti string) string { return "token:revoked:" + jti }

// ValidateToken parses tokenStr and checks it has not been revoked.
func ValidateToken(ctx context.Context, tokenStr, secret string, c cache.Cache) (*Claims, error) {
	claims, err := ParseToken(tokenStr, secret)
	if err != nil {
		return nil, err
	}
	cacheCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	revoked, err := c.Exists(cacheCtx, revokedKey(claims.ID))
	if err != nil {
		return nil, err
	}
	if revoked {
		return nil, ErrTokenRevoked
	}
	return claims, nil
}

// RevokeToken blocks a token ID until its expiry.
func RevokeToken(ctx context.Context, c cache.Cache, jti string, expiresAt time.Time) error {
	ttl := time.Until(expiresAt)
	if ttl <= 0 {
		return nil
	}
	return c.Set(ctx, revokedKey(jti), "1", ttl)
}

// Auth validates the Bearer JWT of a calling service.
func Auth(sec config.SecurityConfig, c cache.Cache) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		header := ctx.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		claims, err := ValidateToken(ctx.Request.Context(), strings.TrimPrefix(header, "Bearer "), sec.JWTSecret, c)
		if errors.Is(err, ErrTokenRevoked) {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
			return
		}
		if err != nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		ctx.Set(ServiceKey, claims.Service)
		ctx.Next()
	}
}

// AdminAuth requires the X-Admin-Key header to equal key. An empty key
// disables every admin route with 503 so an unconfigured deployment is closed.
func AdminAuth(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable,
				gin.H{"error": "admin endpoints disabled: set server.admin_key in config"})
			return
		}
		got := c.GetHeader(AdminKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// GetService returns the authenticated calling service name.
func GetService(c *gin.Context) string {
	return c.GetString(ServiceKey)
}
