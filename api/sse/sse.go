// Package sse streams a character's effect events to HTTP clients as
// server-sent events.
package sse

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/kasuganosora/combatcore/cache"
	"github.com/kasuganosora/combatcore/config"
	"github.com/kasuganosora/combatcore/game/effect"
	mw "github.com/kasuganosora/combatcore/middleware"
	"go.uber.org/zap"
)

// DefaultKeepalive is the interval between keepalive comments.
const DefaultKeepalive = 30 * time.Second

// Handler handles the SSE endpoint.
type Handler struct {
	pubsub    cache.PubSub
	events    *effect.PubSubNotifier
	c         cache.Cache
	sec       config.SecurityConfig
	keepalive time.Duration
	logger    *zap.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewHandler creates a new SSE Handler. events names the channels the
// effect engine publishes on.
func NewHandler(pubsub cache.PubSub, events *effect.PubSubNotifier, c cache.Cache, sec config.SecurityConfig, logger *zap.Logger) *Handler {
	return &Handler{
		pubsub:    pubsub,
		events:    events,
		c:         c,
		sec:       sec,
		keepalive: DefaultKeepalive,
		logger:    logger,
		done:      make(chan struct{}),
	}
}

// Close ends every open stream. Register it with http.Server.RegisterOnShutdown
// so Shutdown does not wait on idle streams.
func (h *Handler) Close() {
	h.closeOnce.Do(func() { close(h.done) })
}

// SetKeepalive changes the keepalive interval.
func (h *Handler) SetKeepalive(d time.Duration) {
	if d > 0 {
		h.keepalive = d
	}
}

// ServeSSE handles GET /sse?token=<jwt>&character_id=<id>.
// Each effect event is sent with its kind as the SSE event name.
func (h *Handler) ServeSSE(c *gin.Context) {
	tokenStr := c.Query("token")
	if tokenStr == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}
	claims, err := mw.ValidateToken(c.Request.Context(), tokenStr, h.sec.JWTSecret, h.c)
	if errors.Is(err, mw.ErrTokenRevoked) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "token revoked"})
		return
	}
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	charID, err := strconv.ParseInt(c.Query("character_id"), 10, 64)
	if err != nil || charID <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid character_id"})
		return
	}

	msgCh, unsub, err := h.pubsub.Subscribe(c.Request.Context(), h.events.Channel(charID))
	if err != nil {
		h.logger.Error("sse subscribe failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}
	defer unsub()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	h.logger.Debug("sse stream opened",
		zap.String("service", claims.Service), zap.Int64("char_id", charID))

	fmt.Fprintf(c.Writer, "event: connected\ndata: {\"character_id\":%d}\n\n", charID)
	c.Writer.Flush()

	ticker := time.NewTicker(h.keepalive)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-msgCh:
			if !ok {
				return
			}
			fmt.Fprintf(c.Writer, "event: %s\ndata: %s\n\n", eventName(msg.Payload), msg.Payload)
			c.Writer.Flush()

		case <-ticker.C:
			// Keepalive comment to prevent proxy timeouts.
			fmt.Fprintf(c.Writer, ": keepalive\n\n")
			c.Writer.Flush()

		case <-c.Request.Context().Done():
			return

		case <-h.done:
			return
		}
	}
}

// eventName extracts the event kind from a JSON payload.
func eventName(payload string) string {
	var ev struct {
		Kind effect.EventKind `json:"kind"`
	}
	if err := json.Unmarshal([]byte(payload), &ev); err != nil || ev.Kind == "" {
		return "message"
	}
	return string(ev.Kind)
}
