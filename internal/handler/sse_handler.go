package handler

import (
	"fmt"
	"io"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/sse"
	"github.com/GTDGit/conversion_api/internal/utils"
)

// SSEHandler streams conversion outcomes to the admin dashboard.
type SSEHandler struct {
	hub       *sse.Hub
	jwtSecret string
	keepAlive time.Duration
}

// NewSSEHandler creates a new SSEHandler.
func NewSSEHandler(hub *sse.Hub, jwtSecret string) *SSEHandler {
	return &SSEHandler{hub: hub, jwtSecret: jwtSecret, keepAlive: 30 * time.Second}
}

// Stream handles GET /v1/admin/events/stream?token=<jwt>[&failed_only=true]
// EventSource API cannot set custom headers, so JWT is passed via query param.
func (h *SSEHandler) Stream(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		utils.Error(c, 401, "UNAUTHORIZED", "Missing token query parameter")
		return
	}

	claims, err := utils.ValidateAdminJWT(h.jwtSecret, token)
	if err != nil {
		utils.Error(c, 401, "INVALID_TOKEN", "Invalid or expired token")
		return
	}

	clientID := fmt.Sprintf("admin-%s-%s", claims.Subject, uuid.New().String()[:8])

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no") // Disable nginx buffering

	client, backlog := h.hub.Subscribe(clientID, c.Query("failed_only") == "true")
	defer h.hub.Unsubscribe(clientID)

	c.SSEvent("connected", gin.H{
		"client_id": clientID,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	for _, data := range backlog {
		c.SSEvent("conversion", string(data))
	}
	c.Writer.Flush()

	log.Info().Str("client_id", clientID).Int("backlog", len(backlog)).Msg("Admin SSE stream started")

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	c.Stream(func(w io.Writer) bool {
		select {
		case data, ok := <-client.Events:
			if !ok {
				return false
			}
			c.SSEvent("conversion", string(data))
			return true
		case <-ticker.C:
			c.SSEvent("ping", gin.H{"timestamp": time.Now().Format(time.RFC3339)})
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}
