package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/GTDGit/conversion_api/internal/service"
	"github.com/GTDGit/conversion_api/internal/utils"
)

var startTime = time.Now()

// Pinger is satisfied by *sqlx.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// HealthHandler provides health endpoint.
type HealthHandler struct {
	db     Pinger
	redis  Pinger
	tokens interface{ Status() service.TokenStatus }
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(db Pinger, tokens interface{ Status() service.TokenStatus }) *HealthHandler {
	return &HealthHandler{db: db, tokens: tokens}
}

// WithRedis adds Redis to the check. Redis being down degrades the
// service since dedup falls back to the database.
func (h *HealthHandler) WithRedis(redis Pinger) *HealthHandler {
	h.redis = redis
	return h
}

// GetHealth responds with database and token status. A missing token pair
// degrades the service but does not fail the check.
func (h *HealthHandler) GetHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "connected"
	if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "disconnected"
	}

	redisStatus := "disabled"
	if h.redis != nil {
		redisStatus = "connected"
		if err := h.redis.PingContext(ctx); err != nil {
			redisStatus = "disconnected"
		}
	}

	ts := h.tokens.Status()
	status := "healthy"
	if !ts.HasAccessToken || redisStatus == "disconnected" {
		status = "degraded"
	}

	payload := gin.H{
		"status":   status,
		"version":  "1.0.0",
		"uptime":   int(time.Since(startTime).Seconds()),
		"database": dbStatus,
		"redis":    redisStatus,
		"token": gin.H{
			"state":                ts.State,
			"has_access_token":     ts.HasAccessToken,
			"consecutive_failures": ts.ConsecutiveFailures,
		},
	}

	if dbStatus != "connected" {
		payload["status"] = "unhealthy"
		utils.Success(c, http.StatusServiceUnavailable, "Service is unhealthy", payload)
		return
	}
	utils.Success(c, http.StatusOK, "Service is "+status, payload)
}
