package handler

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/middleware"
	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/service"
	"github.com/GTDGit/conversion_api/internal/utils"
)

// TokenAdmin is the operator surface of the token manager.
type TokenAdmin interface {
	SetTokens(ctx context.Context, accessToken, refreshToken string, expiresIn int) error
	Refresh(ctx context.Context) (*service.RefreshResult, error)
	Status() service.TokenStatus
}

// TokenHistory lists token rows, superseded ones included.
// *repository.TokenRepository satisfies it.
type TokenHistory interface {
	History(ctx context.Context, tokenType models.TokenType, limit int) ([]models.Token, error)
}

// AdminHandler handles the operator endpoints under /v1/admin.
type AdminHandler struct {
	eventSvc *service.AdminEventService
	tokens   TokenAdmin
	history  TokenHistory
}

// NewAdminHandler constructs an AdminHandler.
func NewAdminHandler(eventSvc *service.AdminEventService, tokens TokenAdmin) *AdminHandler {
	return &AdminHandler{eventSvc: eventSvc, tokens: tokens}
}

// SetTokensRequest is the body of an operator token push.
type SetTokensRequest struct {
	AccessToken  string `json:"access_token" binding:"required"`
	RefreshToken string `json:"refresh_token" binding:"required"`
	ExpiresIn    int    `json:"expires_in"`
}

// SetTokens handles POST /v1/admin/tokens
func (h *AdminHandler) SetTokens(c *gin.Context) {
	var req SetTokensRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "access_token and refresh_token are required")
		return
	}

	if err := h.tokens.SetTokens(c.Request.Context(), req.AccessToken, req.RefreshToken, req.ExpiresIn); err != nil {
		if errors.Is(err, utils.ErrInvalidTokenPair) {
			utils.Error(c, http.StatusBadRequest, "INVALID_TOKEN_PAIR", "Token pair is invalid")
			return
		}
		log.Error().Err(err).Msg("Failed to set tokens")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to store tokens")
		return
	}

	log.Info().Str("admin", middleware.AdminSubject(c)).Msg("Token pair replaced by operator")
	utils.Success(c, http.StatusOK, "Tokens updated", h.tokens.Status())
}

// RefreshTokens handles POST /v1/admin/tokens/refresh
func (h *AdminHandler) RefreshTokens(c *gin.Context) {
	res, err := h.tokens.Refresh(c.Request.Context())
	if err != nil {
		if errors.Is(err, utils.ErrRefreshInProgress) {
			utils.Error(c, http.StatusConflict, "REFRESH_IN_PROGRESS", "A token refresh is already running")
			return
		}
		if errors.Is(err, utils.ErrNoActiveToken) {
			utils.Error(c, http.StatusConflict, "NO_ACTIVE_TOKEN", "No refresh token on record")
			return
		}
		utils.Error(c, http.StatusBadGateway, "REFRESH_FAILED", err.Error())
		return
	}

	log.Info().Str("admin", middleware.AdminSubject(c)).Msg("Token refresh triggered by operator")
	utils.Success(c, http.StatusOK, "Tokens refreshed", gin.H{
		"refresh": res,
		"status":  h.tokens.Status(),
	})
}

// TokenStatus handles GET /v1/admin/tokens/status
func (h *AdminHandler) TokenStatus(c *gin.Context) {
	utils.Success(c, http.StatusOK, "Token status retrieved", h.tokens.Status())
}

// WithHistory enables GET /v1/admin/tokens/history.
func (h *AdminHandler) WithHistory(history TokenHistory) *AdminHandler {
	h.history = history
	return h
}

// TokenHistory handles GET /v1/admin/tokens/history?type=access_token&limit=20
// Token values are never serialised.
func (h *AdminHandler) TokenHistory(c *gin.Context) {
	if h.history == nil {
		utils.Error(c, http.StatusNotImplemented, "NOT_AVAILABLE", "Token history is not available")
		return
	}

	tokenType := models.TokenType(c.DefaultQuery("type", string(models.TokenTypeAccess)))
	if tokenType != models.TokenTypeAccess && tokenType != models.TokenTypeRefresh {
		utils.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "type must be access_token or refresh_token")
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	tokens, err := h.history.History(c.Request.Context(), tokenType, limit)
	if err != nil {
		log.Error().Err(err).Str("token_type", string(tokenType)).Msg("Failed to load token history")
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to load token history")
		return
	}
	utils.Success(c, http.StatusOK, "Token history retrieved", tokens)
}

// ListEvents handles GET /v1/admin/events
func (h *AdminHandler) ListEvents(c *gin.Context) {
	var req service.ListEventsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		utils.Error(c, http.StatusBadRequest, "INVALID_REQUEST", "Invalid query parameters")
		return
	}
	if req.Page < 1 {
		req.Page = 1
	}
	if req.Limit < 1 || req.Limit > 200 {
		req.Limit = 50
	}

	result, err := h.eventSvc.ListEvents(c.Request.Context(), &req)
	if err != nil {
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list events")
		return
	}

	utils.SuccessWithPagination(c, http.StatusOK, "Events retrieved", result.Events, result.Page, result.Limit, result.TotalItems)
}

// EventStats handles GET /v1/admin/events/stats
func (h *AdminHandler) EventStats(c *gin.Context) {
	stats, err := h.eventSvc.Stats(c.Request.Context())
	if err != nil {
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to count events")
		return
	}
	utils.Success(c, http.StatusOK, "Event stats retrieved", stats)
}

// GetEvent handles GET /v1/admin/events/:id
func (h *AdminHandler) GetEvent(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}

	ev, err := h.eventSvc.GetEvent(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, utils.ErrEventNotFound) {
			utils.Error(c, http.StatusNotFound, "EVENT_NOT_FOUND", "Event not found")
			return
		}
		utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to get event")
		return
	}
	utils.Success(c, http.StatusOK, "Event retrieved", ev)
}

// ReplayEvent handles POST /v1/admin/events/:id/replay
func (h *AdminHandler) ReplayEvent(c *gin.Context) {
	id, ok := eventID(c)
	if !ok {
		return
	}

	res, err := h.eventSvc.ReplayEvent(c.Request.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, utils.ErrEventNotFound):
			utils.Error(c, http.StatusNotFound, "EVENT_NOT_FOUND", "Event not found")
		case errors.Is(err, utils.ErrEventNotReplayable):
			utils.Error(c, http.StatusConflict, "EVENT_NOT_REPLAYABLE", "Only failed events can be replayed")
		default:
			log.Error().Err(err).Int64("id", id).Msg("Replay failed")
			utils.Error(c, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to replay event")
		}
		return
	}

	log.Info().Str("admin", middleware.AdminSubject(c)).Int64("replay_of", id).Int64("event_id", res.EventID).Msg("Event replayed")
	utils.Success(c, http.StatusOK, "Event replayed", ingestData{
		EventID:        res.EventID,
		Status:         res.Status,
		ProcessingTime: res.ProcessingTime,
		ErrorMessage:   res.ErrorMessage,
	})
}

func eventID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		utils.Error(c, http.StatusBadRequest, "INVALID_ID", "Invalid event id")
		return 0, false
	}
	return id, true
}
