package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/repository"
	"github.com/GTDGit/conversion_api/internal/utils"
)

// AdminEventService provides operator access to stored conversion events.
type AdminEventService struct {
	store       EventStore
	conversions *ConversionService
}

// NewAdminEventService creates a new AdminEventService.
func NewAdminEventService(store EventStore, conversions *ConversionService) *AdminEventService {
	return &AdminEventService{store: store, conversions: conversions}
}

// ListEventsRequest holds request parameters for listing events.
type ListEventsRequest struct {
	Status       *string `form:"status"`
	EventType    *int    `form:"event_type"`
	Callback     *string `form:"callback"`
	OuterEventID *string `form:"outer_event_id"`
	StartDate    *string `form:"start_date"`
	EndDate      *string `form:"end_date"`
	Page         int     `form:"page"`
	Limit        int     `form:"limit"`
}

// ListEventsResponse holds one page of events.
type ListEventsResponse struct {
	Events     []models.ConversionEvent `json:"events"`
	Page       int                      `json:"page"`
	Limit      int                      `json:"limit"`
	TotalItems int                      `json:"total_items"`
}

// ListEvents returns a filtered page of events, newest first.
func (s *AdminEventService) ListEvents(ctx context.Context, req *ListEventsRequest) (*ListEventsResponse, error) {
	page, err := s.store.List(ctx, repository.EventFilter{
		Status:       req.Status,
		EventType:    req.EventType,
		Callback:     req.Callback,
		OuterEventID: req.OuterEventID,
		StartDate:    req.StartDate,
		EndDate:      req.EndDate,
		Page:         req.Page,
		Limit:        req.Limit,
	})
	if err != nil {
		log.Error().Err(err).Msg("Failed to list conversion events")
		return nil, err
	}
	return &ListEventsResponse{
		Events:     page.Events,
		Page:       page.Page,
		Limit:      page.Limit,
		TotalItems: page.TotalItems,
	}, nil
}

// GetEvent returns a single event.
func (s *AdminEventService) GetEvent(ctx context.Context, id int64) (*models.ConversionEvent, error) {
	ev, err := s.store.GetByID(ctx, id)
	if err != nil && !errors.Is(err, utils.ErrEventNotFound) {
		log.Error().Err(err).Int64("id", id).Msg("Failed to get conversion event")
	}
	return ev, err
}

// EventStats is the per-status breakdown of stored events.
type EventStats struct {
	Total    int                        `json:"total"`
	ByStatus map[models.EventStatus]int `json:"by_status"`
}

// Stats counts events per status.
func (s *AdminEventService) Stats(ctx context.Context) (*EventStats, error) {
	counts, err := s.store.CountByStatus(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count conversion events")
		return nil, err
	}
	stats := &EventStats{ByStatus: map[models.EventStatus]int{
		models.EventStatusPending:    0,
		models.EventStatusProcessing: 0,
		models.EventStatusSuccess:    0,
		models.EventStatusFailed:     0,
	}}
	for _, c := range counts {
		stats.ByStatus[c.Status] = c.Count
		stats.Total += c.Count
	}
	return stats, nil
}

// ReplayEvent forwards a failed event again as a new row.
func (s *AdminEventService) ReplayEvent(ctx context.Context, id int64) (*IngestResult, error) {
	return s.conversions.Replay(ctx, id)
}
