package sse

import (
	"time"

	"github.com/GTDGit/conversion_api/internal/models"
)

// HubNotifier turns conversion lifecycle changes into hub events.
// It satisfies service.EventNotifier.
type HubNotifier struct {
	hub *Hub
}

// NewHubNotifier creates a notifier backed by the given Hub.
func NewHubNotifier(hub *Hub) *HubNotifier {
	return &HubNotifier{hub: hub}
}

func (n *HubNotifier) NotifyEventCreated(ev *models.ConversionEvent) {
	n.hub.Publish(toEvent(EventConversionCreated, ev))
}

func (n *HubNotifier) NotifyEventFinished(ev *models.ConversionEvent) {
	n.hub.Publish(toEvent(EventConversionFinished, ev))
}

func toEvent(kind EventType, ev *models.ConversionEvent) *ConversionEvent {
	return &ConversionEvent{
		Event:          kind,
		EventID:        ev.ID,
		EventType:      ev.EventType,
		Status:         string(ev.Status),
		OuterEventID:   ev.OuterEventID,
		ReplayOf:       ev.ReplayOf,
		CallbackStatus: ev.CallbackStatus,
		ErrorMessage:   ev.ErrorMessage,
		ProcessingTime: ev.ProcessingTime,
		Timestamp:      time.Now(),
	}
}
