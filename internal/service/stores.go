package service

import (
	"context"

	"github.com/GTDGit/conversion_api/internal/models"
	"github.com/GTDGit/conversion_api/internal/repository"
)

// EventStore is the durable record of conversion events.
// *repository.ConversionEventRepository satisfies it.
type EventStore interface {
	Create(ctx context.Context, ev *models.ConversionEvent) (int64, error)
	MarkProcessing(ctx context.Context, id int64) error
	MarkResult(ctx context.Context, id int64, result models.EventResult) error
	GetByID(ctx context.Context, id int64) (*models.ConversionEvent, error)
	FindByOuterEventID(ctx context.Context, outerEventID string) (*models.ConversionEvent, error)
	List(ctx context.Context, filter repository.EventFilter) (*repository.EventPage, error)
	CountByStatus(ctx context.Context) ([]models.EventStatusCount, error)
}

// TokenStore persists the active token pair. *repository.TokenRepository satisfies it.
type TokenStore interface {
	GetActive(ctx context.Context) ([]models.Token, error)
	SwapPair(ctx context.Context, pair models.TokenPair) ([]models.Token, error)
}

// KeyCache is the optional outer_event_id fast path. *cache.EventKeyCache satisfies it.
type KeyCache interface {
	Lookup(ctx context.Context, outerEventID string) (int64, bool, error)
	Remember(ctx context.Context, outerEventID string, eventID int64) error
}

// Locker guards a critical section across processes. *cache.Lock satisfies it.
type Locker interface {
	Acquire(ctx context.Context) (release func(context.Context) error, ok bool, err error)
}

// EventNotifier is told about lifecycle changes for live admin views.
// *sse.HubNotifier satisfies it.
type EventNotifier interface {
	NotifyEventCreated(ev *models.ConversionEvent)
	NotifyEventFinished(ev *models.ConversionEvent)
}

type nopNotifier struct{}

func (nopNotifier) NotifyEventCreated(*models.ConversionEvent)  {}
func (nopNotifier) NotifyEventFinished(*models.ConversionEvent) {}
