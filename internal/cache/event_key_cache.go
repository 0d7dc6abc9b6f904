package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// EventKeyCache remembers which event id owns an outer_event_id so repeated
// submissions can be recognised without a database round trip. The database
// unique index stays the source of truth; this is only a fast path.
type EventKeyCache struct {
	redis *RedisClient
	ttl   time.Duration
}

// NewEventKeyCache creates a new EventKeyCache.
func NewEventKeyCache(redis *RedisClient, ttl time.Duration) *EventKeyCache {
	return &EventKeyCache{redis: redis, ttl: ttl}
}

func (c *EventKeyCache) key(outerEventID string) string {
	return fmt.Sprintf("conv:outer:%s", outerEventID)
}

// Lookup returns the event id stored for outerEventID, or found=false on a miss.
func (c *EventKeyCache) Lookup(ctx context.Context, outerEventID string) (int64, bool, error) {
	raw, err := c.redis.Get(ctx, c.key(outerEventID))
	if errors.Is(err, ErrCacheMiss) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("corrupt cache entry for %s: %w", outerEventID, err)
	}
	return id, true, nil
}

// Remember records eventID as the owner of outerEventID. The first writer wins.
func (c *EventKeyCache) Remember(ctx context.Context, outerEventID string, eventID int64) error {
	_, err := c.redis.SetNX(ctx, c.key(outerEventID), strconv.FormatInt(eventID, 10), c.ttl)
	return err
}
