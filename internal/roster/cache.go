package roster

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/clinicops/clinic-platform/pkg/logging"
)

// Cached wraps a Provider with a short-TTL Redis read-through cache.
// The TTL must stay small: roster changes made mid-day have to surface
// within it. Cache failures fall through to the inner provider.
type Cached struct {
	inner  Provider
	client *redis.Client
	ttl    time.Duration
	logger *logging.Logger
}

// NewCached creates a caching roster provider.
func NewCached(inner Provider, client *redis.Client, ttl time.Duration, logger *logging.Logger) *Cached {
	if logger == nil {
		logger = logging.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Cached{inner: inner, client: client, ttl: ttl, logger: logger}
}

func (c *Cached) IsDoctor(ctx context.Context, orgID string, userID uuid.UUID) (bool, error) {
	key := fmt.Sprintf("roster:doctor:%s:%s", orgID, userID)
	return c.lookup(ctx, key, func() (bool, error) {
		return c.inner.IsDoctor(ctx, orgID, userID)
	})
}

func (c *Cached) IsOnDuty(ctx context.Context, orgID string, userID uuid.UUID, day time.Time) (bool, error) {
	key := fmt.Sprintf("roster:onduty:%s:%s:%s", orgID, userID, day.Format("2006-01-02"))
	return c.lookup(ctx, key, func() (bool, error) {
		return c.inner.IsOnDuty(ctx, orgID, userID, day)
	})
}

func (c *Cached) lookup(ctx context.Context, key string, load func() (bool, error)) (bool, error) {
	if cached, err := c.client.Get(ctx, key).Result(); err == nil {
		return cached == "1", nil
	} else if err != redis.Nil {
		c.logger.Warn("roster cache read failed", "key", key, "error", err)
	}

	value, err := load()
	if err != nil {
		return false, err
	}

	stored := "0"
	if value {
		stored = "1"
	}
	if err := c.client.Set(ctx, key, stored, c.ttl).Err(); err != nil {
		c.logger.Warn("roster cache write failed", "key", key, "error", err)
	}
	return value, nil
}
