package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	sharedcache "github.com/radieske/sports-live-feed/internal/shared/cache"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Cache lê as chaves mantidas pelo processor e guarda a hidratação por pouco tempo
type Cache struct{ R *redis.Client }

func New(r *redis.Client) *Cache { return &Cache{R: r} }

func (c *Cache) getJSON(ctx context.Context, key string, dst any) (bool, error) {
	b, err := c.R.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, json.Unmarshal(b, dst)
}

func (c *Cache) GetOdds(ctx context.Context, entityID string) (events.OddsSnapshot, bool, error) {
	var s events.OddsSnapshot
	ok, err := c.getJSON(ctx, sharedcache.OddsKey(entityID), &s)
	return s, ok, err
}

func (c *Cache) GetCatalog(ctx context.Context) (events.Catalog, bool, error) {
	var cat events.Catalog
	ok, err := c.getJSON(ctx, sharedcache.KeyCatalog, &cat)
	return cat, ok, err
}

func (c *Cache) GetHydration(ctx context.Context) (events.Hydration, bool, error) {
	var h events.Hydration
	ok, err := c.getJSON(ctx, sharedcache.KeyHydration, &h)
	return h, ok, err
}

// SetHydration grava o estado completo; o processor apaga a chave a cada mudança
func (c *Cache) SetHydration(ctx context.Context, h events.Hydration, ttl time.Duration) error {
	b, err := json.Marshal(h)
	if err != nil {
		return err
	}
	return c.R.Set(ctx, sharedcache.KeyHydration, b, ttl).Err()
}
