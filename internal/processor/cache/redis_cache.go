package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	sharedcache "github.com/radieske/sports-live-feed/internal/shared/cache"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// RedisCache guarda a última foto de preços por partida e o catálogo corrente.
// Client: cliente Redis
// TTL: expiração das odds (o catálogo não expira)
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: c, TTL: ttl}
}

// SetCurrent armazena a odd atual e invalida a hidratação em cache
func (r *RedisCache) SetCurrent(ctx context.Context, s events.OddsSnapshot) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, sharedcache.OddsKey(s.EntityID), b, r.TTL)
	pipe.Del(ctx, sharedcache.KeyHydration)
	_, err = pipe.Exec(ctx)
	return err
}

// Delete remove as odds de uma partida encerrada
func (r *RedisCache) Delete(ctx context.Context, entityID string) error {
	return r.Client.Del(ctx, sharedcache.OddsKey(entityID), sharedcache.KeyHydration).Err()
}

// Invalidate descarta a hidratação em cache após mudanças de partida ou mercado
func (r *RedisCache) Invalidate(ctx context.Context) error {
	return r.Client.Del(ctx, sharedcache.KeyHydration).Err()
}

func (r *RedisCache) SetCatalog(ctx context.Context, cat events.Catalog) error {
	b, err := json.Marshal(cat)
	if err != nil {
		return err
	}
	pipe := r.Client.TxPipeline()
	pipe.Set(ctx, sharedcache.KeyCatalog, b, 0)
	pipe.Del(ctx, sharedcache.KeyHydration)
	_, err = pipe.Exec(ctx)
	return err
}
