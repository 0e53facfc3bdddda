package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedcache "github.com/radieske/sports-live-feed/internal/shared/cache"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

func TestRedisCache_SetCurrentAndDelete(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	c := NewRedisCache(rdb, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set(sharedcache.KeyHydration, "stale"))
	require.NoError(t, c.SetCurrent(ctx, events.OddsSnapshot{EntityID: "ev1", Prices: events.Prices{Home: 1.9, Away: 2.2}}))

	raw, err := mr.Get(sharedcache.OddsKey("ev1"))
	require.NoError(t, err)
	var got events.OddsSnapshot
	require.NoError(t, json.Unmarshal([]byte(raw), &got))
	assert.Equal(t, 1.9, got.Prices.Home)
	assert.Equal(t, time.Minute, mr.TTL(sharedcache.OddsKey("ev1")))
	assert.False(t, mr.Exists(sharedcache.KeyHydration), "odds novas invalidam a hidratação")

	require.NoError(t, c.Delete(ctx, "ev1"))
	assert.False(t, mr.Exists(sharedcache.OddsKey("ev1")))
}

func TestRedisCache_CatalogDoesNotExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	c := NewRedisCache(rdb, time.Minute)

	require.NoError(t, c.SetCatalog(context.Background(), events.Catalog{Sports: []events.Sport{{Key: "soccer"}}}))
	assert.True(t, mr.Exists(sharedcache.KeyCatalog))
	assert.Equal(t, time.Duration(0), mr.TTL(sharedcache.KeyCatalog))
}
