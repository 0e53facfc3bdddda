package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	sharedcache "github.com/radieske/sports-live-feed/internal/shared/cache"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

func newTestCache(t *testing.T) (*Cache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestGetOdds_MissAndHit(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.GetOdds(ctx, "ev1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, mr.Set(sharedcache.OddsKey("ev1"), `{"entity_id":"ev1","prices":{"home":2.1,"away":3.3}}`))
	s, ok, err := c.GetOdds(ctx, "ev1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2.1, s.Prices.Home)
}

func TestGetOdds_CorruptValue(t *testing.T) {
	c, mr := newTestCache(t)
	require.NoError(t, mr.Set(sharedcache.OddsKey("ev1"), `not-json`))

	_, _, err := c.GetOdds(context.Background(), "ev1")
	assert.Error(t, err)
}

func TestHydration_ExpiresWithTTL(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()
	h := events.Hydration{Entities: []events.Entity{{EntityID: "ev1"}}}

	require.NoError(t, c.SetHydration(ctx, h, 2*time.Second))
	got, ok, err := c.GetHydration(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "ev1", got.Entities[0].EntityID)

	mr.FastForward(3 * time.Second)
	_, ok, err = c.GetHydration(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
}
