package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/gateway/repo"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

type fakeRepo struct {
	filter    repo.Filter
	entities  map[string]events.Entity
	odds      map[string]events.OddsSnapshot
	catalog   *events.Catalog
	oddsReads int
	err       error
}

func (f *fakeRepo) ListEntities(_ context.Context, flt repo.Filter) ([]events.Entity, error) {
	f.filter = flt
	out := []events.Entity{}
	for _, e := range f.entities {
		out = append(out, e)
	}
	return out, f.err
}

func (f *fakeRepo) GetEntity(_ context.Context, id string) (events.Entity, bool, error) {
	e, ok := f.entities[id]
	return e, ok, f.err
}

func (f *fakeRepo) ListMarkets(_ context.Context, id string) ([]events.Market, error) {
	return []events.Market{{MarketID: events.MarketID(id, "h2h"), EntityID: id, Key: "h2h"}}, f.err
}

func (f *fakeRepo) GetOdds(_ context.Context, id string) (events.OddsSnapshot, bool, error) {
	f.oddsReads++
	s, ok := f.odds[id]
	return s, ok, f.err
}

func (f *fakeRepo) GetCatalog(context.Context) (events.Catalog, bool, error) {
	if f.catalog == nil {
		return events.Catalog{}, false, f.err
	}
	return *f.catalog, true, f.err
}

type fakeCache struct {
	odds    map[string]events.OddsSnapshot
	catalog *events.Catalog
	err     error
}

func (c *fakeCache) GetOdds(_ context.Context, id string) (events.OddsSnapshot, bool, error) {
	s, ok := c.odds[id]
	return s, ok, c.err
}

func (c *fakeCache) GetCatalog(context.Context) (events.Catalog, bool, error) {
	if c.catalog == nil {
		return events.Catalog{}, false, c.err
	}
	return *c.catalog, true, c.err
}

type fakeHydrator struct{ err error }

func (h fakeHydrator) Hydrate(context.Context) (events.Hydration, error) {
	if h.err != nil {
		return events.Hydration{}, h.err
	}
	return events.Hydration{Entities: []events.Entity{{EntityID: "ev1"}}}, nil
}

func newTestAPI(r *fakeRepo, c *fakeCache) http.Handler {
	return (&API{ReadRepo: r, Cache: c, Hydrator: fakeHydrator{}, Log: zap.NewNop(), AllowedOrigins: []string{"*"}}).Router()
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHydrate_Envelope(t *testing.T) {
	rec := get(t, newTestAPI(&fakeRepo{}, &fakeCache{}), "/v1/hydrate")

	require.Equal(t, http.StatusOK, rec.Code)
	var body events.HydrationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.Len(t, body.Data.Entities, 1)
}

func TestHydrate_Unavailable(t *testing.T) {
	api := (&API{ReadRepo: &fakeRepo{}, Cache: &fakeCache{}, Hydrator: fakeHydrator{err: errors.New("db down")}, Log: zap.NewNop()}).Router()

	rec := get(t, api, "/v1/hydrate")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"success":false`)
}

func TestListEntities_PassesFilter(t *testing.T) {
	r := &fakeRepo{entities: map[string]events.Entity{"ev1": {EntityID: "ev1"}}}

	rec := get(t, newTestAPI(r, &fakeCache{}), "/v1/entities?status=live&league=soccer_epl")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, repo.Filter{Status: events.StatusLive, League: "soccer_epl"}, r.filter)
}

func TestListEntities_InvalidStatus(t *testing.T) {
	rec := get(t, newTestAPI(&fakeRepo{}, &fakeCache{}), "/v1/entities?status=paused")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetEntity_NotFound(t *testing.T) {
	rec := get(t, newTestAPI(&fakeRepo{}, &fakeCache{}), "/v1/entities/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetOdds_CacheFirst(t *testing.T) {
	r := &fakeRepo{odds: map[string]events.OddsSnapshot{"ev1": {EntityID: "ev1", Prices: events.Prices{Home: 9}}}}
	c := &fakeCache{odds: map[string]events.OddsSnapshot{"ev1": {EntityID: "ev1", Prices: events.Prices{Home: 1.9}}}}
	api := newTestAPI(r, c)

	rec := get(t, api, "/v1/entities/ev1/odds")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"home":1.9`)
	assert.Equal(t, 0, r.oddsReads)

	c.err = errors.New("redis down")
	c.odds = nil
	rec = get(t, api, "/v1/entities/ev1/odds")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"home":9`)
	assert.Equal(t, 1, r.oddsReads)
}

func TestGetCatalog_FallsBackToDB(t *testing.T) {
	r := &fakeRepo{catalog: &events.Catalog{Leagues: []events.League{{ID: "soccer_epl"}}}}

	rec := get(t, newTestAPI(r, &fakeCache{}), "/v1/catalog")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "soccer_epl")

	rec = get(t, newTestAPI(&fakeRepo{}, &fakeCache{}), "/v1/catalog")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMarkets(t *testing.T) {
	rec := get(t, newTestAPI(&fakeRepo{}, &fakeCache{}), "/v1/entities/ev1/markets")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"market_id":"ev1:h2h"`)
}

func TestCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/v1/entities", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()

	newTestAPI(&fakeRepo{}, &fakeCache{}).ServeHTTP(rec, req)

	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}
