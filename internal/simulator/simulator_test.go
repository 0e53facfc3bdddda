package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/feed"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newProvider(c *clock) *Provider {
	return NewProvider(ProviderOptions{
		Leagues: []League{
			{Key: "soccer_epl", Group: "Soccer", Title: "EPL", Draw: true, Teams: []string{"Arsenal", "Chelsea", "Everton"}},
			{Key: "basketball_nba", Group: "Basketball", Title: "NBA", Teams: []string{"Lakers", "Celtics"}},
		},
		MatchesPerLeague: 2,
		MatchDuration:    10 * time.Minute,
		KickoffSpacing:   5 * time.Minute,
		Seed:             42,
		Now:              c.now,
	})
}

func TestProvider_LifecycleFollowsClock(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)}
	p := newProvider(c)

	// a primeira partida de cada liga já começou
	live, ok := p.Odds("soccer_epl", events.StatusLive, []string{"h2h"})
	require.True(t, ok)
	require.Len(t, live, 1)
	first := live[0].ID
	upcoming, _ := p.Odds("soccer_epl", events.StatusUpcoming, []string{"h2h"})
	require.Len(t, upcoming, 1)
	second := upcoming[0].ID

	c.t = c.t.Add(7 * time.Minute)
	p.Step()

	live, _ = p.Odds("soccer_epl", events.StatusLive, []string{"h2h"})
	require.Len(t, live, 1)
	assert.Equal(t, second, live[0].ID, "completed matches leave the odds listing")

	scores, _ := p.Scores("soccer_epl", 1)
	var done bool
	for _, s := range scores {
		if s.ID == first {
			done = s.Completed
			assert.Len(t, s.Scores, 2)
		}
	}
	assert.True(t, done)

	noLookback, _ := p.Scores("soccer_epl", 0)
	for _, s := range noLookback {
		assert.NotEqual(t, first, s.ID)
	}
}

func TestProvider_NoDrawWithoutDrawSports(t *testing.T) {
	c := &clock{t: time.Date(2026, 5, 1, 20, 0, 0, 0, time.UTC)}
	p := newProvider(c)

	evs, ok := p.Odds("basketball_nba", events.StatusUpcoming, []string{"h2h", "totals"})
	require.True(t, ok)
	require.NotEmpty(t, evs)
	for _, bm := range evs[0].Bookmakers {
		require.Len(t, bm.Markets, 2)
		assert.Len(t, bm.Markets[0].Outcomes, 2)
	}
	_, ok = p.Odds("curling_world", events.StatusLive, nil)
	assert.False(t, ok)
}

func newTestServer(t *testing.T, opts ServerOptions) (*httptest.Server, *Provider) {
	t.Helper()
	c := &clock{t: time.Now().UTC().Add(-2 * time.Minute)}
	p := newProvider(c)
	c.t = time.Now().UTC()
	s := NewServer(p, opts, zap.NewNop(), prometheus.NewRegistry())
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv, p
}

func TestServer_RejectsWrongKey(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{APIKey: "k"})

	resp, err := http.Get(srv.URL + "/v4/sports?apiKey=nope")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServer_ChargesMarketsTimesRegions(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{APIKey: "k", Quota: 10})

	resp, err := http.Get(srv.URL + "/v4/sports/soccer_epl/odds?apiKey=k&regions=eu,uk&markets=h2h,totals&status=live")
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "4", resp.Header.Get("x-requests-last"))
	assert.Equal(t, "4", resp.Header.Get("x-requests-used"))
	assert.Equal(t, "6", resp.Header.Get("x-requests-remaining"))
	var evs []Event
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&evs))
}

func TestServer_InjectedRateLimit(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{RateLimitEvery: 2, RetryAfter: 3 * time.Second})

	codes := make([]int, 0, 2)
	for i := 0; i < 2; i++ {
		resp, err := http.Get(srv.URL + "/v4/sports/soccer_epl/scores")
		require.NoError(t, err)
		codes = append(codes, resp.StatusCode)
		if resp.StatusCode == http.StatusTooManyRequests {
			assert.Equal(t, "3", resp.Header.Get("Retry-After"))
		}
		resp.Body.Close()
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestServer_ServesTheFeedClient(t *testing.T) {
	srv, _ := newTestServer(t, ServerOptions{APIKey: "k"})
	fc := feed.NewClient(feed.Options{
		BaseURL:    srv.URL,
		APIKey:     "k",
		Regions:    []string{"eu"},
		Markets:    []string{"h2h"},
		Bookmakers: []string{"simbook"},
		MaxRetries: 0,
		Registerer: prometheus.NewRegistry(),
	}, zap.NewNop())
	ctx := context.Background()

	cat, err := fc.FetchCatalog(ctx)
	require.NoError(t, err)
	assert.Len(t, cat.Leagues, 2)
	assert.Len(t, cat.Sports, 2)

	quotes, err := fc.FetchQuotes(ctx, "soccer_epl", feed.QuoteOptions{Status: events.StatusLive})
	require.NoError(t, err)
	require.NotEmpty(t, quotes)
	q := quotes[0]
	assert.Equal(t, events.StatusLive, q.Entity.Status)
	assert.Greater(t, q.Odds.Prices.Home, 0.0)
	assert.Greater(t, q.Odds.Prices.Draw, 0.0)
	assert.Equal(t, int64(1), fc.Usage().CreditsUsed)

	_, err = fc.FetchQuotes(ctx, "curling_world", feed.QuoteOptions{Status: events.StatusLive})
	assert.True(t, errors.Is(err, feed.ErrPermanentUpstream))
}
