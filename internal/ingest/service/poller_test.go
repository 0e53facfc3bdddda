package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/feed"
	"github.com/radieske/sports-live-feed/internal/shared/config"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

type fakeSource struct {
	mu     sync.Mutex
	quotes map[string][]feed.Quote
	fail   map[string]error
	scores []feed.ScoreUpdate
	calls  int
}

func (f *fakeSource) FetchCatalog(context.Context) (events.Catalog, error) {
	return events.Catalog{Sports: []events.Sport{{Key: "soccer", Name: "Soccer"}}}, nil
}

func (f *fakeSource) FetchQuotes(_ context.Context, league string, _ feed.QuoteOptions) ([]feed.Quote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err := f.fail[league]; err != nil {
		return nil, err
	}
	return f.quotes[league], nil
}

func (f *fakeSource) FetchScores(context.Context, string, int) ([]feed.ScoreUpdate, error) {
	return f.scores, nil
}

type fakeSink struct {
	mu      sync.Mutex
	changes []events.ChangeMessage
	catalog []events.Catalog
}

func (f *fakeSink) PublishChanges(_ context.Context, msgs []events.ChangeMessage) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.changes = append(f.changes, msgs...)
	return nil
}

func (f *fakeSink) PublishCatalog(_ context.Context, cat events.Catalog) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.catalog = append(f.catalog, cat)
	return nil
}

func (f *fakeSink) count() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.changes), len(f.catalog)
}

func testIngestConfig() config.IngestConfig {
	return config.IngestConfig{
		Leagues:          []string{"soccer_epl", "basketball_nba"},
		LiveInterval:     time.Hour,
		UpcomingInterval: time.Hour,
		ScoresInterval:   time.Hour,
		CatalogInterval:  time.Hour,
		MissingCycles:    2,
	}
}

func TestPollQuotes_FailedLeagueDoesNotBlockOthers(t *testing.T) {
	src := &fakeSource{
		quotes: map[string][]feed.Quote{"soccer_epl": {quote("ev1", events.StatusLive, 2, 3)}},
		fail:   map[string]error{"basketball_nba": &feed.UpstreamError{Kind: feed.KindPermanent, Endpoint: "quotes", StatusCode: 404}},
	}
	sink := &fakeSink{}
	p := NewPoller(src, sink, testIngestConfig(), zap.NewNop(), prometheus.NewRegistry())

	err := p.PollQuotes(context.Background(), events.StatusLive)

	require.Error(t, err)
	assert.ErrorIs(t, err, feed.ErrPermanentUpstream)
	n, _ := sink.count()
	assert.Equal(t, 3, n, "entity:new + odds + market da liga saudável")
}

func TestPollScores_UpdatesKnownEntities(t *testing.T) {
	src := &fakeSource{
		quotes: map[string][]feed.Quote{"soccer_epl": {quote("ev1", events.StatusLive, 2, 3)}},
		scores: []feed.ScoreUpdate{{EntityID: "ev1", Status: events.StatusLive, Scores: &events.Scores{Home: 1}}},
	}
	sink := &fakeSink{}
	cfg := testIngestConfig()
	cfg.Leagues = []string{"soccer_epl"}
	p := NewPoller(src, sink, cfg, zap.NewNop(), prometheus.NewRegistry())

	require.NoError(t, p.PollQuotes(context.Background(), events.StatusLive))
	require.NoError(t, p.PollScores(context.Background()))

	sink.mu.Lock()
	last := sink.changes[len(sink.changes)-1]
	sink.mu.Unlock()
	assert.Equal(t, events.KindEntityUpdate, last.Type)
	assert.Equal(t, 1, last.Patch.Scores.Home)
}

func TestRun_PollsEveryCycleOnStartAndStopsOnCancel(t *testing.T) {
	src := &fakeSource{quotes: map[string][]feed.Quote{"soccer_epl": {quote("ev1", events.StatusUpcoming, 2, 3)}}}
	sink := &fakeSink{}
	p := NewPoller(src, sink, testIngestConfig(), zap.NewNop(), prometheus.NewRegistry())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	require.Eventually(t, func() bool {
		n, c := sink.count()
		return n >= 3 && c == 1
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("poller did not stop")
	}
}
