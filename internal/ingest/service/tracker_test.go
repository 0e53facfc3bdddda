package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/sports-live-feed/internal/feed"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

func quote(id string, status events.Status, home, away float64) feed.Quote {
	e := events.Entity{
		EntityID: id,
		SportKey: "soccer",
		LeagueID: "soccer_epl",
		Home:     events.Participant{Name: "Arsenal"},
		Away:     events.Participant{Name: "Chelsea"},
		Status:   status,
	}
	e.Normalize()
	return feed.Quote{
		Entity: e,
		Odds:   events.OddsSnapshot{EntityID: id, Prices: events.Prices{Home: home, Away: away}},
		Markets: []events.Market{{
			MarketID: events.MarketID(id, events.MarketKeyH2H),
			EntityID: id,
			Key:      events.MarketKeyH2H,
			Outcomes: []events.Outcome{{Name: "Arsenal", Price: home}, {Name: "Chelsea", Price: away}},
		}},
	}
}

func kinds(msgs []events.ChangeMessage) []events.Kind {
	out := make([]events.Kind, len(msgs))
	for i, m := range msgs {
		out[i] = m.Type
	}
	return out
}

func TestTracker_NewEntityEmitsFullState(t *testing.T) {
	tr := NewTracker(2)
	scope := Scope("soccer_epl", events.StatusUpcoming)

	msgs := tr.ObserveQuotes(scope, []feed.Quote{quote("ev1", events.StatusUpcoming, 2.1, 3.4)})

	assert.Equal(t, []events.Kind{events.KindEntityNew, events.KindOddsUpdate, events.KindMarketUpdate}, kinds(msgs))
	for _, m := range msgs {
		assert.NoError(t, m.Validate())
		assert.False(t, m.Timestamp.IsZero())
	}
	assert.Equal(t, 1, tr.Len())
}

func TestTracker_UnchangedCycleEmitsNothing(t *testing.T) {
	tr := NewTracker(2)
	scope := Scope("soccer_epl", events.StatusUpcoming)
	q := quote("ev1", events.StatusUpcoming, 2.1, 3.4)

	tr.ObserveQuotes(scope, []feed.Quote{q})
	assert.Empty(t, tr.ObserveQuotes(scope, []feed.Quote{q}))
}

func TestTracker_PriceMoveEmitsOddsAndMarket(t *testing.T) {
	tr := NewTracker(2)
	scope := Scope("soccer_epl", events.StatusLive)

	tr.ObserveQuotes(scope, []feed.Quote{quote("ev1", events.StatusLive, 2.1, 3.4)})
	msgs := tr.ObserveQuotes(scope, []feed.Quote{quote("ev1", events.StatusLive, 1.95, 3.6)})

	require.Equal(t, []events.Kind{events.KindOddsUpdate, events.KindMarketUpdate}, kinds(msgs))
	assert.Equal(t, 1.95, msgs[0].Odds.Prices.Home)
	assert.Nil(t, msgs[1].Market.MarketStatus)
}

func TestTracker_StatusTransitionAndSuspension(t *testing.T) {
	tr := NewTracker(2)

	tr.ObserveQuotes(Scope("soccer_epl", events.StatusUpcoming), []feed.Quote{quote("ev1", events.StatusUpcoming, 2.1, 3.4)})

	live := quote("ev1", events.StatusLive, 0, 0)
	live.Entity.MarketStatus = events.MarketSuspended
	msgs := tr.ObserveQuotes(Scope("soccer_epl", events.StatusLive), []feed.Quote{live})

	require.Equal(t, []events.Kind{events.KindEntityUpdate, events.KindOddsUpdate, events.KindMarketUpdate}, kinds(msgs))
	require.NotNil(t, msgs[0].Patch.Status)
	assert.Equal(t, events.StatusLive, *msgs[0].Patch.Status)
	assert.Nil(t, msgs[0].Patch.MarketStatus, "status de mercado viaja em market:update")
	require.NotNil(t, msgs[2].Market.MarketStatus)
	assert.Equal(t, events.MarketSuspended, *msgs[2].Market.MarketStatus)
}

func TestTracker_RemovesAfterMissingCycles(t *testing.T) {
	tr := NewTracker(2)
	scope := Scope("soccer_epl", events.StatusLive)
	other := Scope("basketball_nba", events.StatusLive)

	tr.ObserveQuotes(scope, []feed.Quote{quote("ev1", events.StatusLive, 2, 3)})

	assert.Empty(t, tr.ObserveQuotes(other, nil), "outro escopo não conta ausência")
	assert.Empty(t, tr.ObserveQuotes(scope, nil))

	msgs := tr.ObserveQuotes(scope, nil)
	require.Len(t, msgs, 1)
	assert.Equal(t, events.KindEntityRemove, msgs[0].Type)
	assert.Equal(t, RemovalMissing, msgs[0].Removal.Reason)
	assert.Equal(t, 0, tr.Len())
}

func TestTracker_ScoresCompleteAndCloseMarket(t *testing.T) {
	tr := NewTracker(1)
	scope := Scope("soccer_epl", events.StatusLive)
	tr.ObserveQuotes(scope, []feed.Quote{quote("ev1", events.StatusLive, 2, 3)})

	msgs := tr.ObserveScores([]feed.ScoreUpdate{
		{EntityID: "ev1", Status: events.StatusLive, Scores: &events.Scores{Home: 1, Away: 0}},
		{EntityID: "unknown", Status: events.StatusLive, Scores: &events.Scores{Home: 9}},
	})
	require.Equal(t, []events.Kind{events.KindEntityUpdate}, kinds(msgs))
	assert.Nil(t, msgs[0].Patch.Status)
	assert.Equal(t, &events.Scores{Home: 1, Away: 0}, msgs[0].Patch.Scores)

	msgs = tr.ObserveScores([]feed.ScoreUpdate{
		{EntityID: "ev1", Status: events.StatusCompleted, Scores: &events.Scores{Home: 2, Away: 0}},
	})
	require.Equal(t, []events.Kind{events.KindEntityUpdate, events.KindMarketUpdate}, kinds(msgs))
	assert.Equal(t, events.MarketClosed, *msgs[1].Market.MarketStatus)

	// odds atrasadas não reabrem a partida encerrada
	msgs = tr.ObserveQuotes(scope, []feed.Quote{quote("ev1", events.StatusLive, 2, 3)})
	assert.Empty(t, msgs)

	msgs = tr.ObserveQuotes(scope, nil)
	require.Len(t, msgs, 1)
	assert.Equal(t, RemovalCompleted, msgs[0].Removal.Reason)
}

func TestTracker_StampsCycleTimestamp(t *testing.T) {
	tr := NewTracker(1)
	at := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return at }

	msgs := tr.ObserveQuotes("x/live", []feed.Quote{quote("ev1", events.StatusLive, 2, 3)})
	for _, m := range msgs {
		assert.Equal(t, at, m.Timestamp)
	}
}
