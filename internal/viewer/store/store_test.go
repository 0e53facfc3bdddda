package store

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

func match(id, league string, st events.Status, kickoff int) events.Entity {
	return events.Entity{
		EntityID:     id,
		LeagueID:     league,
		Home:         events.Participant{Name: id + "-home"},
		Away:         events.Participant{Name: id + "-away"},
		CommenceTime: time.Date(2026, 10, 15, kickoff, 0, 0, 0, time.UTC),
		Status:       st,
	}
}

func seeded(t *testing.T) *Store {
	t.Helper()
	s := New()
	require.True(t, s.ApplyEntity(match("ev1", "soccer_epl", events.StatusUpcoming, 19)))
	require.True(t, s.ApplyEntity(match("ev2", "soccer_epl", events.StatusLive, 17)))
	require.True(t, s.ApplyEntity(match("ev3", "basketball_nba", events.StatusLive, 23)))
	return s
}

func counter(s *Store) *int {
	n := 0
	s.OnChange(func(*State) { n++ })
	return &n
}

func TestApplyEntityPatch_NoOpKeepsSameContainer(t *testing.T) {
	s := seeded(t)
	notified := counter(s)
	before := s.Snapshot()

	league := "soccer_epl"
	changed := s.ApplyEntityPatch(events.EntityPatch{EntityID: "ev1", LeagueID: &league})

	assert.False(t, changed)
	assert.Same(t, before, s.Snapshot())
	assert.Equal(t, 0, *notified)
}

func TestApplyEntityPatch_UnknownEntityIgnored(t *testing.T) {
	s := New()
	live := events.StatusLive
	assert.False(t, s.ApplyEntityPatch(events.EntityPatch{EntityID: "ghost", Status: &live}))
	assert.Equal(t, 0, s.Len())
}

func TestApplyEntityPatch_OldSnapshotUntouched(t *testing.T) {
	s := seeded(t)
	before := s.Snapshot()

	live := events.StatusLive
	require.True(t, s.ApplyEntityPatch(events.EntityPatch{EntityID: "ev1", Status: &live}))

	assert.Equal(t, events.StatusUpcoming, before.Entities["ev1"].Status)
	got, _ := s.Get("ev1")
	assert.Equal(t, events.StatusLive, got.Status)
	assert.Equal(t, before.Version+1, s.Version())
}

func TestApplyOddsSnapshot_OnlyWhenAPriceDiffers(t *testing.T) {
	s := seeded(t)
	notified := counter(s)

	o := events.OddsSnapshot{EntityID: "ev1", Prices: events.Prices{Home: 2.10, Draw: 3.4, Away: 3.6}}
	assert.True(t, s.ApplyOddsSnapshot(o))

	o.Timestamp = time.Now()
	assert.False(t, s.ApplyOddsSnapshot(o), "só o timestamp mudou")

	o.Prices.Home = 1.95
	assert.True(t, s.ApplyOddsSnapshot(o))
	got, _ := s.Odds("ev1")
	assert.Equal(t, 1.95, got.Prices.Home)
	assert.Equal(t, 3.4, got.Prices.Draw)
	assert.Equal(t, 3.6, got.Prices.Away)
	assert.Equal(t, 2, *notified)
}

func TestApplyOddsSnapshot_UnknownEntityIgnored(t *testing.T) {
	s := seeded(t)
	notified := counter(s)
	before := s.Snapshot()

	assert.False(t, s.ApplyOddsSnapshot(events.OddsSnapshot{EntityID: "ghost", Prices: events.Prices{Home: 2.0}}))
	_, ok := s.Odds("ghost")
	assert.False(t, ok)
	assert.Same(t, before, s.Snapshot())
	assert.Zero(t, *notified)

	// depois que a partida chega a cotação passa
	require.True(t, s.ApplyEntity(match("ghost", "soccer_epl", events.StatusLive, 20)))
	assert.True(t, s.ApplyOddsSnapshot(events.OddsSnapshot{EntityID: "ghost", Prices: events.Prices{Home: 2.0}}))
	_, ok = s.Odds("ghost")
	assert.True(t, ok)
}

func TestApplyBatch_OneMutationWithFinalFields(t *testing.T) {
	s := seeded(t)
	notified := counter(s)
	v := s.Version()

	batch := []events.ChangeMessage{}
	for i := 1; i <= 5; i++ {
		sc := events.Scores{Home: i}
		batch = append(batch, events.UpdateMessage(events.EntityPatch{EntityID: "ev2", Scores: &sc}))
		batch = append(batch, events.OddsMessage(events.OddsSnapshot{EntityID: "ev2", Prices: events.Prices{Home: 1 + float64(i)/10}}))
	}

	assert.True(t, s.ApplyBatch(batch))
	assert.Equal(t, 1, *notified)
	assert.Equal(t, v+1, s.Version())
	e, _ := s.Get("ev2")
	assert.Equal(t, 5, e.Scores.Home)
	o, _ := s.Odds("ev2")
	assert.Equal(t, 1.5, o.Prices.Home)
}

func TestApplyBatch_AllNoOpsDoNotNotify(t *testing.T) {
	s := seeded(t)
	notified := counter(s)
	before := s.Snapshot()

	live := events.StatusLive
	msgs := []events.ChangeMessage{
		events.UpdateMessage(events.EntityPatch{EntityID: "ev2", Status: &live}),
		events.RemoveMessage("ghost", "missing"),
	}
	assert.False(t, s.ApplyBatch(msgs))
	assert.Same(t, before, s.Snapshot())
	assert.Equal(t, 0, *notified)
}

func TestApplyMarketPatch_SuspensionDisablesSelection(t *testing.T) {
	s := seeded(t)
	s.ApplyOddsSnapshot(events.OddsSnapshot{EntityID: "ev1", Prices: events.Prices{Home: 2.1, Away: 3}})
	require.True(t, s.PriceSelectable("ev1", events.OutcomeHome))
	assert.False(t, s.PriceSelectable("ev1", events.OutcomeDraw), "preço zerado está travado")

	suspended := events.MarketSuspended
	require.True(t, s.Apply(events.MarketMessage(events.MarketPatch{EntityID: "ev1", MarketStatus: &suspended})))

	assert.False(t, s.PriceSelectable("ev1", events.OutcomeHome))
	o, _ := s.Odds("ev1")
	assert.Equal(t, 2.1, o.Prices.Home, "o preço continua lá")
}

func TestApplyMarketPatch_UpsertsMarkets(t *testing.T) {
	s := seeded(t)
	h2h := events.Market{MarketID: "ev1:h2h", EntityID: "ev1", Key: "h2h", Outcomes: []events.Outcome{{Name: "A", Price: 2}}}
	totals := events.Market{MarketID: "ev1:totals", EntityID: "ev1", Key: "totals"}

	require.True(t, s.ApplyMarketPatch(events.MarketPatch{EntityID: "ev1", Markets: []events.Market{totals, h2h}}))
	assert.False(t, s.ApplyMarketPatch(events.MarketPatch{EntityID: "ev1", Markets: []events.Market{h2h}}))

	h2h.Outcomes = []events.Outcome{{Name: "A", Price: 2.2}}
	require.True(t, s.ApplyMarketPatch(events.MarketPatch{EntityID: "ev1", Markets: []events.Market{h2h}}))

	ms := s.Markets("ev1")
	require.Len(t, ms, 2)
	assert.Equal(t, "ev1:h2h", ms[0].MarketID)
	assert.Equal(t, 2.2, ms[0].Outcomes[0].Price)
}

func TestRemoveEntity_DropsMarketsAndOdds(t *testing.T) {
	s := seeded(t)
	s.ApplyOddsSnapshot(events.OddsSnapshot{EntityID: "ev2", Prices: events.Prices{Home: 2}})
	s.ApplyMarketPatch(events.MarketPatch{EntityID: "ev2", Markets: []events.Market{{MarketID: "ev2:h2h", EntityID: "ev2"}}})

	require.True(t, s.RemoveEntity("ev2"))

	_, ok := s.Get("ev2")
	assert.False(t, ok)
	_, ok = s.Odds("ev2")
	assert.False(t, ok)
	assert.Empty(t, s.Markets("ev2"))
	assert.False(t, s.RemoveEntity("ev2"))
}

func TestSelectors(t *testing.T) {
	s := seeded(t)

	live := s.ByStatus(events.StatusLive)
	require.Len(t, live, 2)
	assert.Equal(t, "ev2", live[0].EntityID, "ordenado por início")

	epl := s.ByLeague("soccer_epl")
	require.Len(t, epl, 2)
	assert.Equal(t, []string{"ev2", "ev1"}, []string{epl[0].EntityID, epl[1].EntityID})
	assert.Equal(t, 3, s.Len())
}

func TestApplyHydration_ReplacesEverything(t *testing.T) {
	s := seeded(t)
	notified := counter(s)

	s.ApplyHydration(events.Hydration{
		Entities: []events.Entity{match("ev9", "soccer_epl", events.StatusLive, 20)},
		Odds: []events.OddsSnapshot{
			{EntityID: "ev9", Prices: events.Prices{Home: 2}},
			{EntityID: "orphan", Prices: events.Prices{Home: 2}},
		},
		Catalog: events.Catalog{Leagues: []events.League{{ID: "soccer_epl"}}},
	})

	assert.Equal(t, 1, s.Len())
	_, ok := s.Odds("orphan")
	assert.False(t, ok)
	assert.Equal(t, "soccer_epl", s.Catalog().Leagues[0].ID)
	assert.Equal(t, 1, *notified)
}

func TestApplyEntity_RedeliveryIsNoOp(t *testing.T) {
	s := seeded(t)
	before := s.Snapshot()

	assert.False(t, s.ApplyEntity(match("ev1", "soccer_epl", events.StatusUpcoming, 19)))
	assert.Same(t, before, s.Snapshot())
}

// aplicar o mesmo patch duas vezes no store dá o mesmo estado que aplicar uma vez
func TestApplyEntityPatch_Idempotent_Property(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	statuses := []events.Status{events.StatusUpcoming, events.StatusLive, events.StatusCompleted}
	markets := []events.MarketStatus{events.MarketOpen, events.MarketSuspended, events.MarketClosed}

	properties.Property("store.apply(p) twice == once", prop.ForAll(
		func(statusIdx, marketIdx, home, away int, withScores bool) bool {
			s := New()
			s.ApplyEntity(match("ev1", "soccer_epl", events.StatusLive, 19))

			st, ms := statuses[statusIdx], markets[marketIdx]
			p := events.EntityPatch{EntityID: "ev1", Status: &st, MarketStatus: &ms}
			if withScores {
				p.Scores = &events.Scores{Home: home, Away: away}
			}

			s.ApplyEntityPatch(p)
			once := s.Snapshot()
			changed := s.ApplyEntityPatch(p)
			return !changed && s.Snapshot() == once
		},
		gen.IntRange(0, 2),
		gen.IntRange(0, 2),
		gen.IntRange(0, 9),
		gen.IntRange(0, 9),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
