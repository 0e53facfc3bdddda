package feed

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Quote é a cotação normalizada de uma partida
type Quote struct {
	Entity  events.Entity
	Odds    events.OddsSnapshot
	Markets []events.Market
}

// ScoreUpdate é o placar normalizado de uma partida
type ScoreUpdate struct {
	EntityID   string
	LeagueID   string
	Status     events.Status
	Scores     *events.Scores
	LastUpdate time.Time
}

var marketNames = map[string]string{
	events.MarketKeyH2H:     "Match Result",
	events.MarketKeySpreads: "Handicap",
	events.MarketKeyTotals:  "Total Points",
}

// sportKeyOf extrai o esporte da chave da liga ("soccer_epl" -> "soccer")
func sportKeyOf(leagueID string) string {
	if i := strings.Index(leagueID, "_"); i > 0 {
		return leagueID[:i]
	}
	return leagueID
}

func normalizeCatalog(raw []rawSport, now time.Time) events.Catalog {
	cat := events.Catalog{UpdatedAt: now}
	seen := make(map[string]bool)
	for _, s := range raw {
		key := sportKeyOf(s.Key)
		if !seen[key] {
			seen[key] = true
			cat.Sports = append(cat.Sports, events.Sport{Key: key, Name: s.Group})
		}
		cat.Leagues = append(cat.Leagues, events.League{
			ID:       s.Key,
			SportKey: key,
			Name:     s.Title,
			Active:   s.Active,
		})
	}
	sort.Slice(cat.Sports, func(i, j int) bool { return cat.Sports[i].Key < cat.Sports[j].Key })
	sort.Slice(cat.Leagues, func(i, j int) bool { return cat.Leagues[i].ID < cat.Leagues[j].ID })
	return cat
}

// normalizeEvent converte o evento cru. status vazio = deduzido pelo horário de início.
func normalizeEvent(ev rawEvent, status events.Status, preferred []string, now time.Time) Quote {
	if status == "" {
		status = events.StatusUpcoming
		if !ev.CommenceTime.After(now) {
			status = events.StatusLive
		}
	}

	e := events.Entity{
		EntityID:     ev.ID,
		SportKey:     sportKeyOf(ev.SportKey),
		LeagueID:     ev.SportKey,
		LeagueName:   ev.SportTitle,
		Home:         events.Participant{Name: ev.HomeTeam},
		Away:         events.Participant{Name: ev.AwayTeam},
		CommenceTime: ev.CommenceTime.UTC(),
		Status:       status,
		Source:       events.SourceFeed,
		RawQuotes:    ev.rawBookmakers,
	}

	markets := pickMarkets(ev, preferred)

	var prices events.Prices
	ts := now
	if h2h, ok := markets[events.MarketKeyH2H]; ok {
		prices = h2hPrices(h2h.market, ev.HomeTeam, ev.AwayTeam)
		if !h2h.market.LastUpdate.IsZero() {
			ts = h2h.market.LastUpdate
		}
	}

	// sem preço nenhum o mercado fica suspenso
	e.MarketStatus = events.MarketOpen
	if prices.Locked() {
		e.MarketStatus = events.MarketSuspended
	}
	e.Normalize()

	q := Quote{
		Entity: e,
		Odds:   events.OddsSnapshot{EntityID: ev.ID, Prices: prices, Timestamp: ts.UTC()},
	}

	keys := make([]string, 0, len(markets))
	for k := range markets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m := markets[k].market
		out := events.Market{
			MarketID: events.MarketID(ev.ID, k),
			EntityID: ev.ID,
			Key:      k,
			Name:     marketName(k),
		}
		for _, o := range m.Outcomes {
			out.Outcomes = append(out.Outcomes, events.Outcome{Name: o.Name, Price: o.Price, Point: o.Point})
		}
		q.Markets = append(q.Markets, out)
	}
	return q
}

type pickedMarket struct {
	bookmaker string
	market    rawMarket
}

// pickMarkets escolhe, para cada chave de mercado, a casa preferida;
// sem preferência disponível usa a primeira casa que cota o mercado.
func pickMarkets(ev rawEvent, preferred []string) map[string]pickedMarket {
	rank := make(map[string]int, len(preferred))
	for i, b := range preferred {
		rank[b] = i
	}

	out := make(map[string]pickedMarket)
	bestRank := make(map[string]int)
	for _, bm := range ev.Bookmakers {
		r, ok := rank[bm.Key]
		if !ok {
			r = len(preferred)
		}
		for _, m := range bm.Markets {
			if cur, seen := bestRank[m.Key]; seen && cur <= r {
				continue
			}
			bestRank[m.Key] = r
			out[m.Key] = pickedMarket{bookmaker: bm.Key, market: m}
		}
	}
	return out
}

func h2hPrices(m rawMarket, home, away string) events.Prices {
	var p events.Prices
	for _, o := range m.Outcomes {
		switch {
		case o.Name == home:
			p.Home = o.Price
		case o.Name == away:
			p.Away = o.Price
		case strings.EqualFold(o.Name, "draw"):
			p.Draw = o.Price
		}
	}
	return p
}

func marketName(key string) string {
	if n, ok := marketNames[key]; ok {
		return n
	}
	return key
}

func normalizeScore(ev rawScoreEvent, now time.Time) ScoreUpdate {
	su := ScoreUpdate{EntityID: ev.ID, LeagueID: ev.SportKey, Status: events.StatusUpcoming}
	if ev.LastUpdate != nil {
		su.LastUpdate = ev.LastUpdate.UTC()
	}

	switch {
	case ev.Completed:
		su.Status = events.StatusCompleted
	case len(ev.Scores) > 0 || !ev.CommenceTime.After(now):
		su.Status = events.StatusLive
	}

	if su.Status != events.StatusUpcoming {
		var s events.Scores
		for _, sc := range ev.Scores {
			n, err := strconv.Atoi(strings.TrimSpace(sc.Score))
			if err != nil {
				continue
			}
			switch sc.Name {
			case ev.HomeTeam:
				s.Home = n
			case ev.AwayTeam:
				s.Away = n
			}
		}
		su.Scores = &s
	}
	return su
}
