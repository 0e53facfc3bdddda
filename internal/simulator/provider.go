package simulator

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// League é uma liga simulada
type League struct {
	Key   string
	Group string
	Title string
	Draw  bool // esportes sem empate não cotam draw
	Teams []string
}

var DefaultLeagues = []League{
	{Key: "soccer_brazil_campeonato", Group: "Soccer", Title: "Brazil Série A", Draw: true,
		Teams: []string{"Flamengo", "Palmeiras", "Grêmio", "Internacional", "Corinthians", "Santos", "São Paulo", "Vasco"}},
	{Key: "soccer_epl", Group: "Soccer", Title: "EPL", Draw: true,
		Teams: []string{"Arsenal", "Chelsea", "Liverpool", "Everton", "Tottenham", "Brighton"}},
	{Key: "basketball_nba", Group: "Basketball", Title: "NBA",
		Teams: []string{"Lakers", "Celtics", "Bulls", "Knicks", "Heat", "Warriors"}},
}

var bookmakers = []struct{ key, title string }{
	{"simbook", "SimBook"},
	{"altbook", "AltBook"},
}

type ProviderOptions struct {
	Leagues          []League
	MatchesPerLeague int
	MatchDuration    time.Duration // duração simulada de uma partida
	KickoffSpacing   time.Duration // intervalo entre inícios na mesma liga
	SuspendChance    float64       // chance por passo de alternar a suspensão de uma partida ao vivo
	Seed             int64
	Now              func() time.Time
}

type match struct {
	id        string
	league    *League
	home      string
	away      string
	commence  time.Time
	completed bool
	score     [2]int
	prices    [3]float64 // home, draw, away
	suspended bool
	updated   time.Time
}

// Provider guarda as partidas simuladas e faz os preços andarem a cada Step
type Provider struct {
	opts ProviderOptions

	mu      sync.RWMutex
	rnd     *rand.Rand
	matches map[string]*match
	seq     int
}

func NewProvider(opts ProviderOptions) *Provider {
	if len(opts.Leagues) == 0 {
		opts.Leagues = DefaultLeagues
	}
	if opts.MatchesPerLeague <= 0 {
		opts.MatchesPerLeague = 3
	}
	if opts.MatchDuration <= 0 {
		opts.MatchDuration = 10 * time.Minute
	}
	if opts.KickoffSpacing <= 0 {
		opts.KickoffSpacing = 5 * time.Minute
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	p := &Provider{
		opts:    opts,
		rnd:     rand.New(rand.NewSource(opts.Seed)),
		matches: make(map[string]*match),
	}
	now := opts.Now().UTC()
	for i := range p.opts.Leagues {
		lg := &p.opts.Leagues[i]
		for n := 0; n < opts.MatchesPerLeague; n++ {
			// a primeira já começou para haver partidas ao vivo desde o início
			p.schedule(lg, now.Add(time.Duration(n-1)*opts.KickoffSpacing+time.Minute))
		}
	}
	return p
}

func (p *Provider) schedule(lg *League, kickoff time.Time) *match {
	p.seq++
	h := p.rnd.Intn(len(lg.Teams))
	a := (h + 1 + p.rnd.Intn(len(lg.Teams)-1)) % len(lg.Teams)
	m := &match{
		id:       fmt.Sprintf("%s-%04d", lg.Key, p.seq),
		league:   lg,
		home:     lg.Teams[h],
		away:     lg.Teams[a],
		commence: kickoff.Truncate(time.Second),
		updated:  p.opts.Now().UTC(),
	}
	m.prices[0] = round2(1.4 + p.rnd.Float64()*2.1)
	m.prices[2] = round2(2.0 + p.rnd.Float64()*3.0)
	if lg.Draw {
		m.prices[1] = round2(2.5 + p.rnd.Float64()*2.0)
	}
	p.matches[m.id] = m
	return m
}

func (m *match) live(now time.Time) bool { return !m.completed && !m.commence.After(now) }

// Step avança o relógio simulado: preços andam, gols acontecem, partidas
// começam e terminam; encerradas antigas dão lugar a novas partidas.
func (p *Provider) Step() {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.opts.Now().UTC()
	dur := p.opts.MatchDuration

	for id, m := range p.matches {
		switch {
		case m.completed:
			if now.Sub(m.commence) > 2*dur {
				delete(p.matches, id)
				p.schedule(m.league, now.Add(time.Duration(p.opts.MatchesPerLeague)*p.opts.KickoffSpacing))
			}
		case m.live(now):
			if now.Sub(m.commence) >= dur {
				m.completed = true
				m.updated = now
				continue
			}
			if p.rnd.Float64() < p.opts.SuspendChance {
				m.suspended = !m.suspended
			}
			if p.rnd.Float64() < 0.1 {
				m.score[p.rnd.Intn(2)]++
			}
			p.walk(m, 0.05)
			m.updated = now
		default:
			p.walk(m, 0.01)
			m.updated = now
		}
	}
}

// walk aplica um passeio aleatório relativo aos preços, com piso de 1.01
func (p *Provider) walk(m *match, step float64) {
	for i := range m.prices {
		if m.prices[i] == 0 {
			continue
		}
		f := 1 + (p.rnd.Float64()*2-1)*step
		m.prices[i] = math.Min(30, math.Max(1.01, round2(m.prices[i]*f)))
	}
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

// Sports lista as ligas no formato do provedor
func (p *Provider) Sports() []Sport {
	out := make([]Sport, 0, len(p.opts.Leagues))
	for _, lg := range p.opts.Leagues {
		out = append(out, Sport{Key: lg.Key, Group: lg.Group, Title: lg.Title, Description: lg.Title, Active: true})
	}
	return out
}

func (p *Provider) league(key string) bool {
	for _, lg := range p.opts.Leagues {
		if lg.Key == key {
			return true
		}
	}
	return false
}

// Odds lista as partidas da liga que batem com o status (live | upcoming).
// Encerradas nunca aparecem aqui.
func (p *Provider) Odds(league string, status events.Status, markets []string) ([]Event, bool) {
	if !p.league(league) {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.opts.Now().UTC()
	out := []Event{}
	for _, m := range p.sorted(league) {
		if m.completed {
			continue
		}
		if (status == events.StatusLive) != m.live(now) {
			continue
		}
		out = append(out, p.event(m, markets))
	}
	return out, true
}

// Event devolve a cotação de uma partida
func (p *Provider) Event(league, id string, markets []string) (Event, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	m, ok := p.matches[id]
	if !ok || m.league.Key != league {
		return Event{}, false
	}
	return p.event(m, markets), true
}

// Scores lista ao vivo e futuras; encerradas só com lookback
func (p *Provider) Scores(league string, daysFrom int) ([]ScoreEvent, bool) {
	if !p.league(league) {
		return nil, false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	now := p.opts.Now().UTC()
	out := []ScoreEvent{}
	for _, m := range p.sorted(league) {
		if m.completed && daysFrom <= 0 {
			continue
		}
		se := ScoreEvent{
			ID:           m.id,
			SportKey:     league,
			SportTitle:   m.league.Title,
			CommenceTime: m.commence,
			Completed:    m.completed,
			HomeTeam:     m.home,
			AwayTeam:     m.away,
		}
		if m.completed || m.live(now) {
			upd := m.updated
			se.LastUpdate = &upd
			se.Scores = []Score{
				{Name: m.home, Score: strconv.Itoa(m.score[0])},
				{Name: m.away, Score: strconv.Itoa(m.score[1])},
			}
		}
		out = append(out, se)
	}
	return out, true
}

func (p *Provider) sorted(league string) []*match {
	var ms []*match
	for _, m := range p.matches {
		if m.league.Key == league {
			ms = append(ms, m)
		}
	}
	sort.Slice(ms, func(i, j int) bool {
		if !ms[i].commence.Equal(ms[j].commence) {
			return ms[i].commence.Before(ms[j].commence)
		}
		return ms[i].id < ms[j].id
	})
	return ms
}

func (p *Provider) event(m *match, markets []string) Event {
	ev := Event{
		ID:           m.id,
		SportKey:     m.league.Key,
		SportTitle:   m.league.Title,
		CommenceTime: m.commence,
		HomeTeam:     m.home,
		AwayTeam:     m.away,
		Bookmakers:   []Bookmaker{},
	}
	if m.suspended {
		return ev
	}
	for i, bm := range bookmakers {
		// a segunda casa cota um pouco abaixo
		margin := 1 - 0.02*float64(i)
		b := Bookmaker{Key: bm.key, Title: bm.title, LastUpdate: m.updated}
		for _, key := range markets {
			if mk, ok := m.market(key, margin); ok {
				b.Markets = append(b.Markets, mk)
			}
		}
		ev.Bookmakers = append(ev.Bookmakers, b)
	}
	return ev
}

func (m *match) market(key string, margin float64) (Market, bool) {
	price := func(v float64) float64 { return math.Max(1.01, round2(v*margin)) }
	mk := Market{Key: key, LastUpdate: m.updated}
	switch key {
	case events.MarketKeyH2H:
		mk.Outcomes = []Outcome{{Name: m.home, Price: price(m.prices[0])}, {Name: m.away, Price: price(m.prices[2])}}
		if m.prices[1] > 0 {
			mk.Outcomes = append(mk.Outcomes, Outcome{Name: "Draw", Price: price(m.prices[1])})
		}
	case events.MarketKeySpreads:
		minus, plus := -1.5, 1.5
		mk.Outcomes = []Outcome{
			{Name: m.home, Price: price(1.9), Point: &minus},
			{Name: m.away, Price: price(1.9), Point: &plus},
		}
	case events.MarketKeyTotals:
		line := 2.5
		if !m.league.Draw {
			line = 220.5
		}
		over := line
		under := line
		mk.Outcomes = []Outcome{
			{Name: "Over", Price: price(1.85), Point: &over},
			{Name: "Under", Price: price(1.95), Point: &under},
		}
	default:
		return Market{}, false
	}
	return mk, true
}
