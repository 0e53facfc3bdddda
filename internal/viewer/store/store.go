package store

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// State é uma foto imutável do espelho local. Nunca é alterada depois de publicada:
// cada mutação monta um novo State, copiando só os mapas que mudaram.
type State struct {
	Entities map[string]events.Entity
	Odds     map[string]events.OddsSnapshot
	Markets  map[string][]events.Market // por entity_id, ordenados por market_id
	Catalog  events.Catalog
	Version  uint64
}

func emptyState() *State {
	return &State{
		Entities: map[string]events.Entity{},
		Odds:     map[string]events.OddsSnapshot{},
		Markets:  map[string][]events.Market{},
	}
}

// Listener recebe o novo State depois de cada mutação efetiva
type Listener func(*State)

// Store é a fonte de verdade do lado do cliente.
// Um único escritor (o loop do transporte); leitores concorrentes usam Snapshot.
type Store struct {
	cur atomic.Pointer[State]

	mu        sync.Mutex
	listeners map[int]Listener
	nextID    int
}

func New() *Store {
	s := &Store{listeners: map[int]Listener{}}
	s.cur.Store(emptyState())
	return s
}

// Snapshot devolve a foto atual; segura para leitura em qualquer goroutine
func (s *Store) Snapshot() *State { return s.cur.Load() }

// OnChange registra um listener e devolve a função que o remove
func (s *Store) OnChange(l Listener) func() {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()
	return func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}
}

func (s *Store) commit(d *draft) bool {
	if !d.changed {
		return false
	}
	d.next.Version = d.base.Version + 1
	s.cur.Store(d.next)

	s.mu.Lock()
	ls := make([]Listener, 0, len(s.listeners))
	for _, l := range s.listeners {
		ls = append(ls, l)
	}
	s.mu.Unlock()
	for _, l := range ls {
		l(d.next)
	}
	return true
}

func (s *Store) mutate(fn func(d *draft)) bool {
	d := newDraft(s.cur.Load())
	fn(d)
	return s.commit(d)
}

// ApplyEntity insere ou substitui uma partida inteira (entity:new)
func (s *Store) ApplyEntity(e events.Entity) bool {
	return s.mutate(func(d *draft) { d.putEntity(e) })
}

// ApplyEntityPatch aplica um patch parcial. Patch sem campo alterado não gera nova foto.
func (s *Store) ApplyEntityPatch(p events.EntityPatch) bool {
	return s.mutate(func(d *draft) { d.patchEntity(p) })
}

// ApplyOddsSnapshot troca os preços só se algum dos três mudou
func (s *Store) ApplyOddsSnapshot(o events.OddsSnapshot) bool {
	return s.mutate(func(d *draft) { d.putOdds(o) })
}

func (s *Store) ApplyMarketPatch(p events.MarketPatch) bool {
	return s.mutate(func(d *draft) { d.patchMarkets(p) })
}

// RemoveEntity apaga a partida com seus mercados e odds
func (s *Store) RemoveEntity(id string) bool {
	return s.mutate(func(d *draft) { d.remove(id) })
}

// Apply aplica uma mensagem de mudança isolada
func (s *Store) Apply(msg events.ChangeMessage) bool {
	return s.mutate(func(d *draft) { d.apply(msg) })
}

// ApplyBatch dobra todas as mensagens numa única troca de foto e numa única notificação
func (s *Store) ApplyBatch(msgs []events.ChangeMessage) bool {
	if len(msgs) == 0 {
		return false
	}
	return s.mutate(func(d *draft) {
		for _, m := range msgs {
			d.apply(m)
		}
	})
}

// ApplyHydration substitui o espelho inteiro pelo estado autoritativo
func (s *Store) ApplyHydration(h events.Hydration) {
	next := emptyState()
	for _, e := range h.Entities {
		e.Normalize()
		next.Entities[e.EntityID] = e
	}
	for _, o := range h.Odds {
		if _, ok := next.Entities[o.EntityID]; ok {
			next.Odds[o.EntityID] = o
		}
	}
	for _, m := range h.Markets {
		if _, ok := next.Entities[m.EntityID]; ok {
			next.Markets[m.EntityID] = upsertMarket(next.Markets[m.EntityID], m)
		}
	}
	next.Catalog = h.Catalog

	d := &draft{base: s.cur.Load(), next: next, changed: true}
	s.commit(d)
}

// Selectors

func (s *Store) Len() int        { return len(s.Snapshot().Entities) }
func (s *Store) Version() uint64 { return s.Snapshot().Version }

func (s *Store) Get(id string) (events.Entity, bool) {
	e, ok := s.Snapshot().Entities[id]
	return e, ok
}

func (s *Store) Odds(id string) (events.OddsSnapshot, bool) {
	o, ok := s.Snapshot().Odds[id]
	return o, ok
}

func (s *Store) Markets(id string) []events.Market {
	return append([]events.Market(nil), s.Snapshot().Markets[id]...)
}

func (s *Store) Catalog() events.Catalog { return s.Snapshot().Catalog }

// ByStatus lista as partidas no status, por horário de início
func (s *Store) ByStatus(st events.Status) []events.Entity {
	return s.Snapshot().filter(func(e events.Entity) bool { return e.Status == st })
}

// ByLeague lista as partidas da liga, por horário de início
func (s *Store) ByLeague(leagueID string) []events.Entity {
	return s.Snapshot().filter(func(e events.Entity) bool { return e.LeagueID == leagueID })
}

// PriceSelectable diz se o preço do outcome pode entrar num cupom.
// Mercado fora de open bloqueia a seleção seja qual for o preço.
func (s *Store) PriceSelectable(id, outcome string) bool {
	st := s.Snapshot()
	e, ok := st.Entities[id]
	if !ok || e.MarketStatus != events.MarketOpen || e.Status.Terminal() {
		return false
	}
	o, ok := st.Odds[id]
	return ok && o.Prices.Get(outcome) > 0
}

func (st *State) filter(keep func(events.Entity) bool) []events.Entity {
	var out []events.Entity
	for _, e := range st.Entities {
		if keep(e) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CommenceTime.Equal(out[j].CommenceTime) {
			return out[i].CommenceTime.Before(out[j].CommenceTime)
		}
		return out[i].EntityID < out[j].EntityID
	})
	return out
}
