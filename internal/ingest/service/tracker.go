package service

import (
	"sort"
	"sync"
	"time"

	"github.com/radieske/sports-live-feed/internal/feed"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Motivos de remoção enviados em entity:remove
const (
	RemovalCompleted = "completed"
	RemovalMissing   = "missing"
)

type trackedEntity struct {
	entity  events.Entity
	odds    events.Prices
	markets map[string]events.Market
	scope   string // último ciclo (liga/status) em que a partida apareceu
	missing int
}

// Tracker guarda a última foto de cada partida e transforma fotos
// sucessivas do provedor em mensagens de mudança.
type Tracker struct {
	mu            sync.Mutex
	entries       map[string]*trackedEntity
	missingCycles int
	now           func() time.Time
}

func NewTracker(missingCycles int) *Tracker {
	if missingCycles <= 0 {
		missingCycles = 1
	}
	return &Tracker{
		entries:       make(map[string]*trackedEntity),
		missingCycles: missingCycles,
		now:           time.Now,
	}
}

// Scope identifica um ciclo de polling (ex: "soccer_epl/live")
func Scope(league string, status events.Status) string {
	return league + "/" + string(status)
}

// ObserveQuotes compara as cotações de um ciclo com o estado conhecido.
// Partidas do mesmo escopo ausentes por missingCycles ciclos seguidos são removidas.
func (t *Tracker) ObserveQuotes(scope string, quotes []feed.Quote) []events.ChangeMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now().UTC()
	var out []events.ChangeMessage
	seen := make(map[string]bool, len(quotes))

	for _, q := range quotes {
		id := q.Entity.EntityID
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true

		cur, ok := t.entries[id]
		if !ok {
			out = append(out, t.track(scope, q)...)
			continue
		}
		cur.scope = scope
		cur.missing = 0
		out = append(out, t.diffQuote(cur, q)...)
	}

	// ausências contam só para partidas cujo último escopo é este ciclo
	ids := make([]string, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		cur := t.entries[id]
		if cur.scope != scope || seen[id] {
			continue
		}
		cur.missing++
		if cur.missing < t.missingCycles {
			continue
		}
		reason := RemovalMissing
		if cur.entity.Status.Terminal() {
			reason = RemovalCompleted
		}
		out = append(out, events.RemoveMessage(id, reason))
		delete(t.entries, id)
	}

	for i := range out {
		out[i].Timestamp = ts
	}
	return out
}

func (t *Tracker) track(scope string, q feed.Quote) []events.ChangeMessage {
	e := q.Entity
	e.Normalize()
	te := &trackedEntity{
		entity:  e,
		odds:    q.Odds.Prices,
		markets: make(map[string]events.Market, len(q.Markets)),
		scope:   scope,
	}
	for _, m := range q.Markets {
		te.markets[m.Key] = m
	}
	t.entries[e.EntityID] = te

	out := []events.ChangeMessage{events.NewEntityMessage(e), events.OddsMessage(q.Odds)}
	if len(q.Markets) > 0 {
		out = append(out, events.MarketMessage(events.MarketPatch{EntityID: e.EntityID, Markets: q.Markets}))
	}
	return out
}

func (t *Tracker) diffQuote(cur *trackedEntity, q feed.Quote) []events.ChangeMessage {
	id := cur.entity.EntityID
	next := q.Entity
	next.Normalize()

	// o endpoint de odds não traz placar nem volta status terminal
	if next.Scores == nil {
		next.Scores = cur.entity.Scores
	}
	if cur.entity.Status.Terminal() {
		next.Status = cur.entity.Status
		next.MarketStatus = cur.entity.MarketStatus
	}

	var out []events.ChangeMessage

	patch := events.DiffEntities(cur.entity, next)
	mp := events.MarketPatch{EntityID: id}
	if patch.MarketStatus != nil {
		mp.MarketStatus = patch.MarketStatus
		patch.MarketStatus = nil
	}
	if !patch.Empty() {
		out = append(out, events.UpdateMessage(patch))
	}
	cur.entity = next

	if !cur.odds.Equal(q.Odds.Prices) {
		cur.odds = q.Odds.Prices
		out = append(out, events.OddsMessage(q.Odds))
	}

	for _, m := range q.Markets {
		prev, ok := cur.markets[m.Key]
		if ok && prev.Equal(m) {
			continue
		}
		cur.markets[m.Key] = m
		mp.Markets = append(mp.Markets, m)
	}
	if mp.MarketStatus != nil || len(mp.Markets) > 0 {
		out = append(out, events.MarketMessage(mp))
	}
	return out
}

// ObserveScores aplica placares e status às partidas conhecidas.
// Partida encerrada tem o mercado fechado.
func (t *Tracker) ObserveScores(updates []feed.ScoreUpdate) []events.ChangeMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	ts := t.now().UTC()
	var out []events.ChangeMessage
	for _, su := range updates {
		cur, ok := t.entries[su.EntityID]
		if !ok {
			continue
		}
		if cur.entity.Status.Terminal() && su.Status != events.StatusCompleted {
			continue
		}

		status := su.Status
		patch := events.EntityPatch{EntityID: su.EntityID, Status: &status}
		if su.Scores != nil {
			s := *su.Scores
			patch.Scores = &s
		}
		next, changed := patch.Apply(cur.entity)
		if len(changed) == 0 {
			continue
		}
		cur.entity = next

		up := events.EntityPatch{EntityID: su.EntityID}
		for _, k := range changed {
			switch k {
			case "status":
				st := next.Status
				up.Status = &st
			case "scores":
				sc := *next.Scores
				up.Scores = &sc
			}
		}
		out = append(out, events.UpdateMessage(up))

		if next.Status.Terminal() && next.MarketStatus != events.MarketClosed {
			closed := events.MarketClosed
			cur.entity.MarketStatus = closed
			out = append(out, events.MarketMessage(events.MarketPatch{EntityID: su.EntityID, MarketStatus: &closed}))
		}
	}
	for i := range out {
		out[i].Timestamp = ts
	}
	return out
}

// Len devolve quantas partidas estão sendo acompanhadas
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
