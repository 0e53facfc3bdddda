package store

import (
	"sort"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// draft acumula mutações sobre uma foto base. Cada mapa é copiado
// na primeira escrita; o que não muda é compartilhado com a base.
type draft struct {
	base    *State
	next    *State
	changed bool

	entitiesOwned bool
	oddsOwned     bool
	marketsOwned  bool
}

func newDraft(base *State) *draft {
	next := *base
	return &draft{base: base, next: &next}
}

func (d *draft) entities() map[string]events.Entity {
	if !d.entitiesOwned {
		m := make(map[string]events.Entity, len(d.next.Entities)+1)
		for k, v := range d.next.Entities {
			m[k] = v
		}
		d.next.Entities = m
		d.entitiesOwned = true
	}
	return d.next.Entities
}

func (d *draft) odds() map[string]events.OddsSnapshot {
	if !d.oddsOwned {
		m := make(map[string]events.OddsSnapshot, len(d.next.Odds)+1)
		for k, v := range d.next.Odds {
			m[k] = v
		}
		d.next.Odds = m
		d.oddsOwned = true
	}
	return d.next.Odds
}

func (d *draft) markets() map[string][]events.Market {
	if !d.marketsOwned {
		m := make(map[string][]events.Market, len(d.next.Markets)+1)
		for k, v := range d.next.Markets {
			m[k] = v
		}
		d.next.Markets = m
		d.marketsOwned = true
	}
	return d.next.Markets
}

func (d *draft) apply(msg events.ChangeMessage) {
	switch msg.Type {
	case events.KindEntityNew:
		if msg.Entity != nil {
			d.putEntity(*msg.Entity)
		}
	case events.KindEntityUpdate:
		if msg.Patch != nil {
			d.patchEntity(*msg.Patch)
		}
	case events.KindOddsUpdate:
		if msg.Odds != nil {
			d.putOdds(*msg.Odds)
		}
	case events.KindMarketUpdate:
		if msg.Market != nil {
			d.patchMarkets(*msg.Market)
		}
	case events.KindEntityRemove:
		if msg.Removal != nil {
			d.remove(msg.Removal.EntityID)
		}
	}
}

func (d *draft) putEntity(e events.Entity) {
	e.Normalize()
	cur, ok := d.next.Entities[e.EntityID]
	if ok {
		// reentrega de entity:new vira patch; placar ausente mantém o anterior
		p := events.DiffEntities(cur, e)
		p.RawQuotes = e.RawQuotes
		d.patchEntity(p)
		return
	}
	d.entities()[e.EntityID] = e
	d.changed = true
}

// patchEntity compara chave a chave; patch para partida desconhecida é ignorado
func (d *draft) patchEntity(p events.EntityPatch) {
	cur, ok := d.next.Entities[p.EntityID]
	if !ok {
		return
	}
	next, keys := p.Apply(cur)
	if len(keys) == 0 {
		return
	}
	d.entities()[p.EntityID] = next
	d.changed = true
}

// putOdds: cotação de partida desconhecida é ignorada, como nos patches
func (d *draft) putOdds(o events.OddsSnapshot) {
	if _, ok := d.next.Entities[o.EntityID]; !ok {
		return
	}
	if cur, ok := d.next.Odds[o.EntityID]; ok && cur.Prices.Equal(o.Prices) {
		return
	}
	d.odds()[o.EntityID] = o
	d.changed = true
}

func (d *draft) patchMarkets(p events.MarketPatch) {
	cur, ok := d.next.Entities[p.EntityID]
	if !ok {
		return
	}
	if p.MarketStatus != nil && *p.MarketStatus != cur.MarketStatus {
		cur.MarketStatus = *p.MarketStatus
		d.entities()[p.EntityID] = cur
		d.changed = true
	}
	if len(p.Markets) == 0 {
		return
	}
	list := d.next.Markets[p.EntityID]
	updated := list
	for _, m := range p.Markets {
		updated = upsertMarket(updated, m)
	}
	if sameMarkets(list, updated) {
		return
	}
	d.markets()[p.EntityID] = updated
	d.changed = true
}

func (d *draft) remove(id string) {
	_, hasEntity := d.next.Entities[id]
	_, hasOdds := d.next.Odds[id]
	_, hasMarkets := d.next.Markets[id]
	if hasEntity {
		delete(d.entities(), id)
	}
	if hasOdds {
		delete(d.odds(), id)
	}
	if hasMarkets {
		delete(d.markets(), id)
	}
	if hasEntity || hasOdds || hasMarkets {
		d.changed = true
	}
}

// upsertMarket devolve uma nova lista; a lista recebida não é alterada
func upsertMarket(list []events.Market, m events.Market) []events.Market {
	out := make([]events.Market, 0, len(list)+1)
	replaced := false
	for _, cur := range list {
		if cur.MarketID == m.MarketID {
			out = append(out, m)
			replaced = true
			continue
		}
		out = append(out, cur)
	}
	if !replaced {
		out = append(out, m)
		sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	}
	return out
}

func sameMarkets(a, b []events.Market) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}
