package cache

import (
	"errors"
	"sort"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/viewer/kv"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Record é o que fica gravado por partida
type Record struct {
	Entity    events.Entity        `json:"entity"`
	CachedAt  time.Time            `json:"cached_at"`
	LastOdds  *events.OddsSnapshot `json:"last_odds,omitempty"`
	Delta     map[string]Delta     `json:"delta"`
	ExpiresAt time.Time            `json:"expires_at"`
}

// Entry é uma partida observada num ciclo, com as odds correntes se houver
type Entry struct {
	Entity events.Entity
	Odds   *events.OddsSnapshot
}

// MergeStats resume um ciclo de merge
type MergeStats struct {
	Written int
	Swept   int
	Dropped int
}

type Options struct {
	LiveTTL    time.Duration // partidas ao vivo e encerradas
	CatalogTTL time.Duration // catálogo e pré-jogo
	MaxAge     time.Duration // ausentes há mais que isso saem na varredura
	Log        *zap.Logger
}

const catalogKey = "current"

// Cache é o espelho durável do store, usado só para o primeiro render.
// Falhas de escrita são registradas e engolidas.
type Cache struct {
	live    *kv.Bucket[Record]
	pre     *kv.Bucket[Record]
	catalog *kv.Bucket[events.Catalog]
	db      *kv.DB
	opts    Options
	log     *zap.Logger

	dropped atomic.Int64
}

func New(db *kv.DB, opts Options) *Cache {
	if opts.LiveTTL <= 0 {
		opts.LiveTTL = 5 * time.Minute
	}
	if opts.CatalogTTL <= 0 {
		opts.CatalogTTL = 24 * time.Hour
	}
	if opts.MaxAge <= 0 {
		opts.MaxAge = 30 * time.Minute
	}
	if opts.Log == nil {
		opts.Log = zap.NewNop()
	}
	return &Cache{
		live:    kv.NewBucket[Record](db, "live", opts.LiveTTL),
		pre:     kv.NewBucket[Record](db, "pre", opts.CatalogTTL),
		catalog: kv.NewBucket[events.Catalog](db, "catalog", opts.CatalogTTL),
		db:      db,
		opts:    opts,
		log:     opts.Log,
	}
}

// Dropped conta as escritas descartadas depois da nova tentativa
func (c *Cache) Dropped() int64 { return c.dropped.Load() }

// familyFor: pré-jogo vai para a família longa; o resto para a curta
func (c *Cache) familyFor(e events.Entity) (own, other *kv.Bucket[Record]) {
	if e.Status == events.StatusUpcoming {
		return c.pre, c.live
	}
	return c.live, c.pre
}

func (c *Cache) lookup(id string) (Record, bool) {
	for _, b := range []*kv.Bucket[Record]{c.live, c.pre} {
		r, ok, err := b.Get(id)
		if err != nil {
			c.log.Debug("cache read failed", zap.String("entity_id", id), zap.Error(err))
			continue
		}
		if ok {
			return r, true
		}
	}
	return Record{}, false
}

// Get devolve o registro gravado de uma partida
func (c *Cache) Get(id string) (Record, bool) { return c.lookup(id) }

// pass acompanha o ciclo: cada escrita recusada por cota ganha uma varredura
// de despejo e uma nova tentativa. dry evita repetir a varredura enquanto
// nada novo foi gravado desde uma que não liberou espaço.
type pass struct {
	now time.Time
	dry bool
}

func (c *Cache) write(p *pass, fn func() error) bool {
	err := fn()
	if errors.Is(err, kv.ErrQuotaExceeded) {
		if !p.dry {
			n := c.evict(p.now)
			p.dry = n == 0
			c.log.Info("cache quota exceeded, evicted stale records", zap.Int("evicted", n))
		}
		err = fn()
	}
	if err != nil {
		c.dropped.Add(1)
		c.log.Warn("cache write dropped", zap.Error(err))
		return false
	}
	p.dry = false
	return true
}

// Merge grava as partidas do ciclo com os deltas de preço e varre as ausentes
func (c *Cache) Merge(entries []Entry, now time.Time) MergeStats {
	var st MergeStats
	p := &pass{now: now}
	present := make(map[string]bool, len(entries))

	for _, en := range entries {
		id := en.Entity.EntityID
		if id == "" {
			continue
		}
		present[id] = true
		prev, hadPrev := c.lookup(id)
		rec := merged(prev, hadPrev, en, now)

		own, other := c.familyFor(rec.Entity)
		rec.ExpiresAt = now.Add(own.TTL())
		if !c.write(p, func() error { return own.Set(id, rec) }) {
			st.Dropped++
			continue
		}
		st.Written++
		if hadPrev {
			// mudou de família (pré-jogo -> ao vivo)
			if _, ok, _ := other.Get(id); ok {
				_ = other.Delete(id)
			}
		}
	}

	st.Swept = c.sweep(present, now)
	return st
}

func merged(prev Record, hadPrev bool, en Entry, now time.Time) Record {
	rec := Record{Entity: en.Entity, CachedAt: now}
	switch {
	case en.Odds == nil:
		rec.Delta = Deltas(nil, events.Prices{})
		if hadPrev {
			rec.LastOdds = prev.LastOdds
		}
	default:
		var base *events.Prices
		if hadPrev && prev.LastOdds != nil {
			base = &prev.LastOdds.Prices
		}
		o := *en.Odds
		rec.LastOdds = &o
		rec.Delta = Deltas(base, o.Prices)
	}
	return rec
}

// sweep aplica a regra de retenção aos registros ausentes do ciclo:
// sai quem é terminal ou está velho demais; o resto fica.
func (c *Cache) sweep(present map[string]bool, now time.Time) int {
	total := 0
	for _, b := range []*kv.Bucket[Record]{c.live, c.pre} {
		n, err := b.Evict(func(it kv.Item[Record]) bool {
			if present[it.ID] {
				return false
			}
			return Stale(it, now, c.opts.MaxAge)
		})
		if err != nil {
			c.log.Warn("cache sweep failed", zap.Error(err))
			continue
		}
		total += n
	}
	return total
}

// Stale diz se um registro ausente do ciclo deve sair
func Stale(it kv.Item[Record], now time.Time, maxAge time.Duration) bool {
	if it.Expired {
		return true
	}
	if it.Value.Entity.Status.Terminal() {
		return true
	}
	return now.Sub(it.Value.CachedAt) > maxAge
}

// evict apaga tudo que está expirado ou terminal, presente ou não
func (c *Cache) evict(now time.Time) int {
	total := 0
	for _, b := range []*kv.Bucket[Record]{c.live, c.pre} {
		n, err := b.Evict(func(it kv.Item[Record]) bool {
			return it.Expired || it.Value.Entity.Status.Terminal()
		})
		if err != nil {
			c.log.Warn("cache eviction failed", zap.Error(err))
		}
		total += n
	}
	if n, err := c.catalog.Evict(func(it kv.Item[events.Catalog]) bool { return it.Expired }); err == nil {
		total += n
	}
	if err := c.db.Recount(); err != nil {
		c.log.Debug("kv recount failed", zap.Error(err))
	}
	return total
}

// SaveCatalog grava o catálogo na família longa
func (c *Cache) SaveCatalog(cat events.Catalog, now time.Time) bool {
	return c.write(&pass{now: now}, func() error { return c.catalog.Set(catalogKey, cat) })
}

// Load devolve o que há de válido para o primeiro render, por horário de início
func (c *Cache) Load() ([]Record, events.Catalog) {
	var out []Record
	for _, b := range []*kv.Bucket[Record]{c.live, c.pre} {
		items, err := b.Scan()
		if err != nil {
			c.log.Warn("cache load failed", zap.Error(err))
			continue
		}
		for _, it := range items {
			if !it.Expired {
				out = append(out, it.Value)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Entity, out[j].Entity
		if !a.CommenceTime.Equal(b.CommenceTime) {
			return a.CommenceTime.Before(b.CommenceTime)
		}
		return a.EntityID < b.EntityID
	})
	cat, _, err := c.catalog.Get(catalogKey)
	if err != nil {
		c.log.Debug("catalog load failed", zap.Error(err))
	}
	return out, cat
}
