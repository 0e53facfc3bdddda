package cache

import (
	"context"
	"reflect"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/viewer/store"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Mirror grava no cache a foto mais recente do store, fora do loop do transporte.
// Só a última foto pendente importa: uma nova substitui a que ainda não foi gravada.
type Mirror struct {
	c    *Cache
	ch   chan *store.State
	now  func() time.Time
	log  *zap.Logger
	done chan struct{}

	lastCatalog *events.Catalog
}

func NewMirror(c *Cache, log *zap.Logger) *Mirror {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mirror{
		c:    c,
		ch:   make(chan *store.State, 1),
		now:  time.Now,
		log:  log,
		done: make(chan struct{}),
	}
}

// Offer nunca bloqueia; serve direto como store.Listener
func (m *Mirror) Offer(st *store.State) {
	for {
		select {
		case m.ch <- st:
			return
		default:
		}
		select {
		case <-m.ch:
		default:
		}
	}
}

// Done fecha quando Run termina
func (m *Mirror) Done() <-chan struct{} { return m.done }

// Run grava até o ctx acabar; a foto pendente no fim ainda é gravada
func (m *Mirror) Run(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			select {
			case st := <-m.ch:
				m.write(st)
			default:
			}
			return
		case st := <-m.ch:
			m.write(st)
		}
	}
}

func (m *Mirror) write(st *store.State) {
	now := m.now()
	stats := m.c.Merge(Entries(st), now)
	if stats.Dropped > 0 || stats.Swept > 0 {
		m.log.Debug("cache mirrored",
			zap.Uint64("version", st.Version),
			zap.Int("written", stats.Written),
			zap.Int("swept", stats.Swept),
			zap.Int("dropped", stats.Dropped),
		)
	}
	if len(st.Catalog.Leagues) == 0 && len(st.Catalog.Sports) == 0 {
		return
	}
	if m.lastCatalog != nil && reflect.DeepEqual(*m.lastCatalog, st.Catalog) {
		return
	}
	if m.c.SaveCatalog(st.Catalog, now) {
		cat := st.Catalog
		m.lastCatalog = &cat
	}
}

// Entries monta as entradas do ciclo a partir de uma foto do store
func Entries(st *store.State) []Entry {
	out := make([]Entry, 0, len(st.Entities))
	for id, e := range st.Entities {
		en := Entry{Entity: e}
		if o, ok := st.Odds[id]; ok {
			o := o
			en.Odds = &o
		}
		out = append(out, en)
	}
	return out
}
