package ws

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/broker"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
	"github.com/radieske/sports-live-feed/pkg/contracts/topics"
)

// Subscriber é o lado de assinatura do broker
type Subscriber interface {
	Subscribe(ctx context.Context, topic string, h broker.Handler) (func(), error)
}

// Hydrator monta o estado completo para clientes sem espelho local
type Hydrator interface {
	Hydrate(ctx context.Context) (events.Hydration, error)
}

// Subscription é o filtro inicial pedido na URL de conexão
type Subscription struct {
	Topics    []string
	EntityIDs []string
	Hydrate   bool // mirror=empty
}

// ParseSubscription lê ?topics=a,b&entities=x,y&mirror=empty
func ParseSubscription(r *http.Request) (Subscription, error) {
	q := r.URL.Query()
	sub := Subscription{
		Topics:    splitCSV(q.Get("topics")),
		EntityIDs: splitCSV(q.Get("entities")),
		Hydrate:   q.Get("mirror") == "empty",
	}
	for _, t := range sub.Topics {
		if !topics.IsLive(t) {
			return Subscription{}, fmt.Errorf("unknown topic %q", t)
		}
	}
	return sub, nil
}

func splitCSV(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type hubMetrics struct {
	connections *prometheus.GaugeVec
	opened      *prometheus.CounterVec
	closed      *prometheus.CounterVec
	framesSent  *prometheus.CounterVec
	batchSize   prometheus.Histogram
	relayed     prometheus.Counter
}

func newHubMetrics(reg prometheus.Registerer) *hubMetrics {
	f := promauto.With(reg)
	return &hubMetrics{
		connections: f.NewGaugeVec(prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Sessões abertas por transporte",
		}, []string{"transport"}),
		opened: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_sessions_opened_total",
			Help: "Sessões abertas",
		}, []string{"transport"}),
		closed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_sessions_closed_total",
			Help: "Sessões encerradas por motivo",
		}, []string{"transport", "reason"}),
		framesSent: f.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_frames_sent_total",
			Help: "Frames escritos por transporte e tipo",
		}, []string{"transport", "kind"}),
		batchSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "gateway_batch_size",
			Help:    "Mudanças por frame de lote",
			Buckets: []float64{2, 5, 10, 25, 50, 100, 250},
		}),
		relayed: f.NewCounter(prometheus.CounterOpts{
			Name: "gateway_messages_relayed_total",
			Help: "Mensagens recebidas do broker e distribuídas",
		}),
	}
}

// Hub mantém as sessões ativas e distribui as mensagens do broker.
// Cada sessão tem fila própria; quem não acompanha é desconectado.
type Hub struct {
	upgrader websocket.Upgrader
	opts     Options
	log      *zap.Logger
	metrics  *hubMetrics
	now      func() time.Time

	Hydrator Hydrator

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewHub cria uma instância de Hub com política customizada de origem (CORS)
func NewHub(opts Options, allowOrigin func(r *http.Request) bool, log *zap.Logger, reg prometheus.Registerer) *Hub {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin, ReadBufferSize: 1024, WriteBufferSize: 4096},
		opts:     opts.withDefaults(),
		log:      log,
		metrics:  newHubMetrics(reg),
		now:      func() time.Time { return time.Now().UTC() },
		sessions: make(map[string]*Session),
	}
}

// Start assina todos os canais ao vivo; as assinaturas caem quando ctx termina
func (h *Hub) Start(ctx context.Context, sub Subscriber) error {
	var unsubs []func()
	for _, t := range topics.Live {
		u, err := sub.Subscribe(ctx, t, h.Dispatch)
		if err != nil {
			for _, u := range unsubs {
				u()
			}
			return fmt.Errorf("subscribe %s: %w", t, err)
		}
		unsubs = append(unsubs, u)
	}
	go func() {
		<-ctx.Done()
		for _, u := range unsubs {
			u()
		}
	}()
	h.log.Info("hub subscribed", zap.Strings("topics", topics.Live))
	return nil
}

// Dispatch entrega a mensagem às sessões interessadas sem bloquear o broker
func (h *Hub) Dispatch(topic string, msg events.ChangeMessage) {
	h.metrics.relayed.Inc()

	h.mu.RLock()
	targets := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		if s.Matches(topic, msg) {
			targets = append(targets, s)
		}
	}
	h.mu.RUnlock()

	for _, s := range targets {
		if !s.TryDeliver(msg) {
			h.log.Warn("session buffer full, disconnecting", zap.String("conn_id", s.ID))
			s.Close(ReasonSlow)
		}
	}
}

// Attach registra uma sessão sobre o transporte e inicia o goroutine de escrita
func (h *Hub) Attach(sink Sink, transport string, sub Subscription) *Session {
	s := newSession(h, uuid.New().String(), transport, sink, sub)

	h.mu.Lock()
	h.sessions[s.ID] = s
	h.mu.Unlock()

	h.metrics.opened.WithLabelValues(transport).Inc()
	h.metrics.connections.WithLabelValues(transport).Inc()
	s.log.Info("session opened", zap.Bool("hydrate", sub.Hydrate))

	go s.run()
	if sub.Hydrate {
		go h.hydrate(s)
	}
	return s
}

// hydrate empurra o estado completo lido da projeção, não do broker
func (h *Hub) hydrate(s *Session) {
	if h.Hydrator == nil {
		_ = s.Release(ErrorFrame{Type: FrameError, Code: "hydration_unavailable", Message: "hydration not configured"})
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), h.opts.PongWait)
	defer cancel()
	go func() {
		select {
		case <-s.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	data, err := h.Hydrator.Hydrate(ctx)
	if err != nil {
		s.log.Warn("hydration failed", zap.Error(err))
		_ = s.Release(ErrorFrame{Type: FrameError, Code: "hydration_failed", Message: err.Error()})
		return
	}
	_ = s.Release(HydrationFrame{Type: FrameHydration, Data: data})
}

func (h *Hub) remove(s *Session) {
	h.mu.Lock()
	_, ok := h.sessions[s.ID]
	delete(h.sessions, s.ID)
	h.mu.Unlock()
	if !ok {
		return
	}
	h.metrics.connections.WithLabelValues(s.Transport).Dec()
	h.metrics.closed.WithLabelValues(s.Transport, s.Reason()).Inc()
	s.log.Info("session closed", zap.String("reason", s.Reason()))
}

// Count devolve o número de sessões ativas
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Shutdown encerra todas as sessões, descarregando os lotes pendentes
func (h *Hub) Shutdown(ctx context.Context) {
	h.mu.RLock()
	all := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		all = append(all, s)
	}
	h.mu.RUnlock()

	for _, s := range all {
		s.Close(ReasonShutdown)
	}
	for _, s := range all {
		select {
		case <-s.Done():
		case <-ctx.Done():
			return
		}
	}
}
