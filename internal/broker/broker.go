// Package broker distribui mensagens de mudança via Redis Pub/Sub.
// Não há persistência, ack nem replay: quem não estava inscrito no momento
// do PUBLISH perde a mensagem e se reconcilia pela hidratação.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
	"github.com/radieske/sports-live-feed/pkg/contracts/topics"
)

var (
	ErrBrokerUnavailable = errors.New("broker unavailable")
	ErrUnknownTopic      = errors.New("unknown broker topic")
	ErrClosed            = errors.New("broker closed")
)

// Handler recebe mensagens já decodificadas e validadas.
// Todos os handlers rodam na mesma goroutine de despacho, em ordem de chegada.
type Handler func(topic string, msg events.ChangeMessage)

type publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// subscription é o subconjunto de *redis.PubSub usado pelo broker
type subscription interface {
	Subscribe(ctx context.Context, channels ...string) error
	Unsubscribe(ctx context.Context, channels ...string) error
	Channel(opts ...redis.ChannelOption) <-chan *redis.Message
	Close() error
}

type brokerMetrics struct {
	published    *prometheus.CounterVec
	failed       *prometheus.CounterVec
	received     *prometheus.CounterVec
	decodeErrors prometheus.Counter
	subscribed   prometheus.Gauge
}

func newMetrics(reg prometheus.Registerer) *brokerMetrics {
	f := promauto.With(reg)
	return &brokerMetrics{
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_published_total",
			Help: "mensagens publicadas por canal",
		}, []string{"topic"}),
		failed: f.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_publish_failures_total",
			Help: "publicações que falharam por canal",
		}, []string{"topic"}),
		received: f.NewCounterVec(prometheus.CounterOpts{
			Name: "broker_received_total",
			Help: "mensagens recebidas por canal",
		}, []string{"topic"}),
		decodeErrors: f.NewCounter(prometheus.CounterOpts{
			Name: "broker_decode_errors_total",
			Help: "mensagens descartadas por payload inválido",
		}),
		subscribed: f.NewGauge(prometheus.GaugeOpts{
			Name: "broker_subscribed_channels",
			Help: "canais Redis atualmente assinados",
		}),
	}
}

// Broker publica no cliente de publicação e assina por uma conexão separada.
type Broker struct {
	pub publisher
	ps  subscription
	log *zap.Logger
	m   *brokerMetrics
	now func() time.Time

	stampMu sync.Mutex
	last    time.Time

	mu       sync.Mutex
	handlers map[string]map[uint64]Handler
	nextID   uint64
	closed   bool

	done chan struct{}
}

// New liga o broker a dois clientes Redis independentes.
// pub e sub podem apontar para o mesmo servidor, mas não devem ser o mesmo *redis.Client
// em produção: uma conexão em modo SUBSCRIBE não aceita PUBLISH.
func New(pub, sub *redis.Client, log *zap.Logger, reg prometheus.Registerer) *Broker {
	return newBroker(pub, sub.Subscribe(context.Background()), log, reg)
}

func newBroker(pub publisher, ps subscription, log *zap.Logger, reg prometheus.Registerer) *Broker {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	b := &Broker{
		pub:      pub,
		ps:       ps,
		log:      log,
		m:        newMetrics(reg),
		now:      time.Now,
		handlers: make(map[string]map[uint64]Handler),
		done:     make(chan struct{}),
	}
	go b.dispatch(ps.Channel())
	return b
}

func (b *Broker) PublishNew(ctx context.Context, e events.Entity) (events.ChangeMessage, error) {
	return b.publish(ctx, topics.LiveEntityNew, events.NewEntityMessage(e))
}

func (b *Broker) PublishUpdate(ctx context.Context, p events.EntityPatch) (events.ChangeMessage, error) {
	return b.publish(ctx, topics.LiveEntityUpdate, events.UpdateMessage(p))
}

func (b *Broker) PublishOdds(ctx context.Context, s events.OddsSnapshot) (events.ChangeMessage, error) {
	return b.publish(ctx, topics.LiveOddsUpdate, events.OddsMessage(s))
}

func (b *Broker) PublishMarket(ctx context.Context, p events.MarketPatch) (events.ChangeMessage, error) {
	return b.publish(ctx, topics.LiveMarketUpdate, events.MarketMessage(p))
}

// PublishManualUpdate marca o patch como entrada manual e usa o canal próprio
func (b *Broker) PublishManualUpdate(ctx context.Context, p events.EntityPatch) (events.ChangeMessage, error) {
	src := events.SourceManual
	p.Source = &src
	return b.publish(ctx, topics.LiveManualUpdate, events.UpdateMessage(p))
}

func (b *Broker) PublishRemove(ctx context.Context, entityID, reason string) (events.ChangeMessage, error) {
	return b.publish(ctx, topics.LiveEntityRemove, events.RemoveMessage(entityID, reason))
}

// Publish roteia uma mensagem genérica para o canal do seu tipo
func (b *Broker) Publish(ctx context.Context, msg events.ChangeMessage) (events.ChangeMessage, error) {
	return b.publish(ctx, TopicFor(msg), msg)
}

// TopicFor devolve o canal de uma mensagem; patches manuais vão para o canal manual
func TopicFor(msg events.ChangeMessage) string {
	switch msg.Type {
	case events.KindEntityNew:
		return topics.LiveEntityNew
	case events.KindEntityUpdate:
		if msg.Patch != nil && msg.Patch.Source != nil && *msg.Patch.Source == events.SourceManual {
			return topics.LiveManualUpdate
		}
		return topics.LiveEntityUpdate
	case events.KindOddsUpdate:
		return topics.LiveOddsUpdate
	case events.KindMarketUpdate:
		return topics.LiveMarketUpdate
	case events.KindEntityRemove:
		return topics.LiveEntityRemove
	}
	return ""
}

func (b *Broker) publish(ctx context.Context, topic string, msg events.ChangeMessage) (events.ChangeMessage, error) {
	if !topics.IsLive(topic) {
		return msg, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}
	msg.Timestamp = b.stamp()
	if err := msg.Validate(); err != nil {
		return msg, err
	}

	data, err := msg.MarshalJSON()
	if err != nil {
		return msg, fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	if err := b.pub.Publish(ctx, topic, data).Err(); err != nil {
		b.m.failed.WithLabelValues(topic).Inc()
		return msg, fmt.Errorf("%w: publish %s: %v", ErrBrokerUnavailable, topic, err)
	}
	b.m.published.WithLabelValues(topic).Inc()
	return msg, nil
}

// stamp atribui o timestamp do servidor, nunca menor que o anterior
func (b *Broker) stamp() time.Time {
	b.stampMu.Lock()
	defer b.stampMu.Unlock()

	t := b.now().UTC()
	if t.Before(b.last) {
		t = b.last
	}
	b.last = t
	return t
}

// Subscribe registra um handler no canal. O primeiro handler de um canal
// faz o SUBSCRIBE no Redis; a função devolvida remove o handler e, se for
// o último, libera o canal. Chamar a função mais de uma vez é seguro.
func (b *Broker) Subscribe(ctx context.Context, topic string, h Handler) (func(), error) {
	if !topics.IsLive(topic) {
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopic, topic)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	hs, ok := b.handlers[topic]
	if !ok {
		if err := b.ps.Subscribe(ctx, topic); err != nil {
			return nil, fmt.Errorf("%w: subscribe %s: %v", ErrBrokerUnavailable, topic, err)
		}
		hs = make(map[uint64]Handler)
		b.handlers[topic] = hs
		b.m.subscribed.Inc()
		b.log.Info("broker channel subscribed", zap.String("topic", topic))
	}

	b.nextID++
	id := b.nextID
	hs[id] = h

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}, nil
}

func (b *Broker) unsubscribe(topic string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	hs, ok := b.handlers[topic]
	if !ok {
		return
	}
	delete(hs, id)
	if len(hs) > 0 {
		return
	}

	delete(b.handlers, topic)
	b.m.subscribed.Dec()
	if b.closed {
		return
	}
	if err := b.ps.Unsubscribe(context.Background(), topic); err != nil {
		b.log.Warn("broker unsubscribe failed", zap.String("topic", topic), zap.Error(err))
		return
	}
	b.log.Info("broker channel released", zap.String("topic", topic))
}

// Handlers devolve quantos handlers estão registrados no canal
func (b *Broker) Handlers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers[topic])
}

func (b *Broker) dispatch(ch <-chan *redis.Message) {
	defer close(b.done)
	for msg := range ch {
		if msg == nil {
			continue
		}
		b.m.received.WithLabelValues(msg.Channel).Inc()

		cm, err := events.DecodeChangeMessage([]byte(msg.Payload))
		if err != nil {
			b.m.decodeErrors.Inc()
			b.log.Warn("broker dropped invalid message", zap.String("topic", msg.Channel), zap.Error(err))
			continue
		}

		b.mu.Lock()
		hs := make([]Handler, 0, len(b.handlers[msg.Channel]))
		for _, h := range b.handlers[msg.Channel] {
			hs = append(hs, h)
		}
		b.mu.Unlock()

		for _, h := range hs {
			h(msg.Channel, cm)
		}
	}
}

// Close encerra a assinatura e aguarda a goroutine de despacho
func (b *Broker) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.ps.Close()
	<-b.done
	return err
}
