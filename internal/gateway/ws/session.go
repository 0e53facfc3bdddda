package ws

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
	"github.com/radieske/sports-live-feed/pkg/contracts/topics"
)

// State é o ciclo de vida de uma sessão
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosing:
		return "CLOSING"
	case StateClosed:
		return "CLOSED"
	}
	return fmt.Sprintf("State(%d)", int32(s))
}

// Motivos de encerramento (label de métrica)
const (
	ReasonClient   = "client"
	ReasonSlow     = "slow_consumer"
	ReasonWrite    = "write_error"
	ReasonRead     = "read_error"
	ReasonShutdown = "shutdown"
)

// Sink é o transporte por baixo da sessão (WebSocket ou SSE).
// Todas as chamadas partem do mesmo goroutine de escrita.
type Sink interface {
	WriteFrame(b []byte) error
	Ping() error
	Close() error
}

// Options controla batching e heartbeat das sessões
type Options struct {
	BatchWindow time.Duration
	PingPeriod  time.Duration
	PongWait    time.Duration
	WriteWait   time.Duration
	SendBuffer  int
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PongWait <= 0 {
		o.PongWait = 60 * time.Second
	}
	if o.PingPeriod <= 0 {
		o.PingPeriod = o.PongWait * 9 / 10
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 10 * time.Second
	}
	return o
}

type outbound struct {
	frame   []byte
	release bool // libera as mudanças retidas até a hidratação
}

// Session é o estado por conexão: filtro de assinatura, fila e lote pendente.
// O goroutine de escrita é o único dono do lote; o hub só entrega na fila.
type Session struct {
	ID        string
	Transport string

	hub  *Hub
	sink Sink
	opts Options
	log  *zap.Logger

	state   atomic.Int32
	deliver chan events.ChangeMessage
	control chan outbound
	closing chan struct{}
	done    chan struct{}
	hold    bool

	closeOnce sync.Once
	reason    atomic.Value

	mu       sync.RWMutex
	topics   map[string]bool
	entities map[string]bool
}

func newSession(h *Hub, id, transport string, sink Sink, f Subscription) *Session {
	s := &Session{
		ID:        id,
		Transport: transport,
		hub:       h,
		sink:      sink,
		opts:      h.opts,
		log:       h.log.With(zap.String("conn_id", id), zap.String("transport", transport)),
		deliver:   make(chan events.ChangeMessage, h.opts.SendBuffer),
		control:   make(chan outbound, 16),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
		hold:      f.Hydrate,
		topics:    map[string]bool{},
		entities:  map[string]bool{},
	}
	s.state.Store(int32(StateConnecting))
	if len(f.Topics) == 0 {
		f.Topics = topics.Live
	}
	for _, t := range f.Topics {
		s.topics[t] = true
	}
	for _, id := range f.EntityIDs {
		s.entities[id] = true
	}
	return s
}

func (s *Session) State() State { return State(s.state.Load()) }

// Done fecha quando a sessão chega em CLOSED
func (s *Session) Done() <-chan struct{} { return s.done }

// Reason devolve o motivo do encerramento (vazio enquanto aberta)
func (s *Session) Reason() string {
	r, _ := s.reason.Load().(string)
	return r
}

// Matches indica se a sessão quer a mensagem publicada no tópico
func (s *Session) Matches(topic string, msg events.ChangeMessage) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.topics[topic] {
		return false
	}
	return len(s.entities) == 0 || s.entities[msg.EntityID()]
}

// TryDeliver enfileira sem bloquear; false significa fila cheia
func (s *Session) TryDeliver(msg events.ChangeMessage) bool {
	if st := s.State(); st == StateClosing || st == StateClosed {
		return true
	}
	select {
	case s.deliver <- msg:
		return true
	default:
		return false
	}
}

// Subscribe amplia o filtro. Tópicos desconhecidos são rejeitados sem alterar nada.
func (s *Session) Subscribe(tps, entityIDs []string) error {
	for _, t := range tps {
		if !topics.IsLive(t) {
			return fmt.Errorf("unknown topic %q", t)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tps {
		s.topics[t] = true
	}
	for _, id := range entityIDs {
		s.entities[id] = true
	}
	return nil
}

// Unsubscribe reduz o filtro. Sem partidas na lista, a sessão volta a receber todas.
func (s *Session) Unsubscribe(tps, entityIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tps {
		delete(s.topics, t)
	}
	for _, id := range entityIDs {
		delete(s.entities, id)
	}
}

// Filter devolve o filtro efetivo, ordenado
func (s *Session) Filter() (tps, entityIDs []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tps, entityIDs = []string{}, []string{}
	for t := range s.topics {
		tps = append(tps, t)
	}
	for id := range s.entities {
		entityIDs = append(entityIDs, id)
	}
	sort.Strings(tps)
	sort.Strings(entityIDs)
	return tps, entityIDs
}

// Send enfileira um frame de controle (pong, erro, confirmação)
func (s *Session) Send(v any) error {
	return s.enqueue(v, false)
}

// Release entrega a hidratação (ou o erro dela) e libera as mudanças retidas
func (s *Session) Release(v any) error {
	return s.enqueue(v, true)
}

func (s *Session) enqueue(v any, release bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	select {
	case s.control <- outbound{frame: b, release: release}:
		return nil
	case <-s.closing:
		return errSessionClosed
	case <-s.done:
		return errSessionClosed
	}
}

var errSessionClosed = fmt.Errorf("session closed")

// HandleClient trata uma mensagem do cliente
func (s *Session) HandleClient(raw []byte) {
	var msg ClientMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		_ = s.Send(ErrorFrame{Type: FrameError, Code: "bad_request", Message: "invalid json"})
		return
	}
	switch msg.Type {
	case FramePing:
		_ = s.Send(PongFrame{Type: FramePong, ServerTime: s.hub.now()})
	case FrameSubscribe:
		if err := s.Subscribe(msg.Topics, msg.EntityIDs); err != nil {
			_ = s.Send(ErrorFrame{Type: FrameError, Code: "unknown_topic", Message: err.Error()})
			return
		}
		s.confirm(FrameSubscribe)
	case FrameUnsubscribe:
		s.Unsubscribe(msg.Topics, msg.EntityIDs)
		s.confirm(FrameUnsubscribe)
	default:
		_ = s.Send(ErrorFrame{Type: FrameError, Code: "unknown_type", Message: fmt.Sprintf("unknown type %q", msg.Type)})
	}
}

func (s *Session) confirm(kind string) {
	tps, ids := s.Filter()
	_ = s.Send(SubscriptionFrame{Type: kind, Topics: tps, EntityIDs: ids})
}

// Close pede o encerramento; o lote pendente é descarregado antes do transporte fechar
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		s.reason.Store(reason)
		s.state.Store(int32(StateClosing))
		close(s.closing)
	})
}

// run é o goroutine de escrita: ack, hidratação, lotes e heartbeat
func (s *Session) run() {
	defer s.finish()

	tps, _ := s.Filter()
	ack, _ := json.Marshal(ConnectionAck{Type: FrameConnection, ConnectionID: s.ID, Topics: tps, ServerTime: s.hub.now()})
	if err := s.write(ack, FrameConnection); err != nil {
		s.Close(ReasonWrite)
		return
	}
	s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))

	var (
		pending []events.ChangeMessage
		timer   *time.Timer
		timerC  <-chan time.Time
		holding = s.hold
	)
	ping := time.NewTicker(s.opts.PingPeriod)
	defer ping.Stop()
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	flush := func() error {
		if len(pending) == 0 {
			return nil
		}
		err := s.flush(pending)
		pending = pending[:0]
		return err
	}
	arm := func() {
		if holding || timerC != nil {
			return
		}
		if s.opts.BatchWindow <= 0 {
			return
		}
		timer = time.NewTimer(s.opts.BatchWindow)
		timerC = timer.C
	}

	for {
		select {
		case m := <-s.deliver:
			pending = append(pending, m)
			if !holding && s.opts.BatchWindow <= 0 {
				if err := flush(); err != nil {
					s.Close(ReasonWrite)
					return
				}
				continue
			}
			arm()

		case <-timerC:
			timerC = nil
			if err := flush(); err != nil {
				s.Close(ReasonWrite)
				return
			}

		case o := <-s.control:
			if err := s.write(o.frame, "control"); err != nil {
				s.Close(ReasonWrite)
				return
			}
			if o.release && holding {
				holding = false
				if err := flush(); err != nil {
					s.Close(ReasonWrite)
					return
				}
			}

		case <-ping.C:
			if err := s.sink.Ping(); err != nil {
				s.Close(ReasonWrite)
				return
			}

		case <-s.closing:
			// drena o que o hub já entregou e descarrega o lote
		drain:
			for {
				select {
				case m := <-s.deliver:
					pending = append(pending, m)
				default:
					break drain
				}
			}
			if s.Reason() != ReasonWrite {
				_ = flush()
			}
			return
		}
	}
}

// flush envia uma mudança isolada como está e várias como lote
func (s *Session) flush(diffs []events.ChangeMessage) error {
	if len(diffs) == 1 {
		b, err := json.Marshal(diffs[0])
		if err != nil {
			return err
		}
		return s.write(b, string(diffs[0].Type))
	}
	b, err := json.Marshal(BatchFrame{Type: FrameBatch, Count: len(diffs), Diffs: diffs})
	if err != nil {
		return err
	}
	s.hub.metrics.batchSize.Observe(float64(len(diffs)))
	return s.write(b, FrameBatch)
}

func (s *Session) write(b []byte, kind string) error {
	if err := s.sink.WriteFrame(b); err != nil {
		s.log.Debug("write failed", zap.Error(err))
		return err
	}
	s.hub.metrics.framesSent.WithLabelValues(s.Transport, kind).Inc()
	return nil
}

func (s *Session) finish() {
	if err := s.sink.Close(); err != nil {
		s.log.Debug("sink close failed", zap.Error(err))
	}
	s.state.Store(int32(StateClosed))
	s.hub.remove(s)
	close(s.done)
}
