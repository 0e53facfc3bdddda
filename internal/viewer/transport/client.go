package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/gateway/ws"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

var errPongTimeout = errors.New("transport: pong timeout")

// Applier é o lado do store alimentado pelo transporte
type Applier interface {
	Len() int
	ApplyBatch(msgs []events.ChangeMessage) bool
	ApplyHydration(h events.Hydration)
}

// Options do transporte do cliente
type Options struct {
	URL                  string
	HydrateURL           string
	Topics               []string
	ReconnectDelay       time.Duration
	MaxReconnectAttempts int
	HeartbeatInterval    time.Duration
	PongTimeout          time.Duration // também limita a espera pelo ack
	BatchWindow          time.Duration
	HydrateOverSocket    bool          // pede mirror=empty ao gateway em vez do GET
	ResyncInterval       time.Duration // hidratação periódica; 0 desliga
	Dialer               *websocket.Dialer
	HTTPClient           *http.Client
}

func (o Options) withDefaults() Options {
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = 3 * time.Second
	}
	if o.MaxReconnectAttempts <= 0 {
		o.MaxReconnectAttempts = 5
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 20 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 10 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 15 * time.Second}
	}
	return o
}

// Stats são contadores acumulados desde o início
type Stats struct {
	Frames     int64
	Applied    int64
	Reconnects int64
	Hydrations int64
}

// Client mantém a conexão com o gateway e aplica as mudanças no store.
// Tudo que toca a conexão e o store roda num único loop de eventos.
type Client struct {
	opts  Options
	store Applier
	log   *zap.Logger

	state    atomic.Int32
	attempts atomic.Int32
	running  atomic.Bool

	frames, applied, reconnects, hydrations atomic.Int64

	mu        sync.Mutex
	listeners []func(State)

	events chan any
}

func New(opts Options, st Applier, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	c := &Client{
		opts:   opts.withDefaults(),
		store:  st,
		log:    log,
		events: make(chan any, 64),
	}
	c.state.Store(int32(StateClosed))
	return c
}

func (c *Client) State() State  { return State(c.state.Load()) }
func (c *Client) Attempts() int { return int(c.attempts.Load()) }

func (c *Client) Stats() Stats {
	return Stats{
		Frames:     c.frames.Load(),
		Applied:    c.applied.Load(),
		Reconnects: c.reconnects.Load(),
		Hydrations: c.hydrations.Load(),
	}
}

// OnStateChange registra um observador; é chamado no loop e não deve bloquear
func (c *Client) OnStateChange(fn func(State)) {
	c.mu.Lock()
	c.listeners = append(c.listeners, fn)
	c.mu.Unlock()
}

func (c *Client) setState(s State) {
	if State(c.state.Swap(int32(s))) == s {
		return
	}
	c.mu.Lock()
	ls := append([]func(State){}, c.listeners...)
	c.mu.Unlock()
	for _, l := range ls {
		l(s)
	}
}

// eventos internos enviados ao loop
type (
	dialed struct {
		gen  int
		conn *websocket.Conn
		err  error
	}
	received struct {
		gen  int
		data []byte
	}
	readFailed struct {
		gen int
		err error
	}
	hydrated struct {
		h   events.Hydration
		err error
	}
)

func (c *Client) post(ctx context.Context, ev any) bool {
	select {
	case c.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// Run conecta e processa até o ctx acabar (nil) ou as reconexões se esgotarem
// (ErrRequiresManualRefresh). Só pode ser chamado uma vez.
func (c *Client) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("transport: already running")
	}
	l := &loop{c: c, ctx: ctx}
	defer l.stop()

	var resync <-chan time.Time
	if c.opts.ResyncInterval > 0 {
		t := time.NewTicker(c.opts.ResyncInterval)
		defer t.Stop()
		resync = t.C
	}

	c.setState(StateConnecting)
	l.connect()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-c.events:
			if err := l.handle(ev); err != nil {
				return err
			}
		case <-timerC(l.flushT):
			l.flushT = nil
			l.flush()
		case <-tickerC(l.heartbeat):
			if err := l.ping(); err != nil {
				if err := l.lost(err); err != nil {
					return err
				}
			}
		case <-timerC(l.deadline):
			l.deadline = nil
			if err := l.lost(errPongTimeout); err != nil {
				return err
			}
		case <-timerC(l.retry):
			l.retry = nil
			l.connect()
		case <-resync:
			if l.conn != nil && c.State() == StateOpen && !l.hydrating {
				l.hydrate()
			}
		}
	}
}

// loop guarda o estado que só o loop de eventos toca
type loop struct {
	c   *Client
	ctx context.Context

	conn      *websocket.Conn
	gen       int
	pending   []events.ChangeMessage
	held      []events.ChangeMessage // retidas enquanto a hidratação não chega
	hydrating bool

	flushT    *time.Timer
	deadline  *time.Timer
	retry     *time.Timer
	heartbeat *time.Ticker
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func tickerC(t *time.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (l *loop) dialURL() (string, error) {
	u, err := url.Parse(l.c.opts.URL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if len(l.c.opts.Topics) > 0 {
		q.Set("topics", strings.Join(l.c.opts.Topics, ","))
	}
	if l.c.opts.HydrateOverSocket && l.c.store.Len() == 0 {
		q.Set("mirror", "empty")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (l *loop) connect() {
	l.gen++
	gen := l.gen
	target, err := l.dialURL()
	c := l.c
	go func() {
		if err != nil {
			c.post(l.ctx, dialed{gen: gen, err: err})
			return
		}
		conn, _, err := c.opts.Dialer.DialContext(l.ctx, target, nil)
		if !c.post(l.ctx, dialed{gen: gen, conn: conn, err: err}) && conn != nil {
			_ = conn.Close()
		}
	}()
}

func (l *loop) read(gen int, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			l.c.post(l.ctx, readFailed{gen: gen, err: err})
			return
		}
		if !l.c.post(l.ctx, received{gen: gen, data: data}) {
			return
		}
	}
}

func (l *loop) handle(ev any) error {
	switch ev := ev.(type) {
	case dialed:
		if ev.gen != l.gen {
			if ev.conn != nil {
				_ = ev.conn.Close()
			}
			return nil
		}
		if ev.err != nil {
			return l.lost(fmt.Errorf("dial gateway: %w", ev.err))
		}
		l.conn = ev.conn
		go l.read(ev.gen, ev.conn)
		l.arm()
	case received:
		if ev.gen != l.gen {
			return nil
		}
		l.c.frames.Add(1)
		return l.frame(ev.data)
	case readFailed:
		if ev.gen != l.gen {
			return nil
		}
		return l.lost(ev.err)
	case hydrated:
		l.hydrating = false
		if ev.err != nil {
			l.c.log.Warn("hydration failed", zap.Error(ev.err))
		} else {
			l.c.store.ApplyHydration(ev.h)
			l.c.hydrations.Add(1)
			l.c.log.Info("store hydrated", zap.Int("entities", len(ev.h.Entities)))
		}
		l.applyHeld()
	}
	return nil
}

func (l *loop) frame(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		l.c.log.Debug("dropping malformed frame", zap.Error(err))
		return nil
	}
	switch head.Type {
	case ws.FrameConnection:
		l.opened()
	case ws.FramePong:
		l.disarm()
	case ws.FrameBatch:
		var b ws.BatchFrame
		if err := json.Unmarshal(data, &b); err != nil {
			l.c.log.Debug("dropping malformed batch", zap.Error(err))
			return nil
		}
		l.pending = append(l.pending, b.Diffs...)
		l.flush()
	case ws.FrameHydration:
		var h ws.HydrationFrame
		if err := json.Unmarshal(data, &h); err != nil {
			l.c.log.Warn("dropping malformed hydration", zap.Error(err))
			return nil
		}
		l.c.store.ApplyHydration(h.Data)
		l.c.hydrations.Add(1)
	case ws.FrameError:
		var e ws.ErrorFrame
		_ = json.Unmarshal(data, &e)
		l.c.log.Warn("gateway error frame", zap.String("code", e.Code), zap.String("message", e.Message))
	case ws.FrameSubscribe, ws.FrameUnsubscribe:
	default:
		msg, err := events.DecodeChangeMessage(data)
		if err != nil {
			l.c.log.Debug("dropping undecodable change", zap.Error(err))
			return nil
		}
		l.pending = append(l.pending, msg)
		if l.c.opts.BatchWindow <= 0 {
			l.flush()
		} else if l.flushT == nil {
			l.flushT = time.NewTimer(l.c.opts.BatchWindow)
		}
	}
	return nil
}

func (l *loop) opened() {
	l.disarm()
	if n := l.c.attempts.Swap(0); n > 0 {
		l.c.log.Info("reconnected to gateway", zap.Int32("attempts", n))
	}
	l.c.setState(StateOpen)
	if l.heartbeat == nil {
		l.heartbeat = time.NewTicker(l.c.opts.HeartbeatInterval)
	}
	// reconexão nunca limpa o store; só hidrata se estiver vazio
	if !l.c.opts.HydrateOverSocket && l.c.store.Len() == 0 && !l.hydrating {
		l.hydrate()
	}
}

func (l *loop) hydrate() {
	if l.c.opts.HydrateURL == "" {
		return
	}
	l.hydrating = true
	go func() {
		h, err := l.c.fetchHydration(l.ctx)
		l.c.post(l.ctx, hydrated{h: h, err: err})
	}()
}

func (c *Client) fetchHydration(ctx context.Context) (events.Hydration, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.opts.HydrateURL, nil)
	if err != nil {
		return events.Hydration{}, err
	}
	req.Header.Set("Accept", "application/json")
	resp, err := c.opts.HTTPClient.Do(req)
	if err != nil {
		return events.Hydration{}, fmt.Errorf("hydrate: %w", err)
	}
	defer resp.Body.Close()

	var out events.HydrationResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return events.Hydration{}, fmt.Errorf("hydrate: status %d: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !out.Success {
		return events.Hydration{}, fmt.Errorf("hydrate: status %d: %s", resp.StatusCode, out.Error)
	}
	return out.Data, nil
}

// flush aplica o lote pendente numa única mutação do store
func (l *loop) flush() {
	if l.flushT != nil {
		l.flushT.Stop()
		l.flushT = nil
	}
	if len(l.pending) == 0 {
		return
	}
	if l.hydrating {
		l.held = append(l.held, l.pending...)
		l.pending = nil
		return
	}
	l.c.store.ApplyBatch(l.pending)
	l.c.applied.Add(int64(len(l.pending)))
	l.pending = nil
}

func (l *loop) applyHeld() {
	if len(l.held) == 0 {
		return
	}
	l.c.store.ApplyBatch(l.held)
	l.c.applied.Add(int64(len(l.held)))
	l.held = nil
}

func (l *loop) ping() error {
	if l.conn == nil {
		return nil
	}
	b, _ := json.Marshal(ws.ClientMsg{Type: ws.FramePing})
	_ = l.conn.SetWriteDeadline(time.Now().Add(l.c.opts.PongTimeout))
	if err := l.conn.WriteMessage(websocket.TextMessage, b); err != nil {
		return fmt.Errorf("write ping: %w", err)
	}
	if l.deadline == nil {
		l.arm()
	}
	return nil
}

// arm inicia a espera por ack ou pong
func (l *loop) arm() {
	l.disarm()
	l.deadline = time.NewTimer(l.c.opts.PongTimeout)
}

func (l *loop) disarm() {
	if l.deadline != nil {
		l.deadline.Stop()
		l.deadline = nil
	}
}

func (l *loop) closeConn() {
	l.gen++
	l.disarm()
	if l.heartbeat != nil {
		l.heartbeat.Stop()
		l.heartbeat = nil
	}
	if l.conn == nil {
		return
	}
	_ = l.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	_ = l.conn.Close()
	l.conn = nil
}

// lost trata a queda: aplica o pendente, fecha e agenda a próxima tentativa
func (l *loop) lost(cause error) error {
	l.flush()
	l.closeConn()
	l.c.setState(StateClosed)

	if l.c.Attempts() >= l.c.opts.MaxReconnectAttempts {
		l.c.log.Error("gateway unreachable, giving up",
			zap.Error(cause), zap.Int("attempts", l.c.Attempts()))
		l.c.setState(StateTerminal)
		return ErrRequiresManualRefresh
	}
	n := l.c.attempts.Add(1)
	l.c.reconnects.Add(1)
	l.c.log.Warn("gateway connection lost", zap.Error(cause), zap.Int32("attempt", n))
	l.c.setState(StateReconnecting)
	l.retry = time.NewTimer(l.c.opts.ReconnectDelay)
	return nil
}

// stop cancela os timers e aplica o que ficou na fila
func (l *loop) stop() {
	if l.flushT != nil {
		l.flushT.Stop()
		l.flushT = nil
	}
	if l.retry != nil {
		l.retry.Stop()
		l.retry = nil
	}
	l.held = append(l.held, l.pending...)
	l.pending = nil
	l.applyHeld()
	l.closeConn()
	if l.c.State() != StateTerminal {
		l.c.setState(StateClosed)
	}
}
