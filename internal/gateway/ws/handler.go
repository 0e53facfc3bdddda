package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const maxMessageSize = 4096

// wsSink escreve frames numa conexão gorilla; só o goroutine da sessão escreve
type wsSink struct {
	conn      *websocket.Conn
	writeWait time.Duration
}

func (w *wsSink) WriteFrame(b []byte) error {
	_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, b)
}

func (w *wsSink) Ping() error {
	return w.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(w.writeWait))
}

func (w *wsSink) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(w.writeWait))
	return w.conn.Close()
}

// HandleWS gerencia o ciclo de vida de uma conexão WebSocket
// O filtro inicial vem da URL; depois o cliente envia subscribe/unsubscribe/ping
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	sub, err := ParseSubscription(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	s := h.Attach(&wsSink{conn: conn, writeWait: h.opts.WriteWait}, "ws", sub)
	go h.readPump(conn, s)
}

// readPump lê mensagens do cliente e mantém o prazo de leitura vivo a cada pong
func (h *Hub) readPump(conn *websocket.Conn, s *Session) {
	defer s.Close(ReasonRead)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.Close(ReasonClient)
			} else if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("read failed", zap.Error(err))
			}
			return
		}
		// ping de aplicação também conta como sinal de vida
		_ = conn.SetReadDeadline(time.Now().Add(h.opts.PongWait))
		s.HandleClient(raw)
	}
}
