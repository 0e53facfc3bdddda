package sse

import (
	"fmt"
	"net/http"

	"github.com/radieske/sports-live-feed/internal/gateway/ws"
)

// sink escreve eventos text/event-stream; o handler só retorna depois da sessão fechar
type sink struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (s *sink) WriteFrame(b []byte) error {
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", b); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// Ping usa linha de comentário, ignorada pelo EventSource
func (s *sink) Ping() error {
	if _, err := fmt.Fprint(s.w, ": ping\n\n"); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

func (s *sink) Close() error { return nil }

// Handler serve /v1/stream com a mesma política de sessão e lote do WebSocket.
// Canal só de descida: o filtro é fixado pela URL.
func Handler(hub *ws.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		sub, err := ws.ParseSubscription(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		h := w.Header()
		h.Set("Content-Type", "text/event-stream")
		h.Set("Cache-Control", "no-cache")
		h.Set("Connection", "keep-alive")
		h.Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		s := hub.Attach(&sink{w: w, flusher: flusher}, "sse", sub)
		select {
		case <-r.Context().Done():
			s.Close(ws.ReasonClient)
		case <-s.Done():
		}
		<-s.Done()
	}
}
