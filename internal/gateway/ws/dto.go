package ws

import (
	"time"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Tipos de frame de controle (as mudanças usam o próprio events.Kind)
const (
	FrameConnection  = "connection"
	FramePing        = "ping"
	FramePong        = "pong"
	FrameBatch       = "batch"
	FrameHydration   = "hydration"
	FrameError       = "error"
	FrameSubscribe   = "subscribe"
	FrameUnsubscribe = "unsubscribe"
)

// ClientMsg representa uma mensagem recebida do cliente
// Type: subscribe | unsubscribe | ping
// Topics e EntityIDs vazios em subscribe não restringem nada
type ClientMsg struct {
	Type      string   `json:"type"`
	Topics    []string `json:"topics,omitempty"`
	EntityIDs []string `json:"entity_ids,omitempty"`
}

// ConnectionAck é o primeiro frame de toda sessão
type ConnectionAck struct {
	Type         string    `json:"type"`
	ConnectionID string    `json:"connection_id"`
	Topics       []string  `json:"topics"`
	ServerTime   time.Time `json:"server_time"`
}

// BatchFrame agrupa as mudanças de uma janela
type BatchFrame struct {
	Type  string                 `json:"type"`
	Count int                    `json:"count"`
	Diffs []events.ChangeMessage `json:"diffs"`
}

type HydrationFrame struct {
	Type string           `json:"type"`
	Data events.Hydration `json:"data"`
}

type PongFrame struct {
	Type       string    `json:"type"`
	ServerTime time.Time `json:"server_time"`
}

// SubscriptionFrame confirma o filtro efetivo após subscribe/unsubscribe
type SubscriptionFrame struct {
	Type      string   `json:"type"`
	Topics    []string `json:"topics"`
	EntityIDs []string `json:"entity_ids"`
}

type ErrorFrame struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}
