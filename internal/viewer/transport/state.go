package transport

import "errors"

// ErrRequiresManualRefresh encerra o transporte depois de esgotar as reconexões
var ErrRequiresManualRefresh = errors.New("transport: reconnect attempts exhausted, manual refresh required")

// State do transporte do cliente
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosed
	StateReconnecting
	StateTerminal
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateClosed:
		return "CLOSED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateTerminal:
		return "TERMINAL"
	}
	return "UNKNOWN"
}
