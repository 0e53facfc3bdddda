package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Kind é o discriminante da união de mensagens de mudança
type Kind string

const (
	KindEntityNew    Kind = "entity:new"
	KindEntityUpdate Kind = "entity:update"
	KindOddsUpdate   Kind = "odds:update"
	KindMarketUpdate Kind = "market:update"
	KindEntityRemove Kind = "entity:remove"
)

func (k Kind) Valid() bool {
	switch k {
	case KindEntityNew, KindEntityUpdate, KindOddsUpdate, KindMarketUpdate, KindEntityRemove:
		return true
	}
	return false
}

var ErrInvalidMessage = errors.New("invalid change message")

// EntityRemoval é o payload de entity:remove
type EntityRemoval struct {
	EntityID string `json:"entity_id"`
	Reason   string `json:"reason,omitempty"`
}

// ChangeMessage é a união fechada que trafega entre ingest, broker, gateway e cliente.
// Exatamente um payload é preenchido, de acordo com Type.
type ChangeMessage struct {
	Type      Kind
	Timestamp time.Time

	Entity  *Entity
	Patch   *EntityPatch
	Odds    *OddsSnapshot
	Market  *MarketPatch
	Removal *EntityRemoval
}

func NewEntityMessage(e Entity) ChangeMessage {
	return ChangeMessage{Type: KindEntityNew, Entity: &e}
}

func UpdateMessage(p EntityPatch) ChangeMessage {
	return ChangeMessage{Type: KindEntityUpdate, Patch: &p}
}

func OddsMessage(s OddsSnapshot) ChangeMessage {
	return ChangeMessage{Type: KindOddsUpdate, Odds: &s}
}

func MarketMessage(p MarketPatch) ChangeMessage {
	return ChangeMessage{Type: KindMarketUpdate, Market: &p}
}

func RemoveMessage(entityID, reason string) ChangeMessage {
	return ChangeMessage{Type: KindEntityRemove, Removal: &EntityRemoval{EntityID: entityID, Reason: reason}}
}

// EntityID devolve a partida afetada, usada como chave de partição
func (m ChangeMessage) EntityID() string {
	switch m.Type {
	case KindEntityNew:
		if m.Entity != nil {
			return m.Entity.EntityID
		}
	case KindEntityUpdate:
		if m.Patch != nil {
			return m.Patch.EntityID
		}
	case KindOddsUpdate:
		if m.Odds != nil {
			return m.Odds.EntityID
		}
	case KindMarketUpdate:
		if m.Market != nil {
			return m.Market.EntityID
		}
	case KindEntityRemove:
		if m.Removal != nil {
			return m.Removal.EntityID
		}
	}
	return ""
}

func (m ChangeMessage) payload() any {
	switch m.Type {
	case KindEntityNew:
		return m.Entity
	case KindEntityUpdate:
		return m.Patch
	case KindOddsUpdate:
		return m.Odds
	case KindMarketUpdate:
		return m.Market
	case KindEntityRemove:
		return m.Removal
	}
	return nil
}

// Validate garante que o payload bate com o discriminante
func (m ChangeMessage) Validate() error {
	if !m.Type.Valid() {
		return fmt.Errorf("%w: type %q", ErrInvalidMessage, m.Type)
	}
	set := 0
	for _, p := range []bool{m.Entity != nil, m.Patch != nil, m.Odds != nil, m.Market != nil, m.Removal != nil} {
		if p {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("%w: %s carries %d payloads", ErrInvalidMessage, m.Type, set)
	}

	var err error
	switch m.Type {
	case KindEntityNew:
		if m.Entity == nil {
			return fmt.Errorf("%w: %s without entity", ErrInvalidMessage, m.Type)
		}
		err = m.Entity.Validate()
	case KindEntityUpdate:
		if m.Patch == nil {
			return fmt.Errorf("%w: %s without patch", ErrInvalidMessage, m.Type)
		}
		err = m.Patch.Validate()
	case KindOddsUpdate:
		if m.Odds == nil {
			return fmt.Errorf("%w: %s without odds", ErrInvalidMessage, m.Type)
		}
		err = m.Odds.Validate()
	case KindMarketUpdate:
		if m.Market == nil {
			return fmt.Errorf("%w: %s without market", ErrInvalidMessage, m.Type)
		}
		err = m.Market.Validate()
	case KindEntityRemove:
		if m.Removal == nil || m.Removal.EntityID == "" {
			return fmt.Errorf("%w: %s without entity_id", ErrInvalidMessage, m.Type)
		}
	}
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	return nil
}

type wireMessage struct {
	Type      Kind            `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

func (m ChangeMessage) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(m.payload())
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Type: m.Type, Timestamp: m.Timestamp, Data: data})
}

func (m *ChangeMessage) UnmarshalJSON(b []byte) error {
	var w wireMessage
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	out := ChangeMessage{Type: w.Type, Timestamp: w.Timestamp}

	var target any
	switch w.Type {
	case KindEntityNew:
		out.Entity = &Entity{}
		target = out.Entity
	case KindEntityUpdate:
		out.Patch = &EntityPatch{}
		target = out.Patch
	case KindOddsUpdate:
		out.Odds = &OddsSnapshot{}
		target = out.Odds
	case KindMarketUpdate:
		out.Market = &MarketPatch{}
		target = out.Market
	case KindEntityRemove:
		out.Removal = &EntityRemoval{}
		target = out.Removal
	default:
		return fmt.Errorf("%w: type %q", ErrInvalidMessage, w.Type)
	}
	if len(w.Data) == 0 || string(w.Data) == "null" {
		return fmt.Errorf("%w: %s without data", ErrInvalidMessage, w.Type)
	}
	if err := json.Unmarshal(w.Data, target); err != nil {
		return fmt.Errorf("%w: %s data: %v", ErrInvalidMessage, w.Type, err)
	}
	*m = out
	return nil
}

// DecodeChangeMessage desserializa e valida uma mensagem na borda do transporte
func DecodeChangeMessage(b []byte) (ChangeMessage, error) {
	var m ChangeMessage
	if err := json.Unmarshal(b, &m); err != nil {
		if errors.Is(err, ErrInvalidMessage) {
			return ChangeMessage{}, err
		}
		return ChangeMessage{}, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}
	if err := m.Validate(); err != nil {
		return ChangeMessage{}, err
	}
	return m, nil
}
