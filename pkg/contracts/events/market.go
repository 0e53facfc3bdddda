package events

import (
	"errors"
	"fmt"
)

// Chaves de mercado usadas pelo provedor
const (
	MarketKeyH2H     = "h2h"
	MarketKeySpreads = "spreads"
	MarketKeyTotals  = "totals"
)

var ErrInvalidMarket = errors.New("invalid market")

type Outcome struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Point *float64 `json:"point,omitempty"`
}

// Market representa um mercado de aposta de uma partida (ex: h2h)
type Market struct {
	MarketID string    `json:"market_id"`
	EntityID string    `json:"entity_id"`
	Key      string    `json:"key"`
	Name     string    `json:"name"`
	Outcomes []Outcome `json:"outcomes"`
}

// MarketID monta o identificador estável de um mercado
func MarketID(entityID, key string) string { return entityID + ":" + key }

// MarketPatch altera o status de mercado da partida e/ou substitui mercados.
type MarketPatch struct {
	EntityID     string        `json:"entity_id"`
	MarketStatus *MarketStatus `json:"market_status,omitempty"`
	Markets      []Market      `json:"markets,omitempty"`
}

func (p MarketPatch) Validate() error {
	if p.EntityID == "" {
		return fmt.Errorf("%w: missing entity_id", ErrInvalidMarket)
	}
	if p.MarketStatus != nil && !p.MarketStatus.Valid() {
		return fmt.Errorf("%w: market_status %q", ErrInvalidMarket, *p.MarketStatus)
	}
	for _, m := range p.Markets {
		if m.MarketID == "" || m.EntityID != p.EntityID {
			return fmt.Errorf("%w: market %q does not belong to %s", ErrInvalidMarket, m.MarketID, p.EntityID)
		}
	}
	return nil
}

// Equal compara mercados incluindo a ordem dos outcomes
func (m Market) Equal(o Market) bool {
	if m.MarketID != o.MarketID || m.EntityID != o.EntityID || m.Key != o.Key || m.Name != o.Name {
		return false
	}
	if len(m.Outcomes) != len(o.Outcomes) {
		return false
	}
	for i := range m.Outcomes {
		a, b := m.Outcomes[i], o.Outcomes[i]
		if a.Name != b.Name || a.Price != b.Price {
			return false
		}
		if (a.Point == nil) != (b.Point == nil) || (a.Point != nil && *a.Point != *b.Point) {
			return false
		}
	}
	return true
}
