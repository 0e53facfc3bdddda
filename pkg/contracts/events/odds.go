package events

import (
	"errors"
	"fmt"
	"time"
)

// Resultados possíveis no vetor de preços 1x2
const (
	OutcomeHome = "home"
	OutcomeDraw = "draw"
	OutcomeAway = "away"
)

// Outcomes na ordem usada pelo front
var Outcomes = []string{OutcomeHome, OutcomeDraw, OutcomeAway}

var ErrInvalidOdds = errors.New("invalid odds snapshot")

// Prices é o vetor 1x2 em formato decimal.
// Zero significa indisponível/travado; Draw fica zerado em esportes sem empate.
type Prices struct {
	Home float64 `json:"home"`
	Draw float64 `json:"draw,omitempty"`
	Away float64 `json:"away"`
}

func (p Prices) Equal(o Prices) bool {
	return p.Home == o.Home && p.Draw == o.Draw && p.Away == o.Away
}

// Get retorna o preço de um outcome ("home", "draw", "away")
func (p Prices) Get(outcome string) float64 {
	switch outcome {
	case OutcomeHome:
		return p.Home
	case OutcomeDraw:
		return p.Draw
	case OutcomeAway:
		return p.Away
	}
	return 0
}

// Locked indica que nenhum preço está disponível
func (p Prices) Locked() bool {
	return p.Home == 0 && p.Draw == 0 && p.Away == 0
}

// OddsSnapshot é a foto dos preços de uma partida num instante
type OddsSnapshot struct {
	EntityID  string    `json:"entity_id"`
	Prices    Prices    `json:"prices"`
	Timestamp time.Time `json:"timestamp"`
}

func (s OddsSnapshot) Validate() error {
	if s.EntityID == "" {
		return fmt.Errorf("%w: missing entity_id", ErrInvalidOdds)
	}
	if s.Prices.Home < 0 || s.Prices.Draw < 0 || s.Prices.Away < 0 {
		return fmt.Errorf("%w: negative price for %s", ErrInvalidOdds, s.EntityID)
	}
	return nil
}
