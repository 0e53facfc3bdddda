package feed

import (
	"encoding/json"
	"time"
)

// Esquema cru do provedor (API v4 de odds)

type rawSport struct {
	Key          string `json:"key"`
	Group        string `json:"group"`
	Title        string `json:"title"`
	Description  string `json:"description"`
	Active       bool   `json:"active"`
	HasOutrights bool   `json:"has_outrights"`
}

type rawOutcome struct {
	Name  string   `json:"name"`
	Price float64  `json:"price"`
	Point *float64 `json:"point,omitempty"`
}

type rawMarket struct {
	Key        string       `json:"key"`
	LastUpdate time.Time    `json:"last_update"`
	Outcomes   []rawOutcome `json:"outcomes"`
}

type rawBookmaker struct {
	Key        string      `json:"key"`
	Title      string      `json:"title"`
	LastUpdate time.Time   `json:"last_update"`
	Markets    []rawMarket `json:"markets"`
}

type rawEvent struct {
	ID           string         `json:"id"`
	SportKey     string         `json:"sport_key"`
	SportTitle   string         `json:"sport_title"`
	CommenceTime time.Time      `json:"commence_time"`
	HomeTeam     string         `json:"home_team"`
	AwayTeam     string         `json:"away_team"`
	Bookmakers   []rawBookmaker `json:"bookmakers"`

	rawBookmakers json.RawMessage
}

// UnmarshalJSON guarda o bloco de bookmakers cru para repassar como payload aninhado
func (e *rawEvent) UnmarshalJSON(b []byte) error {
	type alias rawEvent
	var a struct {
		alias
		RawBookmakers json.RawMessage `json:"bookmakers"`
	}
	if err := json.Unmarshal(b, &a); err != nil {
		return err
	}
	*e = rawEvent(a.alias)
	if len(a.RawBookmakers) > 0 {
		if err := json.Unmarshal(a.RawBookmakers, &e.Bookmakers); err != nil {
			return err
		}
		e.rawBookmakers = a.RawBookmakers
	}
	return nil
}

type rawScore struct {
	Name  string `json:"name"`
	Score string `json:"score"`
}

type rawScoreEvent struct {
	ID           string     `json:"id"`
	SportKey     string     `json:"sport_key"`
	SportTitle   string     `json:"sport_title"`
	CommenceTime time.Time  `json:"commence_time"`
	Completed    bool       `json:"completed"`
	HomeTeam     string     `json:"home_team"`
	AwayTeam     string     `json:"away_team"`
	Scores       []rawScore `json:"scores"`
	LastUpdate   *time.Time `json:"last_update"`
}
