package events

import "time"

// Sport agrupa ligas (ex: soccer, basketball)
type Sport struct {
	Key  string `json:"key"`
	Name string `json:"name"`
}

// League é a classificação usada pelo provedor (ex: soccer_epl)
type League struct {
	ID       string `json:"id"`
	SportKey string `json:"sport_key"`
	Name     string `json:"name"`
	Active   bool   `json:"active"`
}

// Catalog é o dado de referência, lido com frequência e atualizado devagar
type Catalog struct {
	Sports    []Sport   `json:"sports"`
	Leagues   []League  `json:"leagues"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Hydration é o estado completo usado para (re)popular um espelho de cliente
type Hydration struct {
	Entities []Entity       `json:"entities"`
	Odds     []OddsSnapshot `json:"odds"`
	Markets  []Market       `json:"markets"`
	Catalog  Catalog        `json:"catalog"`
}

// HydrationResponse é o envelope de GET /v1/hydrate
type HydrationResponse struct {
	Success bool      `json:"success"`
	Data    Hydration `json:"data"`
	Error   string    `json:"error,omitempty"`
}
