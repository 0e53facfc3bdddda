package events

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Status representa o ciclo de vida de uma partida
type Status string

const (
	StatusUpcoming  Status = "upcoming"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUpcoming, StatusLive, StatusCompleted:
		return true
	}
	return false
}

// Terminal indica que a partida não recebe mais atualizações
func (s Status) Terminal() bool { return s == StatusCompleted }

// MarketStatus controla se os preços da partida podem ser selecionados
type MarketStatus string

const (
	MarketOpen      MarketStatus = "open"
	MarketSuspended MarketStatus = "suspended"
	MarketClosed    MarketStatus = "closed"
)

func (m MarketStatus) Valid() bool {
	switch m {
	case MarketOpen, MarketSuspended, MarketClosed:
		return true
	}
	return false
}

// Source identifica quem produziu o dado
type Source string

const (
	SourceFeed   Source = "feed"
	SourceManual Source = "manual"
)

func (s Source) Valid() bool { return s == SourceFeed || s == SourceManual }

var ErrInvalidEntity = errors.New("invalid entity")

type Participant struct {
	Name string `json:"name"`
	Logo string `json:"logo,omitempty"`
}

type Scores struct {
	Home int `json:"home"`
	Away int `json:"away"`
}

// Entity representa uma partida acompanhada pelo pipeline.
// EntityID é estável durante todo o ciclo de vida.
type Entity struct {
	EntityID     string          `json:"entity_id"`
	SportKey     string          `json:"sport_key"`
	LeagueID     string          `json:"league_id"`
	LeagueName   string          `json:"league_name"`
	Home         Participant     `json:"home"`
	Away         Participant     `json:"away"`
	CommenceTime time.Time       `json:"commence_time"`
	Status       Status          `json:"status"`
	Scores       *Scores         `json:"scores,omitempty"`
	MarketStatus MarketStatus    `json:"market_status"`
	Source       Source          `json:"source"`
	RawQuotes    json.RawMessage `json:"raw_quotes,omitempty"`
}

// Normalize aplica os defaults e garante o invariante de placar:
// partidas que ainda não começaram não carregam scores.
func (e *Entity) Normalize() {
	if e.Status == "" {
		e.Status = StatusUpcoming
	}
	if e.MarketStatus == "" {
		e.MarketStatus = MarketOpen
	}
	if e.Source == "" {
		e.Source = SourceFeed
	}
	if e.Status == StatusUpcoming {
		e.Scores = nil
	}
}

func (e Entity) Validate() error {
	if e.EntityID == "" {
		return fmt.Errorf("%w: missing entity_id", ErrInvalidEntity)
	}
	if !e.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidEntity, e.Status)
	}
	if !e.MarketStatus.Valid() {
		return fmt.Errorf("%w: market_status %q", ErrInvalidEntity, e.MarketStatus)
	}
	if !e.Source.Valid() {
		return fmt.Errorf("%w: source %q", ErrInvalidEntity, e.Source)
	}
	if e.Status == StatusUpcoming && e.Scores != nil {
		return fmt.Errorf("%w: scores on upcoming entity", ErrInvalidEntity)
	}
	return nil
}

// EntityPatch carrega apenas os campos alterados de uma partida.
// Campo nil = não alterado.
type EntityPatch struct {
	EntityID     string          `json:"entity_id"`
	SportKey     *string         `json:"sport_key,omitempty"`
	LeagueID     *string         `json:"league_id,omitempty"`
	LeagueName   *string         `json:"league_name,omitempty"`
	Home         *Participant    `json:"home,omitempty"`
	Away         *Participant    `json:"away,omitempty"`
	CommenceTime *time.Time      `json:"commence_time,omitempty"`
	Status       *Status         `json:"status,omitempty"`
	Scores       *Scores         `json:"scores,omitempty"`
	MarketStatus *MarketStatus   `json:"market_status,omitempty"`
	Source       *Source         `json:"source,omitempty"`
	RawQuotes    json.RawMessage `json:"raw_quotes,omitempty"`
}

// Empty indica que o patch não altera nenhum campo
func (p EntityPatch) Empty() bool {
	return p.SportKey == nil && p.LeagueID == nil && p.LeagueName == nil &&
		p.Home == nil && p.Away == nil && p.CommenceTime == nil &&
		p.Status == nil && p.Scores == nil && p.MarketStatus == nil &&
		p.Source == nil && len(p.RawQuotes) == 0
}

func (p EntityPatch) Validate() error {
	if p.EntityID == "" {
		return fmt.Errorf("%w: patch without entity_id", ErrInvalidEntity)
	}
	if p.Status != nil && !p.Status.Valid() {
		return fmt.Errorf("%w: status %q", ErrInvalidEntity, *p.Status)
	}
	if p.MarketStatus != nil && !p.MarketStatus.Valid() {
		return fmt.Errorf("%w: market_status %q", ErrInvalidEntity, *p.MarketStatus)
	}
	if p.Source != nil && !p.Source.Valid() {
		return fmt.Errorf("%w: source %q", ErrInvalidEntity, *p.Source)
	}
	return nil
}

// Apply mescla o patch sobre a entidade (last-write-wins por campo) e
// devolve as chaves que de fato mudaram. Sem chaves alteradas o resultado
// é igual à entrada, o que torna a reaplicação idempotente.
func (p EntityPatch) Apply(e Entity) (Entity, []string) {
	var changed []string
	out := e
	if out.EntityID == "" {
		out.EntityID = p.EntityID
	}

	if p.SportKey != nil && *p.SportKey != e.SportKey {
		out.SportKey = *p.SportKey
		changed = append(changed, "sport_key")
	}
	if p.LeagueID != nil && *p.LeagueID != e.LeagueID {
		out.LeagueID = *p.LeagueID
		changed = append(changed, "league_id")
	}
	if p.LeagueName != nil && *p.LeagueName != e.LeagueName {
		out.LeagueName = *p.LeagueName
		changed = append(changed, "league_name")
	}
	if p.Home != nil && *p.Home != e.Home {
		out.Home = *p.Home
		changed = append(changed, "home")
	}
	if p.Away != nil && *p.Away != e.Away {
		out.Away = *p.Away
		changed = append(changed, "away")
	}
	if p.CommenceTime != nil && !p.CommenceTime.Equal(e.CommenceTime) {
		out.CommenceTime = *p.CommenceTime
		changed = append(changed, "commence_time")
	}
	if p.Status != nil && *p.Status != e.Status {
		out.Status = *p.Status
		changed = append(changed, "status")
	}
	if p.Scores != nil && out.Status != StatusUpcoming && (e.Scores == nil || *p.Scores != *e.Scores) {
		s := *p.Scores
		out.Scores = &s
		changed = append(changed, "scores")
	}
	if p.MarketStatus != nil && *p.MarketStatus != e.MarketStatus {
		out.MarketStatus = *p.MarketStatus
		changed = append(changed, "market_status")
	}
	if p.Source != nil && *p.Source != e.Source {
		out.Source = *p.Source
		changed = append(changed, "source")
	}
	if len(p.RawQuotes) > 0 && !bytes.Equal(p.RawQuotes, e.RawQuotes) {
		out.RawQuotes = append(json.RawMessage(nil), p.RawQuotes...)
		changed = append(changed, "raw_quotes")
	}

	if len(changed) == 0 {
		return e, nil
	}
	// placar só existe depois do início
	if out.Status == StatusUpcoming && out.Scores != nil {
		out.Scores = nil
	}
	return out, changed
}

// DiffEntities monta o patch mínimo que leva prev até next.
func DiffEntities(prev, next Entity) EntityPatch {
	p := EntityPatch{EntityID: next.EntityID}
	if prev.SportKey != next.SportKey {
		p.SportKey = ptr(next.SportKey)
	}
	if prev.LeagueID != next.LeagueID {
		p.LeagueID = ptr(next.LeagueID)
	}
	if prev.LeagueName != next.LeagueName {
		p.LeagueName = ptr(next.LeagueName)
	}
	if prev.Home != next.Home {
		p.Home = ptr(next.Home)
	}
	if prev.Away != next.Away {
		p.Away = ptr(next.Away)
	}
	if !prev.CommenceTime.Equal(next.CommenceTime) {
		p.CommenceTime = ptr(next.CommenceTime)
	}
	if prev.Status != next.Status {
		p.Status = ptr(next.Status)
	}
	if next.Scores != nil && (prev.Scores == nil || *prev.Scores != *next.Scores) {
		p.Scores = ptr(*next.Scores)
	}
	if prev.MarketStatus != next.MarketStatus {
		p.MarketStatus = ptr(next.MarketStatus)
	}
	if prev.Source != next.Source {
		p.Source = ptr(next.Source)
	}
	return p
}

func ptr[T any](v T) *T { return &v }
