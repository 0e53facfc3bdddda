package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// ReadRepo lê a projeção gravada pelo processor
type ReadRepo struct {
	DB *sql.DB
}

// Filter restringe a listagem de partidas; campos vazios não filtram
type Filter struct {
	Status events.Status
	League string
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (r *ReadRepo) ListEntities(ctx context.Context, f Filter) ([]events.Entity, error) {
	return listEntities(ctx, r.DB, f)
}

func listEntities(ctx context.Context, db querier, f Filter) ([]events.Entity, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.League != "" {
		args = append(args, f.League)
		where = append(where, fmt.Sprintf("league_id = $%d", len(args)))
	}
	q := `SELECT payload FROM live_entities`
	if len(where) > 0 {
		q += " WHERE " + strings.Join(where, " AND ")
	}
	q += " ORDER BY entity_id"

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []events.Entity{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var e events.Entity
		if err := json.Unmarshal(raw, &e); err != nil {
			return nil, fmt.Errorf("decode entity: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *ReadRepo) GetEntity(ctx context.Context, id string) (events.Entity, bool, error) {
	const q = `SELECT payload FROM live_entities WHERE entity_id = $1`
	var raw []byte
	if err := r.DB.QueryRowContext(ctx, q, id).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return events.Entity{}, false, nil
		}
		return events.Entity{}, false, err
	}
	var e events.Entity
	if err := json.Unmarshal(raw, &e); err != nil {
		return events.Entity{}, false, fmt.Errorf("decode entity %s: %w", id, err)
	}
	return e, true, nil
}

// ListMarkets lista os mercados de uma partida; entityID vazio lista todos
func (r *ReadRepo) ListMarkets(ctx context.Context, entityID string) ([]events.Market, error) {
	return listMarkets(ctx, r.DB, entityID)
}

func listMarkets(ctx context.Context, db querier, entityID string) ([]events.Market, error) {
	q := `SELECT payload FROM live_markets`
	var args []any
	if entityID != "" {
		q += ` WHERE entity_id = $1`
		args = append(args, entityID)
	}
	q += ` ORDER BY market_id`

	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []events.Market{}
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var m events.Market
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, fmt.Errorf("decode market: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *ReadRepo) GetOdds(ctx context.Context, entityID string) (events.OddsSnapshot, bool, error) {
	const q = `
		SELECT entity_id, home_odd, draw_odd, away_odd, updated_at
		FROM live_odds_current
		WHERE entity_id = $1
	`
	var s events.OddsSnapshot
	err := r.DB.QueryRowContext(ctx, q, entityID).
		Scan(&s.EntityID, &s.Prices.Home, &s.Prices.Draw, &s.Prices.Away, &s.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return events.OddsSnapshot{}, false, nil
	}
	if err != nil {
		return events.OddsSnapshot{}, false, err
	}
	return s, true, nil
}

func listOdds(ctx context.Context, db querier) ([]events.OddsSnapshot, error) {
	const q = `
		SELECT entity_id, home_odd, draw_odd, away_odd, updated_at
		FROM live_odds_current
		ORDER BY entity_id
	`
	rows, err := db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []events.OddsSnapshot{}
	for rows.Next() {
		var s events.OddsSnapshot
		if err := rows.Scan(&s.EntityID, &s.Prices.Home, &s.Prices.Draw, &s.Prices.Away, &s.Timestamp); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ReadRepo) GetCatalog(ctx context.Context) (events.Catalog, bool, error) {
	return getCatalog(ctx, r.DB)
}

func getCatalog(ctx context.Context, db querier) (events.Catalog, bool, error) {
	const q = `SELECT payload FROM live_catalog WHERE id = 1`
	var raw []byte
	if err := db.QueryRowContext(ctx, q).Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return events.Catalog{}, false, nil
		}
		return events.Catalog{}, false, err
	}
	var c events.Catalog
	if err := json.Unmarshal(raw, &c); err != nil {
		return events.Catalog{}, false, fmt.Errorf("decode catalog: %w", err)
	}
	return c, true, nil
}

// Snapshot lê o estado completo numa única transação somente leitura,
// para que partidas, odds e mercados venham do mesmo instante.
func (r *ReadRepo) Snapshot(ctx context.Context) (events.Hydration, error) {
	tx, err := r.DB.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return events.Hydration{}, err
	}
	defer func() { _ = tx.Rollback() }()

	var h events.Hydration
	if h.Entities, err = listEntities(ctx, tx, Filter{}); err != nil {
		return events.Hydration{}, fmt.Errorf("entities: %w", err)
	}
	if h.Odds, err = listOdds(ctx, tx); err != nil {
		return events.Hydration{}, fmt.Errorf("odds: %w", err)
	}
	if h.Markets, err = listMarkets(ctx, tx, ""); err != nil {
		return events.Hydration{}, fmt.Errorf("markets: %w", err)
	}
	if h.Catalog, _, err = getCatalog(ctx, tx); err != nil {
		return events.Hydration{}, fmt.Errorf("catalog: %w", err)
	}
	return h, tx.Commit()
}
