package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// PostgresRepo mantém a projeção durável do estado ao vivo.
// O documento completo da partida fica em JSONB; as colunas soltas servem aos filtros do gateway.
type PostgresRepo struct {
	DB *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{DB: db}
}

// UpsertEntity grava a partida inteira (entity:new ou reentrada)
func (r *PostgresRepo) UpsertEntity(ctx context.Context, e events.Entity) error {
	return upsertEntity(ctx, r.DB, e)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsertEntity(ctx context.Context, db execer, e events.Entity) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO live_entities
		  (entity_id, league_id, status, market_status, payload, updated_at)
		VALUES
		  ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (entity_id) DO UPDATE SET
		  league_id     = EXCLUDED.league_id,
		  status        = EXCLUDED.status,
		  market_status = EXCLUDED.market_status,
		  payload       = EXCLUDED.payload,
		  updated_at    = EXCLUDED.updated_at
	`
	_, err = db.ExecContext(ctx, q,
		e.EntityID, e.LeagueID, string(e.Status), string(e.MarketStatus), payload, time.Now().UTC(),
	)
	return err
}

// ApplyPatch lê a partida com lock de linha, aplica o patch e grava.
// found=false quando a partida não existe; changed=false quando o patch não altera nada.
func (r *PostgresRepo) ApplyPatch(ctx context.Context, p events.EntityPatch) (e events.Entity, found, changed bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return events.Entity{}, false, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cur, ok, err := selectForUpdate(ctx, tx, p.EntityID)
	if err != nil || !ok {
		if err == nil {
			_ = tx.Rollback()
		}
		return events.Entity{}, ok, false, err
	}

	next, keys := p.Apply(cur)
	if len(keys) == 0 {
		return cur, true, false, tx.Commit()
	}
	if err = upsertEntity(ctx, tx, next); err != nil {
		return events.Entity{}, true, false, err
	}
	if err = tx.Commit(); err != nil {
		return events.Entity{}, true, false, err
	}
	return next, true, true, nil
}

func selectForUpdate(ctx context.Context, tx *sql.Tx, id string) (events.Entity, bool, error) {
	const q = `SELECT payload FROM live_entities WHERE entity_id = $1 FOR UPDATE`
	var raw []byte
	if err := tx.QueryRowContext(ctx, q, id).Scan(&raw); err != nil {
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

// GetEntity devolve a partida gravada
func (r *PostgresRepo) GetEntity(ctx context.Context, id string) (events.Entity, bool, error) {
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
		return events.Entity{}, false, err
	}
	return e, true, nil
}

// UpsertOdds atualiza os preços correntes e registra o histórico na mesma transação.
// changed=false quando os preços gravados já são iguais (reentrega do Kafka).
func (r *PostgresRepo) UpsertOdds(ctx context.Context, s events.OddsSnapshot) (changed bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	const cur = `
		INSERT INTO live_odds_current
		  (entity_id, home_odd, draw_odd, away_odd, updated_at)
		VALUES
		  ($1,$2,$3,$4,$5)
		ON CONFLICT (entity_id) DO UPDATE SET
		  home_odd   = EXCLUDED.home_odd,
		  draw_odd   = EXCLUDED.draw_odd,
		  away_odd   = EXCLUDED.away_odd,
		  updated_at = EXCLUDED.updated_at
		WHERE (live_odds_current.home_odd, live_odds_current.draw_odd, live_odds_current.away_odd)
		   IS DISTINCT FROM (EXCLUDED.home_odd, EXCLUDED.draw_odd, EXCLUDED.away_odd)
	`
	res, err := tx.ExecContext(ctx, cur, s.EntityID, s.Prices.Home, s.Prices.Draw, s.Prices.Away, s.Timestamp)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, tx.Commit()
	}

	const hist = `
		INSERT INTO live_odds_history
		  (entity_id, home_odd, draw_odd, away_odd, recorded_at)
		VALUES
		  ($1,$2,$3,$4,$5)
	`
	if _, err = tx.ExecContext(ctx, hist, s.EntityID, s.Prices.Home, s.Prices.Draw, s.Prices.Away, s.Timestamp); err != nil {
		return false, err
	}
	return true, tx.Commit()
}

// ApplyMarketPatch atualiza o status de mercado da partida e substitui os mercados enviados.
// found=false quando a partida não existe.
func (r *PostgresRepo) ApplyMarketPatch(ctx context.Context, p events.MarketPatch) (found bool, err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	cur, ok, err := selectForUpdate(ctx, tx, p.EntityID)
	if err != nil {
		return false, err
	}
	if !ok {
		_ = tx.Rollback()
		return false, nil
	}

	if p.MarketStatus != nil && *p.MarketStatus != cur.MarketStatus {
		cur.MarketStatus = *p.MarketStatus
		if err = upsertEntity(ctx, tx, cur); err != nil {
			return true, err
		}
	}

	const q = `
		INSERT INTO live_markets
		  (market_id, entity_id, market_key, payload, updated_at)
		VALUES
		  ($1,$2,$3,$4,$5)
		ON CONFLICT (market_id) DO UPDATE SET
		  payload    = EXCLUDED.payload,
		  updated_at = EXCLUDED.updated_at
	`
	for _, m := range p.Markets {
		payload, mErr := json.Marshal(m)
		if mErr != nil {
			err = mErr
			return true, err
		}
		if _, err = tx.ExecContext(ctx, q, m.MarketID, m.EntityID, m.Key, payload, time.Now().UTC()); err != nil {
			return true, err
		}
	}
	return true, tx.Commit()
}

// DeleteEntity remove a partida, seus mercados e preços correntes. O histórico fica.
func (r *PostgresRepo) DeleteEntity(ctx context.Context, id string) (err error) {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, q := range []string{
		`DELETE FROM live_markets WHERE entity_id = $1`,
		`DELETE FROM live_odds_current WHERE entity_id = $1`,
		`DELETE FROM live_entities WHERE entity_id = $1`,
	} {
		if _, err = tx.ExecContext(ctx, q, id); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SaveCatalog substitui o catálogo (linha única)
func (r *PostgresRepo) SaveCatalog(ctx context.Context, cat events.Catalog) error {
	payload, err := json.Marshal(cat)
	if err != nil {
		return err
	}
	const q = `
		INSERT INTO live_catalog (id, payload, updated_at)
		VALUES (1, $1, $2)
		ON CONFLICT (id) DO UPDATE SET
		  payload    = EXCLUDED.payload,
		  updated_at = EXCLUDED.updated_at
	`
	_, err = r.DB.ExecContext(ctx, q, payload, time.Now().UTC())
	return err
}
