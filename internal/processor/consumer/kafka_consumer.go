package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/shared/kafka"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Reader é o subconjunto de *kafka.Reader usado aqui
type Reader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
}

// Store é a projeção durável (Postgres)
type Store interface {
	UpsertEntity(ctx context.Context, e events.Entity) error
	ApplyPatch(ctx context.Context, p events.EntityPatch) (events.Entity, bool, bool, error)
	UpsertOdds(ctx context.Context, s events.OddsSnapshot) (bool, error)
	ApplyMarketPatch(ctx context.Context, p events.MarketPatch) (bool, error)
	DeleteEntity(ctx context.Context, id string) error
	SaveCatalog(ctx context.Context, cat events.Catalog) error
}

// Cache guarda odds correntes e catálogo no Redis
type Cache interface {
	SetCurrent(ctx context.Context, s events.OddsSnapshot) error
	Delete(ctx context.Context, entityID string) error
	Invalidate(ctx context.Context) error
	SetCatalog(ctx context.Context, cat events.Catalog) error
}

// Publisher entrega a mudança ao broker
type Publisher interface {
	Publish(ctx context.Context, msg events.ChangeMessage) (events.ChangeMessage, error)
}

// Mudanças que não chegam ao broker
var (
	ErrUnknownEntity = errors.New("unknown entity")
	ErrUnchanged     = errors.New("change already applied")
)

// Processor consome mudanças do Kafka, persiste a projeção, atualiza o cache
// e publica no broker. Reentregas do Kafka não geram publicação duplicada:
// uma mudança que não altera a projeção é descartada antes do broker.
type Processor struct {
	Log    *zap.Logger
	Reader Reader
	Repo   Store
	Cache  Cache
	Broker Publisher

	PublishTimeout time.Duration

	OnConsumed  func()       // métricas (counter++)
	OnPersist   func()       // métricas
	OnPublished func()       // métricas
	OnError     func(string) // métricas por fase
}

// Run inicia o loop principal de consumo do tópico de mudanças
func (p *Processor) Run(ctx context.Context) error {
	return p.loop(ctx, p.Reader, func(ctx context.Context, m kafka.Message) {
		msg, err := events.DecodeChangeMessage(m.Value)
		if err != nil {
			p.Log.Warn("invalid message", zap.String("key", string(m.Key)), zap.Error(err))
			p.fail("decode")
			return
		}
		if err := p.Handle(ctx, msg); err != nil && !skipped(err) {
			p.Log.Warn("change handling failed",
				zap.String("type", string(msg.Type)),
				zap.String("entity_id", msg.EntityID()),
				zap.Error(err),
			)
		}
	})
}

// RunCatalog consome o tópico de catálogo
func (p *Processor) RunCatalog(ctx context.Context, r Reader) error {
	return p.loop(ctx, r, func(ctx context.Context, m kafka.Message) {
		var cat events.Catalog
		if err := json.Unmarshal(m.Value, &cat); err != nil {
			p.Log.Warn("invalid catalog", zap.Error(err))
			p.fail("decode")
			return
		}
		if err := p.Repo.SaveCatalog(ctx, cat); err != nil {
			p.Log.Warn("db save catalog failed", zap.Error(err))
			p.fail("db_catalog")
			return
		}
		if err := p.Cache.SetCatalog(ctx, cat); err != nil {
			p.Log.Warn("redis set catalog failed", zap.Error(err))
			p.fail("cache")
		}
		p.Log.Info("catalog stored", zap.Int("leagues", len(cat.Leagues)))
	})
}

func (p *Processor) loop(ctx context.Context, r Reader, handle func(context.Context, kafka.Message)) error {
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err() // encerra se o contexto for cancelado
			}
			p.Log.Warn("kafka read failed", zap.Error(err))
			p.fail("read")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
			}
			continue
		}
		if p.OnConsumed != nil {
			p.OnConsumed() // callback de métrica: mensagem consumida
		}
		handle(ctx, m)
	}
}

// Handle aplica uma mudança na projeção e, se algo mudou, publica no broker
func (p *Processor) Handle(ctx context.Context, msg events.ChangeMessage) error {
	if err := msg.Validate(); err != nil {
		return err
	}
	if err := p.persist(ctx, msg); err != nil {
		if !skipped(err) {
			p.fail("db")
		}
		return err
	}
	if p.OnPersist != nil {
		p.OnPersist()
	}

	pctx := ctx
	if p.PublishTimeout > 0 {
		var cancel context.CancelFunc
		pctx, cancel = context.WithTimeout(ctx, p.PublishTimeout)
		defer cancel()
	}
	if _, err := p.Broker.Publish(pctx, msg); err != nil {
		// sem fila: quem perdeu a mensagem se reconcilia pela hidratação
		p.fail("publish")
		return fmt.Errorf("publish: %w", err)
	}
	if p.OnPublished != nil {
		p.OnPublished()
	}
	return nil
}

func (p *Processor) persist(ctx context.Context, msg events.ChangeMessage) error {
	switch msg.Type {
	case events.KindEntityNew:
		if err := p.Repo.UpsertEntity(ctx, *msg.Entity); err != nil {
			return fmt.Errorf("upsert entity: %w", err)
		}
		p.invalidate(ctx)

	case events.KindEntityUpdate:
		_, found, changed, err := p.Repo.ApplyPatch(ctx, *msg.Patch)
		if err != nil {
			return fmt.Errorf("apply patch: %w", err)
		}
		if !found {
			p.Log.Debug("patch for unknown entity", zap.String("entity_id", msg.Patch.EntityID))
			return ErrUnknownEntity
		}
		if !changed {
			return ErrUnchanged
		}
		p.invalidate(ctx)

	case events.KindOddsUpdate:
		changed, err := p.Repo.UpsertOdds(ctx, *msg.Odds)
		if err != nil {
			return fmt.Errorf("upsert odds: %w", err)
		}
		if !changed {
			return ErrUnchanged
		}
		// não bloqueia publicação se falhar o cache
		if err := p.Cache.SetCurrent(ctx, *msg.Odds); err != nil {
			p.Log.Warn("redis set failed", zap.Error(err))
			p.fail("cache")
		}

	case events.KindMarketUpdate:
		found, err := p.Repo.ApplyMarketPatch(ctx, *msg.Market)
		if err != nil {
			return fmt.Errorf("apply market patch: %w", err)
		}
		if !found {
			return ErrUnknownEntity
		}
		p.invalidate(ctx)

	case events.KindEntityRemove:
		if err := p.Repo.DeleteEntity(ctx, msg.Removal.EntityID); err != nil {
			return fmt.Errorf("delete entity: %w", err)
		}
		if err := p.Cache.Delete(ctx, msg.Removal.EntityID); err != nil {
			p.Log.Warn("redis delete failed", zap.Error(err))
			p.fail("cache")
		}

	default:
		return fmt.Errorf("%w: type %q", events.ErrInvalidMessage, msg.Type)
	}
	return nil
}

func skipped(err error) bool {
	return errors.Is(err, ErrUnknownEntity) || errors.Is(err, ErrUnchanged)
}

func (p *Processor) invalidate(ctx context.Context) {
	if err := p.Cache.Invalidate(ctx); err != nil {
		p.Log.Warn("redis invalidate failed", zap.Error(err))
		p.fail("cache")
	}
}

func (p *Processor) fail(stage string) {
	if p.OnError != nil {
		p.OnError(stage)
	}
}
