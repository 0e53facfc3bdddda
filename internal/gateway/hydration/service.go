package hydration

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Snapshotter lê o estado completo da projeção (Postgres)
type Snapshotter interface {
	Snapshot(ctx context.Context) (events.Hydration, error)
}

// Cache guarda a última hidratação montada
type Cache interface {
	GetHydration(ctx context.Context) (events.Hydration, bool, error)
	SetHydration(ctx context.Context, h events.Hydration, ttl time.Duration) error
}

// Service monta o estado completo para clientes que chegam sem espelho.
// Reconexões em massa viram uma única leitura no banco.
type Service struct {
	Repo  Snapshotter
	Cache Cache
	TTL   time.Duration
	Log   *zap.Logger

	// ReadTimeout limita a leitura compartilhada (padrão 10s); ela não
	// herda o cancelamento do cliente que a disparou.
	ReadTimeout time.Duration

	OnServed func(source string) // métricas: "cache" ou "db"

	group singleflight.Group
}

func (s *Service) Hydrate(ctx context.Context) (events.Hydration, error) {
	if s.Cache != nil {
		h, ok, err := s.Cache.GetHydration(ctx)
		if err != nil {
			s.Log.Warn("hydration cache read failed", zap.Error(err))
		}
		if ok {
			s.served("cache")
			return h, nil
		}
	}

	ch := s.group.DoChan("hydrate", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.readTimeout())
		defer cancel()
		h, err := s.Repo.Snapshot(rctx)
		if err != nil {
			return events.Hydration{}, err
		}
		if s.Cache != nil && s.TTL > 0 {
			if err := s.Cache.SetHydration(rctx, h, s.TTL); err != nil {
				s.Log.Warn("hydration cache write failed", zap.Error(err))
			}
		}
		return h, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return events.Hydration{}, ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return events.Hydration{}, res.Err
	}
	s.served("db")
	return res.Val.(events.Hydration), nil
}

func (s *Service) readTimeout() time.Duration {
	if s.ReadTimeout > 0 {
		return s.ReadTimeout
	}
	return 10 * time.Second
}

func (s *Service) served(source string) {
	if s.OnServed != nil {
		s.OnServed(source)
	}
}
