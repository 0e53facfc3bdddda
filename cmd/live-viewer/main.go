package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/shared/config"
	"github.com/radieske/sports-live-feed/internal/shared/logger"
	"github.com/radieske/sports-live-feed/internal/shared/metrics"
	"github.com/radieske/sports-live-feed/internal/viewer/cache"
	"github.com/radieske/sports-live-feed/internal/viewer/kv"
	"github.com/radieske/sports-live-feed/internal/viewer/store"
	"github.com/radieske/sports-live-feed/internal/viewer/transport"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

const summaryEvery = 30 * time.Second

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Espelho durável: só serve o primeiro render, nunca alimenta o store
	db, err := kv.Open(kv.Options{
		Dir:    cfg.Viewer.CacheDir,
		Budget: cfg.Viewer.CacheBudgetBytes,
		Logger: log,
	})
	if err != nil {
		log.Fatal("cache open", zap.Error(err))
	}
	defer db.Close()

	c := cache.New(db, cache.Options{
		LiveTTL:    cfg.Viewer.LiveTTL,
		CatalogTTL: cfg.Viewer.CatalogTTL,
		MaxAge:     cfg.Viewer.MaxAge,
		Log:        log,
	})
	render(log, c)

	st := store.New()
	mirror := cache.NewMirror(c, log)
	st.OnChange(mirror.Offer)
	mctx, stopMirror := context.WithCancel(context.Background())
	go mirror.Run(mctx)

	client := transport.New(transport.Options{
		URL:                  cfg.Viewer.GatewayWSURL,
		HydrateURL:           cfg.Viewer.HydrateURL,
		ReconnectDelay:       cfg.Viewer.ReconnectDelay,
		MaxReconnectAttempts: cfg.Viewer.MaxReconnectAttempts,
		HeartbeatInterval:    cfg.Viewer.HeartbeatInterval,
		PongTimeout:          cfg.Viewer.PongTimeout,
		BatchWindow:          cfg.Viewer.BatchWindow,
		ResyncInterval:       cfg.Viewer.ResyncInterval,
	}, st, log)
	client.OnStateChange(func(s transport.State) {
		log.Info("transport state", zap.Stringer("state", s), zap.Int("attempts", client.Attempts()))
	})

	registerMetrics(prometheus.DefaultRegisterer, st, c, client)
	msrv := metrics.StartMetricsServer(cfg.MetricsPort, nil, log)

	go summarize(ctx, log, st, c)

	log.Info("live-viewer started", zap.String("url", cfg.Viewer.GatewayWSURL))
	err = client.Run(ctx)
	if errors.Is(err, transport.ErrRequiresManualRefresh) {
		log.Error("gateway unreachable, manual refresh required",
			zap.Int("attempts", client.Attempts()),
			zap.Int("entities", st.Len()),
		)
	} else if err != nil {
		log.Error("transport stopped with error", zap.Error(err))
	}

	// grava a última foto antes de fechar o banco
	stopMirror()
	<-mirror.Done()

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = msrv.Shutdown(shutdownCtx)
	log.Info("live-viewer stopped", zap.Int("entities", st.Len()), zap.Int64("cache_dropped", c.Dropped()))
}

// render mostra o que o cache tem antes da primeira conexão
func render(log *zap.Logger, c *cache.Cache) {
	records, cat := c.Load()
	log.Info("cold start from cache",
		zap.Int("entities", len(records)),
		zap.Int("leagues", len(cat.Leagues)),
	)
	for _, r := range records {
		fields := []zap.Field{
			zap.String("entity_id", r.Entity.EntityID),
			zap.String("status", string(r.Entity.Status)),
			zap.String("home", r.Entity.Home.Name),
			zap.String("away", r.Entity.Away.Name),
			zap.Time("cached_at", r.CachedAt),
		}
		if r.LastOdds != nil {
			fields = append(fields,
				zap.Float64("home_odd", r.LastOdds.Prices.Home),
				zap.Float64("draw_odd", r.LastOdds.Prices.Draw),
				zap.Float64("away_odd", r.LastOdds.Prices.Away),
				zap.Any("delta", r.Delta),
			)
		}
		log.Debug("cached entity", fields...)
	}
}

func summarize(ctx context.Context, log *zap.Logger, st *store.Store, c *cache.Cache) {
	t := time.NewTicker(summaryEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			log.Info("viewer summary",
				zap.Uint64("version", st.Version()),
				zap.Int("live", len(st.ByStatus(events.StatusLive))),
				zap.Int("upcoming", len(st.ByStatus(events.StatusUpcoming))),
				zap.Int("completed", len(st.ByStatus(events.StatusCompleted))),
				zap.Int64("cache_dropped", c.Dropped()),
			)
		}
	}
}

func registerMetrics(reg prometheus.Registerer, st *store.Store, c *cache.Cache, client *transport.Client) {
	f := promauto.With(reg)
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "viewer_entities",
		Help: "Partidas no store",
	}, func() float64 { return float64(st.Len()) })
	f.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "viewer_transport_state",
		Help: "Estado do transporte (0 connecting, 1 open, 2 closed, 3 reconnecting, 4 terminal)",
	}, func() float64 { return float64(client.State()) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "viewer_frames_received_total",
		Help: "Frames recebidos do gateway",
	}, func() float64 { return float64(client.Stats().Frames) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "viewer_reconnects_total",
		Help: "Tentativas de reconexão",
	}, func() float64 { return float64(client.Stats().Reconnects) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "viewer_hydrations_total",
		Help: "Hidratações aplicadas",
	}, func() float64 { return float64(client.Stats().Hydrations) })
	f.NewCounterFunc(prometheus.CounterOpts{
		Name: "viewer_cache_dropped_total",
		Help: "Escritas descartadas por falta de espaço no cache",
	}, func() float64 { return float64(c.Dropped()) })
}
