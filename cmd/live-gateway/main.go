package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/broker"
	gcache "github.com/radieske/sports-live-feed/internal/gateway/cache"
	httpapi "github.com/radieske/sports-live-feed/internal/gateway/http"
	"github.com/radieske/sports-live-feed/internal/gateway/hydration"
	"github.com/radieske/sports-live-feed/internal/gateway/repo"
	"github.com/radieske/sports-live-feed/internal/gateway/sse"
	"github.com/radieske/sports-live-feed/internal/gateway/ws"
	sharedcache "github.com/radieske/sports-live-feed/internal/shared/cache"
	"github.com/radieske/sports-live-feed/internal/shared/config"
	"github.com/radieske/sports-live-feed/internal/shared/db"
	"github.com/radieske/sports-live-feed/internal/shared/logger"
	"github.com/radieske/sports-live-feed/internal/shared/metrics"
)

// allowOrigin aceita "*" ou a lista explícita de origens configurada
func allowOrigin(allowed []string) func(r *http.Request) bool {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		set[o] = struct{}{}
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // clientes fora do navegador
		}
		_, ok := set[origin]
		return ok
	}
}

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Inicializa dependências: Postgres e Redis
	pg, err := db.ConnectPostgres(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres connect", zap.Error(err))
	}
	defer pg.Close()

	rdb, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis connect", zap.Error(err))
	}
	defer rdb.Close()

	// Conexão dedicada ao subscribe; a outra continua livre para leituras
	subClient, err := sharedcache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisPassword)
	if err != nil {
		log.Fatal("redis subscribe connect", zap.Error(err))
	}
	defer subClient.Close()

	reg := prometheus.DefaultRegisterer
	b := broker.New(rdb, subClient, log, reg)

	readRepo := &repo.ReadRepo{DB: pg}
	readCache := gcache.New(rdb)

	served := promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_hydrations_total",
		Help: "Hidratações servidas por origem (cache ou db)",
	}, []string{"source"})
	hyd := &hydration.Service{
		Repo:     readRepo,
		Cache:    readCache,
		TTL:      cfg.Gateway.HydrationTTL,
		Log:      log,
		OnServed: func(source string) { served.WithLabelValues(source).Inc() },
	}

	// Hub de sessões WS/SSE alimentado pelo broker
	hub := ws.NewHub(ws.Options{
		BatchWindow: cfg.Gateway.BatchWindow,
		PingPeriod:  cfg.Gateway.PingPeriod,
		PongWait:    cfg.Gateway.PongWait,
		WriteWait:   cfg.Gateway.WriteWait,
		SendBuffer:  cfg.Gateway.SendBuffer,
	}, allowOrigin(cfg.Gateway.AllowedOrigins), log, reg)
	hub.Hydrator = hyd
	if err := hub.Start(ctx, b); err != nil {
		log.Fatal("broker subscribe", zap.Error(err))
	}

	api := &httpapi.API{
		ReadRepo:       readRepo,
		Cache:          readCache,
		Hydrator:       hyd,
		Log:            log,
		WS:             hub.HandleWS,
		Stream:         sse.Handler(hub),
		AllowedOrigins: cfg.Gateway.AllowedOrigins,
	}

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	}, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           api.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("live-gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received", zap.Int("sessions", hub.Count()))

	// Sessões primeiro: cada uma descarrega o lote pendente antes de fechar
	shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
	defer done()
	hub.Shutdown(shutdownCtx)
	_ = srv.Shutdown(shutdownCtx)
	_ = msrv.Shutdown(shutdownCtx)
	_ = b.Close()
	log.Info("live-gateway stopped")
}
