package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/shared/config"
	"github.com/radieske/sports-live-feed/internal/shared/logger"
	"github.com/radieske/sports-live-feed/internal/shared/metrics"
	"github.com/radieske/sports-live-feed/internal/simulator"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Partidas simuladas: preços andam e partidas começam/terminam pelo relógio
	provider := simulator.NewProvider(simulator.ProviderOptions{
		MatchesPerLeague: cfg.Sim.MatchesPerLeague,
		MatchDuration:    cfg.Sim.MatchDuration,
		SuspendChance:    cfg.Sim.SuspendChance,
		Seed:             cfg.Sim.Seed,
	})
	srv := simulator.NewServer(provider, simulator.ServerOptions{
		APIKey:         cfg.Sim.APIKey,
		Quota:          cfg.Sim.Quota,
		RateLimitEvery: cfg.Sim.RateLimitEvery,
		RetryAfter:     cfg.Sim.RetryAfter,
	}, log, prometheus.DefaultRegisterer)
	go srv.Run(ctx, cfg.Sim.StepInterval)

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, nil, log)

	httpSrv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("feed-simulator listening",
			zap.String("addr", httpSrv.Addr),
			zap.Int64("quota", cfg.Sim.Quota),
			zap.Int("rate_limit_every", cfg.Sim.RateLimitEvery),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("http server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = msrv.Shutdown(shutdownCtx)
	log.Info("feed-simulator stopped")
}
