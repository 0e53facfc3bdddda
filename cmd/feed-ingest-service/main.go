package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/feed"
	"github.com/radieske/sports-live-feed/internal/ingest/publisher"
	"github.com/radieske/sports-live-feed/internal/ingest/service"
	"github.com/radieske/sports-live-feed/internal/shared/config"
	"github.com/radieske/sports-live-feed/internal/shared/kafka"
	"github.com/radieske/sports-live-feed/internal/shared/logger"
	"github.com/radieske/sports-live-feed/internal/shared/metrics"
)

func main() {
	cfg := config.Load()
	log, err := logger.New(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	log.Info("Kafka brokers", zap.String("brokers", cfg.KafkaBrokers))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	brokers := cfg.Brokers()
	for _, topic := range []string{cfg.TopicEntityChanges, cfg.TopicCatalogUpdates} {
		tctx, done := context.WithTimeout(ctx, 10*time.Second)
		created, err := kafka.EnsureTopic(tctx, brokers, topic, 3)
		done()
		if err != nil {
			log.Warn("ensure topic failed", zap.String("topic", topic), zap.Error(err))
			continue
		}
		if created {
			log.Info("topic created", zap.String("topic", topic))
		}
	}

	// Kafka Publisher
	pub := publisher.NewKafkaPublisher(brokers, cfg.TopicEntityChanges, cfg.TopicCatalogUpdates, log)
	defer pub.Close()

	// Cliente do provedor: dedup, limite de concorrência, pacing e retry
	reg := prometheus.DefaultRegisterer
	client := feed.NewClient(feed.Options{
		BaseURL:           cfg.Feed.BaseURL,
		APIKey:            cfg.Feed.APIKey,
		Regions:           cfg.Feed.Regions,
		Markets:           cfg.Feed.Markets,
		Bookmakers:        cfg.Feed.Bookmakers,
		MaxConcurrent:     cfg.Feed.MaxConcurrent,
		RequestsPerSecond: cfg.Feed.RequestsPerSecond,
		MaxRetries:        cfg.Feed.MaxRetries,
		BaseBackoff:       cfg.Feed.BaseBackoff,
		MaxBackoff:        cfg.Feed.MaxBackoff,
		Timeout:           cfg.Feed.Timeout,
		Registerer:        reg,
	}, log)

	// Metrics e health
	msrv := metrics.StartMetricsServer(cfg.MetricsPort, nil, log)

	poller := service.NewPoller(client, pub, cfg.Ingest, log, reg)

	log.Info("feed-ingest started", zap.Strings("leagues", cfg.Ingest.Leagues))
	if err := poller.Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("poller stopped with error", zap.Error(err))
	}

	usage := client.Usage()
	log.Info("feed-ingest stopped", zap.Int64("credits_used", usage.CreditsUsed))

	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = msrv.Shutdown(shutdownCtx)
}
