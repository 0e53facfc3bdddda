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
	"golang.org/x/sync/errgroup"

	"github.com/radieske/sports-live-feed/internal/broker"
	"github.com/radieske/sports-live-feed/internal/processor/cache"
	"github.com/radieske/sports-live-feed/internal/processor/consumer"
	prochttp "github.com/radieske/sports-live-feed/internal/processor/http"
	"github.com/radieske/sports-live-feed/internal/processor/repository"
	sharedcache "github.com/radieske/sports-live-feed/internal/shared/cache"
	"github.com/radieske/sports-live-feed/internal/shared/config"
	"github.com/radieske/sports-live-feed/internal/shared/db"
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

	reg := prometheus.DefaultRegisterer
	b := broker.New(rdb, rdb, log, reg)
	defer b.Close()

	// Consumer group entity-processor no tópico de mudanças; catálogo em grupo próprio
	brokers := cfg.Brokers()
	changes := kafka.NewReader(brokers, cfg.TopicEntityChanges, "entity-processor")
	defer changes.Close()
	catalog := kafka.NewReader(brokers, cfg.TopicCatalogUpdates, "entity-processor-catalog")
	defer catalog.Close()

	f := promauto.With(reg)
	consumed := f.NewCounter(prometheus.CounterOpts{Name: "entity_proc_messages_consumed_total", Help: "mensagens consumidas"})
	persist := f.NewCounter(prometheus.CounterOpts{Name: "entity_proc_db_writes_total", Help: "mudanças aplicadas na projeção"})
	published := f.NewCounter(prometheus.CounterOpts{Name: "entity_proc_published_total", Help: "mudanças entregues ao broker"})
	errorsBy := f.NewCounterVec(prometheus.CounterOpts{Name: "entity_proc_errors_total", Help: "erros por estágio"}, []string{"stage"})

	proc := &consumer.Processor{
		Log:            log,
		Reader:         changes,
		Repo:           repository.NewPostgresRepo(pg),
		Cache:          cache.NewRedisCache(rdb, 60*time.Second),
		Broker:         b,
		PublishTimeout: 500 * time.Millisecond,
		OnConsumed:     func() { consumed.Inc() },
		OnPersist:      func() { persist.Inc() },
		OnPublished:    func() { published.Inc() },
		OnError:        func(stage string) { errorsBy.WithLabelValues(stage).Inc() },
	}

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, func(ctx context.Context) error {
		if err := pg.PingContext(ctx); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	}, log)

	// Entrada manual de dados de partida
	manual := &prochttp.Manual{Proc: proc, Log: log}
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           manual.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return proc.Run(gctx) })
	g.Go(func() error { return proc.RunCatalog(gctx, catalog) })
	g.Go(func() error {
		log.Info("manual input listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		defer done()
		_ = srv.Shutdown(shutdownCtx)
		_ = msrv.Shutdown(shutdownCtx)
		return nil
	})

	log.Info("entity-processor started")
	if err := g.Wait(); err != nil && ctx.Err() == nil {
		log.Fatal("processor stopped with error", zap.Error(err))
	}
	log.Info("entity-processor stopped")
}
