package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/radieske/sports-live-feed/internal/feed"
	"github.com/radieske/sports-live-feed/internal/shared/config"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// QuoteSource é o que o poller precisa do cliente do provedor
type QuoteSource interface {
	FetchCatalog(ctx context.Context) (events.Catalog, error)
	FetchQuotes(ctx context.Context, entityClass string, opts feed.QuoteOptions) ([]feed.Quote, error)
	FetchScores(ctx context.Context, entityClass string, lookbackDays int) ([]feed.ScoreUpdate, error)
}

// Sink recebe as mudanças detectadas (Kafka em produção)
type Sink interface {
	PublishChanges(ctx context.Context, msgs []events.ChangeMessage) error
	PublishCatalog(ctx context.Context, cat events.Catalog) error
}

// Poller agenda os ciclos de consulta ao provedor com cadências independentes:
// ao vivo, pré-jogo, placares e catálogo.
type Poller struct {
	src     QuoteSource
	sink    Sink
	tracker *Tracker
	cfg     config.IngestConfig
	log     *zap.Logger

	emitted    *prometheus.CounterVec
	pollErrors *prometheus.CounterVec
	tracked    prometheus.Gauge
}

func NewPoller(src QuoteSource, sink Sink, cfg config.IngestConfig, log *zap.Logger, reg prometheus.Registerer) *Poller {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Poller{
		src:     src,
		sink:    sink,
		tracker: NewTracker(cfg.MissingCycles),
		cfg:     cfg,
		log:     log,
		emitted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_changes_emitted_total",
			Help: "mensagens de mudança geradas por tipo",
		}, []string{"type"}),
		pollErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_poll_errors_total",
			Help: "ciclos de polling com erro",
		}, []string{"cycle", "kind"}),
		tracked: f.NewGauge(prometheus.GaugeOpts{
			Name: "ingest_tracked_entities",
			Help: "partidas acompanhadas pelo tracker",
		}),
	}
}

// Run bloqueia até o contexto ser cancelado
func (p *Poller) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return every(ctx, p.cfg.CatalogInterval, func(ctx context.Context) error { return p.PollCatalog(ctx) }, p.report("catalog"))
	})
	g.Go(func() error {
		return every(ctx, p.cfg.LiveInterval, func(ctx context.Context) error {
			return p.PollQuotes(ctx, events.StatusLive)
		}, p.report("live"))
	})
	g.Go(func() error {
		return every(ctx, p.cfg.UpcomingInterval, func(ctx context.Context) error {
			return p.PollQuotes(ctx, events.StatusUpcoming)
		}, p.report("upcoming"))
	})
	g.Go(func() error {
		return every(ctx, p.cfg.ScoresInterval, func(ctx context.Context) error { return p.PollScores(ctx) }, p.report("scores"))
	})

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// PollQuotes consulta todas as ligas em paralelo; o limite real de
// concorrência fica no cliente do provedor.
func (p *Poller) PollQuotes(ctx context.Context, status events.Status) error {
	g, gctx := errgroup.WithContext(ctx)
	results := make([][]events.ChangeMessage, len(p.cfg.Leagues))
	errs := make([]error, len(p.cfg.Leagues))

	for i, league := range p.cfg.Leagues {
		g.Go(func() error {
			quotes, err := p.src.FetchQuotes(gctx, league, feed.QuoteOptions{Status: status})
			if err != nil {
				// uma liga com falha não derruba as outras nem conta ausências
				errs[i] = fmt.Errorf("%s: %w", league, err)
				return nil
			}
			results[i] = p.tracker.ObserveQuotes(Scope(league, status), quotes)
			return nil
		})
	}
	_ = g.Wait()

	var msgs []events.ChangeMessage
	for _, r := range results {
		msgs = append(msgs, r...)
	}
	if err := p.emit(ctx, msgs); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (p *Poller) PollScores(ctx context.Context) error {
	var errs []error
	var msgs []events.ChangeMessage
	for _, league := range p.cfg.Leagues {
		updates, err := p.src.FetchScores(ctx, league, p.cfg.ScoresLookback)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", league, err))
			continue
		}
		msgs = append(msgs, p.tracker.ObserveScores(updates)...)
	}
	if err := p.emit(ctx, msgs); err != nil {
		return err
	}
	return errors.Join(errs...)
}

func (p *Poller) PollCatalog(ctx context.Context) error {
	cat, err := p.src.FetchCatalog(ctx)
	if err != nil {
		return err
	}
	return p.sink.PublishCatalog(ctx, cat)
}

func (p *Poller) emit(ctx context.Context, msgs []events.ChangeMessage) error {
	p.tracked.Set(float64(p.tracker.Len()))
	if len(msgs) == 0 {
		return nil
	}
	if err := p.sink.PublishChanges(ctx, msgs); err != nil {
		return err
	}
	for _, m := range msgs {
		p.emitted.WithLabelValues(string(m.Type)).Inc()
	}
	p.log.Debug("changes emitted", zap.Int("count", len(msgs)))
	return nil
}

// report registra a falha de um ciclo; só erro permanente do provedor sobe como Error
func (p *Poller) report(cycle string) func(error) {
	return func(err error) {
		kind := "other"
		var ue *feed.UpstreamError
		if errors.As(err, &ue) {
			kind = string(ue.Kind)
		}
		p.pollErrors.WithLabelValues(cycle, kind).Inc()

		if errors.Is(err, feed.ErrPermanentUpstream) {
			p.log.Error("poll cycle failed", zap.String("cycle", cycle), zap.Error(err))
			return
		}
		p.log.Warn("poll cycle failed", zap.String("cycle", cycle), zap.Error(err))
	}
}

// every executa fn imediatamente e depois a cada interval; erros vão para onErr
func every(ctx context.Context, interval time.Duration, fn func(context.Context) error, onErr func(error)) error {
	if interval <= 0 {
		return nil
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if err := fn(ctx); err != nil && ctx.Err() == nil {
			onErr(err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
}
