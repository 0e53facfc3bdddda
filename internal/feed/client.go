package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"
	"golang.org/x/time/rate"

	"github.com/radieske/sports-live-feed/internal/shared/backoff"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// Endpoints usados nos rótulos de métricas e no cálculo de custo
const (
	EndpointCatalog = "catalog"
	EndpointQuotes  = "quotes"
	EndpointEvent   = "event"
	EndpointScores  = "scores"
)

const maxBodyLog = 256

// Options configura o cliente do provedor
type Options struct {
	BaseURL           string
	APIKey            string
	Regions           []string
	Markets           []string // mercados padrão de FetchQuotes
	Bookmakers        []string // casas preferidas para montar o vetor 1x2
	MaxConcurrent     int
	RequestsPerSecond float64 // 0 = sem pacing
	MaxRetries        int
	BaseBackoff       time.Duration
	MaxBackoff        time.Duration
	Timeout           time.Duration

	HTTPClient *http.Client
	Registerer prometheus.Registerer
	Now        func() time.Time
}

// QuoteOptions filtra a consulta de cotações
type QuoteOptions struct {
	Status  events.Status // live | upcoming
	Markets []string
}

// Client fala com o provedor de odds. Toda chamada passa por:
// dedup de requisições em voo -> limitador de concorrência -> pacing -> retry.
type Client struct {
	opts  Options
	http  *http.Client
	log   *zap.Logger
	sem   *semaphore.Weighted
	pacer *rate.Limiter
	group singleflight.Group
	usage *Usage

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(opts Options, log *zap.Logger) *Client {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 4
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.BaseBackoff <= 0 {
		opts.BaseBackoff = 500 * time.Millisecond
	}
	if opts.MaxBackoff <= 0 {
		opts.MaxBackoff = 30 * time.Second
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	opts.Regions = canonicalList(opts.Regions)
	if len(opts.Regions) == 0 {
		opts.Regions = []string{"eu"}
	}
	if len(opts.Markets) == 0 {
		opts.Markets = []string{events.MarketKeyH2H}
	}
	if opts.Registerer == nil {
		opts.Registerer = prometheus.DefaultRegisterer
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	hc := opts.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: opts.Timeout}
	}

	c := &Client{
		opts:  opts,
		http:  hc,
		log:   log,
		sem:   semaphore.NewWeighted(int64(opts.MaxConcurrent)),
		usage: newUsage(opts.Registerer),
		now:   opts.Now,
		sleep: sleepCtx,
	}
	if opts.RequestsPerSecond > 0 {
		c.pacer = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.MaxConcurrent)
	}
	return c
}

// Usage devolve os contadores de cota
func (c *Client) Usage() UsageSnapshot { return c.usage.Snapshot() }

// FetchCatalog lista esportes e ligas. O provedor não cobra este endpoint.
func (c *Client) FetchCatalog(ctx context.Context) (events.Catalog, error) {
	var raw []rawSport
	if err := c.get(ctx, EndpointCatalog, "/v4/sports", url.Values{}, 0, &raw); err != nil {
		return events.Catalog{}, err
	}
	return normalizeCatalog(raw, c.now().UTC()), nil
}

// FetchQuotes busca as cotações de uma liga filtradas por status.
// Custo: mercados x regiões.
func (c *Client) FetchQuotes(ctx context.Context, entityClass string, opts QuoteOptions) ([]Quote, error) {
	markets := canonicalList(opts.Markets)
	if len(markets) == 0 {
		markets = canonicalList(c.opts.Markets)
	}
	status := opts.Status
	if status == "" {
		status = events.StatusUpcoming
	}
	if status != events.StatusLive && status != events.StatusUpcoming {
		return nil, fmt.Errorf("feed quotes: unsupported status %q", status)
	}

	q := url.Values{}
	q.Set("regions", strings.Join(c.opts.Regions, ","))
	q.Set("markets", strings.Join(markets, ","))
	q.Set("status", string(status))
	q.Set("oddsFormat", "decimal")
	q.Set("dateFormat", "iso")

	var raw []rawEvent
	cost := len(markets) * len(c.opts.Regions)
	path := "/v4/sports/" + url.PathEscape(entityClass) + "/odds"
	if err := c.get(ctx, EndpointQuotes, path, q, cost, &raw); err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]Quote, 0, len(raw))
	for _, ev := range raw {
		if ev.ID == "" {
			continue
		}
		out = append(out, normalizeEvent(ev, status, c.opts.Bookmakers, now))
	}
	return out, nil
}

// FetchEvent busca a cotação de uma única partida.
// Mesmo custo por mercado e região do endpoint de liga.
func (c *Client) FetchEvent(ctx context.Context, entityClass, eventID string, markets []string) (Quote, error) {
	markets = canonicalList(markets)
	if len(markets) == 0 {
		markets = canonicalList(c.opts.Markets)
	}

	q := url.Values{}
	q.Set("regions", strings.Join(c.opts.Regions, ","))
	q.Set("markets", strings.Join(markets, ","))
	q.Set("oddsFormat", "decimal")
	q.Set("dateFormat", "iso")

	var raw rawEvent
	cost := len(markets) * len(c.opts.Regions)
	path := "/v4/sports/" + url.PathEscape(entityClass) + "/events/" + url.PathEscape(eventID) + "/odds"
	if err := c.get(ctx, EndpointEvent, path, q, cost, &raw); err != nil {
		return Quote{}, err
	}
	return normalizeEvent(raw, "", c.opts.Bookmakers, c.now()), nil
}

// FetchScores busca placares; com lookback o provedor cobra 2, sem lookback 1.
func (c *Client) FetchScores(ctx context.Context, entityClass string, lookbackDays int) ([]ScoreUpdate, error) {
	q := url.Values{}
	q.Set("dateFormat", "iso")
	cost := 1
	if lookbackDays > 0 {
		q.Set("daysFrom", strconv.Itoa(lookbackDays))
		cost = 2
	}

	var raw []rawScoreEvent
	path := "/v4/sports/" + url.PathEscape(entityClass) + "/scores"
	if err := c.get(ctx, EndpointScores, path, q, cost, &raw); err != nil {
		return nil, err
	}

	now := c.now()
	out := make([]ScoreUpdate, 0, len(raw))
	for _, ev := range raw {
		out = append(out, normalizeScore(ev, now))
	}
	return out, nil
}

// get deduplica chamadas idênticas em voo: quem chega depois recebe o mesmo
// corpo da chamada pendente. A chamada compartilhada roda desligada do
// cancelamento de quem a disparou, limitada por flightBudget; cada chamador
// desiste só pelo próprio contexto.
func (c *Client) get(ctx context.Context, endpoint, path string, q url.Values, cost int, dst any) error {
	sig := signature(path, q)
	ch := c.group.DoChan(sig, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.flightBudget())
		defer cancel()
		return c.fetchWithRetry(fctx, endpoint, path, q, cost)
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return ctx.Err()
	case res = <-ch:
	}
	if res.Err != nil {
		return res.Err
	}
	if res.Shared {
		c.log.Debug("feed request shared", zap.String("signature", sig))
	}
	if err := json.Unmarshal(res.Val.([]byte), dst); err != nil {
		return fmt.Errorf("feed %s: decode response: %w", endpoint, err)
	}
	return nil
}

// flightBudget: todas as tentativas no timeout HTTP mais as esperas no teto
func (c *Client) flightBudget() time.Duration {
	n := time.Duration(c.opts.MaxRetries)
	return c.opts.Timeout*(n+1) + c.opts.MaxBackoff*n
}

func (c *Client) fetchWithRetry(ctx context.Context, endpoint, path string, q url.Values, cost int) ([]byte, error) {
	bo := backoff.New(c.opts.BaseBackoff, c.opts.MaxBackoff, 0.2)

	for attempt := 0; ; attempt++ {
		body, err := c.doOnce(ctx, endpoint, path, q)
		if err == nil {
			c.usage.addCost(endpoint, cost)
			return body, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		kind := kindOf(err)
		c.usage.addFailure(endpoint, kind)

		if kind == KindPermanent {
			return nil, err
		}
		if attempt >= c.opts.MaxRetries {
			return nil, fmt.Errorf("feed %s: giving up after %d attempts: %w", endpoint, attempt+1, err)
		}

		wait := bo.Next()
		var ue *UpstreamError
		if kind == KindRateLimited && errors.As(err, &ue) && ue.RetryAfter > 0 {
			wait = bo.Cap(ue.RetryAfter)
		}

		c.log.Warn("feed request failed, retrying",
			zap.String("endpoint", endpoint),
			zap.String("kind", string(kind)),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
		if err := c.sleep(ctx, wait); err != nil {
			return nil, err
		}
	}
}

// doOnce executa uma tentativa segurando uma vaga do limitador só durante o HTTP
func (c *Client) doOnce(ctx context.Context, endpoint, path string, q url.Values) ([]byte, error) {
	if err := c.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer c.sem.Release(1)

	if c.pacer != nil {
		if err := c.pacer.Wait(ctx); err != nil {
			return nil, err
		}
	}

	withKey := url.Values{}
	for k, v := range q {
		withKey[k] = v
	}
	withKey.Set("apiKey", c.opts.APIKey)
	target := strings.TrimRight(c.opts.BaseURL, "/") + path + "?" + withKey.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &UpstreamError{Kind: KindPermanent, Endpoint: endpoint, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &UpstreamError{Kind: KindTransient, Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Kind: KindTransient, Endpoint: endpoint, Err: err}
	}

	c.usage.observeHeaders(resp.Header)

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &UpstreamError{
			Kind:       KindRateLimited,
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After"), c.now()),
			Body:       truncate(body),
		}
	case resp.StatusCode >= 500:
		return nil, &UpstreamError{Kind: KindTransient, Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(body)}
	default:
		return nil, &UpstreamError{Kind: KindPermanent, Endpoint: endpoint, StatusCode: resp.StatusCode, Body: truncate(body)}
	}
}

// signature é a assinatura canônica da requisição, sem a credencial
func signature(path string, q url.Values) string {
	return path + "?" + q.Encode()
}

// canonicalList ordena e remove duplicados para a assinatura não depender da ordem
func canonicalList(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// parseRetryAfter aceita segundos ("5") ou data HTTP
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := t.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

func truncate(b []byte) string {
	if len(b) > maxBodyLog {
		return string(b[:maxBodyLog])
	}
	return string(b)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
