package simulator

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

type ServerOptions struct {
	APIKey         string
	Quota          int64         // créditos disponíveis; 0 = sem limite
	RateLimitEvery int           // devolve 429 a cada N requisições; 0 desliga
	RetryAfter     time.Duration // valor do Retry-After nos 429
}

// Server expõe o Provider com a mesma forma de API e cobrança do provedor real
type Server struct {
	p    *Provider
	opts ServerOptions
	log  *zap.Logger

	mu       sync.Mutex
	used     int64
	requests int

	reqTotal *prometheus.CounterVec
	credits  prometheus.Gauge
}

func NewServer(p *Provider, opts ServerOptions, log *zap.Logger, reg prometheus.Registerer) *Server {
	if opts.RetryAfter <= 0 {
		opts.RetryAfter = 2 * time.Second
	}
	f := promauto.With(reg)
	return &Server{
		p:    p,
		opts: opts,
		log:  log,
		reqTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "simulator_requests_total",
			Help: "Requisições recebidas pelo simulador por endpoint e status",
		}, []string{"endpoint", "code"}),
		credits: f.NewGauge(prometheus.GaugeOpts{
			Name: "simulator_credits_used",
			Help: "Créditos consumidos pelos clientes",
		}),
	}
}

// Router monta as rotas /v4 do provedor
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/v4/sports", func(r chi.Router) {
		r.Get("/", s.charge("catalog", s.sports))
		r.Get("/{sport}/odds", s.charge("quotes", s.odds))
		r.Get("/{sport}/events/{id}/odds", s.charge("event", s.event))
		r.Get("/{sport}/scores", s.charge("scores", s.scores))
	})
	return r
}

// Run faz o Provider andar a cada intervalo até o ctx acabar
func (s *Server) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.p.Step()
		}
	}
}

// custo igual ao do provedor: mercados x regiões; placar com lookback custa 2
func cost(endpoint string, q map[string][]string) int64 {
	list := func(k string) int64 {
		v := ""
		if vs := q[k]; len(vs) > 0 {
			v = vs[0]
		}
		if v == "" {
			return 1
		}
		return int64(len(strings.Split(v, ",")))
	}
	switch endpoint {
	case "quotes", "event":
		return list("markets") * list("regions")
	case "scores":
		if d := q["daysFrom"]; len(d) > 0 && d[0] != "" {
			return 2
		}
		return 1
	}
	return 0
}

type handler func(w http.ResponseWriter, r *http.Request) (any, int)

// charge valida a chave, injeta 429, cobra créditos e escreve os cabeçalhos de cota
func (s *Server) charge(endpoint string, h handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		code := s.serve(endpoint, h, w, r)
		s.reqTotal.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
}

func (s *Server) serve(endpoint string, h handler, w http.ResponseWriter, r *http.Request) int {
	if s.opts.APIKey != "" && r.URL.Query().Get("apiKey") != s.opts.APIKey {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"message": "API key is not valid"})
		return http.StatusUnauthorized
	}

	c := cost(endpoint, r.URL.Query())
	s.mu.Lock()
	s.requests++
	inject := s.opts.RateLimitEvery > 0 && s.requests%s.opts.RateLimitEvery == 0
	exhausted := s.opts.Quota > 0 && s.used+c > s.opts.Quota
	if !inject && !exhausted {
		s.used += c
	}
	used := s.used
	s.mu.Unlock()

	if inject || exhausted {
		w.Header().Set("Retry-After", strconv.Itoa(int(s.opts.RetryAfter.Seconds()+0.5)))
		msg := "too many requests"
		if exhausted {
			msg = "usage quota has been reached"
		}
		writeJSON(w, http.StatusTooManyRequests, map[string]string{"message": msg})
		return http.StatusTooManyRequests
	}

	s.credits.Set(float64(used))
	w.Header().Set("x-requests-used", strconv.FormatInt(used, 10))
	w.Header().Set("x-requests-last", strconv.FormatInt(c, 10))
	if s.opts.Quota > 0 {
		w.Header().Set("x-requests-remaining", strconv.FormatInt(s.opts.Quota-used, 10))
	}

	body, code := h(w, r)
	writeJSON(w, code, body)
	return code
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func notFound() (any, int) {
	return map[string]string{"message": "unknown sport or event"}, http.StatusNotFound
}

func markets(r *http.Request) []string {
	v := r.URL.Query().Get("markets")
	if v == "" {
		return []string{events.MarketKeyH2H}
	}
	return strings.Split(v, ",")
}

func (s *Server) sports(w http.ResponseWriter, r *http.Request) (any, int) {
	return s.p.Sports(), http.StatusOK
}

func (s *Server) odds(w http.ResponseWriter, r *http.Request) (any, int) {
	status := events.Status(r.URL.Query().Get("status"))
	if status == "" {
		status = events.StatusUpcoming
	}
	out, ok := s.p.Odds(chi.URLParam(r, "sport"), status, markets(r))
	if !ok {
		return notFound()
	}
	return out, http.StatusOK
}

func (s *Server) event(w http.ResponseWriter, r *http.Request) (any, int) {
	ev, ok := s.p.Event(chi.URLParam(r, "sport"), chi.URLParam(r, "id"), markets(r))
	if !ok {
		return notFound()
	}
	return ev, http.StatusOK
}

func (s *Server) scores(w http.ResponseWriter, r *http.Request) (any, int) {
	days, _ := strconv.Atoi(r.URL.Query().Get("daysFrom"))
	out, ok := s.p.Scores(chi.URLParam(r, "sport"), days)
	if !ok {
		return notFound()
	}
	return out, http.StatusOK
}
