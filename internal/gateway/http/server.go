package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/gateway/repo"
	"github.com/radieske/sports-live-feed/pkg/contracts/events"
)

// ReadRepo é a leitura da projeção no Postgres
type ReadRepo interface {
	ListEntities(ctx context.Context, f repo.Filter) ([]events.Entity, error)
	GetEntity(ctx context.Context, id string) (events.Entity, bool, error)
	ListMarkets(ctx context.Context, entityID string) ([]events.Market, error)
	GetOdds(ctx context.Context, entityID string) (events.OddsSnapshot, bool, error)
	GetCatalog(ctx context.Context) (events.Catalog, bool, error)
}

// Cache são as chaves do Redis consultadas antes do banco
type Cache interface {
	GetOdds(ctx context.Context, entityID string) (events.OddsSnapshot, bool, error)
	GetCatalog(ctx context.Context) (events.Catalog, bool, error)
}

type Hydrator interface {
	Hydrate(ctx context.Context) (events.Hydration, error)
}

// API expõe os endpoints REST de consulta, a hidratação e os canais em tempo real
type API struct {
	ReadRepo ReadRepo
	Cache    Cache
	Hydrator Hydrator
	Log      *zap.Logger

	WS     http.HandlerFunc // /ws
	Stream http.HandlerFunc // /v1/stream (SSE)

	AllowedOrigins []string
}

// Router retorna o roteador HTTP com os endpoints REST e de streaming
func (a *API) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Last-Event-ID"},
		MaxAge:         300,
	}))

	// conexões longas ficam fora do timeout
	if a.WS != nil {
		r.Get("/ws", a.WS)
	}
	if a.Stream != nil {
		r.Get("/v1/stream", a.Stream)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(10 * time.Second))
		r.Get("/v1/hydrate", a.hydrate)                   // Estado completo para espelhos vazios
		r.Get("/v1/entities", a.listEntities)             // Lista partidas (?status=&league=)
		r.Get("/v1/entities/{id}", a.getEntity)           // Detalhe de uma partida
		r.Get("/v1/entities/{id}/markets", a.listMarkets) // Mercados de uma partida
		r.Get("/v1/entities/{id}/odds", a.getOdds)        // Odds correntes, do cache quando houver
		r.Get("/v1/catalog", a.getCatalog)                // Esportes e ligas
	})
	return r
}

// writeJSON serializa a resposta em JSON e define o status HTTP
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *API) fail(w http.ResponseWriter, r *http.Request, err error) {
	a.Log.Warn("request failed", zap.String("path", r.URL.Path), zap.Error(err))
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
}

func (a *API) hydrate(w http.ResponseWriter, r *http.Request) {
	h, err := a.Hydrator.Hydrate(r.Context())
	if err != nil {
		a.Log.Warn("hydration failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, events.HydrationResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, events.HydrationResponse{Success: true, Data: h})
}

func (a *API) listEntities(w http.ResponseWriter, r *http.Request) {
	f := repo.Filter{
		Status: events.Status(r.URL.Query().Get("status")),
		League: r.URL.Query().Get("league"),
	}
	if f.Status != "" && !f.Status.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid status"})
		return
	}
	ev, err := a.ReadRepo.ListEntities(r.Context(), f)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (a *API) getEntity(w http.ResponseWriter, r *http.Request) {
	e, ok, err := a.ReadRepo.GetEntity(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (a *API) listMarkets(w http.ResponseWriter, r *http.Request) {
	mk, err := a.ReadRepo.ListMarkets(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, mk)
}

// getOdds retorna as odds de uma partida, preferencialmente do cache
func (a *API) getOdds(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	if s, ok, err := a.Cache.GetOdds(r.Context(), id); err == nil && ok {
		writeJSON(w, http.StatusOK, s)
		return
	} else if err != nil {
		a.Log.Debug("odds cache read failed", zap.Error(err))
	}

	s, ok, err := a.ReadRepo.GetOdds(r.Context(), id)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) getCatalog(w http.ResponseWriter, r *http.Request) {
	if c, ok, err := a.Cache.GetCatalog(r.Context()); err == nil && ok {
		writeJSON(w, http.StatusOK, c)
		return
	}
	c, ok, err := a.ReadRepo.GetCatalog(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "catalog not loaded"})
		return
	}
	writeJSON(w, http.StatusOK, c)
}
