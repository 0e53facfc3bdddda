package main

import (
	"context"
	"errors"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/radieske/sports-live-feed/internal/shared/config"
	"github.com/radieske/sports-live-feed/internal/shared/logger"
	"github.com/radieske/sports-live-feed/internal/shared/metrics"
)

func rp(to string, log *zap.Logger) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(to)
	if err != nil {
		return nil, err
	}
	p := httputil.NewSingleHostReverseProxy(u)
	// SSE precisa de flush imediato
	p.FlushInterval = -1
	p.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		log.Warn("upstream unavailable", zap.String("upstream", u.Host), zap.String("path", r.URL.Path), zap.Error(err))
		w.WriteHeader(http.StatusBadGateway)
	}
	return p, nil
}

// routes monta a borda: leitura e tempo real vão ao live-gateway,
// a entrada manual vai ao processor.
func routes(live, manual http.Handler, allowed []string, docsDir string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: allowed,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "Authorization", "Last-Event-ID"},
		MaxAge:         300,
	}))

	// live (ex.: /api/live/v1/entities -> live-gateway /v1/entities)
	r.Mount("/api/live", http.StripPrefix("/api/live", live))
	r.Handle("/ws", live)

	// manual (ex.: /api/manual/v1/manual/entities/{id} -> entity-processor-worker)
	r.Mount("/api/manual", http.StripPrefix("/api/manual", manual))

	if docsDir != "" {
		r.Get("/swagger/openapi-gateway.yaml", func(w http.ResponseWriter, r *http.Request) {
			http.ServeFile(w, r, filepath.Join(docsDir, "openapi-gateway.yaml"))
		})
		r.Handle("/swagger/*", http.StripPrefix("/swagger/", http.FileServer(http.Dir(filepath.Join(docsDir, "dist")))))
		r.Handle("/swagger", http.RedirectHandler("/swagger/", http.StatusMovedPermanently))
	}
	return r
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

	// targets
	live, err := rp(cfg.Edge.GatewayURL, log)
	if err != nil {
		log.Fatal("invalid gateway url", zap.Error(err))
	}
	manual, err := rp(cfg.Edge.ProcessorURL, log)
	if err != nil {
		log.Fatal("invalid processor url", zap.Error(err))
	}

	msrv := metrics.StartMetricsServer(cfg.MetricsPort, nil, log)

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           routes(live, manual, cfg.Edge.AllowedOrigins, cfg.Edge.DocsDir),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("api-gateway listening",
			zap.String("addr", srv.Addr),
			zap.String("live", cfg.Edge.GatewayURL),
			zap.String("manual", cfg.Edge.ProcessorURL),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("gateway failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
	defer done()
	_ = srv.Shutdown(shutdownCtx)
	_ = msrv.Shutdown(shutdownCtx)
	log.Info("api-gateway stopped")
}
