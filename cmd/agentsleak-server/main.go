// Command agentsleak-server runs the collector, engine, and dashboard query
// API as a single process: hook sensors post to /api/collect/*, the
// dashboard reads /api/* and subscribes over /api/ws, and a separate
// metrics server exposes Prometheus gauges for operational monitoring.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/IngaCherny/AgentsLeak/internal/collector"
	"github.com/IngaCherny/AgentsLeak/internal/config"
	"github.com/IngaCherny/AgentsLeak/internal/engine"
	"github.com/IngaCherny/AgentsLeak/internal/logging"
	"github.com/IngaCherny/AgentsLeak/internal/pubsub"
	"github.com/IngaCherny/AgentsLeak/internal/queryapi"
	"github.com/IngaCherny/AgentsLeak/internal/store"
)

var (
	serverUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentsleak_server_up",
		Help: "Whether the AgentsLeak server process is running (1 = up, 0 = down)",
	})
	wsClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "agentsleak_websocket_clients",
		Help: "Number of currently connected dashboard WebSocket clients",
	})
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		log.Fatal().Err(err).Msg("agentsleak-server exited")
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logging.Configure(cfg.LogLevel)

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer st.Close()

	hub := pubsub.NewHub()

	eng := engine.New(st, hub, engine.Config{
		MaxQueueLength:                cfg.MaxQueueLength,
		StaleSessionCheckInterval:     time.Duration(cfg.StaleSessionCheckIntervalSeconds) * time.Second,
		StaleSessionInactiveThreshold: time.Duration(cfg.StaleSessionInactiveMinutes) * time.Minute,
	})
	if err := eng.Start(ctx); err != nil {
		return err
	}
	defer eng.Stop()

	col := collector.New(st, eng)
	api := queryapi.New(st, eng, hub, cfg.CollectorAPIKey, cfg.DashboardToken)

	mux := http.NewServeMux()
	col.Register(mux)
	api.Register(mux)

	handler := corsMiddleware(cfg.CORSOrigins, api.AuthMiddleware(mux))

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)
	serverUp.Set(1)

	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr()).Msg("agentsleak server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return runMetricsServer(ctx, cfg.MetricsAddr)
	})

	g.Go(func() error {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				wsClients.Set(float64(hub.ClientCount()))
			}
		}
	})

	g.Go(func() error {
		<-ctx.Done()
		serverUp.Set(0)
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runMetricsServer(ctx context.Context, addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil && err != http.ErrServerClosed {
			log.Warn().Err(err).Msg("failed to shut down metrics server")
		}
	}()

	log.Info().Str("addr", addr).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// corsMiddleware mirrors the dashboard's permissive-but-explicit CORS
// policy: a fixed allowlist of origins and the method/header set the
// dashboard and collector sensors actually send. It sets no
// Access-Control-Max-Age, so preflight caching is left to the browser.
func corsMiddleware(allowedOrigins []string, next http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && allowed[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Credentials", "true")
		}
		w.Header().Set("Access-Control-Allow-Methods", strings.Join(
			[]string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}, ", "))
		w.Header().Set("Access-Control-Allow-Headers", strings.Join(
			[]string{"Content-Type", "Authorization", "X-AgentsLeak-Key",
				"X-Endpoint-Hostname", "X-Endpoint-User", "X-AgentsLeak-Source"}, ", "))

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
