// Command analyzer serves the L1 anomaly detection pipeline over HTTP:
// log and capture uploads in, scored anomaly reports out, with optional
// Postgres persistence and Redis-backed feature drift monitoring.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"l1sentry/pkg/analyzer"
	"l1sentry/pkg/features"
	"l1sentry/pkg/ml"
	otelobs "l1sentry/pkg/observability/otel"
	"l1sentry/pkg/storage"
	"l1sentry/shared/config"
	"l1sentry/shared/eventbus"
	"l1sentry/shared/logging"
)

const serviceName = "l1sentry-analyzer"

var log = logging.New("analyzer-service")

func main() {
	port := config.Get("ANALYZER_PORT", "8080")
	engine := analyzer.New(analyzer.ConfigFromEnv())

	var store *storage.Store
	if os.Getenv("DATABASE_URL") != "" || os.Getenv("DB_HOST") != "" {
		s, err := storage.Open(storage.ConfigFromEnv())
		if err != nil {
			log.WithError(err).Warn("postgres unavailable, persistence disabled")
		} else {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if err := s.Migrate(ctx); err != nil {
				log.WithError(err).Warn("schema migration failed")
			}
			cancel()
			store = s
			defer store.Close()
		}
	}

	var drift *ml.FeatureDriftMonitor
	if addr := os.Getenv("REDIS_ADDR"); addr != "" {
		client := redis.NewClient(&redis.Options{Addr: addr})
		drift = ml.NewFeatureDriftMonitor(client, features.LogFeatureNames,
			config.GetFloat("DRIFT_PSI_THRESHOLD", 0.1),
			config.GetInt("DRIFT_WINDOW_SIZE", 1000))
		if err := drift.LoadBaseline(context.Background()); err != nil {
			log.WithError(err).Warn("drift baseline restore failed")
		}
	}

	bus := eventbus.New(config.GetInt("EVENT_QUEUE_SIZE", 256))
	if store != nil {
		bus.Register(newStoreSubscriber(store))
	}

	server := NewServer(engine, bus, store, drift)

	mux := http.NewServeMux()
	mux.HandleFunc("/analyze/log", server.handleAnalyzeLog)
	mux.HandleFunc("/analyze/pcap", server.handleAnalyzePCAP)
	mux.HandleFunc("/health", server.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	shutdown := otelobs.Init(serviceName)
	defer shutdown(context.Background())

	h := otelobs.AccessLog(mux)
	h = otelobs.WrapHTTPHandler(serviceName, h)

	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      h,
		ReadTimeout:  5 * time.Minute,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("port", port).Info("analyzer service listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.WithError(err).Warn("forced shutdown")
	}
	bus.Close()
}
