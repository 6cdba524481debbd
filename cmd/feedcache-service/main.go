package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpHandlers "github.com/beewell/todayfeed/internal/api/http"
	"github.com/beewell/todayfeed/internal/clock"
	"github.com/beewell/todayfeed/internal/config"
	"github.com/beewell/todayfeed/internal/connectivity"
	"github.com/beewell/todayfeed/internal/coordinator"
	"github.com/beewell/todayfeed/internal/delivery"
	"github.com/beewell/todayfeed/internal/health"
	"github.com/beewell/todayfeed/internal/kv"
	"github.com/beewell/todayfeed/internal/platform/logger"
	"github.com/beewell/todayfeed/internal/syncqueue"
	"github.com/beewell/todayfeed/internal/warming"
)

func main() {
	// Optional store-path flag override
	dbPath := flag.String("db", "", "Override TODAYFEED_SQLITE_PATH")
	flag.Parse()

	log := logger.New("feedcache-service")

	cfg, err := config.New()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}
	if *dbPath != "" {
		cfg.SQLitePath = *dbPath
	}

	log.Info().
		Str("environment", string(cfg.Environment)).
		Str("db", cfg.SQLitePath).
		Int("http_port", cfg.HTTPPort).
		Msg("Feed cache service starting…")

	// -------- Durable store -----------------
	store, err := kv.NewSQLiteStore(cfg.SQLitePath)
	if err != nil {
		log.Fatal().Err(err).Msg("Durable store unavailable")
	}
	defer func() { _ = store.Close() }()

	// -------- Network collaborators ---------
	var deliverer syncqueue.Deliverer
	var fetcher warming.Fetcher
	if cfg.SyncEndpoint != "" {
		deliverer = delivery.NewHTTPDeliverer(cfg.SyncEndpoint, cfg.DeliveryTimeout, log)
	}
	if cfg.FetchEndpoint != "" {
		fetcher = delivery.NewFetcher(cfg.FetchEndpoint, cfg.DeliveryTimeout, log)
	}

	// -------- Coordinator -------------------
	co := coordinator.New(cfg, store, clock.NewSystem(), deliverer, fetcher, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := co.Initialize(ctx); err != nil {
		log.Fatal().Err(err).Msg("Coordinator initialization failed")
	}
	defer co.Dispose()

	// -------- Connectivity watcher ----------
	if cfg.SyncEndpoint != "" {
		probe := connectivity.NewHTTPProbe(cfg.SyncEndpoint, cfg.DeliveryTimeout)
		monitor := connectivity.NewMonitor(probe, cfg.ProbeInterval, log)
		monitor.OnOnline(func(ctx context.Context) {
			if _, err := co.SyncPendingUpdates(ctx); err != nil && err != syncqueue.ErrSyncInProgress {
				log.Warn().Err(err).Msg("sync on reconnect failed")
			}
		})
		go monitor.Run(ctx)
	}

	// -------- Timezone watcher --------------
	go func() {
		ticker := time.NewTicker(cfg.ZoneCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := co.CheckTimezone(ctx); err != nil {
					log.Warn().Err(err).Msg("timezone check failed")
				}
			}
		}
	}()

	// -------- Health monitor ----------------
	storeChecker := health.NewStoreChecker(store, log)
	serviceHealth := health.NewServiceHealthChecker(log, storeChecker)
	go storeChecker.Start(ctx, 30*time.Second)
	go serviceHealth.Start(ctx, 30*time.Second)

	// -------- Router & Server ---------------
	router := httpHandlers.NewRouter(httpHandlers.NewHandlers(co, serviceHealth))
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Int("port", cfg.HTTPPort).Msg("HTTP server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// SIGHUP acts as the warm-restart (foregrounded) signal
	sighup := make(chan os.Signal, 1)
	signal.Notify(sighup, syscall.SIGHUP)
	go func() {
		for range sighup {
			if err := co.Resume(ctx); err != nil {
				log.Warn().Err(err).Msg("warm resume failed")
			}
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server…")
	ctxShutdown, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := server.Shutdown(ctxShutdown); err != nil {
		log.Fatal().Err(err).Msg("Server forced to shutdown")
	}
	log.Info().Msg("Server exited")
}
