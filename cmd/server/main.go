package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/pbeaudequin/exporter-meteo-chamois/internal/collector"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/config"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/handlers"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/parser"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/repository"
	"github.com/pbeaudequin/exporter-meteo-chamois/internal/services"
	"github.com/pbeaudequin/exporter-meteo-chamois/migrations"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/database"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/httpclient"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/logging"
	"github.com/pbeaudequin/exporter-meteo-chamois/pkg/metrics"
)

var version = "1.0.0"

func main() {
	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logLevel, _ := logging.ParseLevel(cfg.Logging.Level)
	logger := logging.NewStructuredLogger(logging.Options{
		Service: handlers.ServiceName,
		Version: version,
		Level:   logLevel,
		Format:  logging.Format(cfg.Logging.Format),
	})

	ctx := context.Background()
	logger.Info(ctx, "[STARTUP] Starting Meteo Chamois exporter", logging.Fields{
		"version":       version,
		"listen":        cfg.Server.ListenAddr(),
		"station":       cfg.Station.Name,
		"station_url":   cfg.Station.URL,
		"cache_ttl_s":   float64(cfg.Scrape.CacheTTL),
		"retries":       cfg.Scrape.RetryCount(),
		"snapshots_on":  cfg.Snapshot.Enabled(),
		"snapshot_kind": cfg.Snapshot.Driver,
	})

	// Dedicated registry: weather gauges, exporter self-metrics and the
	// standard runtime collectors
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metricsCollector := metrics.NewCollector(reg, "meteo_chamois")

	client := httpclient.New(httpclient.Options{
		BaseURL:    cfg.Station.URL,
		Timeout:    cfg.Scrape.Timeout.Duration(),
		RetryCount: cfg.Scrape.RetryCount(),
	}, logger, metricsCollector)

	var opts []services.ScrapeOption
	if cfg.Snapshot.Enabled() {
		dbConfig := &database.Config{
			Driver:          cfg.Snapshot.Driver,
			DSN:             cfg.Snapshot.DSN,
			MaxOpenConns:    4,
			MaxIdleConns:    2,
			ConnMaxLifetime: 30 * time.Minute,
			ConnMaxIdleTime: 5 * time.Minute,
		}
		if cfg.Snapshot.Driver == database.DriverSQLite {
			dbConfig.MaxOpenConns = 1
		}

		db, err := database.Open(dbConfig, logger, metricsCollector)
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to open snapshot database", logging.Fields{
				"driver": cfg.Snapshot.Driver,
			}, err)
		}
		defer db.Close()

		// The up script only creates missing tables
		name, schema, err := migrations.Load(migrations.Up)
		if err == nil {
			_, err = db.ExecContext(ctx, "migrate", schema)
		}
		if err != nil {
			logger.Fatal(ctx, "[STARTUP_ERROR] Failed to apply snapshot schema", logging.Fields{
				"migration": name,
			}, err)
		}

		opts = append(opts, services.WithSnapshots(repository.NewSnapshotRepository(db, logger, metricsCollector)))
	}

	scrapeService := services.NewScrapeService(
		client,
		parser.New(logger, metricsCollector),
		services.ScrapeConfig{
			Station:        cfg.Station.Name,
			CurrentPath:    cfg.Station.CurrentPath,
			ValuesPath:     cfg.Station.ValuesPath,
			CacheTTL:       cfg.Scrape.CacheTTL.Duration(),
			SnapshotMaxAge: cfg.Snapshot.MaxAge.Duration(),
		},
		logger,
		metricsCollector,
		opts...,
	)

	if err := scrapeService.Restore(ctx); err != nil {
		logger.Warn(ctx, "[STARTUP] Snapshot restore failed, starting with an empty cache", logging.Fields{
			"error": err.Error(),
		})
	}

	reg.MustRegister(collector.NewWeatherCollector(scrapeService, cfg.Station.Name, logger))

	weatherHandler := handlers.NewWeatherHandler(
		scrapeService,
		promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		handlers.ServiceInfo{
			Name:    "Meteo Chamois Prometheus Exporter",
			Version: version,
			Station: cfg.Station.Name,
		},
		logger,
		metricsCollector,
	)

	// Setup router
	router := mux.NewRouter()
	weatherHandler.RegisterRoutes(router)

	// Create HTTP server
	server := &http.Server{
		Addr:         cfg.Server.ListenAddr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout.Duration(),
		WriteTimeout: cfg.Server.WriteTimeout.Duration(),
		IdleTimeout:  cfg.Server.IdleTimeout.Duration(),
	}

	// Start server in goroutine
	go func() {
		logger.Info(ctx, "[SERVER_START] HTTP server listening", logging.Fields{
			"address": server.Addr,
		})

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal(ctx, "[SERVER_ERROR] Server failed", logging.Fields{}, err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info(ctx, "[SHUTDOWN] Shutting down server...", logging.Fields{})

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error(ctx, "[SHUTDOWN_ERROR] Server forced to shutdown", logging.Fields{}, err)
	}

	logger.Info(ctx, "[SHUTDOWN_COMPLETE] Server stopped", logging.Fields{})
}
