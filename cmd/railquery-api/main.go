package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/railquery-data/internal/api"
	"github.com/railquery-data/internal/common/config"
	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/internal/common/maintenance"
	"github.com/railquery-data/internal/gtfs-static/scraper"
	"github.com/railquery-data/internal/intent"
	"github.com/railquery-data/internal/schedule"
)

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	loggerConfig := logger.DefaultLoggerConfig()
	loggerConfig.Level = logger.ParseLogLevel(cfg.Logging.Level)
	loggerConfig.FilePath = cfg.Logging.FilePath
	loggerConfig.File = cfg.Logging.FilePath != ""
	log := logger.FromConfig(loggerConfig)

	log.Info("Rail query API starting",
		"log_level", cfg.Logging.Level,
		"driver", cfg.Database.Driver,
		"addr", cfg.API.Addr,
		"refresh_interval", cfg.Ingest.RefreshInterval)

	database, err := db.New(cfg.Database.Driver, cfg.Database.DataSource(), log)
	if err != nil {
		log.Fatal("Failed to connect to database", "error", err)
	}
	defer database.Close()

	if err := db.NewSnapshotRegistry(database).EnsureSchema(context.Background()); err != nil {
		log.Fatal("Failed to prepare snapshot registry", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	window := maintenance.NewWindow(log)
	planner := schedule.NewPlanner(database, window, schedule.Options{
		CandidateLimit:  cfg.Query.CandidateLimit,
		DepartureLimit:  cfg.Query.DepartureLimit,
		StationLimit:    cfg.Query.StationLimit,
		StopSearchLimit: cfg.Query.StopSearchLimit,
		MaxLimit:        cfg.Query.MaxLimit,
	})
	handler := api.NewHandler(planner, database, intent.NewExtractor(cfg.Query.Location()), cfg.Query.MaxLimit, log)
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins: cfg.API.AllowedOrigins,
		RequestTimeout: cfg.API.RequestTimeout,
	}, log)

	var wg sync.WaitGroup
	var scheduler scraper.Scheduler

	// Refresh the feed in-process when an interval is configured
	if cfg.Ingest.RefreshInterval > 0 {
		feedURL := cfg.Ingest.FeedURL
		if feedURL == "" && cfg.Ingest.FeedDir == "" && cfg.Ingest.APIKey != "" {
			feedURL = scraper.DefaultFeedURL
		}
		scheduler = scraper.NewRefresher(scraper.Config{
			FeedURL:        feedURL,
			APIKey:         cfg.Ingest.APIKey,
			FeedPath:       cfg.Ingest.FeedDir,
			DownloadDir:    cfg.Ingest.DownloadDir,
			BatchSize:      cfg.Ingest.BatchSize,
			LargeBatchSize: cfg.Ingest.LargeBatchSize,
			Interval:       cfg.Ingest.RefreshInterval,
			KeepSnapshots:  cfg.Rail.KeepSnapshots,
		}, database, window, log)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := scheduler.Start(ctx); err != nil {
				log.Error("Feed refresher error", "error", err)
			}
		}()
	} else {
		log.Info("Feed refresher disabled (GTFS_REFRESH_INTERVAL not set)")
	}

	server := &http.Server{
		Addr:              cfg.API.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Info("HTTP server listening", "addr", cfg.API.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("HTTP server error", "error", err)
			sigChan <- syscall.SIGTERM
		}
	}()

	<-sigChan
	log.Info("Shutdown signal received")

	if scheduler != nil {
		if err := scheduler.Stop(); err != nil {
			log.Debug("Feed refresher already stopped", "error", err)
		}
	}
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown failed", "error", err)
	}

	wg.Wait()

	log.Info("Rail query API stopped")
}
