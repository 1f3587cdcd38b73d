package scraper

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/internal/common/maintenance"
	"github.com/railquery-data/internal/gtfs-static/importer"
	"github.com/railquery-data/internal/rail"
	"github.com/railquery-data/pkg/gtfs/models"
)

type Config struct {
	// FeedURL is downloaded on every run when set; otherwise FeedPath is
	// imported as is.
	FeedURL        string
	APIKey         string
	FeedPath       string
	DownloadDir    string
	BatchSize      int
	LargeBatchSize int
	Interval       time.Duration
	KeepSnapshots  int
}

// RunResult summarizes one refresh
type RunResult struct {
	Import   *importer.ImportStats
	Snapshot *models.SnapshotInfo
	Duration time.Duration
}

// Refresher loads the feed and rebuilds the rail snapshot, once or on a
// fixed interval.
type Refresher struct {
	config       Config
	downloader   Downloader
	importer     FeedImporter
	materializer SnapshotBuilder
	maintenance  *maintenance.Maintenance
	window       *maintenance.Window
	logger       logger.Logger

	mu      sync.Mutex
	runMu   sync.Mutex
	cancel  context.CancelFunc
	running bool
}

var _ Scheduler = (*Refresher)(nil)

// NewRefresher wires the default pipeline. window may be nil when no queries
// are served from this process.
func NewRefresher(
	config Config,
	database *db.DB,
	window *maintenance.Window,
	logger logger.Logger,
) *Refresher {
	log := logger.With("component", "refresher")
	return &Refresher{
		config:       config,
		downloader:   NewHTTPDownloader(log),
		importer:     importer.NewImporter(database, config.BatchSize, config.LargeBatchSize),
		materializer: rail.NewMaterializer(database),
		maintenance:  maintenance.New(database, log),
		window:       window,
		logger:       log,
	}
}

func (r *Refresher) Start(ctx context.Context) error {
	if r.config.Interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %v", r.config.Interval)
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("refresher already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.cancel = nil
		r.mu.Unlock()
		cancel()
	}()

	r.logger.Info("Starting feed refresher",
		"interval", r.config.Interval,
		"feed", r.source())

	if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("Initial refresh failed", "error", err)
	}

	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("Feed refresher stopped")
			return nil
		case <-ticker.C:
			if _, err := r.RunOnce(ctx); err != nil && ctx.Err() == nil {
				r.logger.Error("Scheduled refresh failed", "error", err)
			}
		}
	}
}

func (r *Refresher) Stop() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.running {
		return fmt.Errorf("refresher not running")
	}
	if r.cancel != nil {
		r.cancel()
	}
	return nil
}

// RunOnce performs a full refresh: optional download, import, rail
// materialization and cleanup of superseded snapshots. Runs never overlap.
func (r *Refresher) RunOnce(ctx context.Context) (*RunResult, error) {
	r.runMu.Lock()
	defer r.runMu.Unlock()

	start := time.Now()

	feedPath, cleanup, err := r.fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	stats, snapshot, err := r.load(ctx, feedPath)
	if err != nil {
		return nil, err
	}

	if err := r.maintenance.PerformPostImportMaintenance(ctx, r.config.KeepSnapshots); err != nil {
		r.logger.Warn("Post-import maintenance failed", "error", err)
	}

	result := &RunResult{
		Import:   stats,
		Snapshot: snapshot,
		Duration: time.Since(start),
	}
	r.logger.Info("Feed refresh completed",
		"snapshot_id", snapshot.SnapshotID,
		"stop_times", snapshot.StopTimeCount,
		"duration", result.Duration)

	return result, nil
}

// fetch returns the feed to import and a func removing any downloaded copy
func (r *Refresher) fetch(ctx context.Context) (string, func(), error) {
	noop := func() {}
	if r.config.FeedURL == "" {
		if r.config.FeedPath == "" {
			return "", noop, errors.New("no feed path or feed url configured")
		}
		return r.config.FeedPath, noop, nil
	}

	src, err := feedURL(r.config.FeedURL, r.config.APIKey)
	if err != nil {
		return "", noop, err
	}
	dir := r.config.DownloadDir
	if dir == "" {
		dir = os.TempDir()
	}
	dest := filepath.Join(dir, fmt.Sprintf("gtfs_%s.zip", time.Now().Format("20060102_150405")))

	if err := r.downloader.Download(ctx, src, dest); err != nil {
		return "", noop, fmt.Errorf("downloading feed: %w", err)
	}
	return dest, func() { os.Remove(dest) }, nil
}

// load imports the feed, then materializes and activates the new snapshot
// inside the maintenance window. Queries only read snapshot tables, so they
// keep running while the base tables are rewritten.
func (r *Refresher) load(ctx context.Context, feedPath string) (*importer.ImportStats, *models.SnapshotInfo, error) {
	stats, err := r.importer.Import(ctx, feedPath)
	if err != nil {
		r.logger.Error("Import failed, active snapshot unchanged", "error", err)
		return nil, nil, fmt.Errorf("importing feed: %w", err)
	}

	if r.window != nil {
		if err := r.window.LockForImport(ctx); err != nil {
			return nil, nil, fmt.Errorf("opening maintenance window: %w", err)
		}
		defer r.window.UnlockAfterImport()
	}

	snapshot, err := r.materializer.Materialize(ctx)
	if err != nil {
		r.logger.Error("Materialization failed, active snapshot unchanged", "error", err)
		return nil, nil, fmt.Errorf("materializing rail subset: %w", err)
	}

	return stats, snapshot, nil
}

func (r *Refresher) source() string {
	if r.config.FeedURL != "" {
		return redactURL(r.config.FeedURL)
	}
	return r.config.FeedPath
}
