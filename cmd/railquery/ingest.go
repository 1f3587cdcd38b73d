package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/railquery-data/internal/gtfs-static/importer"
	"github.com/railquery-data/internal/gtfs-static/scraper"
	"github.com/railquery-data/internal/rail"
)

var importCmd = &cobra.Command{
	Use:   "import [feed]",
	Short: "Load a GTFS directory or zip into the base tables",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runImport,
}

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Build and activate a new rail snapshot from the base tables",
	Args:  cobra.NoArgs,
	RunE:  runMaterialize,
}

var refreshCmd = &cobra.Command{
	Use:   "refresh [feed]",
	Short: "Download (if configured), import, materialize and clean up once",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runRefresh,
}

var watchCmd = &cobra.Command{
	Use:   "watch [feed]",
	Short: "Refresh on the configured interval until interrupted",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runWatch,
}

func feedArg(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	return cfg.Ingest.FeedDir
}

func runImport(cmd *cobra.Command, args []string) error {
	feed := feedArg(args)
	if feed == "" {
		return fmt.Errorf("no feed given and GTFS_FEED_DIR is empty")
	}

	ctx, cancel := signalContext()
	defer cancel()

	stats, err := importer.NewImporter(database, cfg.Ingest.BatchSize, cfg.Ingest.LargeBatchSize).Import(ctx, feed)
	if err != nil {
		return err
	}

	for _, t := range stats.Tables {
		fmt.Fprintf(cmd.OutOrStdout(), "%-16s loaded %9d  dropped %6d\n", t.Table, t.Loaded, t.Dropped)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "imported in %s\n", stats.Duration)
	return nil
}

func runMaterialize(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	info, err := rail.NewMaterializer(database).Materialize(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(),
		"snapshot %d active: %d routes, %d trips, %d stop times, %d stops, %d shape points, %d transfers\n",
		info.SnapshotID, info.RouteCount, info.TripCount, info.StopTimeCount,
		info.StopCount, info.ShapeCount, info.TransferCount)
	return nil
}

func newRefresher(args []string) *scraper.Refresher {
	feedURL := cfg.Ingest.FeedURL
	if feedURL == "" && len(args) == 0 && cfg.Ingest.FeedDir == "" && cfg.Ingest.APIKey != "" {
		feedURL = scraper.DefaultFeedURL
	}
	return scraper.NewRefresher(scraper.Config{
		FeedURL:        feedURL,
		APIKey:         cfg.Ingest.APIKey,
		FeedPath:       feedArg(args),
		DownloadDir:    cfg.Ingest.DownloadDir,
		BatchSize:      cfg.Ingest.BatchSize,
		LargeBatchSize: cfg.Ingest.LargeBatchSize,
		Interval:       cfg.Ingest.RefreshInterval,
		KeepSnapshots:  cfg.Rail.KeepSnapshots,
	}, database, nil, log)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	result, err := newRefresher(args).RunOnce(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "snapshot %d active after %s\n", result.Snapshot.SnapshotID, result.Duration)
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, cancel := signalContext()
	defer cancel()

	var scheduler scraper.Scheduler = newRefresher(args)
	return scheduler.Start(ctx)
}
