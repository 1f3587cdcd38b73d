package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/internal/common/maintenance"
	"github.com/railquery-data/internal/gtfs-static/importer"
	"github.com/railquery-data/internal/testutil"
)

func newTestRefresher(t *testing.T, cfg Config) (*Refresher, *db.DB, *maintenance.Window) {
	t.Helper()
	database := testutil.OpenSQLite(t)
	window := maintenance.NewWindow(logger.Nop())
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 100
		cfg.LargeBatchSize = 10
	}
	return NewRefresher(cfg, database, window, logger.Nop()), database, window
}

func TestRunOnceFromDirectory(t *testing.T) {
	feed := testutil.WriteFeed(t, testutil.SampleFeed())
	r, database, window := newTestRefresher(t, Config{FeedPath: feed, KeepSnapshots: 1})

	result, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}

	if result.Snapshot.SnapshotID != 1 || !result.Snapshot.IsActive {
		t.Errorf("unexpected snapshot %+v", result.Snapshot)
	}
	if got := result.Import.Table("stop_times").Loaded; got == 0 {
		t.Error("expected stop_times to be loaded")
	}
	if window.IsImportInProgress() {
		t.Error("window should be released after the run")
	}

	active, err := db.NewSnapshotRegistry(database).GetActiveSnapshot(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if active.SnapshotID != 1 {
		t.Errorf("expected snapshot 1 active, got %d", active.SnapshotID)
	}
}

func TestRunOnceDropsSupersededSnapshots(t *testing.T) {
	feed := testutil.WriteFeed(t, testutil.SampleFeed())
	r, database, _ := newTestRefresher(t, Config{FeedPath: feed, KeepSnapshots: 0})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := r.RunOnce(ctx); err != nil {
			t.Fatalf("run %d failed: %v", i+1, err)
		}
	}

	snapshots, err := db.NewSnapshotRegistry(database).ListSnapshots(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(snapshots) != 1 || snapshots[0].SnapshotID != 2 {
		t.Errorf("expected only snapshot 2 to remain, got %+v", snapshots)
	}
}

type failingImporter struct{}

func (failingImporter) Import(ctx context.Context, feedPath string) (*importer.ImportStats, error) {
	return nil, errors.New("disk full")
}

func TestRunOnceImportFailureKeepsActiveSnapshot(t *testing.T) {
	feed := testutil.WriteFeed(t, testutil.SampleFeed())
	r, database, window := newTestRefresher(t, Config{FeedPath: feed, KeepSnapshots: 1})
	ctx := context.Background()

	if _, err := r.RunOnce(ctx); err != nil {
		t.Fatal(err)
	}

	r.importer = failingImporter{}
	if _, err := r.RunOnce(ctx); err == nil {
		t.Fatal("expected import failure")
	}
	if window.IsImportInProgress() {
		t.Error("window should be released after a failed run")
	}

	active, err := db.NewSnapshotRegistry(database).GetActiveSnapshot(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if active.SnapshotID != 1 {
		t.Errorf("expected snapshot 1 to stay active, got %d", active.SnapshotID)
	}
}

// windowCheckingImporter records whether a query could take the window
// while the base tables were being rewritten
type windowCheckingImporter struct {
	FeedImporter
	window     *maintenance.Window
	queryErr   error
	inProgress bool
}

func (w *windowCheckingImporter) Import(ctx context.Context, feedPath string) (*importer.ImportStats, error) {
	w.inProgress = w.window.IsImportInProgress()
	qctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	release, err := w.window.AcquireShared(qctx)
	w.queryErr = err
	if err == nil {
		release()
	}
	return w.FeedImporter.Import(ctx, feedPath)
}

func TestRunOnceKeepsQueriesRunningDuringImport(t *testing.T) {
	feed := testutil.WriteFeed(t, testutil.SampleFeed())
	r, _, window := newTestRefresher(t, Config{FeedPath: feed, KeepSnapshots: 1})

	checker := &windowCheckingImporter{FeedImporter: r.importer, window: window}
	r.importer = checker

	if _, err := r.RunOnce(context.Background()); err != nil {
		t.Fatal(err)
	}
	if checker.inProgress {
		t.Error("window should not be held while base tables load")
	}
	if checker.queryErr != nil {
		t.Errorf("query blocked during import: %v", checker.queryErr)
	}
	if window.IsImportInProgress() {
		t.Error("window should be released after the run")
	}
}

// detachedImporter loads regardless of the run's deadline
type detachedImporter struct {
	FeedImporter
}

func (d detachedImporter) Import(ctx context.Context, feedPath string) (*importer.ImportStats, error) {
	return d.FeedImporter.Import(context.WithoutCancel(ctx), feedPath)
}

func TestRunOnceGivesUpWhenWindowBusy(t *testing.T) {
	feed := testutil.WriteFeed(t, testutil.SampleFeed())
	r, database, window := newTestRefresher(t, Config{FeedPath: feed, KeepSnapshots: 1})
	r.importer = detachedImporter{r.importer}

	release, err := window.AcquireShared(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if _, err := r.RunOnce(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
	if _, err := db.NewSnapshotRegistry(database).GetActiveSnapshot(context.Background()); !errors.Is(err, db.ErrNoSnapshot) {
		t.Errorf("expected no snapshot activated, got %v", err)
	}
}

func TestRunOnceDownloadsFeed(t *testing.T) {
	archive, err := os.ReadFile(testutil.WriteFeedZip(t, "", testutil.SampleFeed()))
	if err != nil {
		t.Fatal(err)
	}

	var gotKey string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		gotKey = req.URL.Query().Get("key")
		w.Header().Set("Content-Type", "application/zip")
		w.Write(archive)
	}))
	defer server.Close()

	downloads := t.TempDir()
	r, _, _ := newTestRefresher(t, Config{
		FeedURL:     server.URL + "/sweden.zip",
		APIKey:      "k1",
		DownloadDir: downloads,
	})

	result, err := r.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce failed: %v", err)
	}
	if gotKey != "k1" {
		t.Errorf("expected api key in request, got %q", gotKey)
	}
	if result.Snapshot.TripCount == 0 {
		t.Error("expected rail trips from downloaded feed")
	}

	entries, _ := os.ReadDir(downloads)
	if len(entries) != 0 {
		t.Errorf("downloaded archive should be removed, found %d files", len(entries))
	}
}

func TestRunOnceWithoutSource(t *testing.T) {
	r, _, _ := newTestRefresher(t, Config{})
	if _, err := r.RunOnce(context.Background()); err == nil {
		t.Fatal("expected error without feed source")
	}
}

func TestStartAndStop(t *testing.T) {
	feed := testutil.WriteFeed(t, testutil.SampleFeed())
	refresher, database, _ := newTestRefresher(t, Config{FeedPath: feed, Interval: time.Hour})
	var r Scheduler = refresher

	if err := r.Stop(); err == nil {
		t.Error("expected error stopping an idle refresher")
	}

	done := make(chan error, 1)
	go func() {
		done <- r.Start(context.Background())
	}()

	registry := db.NewSnapshotRegistry(database)
	deadline := time.Now().Add(30 * time.Second)
	for {
		if _, err := registry.GetActiveSnapshot(context.Background()); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("initial refresh did not activate a snapshot")
		}
		time.Sleep(20 * time.Millisecond)
	}

	if err := r.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start returned %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Start did not return after Stop")
	}
}

func TestStartRequiresInterval(t *testing.T) {
	r, _, _ := newTestRefresher(t, Config{FeedPath: "unused"})
	if err := r.Start(context.Background()); err == nil {
		t.Fatal("expected error for zero interval")
	}
}
