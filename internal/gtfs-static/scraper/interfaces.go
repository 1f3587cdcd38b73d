package scraper

import (
	"context"

	"github.com/railquery-data/internal/gtfs-static/importer"
	"github.com/railquery-data/pkg/gtfs/models"
)

type Downloader interface {
	Download(ctx context.Context, url string, destPath string) error
}

type FeedImporter interface {
	Import(ctx context.Context, feedPath string) (*importer.ImportStats, error)
}

type SnapshotBuilder interface {
	Materialize(ctx context.Context) (*models.SnapshotInfo, error)
}

// Scheduler runs refreshes on an interval until its context ends or Stop is
// called
type Scheduler interface {
	Start(ctx context.Context) error
	Stop() error
}
