package importer

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/internal/gtfs-static/parser"
	"github.com/railquery-data/pkg/gtfs/models"
)

// TableStats counts what happened to one feed file during an import
type TableStats struct {
	Table   string `json:"table"`
	Parsed  int64  `json:"parsed"`
	Loaded  int64  `json:"loaded"`
	Dropped int64  `json:"dropped"`
}

type ImportStats struct {
	Tables   []TableStats  `json:"tables"`
	Duration time.Duration `json:"duration"`
}

// Table returns the stats for name, zero valued when the file was absent
func (s *ImportStats) Table(name string) TableStats {
	for _, t := range s.Tables {
		if t.Table == name {
			return t
		}
	}
	return TableStats{Table: name}
}

type Importer struct {
	db             *db.DB
	logger         logger.Logger
	batchSize      int
	largeBatchSize int
}

// NewImporter creates an importer. largeBatchSize applies to stop_times and
// shapes, whose rows are the most numerous.
func NewImporter(database *db.DB, batchSize, largeBatchSize int) *Importer {
	if batchSize <= 0 {
		batchSize = 1000
	}
	if largeBatchSize <= 0 {
		largeBatchSize = 250
	}
	return &Importer{
		db:             database,
		logger:         database.Logger().With("component", "importer"),
		batchSize:      batchSize,
		largeBatchSize: largeBatchSize,
	}
}

// Import replaces every base table with the contents of the feed at
// feedPath, a directory or a .zip archive. Nothing is visible until the
// single transaction commits.
func (i *Importer) Import(ctx context.Context, feedPath string) (*ImportStats, error) {
	start := time.Now()
	p := parser.New(i.logger)

	batches := make(map[string]*batchInserter, len(baseTables))
	var ordered []*batchInserter
	for _, t := range baseTables {
		size := i.batchSize
		if t.large {
			size = i.largeBatchSize
		}
		b := newBatchInserter(t.name, t.columns, size)
		batches[t.file] = b
		ordered = append(ordered, b)
	}

	stats := &ImportStats{}
	seenStopAreas := make(map[models.StopArea]struct{})
	stopAreaDuplicates := 0

	callbacks := parser.ParseCallbacks{
		OnAgency: func(agency *models.Agency) error {
			return batches["agency.txt"].Add(ctx,
				agency.AgencyID,
				nullString(agency.AgencyName),
				nullString(agency.AgencyURL),
				nullString(agency.AgencyTimezone),
				nullString(agency.AgencyLang),
				nullString(agency.AgencyPhone),
				nullString(agency.AgencyFareURL),
			)
		},
		OnStop: func(stop *models.Stop) error {
			return batches["stops.txt"].Add(ctx,
				stop.StopID,
				nullString(stop.StopCode),
				nullString(stop.StopName),
				nullString(stop.StopDesc),
				nullFloat(stop.StopLat),
				nullFloat(stop.StopLon),
				nullInt(stop.LocationType),
				nullString(stop.ParentStation),
				nullString(stop.ZoneID),
				nullString(stop.PlatformCode),
				nullInt(stop.WheelchairBoarding),
			)
		},
		OnRoute: func(route *models.Route) error {
			return batches["routes.txt"].Add(ctx,
				route.RouteID,
				nullString(route.AgencyID),
				nullString(route.RouteShortName),
				nullString(route.RouteLongName),
				nullString(route.RouteDesc),
				route.RouteType,
				nullString(route.RouteURL),
				nullString(route.RouteColor),
				nullString(route.RouteTextColor),
			)
		},
		OnCalendar: func(calendar *models.Calendar) error {
			return batches["calendar.txt"].Add(ctx,
				calendar.ServiceID,
				calendar.Monday,
				calendar.Tuesday,
				calendar.Wednesday,
				calendar.Thursday,
				calendar.Friday,
				calendar.Saturday,
				calendar.Sunday,
				isoDate(calendar.StartDate),
				isoDate(calendar.EndDate),
			)
		},
		OnCalendarDate: func(calendarDate *models.CalendarDate) error {
			return batches["calendar_dates.txt"].Add(ctx,
				calendarDate.ServiceID,
				isoDate(calendarDate.Date),
				calendarDate.ExceptionType,
			)
		},
		OnShape: func(shape *models.Shape) error {
			return batches["shapes.txt"].Add(ctx,
				shape.ShapeID,
				shape.ShapePtLat,
				shape.ShapePtLon,
				shape.ShapePtSequence,
				nullFloat(shape.ShapeDistTraveled),
			)
		},
		OnTrip: func(trip *models.Trip) error {
			return batches["trips.txt"].Add(ctx,
				trip.TripID,
				trip.RouteID,
				trip.ServiceID,
				nullString(trip.TripHeadsign),
				nullString(trip.TripShortName),
				nullInt(trip.DirectionID),
				nullString(trip.BlockID),
				nullString(trip.ShapeID),
				nullInt(trip.WheelchairAccessible),
				nullInt(trip.BikesAllowed),
			)
		},
		OnStopTime: func(stopTime *models.StopTime) error {
			return batches["stop_times.txt"].Add(ctx,
				stopTime.TripID,
				stopTime.StopSequence,
				stopTime.StopID,
				nullString(stopTime.ArrivalTime),
				nullString(stopTime.DepartureTime),
				nullString(stopTime.StopHeadsign),
				nullInt(stopTime.PickupType),
				nullInt(stopTime.DropOffType),
				nullInt(stopTime.Timepoint),
				nullFloat(stopTime.ShapeDistTraveled),
			)
		},
		OnArea: func(area *models.Area) error {
			return batches["areas.txt"].Add(ctx,
				area.AreaID,
				nullString(area.AreaName),
			)
		},
		OnStopArea: func(stopArea *models.StopArea) error {
			if _, dup := seenStopAreas[*stopArea]; dup {
				stopAreaDuplicates++
				return nil
			}
			seenStopAreas[*stopArea] = struct{}{}
			return batches["stop_areas.txt"].Add(ctx, stopArea.AreaID, stopArea.StopID)
		},
		OnTransfer: func(transfer *models.Transfer) error {
			return batches["transfers.txt"].Add(ctx,
				transfer.FromStopID,
				transfer.ToStopID,
				nullString(transfer.FromRouteID),
				nullString(transfer.ToRouteID),
				nullString(transfer.FromTripID),
				nullString(transfer.ToTripID),
				nullInt(transfer.TransferType),
				nullInt(transfer.MinTransferTime),
			)
		},
		OnFileComplete: func(fileName string, parsed, dropped int) error {
			b, ok := batches[fileName]
			if !ok {
				return nil
			}
			if err := b.Flush(ctx); err != nil {
				return fmt.Errorf("flushing %s batch: %w", b.tableName, err)
			}
			if fileName == "stop_areas.txt" && stopAreaDuplicates > 0 {
				i.logger.Info("Removed duplicate stop areas", "duplicates", stopAreaDuplicates)
			}
			stats.Tables = append(stats.Tables, TableStats{
				Table:   b.tableName,
				Parsed:  int64(parsed),
				Loaded:  b.loaded,
				Dropped: int64(dropped),
			})
			return nil
		},
	}

	tx, err := i.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if err := recreateSchema(ctx, tx); err != nil {
		return nil, err
	}

	for _, b := range ordered {
		b.tx = tx
	}

	if err := p.ParsePath(ctx, feedPath, callbacks); err != nil {
		return nil, fmt.Errorf("parsing feed: %w", err)
	}

	if err := createIndexes(ctx, tx); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing transaction: %w", err)
	}

	stats.Duration = time.Since(start)
	for _, t := range stats.Tables {
		i.logger.Info("Loaded table",
			"table", t.Table,
			"rows", t.Loaded,
			"dropped", t.Dropped)
	}
	i.logger.Info("Import completed successfully",
		"feed", feedPath,
		"duration", stats.Duration)

	return stats, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullInt(v *int) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*v), Valid: true}
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func isoDate(t time.Time) string {
	return t.Format("2006-01-02")
}
