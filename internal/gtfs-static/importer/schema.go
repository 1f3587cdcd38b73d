package importer

import (
	"context"
	"fmt"

	"github.com/railquery-data/internal/common/db"
)

// baseTable is one GTFS table loaded verbatim from the feed
type baseTable struct {
	name    string
	file    string
	columns []string
	ddl     string
	indexes []string
	large   bool
}

// Column types stay within what both Postgres and SQLite accept. Dates are
// ISO strings so that text comparison orders them.
var baseTables = []baseTable{
	{
		name:    "agency",
		file:    "agency.txt",
		columns: []string{"agency_id", "agency_name", "agency_url", "agency_timezone", "agency_lang", "agency_phone", "agency_fare_url"},
		ddl: `CREATE TABLE agency (
			agency_id       TEXT PRIMARY KEY,
			agency_name     TEXT,
			agency_url      TEXT,
			agency_timezone TEXT,
			agency_lang     TEXT,
			agency_phone    TEXT,
			agency_fare_url TEXT
		)`,
	},
	{
		name:    "stops",
		file:    "stops.txt",
		columns: []string{"stop_id", "stop_code", "stop_name", "stop_desc", "stop_lat", "stop_lon", "location_type", "parent_station", "zone_id", "platform_code", "wheelchair_boarding"},
		ddl: `CREATE TABLE stops (
			stop_id             TEXT PRIMARY KEY,
			stop_code           TEXT,
			stop_name           TEXT,
			stop_desc           TEXT,
			stop_lat            DOUBLE PRECISION,
			stop_lon            DOUBLE PRECISION,
			location_type       INTEGER,
			parent_station      TEXT,
			zone_id             TEXT,
			platform_code       TEXT,
			wheelchair_boarding INTEGER
		)`,
	},
	{
		name:    "routes",
		file:    "routes.txt",
		columns: []string{"route_id", "agency_id", "route_short_name", "route_long_name", "route_desc", "route_type", "route_url", "route_color", "route_text_color"},
		ddl: `CREATE TABLE routes (
			route_id         TEXT PRIMARY KEY,
			agency_id        TEXT,
			route_short_name TEXT,
			route_long_name  TEXT,
			route_desc       TEXT,
			route_type       INTEGER NOT NULL,
			route_url        TEXT,
			route_color      TEXT,
			route_text_color TEXT
		)`,
		indexes: []string{`CREATE INDEX idx_routes_type ON routes (route_type)`},
	},
	{
		name:    "calendar",
		file:    "calendar.txt",
		columns: []string{"service_id", "monday", "tuesday", "wednesday", "thursday", "friday", "saturday", "sunday", "start_date", "end_date"},
		ddl: `CREATE TABLE calendar (
			service_id TEXT PRIMARY KEY,
			monday     BOOLEAN NOT NULL,
			tuesday    BOOLEAN NOT NULL,
			wednesday  BOOLEAN NOT NULL,
			thursday   BOOLEAN NOT NULL,
			friday     BOOLEAN NOT NULL,
			saturday   BOOLEAN NOT NULL,
			sunday     BOOLEAN NOT NULL,
			start_date TEXT NOT NULL,
			end_date   TEXT NOT NULL
		)`,
	},
	{
		name:    "calendar_dates",
		file:    "calendar_dates.txt",
		columns: []string{"service_id", "date", "exception_type"},
		// Keyed on the exception type too so an addition and a removal for
		// the same date both survive; removal wins at query time
		ddl: `CREATE TABLE calendar_dates (
			service_id     TEXT NOT NULL,
			date           TEXT NOT NULL,
			exception_type INTEGER NOT NULL,
			PRIMARY KEY (service_id, date, exception_type)
		)`,
		indexes: []string{`CREATE INDEX idx_calendar_dates_date ON calendar_dates (date)`},
	},
	{
		name:    "shapes",
		file:    "shapes.txt",
		columns: []string{"shape_id", "shape_pt_lat", "shape_pt_lon", "shape_pt_sequence", "shape_dist_traveled"},
		ddl: `CREATE TABLE shapes (
			shape_id            TEXT NOT NULL,
			shape_pt_lat        DOUBLE PRECISION NOT NULL,
			shape_pt_lon        DOUBLE PRECISION NOT NULL,
			shape_pt_sequence   INTEGER NOT NULL,
			shape_dist_traveled DOUBLE PRECISION,
			PRIMARY KEY (shape_id, shape_pt_sequence)
		)`,
		large: true,
	},
	{
		name:    "trips",
		file:    "trips.txt",
		columns: []string{"trip_id", "route_id", "service_id", "trip_headsign", "trip_short_name", "direction_id", "block_id", "shape_id", "wheelchair_accessible", "bikes_allowed"},
		ddl: `CREATE TABLE trips (
			trip_id               TEXT PRIMARY KEY,
			route_id              TEXT NOT NULL,
			service_id            TEXT NOT NULL,
			trip_headsign         TEXT,
			trip_short_name       TEXT,
			direction_id          INTEGER,
			block_id              TEXT,
			shape_id              TEXT,
			wheelchair_accessible INTEGER,
			bikes_allowed         INTEGER
		)`,
		indexes: []string{`CREATE INDEX idx_trips_route ON trips (route_id)`},
	},
	{
		name:    "stop_times",
		file:    "stop_times.txt",
		columns: []string{"trip_id", "stop_sequence", "stop_id", "arrival_time", "departure_time", "stop_headsign", "pickup_type", "drop_off_type", "timepoint", "shape_dist_traveled"},
		ddl: `CREATE TABLE stop_times (
			trip_id             TEXT NOT NULL,
			stop_sequence       INTEGER NOT NULL,
			stop_id             TEXT NOT NULL,
			arrival_time        TEXT,
			departure_time      TEXT,
			stop_headsign       TEXT,
			pickup_type         INTEGER,
			drop_off_type       INTEGER,
			timepoint           INTEGER,
			shape_dist_traveled DOUBLE PRECISION,
			PRIMARY KEY (trip_id, stop_sequence)
		)`,
		large: true,
	},
	{
		name:    "areas",
		file:    "areas.txt",
		columns: []string{"area_id", "area_name"},
		ddl: `CREATE TABLE areas (
			area_id   TEXT PRIMARY KEY,
			area_name TEXT
		)`,
	},
	{
		name:    "stop_areas",
		file:    "stop_areas.txt",
		columns: []string{"area_id", "stop_id"},
		ddl: `CREATE TABLE stop_areas (
			area_id TEXT NOT NULL,
			stop_id TEXT NOT NULL,
			PRIMARY KEY (area_id, stop_id)
		)`,
	},
	{
		name:    "transfers",
		file:    "transfers.txt",
		columns: []string{"from_stop_id", "to_stop_id", "from_route_id", "to_route_id", "from_trip_id", "to_trip_id", "transfer_type", "min_transfer_time"},
		ddl: `CREATE TABLE transfers (
			from_stop_id      TEXT NOT NULL,
			to_stop_id        TEXT NOT NULL,
			from_route_id     TEXT,
			to_route_id       TEXT,
			from_trip_id      TEXT,
			to_trip_id        TEXT,
			transfer_type     INTEGER,
			min_transfer_time INTEGER
		)`,
	},
}

// recreateSchema drops and recreates every base table inside tx
func recreateSchema(ctx context.Context, tx *db.Tx) error {
	for i := len(baseTables) - 1; i >= 0; i-- {
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+baseTables[i].name); err != nil {
			return fmt.Errorf("dropping %s: %w", baseTables[i].name, err)
		}
	}
	for _, t := range baseTables {
		if _, err := tx.ExecContext(ctx, t.ddl); err != nil {
			return fmt.Errorf("creating %s: %w", t.name, err)
		}
	}
	return nil
}

// createIndexes runs after the load so inserts do not maintain them row by row
func createIndexes(ctx context.Context, tx *db.Tx) error {
	for _, t := range baseTables {
		for _, ddl := range t.indexes {
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("indexing %s: %w", t.name, err)
			}
		}
	}
	return nil
}
