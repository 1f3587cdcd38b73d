package rail

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
	"github.com/railquery-data/pkg/gtfs/models"
)

// stage builds one snapshot table from the base tables or earlier stages.
// {routes} style tokens name this snapshot's tables.
type stage struct {
	table string
	query string
}

var stages = []stage{
	{
		table: db.RailRoutes,
		query: `SELECT * FROM routes WHERE route_type IN ({rail_types}) ORDER BY route_id`,
	},
	{
		table: db.RailTrips,
		query: `SELECT t.* FROM trips t
			WHERE t.route_id IN (SELECT route_id FROM {routes})
			ORDER BY t.trip_id`,
	},
	{
		table: db.RailStopTimes,
		query: `SELECT st.* FROM stop_times st
			WHERE st.trip_id IN (SELECT trip_id FROM {trips})
			  AND st.stop_id IN (SELECT stop_id FROM stops)
			ORDER BY st.trip_id, st.stop_sequence`,
	},
	{
		table: db.RailShapes,
		query: `SELECT sh.* FROM shapes sh
			WHERE sh.shape_id IN (SELECT shape_id FROM {trips} WHERE shape_id IS NOT NULL)
			ORDER BY sh.shape_id, sh.shape_pt_sequence`,
	},
	{
		table: db.RailStops,
		query: `SELECT s.* FROM stops s
			WHERE s.stop_id IN (SELECT stop_id FROM {stop_times})
			ORDER BY s.stop_id`,
	},
	{
		table: db.RailTransfers,
		query: `SELECT tr.* FROM transfers tr
			WHERE tr.from_stop_id IN (SELECT stop_id FROM {stops})
			  AND tr.to_stop_id IN (SELECT stop_id FROM {stops})
			ORDER BY tr.from_stop_id, tr.to_stop_id, tr.from_route_id, tr.to_route_id,
				tr.from_trip_id, tr.to_trip_id, tr.transfer_type, tr.min_transfer_time`,
	},
	{
		table: db.RailCalendar,
		query: `SELECT * FROM calendar ORDER BY service_id`,
	},
	{
		table: db.RailCalendarDates,
		query: `SELECT * FROM calendar_dates ORDER BY service_id, date, exception_type`,
	},
	{
		// Routes without agency_id belong to the feed's single agency
		table: db.RailRoutesWithAgency,
		query: `SELECT r.route_id, r.agency_id, r.route_short_name, r.route_long_name,
				r.route_type, r.route_color, r.route_text_color,
				a.agency_name, a.agency_url
			FROM {routes} r
			LEFT JOIN agency a ON a.agency_id = COALESCE(r.agency_id, '')
			ORDER BY r.route_id`,
	},
}

// Lookup indexes per snapshot table, built after the load
var snapshotIndexes = map[string][][]string{
	db.RailStopTimes: {
		{"stop_id", "stop_sequence"},
		{"trip_id", "stop_sequence"},
		{"departure_time"},
	},
	db.RailTrips: {
		{"trip_id"},
		{"route_id"},
		{"service_id"},
		{"shape_id"},
	},
	db.RailRoutes:           {{"route_id"}},
	db.RailStops:            {{"stop_id"}, {"stop_name"}},
	db.RailShapes:           {{"shape_id", "shape_pt_sequence"}},
	db.RailCalendar:         {{"service_id"}},
	db.RailCalendarDates:    {{"date"}},
	db.RailRoutesWithAgency: {{"route_id"}},
}

type Materializer struct {
	db       *db.DB
	registry *db.SnapshotRegistry
	logger   logger.Logger
	now      func() time.Time
}

func NewMaterializer(database *db.DB) *Materializer {
	return &Materializer{
		db:       database,
		registry: db.NewSnapshotRegistry(database),
		logger:   database.Logger().With("component", "rail"),
		now:      time.Now,
	}
}

// Materialize derives a new rail snapshot from the base tables and makes it
// the active one. The build, verification and cut-over share a single
// transaction; on any error the previous snapshot stays active.
func (m *Materializer) Materialize(ctx context.Context) (*models.SnapshotInfo, error) {
	start := m.now()

	if err := m.registry.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	tx, err := m.db.BeginTx(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := m.registry.NextSnapshotID(ctx, tx)
	if err != nil {
		return nil, err
	}
	info := &models.SnapshotInfo{
		SnapshotID: id,
		RunID:      uuid.NewString(),
		CreatedAt:  start,
	}
	log := m.logger.With("snapshot_id", id, "run_id", info.RunID)
	log.Info("Materializing rail snapshot")

	for _, st := range stages {
		table := db.RailTable(id, st.table)
		stageStart := time.Now()

		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return nil, fmt.Errorf("dropping %s: %w", table, err)
		}
		query := `CREATE TABLE ` + table + ` AS ` + expand(st.query, id)
		if _, err := tx.ExecContext(ctx, query); err != nil {
			return nil, fmt.Errorf("creating %s: %w", table, err)
		}

		rows, err := countTable(ctx, tx, table)
		if err != nil {
			return nil, err
		}
		log.Info("Stage complete",
			"table", table,
			"rows", rows,
			"duration", time.Since(stageStart))

		switch st.table {
		case db.RailRoutes:
			info.RouteCount = rows
		case db.RailTrips:
			info.TripCount = rows
		case db.RailStopTimes:
			info.StopTimeCount = rows
		case db.RailStops:
			info.StopCount = rows
		case db.RailShapes:
			info.ShapeCount = rows
		case db.RailTransfers:
			info.TransferCount = rows
		}
	}

	if err := createSnapshotIndexes(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := m.registry.CreateSnapshot(ctx, tx, info); err != nil {
		return nil, err
	}

	if err := VerifyClosure(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := m.registry.ActivateSnapshot(ctx, tx, id); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing snapshot: %w", err)
	}
	info.IsActive = true

	log.Info("Rail snapshot activated",
		"routes", info.RouteCount,
		"trips", info.TripCount,
		"stop_times", info.StopTimeCount,
		"stops", info.StopCount,
		"duration", time.Since(start))

	return info, nil
}

// expand substitutes snapshot table names and the rail type list into query
func expand(query string, id int) string {
	pairs := []string{"{rail_types}", railTypeList()}
	for _, base := range db.RailTables {
		pairs = append(pairs, "{"+base+"}", db.RailTable(id, base))
	}
	return strings.NewReplacer(pairs...).Replace(query)
}

func countTable(ctx context.Context, q db.Querier, table string) (int64, error) {
	var n int64
	if err := q.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", table, err)
	}
	return n, nil
}

func createSnapshotIndexes(ctx context.Context, q db.Querier, id int) error {
	for _, base := range db.RailTables {
		table := db.RailTable(id, base)
		for _, cols := range snapshotIndexes[base] {
			name := "idx_" + table + "_" + strings.Join(cols, "_")
			ddl := fmt.Sprintf(`CREATE INDEX %s ON %s (%s)`, name, table, strings.Join(cols, ", "))
			if _, err := q.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("indexing %s: %w", table, err)
			}
		}
	}
	return nil
}
