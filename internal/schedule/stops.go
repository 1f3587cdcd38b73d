package schedule

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/pkg/gtfs/models"
)

// SearchStops finds snapshot stops whose name contains query, ignoring case,
// ordered by name then id. A blank query or non-positive limit matches nothing.
func SearchStops(ctx context.Context, q db.Querier, snapshotID int, query string, limit int) ([]models.Stop, error) {
	query = strings.TrimSpace(query)
	if query == "" || limit <= 0 {
		return nil, nil
	}

	sqlQuery := fmt.Sprintf(`
		SELECT s.stop_id, s.stop_name, s.stop_lat, s.stop_lon, s.location_type, s.parent_station, s.platform_code
		FROM %s s
		WHERE %s
		ORDER BY s.stop_name, s.stop_id
		LIMIT ?`,
		db.RailTable(snapshotID, db.RailStops),
		q.Dialect().ContainsFold("s.stop_name"),
	)

	rows, err := q.QueryContext(ctx, sqlQuery, "%"+db.EscapeLike(query)+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("searching stops: %w", err)
	}
	defer rows.Close()

	var stops []models.Stop
	for rows.Next() {
		var (
			stop                   models.Stop
			name, parent, platform sql.NullString
			lat, lon               sql.NullFloat64
			locationType           sql.NullInt64
		)
		if err := rows.Scan(&stop.StopID, &name, &lat, &lon, &locationType, &parent, &platform); err != nil {
			return nil, fmt.Errorf("scanning stop: %w", err)
		}
		stop.StopName = name.String
		stop.ParentStation = parent.String
		stop.PlatformCode = platform.String
		if lat.Valid {
			stop.StopLat = &lat.Float64
		}
		if lon.Valid {
			stop.StopLon = &lon.Float64
		}
		if locationType.Valid {
			lt := int(locationType.Int64)
			stop.LocationType = &lt
		}
		stops = append(stops, stop)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating stops: %w", err)
	}
	return stops, nil
}

func stopIDs(stops []models.Stop) []string {
	ids := make([]string, len(stops))
	for i, s := range stops {
		ids[i] = s.StopID
	}
	return ids
}
