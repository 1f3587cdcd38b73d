package schedule

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/pkg/gtfs/models"
)

// ActiveServices returns the sorted service ids running on date in the given
// snapshot: weekly patterns whose window covers the date, plus services added
// for the date, minus services removed for it.
func ActiveServices(ctx context.Context, q db.Querier, snapshotID int, date time.Time) ([]string, error) {
	day := date.Format("2006-01-02")
	weekday := strings.ToLower(date.Weekday().String())

	// exception_type 0 tags the weekly calendar rows
	query := fmt.Sprintf(`
		SELECT service_id, 0 FROM %s
		WHERE start_date <= ? AND end_date >= ? AND %s = ?
		UNION ALL
		SELECT service_id, exception_type FROM %s
		WHERE date = ?`,
		db.RailTable(snapshotID, db.RailCalendar),
		weekday,
		db.RailTable(snapshotID, db.RailCalendarDates),
	)

	rows, err := q.QueryContext(ctx, query, day, day, true, day)
	if err != nil {
		return nil, fmt.Errorf("querying calendar for %s: %w", day, err)
	}
	defer rows.Close()

	var base, added, removed []string
	for rows.Next() {
		var serviceID string
		var kind int
		if err := rows.Scan(&serviceID, &kind); err != nil {
			return nil, fmt.Errorf("scanning calendar row: %w", err)
		}
		switch kind {
		case 0:
			base = append(base, serviceID)
		case models.ExceptionAdded:
			added = append(added, serviceID)
		case models.ExceptionRemoved:
			removed = append(removed, serviceID)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating calendar rows: %w", err)
	}

	return mergeServices(base, added, removed), nil
}

// mergeServices computes (base ∪ added) − removed. The union is taken first
// so a removal always beats an addition for the same service.
func mergeServices(base, added, removed []string) []string {
	set := make(map[string]struct{}, len(base)+len(added))
	for _, id := range base {
		set[id] = struct{}{}
	}
	for _, id := range added {
		set[id] = struct{}{}
	}
	for _, id := range removed {
		delete(set, id)
	}

	out := make([]string, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
