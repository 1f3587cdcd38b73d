package rail

import (
	"context"
	"fmt"
	"strings"

	"github.com/railquery-data/internal/common/db"
)

// ClosureError lists the referential checks a snapshot failed
type ClosureError struct {
	SnapshotID int
	Violations map[string]int64
}

func (e *ClosureError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, check := range closureChecks {
		if n, ok := e.Violations[check.name]; ok {
			parts = append(parts, fmt.Sprintf("%s=%d", check.name, n))
		}
	}
	return fmt.Sprintf("rail snapshot %d is not referentially closed: %s", e.SnapshotID, strings.Join(parts, ", "))
}

var closureChecks = []struct {
	name  string
	query string
}{
	{
		name: "trip_route",
		query: `SELECT COUNT(*) FROM {trips} t
			WHERE NOT EXISTS (SELECT 1 FROM {routes} r WHERE r.route_id = t.route_id)`,
	},
	{
		name: "stop_time_trip",
		query: `SELECT COUNT(*) FROM {stop_times} st
			WHERE NOT EXISTS (SELECT 1 FROM {trips} t WHERE t.trip_id = st.trip_id)`,
	},
	{
		name: "stop_time_stop",
		query: `SELECT COUNT(*) FROM {stop_times} st
			WHERE NOT EXISTS (SELECT 1 FROM {stops} s WHERE s.stop_id = st.stop_id)`,
	},
	{
		name: "transfer_stop",
		query: `SELECT COUNT(*) FROM {transfers} tr
			WHERE NOT EXISTS (SELECT 1 FROM {stops} s WHERE s.stop_id = tr.from_stop_id)
			   OR NOT EXISTS (SELECT 1 FROM {stops} s WHERE s.stop_id = tr.to_stop_id)`,
	},
	{
		name: "unreferenced_stop",
		query: `SELECT COUNT(*) FROM {stops} s
			WHERE NOT EXISTS (SELECT 1 FROM {stop_times} st WHERE st.stop_id = s.stop_id)`,
	},
}

// VerifyClosure checks that the snapshot has no dangling references and no
// stops without visits. It returns *ClosureError when any check fails.
func VerifyClosure(ctx context.Context, q db.Querier, snapshotID int) error {
	violations := make(map[string]int64)
	for _, check := range closureChecks {
		var n int64
		if err := q.QueryRowContext(ctx, expand(check.query, snapshotID)).Scan(&n); err != nil {
			return fmt.Errorf("checking %s closure: %w", check.name, err)
		}
		if n > 0 {
			violations[check.name] = n
		}
	}
	if len(violations) > 0 {
		return &ClosureError{SnapshotID: snapshotID, Violations: violations}
	}
	return nil
}
