package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/railquery-data/pkg/gtfs/models"
)

// ErrNoSnapshot is returned when no rail snapshot has been activated yet
var ErrNoSnapshot = errors.New("no active rail snapshot")

// Base names of the tables every snapshot owns
const (
	RailRoutes           = "routes"
	RailTrips            = "trips"
	RailStopTimes        = "stop_times"
	RailShapes           = "shapes"
	RailStops            = "stops"
	RailTransfers        = "transfers"
	RailCalendar         = "calendar"
	RailCalendarDates    = "calendar_dates"
	RailRoutesWithAgency = "routes_with_agency"
)

// RailTables lists snapshot tables in build order
var RailTables = []string{
	RailRoutes,
	RailTrips,
	RailStopTimes,
	RailShapes,
	RailStops,
	RailTransfers,
	RailCalendar,
	RailCalendarDates,
	RailRoutesWithAgency,
}

// RailTable names a snapshot's copy of base, e.g. stop_times_rail_7
func RailTable(snapshotID int, base string) string {
	return fmt.Sprintf("%s_rail_%d", base, snapshotID)
}

const snapshotSchema = `
	CREATE TABLE IF NOT EXISTS rail_snapshots (
		snapshot_id     INTEGER PRIMARY KEY,
		run_id          TEXT NOT NULL,
		created_at      TEXT NOT NULL,
		is_active       BOOLEAN NOT NULL,
		route_count     BIGINT NOT NULL DEFAULT 0,
		trip_count      BIGINT NOT NULL DEFAULT 0,
		stop_time_count BIGINT NOT NULL DEFAULT 0,
		stop_count      BIGINT NOT NULL DEFAULT 0,
		shape_count     BIGINT NOT NULL DEFAULT 0,
		transfer_count  BIGINT NOT NULL DEFAULT 0
	)
`

const snapshotColumns = `snapshot_id, run_id, created_at, is_active, route_count, trip_count,
	stop_time_count, stop_count, shape_count, transfer_count`

type SnapshotRegistry struct {
	db *DB
}

func NewSnapshotRegistry(db *DB) *SnapshotRegistry {
	return &SnapshotRegistry{db: db}
}

func (r *SnapshotRegistry) EnsureSchema(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, snapshotSchema); err != nil {
		return fmt.Errorf("creating rail_snapshots: %w", err)
	}
	return nil
}

// GetActiveSnapshot returns ErrNoSnapshot when nothing has been activated
func (r *SnapshotRegistry) GetActiveSnapshot(ctx context.Context) (*models.SnapshotInfo, error) {
	query := `SELECT ` + snapshotColumns + ` FROM rail_snapshots WHERE is_active = ? LIMIT 1`

	info, err := scanSnapshot(r.db.QueryRowContext(ctx, query, true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNoSnapshot
	}
	if err != nil {
		// A store that has never been materialized has no registry table
		if exists, existsErr := r.registryExists(ctx); existsErr == nil && !exists {
			return nil, ErrNoSnapshot
		}
		return nil, fmt.Errorf("querying active snapshot: %w", err)
	}

	r.db.logger.Debug("Found active snapshot",
		"snapshot_id", info.SnapshotID,
		"run_id", info.RunID)

	return info, nil
}

func (r *SnapshotRegistry) registryExists(ctx context.Context) (bool, error) {
	var query string
	if r.db.dialect == Postgres {
		query = `SELECT COUNT(*) FROM information_schema.tables WHERE table_name = 'rail_snapshots'`
	} else {
		query = `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'rail_snapshots'`
	}
	var n int
	if err := r.db.QueryRowContext(ctx, query).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListSnapshots returns all registered snapshots, newest first
func (r *SnapshotRegistry) ListSnapshots(ctx context.Context) ([]models.SnapshotInfo, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM rail_snapshots ORDER BY snapshot_id DESC`)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var out []models.SnapshotInfo
	for rows.Next() {
		info, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		out = append(out, *info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return out, nil
}

// NextSnapshotID allocates the id for a new run. Callers hold the
// maintenance window, so MAX+1 cannot race with another writer.
func (r *SnapshotRegistry) NextSnapshotID(ctx context.Context, tx *Tx) (int, error) {
	var maxID sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(snapshot_id) FROM rail_snapshots`).Scan(&maxID); err != nil {
		return 0, fmt.Errorf("allocating snapshot id: %w", err)
	}
	return int(maxID.Int64) + 1, nil
}

// CreateSnapshot registers an inactive snapshot
func (r *SnapshotRegistry) CreateSnapshot(ctx context.Context, tx *Tx, info *models.SnapshotInfo) error {
	query := `
		INSERT INTO rail_snapshots (` + snapshotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := tx.ExecContext(ctx, query,
		info.SnapshotID,
		info.RunID,
		info.CreatedAt.UTC().Format(time.RFC3339),
		false,
		info.RouteCount,
		info.TripCount,
		info.StopTimeCount,
		info.StopCount,
		info.ShapeCount,
		info.TransferCount,
	)
	if err != nil {
		return fmt.Errorf("creating snapshot: %w", err)
	}

	r.db.logger.Info("Created new snapshot",
		"snapshot_id", info.SnapshotID,
		"run_id", info.RunID)

	return nil
}

// ActivateSnapshot makes id the only active snapshot
func (r *SnapshotRegistry) ActivateSnapshot(ctx context.Context, tx *Tx, id int) error {
	// Deactivate all snapshots
	if _, err := tx.ExecContext(ctx, `UPDATE rail_snapshots SET is_active = ? WHERE is_active = ?`, false, true); err != nil {
		return fmt.Errorf("deactivating snapshots: %w", err)
	}

	// Activate the specified snapshot
	result, err := tx.ExecContext(ctx, `UPDATE rail_snapshots SET is_active = ? WHERE snapshot_id = ?`, true, id)
	if err != nil {
		return fmt.Errorf("activating snapshot: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}

	if rows == 0 {
		return fmt.Errorf("snapshot %d not found", id)
	}

	r.db.logger.Info("Activated snapshot", "snapshot_id", id)
	return nil
}

// DeleteSnapshot drops a snapshot's tables and its registry row
func (r *SnapshotRegistry) DeleteSnapshot(ctx context.Context, tx *Tx, id int) error {
	for i := len(RailTables) - 1; i >= 0; i-- {
		table := RailTable(id, RailTables[i])
		if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+table); err != nil {
			return fmt.Errorf("dropping %s: %w", table, err)
		}
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM rail_snapshots WHERE snapshot_id = ?`, id); err != nil {
		return fmt.Errorf("deleting snapshot %d: %w", id, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSnapshot(row rowScanner) (*models.SnapshotInfo, error) {
	var info models.SnapshotInfo
	var createdAt string
	err := row.Scan(
		&info.SnapshotID,
		&info.RunID,
		&createdAt,
		&info.IsActive,
		&info.RouteCount,
		&info.TripCount,
		&info.StopTimeCount,
		&info.StopCount,
		&info.ShapeCount,
		&info.TransferCount,
	)
	if err != nil {
		return nil, err
	}
	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		info.CreatedAt = t
	}
	return &info, nil
}
